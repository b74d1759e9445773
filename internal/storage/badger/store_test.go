package badger

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/bobmcallan/pulse/internal/common"
	"github.com/bobmcallan/pulse/internal/models"
)

// --- Test helpers ---

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	logger := common.NewLogger("error")
	store, err := NewStore(logger, filepath.Join(dir, "badger"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testLogger() *common.Logger {
	return common.NewLogger("error")
}

func testTick(marketID, ts int64, price, volume, delta float64) *models.Tick {
	return &models.Tick{MarketID: marketID, TS: ts, YesPrice: price, Volume: volume, DeltaVolume: delta}
}

// --- Store tests ---

func TestStore_OpenClose(t *testing.T) {
	dir := t.TempDir()
	logger := testLogger()
	store, err := NewStore(logger, filepath.Join(dir, "badger"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if store.DB() == nil {
		t.Fatal("expected non-nil DB")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestStore_CloseNilDB(t *testing.T) {
	store := &Store{}
	if err := store.Close(); err != nil {
		t.Fatalf("Close on nil DB should not error: %v", err)
	}
}

// --- Stream storage tests ---

func TestStreamStorage_UpsertGet(t *testing.T) {
	store := newTestStore(t)
	ss := NewStreamStorage(store, testLogger())
	ctx := context.Background()

	got, err := ss.GetStream(ctx, 99)
	if err != nil {
		t.Fatalf("GetStream failed: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil for unknown stream")
	}

	stream := &models.Stream{
		MarketID:   7,
		YesTokenID: "0xdeadbeef",
		Title:      "Will X happen?",
		TopicID:    "123",
		ChainID:    56,
		CutoffAt:   1800000000000,
	}
	if err := ss.UpsertStream(ctx, stream); err != nil {
		t.Fatalf("UpsertStream failed: %v", err)
	}
	if stream.UpdatedAt == 0 {
		t.Fatal("UpsertStream should stamp UpdatedAt")
	}

	got, err = ss.GetStream(ctx, 7)
	if err != nil {
		t.Fatalf("GetStream failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected stream")
	}
	if got.YesTokenID != "0xdeadbeef" || got.Title != "Will X happen?" || got.ChainID != 56 {
		t.Errorf("round-trip mismatch: %+v", got)
	}
}

func TestStreamStorage_UpsertPreservesCutoff(t *testing.T) {
	store := newTestStore(t)
	ss := NewStreamStorage(store, testLogger())
	ctx := context.Background()

	first := &models.Stream{MarketID: 7, YesTokenID: "0xa", Title: "t", CutoffAt: 1800000000000}
	if err := ss.UpsertStream(ctx, first); err != nil {
		t.Fatalf("UpsertStream failed: %v", err)
	}

	// A later reconcile that did not see a cutoff keeps the stored one.
	second := &models.Stream{MarketID: 7, YesTokenID: "0xa", Title: "t2"}
	if err := ss.UpsertStream(ctx, second); err != nil {
		t.Fatalf("UpsertStream failed: %v", err)
	}

	got, err := ss.GetStream(ctx, 7)
	if err != nil {
		t.Fatalf("GetStream failed: %v", err)
	}
	if got.CutoffAt != 1800000000000 {
		t.Errorf("CutoffAt = %d, want preserved 1800000000000", got.CutoffAt)
	}
	if got.Title != "t2" {
		t.Errorf("Title = %q, want updated t2", got.Title)
	}

	// A reconcile with a fresh cutoff overwrites.
	third := &models.Stream{MarketID: 7, YesTokenID: "0xa", Title: "t3", CutoffAt: 1900000000000}
	if err := ss.UpsertStream(ctx, third); err != nil {
		t.Fatalf("UpsertStream failed: %v", err)
	}
	got, _ = ss.GetStream(ctx, 7)
	if got.CutoffAt != 1900000000000 {
		t.Errorf("CutoffAt = %d, want 1900000000000", got.CutoffAt)
	}
}

func TestStreamStorage_ListAndCount(t *testing.T) {
	store := newTestStore(t)
	ss := NewStreamStorage(store, testLogger())
	ctx := context.Background()

	for _, id := range []int64{30, 10, 20} {
		s := &models.Stream{MarketID: id, YesTokenID: fmt.Sprintf("0x%d", id), Title: fmt.Sprintf("m%d", id)}
		if err := ss.UpsertStream(ctx, s); err != nil {
			t.Fatalf("UpsertStream(%d) failed: %v", id, err)
		}
	}

	streams, err := ss.ListStreams(ctx)
	if err != nil {
		t.Fatalf("ListStreams failed: %v", err)
	}
	if len(streams) != 3 {
		t.Fatalf("expected 3 streams, got %d", len(streams))
	}
	for i, want := range []int64{10, 20, 30} {
		if streams[i].MarketID != want {
			t.Errorf("streams[%d].MarketID = %d, want %d", i, streams[i].MarketID, want)
		}
	}

	count, err := ss.CountStreams(ctx)
	if err != nil {
		t.Fatalf("CountStreams failed: %v", err)
	}
	if count != 3 {
		t.Errorf("CountStreams = %d, want 3", count)
	}
}

func TestStreamStorage_RejectsZeroID(t *testing.T) {
	store := newTestStore(t)
	ss := NewStreamStorage(store, testLogger())
	if err := ss.UpsertStream(context.Background(), &models.Stream{}); err == nil {
		t.Fatal("expected error for zero market id")
	}
}

// --- Tick storage tests ---

func TestTickStorage_AppendAndRead(t *testing.T) {
	store := newTestStore(t)
	ts := NewTickStorage(store, testLogger())
	ctx := context.Background()

	latest, err := ts.LatestRawTick(ctx, 1)
	if err != nil {
		t.Fatalf("LatestRawTick failed: %v", err)
	}
	if latest != nil {
		t.Fatal("expected nil latest tick for empty market")
	}

	// Raw-only append (below the acceptance gate).
	if err := ts.AppendTick(ctx, testTick(1, 1000, 0.50, 100, 0), false); err != nil {
		t.Fatalf("AppendTick failed: %v", err)
	}
	// Accepted append lands in both tiers.
	if err := ts.AppendTick(ctx, testTick(1, 2000, 0.52, 4000, 90), true); err != nil {
		t.Fatalf("AppendTick failed: %v", err)
	}

	latest, err = ts.LatestRawTick(ctx, 1)
	if err != nil {
		t.Fatalf("LatestRawTick failed: %v", err)
	}
	if latest == nil || latest.TS != 2000 {
		t.Fatalf("LatestRawTick = %+v, want TS 2000", latest)
	}

	raw, err := ts.RecentRawTicks(ctx, 1, 0)
	if err != nil {
		t.Fatalf("RecentRawTicks failed: %v", err)
	}
	if len(raw) != 2 {
		t.Fatalf("expected 2 raw ticks, got %d", len(raw))
	}
	if raw[0].TS != 1000 || raw[1].TS != 2000 {
		t.Errorf("raw ticks not chronological: %d, %d", raw[0].TS, raw[1].TS)
	}

	filtered, err := ts.FilteredHistory(ctx, 1, 0)
	if err != nil {
		t.Fatalf("FilteredHistory failed: %v", err)
	}
	if len(filtered) != 1 {
		t.Fatalf("expected 1 filtered tick, got %d", len(filtered))
	}
	if filtered[0].TS != 2000 {
		t.Errorf("filtered tick TS = %d, want 2000", filtered[0].TS)
	}
}

func TestTickStorage_FilteredIsSubsequenceOfRaw(t *testing.T) {
	store := newTestStore(t)
	ts := NewTickStorage(store, testLogger())
	ctx := context.Background()

	for i := int64(0); i < 30; i++ {
		accepted := i%3 == 0
		if err := ts.AppendTick(ctx, testTick(5, 1000+i*60000, 0.5, float64(3000+i), 100), accepted); err != nil {
			t.Fatalf("AppendTick failed: %v", err)
		}
	}

	raw, err := ts.RecentRawTicks(ctx, 5, 0)
	if err != nil {
		t.Fatalf("RecentRawTicks failed: %v", err)
	}
	filtered, err := ts.FilteredHistory(ctx, 5, 0)
	if err != nil {
		t.Fatalf("FilteredHistory failed: %v", err)
	}
	if len(filtered) != 10 {
		t.Fatalf("expected 10 filtered ticks, got %d", len(filtered))
	}

	rawByTS := make(map[int64]*models.Tick, len(raw))
	for _, tick := range raw {
		rawByTS[tick.TS] = tick
	}
	for _, tick := range filtered {
		match, ok := rawByTS[tick.TS]
		if !ok {
			t.Fatalf("filtered tick TS %d has no raw counterpart", tick.TS)
		}
		if match.YesPrice != tick.YesPrice || match.Volume != tick.Volume {
			t.Errorf("filtered tick TS %d differs from raw: %+v vs %+v", tick.TS, tick, match)
		}
	}
}

func TestTickStorage_RawRetention(t *testing.T) {
	store := newTestStore(t)
	ts := NewTickStorage(store, testLogger())
	ctx := context.Background()

	total := models.RawTickRetention + 25
	for i := 0; i < total; i++ {
		tick := testTick(9, int64(1000+i*60000), 0.5, float64(i), 1)
		if err := ts.AppendTick(ctx, tick, false); err != nil {
			t.Fatalf("AppendTick %d failed: %v", i, err)
		}
	}

	raw, err := ts.RecentRawTicks(ctx, 9, 0)
	if err != nil {
		t.Fatalf("RecentRawTicks failed: %v", err)
	}
	if len(raw) != models.RawTickRetention {
		t.Fatalf("raw count = %d, want %d", len(raw), models.RawTickRetention)
	}
	// The oldest rows were pruned, the newest kept.
	wantOldest := int64(1000 + 25*60000)
	if raw[0].TS != wantOldest {
		t.Errorf("oldest retained TS = %d, want %d", raw[0].TS, wantOldest)
	}
	wantNewest := int64(1000 + (total-1)*60000)
	if raw[len(raw)-1].TS != wantNewest {
		t.Errorf("newest retained TS = %d, want %d", raw[len(raw)-1].TS, wantNewest)
	}

	// Other markets are untouched by pruning.
	if err := ts.AppendTick(ctx, testTick(10, 777, 0.4, 1, 0), false); err != nil {
		t.Fatalf("AppendTick failed: %v", err)
	}
	other, err := ts.RecentRawTicks(ctx, 10, 0)
	if err != nil {
		t.Fatalf("RecentRawTicks failed: %v", err)
	}
	if len(other) != 1 {
		t.Errorf("market 10 count = %d, want 1", len(other))
	}
}

func TestTickStorage_FilteredRetention(t *testing.T) {
	store := newTestStore(t)
	ts := NewTickStorage(store, testLogger())
	ctx := context.Background()

	total := models.FilteredTickRetention + 10
	for i := 0; i < total; i++ {
		tick := testTick(3, int64(1000+i*60000), 0.5, float64(5000+i), 100)
		if err := ts.AppendTick(ctx, tick, true); err != nil {
			t.Fatalf("AppendTick %d failed: %v", i, err)
		}
	}

	filtered, err := ts.FilteredHistory(ctx, 3, 0)
	if err != nil {
		t.Fatalf("FilteredHistory failed: %v", err)
	}
	if len(filtered) != models.FilteredTickRetention {
		t.Fatalf("filtered count = %d, want %d", len(filtered), models.FilteredTickRetention)
	}

	// The raw tier keeps more history than the filtered tier.
	raw, err := ts.RecentRawTicks(ctx, 3, 0)
	if err != nil {
		t.Fatalf("RecentRawTicks failed: %v", err)
	}
	if len(raw) != total {
		t.Fatalf("raw count = %d, want %d", len(raw), total)
	}
}

func TestTickStorage_ReadLimit(t *testing.T) {
	store := newTestStore(t)
	ts := NewTickStorage(store, testLogger())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := ts.AppendTick(ctx, testTick(2, int64(1000+i*60000), 0.5, 1, 0), true); err != nil {
			t.Fatalf("AppendTick failed: %v", err)
		}
	}

	raw, err := ts.RecentRawTicks(ctx, 2, 3)
	if err != nil {
		t.Fatalf("RecentRawTicks failed: %v", err)
	}
	if len(raw) != 3 {
		t.Fatalf("limited read = %d ticks, want 3", len(raw))
	}
	// The limit selects the newest rows, returned chronologically.
	if raw[0].TS != int64(1000+7*60000) || raw[2].TS != int64(1000+9*60000) {
		t.Errorf("limited window = [%d..%d], want newest 3", raw[0].TS, raw[2].TS)
	}
}

// --- EWMA storage tests ---

func TestEWMAStorage_GetAbsent(t *testing.T) {
	store := newTestStore(t)
	es := NewEWMAStorage(store, testLogger())

	state, err := es.GetEWMAState(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetEWMAState failed: %v", err)
	}
	if state != nil {
		t.Fatal("expected nil state for unknown market")
	}
}

func TestEWMAStorage_SaveGet(t *testing.T) {
	store := newTestStore(t)
	es := NewEWMAStorage(store, testLogger())
	ctx := context.Background()

	in := &models.EWMAState{
		MarketID:   4,
		PriceMean:  0.55,
		PriceVar:   0.0004,
		VolumeMean: 42,
		VolumeVar:  100,
		LastPrice:  0.56,
		TickCount:  33,
	}
	if err := es.SaveEWMAState(ctx, in); err != nil {
		t.Fatalf("SaveEWMAState failed: %v", err)
	}

	got, err := es.GetEWMAState(ctx, 4)
	if err != nil {
		t.Fatalf("GetEWMAState failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected state")
	}
	if got.PriceMean != 0.55 || got.TickCount != 33 || got.LastPrice != 0.56 {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if got.UpdatedAt == 0 {
		t.Error("SaveEWMAState should stamp UpdatedAt")
	}
}

func TestEWMAStorage_UpdateColdStart(t *testing.T) {
	store := newTestStore(t)
	es := NewEWMAStorage(store, testLogger())
	ctx := context.Background()

	err := es.UpdateEWMAState(ctx, 8, func(state *models.EWMAState) error {
		if state.TickCount != 0 {
			t.Errorf("expected zero sentinel, got %+v", state)
		}
		state.PriceMean = 0.5
		state.TickCount = 1
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateEWMAState failed: %v", err)
	}

	got, err := es.GetEWMAState(ctx, 8)
	if err != nil {
		t.Fatalf("GetEWMAState failed: %v", err)
	}
	if got == nil || got.TickCount != 1 || got.PriceMean != 0.5 {
		t.Fatalf("state after cold update = %+v", got)
	}

	// Second update sees the persisted state.
	err = es.UpdateEWMAState(ctx, 8, func(state *models.EWMAState) error {
		if state.TickCount != 1 {
			t.Errorf("expected TickCount 1, got %d", state.TickCount)
		}
		state.TickCount++
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateEWMAState failed: %v", err)
	}
	got, _ = es.GetEWMAState(ctx, 8)
	if got.TickCount != 2 {
		t.Errorf("TickCount = %d, want 2", got.TickCount)
	}
}

func TestEWMAStorage_UpdateFnErrorAborts(t *testing.T) {
	store := newTestStore(t)
	es := NewEWMAStorage(store, testLogger())
	ctx := context.Background()

	if err := es.SaveEWMAState(ctx, &models.EWMAState{MarketID: 8, TickCount: 5}); err != nil {
		t.Fatalf("SaveEWMAState failed: %v", err)
	}

	err := es.UpdateEWMAState(ctx, 8, func(state *models.EWMAState) error {
		state.TickCount = 999
		return fmt.Errorf("boom")
	})
	if err == nil {
		t.Fatal("expected error from fn to propagate")
	}

	got, _ := es.GetEWMAState(ctx, 8)
	if got.TickCount != 5 {
		t.Errorf("TickCount = %d after aborted update, want 5", got.TickCount)
	}
}

// --- Alert storage tests ---

func TestAlertStorage_StateRoundTrip(t *testing.T) {
	store := newTestStore(t)
	as := NewAlertStorage(store, testLogger())
	ctx := context.Background()

	state, err := as.GetAlertState(ctx, 1)
	if err != nil {
		t.Fatalf("GetAlertState failed: %v", err)
	}
	if state != nil {
		t.Fatal("expected nil for never-alerted market")
	}

	in := &models.AlertState{MarketID: 1, LastAlertAt: 1700000000000, LastAlertHash: "1:3.10:0.190"}
	if err := as.SaveAlertState(ctx, in); err != nil {
		t.Fatalf("SaveAlertState failed: %v", err)
	}

	got, err := as.GetAlertState(ctx, 1)
	if err != nil {
		t.Fatalf("GetAlertState failed: %v", err)
	}
	if got == nil || got.LastAlertAt != 1700000000000 || got.LastAlertHash != "1:3.10:0.190" {
		t.Errorf("round-trip mismatch: %+v", got)
	}
}

func TestAlertStorage_EventsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	as := NewAlertStorage(store, testLogger())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		event := &models.AlertEvent{
			ID:       fmt.Sprintf("evt-%d", i),
			MarketID: int64(i),
			Title:    fmt.Sprintf("market %d", i),
			SentAt:   int64(1700000000000 + i*1000),
		}
		if err := as.AppendAlertEvent(ctx, event); err != nil {
			t.Fatalf("AppendAlertEvent failed: %v", err)
		}
	}

	events, err := as.ListAlertEvents(ctx, 3)
	if err != nil {
		t.Fatalf("ListAlertEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].ID != "evt-4" || events[2].ID != "evt-2" {
		t.Errorf("events not newest-first: %s, %s, %s", events[0].ID, events[1].ID, events[2].ID)
	}
}

func TestAlertStorage_EventRetention(t *testing.T) {
	store := newTestStore(t)
	as := NewAlertStorage(store, testLogger())
	ctx := context.Background()

	total := models.AlertEventRetention + 7
	for i := 0; i < total; i++ {
		event := &models.AlertEvent{
			ID:     fmt.Sprintf("evt-%04d", i),
			SentAt: int64(1700000000000 + i*1000),
		}
		if err := as.AppendAlertEvent(ctx, event); err != nil {
			t.Fatalf("AppendAlertEvent %d failed: %v", i, err)
		}
	}

	events, err := as.ListAlertEvents(ctx, 0)
	if err != nil {
		t.Fatalf("ListAlertEvents failed: %v", err)
	}
	if len(events) != models.AlertEventRetention {
		t.Fatalf("event count = %d, want %d", len(events), models.AlertEventRetention)
	}
	if events[0].ID != fmt.Sprintf("evt-%04d", total-1) {
		t.Errorf("newest event = %s, want evt-%04d", events[0].ID, total-1)
	}
}
