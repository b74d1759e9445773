package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bobmcallan/pulse/internal/common"
	"github.com/bobmcallan/pulse/internal/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := common.NewDefaultConfig()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "badger")

	logger := common.NewLogger("error")
	manager, err := NewManager(logger, cfg)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() { manager.Close() })
	return manager
}

func TestManager_Accessors(t *testing.T) {
	m := newTestManager(t)

	if m.StreamStorage() == nil {
		t.Error("StreamStorage is nil")
	}
	if m.TickStorage() == nil {
		t.Error("TickStorage is nil")
	}
	if m.EWMAStorage() == nil {
		t.Error("EWMAStorage is nil")
	}
	if m.AlertStorage() == nil {
		t.Error("AlertStorage is nil")
	}
}

func TestManager_StoragesShareStore(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	stream := &models.Stream{MarketID: 11, YesTokenID: "0xb", Title: "shared"}
	if err := m.StreamStorage().UpsertStream(ctx, stream); err != nil {
		t.Fatalf("UpsertStream failed: %v", err)
	}

	tick := &models.Tick{MarketID: 11, TS: 1000, YesPrice: 0.5, Volume: 9000, DeltaVolume: 100}
	if err := m.TickStorage().AppendTick(ctx, tick, true); err != nil {
		t.Fatalf("AppendTick failed: %v", err)
	}

	got, err := m.StreamStorage().GetStream(ctx, 11)
	if err != nil {
		t.Fatalf("GetStream failed: %v", err)
	}
	if got == nil || got.Title != "shared" {
		t.Fatalf("stream = %+v, want title shared", got)
	}

	latest, err := m.TickStorage().LatestRawTick(ctx, 11)
	if err != nil {
		t.Fatalf("LatestRawTick failed: %v", err)
	}
	if latest == nil || latest.TS != 1000 {
		t.Fatalf("tick = %+v, want TS 1000", latest)
	}
}

func TestManager_Close(t *testing.T) {
	cfg := common.NewDefaultConfig()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "badger")

	logger := common.NewLogger("error")
	manager, err := NewManager(logger, cfg)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}
