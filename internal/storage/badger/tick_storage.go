package badger

import (
	"context"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/bobmcallan/pulse/internal/common"
	"github.com/bobmcallan/pulse/internal/interfaces"
	"github.com/bobmcallan/pulse/internal/models"
)

// Distinct record types give the raw and filtered tiers separate tables
// while sharing the Tick field layout. A filtered row is always a copy
// of a raw row written in the same transaction.
type (
	rawTickRecord      models.Tick
	filteredTickRecord models.Tick
)

func tickKey(marketID, ts int64) string {
	return fmt.Sprintf("%d:%013d", marketID, ts)
}

type tickStorage struct {
	store  *Store
	logger *common.Logger
}

// NewTickStorage creates a TickStorage backed by BadgerHold.
func NewTickStorage(store *Store, logger *common.Logger) interfaces.TickStorage {
	return &tickStorage{store: store, logger: logger}
}

func (s *tickStorage) AppendTick(_ context.Context, tick *models.Tick, accepted bool) error {
	if tick == nil || tick.MarketID == 0 {
		return fmt.Errorf("tick requires a market id")
	}

	key := tickKey(tick.MarketID, tick.TS)

	err := s.store.db.Badger().Update(func(tx *badgerdb.Txn) error {
		raw := rawTickRecord(*tick)
		if err := s.store.db.TxUpsert(tx, key, &raw); err != nil {
			return fmt.Errorf("raw append: %w", err)
		}
		if err := s.pruneRaw(tx, tick.MarketID); err != nil {
			return err
		}

		if accepted {
			filtered := filteredTickRecord(*tick)
			if err := s.store.db.TxUpsert(tx, key, &filtered); err != nil {
				return fmt.Errorf("filtered append: %w", err)
			}
			if err := s.pruneFiltered(tx, tick.MarketID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append tick for market %d: %w", tick.MarketID, err)
	}

	s.logger.Debug().
		Int64("market_id", tick.MarketID).
		Int64("ts", tick.TS).
		Bool("accepted", accepted).
		Msg("Tick appended")
	return nil
}

func (s *tickStorage) pruneRaw(tx *badgerdb.Txn, marketID int64) error {
	var tail []rawTickRecord
	query := badgerhold.Where("MarketID").Eq(marketID).
		SortBy("TS").Reverse().Skip(models.RawTickRetention)
	if err := s.store.db.TxFind(tx, &tail, query); err != nil {
		return fmt.Errorf("raw retention scan: %w", err)
	}
	for i := range tail {
		key := tickKey(tail[i].MarketID, tail[i].TS)
		if err := s.store.db.TxDelete(tx, key, rawTickRecord{}); err != nil && err != badgerhold.ErrNotFound {
			return fmt.Errorf("raw retention delete: %w", err)
		}
	}
	return nil
}

func (s *tickStorage) pruneFiltered(tx *badgerdb.Txn, marketID int64) error {
	var tail []filteredTickRecord
	query := badgerhold.Where("MarketID").Eq(marketID).
		SortBy("TS").Reverse().Skip(models.FilteredTickRetention)
	if err := s.store.db.TxFind(tx, &tail, query); err != nil {
		return fmt.Errorf("filtered retention scan: %w", err)
	}
	for i := range tail {
		key := tickKey(tail[i].MarketID, tail[i].TS)
		if err := s.store.db.TxDelete(tx, key, filteredTickRecord{}); err != nil && err != badgerhold.ErrNotFound {
			return fmt.Errorf("filtered retention delete: %w", err)
		}
	}
	return nil
}

func (s *tickStorage) LatestRawTick(_ context.Context, marketID int64) (*models.Tick, error) {
	var records []rawTickRecord
	query := badgerhold.Where("MarketID").Eq(marketID).SortBy("TS").Reverse().Limit(1)
	if err := s.store.db.Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to get latest raw tick for market %d: %w", marketID, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	tick := models.Tick(records[0])
	return &tick, nil
}

func (s *tickStorage) RecentRawTicks(_ context.Context, marketID int64, limit int) ([]*models.Tick, error) {
	var records []rawTickRecord
	query := badgerhold.Where("MarketID").Eq(marketID).SortBy("TS").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.store.db.Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to get raw ticks for market %d: %w", marketID, err)
	}
	return chronological(records), nil
}

func (s *tickStorage) FilteredHistory(_ context.Context, marketID int64, limit int) ([]*models.Tick, error) {
	var records []filteredTickRecord
	query := badgerhold.Where("MarketID").Eq(marketID).SortBy("TS").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.store.db.Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to get filtered ticks for market %d: %w", marketID, err)
	}
	return chronologicalFiltered(records), nil
}

// chronological flips a newest-first result into oldest-first ticks.
func chronological(records []rawTickRecord) []*models.Tick {
	out := make([]*models.Tick, len(records))
	for i := range records {
		tick := models.Tick(records[len(records)-1-i])
		out[i] = &tick
	}
	return out
}

func chronologicalFiltered(records []filteredTickRecord) []*models.Tick {
	out := make([]*models.Tick, len(records))
	for i := range records {
		tick := models.Tick(records[len(records)-1-i])
		out[i] = &tick
	}
	return out
}

var _ interfaces.TickStorage = (*tickStorage)(nil)
