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

type alertStorage struct {
	store  *Store
	logger *common.Logger
}

// NewAlertStorage creates an AlertStorage backed by BadgerHold.
func NewAlertStorage(store *Store, logger *common.Logger) interfaces.AlertStorage {
	return &alertStorage{store: store, logger: logger}
}

func (s *alertStorage) GetAlertState(_ context.Context, marketID int64) (*models.AlertState, error) {
	var state models.AlertState
	err := s.store.db.Get(marketID, &state)
	if err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get alert state for market %d: %w", marketID, err)
	}
	return &state, nil
}

func (s *alertStorage) SaveAlertState(_ context.Context, state *models.AlertState) error {
	if state == nil || state.MarketID == 0 {
		return fmt.Errorf("alert state requires a market id")
	}
	if err := s.store.db.Upsert(state.MarketID, state); err != nil {
		return fmt.Errorf("failed to save alert state for market %d: %w", state.MarketID, err)
	}
	s.logger.Debug().Int64("market_id", state.MarketID).Str("hash", state.LastAlertHash).Msg("Alert state saved")
	return nil
}

func (s *alertStorage) AppendAlertEvent(_ context.Context, event *models.AlertEvent) error {
	if event == nil || event.ID == "" {
		return fmt.Errorf("alert event requires an id")
	}

	err := s.store.db.Badger().Update(func(tx *badgerdb.Txn) error {
		if err := s.store.db.TxUpsert(tx, event.ID, event); err != nil {
			return fmt.Errorf("append: %w", err)
		}

		// Global bound on delivered-alert history.
		var tail []models.AlertEvent
		query := badgerhold.Where("ID").Ne("").SortBy("SentAt").Reverse().Skip(models.AlertEventRetention)
		if err := s.store.db.TxFind(tx, &tail, query); err != nil {
			return fmt.Errorf("retention scan: %w", err)
		}
		for i := range tail {
			if err := s.store.db.TxDelete(tx, tail[i].ID, models.AlertEvent{}); err != nil && err != badgerhold.ErrNotFound {
				return fmt.Errorf("retention delete: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append alert event: %w", err)
	}
	return nil
}

func (s *alertStorage) ListAlertEvents(_ context.Context, limit int) ([]*models.AlertEvent, error) {
	var events []models.AlertEvent
	query := badgerhold.Where("ID").Ne("").SortBy("SentAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.store.db.Find(&events, query); err != nil {
		return nil, fmt.Errorf("failed to list alert events: %w", err)
	}

	out := make([]*models.AlertEvent, len(events))
	for i := range events {
		out[i] = &events[i]
	}
	return out, nil
}

var _ interfaces.AlertStorage = (*alertStorage)(nil)
