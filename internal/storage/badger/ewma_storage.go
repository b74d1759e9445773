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

type ewmaStorage struct {
	store  *Store
	logger *common.Logger
}

// NewEWMAStorage creates an EWMAStorage backed by BadgerHold.
func NewEWMAStorage(store *Store, logger *common.Logger) interfaces.EWMAStorage {
	return &ewmaStorage{store: store, logger: logger}
}

func (s *ewmaStorage) GetEWMAState(_ context.Context, marketID int64) (*models.EWMAState, error) {
	var state models.EWMAState
	err := s.store.db.Get(marketID, &state)
	if err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ewma state for market %d: %w", marketID, err)
	}
	return &state, nil
}

func (s *ewmaStorage) SaveEWMAState(_ context.Context, state *models.EWMAState) error {
	if state == nil || state.MarketID == 0 {
		return fmt.Errorf("ewma state requires a market id")
	}
	state.UpdatedAt = common.NowMillis()
	if err := s.store.db.Upsert(state.MarketID, state); err != nil {
		return fmt.Errorf("failed to save ewma state for market %d: %w", state.MarketID, err)
	}
	return nil
}

func (s *ewmaStorage) UpdateEWMAState(_ context.Context, marketID int64, fn func(state *models.EWMAState) error) error {
	if marketID == 0 {
		return fmt.Errorf("ewma update requires a market id")
	}

	err := s.store.db.Badger().Update(func(tx *badgerdb.Txn) error {
		state := models.EWMAState{MarketID: marketID}
		err := s.store.db.TxGet(tx, marketID, &state)
		if err != nil && err != badgerhold.ErrNotFound {
			return fmt.Errorf("read: %w", err)
		}

		if err := fn(&state); err != nil {
			return err
		}

		state.MarketID = marketID
		state.UpdatedAt = common.NowMillis()
		if err := s.store.db.TxUpsert(tx, marketID, &state); err != nil {
			return fmt.Errorf("write: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update ewma state for market %d: %w", marketID, err)
	}
	return nil
}

var _ interfaces.EWMAStorage = (*ewmaStorage)(nil)
