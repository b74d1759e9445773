// Package storage provides the top-level StorageManager over the
// embedded BadgerHold database.
package storage

import (
	"fmt"

	"github.com/bobmcallan/pulse/internal/common"
	"github.com/bobmcallan/pulse/internal/interfaces"
	"github.com/bobmcallan/pulse/internal/storage/badger"
)

// Manager implements interfaces.StorageManager over one badger store.
type Manager struct {
	store   *badger.Store
	streams interfaces.StreamStorage
	ticks   interfaces.TickStorage
	ewma    interfaces.EWMAStorage
	alerts  interfaces.AlertStorage
	logger  *common.Logger
}

// NewManager opens the store and wires the per-table storages.
func NewManager(logger *common.Logger, config *common.Config) (*Manager, error) {
	store, err := badger.NewStore(logger, config.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	logger.Info().
		Str("path", config.Storage.Path).
		Msg("Storage manager initialized")

	return &Manager{
		store:   store,
		streams: badger.NewStreamStorage(store, logger),
		ticks:   badger.NewTickStorage(store, logger),
		ewma:    badger.NewEWMAStorage(store, logger),
		alerts:  badger.NewAlertStorage(store, logger),
		logger:  logger,
	}, nil
}

func (m *Manager) StreamStorage() interfaces.StreamStorage {
	return m.streams
}

func (m *Manager) TickStorage() interfaces.TickStorage {
	return m.ticks
}

func (m *Manager) EWMAStorage() interfaces.EWMAStorage {
	return m.ewma
}

func (m *Manager) AlertStorage() interfaces.AlertStorage {
	return m.alerts
}

// Close closes the underlying database.
func (m *Manager) Close() error {
	if err := m.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	m.logger.Debug().Msg("Storage manager closed")
	return nil
}

var _ interfaces.StorageManager = (*Manager)(nil)
