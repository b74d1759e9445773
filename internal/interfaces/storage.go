// Package interfaces defines service contracts for Pulse
package interfaces

import (
	"context"

	"github.com/bobmcallan/pulse/internal/models"
)

// StreamStorage persists market descriptors.
type StreamStorage interface {
	// UpsertStream inserts or replaces a descriptor by MarketID.
	UpsertStream(ctx context.Context, stream *models.Stream) error

	// GetStream retrieves a descriptor, or (nil, nil) when unknown.
	GetStream(ctx context.Context, marketID int64) (*models.Stream, error)

	// ListStreams returns all descriptors in MarketID order.
	ListStreams(ctx context.Context) ([]*models.Stream, error)

	// CountStreams returns the number of tracked markets.
	CountStreams(ctx context.Context) (int, error)
}

// TickStorage persists the two-tier tick history. Raw holds every
// well-formed observation; filtered holds only those that passed the
// acceptance gate. Both are bounded per market.
type TickStorage interface {
	// AppendTick stores a tick in the raw tier and, when accepted is
	// true, the filtered tier in the same transaction. Retention is
	// applied to both tiers.
	AppendTick(ctx context.Context, tick *models.Tick, accepted bool) error

	// LatestRawTick returns the most recent raw tick for a market, or
	// (nil, nil) when the market has no history.
	LatestRawTick(ctx context.Context, marketID int64) (*models.Tick, error)

	// RecentRawTicks returns up to limit of the newest raw ticks in
	// chronological order.
	RecentRawTicks(ctx context.Context, marketID int64, limit int) ([]*models.Tick, error)

	// FilteredHistory returns up to limit of the newest filtered ticks
	// in chronological order, for seeding cold estimators.
	FilteredHistory(ctx context.Context, marketID int64, limit int) ([]*models.Tick, error)
}

// EWMAStorage persists per-market estimator state.
type EWMAStorage interface {
	// GetEWMAState retrieves estimator state, or (nil, nil) when the
	// market has never been evaluated.
	GetEWMAState(ctx context.Context, marketID int64) (*models.EWMAState, error)

	// SaveEWMAState writes estimator state.
	SaveEWMAState(ctx context.Context, state *models.EWMAState) error

	// UpdateEWMAState runs fn against the current state (the zero
	// sentinel when absent) and persists the result, all in one
	// transaction, so concurrent updates for the same market cannot
	// lose writes. fn must not perform I/O.
	UpdateEWMAState(ctx context.Context, marketID int64, fn func(state *models.EWMAState) error) error
}

// AlertStorage persists alert cooldown state and delivered-alert
// history.
type AlertStorage interface {
	// GetAlertState retrieves cooldown state, or (nil, nil) when the
	// market has never alerted.
	GetAlertState(ctx context.Context, marketID int64) (*models.AlertState, error)

	// SaveAlertState writes cooldown state.
	SaveAlertState(ctx context.Context, state *models.AlertState) error

	// AppendAlertEvent records one delivered notification, pruning
	// history beyond the retained bound.
	AppendAlertEvent(ctx context.Context, event *models.AlertEvent) error

	// ListAlertEvents returns up to limit delivered alerts, newest
	// first.
	ListAlertEvents(ctx context.Context, limit int) ([]*models.AlertEvent, error)
}

// StorageManager provides access to all storage areas.
type StorageManager interface {
	StreamStorage() StreamStorage
	TickStorage() TickStorage
	EWMAStorage() EWMAStorage
	AlertStorage() AlertStorage

	// Close releases the underlying database.
	Close() error
}
