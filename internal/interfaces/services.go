// Package interfaces defines service contracts for Pulse
package interfaces

import (
	"context"

	"github.com/bobmcallan/pulse/internal/models"
)

// CatalogService reconciles the venue catalog into stored stream
// descriptors.
type CatalogService interface {
	// Refresh walks the full catalog and upserts every emitted
	// descriptor. Returns the number of descriptors upserted. Page
	// failures are logged and skipped; only store or context errors
	// abort the refresh.
	Refresh(ctx context.Context) (int, error)
}

// CollectorService samples every tracked market once per invocation.
type CollectorService interface {
	// PollTicks fetches price and volume for all known markets,
	// persists ticks and runs detection. Non-reentrant: a call while a
	// previous poll is still running returns (nil, nil) immediately.
	PollTicks(ctx context.Context) (*models.PollStats, error)
}

// DetectorService evaluates one accepted tick against a market's
// statistical baseline.
type DetectorService interface {
	// Evaluate runs the full decision sequence for a tick that passed
	// the collector's acceptance gate, including notification and alert
	// bookkeeping. Returns the detection when an alert was sent, nil
	// otherwise. The estimator state advances in either case.
	Evaluate(ctx context.Context, stream *models.Stream, tick *models.Tick) (*models.Detection, error)
}
