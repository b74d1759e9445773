// Package catalog reconciles the venue's paginated topic catalog into
// tracked market streams.
package catalog

import (
	"context"
	"fmt"

	"github.com/bobmcallan/pulse/internal/common"
	"github.com/bobmcallan/pulse/internal/interfaces"
	"github.com/bobmcallan/pulse/internal/models"
)

// Service implements CatalogService
type Service struct {
	storage interfaces.StorageManager
	client  interfaces.VenueClient
	config  *common.Config
	logger  *common.Logger
}

// NewService creates a new catalog service
func NewService(storage interfaces.StorageManager, client interfaces.VenueClient, config *common.Config, logger *common.Logger) *Service {
	return &Service{
		storage: storage,
		client:  client,
		config:  config,
		logger:  logger,
	}
}

// Refresh walks the venue catalog end-to-end and upserts every emitted
// stream. It returns the number of streams reconciled.
func (s *Service) Refresh(ctx context.Context) (int, error) {
	upserted := 0
	failed := 0

	w := newWalker(s.client, s.logger, &s.config.Monitor, func(stream *models.Stream) {
		if err := s.storage.StreamStorage().UpsertStream(ctx, stream); err != nil {
			failed++
			s.logger.Error().Int64("market_id", stream.MarketID).Err(err).Msg("Failed to upsert stream")
			return
		}
		upserted++
	})

	if err := w.run(ctx); err != nil {
		return upserted, fmt.Errorf("catalog walk: %w", err)
	}

	s.logger.Info().
		Int("upserted", upserted).
		Int("failed", failed).
		Msg("Catalog refresh complete")

	return upserted, nil
}

// Ensure Service implements CatalogService
var _ interfaces.CatalogService = (*Service)(nil)
