// Package collector samples every tracked market once per poll cycle,
// persists the observed ticks and hands accepted ones to the detector.
package collector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bobmcallan/pulse/internal/common"
	"github.com/bobmcallan/pulse/internal/interfaces"
	"github.com/bobmcallan/pulse/internal/models"
)

// batchSize bounds the per-poll goroutine fan-out. The client's rate
// gate is the actual concurrency ceiling; this only caps memory.
const batchSize = 60

type tickOutcome int

const (
	outcomeCollected tickOutcome = iota
	outcomeNoPayload
	outcomeFiltered
	outcomeError
)

// Service implements the tick collection pipeline.
type Service struct {
	storage  interfaces.StorageManager
	client   interfaces.VenueClient
	detector interfaces.DetectorService
	config   *common.Config
	logger   *common.Logger

	polling atomic.Bool
}

// NewService creates a new collector service.
func NewService(storage interfaces.StorageManager, client interfaces.VenueClient, detector interfaces.DetectorService, config *common.Config, logger *common.Logger) *Service {
	return &Service{
		storage:  storage,
		client:   client,
		detector: detector,
		config:   config,
		logger:   logger,
	}
}

// PollTicks samples price and volume for all tracked markets in batches.
// A call that arrives while a previous poll is still running returns
// (nil, nil) immediately.
func (s *Service) PollTicks(ctx context.Context) (*models.PollStats, error) {
	if !s.polling.CompareAndSwap(false, true) {
		s.logger.Warn().Msg("Previous tick poll still running, skipping this cycle")
		return nil, nil
	}
	defer s.polling.Store(false)

	streams, err := s.storage.StreamStorage().ListStreams(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list streams: %w", err)
	}

	stats := &models.PollStats{Markets: len(streams)}
	if len(streams) == 0 {
		s.logger.Debug().Msg("No tracked markets, nothing to poll")
		return stats, nil
	}

	var mu sync.Mutex
	for start := 0; start < len(streams); start += batchSize {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		end := start + batchSize
		if end > len(streams) {
			end = len(streams)
		}

		var wg sync.WaitGroup
		for _, stream := range streams[start:end] {
			if stream.YesTokenID == models.MultiParentTokenID(stream.MarketID) {
				// placeholder token, no orderbook to quote
				continue
			}
			wg.Add(1)
			go func(stream *models.Stream) {
				defer wg.Done()

				outcome, alerted := s.collectTick(ctx, stream)

				mu.Lock()
				switch outcome {
				case outcomeCollected:
					stats.Collected++
				case outcomeNoPayload:
					stats.SkippedNoPayload++
				case outcomeFiltered:
					stats.SkippedFilters++
				case outcomeError:
					stats.Errors++
				}
				if alerted {
					stats.Alerts++
				}
				mu.Unlock()
			}(stream)
		}
		wg.Wait()
	}

	s.logger.Info().
		Int("markets", stats.Markets).
		Int("collected", stats.Collected).
		Int("skipped_no_payload", stats.SkippedNoPayload).
		Int("skipped_filters", stats.SkippedFilters).
		Int("errors", stats.Errors).
		Int("alerts", stats.Alerts).
		Msg("Tick poll complete")

	return stats, nil
}

// collectTick samples one market: price from the public orderbook,
// cumulative volume from the private market endpoint, delta against the
// last raw tick, then the acceptance gate.
func (s *Service) collectTick(ctx context.Context, stream *models.Stream) (tickOutcome, bool) {
	price, err := s.client.GetOrderbookPrice(ctx, stream.YesTokenID, stream.TopicID, stream.ChainID)
	if err != nil {
		if interfaces.IsNoPayload(err) || interfaces.IsTopicNotFound(err) {
			s.logger.Debug().Int64("market_id", stream.MarketID).Msg("No orderbook payload, skipping tick")
			return outcomeNoPayload, false
		}
		s.logger.Warn().Int64("market_id", stream.MarketID).Err(err).Msg("Failed to fetch orderbook price")
		return outcomeError, false
	}

	volume, err := s.client.GetMarketVolume(ctx, stream.MarketID)
	if err != nil {
		if interfaces.IsNoPayload(err) || interfaces.IsTopicNotFound(err) {
			s.logger.Debug().Int64("market_id", stream.MarketID).Msg("No volume payload, skipping tick")
			return outcomeNoPayload, false
		}
		s.logger.Warn().Int64("market_id", stream.MarketID).Err(err).Msg("Failed to fetch market volume")
		return outcomeError, false
	}

	last, err := s.storage.TickStorage().LatestRawTick(ctx, stream.MarketID)
	if err != nil {
		s.logger.Warn().Int64("market_id", stream.MarketID).Err(err).Msg("Failed to read last raw tick")
		return outcomeError, false
	}

	delta := 0.0
	if last != nil {
		delta = volume - last.Volume
		if delta < 0 {
			s.logger.Warn().
				Int64("market_id", stream.MarketID).
				Float64("volume", volume).
				Float64("last_volume", last.Volume).
				Msg("Cumulative volume decreased upstream, clamping delta to zero")
			delta = 0
		}
	}

	tick := &models.Tick{
		MarketID:    stream.MarketID,
		TS:          price.TS,
		YesPrice:    price.Price,
		Volume:      volume,
		DeltaVolume: delta,
	}

	if volume < s.config.Monitor.MinTotalVolume && delta < s.config.Monitor.MinDeltaVolume {
		if err := s.storage.TickStorage().AppendTick(ctx, tick, false); err != nil {
			s.logger.Warn().Int64("market_id", stream.MarketID).Err(err).Msg("Failed to persist raw tick")
			return outcomeError, false
		}
		return outcomeFiltered, false
	}

	// Evaluate before the filtered append so a cold-starting estimator
	// seeds only from prior history, never from the tick under test.
	detection, err := s.detector.Evaluate(ctx, stream, tick)
	if err != nil {
		s.logger.Warn().Int64("market_id", stream.MarketID).Err(err).Msg("Detector evaluation failed")
	}

	if err := s.storage.TickStorage().AppendTick(ctx, tick, true); err != nil {
		s.logger.Warn().Int64("market_id", stream.MarketID).Err(err).Msg("Failed to persist tick")
		return outcomeError, detection != nil
	}

	return outcomeCollected, detection != nil
}

var _ interfaces.CollectorService = (*Service)(nil)
