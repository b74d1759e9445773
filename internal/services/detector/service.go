// Package detector evaluates accepted ticks against per-market EWMA
// baselines and raises alerts for anomalous price moves.
package detector

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/pulse/internal/common"
	"github.com/bobmcallan/pulse/internal/interfaces"
	"github.com/bobmcallan/pulse/internal/models"
	"github.com/bobmcallan/pulse/internal/signals"
)

// Temporal gates between alerts for the same market.
const (
	alertCooldown   = 6 * time.Hour
	duplicateWindow = 6 * time.Hour
)

// Service implements the anomaly decision sequence.
type Service struct {
	storage   interfaces.StorageManager
	notifier  interfaces.Notifier
	config    *common.Config
	logger    *common.Logger
	blocklist *blocklist
}

// NewService creates a new detector service. An invalid blocklist
// pattern is logged and ignored; config validation rejects it earlier.
func NewService(storage interfaces.StorageManager, notifier interfaces.Notifier, config *common.Config, logger *common.Logger) *Service {
	bl, err := newBlocklist(config.Monitor.TitleBlocklist, config.Monitor.TitleBlocklistRegex)
	if err != nil {
		logger.Warn().Err(err).Msg("Ignoring invalid blocklist pattern")
		bl, _ = newBlocklist(config.Monitor.TitleBlocklist, "")
	}
	return &Service{
		storage:   storage,
		notifier:  notifier,
		config:    config,
		logger:    logger,
		blocklist: bl,
	}
}

// Evaluate runs the decision sequence for one accepted tick. The
// estimator state always advances, whether or not an alert fires; the
// returned detection is non-nil only when a notification was delivered.
func (s *Service) Evaluate(ctx context.Context, stream *models.Stream, tick *models.Tick) (*models.Detection, error) {
	existing, err := s.storage.EWMAStorage().GetEWMAState(ctx, tick.MarketID)
	if err != nil {
		return nil, fmt.Errorf("failed to read estimator state: %w", err)
	}

	// The seed history is fetched outside the transactional update; the
	// current tick is not yet in the filtered tier, so it cannot
	// contaminate its own baseline.
	var seed []*models.Tick
	if existing == nil || existing.TickCount == 0 {
		seed, err = s.storage.TickStorage().FilteredHistory(ctx, tick.MarketID, models.FilteredTickRetention)
		if err != nil {
			return nil, fmt.Errorf("failed to read filtered history: %w", err)
		}
	}

	var (
		det       models.Detection
		warmup    bool
		seedCount int
	)
	err = s.storage.EWMAStorage().UpdateEWMAState(ctx, tick.MarketID, func(state *models.EWMAState) error {
		if state.TickCount == 0 && len(seed) > 0 {
			*state = *signals.Seed(tick.MarketID, seed)
			seedCount = state.TickCount
		}

		if state.TickCount < signals.MinTicksForDetection {
			warmup = true
			signals.Apply(state, tick)
			return nil
		}

		// Z-scores and the price move are measured against the
		// pre-update moments; the zone gate keys off where the market
		// sat before this tick.
		det.PriceZ = signals.ZScore(tick.YesPrice, state.PriceMean, state.PriceVar, signals.MinStdPrice)
		det.VolumeZ = signals.ZScore(tick.DeltaVolume, state.VolumeMean, state.VolumeVar, signals.MinStdVolume)
		det.AdjustedScore = signals.AdjustedScore(det.PriceZ, det.VolumeZ, s.config.Monitor.VolumeBoostFactor)
		det.PrevPrice = state.LastPrice
		det.PriceChange = tick.YesPrice - state.LastPrice
		det.AdaptiveThreshold = s.minChange(state.LastPrice)

		signals.Apply(state, tick)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update estimator state: %w", err)
	}

	if seedCount > 0 {
		s.logger.Debug().
			Int64("market_id", tick.MarketID).
			Int("seed_ticks", seedCount).
			Msg("Cold-started estimator from filtered history")
	}
	if warmup {
		return nil, nil
	}
	if det.PrevPrice <= 0 {
		return nil, nil
	}
	if math.Abs(det.PriceChange) < det.AdaptiveThreshold {
		return nil, nil
	}
	if det.AdjustedScore < s.config.Monitor.ZThreshold {
		return nil, nil
	}
	if s.blocked(ctx, stream) {
		s.logger.Debug().
			Int64("market_id", tick.MarketID).
			Str("title", stream.Title).
			Msg("Alert suppressed by title blocklist")
		return nil, nil
	}

	hash := det.Hash(tick.MarketID)
	alertState, err := s.storage.AlertStorage().GetAlertState(ctx, tick.MarketID)
	if err != nil {
		return nil, fmt.Errorf("failed to read alert state: %w", err)
	}

	now := common.NowMillis()
	if alertState != nil && alertState.LastAlertAt > 0 {
		since := now - alertState.LastAlertAt
		if since < alertCooldown.Milliseconds() {
			s.logger.Debug().
				Int64("market_id", tick.MarketID).
				Int64("since_ms", since).
				Msg("Alert suppressed by cooldown")
			return nil, nil
		}
		if alertState.LastAlertHash == hash && since < duplicateWindow.Milliseconds() {
			s.logger.Debug().
				Int64("market_id", tick.MarketID).
				Str("hash", hash).
				Msg("Duplicate alert suppressed")
			return nil, nil
		}
	}

	if err := s.notifier.Notify(ctx, stream, tick, &det); err != nil {
		s.logger.Error().
			Int64("market_id", tick.MarketID).
			Err(err).
			Msg("Failed to deliver alert, cooldown not started")
		return nil, nil
	}

	if err := s.storage.AlertStorage().SaveAlertState(ctx, &models.AlertState{
		MarketID:      tick.MarketID,
		LastAlertAt:   now,
		LastAlertHash: hash,
	}); err != nil {
		s.logger.Warn().Int64("market_id", tick.MarketID).Err(err).Msg("Failed to persist alert state")
	}

	if err := s.storage.AlertStorage().AppendAlertEvent(ctx, &models.AlertEvent{
		ID:          uuid.New().String(),
		MarketID:    tick.MarketID,
		Title:       stream.Title,
		Score:       det.AdjustedScore,
		PriceZ:      det.PriceZ,
		VolumeZ:     det.VolumeZ,
		PriceChange: det.PriceChange,
		Price:       tick.YesPrice,
		DeltaVolume: tick.DeltaVolume,
		SentAt:      now,
	}); err != nil {
		s.logger.Warn().Int64("market_id", tick.MarketID).Err(err).Msg("Failed to record alert event")
	}

	s.logger.Info().
		Int64("market_id", tick.MarketID).
		Str("title", stream.Title).
		Float64("price", tick.YesPrice).
		Float64("change", det.PriceChange).
		Float64("score", det.AdjustedScore).
		Msg("Anomaly alert sent")

	return &det, nil
}

// minChange returns the required |price change| for the zone the market
// occupied before the tick.
func (s *Service) minChange(price float64) float64 {
	m := &s.config.Monitor
	if !m.UseAdaptiveThresholds {
		return m.MinAbsPriceChange
	}
	return signals.MinChangeForPrice(price, m.DeepExtremeMinChange, m.NearExtremeMinChange, m.MiddleMinChange)
}

// blocked checks the market title, and the parent's title for children
// on the same chain.
func (s *Service) blocked(ctx context.Context, stream *models.Stream) bool {
	if s.blocklist.Matches(stream.Title) {
		return true
	}
	if stream.ParentMarketID == 0 {
		return false
	}
	parent, err := s.storage.StreamStorage().GetStream(ctx, stream.ParentMarketID)
	if err != nil {
		s.logger.Warn().
			Int64("market_id", stream.MarketID).
			Int64("parent_market_id", stream.ParentMarketID).
			Err(err).
			Msg("Failed to load parent stream for blocklist check")
		return false
	}
	if parent == nil || parent.ChainID != stream.ChainID {
		return false
	}
	return s.blocklist.Matches(parent.Title)
}

var _ interfaces.DetectorService = (*Service)(nil)
