// Package notify delivers anomaly alerts to Telegram, attaching a
// rendered price chart when the market has enough history.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/bobmcallan/pulse/internal/common"
	"github.com/bobmcallan/pulse/internal/interfaces"
	"github.com/bobmcallan/pulse/internal/models"
)

const telegramBaseURL = "https://api.telegram.org"

// Option configures the notify service.
type Option func(*Service)

// WithBaseURL overrides the Telegram API base URL, for tests.
func WithBaseURL(baseURL string) Option {
	return func(s *Service) {
		s.http.SetBaseURL(baseURL)
	}
}

// Service implements alert delivery over the Telegram bot API.
type Service struct {
	http    *resty.Client
	storage interfaces.StorageManager
	config  *common.Config
	logger  *common.Logger
}

// NewService creates a new notify service.
func NewService(storage interfaces.StorageManager, config *common.Config, logger *common.Logger, opts ...Option) *Service {
	s := &Service{
		http: resty.New().
			SetBaseURL(telegramBaseURL).
			SetTimeout(15 * time.Second),
		storage: storage,
		config:  config,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Notify delivers one alert. With no Telegram credentials configured the
// alert is logged and reported as delivered, which lets the cooldown
// behave normally in development.
func (s *Service) Notify(ctx context.Context, stream *models.Stream, tick *models.Tick, det *models.Detection) error {
	if !s.config.Telegram.Enabled() {
		s.logger.Info().
			Int64("market_id", stream.MarketID).
			Str("title", stream.Title).
			Float64("prev_price", det.PrevPrice).
			Float64("price", tick.YesPrice).
			Float64("score", det.AdjustedScore).
			Float64("delta_volume", tick.DeltaVolume).
			Msg("Alert (Telegram delivery disabled)")
		return nil
	}

	caption := s.caption(stream, tick, det)

	png, err := s.renderChart(ctx, stream)
	if err != nil {
		s.logger.Debug().Int64("market_id", stream.MarketID).Err(err).Msg("Chart unavailable, sending text alert")
		return s.sendMessage(ctx, caption)
	}

	if err := s.sendPhoto(ctx, caption, png); err != nil {
		s.logger.Warn().Int64("market_id", stream.MarketID).Err(err).Msg("Photo delivery failed, falling back to text")
		return s.sendMessage(ctx, caption)
	}
	return nil
}

func (s *Service) renderChart(ctx context.Context, stream *models.Stream) ([]byte, error) {
	ticks, err := s.storage.TickStorage().RecentRawTicks(ctx, stream.MarketID, models.RawTickRetention)
	if err != nil {
		return nil, fmt.Errorf("failed to read tick history: %w", err)
	}
	return RenderPriceChart(stream.Title, ticks)
}

// caption builds the HTML alert text.
func (s *Service) caption(stream *models.Stream, tick *models.Tick, det *models.Detection) string {
	var b strings.Builder

	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(stream.Title))
	fmt.Fprintf(&b, "Price: %.3f to %.3f (%+.3f)\n", det.PrevPrice, tick.YesPrice, det.PriceChange)
	fmt.Fprintf(&b, "Score: %.2f (price Z %.2f, volume Z %.2f)\n", det.AdjustedScore, det.PriceZ, det.VolumeZ)
	fmt.Fprintf(&b, "Delta volume: %.0f", tick.DeltaVolume)
	if link := s.marketLink(stream); link != "" {
		fmt.Fprintf(&b, "\n<a href=\"%s\">Open market</a>", link)
	}

	return b.String()
}

// marketLink returns the venue web page for the market's topic, or ""
// when either side of the URL is unknown.
func (s *Service) marketLink(stream *models.Stream) string {
	web := strings.TrimRight(s.config.Venue.WebURL, "/")
	if web == "" || stream.TopicID == "" {
		return ""
	}
	return fmt.Sprintf("%s/topic/%s", web, stream.TopicID)
}

func (s *Service) sendMessage(ctx context.Context, text string) error {
	resp, err := s.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id":    s.config.Telegram.ChatID,
			"text":       text,
			"parse_mode": "HTML",
		}).
		Post(fmt.Sprintf("/bot%s/sendMessage", s.config.Telegram.BotToken))
	if err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("telegram sendMessage: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}

func (s *Service) sendPhoto(ctx context.Context, caption string, png []byte) error {
	resp, err := s.http.R().
		SetContext(ctx).
		SetFileReader("photo", "chart.png", bytes.NewReader(png)).
		SetFormData(map[string]string{
			"chat_id":    s.config.Telegram.ChatID,
			"caption":    caption,
			"parse_mode": "HTML",
		}).
		Post(fmt.Sprintf("/bot%s/sendPhoto", s.config.Telegram.BotToken))
	if err != nil {
		return fmt.Errorf("telegram sendPhoto: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("telegram sendPhoto: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}

var _ interfaces.Notifier = (*Service)(nil)
