// Package venue provides a client for the prediction-market venue API
package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/bobmcallan/pulse/internal/common"
	"github.com/bobmcallan/pulse/internal/interfaces"
	"github.com/bobmcallan/pulse/internal/models"
)

const (
	DefaultBaseURL = "https://openapi.opinion.trade"
	DefaultTimeout = 15 * time.Second

	// Upstream budget shared by every endpoint.
	requestRate    = 12
	requestBurst   = 12
	maxConcurrency = 6
	requestSpacing = 85 * time.Millisecond

	retryCount = 1
	retryWait  = 300 * time.Millisecond

	serverClockTTL = 30 * time.Second
)

// Client implements the VenueClient interface over the venue's REST API.
// All requests pass through a shared token bucket, a minimum-spacing
// gate and a concurrency semaphore.
type Client struct {
	http    *resty.Client
	logger  *common.Logger
	budget  *rate.Limiter
	spacing *rate.Limiter
	sem     chan struct{}

	clockMu     sync.Mutex
	clockOffset int64 // server minus local, ms
	clockAt     time.Time
	clockOK     bool
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.http.SetTimeout(timeout)
	}
}

// WithRateLimit overrides the request budget and spacing, mainly for
// tests against local fixtures.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.budget = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		c.spacing = rate.NewLimiter(rate.Every(time.Second/time.Duration(requestsPerSecond)), 1)
	}
}

// NewClient creates a new venue client
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		logger:  common.NewSilentLogger(),
		budget:  rate.NewLimiter(rate.Limit(requestRate), requestBurst),
		spacing: rate.NewLimiter(rate.Every(requestSpacing), 1),
		sem:     make(chan struct{}, maxConcurrency),
	}

	c.http = resty.New().
		SetBaseURL(baseURL).
		SetTimeout(DefaultTimeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(retryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				var netErr net.Error
				return errors.As(err, &netErr) && netErr.Timeout()
			}
			return r.StatusCode() >= http.StatusInternalServerError
		})

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// acquire blocks until the request may proceed: a concurrency slot, a
// budget token and the spacing gate, in that order.
func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := c.budget.Wait(ctx); err != nil {
		<-c.sem
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if err := c.spacing.Wait(ctx); err != nil {
		<-c.sem
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

func (c *Client) release() {
	<-c.sem
}

// get performs a rate-limited GET request and unwraps the response
// envelope.
func (c *Client) get(ctx context.Context, path string, params map[string]string) (models.Payload, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	c.logger.Debug().Str("path", path).Msg("Venue API request")

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("venue get %s: %w", path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &APIError{
			StatusCode: resp.StatusCode(),
			Message:    strings.TrimSpace(resp.String()),
			Endpoint:   path,
		}
	}

	return decodeEnvelope(path, resp.Body())
}

// decodeEnvelope parses a response body, surfaces non-zero errno/code
// values as APIErrors, and unwraps nested result/data objects. When
// result or data holds a list rather than an object, the outer object
// is returned so callers can read the list themselves.
func decodeEnvelope(endpoint string, body []byte) (models.Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("venue decode %s: %w", endpoint, err)
	}

	env := models.Payload(root)
	if code, ok := env.Int("errno", "code"); ok && code != 0 {
		return nil, &APIError{
			Code:     int(code),
			Message:  env.Str("errmsg", "message", "msg"),
			Endpoint: endpoint,
		}
	}

	payload := env
	if inner := env.Child("result", "data"); inner != nil {
		payload = inner
		if deeper := inner.Child("result", "data"); deeper != nil {
			payload = deeper
		}
	}
	return payload, nil
}

// ListTopics retrieves one page of activated catalog entries.
func (c *Client) ListTopics(ctx context.Context, page, limit int) (*models.TopicPage, error) {
	payload, err := c.get(ctx, "/topic", map[string]string{
		"statusEnum": "Activated",
		"page":       strconv.Itoa(page),
		"limit":      strconv.Itoa(limit),
	})
	if err != nil {
		return nil, err
	}

	entries := payload.List("list", "topicList", "records", "items", "rows")
	if entries == nil {
		entries = payload.List("result", "data")
	}
	total, _ := payload.Int("total", "totalCount", "count")

	return &models.TopicPage{Entries: entries, Total: int(total)}, nil
}

// GetTopicDetail retrieves the detail payload for a topic.
func (c *Client) GetTopicDetail(ctx context.Context, topicID string) (models.Payload, error) {
	payload, err := c.get(ctx, fmt.Sprintf("/topic/%s", topicID), nil)
	if err != nil {
		return nil, err
	}
	if topic := payload.Child("topic"); topic != nil {
		return topic, nil
	}
	return payload, nil
}

// GetMultiDetail retrieves the multi-outcome payload for a topic.
func (c *Client) GetMultiDetail(ctx context.Context, topicID string) (models.Payload, error) {
	payload, err := c.get(ctx, fmt.Sprintf("/topic/multi/%s", topicID), nil)
	if err != nil {
		return nil, err
	}
	if topic := payload.Child("topic"); topic != nil {
		return topic, nil
	}
	return payload, nil
}

// GetOrderbookPrice retrieves the latest price for a YES token. The
// last trade is preferred; without one the best ask, then the best bid,
// stands in.
func (c *Client) GetOrderbookPrice(ctx context.Context, tokenID, topicID string, chainID int64) (*models.PricePoint, error) {
	params := map[string]string{
		"symbol":       tokenID,
		"symbol_types": "0",
	}
	if topicID != "" {
		params["question_id"] = topicID
	}
	if chainID != 0 {
		params["chainId"] = strconv.FormatInt(chainID, 10)
	}

	payload, err := c.get(ctx, "/orderbook", params)
	if err != nil {
		return nil, err
	}

	price, ok := payload.Float("last_price", "lastPrice", "price")
	if !ok {
		price, ok = bookLevelPrice(payload, "asks", "ask")
	}
	if !ok {
		price, ok = bookLevelPrice(payload, "bids", "bid")
	}
	if !ok {
		return nil, fmt.Errorf("orderbook %s: %w", tokenID, ErrNoPayload)
	}

	ts := common.NowMillis()
	if raw, tsOK := payload.Float("timestamp", "time", "ts"); tsOK {
		ts = common.EpochToMillis(raw)
	}

	return &models.PricePoint{Price: price, TS: ts}, nil
}

// bookLevelPrice extracts the price of the first level on an orderbook
// side, accepting both object levels and [price, size] pair arrays.
func bookLevelPrice(payload models.Payload, keys ...string) (float64, bool) {
	for _, k := range keys {
		raw, ok := payload[k].([]any)
		if !ok || len(raw) == 0 {
			continue
		}
		switch level := raw[0].(type) {
		case []any:
			if len(level) > 0 {
				if f, ok := models.CoerceFloat(level[0]); ok {
					return f, true
				}
			}
		case map[string]any:
			if f, ok := models.Payload(level).Float("price", "p"); ok {
				return f, true
			}
		}
	}
	return 0, false
}

// GetMarketVolume retrieves the cumulative traded volume for a market
// from the private detail endpoint, falling back to the list form.
func (c *Client) GetMarketVolume(ctx context.Context, marketID int64) (float64, error) {
	id := strconv.FormatInt(marketID, 10)

	payload, detailErr := c.get(ctx, fmt.Sprintf("/market/%s", id), nil)
	if detailErr == nil {
		if vol, ok := marketVolume(payload); ok {
			return vol, nil
		}
	}

	payload, listErr := c.get(ctx, "/market", map[string]string{"marketId": id})
	if listErr == nil {
		if vol, ok := marketVolume(payload); ok {
			return vol, nil
		}
	}

	if detailErr != nil {
		return 0, fmt.Errorf("market %d volume: %w", marketID, detailErr)
	}
	if listErr != nil {
		return 0, fmt.Errorf("market %d volume: %w", marketID, listErr)
	}
	return 0, fmt.Errorf("market %d volume: %w", marketID, ErrNoPayload)
}

// marketVolume digs the cumulative volume out of a market payload,
// accepting the object directly, nested under market, or as the first
// row of a list response.
func marketVolume(payload models.Payload) (float64, bool) {
	if payload == nil {
		return 0, false
	}
	if v, ok := payload.Float("volume", "totalVolume", "total_volume", "vol"); ok {
		return v, true
	}
	if child := payload.Child("market", "detail"); child != nil {
		if v, ok := child.Float("volume", "totalVolume", "total_volume", "vol"); ok {
			return v, true
		}
	}
	if rows := payload.List("list", "records", "items", "result", "data"); len(rows) > 0 {
		return rows[0].Float("volume", "totalVolume", "total_volume", "vol")
	}
	return 0, false
}

// Now returns the venue server clock as a millisecond epoch. The offset
// against the local clock is cached briefly; when the venue cannot be
// reached the local clock stands in.
func (c *Client) Now(ctx context.Context) int64 {
	c.clockMu.Lock()
	if c.clockOK && time.Since(c.clockAt) < serverClockTTL {
		offset := c.clockOffset
		c.clockMu.Unlock()
		return common.NowMillis() + offset
	}
	c.clockMu.Unlock()

	serverMS, err := c.fetchServerTime(ctx)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Server time unavailable, using local clock")
		return common.NowMillis()
	}

	c.clockMu.Lock()
	c.clockOffset = serverMS - common.NowMillis()
	c.clockAt = time.Now()
	c.clockOK = true
	c.clockMu.Unlock()

	return serverMS
}

func (c *Client) fetchServerTime(ctx context.Context) (int64, error) {
	payload, err := c.get(ctx, "/time", nil)
	if err != nil {
		return 0, err
	}
	v, ok := payload.Float("serverTime", "server_time", "timestamp", "time", "ts")
	if !ok {
		return 0, fmt.Errorf("server time: %w", ErrNoPayload)
	}
	return common.EpochToMillis(v), nil
}

// Ensure Client implements VenueClient
var _ interfaces.VenueClient = (*Client)(nil)
