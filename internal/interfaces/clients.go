// Package interfaces defines service contracts for Pulse
package interfaces

import (
	"context"
	"errors"

	"github.com/bobmcallan/pulse/internal/models"
)

// TopicNotFound is implemented by client errors representing the
// venue's "topic not found" response.
type TopicNotFound interface {
	error
	TopicNotFound() bool
}

// IsTopicNotFound reports whether err carries the venue's topic
// not-found code.
func IsTopicNotFound(err error) bool {
	var nf TopicNotFound
	return errors.As(err, &nf) && nf.TopicNotFound()
}

// NoPayload is implemented by client errors representing a well-formed
// response that carried no usable data for the requested entity.
type NoPayload interface {
	error
	NoPayload() bool
}

// IsNoPayload reports whether err marks an empty but otherwise valid
// venue response.
func IsNoPayload(err error) bool {
	var np NoPayload
	return errors.As(err, &np) && np.NoPayload()
}

// VenueClient provides access to the prediction-market venue API.
// Implementations own rate limiting, retries, envelope unwrapping and
// timestamp normalization; callers receive either a payload or an error.
type VenueClient interface {
	// ListTopics retrieves one page of activated catalog entries.
	// Page numbering starts at 1. Total is 0 when the venue does not
	// report a catalog size.
	ListTopics(ctx context.Context, page, limit int) (*models.TopicPage, error)

	// GetTopicDetail retrieves the detail payload for a topic.
	// Returns an error satisfying IsTopicNotFound for venue code 10200.
	GetTopicDetail(ctx context.Context, topicID string) (models.Payload, error)

	// GetMultiDetail retrieves the multi-outcome payload for a topic.
	// Returns an error satisfying IsTopicNotFound for venue code 10200.
	GetMultiDetail(ctx context.Context, topicID string) (models.Payload, error)

	// GetOrderbookPrice retrieves the latest price for a YES token,
	// preferring the last trade over the best book levels.
	GetOrderbookPrice(ctx context.Context, tokenID, topicID string, chainID int64) (*models.PricePoint, error)

	// GetMarketVolume retrieves the cumulative traded volume for a
	// market, falling back from the detail to the list endpoint.
	GetMarketVolume(ctx context.Context, marketID int64) (float64, error)

	// Now returns the venue server clock as a millisecond epoch,
	// cached briefly; falls back to the local clock when unavailable.
	Now(ctx context.Context) int64
}

// Notifier delivers a triggered anomaly to the outside world.
type Notifier interface {
	// Notify sends one alert. Errors are reported to the caller, which
	// decides whether alert state advances.
	Notify(ctx context.Context, stream *models.Stream, tick *models.Tick, detection *models.Detection) error
}
