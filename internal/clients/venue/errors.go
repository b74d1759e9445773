package venue

import (
	"errors"
	"fmt"
)

// CodeTopicNotFound is the venue's application-level error code for a
// topic that does not exist on the queried endpoint.
const CodeTopicNotFound = 10200

// ErrNoPayload indicates a well-formed response that carried no usable
// payload for the requested entity. Satisfies interfaces.IsNoPayload.
var ErrNoPayload error = noPayloadError{}

type noPayloadError struct{}

func (noPayloadError) Error() string   { return "no payload" }
func (noPayloadError) NoPayload() bool { return true }

// APIError represents a venue API error, either transport-level
// (non-200 status) or application-level (non-zero errno).
type APIError struct {
	Code       int // application error code, 0 for transport errors
	Message    string
	Endpoint   string
	StatusCode int // HTTP status, 0 for application errors
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("venue API error: %s (code: %d, endpoint: %s)", e.Message, e.Code, e.Endpoint)
	}
	return fmt.Sprintf("venue API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// TopicNotFound reports whether the error is the venue's topic
// not-found response. Satisfies interfaces.IsTopicNotFound.
func (e *APIError) TopicNotFound() bool {
	return e.Code == CodeTopicNotFound
}

// IsTopicNotFound reports whether err is the venue's "topic not found"
// response.
func IsTopicNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.TopicNotFound()
}
