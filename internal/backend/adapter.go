package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/aman-churiwal/chat-router/internal/models"
)

var (
	// ErrMalformedResponse is returned when an upstream answers 2xx with a body
	// that is not a usable completion
	ErrMalformedResponse = errors.New("malformed upstream response")

	// ErrStreamTruncated is returned when a stream ends before its end marker
	ErrStreamTruncated = errors.New("stream ended before completion marker")
)

// Adapter translates generic chat requests to one upstream's API.
type Adapter interface {
	// Maps a model tier to a concrete model identifier
	ResolveModel(tier string) string

	// Sends the conversation and waits for the full completion
	Send(ctx context.Context, messages []models.Message, tier string) (*Completion, error)

	// Opens an incremental completion stream
	OpenStream(ctx context.Context, messages []models.Message, tier string) (*Stream, error)
}

type Completion struct {
	Model   string
	Content string
}

// Returned when an upstream answers with a non-2xx status
type StatusError struct {
	Backend    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: upstream returned HTTP %d", e.Backend, e.StatusCode)
	}
	return fmt.Sprintf("%s: upstream returned HTTP %d: %s", e.Backend, e.StatusCode, e.Body)
}

// Builds the adapter for a descriptor and its credential
type AdapterFactory func(desc Descriptor, apiKey string) Adapter
