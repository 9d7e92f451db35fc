package router

import (
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/aman-churiwal/chat-router/internal/backend"
	"github.com/aman-churiwal/chat-router/internal/models"
	"github.com/aman-churiwal/chat-router/internal/usage"
)

// Relay is an open stream from the backend that accepted the connection.
//
// Recv yields content fragments and io.EOF at the end marker. Usage is
// charged to the serving backend only when the end marker is seen; a stream
// closed early or failing midway charges nothing. Close must always be
// called and tears down the upstream connection.
type Relay struct {
	backend   *backend.Backend
	stream    *backend.Stream
	messages  []models.Message
	attempted []string

	content strings.Builder

	mu        sync.Mutex
	completed bool
	closed    bool
	tokens    int
}

func newRelay(b *backend.Backend, stream *backend.Stream, messages []models.Message, attempted []string) *Relay {
	return &Relay{
		backend:   b,
		stream:    stream,
		messages:  messages,
		attempted: attempted,
	}
}

func (r *Relay) Backend() string {
	return r.backend.Name()
}

func (r *Relay) Provider() string {
	return r.backend.Descriptor.DisplayName
}

func (r *Relay) Model() string {
	return r.stream.Model()
}

func (r *Relay) Attempted() []string {
	return r.attempted
}

// TokensUsed returns the charged estimate, or 0 until the stream completes.
func (r *Relay) TokensUsed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens
}

func (r *Relay) Recv() (string, error) {
	fragment, err := r.stream.Recv()
	if err == nil {
		r.content.WriteString(fragment)
		return fragment, nil
	}

	if errors.Is(err, io.EOF) {
		r.complete()
		return "", io.EOF
	}

	return "", &StreamError{Backend: r.backend.Name(), Err: err}
}

func (r *Relay) complete() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.completed || r.closed {
		return
	}

	r.completed = true
	r.tokens = usage.EstimateTokens(r.messages, r.content.String())
	r.backend.Usage.Commit(r.tokens)
}

func (r *Relay) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		if !r.completed {
			r.backend.Usage.Release()
		}
	}
	r.mu.Unlock()

	return r.stream.Close()
}
