package router

import (
	"context"
	"log"
	"sync"

	"github.com/aman-churiwal/chat-router/internal/backend"
	"github.com/aman-churiwal/chat-router/internal/models"
	"github.com/aman-churiwal/chat-router/internal/usage"
)

// Router spreads chat requests over the registry's backends in rotation and
// fails over to the next eligible backend when a call fails.
type Router struct {
	registry *backend.Registry

	mu     sync.Mutex
	cursor int
}

type Result struct {
	Backend    string   `json:"backend"`
	Provider   string   `json:"provider"`
	Model      string   `json:"model"`
	Content    string   `json:"content"`
	TokensUsed int      `json:"tokensUsed"`
	Attempted  []string `json:"attempted"`
}

type BackendStatus struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	usage.Snapshot
}

func New(registry *backend.Registry) *Router {
	return &Router{registry: registry}
}

func (r *Router) Registry() *backend.Registry {
	return r.registry
}

// Selects and reserves the next backend that has quota left, starting at the
// cursor and wrapping around once. Backends in skip are passed over. The
// cursor moves past the chosen backend; it does not move when nothing is
// found.
func (r *Router) nextEligible(skip map[string]bool) *backend.Backend {
	backends := r.registry.Backends()
	total := len(backends)
	if total == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < total; i++ {
		index := (r.cursor + i) % total
		b := backends[index]

		if skip[b.Name()] {
			continue
		}

		if b.Usage.Reserve() {
			r.cursor = (index + 1) % total
			return b
		}
	}

	return nil
}

// Dispatch sends the request to backends in rotation until one succeeds. It
// makes at most one attempt per backend. A failed attempt does not consume
// quota.
func (r *Router) Dispatch(ctx context.Context, req models.ChatRequest) (*Result, error) {
	tier := req.TierOrDefault()
	attempted := make([]string, 0, r.registry.Len())
	skip := make(map[string]bool, r.registry.Len())
	var lastErr error

	for i := 0; i < r.registry.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b := r.nextEligible(skip)
		if b == nil {
			break
		}

		name := b.Name()
		attempted = append(attempted, name)
		skip[name] = true
		log.Printf("Using %s for this request (attempt %d)", b.Descriptor.DisplayName, len(attempted))

		completion, err := b.Adapter.Send(ctx, req.Messages, tier)
		if err != nil {
			b.Usage.Release()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}

			lastErr = err
			log.Printf("Backend %s failed: %v", name, err)
			continue
		}

		tokens := usage.EstimateTokens(req.Messages, completion.Content)
		b.Usage.Commit(tokens)

		return &Result{
			Backend:    name,
			Provider:   b.Descriptor.DisplayName,
			Model:      completion.Model,
			Content:    completion.Content,
			TokensUsed: tokens,
			Attempted:  attempted,
		}, nil
	}

	return nil, dispatchFailure(attempted, lastErr)
}

// OpenStream applies the Dispatch selection and failover to opening a stream.
// Once a stream is open, errors are reported through the Relay and never
// retried.
func (r *Router) OpenStream(ctx context.Context, req models.ChatRequest) (*Relay, error) {
	tier := req.TierOrDefault()
	attempted := make([]string, 0, r.registry.Len())
	skip := make(map[string]bool, r.registry.Len())
	var lastErr error

	for i := 0; i < r.registry.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b := r.nextEligible(skip)
		if b == nil {
			break
		}

		name := b.Name()
		attempted = append(attempted, name)
		skip[name] = true
		log.Printf("Streaming from %s (attempt %d)", b.Descriptor.DisplayName, len(attempted))

		stream, err := b.Adapter.OpenStream(ctx, req.Messages, tier)
		if err != nil {
			b.Usage.Release()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}

			lastErr = err
			log.Printf("Backend %s failed to open stream: %v", name, err)
			continue
		}

		return newRelay(b, stream, req.Messages, attempted), nil
	}

	return nil, dispatchFailure(attempted, lastErr)
}

// Status reports the usage of every backend in rotation order.
func (r *Router) Status() []BackendStatus {
	backends := r.registry.Backends()
	status := make([]BackendStatus, 0, len(backends))

	for _, b := range backends {
		status = append(status, BackendStatus{
			Name:     b.Name(),
			Provider: b.Descriptor.DisplayName,
			Snapshot: b.Usage.Snapshot(),
		})
	}

	return status
}

func dispatchFailure(attempted []string, lastErr error) error {
	if len(attempted) == 0 {
		log.Printf("No backend has quota left")
		return &DispatchError{Kind: ErrAllBackendsExhausted}
	}

	log.Printf("All backends failed (tried %d)", len(attempted))
	return &DispatchError{
		Kind:      ErrAllBackendsFailed,
		Attempted: attempted,
		LastErr:   lastErr,
	}
}
