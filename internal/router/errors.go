package router

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAllBackendsExhausted means every backend was over quota before any
	// call was made. Callers should retry later.
	ErrAllBackendsExhausted = errors.New("all providers have reached their rate limits, please try again later")

	// ErrAllBackendsFailed means every eligible backend was called and failed
	ErrAllBackendsFailed = errors.New("all providers failed")
)

// DispatchError is the terminal failure of Dispatch or OpenStream. It matches
// ErrAllBackendsExhausted or ErrAllBackendsFailed with errors.Is and unwraps
// to the last backend error, if any.
type DispatchError struct {
	Kind      error
	Attempted []string
	LastErr   error
}

func (e *DispatchError) Error() string {
	if e.LastErr == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s (tried %s): %v", e.Kind, strings.Join(e.Attempted, ", "), e.LastErr)
}

func (e *DispatchError) Is(target error) bool {
	return target == e.Kind
}

func (e *DispatchError) Unwrap() error {
	return e.LastErr
}

// StreamError is a failure after a stream was already open. It is never
// retried on another backend.
type StreamError struct {
	Backend string
	Err     error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream from %s failed: %v", e.Backend, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}
