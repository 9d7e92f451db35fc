package backend

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

const (
	doneMarker    = "[DONE]"
	maxStreamLine = 1 << 20
)

// Stream is a pull-based reader over an upstream server-sent event stream.
// Recv returns content fragments in order and io.EOF once the end marker has
// been seen. Close tears down the upstream connection and is safe to call
// more than once.
type Stream struct {
	model   string
	body    io.ReadCloser
	scanner *bufio.Scanner

	done      bool
	closeOnce sync.Once
	closeErr  error
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func NewStream(model string, body io.ReadCloser) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)

	return &Stream{
		model:   model,
		body:    body,
		scanner: scanner,
	}
}

// Model returns the model the stream was opened for.
func (s *Stream) Model() string {
	return s.model
}

func (s *Stream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			// blank separators, comments and event/id fields
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == doneMarker {
			s.done = true
			return "", io.EOF
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}

		if chunk.Error != nil {
			return "", fmt.Errorf("upstream stream error: %s", chunk.Error.Message)
		}

		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}

		return chunk.Choices[0].Delta.Content, nil
	}

	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read stream: %w", err)
	}

	return "", ErrStreamTruncated
}

func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
