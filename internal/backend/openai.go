package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aman-churiwal/chat-router/internal/models"
)

const (
	defaultMaxTokens   = 1024
	defaultTemperature = 0.7

	// Upper bound on how much of an error body ends up in an error message
	maxErrorBody = 512
)

// OpenAIAdapter talks to any backend exposing the OpenAI chat completions API.
type OpenAIAdapter struct {
	desc   Descriptor
	apiKey string
	client *http.Client
}

type chatCompletionRequest struct {
	Model       string           `json:"model"`
	Messages    []models.Message `json:"messages"`
	Stream      bool             `json:"stream"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature float64          `json:"temperature"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func NewOpenAIAdapter(desc Descriptor, apiKey string, client *http.Client) *OpenAIAdapter {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	return &OpenAIAdapter{
		desc:   desc,
		apiKey: apiKey,
		client: client,
	}
}

// Returns an AdapterFactory that builds OpenAI adapters sharing one client
func OpenAIFactory(client *http.Client) AdapterFactory {
	return func(desc Descriptor, apiKey string) Adapter {
		return NewOpenAIAdapter(desc, apiKey, client)
	}
}

func (a *OpenAIAdapter) ResolveModel(tier string) string {
	return a.desc.ResolveModel(tier)
}

func (a *OpenAIAdapter) Send(ctx context.Context, messages []models.Message, tier string) (*Completion, error) {
	model := a.ResolveModel(tier)

	resp, err := a.post(ctx, chatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Stream:      false,
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", a.desc.Name, ErrMalformedResponse, err)
	}

	if len(body.Choices) == 0 || body.Choices[0].Message.Content == nil {
		return nil, fmt.Errorf("%s: %w: no choices in completion", a.desc.Name, ErrMalformedResponse)
	}

	if body.Model != "" {
		model = body.Model
	}

	return &Completion{
		Model:   model,
		Content: *body.Choices[0].Message.Content,
	}, nil
}

func (a *OpenAIAdapter) OpenStream(ctx context.Context, messages []models.Message, tier string) (*Stream, error) {
	model := a.ResolveModel(tier)

	resp, err := a.post(ctx, chatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Stream:      true,
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
	})
	if err != nil {
		return nil, err
	}

	return NewStream(model, resp.Body), nil
}

// Sends the request and returns the response only when the status is 2xx
func (a *OpenAIAdapter) post(ctx context.Context, payload chatCompletionRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to encode request: %w", a.desc.Name, err)
	}

	url := strings.TrimRight(a.desc.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build request: %w", a.desc.Name, err)
	}

	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if payload.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	for key, value := range a.desc.Headers {
		req.Header.Set(key, value)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", a.desc.Name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			Backend:    a.desc.Name,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	return resp, nil
}

// Ping lists the backend's models to check that it is reachable and accepts
// the credential.
func (a *OpenAIAdapter) Ping(ctx context.Context) error {
	url := strings.TrimRight(a.desc.BaseURL, "/") + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", a.desc.Name, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Backend: a.desc.Name, StatusCode: resp.StatusCode}
	}
	return nil
}
