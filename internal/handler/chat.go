package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/aman-churiwal/chat-router/internal/healthcheck"
	"github.com/aman-churiwal/chat-router/internal/middleware"
	"github.com/aman-churiwal/chat-router/internal/models"
	"github.com/aman-churiwal/chat-router/internal/router"
	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
)

// Seconds a client should wait when every backend is over quota
const exhaustedRetryAfter = 60

// ChatRouter is the subset of *router.Router the chat endpoints use.
type ChatRouter interface {
	Dispatch(ctx context.Context, req models.ChatRequest) (*router.Result, error)
	OpenStream(ctx context.Context, req models.ChatRequest) (*router.Relay, error)
	Status() []router.BackendStatus
}

// HealthReporter exposes the last probe result for a backend.
type HealthReporter interface {
	GetStatus(name string) (healthcheck.Status, bool)
}

type ChatHandler struct {
	router ChatRouter
	health HealthReporter
}

// health may be nil when probing is disabled
func NewChatHandler(r ChatRouter, health HealthReporter) *ChatHandler {
	return &ChatHandler{router: r, health: health}
}

type chatBody struct {
	Message string `json:"message"`
	Model   string `json:"model"`
}

type conversationBody struct {
	Messages []models.Message `json:"messages"`
	Model    string           `json:"model"`
}

type streamBody struct {
	Message  string           `json:"message"`
	Messages []models.Message `json:"messages"`
	Model    string           `json:"model"`
}

type chatResponse struct {
	Success    bool   `json:"success"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Response   string `json:"response"`
	TokensUsed int    `json:"tokensUsed"`
}

type providerStatus struct {
	router.BackendStatus
	Health *healthcheck.Status `json:"health,omitempty"`
}

// Handles POST /api/chat
func (h *ChatHandler) Chat(c *gin.Context) {
	var body chatBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Message is required and must be a string",
		})
		return
	}

	h.dispatch(c, models.ChatRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: body.Message}},
		Tier:     body.Model,
	})
}

// Handles POST /api/chat/conversation
func (h *ChatHandler) Conversation(c *gin.Context) {
	var body conversationBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Messages array is required and must not be empty",
		})
		return
	}

	req := models.ChatRequest{Messages: body.Messages, Tier: body.Model}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.dispatch(c, req)
}

func (h *ChatHandler) dispatch(c *gin.Context, req models.ChatRequest) {
	result, err := h.router.Dispatch(c.Request.Context(), req)
	if err != nil {
		middleware.SetDispatch(c, failedDispatch(req, false, err))
		h.writeError(c, err)
		return
	}

	middleware.SetDispatch(c, middleware.Dispatch{
		Backend:    result.Backend,
		Model:      result.Model,
		Tier:       req.TierOrDefault(),
		Attempts:   len(result.Attempted),
		TokensUsed: result.TokensUsed,
	})

	c.JSON(http.StatusOK, chatResponse{
		Success:    true,
		Provider:   result.Provider,
		Model:      result.Model,
		Response:   result.Content,
		TokensUsed: result.TokensUsed,
	})
}

// Handles POST /api/chat/stream. Accepts either a single message or a full
// conversation and relays content fragments as server-sent events.
func (h *ChatHandler) Stream(c *gin.Context) {
	var body streamBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	req := models.ChatRequest{Messages: body.Messages, Tier: body.Model}
	if len(req.Messages) == 0 {
		if body.Message == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Message is required and must be a string",
			})
			return
		}
		req.Messages = []models.Message{{Role: models.RoleUser, Content: body.Message}}
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	relay, err := h.router.OpenStream(c.Request.Context(), req)
	if err != nil {
		middleware.SetDispatch(c, failedDispatch(req, true, err))
		h.writeError(c, err)
		return
	}
	defer relay.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	dispatch := middleware.Dispatch{
		Backend:  relay.Backend(),
		Model:    relay.Model(),
		Tier:     req.TierOrDefault(),
		Streamed: true,
		Attempts: len(relay.Attempted()),
	}

	for {
		fragment, err := relay.Recv()
		if errors.Is(err, io.EOF) {
			writeEvent(c, "[DONE]")
			dispatch.TokensUsed = relay.TokensUsed()
			break
		}
		if err != nil {
			log.Printf("[%s] %v", c.GetString("request_id"), err)
			writeEvent(c, encodeEvent(gin.H{"error": err.Error()}))
			dispatch.Err = err
			break
		}

		writeEvent(c, encodeEvent(gin.H{"content": fragment}))
	}

	middleware.SetDispatch(c, dispatch)
}

// Handles GET /api/providers/status
func (h *ChatHandler) ProvidersStatus(c *gin.Context) {
	backends := h.router.Status()
	providers := make([]providerStatus, 0, len(backends))

	for _, b := range backends {
		status := providerStatus{BackendStatus: b}
		if h.health != nil {
			if health, ok := h.health.GetStatus(b.Name); ok {
				status.Health = &health
			}
		}
		providers = append(providers, status)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"providers": providers,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *ChatHandler) writeError(c *gin.Context, err error) {
	var dispatchErr *router.DispatchError

	switch {
	case errors.Is(err, router.ErrAllBackendsExhausted):
		c.Header("Retry-After", strconv.Itoa(exhaustedRetryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":      err.Error(),
			"retryAfter": exhaustedRetryAfter,
		})
	case errors.As(err, &dispatchErr):
		provider := ""
		if n := len(dispatchErr.Attempted); n > 0 {
			provider = dispatchErr.Attempted[n-1]
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error":     err.Error(),
			"provider":  provider,
			"attempted": dispatchErr.Attempted,
		})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Request timed out"})
	default:
		log.Printf("[%s] Chat error: %v", c.GetString("request_id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "An error occurred while processing your request",
		})
	}
}

func failedDispatch(req models.ChatRequest, streamed bool, err error) middleware.Dispatch {
	d := middleware.Dispatch{
		Tier:     req.TierOrDefault(),
		Streamed: streamed,
		Err:      err,
	}

	var dispatchErr *router.DispatchError
	if errors.As(err, &dispatchErr) {
		d.Attempts = len(dispatchErr.Attempted)
	}

	return d
}

func encodeEvent(payload gin.H) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return `{"error":"failed to encode event"}`
	}
	return string(data)
}

// Writes one "data: <payload>" event and flushes it to the client
func writeEvent(c *gin.Context, payload string) {
	// sse writes "data:" itself; the leading space keeps the usual framing
	if err := sse.Encode(c.Writer, sse.Event{Data: " " + payload}); err != nil {
		log.Printf("[%s] Failed to write event: %v", c.GetString("request_id"), err)
		return
	}
	c.Writer.Flush()
}
