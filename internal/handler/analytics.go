package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aman-churiwal/chat-router/internal/models"
	"github.com/aman-churiwal/chat-router/internal/service"
	"github.com/gin-gonic/gin"
)

// Analytics is the subset of *service.AnalyticsService the admin endpoints use.
type Analytics interface {
	GetSummary(ctx context.Context, from, to time.Time) (*service.AnalyticsSummary, error)
	GetLogs(ctx context.Context, from, to time.Time, limit, offset int) ([]models.DispatchLog, error)
	CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error)
}

type AnalyticsHandler struct {
	service Analytics
}

func NewAnalyticsHandler(service Analytics) *AnalyticsHandler {
	return &AnalyticsHandler{service: service}
}

// Handles GET /admin/analytics
func (h *AnalyticsHandler) GetSummary(c *gin.Context) {
	// Parse time range
	from, to, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	summary, err := h.service.GetSummary(ctx, from, to)
	if err != nil {
		writeAnalyticsError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// Handles GET /admin/logs
func (h *AnalyticsHandler) GetLogs(c *gin.Context) {
	// Parse time range
	from, to, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Parse pagination
	limit := 100
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	offset := 0
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	ctx := c.Request.Context()
	logs, err := h.service.GetLogs(ctx, from, to, limit, offset)
	if err != nil {
		writeAnalyticsError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":   logs,
		"limit":  limit,
		"offset": offset,
	})
}

// Handles DELETE /admin/logs?retention_days=N (default 30)
func (h *AnalyticsHandler) Cleanup(c *gin.Context) {
	retentionDays := 30
	if daysStr := c.Query("retention_days"); daysStr != "" {
		days, err := strconv.Atoi(daysStr)
		if err != nil || days < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "retention_days must be a positive integer"})
			return
		}
		retentionDays = days
	}

	deleted, err := h.service.CleanupOldLogs(c.Request.Context(), retentionDays)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deleted":        deleted,
		"retention_days": retentionDays,
	})
}

func writeAnalyticsError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrInvalidRange) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// Parses 'from' and 'to' query parameters
func parseTimeRange(c *gin.Context) (time.Time, time.Time, error) {
	// Default: last 24 hours
	to := time.Now()
	from := to.Add(-24 * time.Hour)

	if fromStr := c.Query("from"); fromStr != "" {
		parsed, err := parseTime(fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}

	if toStr := c.Query("to"); toStr != "" {
		parsed, err := parseTime(toStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed
	}

	return from, to, nil
}

// Accepts RFC 3339 or a Unix timestamp in seconds
func parseTime(value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return parsed, nil
	}

	timestamp, convErr := strconv.ParseInt(value, 10, 64)
	if convErr != nil {
		return time.Time{}, err
	}
	return time.Unix(timestamp, 0), nil
}
