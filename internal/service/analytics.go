package service

import (
	"context"
	"errors"
	"time"

	"github.com/aman-churiwal/chat-router/internal/models"
	"github.com/aman-churiwal/chat-router/internal/repository"
)

var ErrInvalidRange = errors.New("from must be before to")

// Reads the dispatch log. Satisfied by *repository.DispatchLogRepository.
type DispatchLogStore interface {
	TotalsByBackend(ctx context.Context, from, to time.Time) ([]repository.BackendTotals, error)
	FindByTimeRange(ctx context.Context, from, to time.Time, limit, offset int) ([]models.DispatchLog, error)
	DeleteOldLogs(ctx context.Context, before time.Time) (int64, error)
}

type AnalyticsService struct {
	repository DispatchLogStore
}

func NewAnalyticsService(repo DispatchLogStore) *AnalyticsService {
	return &AnalyticsService{repository: repo}
}

// Holds analytics summary data
type AnalyticsSummary struct {
	From          time.Time                  `json:"from"`
	To            time.Time                  `json:"to"`
	TotalRequests int64                      `json:"totalRequests"`
	TotalFailures int64                      `json:"totalFailures"`
	TotalTokens   int64                      `json:"totalTokens"`
	SuccessRate   float64                    `json:"successRate"`
	Backends      []repository.BackendTotals `json:"backends"`
}

// Retrieves per-backend totals for a time range
func (s *AnalyticsService) GetSummary(ctx context.Context, from, to time.Time) (*AnalyticsSummary, error) {
	if !from.Before(to) {
		return nil, ErrInvalidRange
	}

	totals, err := s.repository.TotalsByBackend(ctx, from, to)
	if err != nil {
		return nil, err
	}

	summary := &AnalyticsSummary{
		From:     from,
		To:       to,
		Backends: totals,
	}
	if summary.Backends == nil {
		summary.Backends = []repository.BackendTotals{}
	}

	for _, t := range totals {
		summary.TotalRequests += t.Requests
		summary.TotalFailures += t.Failures
		summary.TotalTokens += t.TokensUsed
	}

	if summary.TotalRequests > 0 {
		successes := summary.TotalRequests - summary.TotalFailures
		summary.SuccessRate = (float64(successes) / float64(summary.TotalRequests)) * 100
	}

	return summary, nil
}

// Retrieves dispatch logs with pagination
func (s *AnalyticsService) GetLogs(ctx context.Context, from, to time.Time, limit, offset int) ([]models.DispatchLog, error) {
	if !from.Before(to) {
		return nil, ErrInvalidRange
	}

	return s.repository.FindByTimeRange(ctx, from, to, limit, offset)
}

// Deletes logs older than specified retention period
func (s *AnalyticsService) CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error) {
	cutOffDate := time.Now().AddDate(0, 0, -retentionDays)
	return s.repository.DeleteOldLogs(ctx, cutOffDate)
}
