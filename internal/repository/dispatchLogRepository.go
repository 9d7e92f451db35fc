package repository

import (
	"context"
	"time"

	"github.com/aman-churiwal/chat-router/internal/models"
	"github.com/aman-churiwal/chat-router/internal/storage"
)

type DispatchLogRepository struct {
	db *storage.Postgres
}

func NewDispatchLogRepository(db *storage.Postgres) *DispatchLogRepository {
	return &DispatchLogRepository{db: db}
}

// Inserts multiple dispatch logs (for batch insertion)
func (r *DispatchLogRepository) CreateBatch(ctx context.Context, logs []models.DispatchLog) error {
	if len(logs) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&logs).Error
}

// Retrieves logs within a time range, newest first
func (r *DispatchLogRepository) FindByTimeRange(ctx context.Context, from, to time.Time, limit, offset int) ([]models.DispatchLog, error) {
	var logs []models.DispatchLog

	err := r.db.DB.WithContext(ctx).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&logs).Error

	return logs, err
}

// Aggregated dispatch counts for one backend
type BackendTotals struct {
	Backend      string  `json:"backend"`
	Requests     int64   `json:"requests"`
	Failures     int64   `json:"failures"`
	Streamed     int64   `json:"streamed"`
	TokensUsed   int64   `json:"tokensUsed"`
	AvgLatencyMs float64 `json:"avgLatencyMs"`
}

// Groups dispatches in a time range by the backend that served them.
// Requests that no backend served are grouped under an empty name.
func (r *DispatchLogRepository) TotalsByBackend(ctx context.Context, from, to time.Time) ([]BackendTotals, error) {
	var results []BackendTotals

	err := r.db.DB.WithContext(ctx).
		Model(&models.DispatchLog{}).
		Select(`backend,
			COUNT(*) AS requests,
			SUM(CASE WHEN success THEN 0 ELSE 1 END) AS failures,
			SUM(CASE WHEN streamed THEN 1 ELSE 0 END) AS streamed,
			COALESCE(SUM(tokens_used), 0) AS tokens_used,
			AVG(latency_ms) AS avg_latency_ms`).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("backend").
		Order("requests DESC").
		Scan(&results).Error

	return results, err
}

// Deletes logs older than the specified time
func (r *DispatchLogRepository) DeleteOldLogs(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.DispatchLog{})

	return result.RowsAffected, result.Error
}
