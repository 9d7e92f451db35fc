package models

import (
	"time"

	"github.com/google/uuid"
)

// Represents one routed chat request
type DispatchLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	RequestID  uuid.UUID `gorm:"type:uuid;index" json:"request_id"`
	Timestamp  time.Time `gorm:"index" json:"timestamp"`
	Backend    string    `gorm:"index" json:"backend,omitempty"`
	Model      string    `json:"model,omitempty"`
	Tier       string    `json:"tier"`
	Streamed   bool      `json:"streamed"`
	Success    bool      `gorm:"index" json:"success"`
	Attempts   int       `json:"attempts"`
	TokensUsed int       `json:"tokens_used"`
	LatencyMs  int       `json:"latency_ms"`
	Error      string    `json:"error,omitempty"`
}

func (DispatchLog) TableName() string {
	return "dispatch_logs"
}
