package healthcheck

import "time"

type Status struct {
	Backend      string    `json:"backend"`
	Reachable    bool      `json:"reachable"`
	LastCheck    time.Time `json:"lastCheck"`
	LastSuccess  time.Time `json:"lastSuccess,omitempty"`
	LastFailure  time.Time `json:"lastFailure,omitempty"`
	FailureCount int       `json:"failureCount"`
	LastError    string    `json:"lastError,omitempty"`
}

// Represents overall reachability of the upstream backends
type HealthStatus int

const (
	Healthy HealthStatus = iota
	Degraded
	Unhealthy
)

func (h HealthStatus) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}
