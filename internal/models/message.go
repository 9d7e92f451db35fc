package models

import "fmt"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// Model tiers understood by every backend. Unknown tiers resolve to TierDefault.
const (
	TierDefault = "default"
	TierFast    = "fast"
	TierSmart   = "smart"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Messages []Message
	Tier     string
}

// Validate checks that the conversation is non-empty and every message has a
// known role and some content.
func (r ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("messages array is required and must not be empty")
	}

	for i, msg := range r.Messages {
		if !msg.Role.Valid() {
			return fmt.Errorf("message %d: invalid role %q, must be one of: user, assistant, system", i, msg.Role)
		}
		if msg.Content == "" {
			return fmt.Errorf("message %d: content must be a non-empty string", i)
		}
	}

	return nil
}

// TierOrDefault returns the requested tier, or TierDefault when none was given.
func (r ChatRequest) TierOrDefault() string {
	if r.Tier == "" {
		return TierDefault
	}
	return r.Tier
}
