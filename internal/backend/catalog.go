package backend

import (
	"github.com/aman-churiwal/chat-router/internal/models"
	"github.com/aman-churiwal/chat-router/internal/usage"
)

// Describes an upstream chat-completion service
type Descriptor struct {
	Name        string            `json:"name"`
	DisplayName string            `json:"display_name"`
	BaseURL     string            `json:"base_url"`
	Models      map[string]string `json:"models"` // tier -> model identifier
	Limits      usage.Limits      `json:"limits"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// ResolveModel maps a tier to this service's model, falling back to the
// default tier for anything it does not know.
func (d Descriptor) ResolveModel(tier string) string {
	if model, ok := d.Models[tier]; ok && model != "" {
		return model
	}
	return d.Models[models.TierDefault]
}

// Catalog returns the built-in backends in their default rotation order.
func Catalog() []Descriptor {
	return []Descriptor{
		{
			Name:        "cerebras",
			DisplayName: "Cerebras",
			BaseURL:     "https://api.cerebras.ai/v1",
			Models: map[string]string{
				models.TierDefault: "llama3.1-8b",
				models.TierFast:    "llama3.1-8b",
				models.TierSmart:   "llama3.1-70b",
			},
			Limits: usage.Limits{
				TokensPerDay:      1000000,
				RequestsPerMinute: 30,
				RequestsPerDay:    14400,
			},
		},
		{
			Name:        "groq",
			DisplayName: "Groq",
			BaseURL:     "https://api.groq.com/openai/v1",
			Models: map[string]string{
				models.TierDefault: "llama-3.3-70b-versatile",
				models.TierFast:    "llama-3.1-8b-instant",
				models.TierSmart:   "llama-3.3-70b-versatile",
			},
			Limits: usage.Limits{
				TokensPerDay:      14400,
				RequestsPerMinute: 30,
				RequestsPerDay:    14400,
			},
		},
		{
			Name:        "openrouter",
			DisplayName: "OpenRouter",
			BaseURL:     "https://openrouter.ai/api/v1",
			Models: map[string]string{
				models.TierDefault: "meta-llama/llama-3.2-3b-instruct:free",
				models.TierFast:    "meta-llama/llama-3.2-3b-instruct:free",
				models.TierSmart:   "google/gemini-2.0-flash-exp:free",
			},
			Limits: usage.Limits{
				TokensPerDay:      200000,
				RequestsPerMinute: 20,
				RequestsPerDay:    10000,
			},
			Headers: map[string]string{
				"HTTP-Referer": "https://github.com/aman-churiwal/chat-router",
				"X-Title":      "chat-router",
			},
		},
	}
}
