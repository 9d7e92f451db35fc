package backend

import (
	"errors"
	"log"
	"strings"

	"github.com/aman-churiwal/chat-router/internal/usage"
)

// ErrNoBackends is returned when no enabled backend has a credential. The
// process cannot serve anything in that state.
var ErrNoBackends = errors.New("no backends initialized, check your API keys")

// A configured backend together with its adapter and usage counters
type Backend struct {
	Descriptor Descriptor
	Adapter    Adapter
	Usage      *usage.Tracker
}

func (b *Backend) Name() string {
	return b.Descriptor.Name
}

// Partial limit overrides; zero fields keep the catalog value
type LimitOverride struct {
	TokensPerDay      int `json:"tokens_per_day"`
	RequestsPerDay    int `json:"requests_per_day"`
	RequestsPerMinute int `json:"requests_per_minute"`
}

type RegistryConfig struct {
	// Known backends. Defaults to Catalog().
	Catalog []Descriptor

	// Backend names to enable, in rotation order. Empty enables every
	// catalog entry in catalog order.
	Enabled []string

	// Returns the credential for a backend, or "" when there is none
	Credentials func(name string) string

	Overrides map[string]LimitOverride

	// Defaults to OpenAIFactory(nil)
	Factory AdapterFactory

	Clock usage.Clock
}

// Registry holds the fixed, ordered set of usable backends.
type Registry struct {
	backends []*Backend
	byName   map[string]*Backend
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = Catalog()
	}

	factory := cfg.Factory
	if factory == nil {
		factory = OpenAIFactory(nil)
	}

	known := make(map[string]Descriptor, len(catalog))
	for _, desc := range catalog {
		known[desc.Name] = desc
	}

	r := &Registry{
		backends: make([]*Backend, 0, len(catalog)),
		byName:   make(map[string]*Backend),
	}

	for _, name := range resolveEnabled(catalog, cfg.Enabled) {
		desc, ok := known[name]
		if !ok {
			log.Printf("Warning: unknown backend %q, skipping", name)
			continue
		}

		if _, dup := r.byName[name]; dup {
			continue
		}

		apiKey := ""
		if cfg.Credentials != nil {
			apiKey = cfg.Credentials(name)
		}
		if apiKey == "" {
			log.Printf("Warning: no API key found for %s, skipping", name)
			continue
		}

		if override, ok := cfg.Overrides[name]; ok {
			desc.Limits = applyOverride(desc.Limits, override)
		}

		b := &Backend{
			Descriptor: desc,
			Adapter:    factory(desc, apiKey),
			Usage:      usage.NewTracker(desc.Limits, cfg.Clock),
		}

		r.backends = append(r.backends, b)
		r.byName[name] = b
		log.Printf("Initialized %s backend (%s)", desc.DisplayName, desc.BaseURL)
	}

	if len(r.backends) == 0 {
		return nil, ErrNoBackends
	}

	return r, nil
}

// Backends returns the backends in rotation order. The slice must not be
// modified.
func (r *Registry) Backends() []*Backend {
	return r.backends
}

func (r *Registry) Len() int {
	return len(r.backends)
}

func (r *Registry) Get(name string) (*Backend, bool) {
	b, ok := r.byName[name]
	return b, ok
}

func resolveEnabled(catalog []Descriptor, enabled []string) []string {
	names := make([]string, 0, len(enabled))
	for _, name := range enabled {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			names = append(names, name)
		}
	}

	if len(names) > 0 {
		return names
	}

	for _, desc := range catalog {
		names = append(names, desc.Name)
	}
	return names
}

func applyOverride(limits usage.Limits, override LimitOverride) usage.Limits {
	if override.TokensPerDay > 0 {
		limits.TokensPerDay = override.TokensPerDay
	}
	if override.RequestsPerDay > 0 {
		limits.RequestsPerDay = override.RequestsPerDay
	}
	if override.RequestsPerMinute > 0 {
		limits.RequestsPerMinute = override.RequestsPerMinute
	}
	return limits
}
