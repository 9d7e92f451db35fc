package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/aman-churiwal/chat-router/internal/models"
)

type nopAdapter struct {
	desc Descriptor
}

func (a nopAdapter) ResolveModel(tier string) string { return a.desc.ResolveModel(tier) }

func (a nopAdapter) Send(ctx context.Context, messages []models.Message, tier string) (*Completion, error) {
	return &Completion{Model: a.ResolveModel(tier)}, nil
}

func (a nopAdapter) OpenStream(ctx context.Context, messages []models.Message, tier string) (*Stream, error) {
	return nil, errors.New("not supported")
}

func nopFactory(desc Descriptor, apiKey string) Adapter {
	return nopAdapter{desc: desc}
}

func credentials(keys map[string]string) func(string) string {
	return func(name string) string { return keys[name] }
}

func names(r *Registry) []string {
	out := make([]string, 0, r.Len())
	for _, b := range r.Backends() {
		out = append(out, b.Name())
	}
	return out
}

func TestNewRegistry(t *testing.T) {
	allKeys := map[string]string{"cerebras": "c", "groq": "g", "openrouter": "o"}

	tests := []struct {
		name    string
		enabled []string
		keys    map[string]string
		want    []string
		wantErr error
	}{
		{
			name: "all known when enabled list is empty",
			keys: allKeys,
			want: []string{"cerebras", "groq", "openrouter"},
		},
		{
			name:    "enabled list order wins",
			enabled: []string{"openrouter", " Groq "},
			keys:    allKeys,
			want:    []string{"openrouter", "groq"},
		},
		{
			name:    "unknown and duplicate names are skipped",
			enabled: []string{"groq", "mystery", "groq"},
			keys:    allKeys,
			want:    []string{"groq"},
		},
		{
			name: "missing credentials are skipped",
			keys: map[string]string{"groq": "g"},
			want: []string{"groq"},
		},
		{
			name:    "no credentials at all",
			keys:    map[string]string{},
			wantErr: ErrNoBackends,
		},
		{
			name:    "only unknown backends enabled",
			enabled: []string{"mystery"},
			keys:    allKeys,
			wantErr: ErrNoBackends,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := NewRegistry(RegistryConfig{
				Enabled:     tt.enabled,
				Credentials: credentials(tt.keys),
				Factory:     nopFactory,
			})

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v; want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			got := names(reg)
			if len(got) != len(tt.want) {
				t.Fatalf("backends = %v; want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("backends = %v; want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestNewRegistry_Overrides(t *testing.T) {
	reg, err := NewRegistry(RegistryConfig{
		Enabled:     []string{"groq"},
		Credentials: credentials(map[string]string{"groq": "g"}),
		Overrides: map[string]LimitOverride{
			"groq": {RequestsPerMinute: 2},
		},
		Factory: nopFactory,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b, ok := reg.Get("groq")
	if !ok {
		t.Fatal("groq not registered")
	}

	limits := b.Usage.Limits()
	if limits.RequestsPerMinute != 2 {
		t.Errorf("RequestsPerMinute = %d; want 2", limits.RequestsPerMinute)
	}
	if limits.TokensPerDay != 14400 || limits.RequestsPerDay != 14400 {
		t.Errorf("non-overridden limits changed: %+v", limits)
	}

	if _, ok := reg.Get("cerebras"); ok {
		t.Error("cerebras should not be registered")
	}
}
