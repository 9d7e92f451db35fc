package router

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aman-churiwal/chat-router/internal/backend"
	"github.com/aman-churiwal/chat-router/internal/models"
	"github.com/aman-churiwal/chat-router/internal/usage"
)

type fakeAdapter struct {
	mu      sync.Mutex
	calls   int
	content string
	err     error

	// builds the body of an opened stream; nil means OpenStream fails with err
	streamBody func() io.ReadCloser
}

func (f *fakeAdapter) ResolveModel(tier string) string {
	return "model-" + tier
}

func (f *fakeAdapter) Send(ctx context.Context, messages []models.Message, tier string) (*backend.Completion, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	return &backend.Completion{Model: f.ResolveModel(tier), Content: f.content}, nil
}

func (f *fakeAdapter) OpenStream(ctx context.Context, messages []models.Message, tier string) (*backend.Stream, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.streamBody == nil {
		return nil, f.err
	}
	return backend.NewStream(f.ResolveModel(tier), f.streamBody()), nil
}

func (f *fakeAdapter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testBackend struct {
	name    string
	limits  usage.Limits
	adapter *fakeAdapter
}

var roomy = usage.Limits{TokensPerDay: 1000000, RequestsPerDay: 1000, RequestsPerMinute: 100}

func newTestRouter(t *testing.T, backends ...testBackend) *Router {
	t.Helper()

	catalog := make([]backend.Descriptor, 0, len(backends))
	adapters := make(map[string]backend.Adapter, len(backends))
	for _, s := range backends {
		catalog = append(catalog, backend.Descriptor{
			Name:        s.name,
			DisplayName: strings.ToUpper(s.name),
			BaseURL:     "http://" + s.name,
			Models:      map[string]string{models.TierDefault: "model-default"},
			Limits:      s.limits,
		})
		adapters[s.name] = s.adapter
	}

	clock := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	reg, err := backend.NewRegistry(backend.RegistryConfig{
		Catalog:     catalog,
		Credentials: func(string) string { return "key" },
		Factory: func(desc backend.Descriptor, apiKey string) backend.Adapter {
			return adapters[desc.Name]
		},
		Clock: func() time.Time { return clock },
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	return New(reg)
}

func snapshot(t *testing.T, r *Router, name string) usage.Snapshot {
	t.Helper()

	b, ok := r.Registry().Get(name)
	if !ok {
		t.Fatalf("backend %s not registered", name)
	}
	return b.Usage.Snapshot()
}

func chat(content string) models.ChatRequest {
	return models.ChatRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: content}},
	}
}

func sseBody(lines ...string) func() io.ReadCloser {
	return func() io.ReadCloser {
		return io.NopCloser(strings.NewReader(strings.Join(lines, "\n\n") + "\n\n"))
	}
}

func TestDispatch_RotatesAcrossBackends(t *testing.T) {
	r := newTestRouter(t,
		testBackend{name: "a", limits: roomy, adapter: &fakeAdapter{content: "from a"}},
		testBackend{name: "b", limits: roomy, adapter: &fakeAdapter{content: "from b"}},
		testBackend{name: "c", limits: roomy, adapter: &fakeAdapter{content: "from c"}},
	)

	want := []string{"a", "b", "c", "a"}
	for i, name := range want {
		result, err := r.Dispatch(context.Background(), chat("hi"))
		if err != nil {
			t.Fatalf("dispatch %d: unexpected error: %v", i, err)
		}
		if result.Backend != name {
			t.Errorf("dispatch %d served by %s; want %s", i, result.Backend, name)
		}
		if result.Content != "from "+name {
			t.Errorf("dispatch %d content = %q", i, result.Content)
		}
	}
}

func TestDispatch_FailsOverToNextBackend(t *testing.T) {
	failing := &fakeAdapter{err: errors.New("connection reset by peer")}
	healthy := &fakeAdapter{content: "hello back"}
	r := newTestRouter(t,
		testBackend{name: "one", limits: roomy, adapter: failing},
		testBackend{name: "two", limits: roomy, adapter: healthy},
	)

	result, err := r.Dispatch(context.Background(), chat("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Backend != "two" || result.Provider != "TWO" {
		t.Errorf("served by %s/%s; want two/TWO", result.Backend, result.Provider)
	}
	if result.Model != "model-default" {
		t.Errorf("Model = %q; want model-default", result.Model)
	}
	if len(result.Attempted) != 2 {
		t.Errorf("Attempted = %v; want [one two]", result.Attempted)
	}

	one := snapshot(t, r, "one")
	if one.RequestsToday != 0 || one.TokensUsed != 0 || one.InFlight != 0 {
		t.Errorf("failed backend usage changed: %+v", one)
	}

	two := snapshot(t, r, "two")
	if two.RequestsToday != 1 {
		t.Errorf("two.RequestsToday = %d; want 1", two.RequestsToday)
	}
	if two.TokensUsed != result.TokensUsed || result.TokensUsed == 0 {
		t.Errorf("two.TokensUsed = %d; result.TokensUsed = %d", two.TokensUsed, result.TokensUsed)
	}
}

func TestDispatch_AllBackendsFailed(t *testing.T) {
	adapters := []*fakeAdapter{
		{err: errors.New("a down")},
		{err: errors.New("b down")},
		{err: errors.New("c down")},
	}
	r := newTestRouter(t,
		testBackend{name: "a", limits: roomy, adapter: adapters[0]},
		testBackend{name: "b", limits: roomy, adapter: adapters[1]},
		testBackend{name: "c", limits: roomy, adapter: adapters[2]},
	)

	_, err := r.Dispatch(context.Background(), chat("hello"))
	if !errors.Is(err, ErrAllBackendsFailed) {
		t.Fatalf("error = %v; want ErrAllBackendsFailed", err)
	}

	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("error = %T; want *DispatchError", err)
	}
	if len(dispatchErr.Attempted) != 3 {
		t.Errorf("Attempted = %v; want 3 backends", dispatchErr.Attempted)
	}
	if dispatchErr.LastErr == nil || dispatchErr.LastErr.Error() != "c down" {
		t.Errorf("LastErr = %v; want c down", dispatchErr.LastErr)
	}

	for i, a := range adapters {
		if a.Calls() != 1 {
			t.Errorf("adapter %d called %d times; want 1", i, a.Calls())
		}
	}
}

func TestDispatch_ExhaustedWithinMinute(t *testing.T) {
	limits := usage.Limits{TokensPerDay: 1000000, RequestsPerDay: 1000, RequestsPerMinute: 1}
	adapter := &fakeAdapter{content: "ok"}
	r := newTestRouter(t, testBackend{name: "solo", limits: limits, adapter: adapter})

	if _, err := r.Dispatch(context.Background(), chat("first")); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}

	_, err := r.Dispatch(context.Background(), chat("second"))
	if !errors.Is(err, ErrAllBackendsExhausted) {
		t.Fatalf("error = %v; want ErrAllBackendsExhausted", err)
	}
	if errors.Is(err, ErrAllBackendsFailed) {
		t.Error("exhaustion must not match ErrAllBackendsFailed")
	}
	if adapter.Calls() != 1 {
		t.Errorf("adapter called %d times; want 1", adapter.Calls())
	}
}

func TestDispatch_SkipsBackendsOverQuota(t *testing.T) {
	limits := usage.Limits{TokensPerDay: 1000000, RequestsPerDay: 1, RequestsPerMinute: 10}
	a := &fakeAdapter{content: "a"}
	b := &fakeAdapter{content: "b"}
	r := newTestRouter(t,
		testBackend{name: "a", limits: limits, adapter: a},
		testBackend{name: "b", limits: roomy, adapter: b},
	)

	served := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		result, err := r.Dispatch(context.Background(), chat("hi"))
		if err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
		served = append(served, result.Backend)
	}

	if strings.Join(served, ",") != "a,b,b" {
		t.Errorf("served = %v; want [a b b]", served)
	}
	if a.Calls() != 1 {
		t.Errorf("over-quota backend called %d times; want 1", a.Calls())
	}
}

func TestDispatch_FailedAttemptDoesNotStallRotation(t *testing.T) {
	r := newTestRouter(t,
		testBackend{name: "a", limits: roomy, adapter: &fakeAdapter{err: errors.New("down")}},
		testBackend{name: "b", limits: roomy, adapter: &fakeAdapter{content: "b"}},
		testBackend{name: "c", limits: roomy, adapter: &fakeAdapter{content: "c"}},
	)

	first, err := r.Dispatch(context.Background(), chat("hi"))
	if err != nil || first.Backend != "b" {
		t.Fatalf("first dispatch = %+v, %v; want b", first, err)
	}

	second, err := r.Dispatch(context.Background(), chat("hi"))
	if err != nil || second.Backend != "c" {
		t.Fatalf("second dispatch = %+v, %v; want c", second, err)
	}
}

func TestDispatch_CanceledContext(t *testing.T) {
	adapter := &fakeAdapter{content: "ok"}
	r := newTestRouter(t, testBackend{name: "a", limits: roomy, adapter: adapter})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Dispatch(ctx, chat("hi")); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v; want context.Canceled", err)
	}
	if adapter.Calls() != 0 {
		t.Errorf("adapter called %d times; want 0", adapter.Calls())
	}
}

func TestDispatch_ConcurrentRequestsRespectLimits(t *testing.T) {
	limits := usage.Limits{TokensPerDay: 1000000, RequestsPerDay: 1000, RequestsPerMinute: 5}
	r := newTestRouter(t, testBackend{name: "solo", limits: limits, adapter: &fakeAdapter{content: "ok"}})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		exhausted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Dispatch(context.Background(), chat("hi"))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrAllBackendsExhausted):
				exhausted++
			}
		}()
	}
	wg.Wait()

	if succeeded != 5 || exhausted != 15 {
		t.Errorf("succeeded=%d exhausted=%d; want 5/15", succeeded, exhausted)
	}
	if got := snapshot(t, r, "solo").RequestsThisMinute; got != 5 {
		t.Errorf("RequestsThisMinute = %d; want 5", got)
	}
}

func TestStatus(t *testing.T) {
	r := newTestRouter(t,
		testBackend{name: "a", limits: roomy, adapter: &fakeAdapter{content: "12345678"}},
		testBackend{name: "b", limits: roomy, adapter: &fakeAdapter{content: "x"}},
	)

	if _, err := r.Dispatch(context.Background(), chat("hi")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	status := r.Status()
	if len(status) != 2 {
		t.Fatalf("len(status) = %d; want 2", len(status))
	}
	if status[0].Name != "a" || status[0].Provider != "A" || status[0].RequestsToday != 1 {
		t.Errorf("status[0] = %+v", status[0])
	}
	if !status[1].Available || status[1].RequestsToday != 0 {
		t.Errorf("status[1] = %+v", status[1])
	}
	if status[0].TokensLimit != roomy.TokensPerDay || status[0].RequestsLimit != roomy.RequestsPerDay {
		t.Errorf("limits not reported: %+v", status[0])
	}
}
