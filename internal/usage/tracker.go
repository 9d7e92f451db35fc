package usage

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	"github.com/aman-churiwal/chat-router/internal/models"
)

// Clock returns the current time. Trackers take one so resets can be tested
// without waiting on the wall clock.
type Clock func() time.Time

type Limits struct {
	TokensPerDay      int `json:"tokens_per_day"`
	RequestsPerDay    int `json:"requests_per_day"`
	RequestsPerMinute int `json:"requests_per_minute"`
}

// Point-in-time view of a tracker, safe to hand out
type Snapshot struct {
	TokensUsed         int  `json:"tokensUsed"`
	TokensLimit        int  `json:"tokensLimit"`
	RequestsToday      int  `json:"requestsToday"`
	RequestsLimit      int  `json:"requestsLimit"`
	RequestsThisMinute int  `json:"requestsThisMinute"`
	RequestsPerMinute  int  `json:"requestsPerMinute"`
	InFlight           int  `json:"inFlight"`
	Available          bool `json:"available"`
}

// Tracker keeps the rolling counters of a single backend.
//
// Counters only grow between resets. The daily counters reset when the
// calendar date changes, the minute counter once a full minute has passed
// since its last reset. In-flight reservations count against the request
// limits until they are committed or released.
type Tracker struct {
	mu    sync.Mutex
	clock Clock

	limits Limits

	tokensToday        int
	requestsToday      int
	requestsThisMinute int
	inFlight           int

	lastDailyReset  time.Time
	lastMinuteReset time.Time
}

func NewTracker(limits Limits, clock Clock) *Tracker {
	if clock == nil {
		clock = time.Now
	}

	now := clock()
	return &Tracker{
		clock:           clock,
		limits:          limits,
		lastDailyReset:  now,
		lastMinuteReset: now,
	}
}

func (t *Tracker) Limits() Limits {
	return t.limits
}

// CanAccept reports whether one more request fits in every limit.
func (t *Tracker) CanAccept() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfNeeded()
	return t.canAccept()
}

// Record adds a completed request and its token cost. It does not re-check
// the limits.
func (t *Tracker) Record(tokensUsed int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfNeeded()
	t.record(tokensUsed)
}

// Reserve checks the limits and, if there is room, holds one request slot
// until Commit or Release is called.
func (t *Tracker) Reserve() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfNeeded()
	if !t.canAccept() {
		return false
	}

	t.inFlight++
	return true
}

// Release gives back a reserved slot without charging any usage.
func (t *Tracker) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inFlight > 0 {
		t.inFlight--
	}
}

// Commit turns a reserved slot into a recorded request.
func (t *Tracker) Commit(tokensUsed int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inFlight > 0 {
		t.inFlight--
	}
	t.resetIfNeeded()
	t.record(tokensUsed)
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfNeeded()
	return Snapshot{
		TokensUsed:         t.tokensToday,
		TokensLimit:        t.limits.TokensPerDay,
		RequestsToday:      t.requestsToday,
		RequestsLimit:      t.limits.RequestsPerDay,
		RequestsThisMinute: t.requestsThisMinute,
		RequestsPerMinute:  t.limits.RequestsPerMinute,
		InFlight:           t.inFlight,
		Available:          t.canAccept(),
	}
}

// Callers must hold t.mu.
func (t *Tracker) canAccept() bool {
	withinDaily := t.requestsToday+t.inFlight < t.limits.RequestsPerDay
	withinMinute := t.requestsThisMinute+t.inFlight < t.limits.RequestsPerMinute
	withinTokens := t.tokensToday < t.limits.TokensPerDay

	return withinDaily && withinMinute && withinTokens
}

// Callers must hold t.mu.
func (t *Tracker) record(tokensUsed int) {
	t.tokensToday += tokensUsed
	t.requestsToday++
	t.requestsThisMinute++
}

// Callers must hold t.mu.
func (t *Tracker) resetIfNeeded() {
	now := t.clock()

	if !sameDate(now, t.lastDailyReset) {
		t.tokensToday = 0
		t.requestsToday = 0
		t.lastDailyReset = now
	}

	if now.Sub(t.lastMinuteReset) >= time.Minute {
		t.requestsThisMinute = 0
		t.lastMinuteReset = now
	}
}

// Compares full calendar dates in now's location, so a backend idle for a
// month does not look reset on a matching day of the month.
func sameDate(now, last time.Time) bool {
	y1, m1, d1 := now.Date()
	y2, m2, d2 := last.In(now.Location()).Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// EstimateTokens approximates the token cost of an exchange at four
// characters per token over the serialized request plus the response text.
// Characters are UTF-16 code units, so characters outside the BMP count twice.
func EstimateTokens(messages []models.Message, content string) int {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(messages); err != nil {
		return 0
	}

	encoded := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	chars := utf16Len(string(encoded)) + utf16Len(content)

	// The encoder writes U+2028 and U+2029 as six-character escapes
	for _, m := range messages {
		for _, field := range []string{string(m.Role), m.Content} {
			chars -= 5 * (strings.Count(field, "\u2028") + strings.Count(field, "\u2029"))
		}
	}

	return (chars + 3) / 4
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}
