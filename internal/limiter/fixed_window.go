package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/skaric/qrdrop/internal/clock"
)

// FixedWindow implements fixed window counter admission control.
//
// Time is divided into fixed windows. Each key has a counter; requests
// increment it and are denied once it reaches the limit. The counter
// resets at the start of each new window.
//
// Counters for keys that go quiet are not removed on the hot path;
// Sweep removes them so memory stays bounded independent of how many
// distinct identifiers have ever been seen.
//
// Uses a Clock so tests can advance windows with virtual time.
type FixedWindow struct {
	clock  clock.Clock
	limit  int
	window time.Duration
	mu     sync.Mutex
	counts map[string]*windowCounter
}

type windowCounter struct {
	count    int
	windowID int64 // which window this count belongs to
}

// NewFixedWindow creates a fixed window limiter.
//   - limit: max requests admitted per window
//   - window: duration of each fixed window
//   - c: clock to use for time
func NewFixedWindow(limit int, window time.Duration, c clock.Clock) *FixedWindow {
	return &FixedWindow{
		clock:  c,
		limit:  limit,
		window: window,
		counts: make(map[string]*windowCounter),
	}
}

// windowID returns a numeric identifier for the fixed window containing t.
func (fw *FixedWindow) windowID(t time.Time) int64 {
	return t.UnixNano() / int64(fw.window)
}

// windowStart returns the start time of the window containing t.
func (fw *FixedWindow) windowStart(t time.Time) time.Time {
	id := fw.windowID(t)
	return time.Unix(0, id*int64(fw.window))
}

func (fw *FixedWindow) Allow(_ context.Context, key string) Decision {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	now := fw.clock.Now()
	currentWindowID := fw.windowID(now)
	resetAt := fw.windowStart(now).Add(fw.window)

	wc, ok := fw.counts[key]
	if !ok || wc.windowID != currentWindowID {
		// New window — reset counter.
		wc = &windowCounter{
			count:    0,
			windowID: currentWindowID,
		}
		fw.counts[key] = wc
	}

	if wc.count < fw.limit {
		wc.count++
		return Decision{
			Allowed:   true,
			Remaining: fw.limit - wc.count,
			Limit:     fw.limit,
			ResetAt:   resetAt,
		}
	}

	return Decision{
		Allowed:   false,
		Remaining: 0,
		Limit:     fw.limit,
		ResetAt:   resetAt,
		RetryAt:   resetAt,
	}
}

// Sweep removes counters whose window has elapsed. Safe to call
// concurrently with Allow. Hygiene only — Allow resets stale windows
// on its own, so correctness never depends on sweeping.
func (fw *FixedWindow) Sweep() {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	currentWindowID := fw.windowID(fw.clock.Now())
	for key, wc := range fw.counts {
		if wc.windowID != currentWindowID {
			delete(fw.counts, key)
		}
	}
}

// Len returns the number of tracked keys (including stale ones not yet swept).
func (fw *FixedWindow) Len() int {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return len(fw.counts)
}
