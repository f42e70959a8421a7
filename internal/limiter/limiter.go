package limiter

import (
	"context"
	"time"
)

// Limiter is the admission control interface. Both pairing endpoints sit
// behind one: session creation keyed by requester IP, link submission
// keyed by session id.
type Limiter interface {
	// Allow checks if a request identified by key is admitted.
	Allow(ctx context.Context, key string) Decision
}

// Decision captures the result of an admission check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"` // Requests remaining after this check
	Limit     int       `json:"limit"`     // Max requests per window
	ResetAt   time.Time `json:"reset_at"`  // When the window resets
	RetryAt   time.Time `json:"retry_at"`  // Earliest time to retry (if denied)
}

// Config holds the parameters for one limiter scope.
type Config struct {
	Rate   int           `json:"rate"`   // Requests admitted per window
	Window time.Duration `json:"window"` // Window duration
}
