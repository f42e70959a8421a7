package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skaric/qrdrop/internal/clock"
	"github.com/skaric/qrdrop/internal/limiter"
)

// DefaultTTL is how long a pairing session stays valid.
const DefaultTTL = 5 * time.Minute

// ErrSessionNotFound covers "never existed", "expired", and "link already
// set". The cases are deliberately indistinguishable so an untrusted
// submitter learns nothing about session state.
var ErrSessionNotFound = errors.New("session not found or expired")

// RateLimitedError reports an admission rejection. RetryAt is when the
// caller's window resets.
type RateLimitedError struct {
	RetryAt time.Time
}

func (e *RateLimitedError) Error() string {
	return "rate limit exceeded"
}

// InvalidLinkError reports a rejected link submission. Reason is safe to
// return to the submitter.
type InvalidLinkError struct {
	Reason string
}

func (e *InvalidLinkError) Error() string {
	return e.Reason
}

// Manager orchestrates the session lifecycle: creation behind the
// per-requester limiter, submission behind the per-session limiter and
// link validation. All state lives in the Store.
type Manager struct {
	store         Store
	clock         clock.Clock
	ttl           time.Duration
	createLimiter limiter.Limiter
	submitLimiter limiter.Limiter
}

// NewManager wires a Manager. createLim is keyed by requester network
// identity, submitLim by session id; the scopes are independent.
func NewManager(store Store, c clock.Clock, ttl time.Duration, createLim, submitLim limiter.Limiter) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store:         store,
		clock:         c,
		ttl:           ttl,
		createLimiter: createLim,
		submitLimiter: submitLim,
	}
}

// TTL returns the session lifetime the manager stamps on new sessions.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Create makes a new pairing session for the given requester identity.
// Returns *RateLimitedError when the creation scope rejects the requester.
func (m *Manager) Create(ctx context.Context, requester string) (Session, error) {
	d := m.createLimiter.Allow(ctx, requester)
	if !d.Allowed {
		return Session{}, &RateLimitedError{RetryAt: d.RetryAt}
	}

	id, err := NewID()
	if err != nil {
		return Session{}, err
	}

	now := m.clock.Now()
	s := Session{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.Create(s); err != nil {
		return Session{}, fmt.Errorf("storing session: %w", err)
	}
	return s, nil
}

// Submit validates and relays a link to the session. Checks run in
// priority order: admission first (cheap rejection of abusive traffic
// before any parsing), then sanitization and validation, then the
// at-most-once store write. Returns *RateLimitedError, *InvalidLinkError,
// or ErrSessionNotFound accordingly.
func (m *Manager) Submit(ctx context.Context, id, rawLink string) error {
	d := m.submitLimiter.Allow(ctx, id)
	if !d.Allowed {
		return &RateLimitedError{RetryAt: d.RetryAt}
	}

	link, err := ValidateLink(rawLink)
	if err != nil {
		return err
	}

	if !m.store.SetLinkOnce(id, link) {
		return ErrSessionNotFound
	}
	return nil
}
