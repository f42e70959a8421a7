// Package session holds the pairing core: the session model, the
// in-memory store, and the lifecycle manager that creates sessions and
// accepts link submissions.
package session

import "time"

// Session is a short-lived pairing handle. The desktop side creates one
// and waits on it; the mobile side learns the id from the QR payload and
// submits a link to it. The link, once set, never changes.
type Session struct {
	ID        string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Link      string    `json:"link,omitempty"` // empty until the mobile side submits
}

// Live reports whether the session is still valid at the given time.
// An expired session is logically gone even if not yet swept.
func (s Session) Live(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// HasLink reports whether a link has been submitted.
func (s Session) HasLink() bool {
	return s.Link != ""
}

// Store is the authoritative registry of pairing sessions.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts a new session. The id must not already be present.
	Create(s Session) error

	// Get returns the session if it exists and is live. An expired
	// session is deleted as a side effect and reported as absent;
	// callers cannot tell "never existed" from "expired".
	Get(id string) (Session, bool)

	// SetLinkOnce sets the link if the session is live and has no link
	// yet. Returns false otherwise. First writer wins; a racing second
	// submission never overwrites.
	SetLinkOnce(id, link string) bool

	// Delete removes the session. Idempotent.
	Delete(id string)

	// Sweep removes all expired sessions. Hygiene only — Get enforces
	// expiry on its own.
	Sweep()

	// Len returns the number of stored sessions, expired ones included.
	Len() int

	// Subscribe returns a channel that receives a signal when a link is
	// set on the session, and a cancel func releasing the subscription.
	// Watchers use it to pick up link arrival without waiting out a
	// full poll interval.
	Subscribe(id string) (<-chan struct{}, func())
}
