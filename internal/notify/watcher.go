// Package notify implements the per-session notification channel: a
// watch loop that observes one pairing session and resolves to exactly
// one terminal event.
package notify

import (
	"context"
	"time"

	"github.com/skaric/qrdrop/internal/clock"
	"github.com/skaric/qrdrop/internal/session"
)

// EventType identifies a notification event.
type EventType string

const (
	// EventConnected acknowledges the channel is established.
	EventConnected EventType = "connected"
	// EventLink delivers the relayed link. Terminal.
	EventLink EventType = "link"
	// EventTimeout reports the session TTL elapsed without a link. Terminal.
	EventTimeout EventType = "timeout"
	// EventError reports the session is gone or was never found. Terminal.
	EventError EventType = "error"
)

// Event is one notification record. Fields besides Type are populated
// per event type: SessionID for connected, Link for link, Message for
// timeout and error.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	Link      string    `json:"link,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Config tunes the watch loop.
type Config struct {
	// PollInterval is how often the session is re-checked. The store's
	// subscribe signal usually wakes the loop sooner; polling is the
	// correctness backstop.
	PollInterval time.Duration
	// Grace is how long absence of the session after channel open is
	// treated as "not yet created" rather than an error. Covers the
	// race where a listener connects before the creating request's
	// write is observable.
	Grace time.Duration
	// TTL bounds the whole watch. The loop always terminates by
	// TTL plus one poll interval.
	TTL time.Duration
}

const (
	defaultPollInterval = time.Second
	defaultGrace        = 3 * time.Second
)

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.Grace <= 0 {
		c.Grace = defaultGrace
	}
	if c.TTL <= 0 {
		c.TTL = session.DefaultTTL
	}
	return c
}

// Watcher builds notification channels over a session store.
type Watcher struct {
	store session.Store
	clock clock.Clock
	cfg   Config
}

// New creates a Watcher. Zero config fields fall back to defaults
// (1s poll, 3s grace, session TTL).
func New(store session.Store, c clock.Clock, cfg Config) *Watcher {
	return &Watcher{
		store: store,
		clock: c,
		cfg:   cfg.withDefaults(),
	}
}

// Watch observes the session until a terminal outcome. The returned
// channel carries a connected acknowledgment followed by exactly one of
// link, timeout, or error, then closes. Cancelling ctx stops the loop
// and closes the channel without a terminal event — there is no one
// left to receive it.
//
// On link delivery the session is deleted; its relay is complete.
func (w *Watcher) Watch(ctx context.Context, id string) <-chan Event {
	ch := make(chan Event)
	go w.run(ctx, id, ch)
	return ch
}

func (w *Watcher) run(ctx context.Context, id string, ch chan<- Event) {
	defer close(ch)

	opened := w.clock.Now()
	signal, cancel := w.store.Subscribe(id)
	defer cancel()

	if !w.send(ctx, ch, Event{Type: EventConnected, SessionID: id}) {
		return
	}

	for {
		if w.clock.Since(opened) >= w.cfg.TTL {
			w.send(ctx, ch, Event{Type: EventTimeout, Message: "session expired before a link was received"})
			return
		}

		s, ok := w.store.Get(id)
		switch {
		case !ok:
			if w.clock.Since(opened) >= w.cfg.Grace {
				w.send(ctx, ch, Event{Type: EventError, Message: "session not found or expired"})
				return
			}
			// Within the grace period absence means "not created yet";
			// keep polling silently.
		case s.HasLink():
			w.store.Delete(id)
			w.send(ctx, ch, Event{Type: EventLink, Link: s.Link})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-signal:
		case <-w.clock.After(w.cfg.PollInterval):
		}
	}
}

// send delivers ev unless ctx is cancelled first. Returns false when the
// observer is gone.
func (w *Watcher) send(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
