// Package activity records pairing lifecycle events for the operations
// dashboard and optional NDJSON export.
package activity

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// Type identifies a lifecycle event.
type Type string

const (
	TypeSessionCreated Type = "session_created"
	TypeLinkDelivered  Type = "link_delivered"
	TypeWatchTimeout   Type = "watch_timeout"
	TypeWatchError     Type = "watch_error"
	TypeSubmitRejected Type = "submit_rejected"
	TypeRateLimited    Type = "rate_limited"
)

// Event is one recorded lifecycle event. Detail is free-form and must
// never contain the relayed link itself — the log outlives the session.
type Event struct {
	Time      time.Time `json:"time"`
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Stats is a snapshot of event counts by type.
type Stats struct {
	Created   int `json:"created"`
	Delivered int `json:"delivered"`
	Timeouts  int `json:"timeouts"`
	Errors    int `json:"errors"`
	Rejected  int `json:"rejected"`
	Limited   int `json:"limited"`
}

// Log captures lifecycle events. Thread-safe for concurrent use.
type Log struct {
	mu     sync.Mutex
	events []Event
	stats  Stats
	writer io.Writer // optional: stream events as they arrive
}

// New creates a Log. If w is non-nil, events are also written to w as
// newline-delimited JSON as they arrive.
func New(w io.Writer) *Log {
	return &Log{
		writer: w,
	}
}

// Record captures a single event.
func (l *Log) Record(ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, ev)
	switch ev.Type {
	case TypeSessionCreated:
		l.stats.Created++
	case TypeLinkDelivered:
		l.stats.Delivered++
	case TypeWatchTimeout:
		l.stats.Timeouts++
	case TypeWatchError:
		l.stats.Errors++
	case TypeSubmitRejected:
		l.stats.Rejected++
	case TypeRateLimited:
		l.stats.Limited++
	}

	if l.writer != nil {
		if err := json.NewEncoder(l.writer).Encode(ev); err != nil {
			return err
		}
	}
	return nil
}

// Events returns a copy of all recorded events.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of recorded events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Stats returns a snapshot of per-type counters.
func (l *Log) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// ExportJSON writes all events to w as a JSON array.
func (l *Log) ExportJSON(w io.Writer) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(l.events)
}

// ExportFile writes all events to a JSON file.
func (l *Log) ExportFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return l.ExportJSON(f)
}
