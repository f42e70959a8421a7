package session

import (
	"fmt"
	"sync"

	"github.com/skaric/qrdrop/internal/clock"
)

// MemoryStore is the in-memory Store implementation. It uses a Clock for
// expiry checks, enabling virtual-time testing. Expiry is enforced lazily
// on read; Sweep exists for memory hygiene only.
//
// Thread-safe for concurrent use.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	subs     map[string][]chan struct{}
	clock    clock.Clock
}

// NewMemoryStore creates an empty store using the given clock.
func NewMemoryStore(c clock.Clock) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		subs:     make(map[string][]chan struct{}),
		clock:    c,
	}
}

func (m *MemoryStore) Create(s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("session %q already exists", s.ID)
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryStore) Get(id string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	if !s.Live(m.clock.Now()) {
		// Lazy eviction — expired sessions disappear on first read.
		m.removeLocked(id)
		return Session{}, false
	}
	return s, true
}

func (m *MemoryStore) SetLinkOnce(id, link string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	if !s.Live(m.clock.Now()) {
		m.removeLocked(id)
		return false
	}
	if s.HasLink() {
		return false
	}

	s.Link = link
	m.sessions[id] = s
	m.notifyLocked(id)
	return true
}

func (m *MemoryStore) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
}

func (m *MemoryStore) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for id, s := range m.sessions {
		if !s.Live(now) {
			m.removeLocked(id)
		}
	}
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Subscribe registers for the link-set signal on id. The channel has a
// one-slot buffer, so the signal is never lost even if the subscriber is
// not receiving at the moment the link arrives.
func (m *MemoryStore) Subscribe(id string) (<-chan struct{}, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan struct{}, 1)
	m.subs[id] = append(m.subs[id], ch)

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		chans := m.subs[id]
		for i, c := range chans {
			if c == ch {
				m.subs[id] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		if len(m.subs[id]) == 0 {
			delete(m.subs, id)
		}
	}
	return ch, cancel
}

// notifyLocked signals all subscribers of id. Must be called with m.mu held.
func (m *MemoryStore) notifyLocked(id string) {
	for _, ch := range m.subs[id] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// removeLocked deletes the session. Subscriptions survive removal; a
// watcher holding one simply never receives a signal and times out on
// its own schedule. Must be called with m.mu held.
func (m *MemoryStore) removeLocked(id string) {
	delete(m.sessions, id)
}
