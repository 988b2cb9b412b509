package paging

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultIdleTimeout is how long a session may go untouched before the
// registry forgets it.
const DefaultIdleTimeout = 30 * time.Minute

type entry struct {
	session  *Session
	lastUsed time.Time
}

// Registry keeps the sessions of open surfaces by id. Sessions idle for
// longer than the idle timeout are dropped, so surfaces that close without
// deleting their session do not leak it.
type Registry struct {
	cfg  Config
	idle time.Duration
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewRegistry creates a registry whose sessions share cfg.
func NewRegistry(cfg Config) *Registry {
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Registry{
		cfg:      cfg,
		idle:     idle,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

// Create registers a new session under a random id.
func (r *Registry) Create() *Session {
	s := NewSession(uuid.NewString(), r.cfg)

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.pruneLocked(now)
	r.sessions[s.ID()] = &entry{session: s, lastUsed: now}
	return s
}

// Get returns the session for id and marks it as used.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	now := r.now()
	if now.Sub(e.lastUsed) > r.idle {
		delete(r.sessions, id)
		return nil, false
	}
	e.lastUsed = now
	return e.session, true
}

// Delete forgets the session for id.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(r.now())
	return len(r.sessions)
}

func (r *Registry) pruneLocked(now time.Time) {
	for id, e := range r.sessions {
		if now.Sub(e.lastUsed) > r.idle {
			delete(r.sessions, id)
		}
	}
}
