// Package session keeps research sessions in memory for a limited time.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/signalcore/evidence-engine/internal/model"
)

// DefaultTTL is how long a session lives after creation.
const DefaultTTL = 30 * time.Minute

type entry struct {
	session *model.ResearchSession
	// changed is closed and replaced on every update, and closed for good
	// when the session expires.
	changed chan struct{}
}

// Registry is a TTL-bounded, concurrency-safe store of research sessions.
// Every call purges expired sessions before doing its work.
type Registry struct {
	ttl   time.Duration
	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	sessions map[string]*entry
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the registry clock.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(gen func() string) Option {
	return func(r *Registry) { r.newID = gen }
}

// NewRegistry creates a registry. A non-positive ttl uses DefaultTTL.
func NewRegistry(ttl time.Duration, opts ...Option) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &Registry{
		ttl:      ttl,
		now:      time.Now,
		newID:    uuid.NewString,
		sessions: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers a new idle session and returns a snapshot of it.
func (r *Registry) Create() *model.ResearchSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeLocked()

	now := r.now().UTC()
	s := &model.ResearchSession{
		ID:        r.newID(),
		Status:    model.SessionIdle,
		Jobs:      []model.ResearchJob{},
		Events:    []model.ResearchEvent{},
		StartedAt: now,
		CreatedAt: now,
	}
	r.sessions[s.ID] = &entry{session: s, changed: make(chan struct{})}
	return s.Clone()
}

// Get returns a snapshot of the session.
func (r *Registry) Get(id string) (*model.ResearchSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeLocked()

	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return e.session.Clone(), true
}

// Update applies fn to the live session under the registry lock and wakes
// watchers. It reports false, without calling fn, when the session is gone.
func (r *Registry) Update(id string, fn func(s *model.ResearchSession)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeLocked()

	e, ok := r.sessions[id]
	if !ok {
		return false
	}
	fn(e.session)
	close(e.changed)
	e.changed = make(chan struct{})
	return true
}

// Watch returns a snapshot and a channel that is closed on the next update
// or when the session expires.
func (r *Registry) Watch(id string) (*model.ResearchSession, <-chan struct{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeLocked()

	e, ok := r.sessions[id]
	if !ok {
		return nil, nil, false
	}
	return e.session.Clone(), e.changed, true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeLocked()
	return len(r.sessions)
}

// Counts returns the number of live sessions per status.
func (r *Registry) Counts() map[model.SessionStatus]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeLocked()

	out := make(map[model.SessionStatus]int)
	for _, e := range r.sessions {
		out[e.session.Status]++
	}
	return out
}

// Purge drops expired sessions and returns how many were removed.
func (r *Registry) Purge() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.purgeLocked()
}

func (r *Registry) purgeLocked() int {
	cutoff := r.now().Add(-r.ttl)
	n := 0
	for id, e := range r.sessions {
		if e.session.CreatedAt.Before(cutoff) {
			close(e.changed)
			delete(r.sessions, id)
			n++
		}
	}
	if n > 0 {
		zap.L().Debug("session: purged expired sessions", zap.Int("count", n))
	}
	return n
}
