package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry maps session ids to live sessions for the lifetime of the process.
type Registry struct {
	mu             sync.RWMutex
	sessions       map[string]*Session
	endedRetention time.Duration
	onReap         func(*Session)
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// SetEndedRetention controls how long ended sessions stay queryable before
// the janitor removes them. Zero keeps them until Remove is called.
func (r *Registry) SetEndedRetention(d time.Duration) {
	if d < 0 {
		d = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endedRetention = d
}

func (r *Registry) SetReapHook(hook func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReap = hook
}

func (r *Registry) Create() *Session {
	s := newSession(uuid.NewString(), time.Now().UTC())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.id] = s
	return s
}

func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Remove drops a session from the registry and reports whether it existed.
func (r *Registry) Remove(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return false
	}
	delete(r.sessions, sessionID)
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, s := range r.sessions {
		if !s.Ended() {
			count++
		}
	}
	return count
}

func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.reapEnded(time.Now().UTC())
			}
		}
	}()
}

func (r *Registry) reapEnded(now time.Time) {
	var reaped []*Session

	r.mu.Lock()
	retention := r.endedRetention
	if retention <= 0 {
		r.mu.Unlock()
		return
	}
	for id, s := range r.sessions {
		endedAt := s.EndedAt()
		if endedAt.IsZero() || now.Sub(endedAt) < retention {
			continue
		}
		delete(r.sessions, id)
		reaped = append(reaped, s)
	}
	hook := r.onReap
	r.mu.Unlock()

	if hook != nil {
		for _, s := range reaped {
			hook(s)
		}
	}
}
