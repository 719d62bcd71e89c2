package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxline/voxline/pkg/logging"
)

// Registry tracks live conversations and reaps idle ones.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Conversation
	deps     Deps
	idle     time.Duration
	logger   *slog.Logger
}

func NewRegistry(deps Deps, idle time.Duration) *Registry {
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &Registry{
		sessions: make(map[string]*Conversation),
		deps:     deps,
		idle:     idle,
		logger:   logging.NewComponentLogger(slog.Default(), "registry"),
	}
}

// Create starts a fresh conversation. An empty id gets a generated one;
// a caller-supplied id that already exists returns the existing session.
func (r *Registry) Create(id string) *Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" {
		id = uuid.NewString()
	}
	if c, ok := r.sessions[id]; ok {
		return c
	}
	c := NewConversation(id, r.deps)
	r.sessions[id] = c
	r.logger.Info("session created", "session_id", id, "active", len(r.sessions))
	return c
}

func (r *Registry) Get(id string) (*Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sessions[id]
	return c, ok
}

// Remove closes and forgets a conversation.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	c, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		c.Close()
		r.logger.Info("session removed", "session_id", id)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep runs the idle reaper until ctx ends.
func (r *Registry) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reapIdle()
		}
	}
}

func (r *Registry) reapIdle() {
	cutoff := time.Now().Add(-r.idle)
	r.mu.Lock()
	var expired []*Conversation
	for id, c := range r.sessions {
		if c.LastActive().Before(cutoff) {
			expired = append(expired, c)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()
	for _, c := range expired {
		c.Close()
		r.logger.Info("idle session reaped", "session_id", c.ID())
	}
}
