// Package retrieval drives the captcha-gated document download flow of the
// portal: establish a remote session, issue a challenge image, verify the
// operator's answer and download documents with the accepted code.
package retrieval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
)

// DefaultSessionTTL bounds how long an idle session is kept.
const DefaultSessionTTL = 15 * time.Minute

// State is the position of a session in the retrieval flow.
type State string

// Session states.
const (
	StateCreated         State = "created"
	StateChallengeIssued State = "challenge_issued"
	StateVerified        State = "verified"
	StateDownloaded      State = "downloaded"
)

// Session is one operator's retrieval context. lastUsed belongs to the
// registry lock; the other mutable fields to mu.
type Session struct {
	ID        string
	ProjectID string
	SendID    string
	Referer   string
	CreatedAt time.Time

	mu        sync.Mutex
	cookies   map[string]string
	state     State
	code      string
	challenge []byte
	lastUsed  time.Time
}

// Snapshot is a read-only copy of a session's state.
type Snapshot struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	SendID    string    `json:"sendid"`
	State     State     `json:"state"`
	Verified  bool      `json:"verified"`
	Image     []byte    `json:"image,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		ID:        s.ID,
		ProjectID: s.ProjectID,
		SendID:    s.SendID,
		State:     s.state,
		Verified:  s.code != "",
		Image:     s.challenge,
		CreatedAt: s.CreatedAt,
	}
}

// Registry holds live sessions. One mutex guards membership and idle times.
type Registry struct {
	ttl   time.Duration
	clock crawler.Clock

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry builds a Registry. A non-positive ttl selects DefaultSessionTTL.
func NewRegistry(ttl time.Duration, clock crawler.Clock) *Registry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Registry{
		ttl:      ttl,
		clock:    clock,
		sessions: make(map[string]*Session),
	}
}

// Add registers a session and evicts expired ones.
func (r *Registry) Add(s *Session) {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked(now)
	s.lastUsed = now
	r.sessions[s.ID] = s
}

// Get returns a live session and refreshes its idle timer.
func (r *Registry) Get(id string) (*Session, error) {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked(now)
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("retrieval session %s: %w", id, crawler.ErrNotFound)
	}
	s.lastUsed = now
	return s, nil
}

// Delete drops a session if present.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len reports how many sessions are registered, expired ones included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts expired sessions and returns how many were dropped.
func (r *Registry) Sweep() int {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(now)
}

// Run sweeps on every tick until ctx ends.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
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
			r.Sweep()
		}
	}
}

func (r *Registry) sweepLocked(now time.Time) int {
	evicted := 0
	for id, s := range r.sessions {
		if now.Sub(s.lastUsed) > r.ttl {
			delete(r.sessions, id)
			evicted++
		}
	}
	return evicted
}
