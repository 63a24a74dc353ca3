// Package sessions implements the Session Registry (C6): per-client id
// allocation, rate limiting, and the at-most-one-workflow-per-session
// invariant. Grounded on goclaw's internal/gateway/server.go
// registerClient/unregisterClient lifecycle and internal/channels/ratelimit.go's
// bounded rate-limiter shape, replaced here with golang.org/x/time/rate
// for the fixed-interval admission check spec.md §4.6 describes.
package sessions

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Session is a per-connection context: the client id, its rate limiter,
// and a handle to the at-most-one in-flight workflow task.
type Session struct {
	ClientID string

	mu       sync.Mutex
	limiter  *rate.Limiter
	cancel   context.CancelFunc
	done     <-chan struct{}
}

// newSession builds a Session admitting one execute_goal per minInterval.
func newSession(clientID string, minInterval rate.Limit) *Session {
	return &Session{
		ClientID: clientID,
		limiter:  rate.NewLimiter(minInterval, 1),
	}
}

// Admit reports whether a new execute_goal is accepted under the rate
// limit. On rejection, the last-accepted timestamp is left untouched
// (rate.Limiter.Allow already has this property: a denied Allow consumes
// no token).
func (s *Session) Admit() bool {
	return s.limiter.Allow()
}

// TakeOver cancels any in-flight workflow for this session and waits for
// it to finish before installing the new cancellation handle — enforcing
// "the prior workflow emits no further outbound events after the new
// workflow emits its first" (spec.md §8). Returns the context the new
// workflow should run under and a function to call when that workflow's
// goroutine exits.
func (s *Session) TakeOver(parent context.Context) (context.Context, func()) {
	s.mu.Lock()
	prevCancel := s.cancel
	prevDone := s.done
	s.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
		if prevDone != nil {
			<-prevDone
		}
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	finish := func() { close(done) }
	return ctx, finish
}

// CancelActive cancels the session's in-flight workflow, if any, and
// reports whether one was active.
func (s *Session) CancelActive() bool {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Registry tracks all connected sessions, keyed by client id.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	minInterval rate.Limit
}

// New builds a Registry enforcing minInterval between accepted
// execute_goal requests per session.
func New(minIntervalSeconds float64) *Registry {
	limit := rate.Inf
	if minIntervalSeconds > 0 {
		limit = rate.Every(durationFromSeconds(minIntervalSeconds))
	}
	return &Registry{
		sessions:    make(map[string]*Session),
		minInterval: limit,
	}
}

// Connect allocates a new client id and its Session.
func (r *Registry) Connect() *Session {
	clientID := uuid.New().String()[:12]
	s := newSession(clientID, r.minInterval)
	r.mu.Lock()
	r.sessions[clientID] = s
	r.mu.Unlock()
	return s
}

// Disconnect cancels clientID's in-flight workflow (if any) and removes
// it from the registry.
func (r *Registry) Disconnect(clientID string) {
	r.mu.Lock()
	s, ok := r.sessions[clientID]
	delete(r.sessions, clientID)
	r.mu.Unlock()
	if ok {
		s.CancelActive()
	}
}

// Get returns the Session for clientID, if connected.
func (r *Registry) Get(clientID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[clientID]
	return s, ok
}

// Count reports the number of currently connected sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
