package altspace

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// SessionCache owns the one shared login session. Callers that find a live
// session reuse it without any network traffic; callers that find none
// converge on a single login exchange via singleflight. A failed login leaves
// the cache empty, so the next request retries from scratch.
//
// Expiry is never detected proactively. When a dependent fetch fails, the
// client invalidates the cache and the *next* request logs in again; the
// current request is not retried.
type SessionCache struct {
	mu    sync.RWMutex
	group singleflight.Group
	clock clockwork.Clock
	login func(context.Context) error

	active        bool
	establishedAt time.Time
}

func NewSessionCache(login func(context.Context) error, clock clockwork.Clock) *SessionCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SessionCache{clock: clock, login: login}
}

// Ensure makes sure a login session exists, performing at most one login
// exchange no matter how many callers arrive concurrently.
func (s *SessionCache) Ensure(ctx context.Context) error {
	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()
	if active {
		return nil
	}

	_, err, _ := s.group.Do("login", func() (any, error) {
		// A waiter queued behind a successful login lands here after the
		// session was already established.
		s.mu.RLock()
		active := s.active
		s.mu.RUnlock()
		if active {
			return nil, nil
		}

		if err := s.login(ctx); err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.active = true
		s.establishedAt = s.clock.Now()
		s.mu.Unlock()
		return nil, nil
	})
	return err
}

// Invalidate clears the cached session. The next Ensure performs a fresh
// login.
func (s *SessionCache) Invalidate() {
	s.mu.Lock()
	s.active = false
	s.establishedAt = time.Time{}
	s.mu.Unlock()
}

// EstablishedAt reports when the current session was created, if one exists.
func (s *SessionCache) EstablishedAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.establishedAt, s.active
}
