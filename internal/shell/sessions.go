package shell

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CookieName is the session cookie set on every browser.
const CookieName = "mammo_session"

// DefaultSessionTTL is how long an untouched session is kept.
const DefaultSessionTTL = 12 * time.Hour

type session struct {
	state State
	seen  time.Time
}

// Sessions keeps shell state per browser in memory.  Nothing survives a
// restart.  A session is only stored once an action changes its state, and
// sessions idle for longer than TTL are evicted.
type Sessions struct {
	TTL time.Duration

	mu        sync.Mutex
	states    map[string]*session
	lastSweep time.Time
	now       func() time.Time
}

// NewSessions returns an empty registry.
func NewSessions() *Sessions {
	return &Sessions{
		TTL:    DefaultSessionTTL,
		states: make(map[string]*session),
		now:    time.Now,
	}
}

// Get returns the session ID and state for r.  A request without a known
// session gets a fresh ID (and its cookie on w) with the initial state; the
// session is not stored until Apply.
func (s *Sessions) Get(w http.ResponseWriter, r *http.Request) (string, State) {
	if c, err := r.Cookie(CookieName); err == nil {
		s.mu.Lock()
		sess, ok := s.liveLocked(c.Value)
		if ok {
			sess.seen = s.now()
		}
		s.mu.Unlock()
		if ok {
			return c.Value, sess.state
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id, Initial()
}

// Apply reduces the session's state with a and stores the result.
func (s *Sessions) Apply(id string, a Action) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	st := Initial()
	if sess, ok := s.liveLocked(id); ok {
		st = sess.state
	}
	st = Reduce(st, a)
	s.states[id] = &session{state: st, seen: s.now()}
	return st
}

// Lookup returns the state for a session ID without creating one.
func (s *Sessions) Lookup(id string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.liveLocked(id)
	if !ok {
		return State{}, false
	}
	return sess.state, true
}

// Len reports the number of stored sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

func (s *Sessions) liveLocked(id string) (*session, bool) {
	sess, ok := s.states[id]
	if !ok {
		return nil, false
	}
	if s.TTL > 0 && s.now().Sub(sess.seen) > s.TTL {
		delete(s.states, id)
		return nil, false
	}
	return sess, true
}

// sweepLocked drops idle sessions, at most once a minute.
func (s *Sessions) sweepLocked() {
	now := s.now()
	if s.TTL <= 0 || now.Sub(s.lastSweep) < time.Minute {
		return
	}
	s.lastSweep = now
	for id, sess := range s.states {
		if now.Sub(sess.seen) > s.TTL {
			delete(s.states, id)
		}
	}
}
