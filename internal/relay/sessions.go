package relay

import (
	"sync"

	"github.com/corbin-hayes/coderelay/internal/gateway"
)

// Session links a user's most recent run-triggering message to the reply it
// produced. At most one Session exists per owner; a new run replaces the
// prior pair. Input and Output are non-owning refs into platform messages.
type Session struct {
	Owner     string
	Input     gateway.MessageRef
	Output    gateway.MessageRef
	InputText string // last seen input text, used to skip content-less edit events
}

// SessionStore holds the most recent run session per user. Mutations for a
// single user are serialized by the per-user dispatch lanes; the store's own
// lock only guards the map structure so distinct users never block each
// other for longer than a map access.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewSessionStore creates an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]Session)}
}

// Record stores the session for its owner, overwriting any prior one.
func (s *SessionStore) Record(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Owner] = sess
}

// Lookup returns the session for owner, if any.
func (s *SessionStore) Lookup(owner string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[owner]
	return sess, ok
}

// Forget removes the session for owner. Idempotent.
func (s *SessionStore) Forget(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, owner)
}

// FindByInput returns the session whose input ref matches. Used for delete
// notifications, which on some platforms do not carry the author.
func (s *SessionStore) FindByInput(ref gateway.MessageRef) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.Input == ref {
			return sess, true
		}
	}
	return Session{}, false
}

// Len returns the number of active sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
