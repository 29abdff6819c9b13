package wizard

import (
	"sync"
	"time"
)

// Wizard step ordinals.
const (
	StepDisplayName = 1
	StepModelID     = 2
	StepSecretKey   = 3
	StepDescription = 4
)

// Fields holds the values collected so far for one add-model wizard run.
type Fields struct {
	DisplayName string
	ModelID     string
	SecretKey   string
	Description string
}

// Session is the state of one in-flight add-model conversation. A session is
// owned by exactly one user and bound to the chat it was started in.
type Session struct {
	OwnerID   int64
	ChatID    int64
	ActorName string
	Step      int
	Fields    Fields

	// AwaitingSecureKey marks that the owner was prompted for the key in
	// their private chat; the next private message is consumed as the key.
	AwaitingSecureKey bool

	// PlainKeyFallback marks that the secure side channel could not be
	// offered and the key is accepted as plain chat text instead.
	PlainKeyFallback bool

	LastActivity time.Time
}

// SessionStore keeps at most one active session per owner. All methods are
// safe for concurrent use.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[int64]*Session)}
}

// Start creates a fresh session for the owner. A previous in-flight session
// for the same owner is discarded: restarting the wizard always resets state.
func (s *SessionStore) Start(ownerID, chatID int64, actorName string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := &Session{
		OwnerID:      ownerID,
		ChatID:       chatID,
		ActorName:    actorName,
		Step:         StepDisplayName,
		LastActivity: time.Now(),
	}
	s.sessions[ownerID] = session
	return session
}

// Get returns the owner's active session, if any.
func (s *SessionStore) Get(ownerID int64) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[ownerID]
	return session, ok
}

// Delete removes the owner's session. Deleting a missing session is a no-op.
func (s *SessionStore) Delete(ownerID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, ownerID)
}

// Touch records activity on the owner's session so it survives the next
// idle sweep.
func (s *SessionStore) Touch(ownerID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[ownerID]; ok {
		session.LastActivity = time.Now()
	}
}

// Len returns the number of active sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep evicts sessions idle for longer than maxIdle and returns the evicted
// sessions so the caller can notify their owners.
func (s *SessionStore) Sweep(maxIdle time.Duration) []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	var evicted []*Session
	for ownerID, session := range s.sessions {
		if session.LastActivity.Before(cutoff) {
			evicted = append(evicted, session)
			delete(s.sessions, ownerID)
		}
	}
	return evicted
}
