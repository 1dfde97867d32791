// Package session tracks one wizard workflow per browser session. State is
// held in memory and keyed by a random cookie ID; restarting the server
// discards in-progress workflows but never persisted settings or logs.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mhollstein/briefwerk/internal/domain"
)

const cookieName = "briefwerk_session"

// TTL after which an untouched session is dropped. Uploaded files of expired
// sessions are removed with them.
const maxIdle = 24 * time.Hour

// Session is one browser session's workflow. Handlers must hold the lock
// while reading or mutating State.
type Session struct {
	sync.Mutex

	ID       string
	State    domain.WorkflowState
	Flash    string
	lastSeen time.Time
}

// TakeFlash returns the one-shot notice for the next page render and clears
// it. Callers must hold the session lock.
func (s *Session) TakeFlash() string {
	f := s.Flash
	s.Flash = ""
	return f
}

// Store is an in-memory session registry.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	secure   bool
	onEvict  func(*domain.WorkflowState)
}

// NewStore creates a session store. secure marks the cookie HTTPS-only.
// onEvict, when non-nil, runs for every expired session so its files can be
// cleaned up.
func NewStore(secure bool, onEvict func(*domain.WorkflowState)) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		secure:   secure,
		onEvict:  onEvict,
	}
}

// Attach returns the request's session, creating one and setting the cookie
// when none exists yet.
func (s *Store) Attach(w http.ResponseWriter, r *http.Request) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(time.Now())

	if c, err := r.Cookie(cookieName); err == nil {
		if sess, ok := s.sessions[c.Value]; ok {
			sess.lastSeen = time.Now()
			return sess, nil
		}
	}

	id, err := GenerateSessionID()
	if err != nil {
		return nil, err
	}
	sess := &Session{ID: id, lastSeen: time.Now()}
	s.sessions[id] = sess

	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return sess, nil
}

func (s *Store) pruneLocked(now time.Time) {
	for id, sess := range s.sessions {
		if now.Sub(sess.lastSeen) <= maxIdle {
			continue
		}
		delete(s.sessions, id)
		if s.onEvict != nil {
			s.onEvict(&sess.State)
		}
	}
}

// GenerateSessionID generates a cryptographically secure session ID
// Uses 32 bytes of random data encoded as base64 URL-safe string
func GenerateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return base64.URLEncoding.EncodeToString(b), nil
}
