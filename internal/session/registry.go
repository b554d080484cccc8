package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"classattend/internal/geo"
)

var (
	// ErrNotFound means the session id was never issued or was already evicted.
	ErrNotFound = errors.New("session not found")
	// ErrExpired means the session existed but its TTL has elapsed.
	ErrExpired = errors.New("session expired")
)

// Session is an active attendance session issued by an admin.
type Session struct {
	ID            string
	Subject       string
	AdminLocation geo.Point
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Registry holds active sessions in memory for the lifetime of the process.
// Expired entries are evicted lazily on lookup; once a session reports
// expired or not found it can never come back.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Session
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		now:      time.Now,
	}
}

// Create issues a new session with an unguessable id valid for ttl.
func (r *Registry) Create(subject string, adminLocation geo.Point, ttl time.Duration) (Session, error) {
	if subject == "" {
		return Session{}, errors.New("subject required")
	}
	if ttl <= 0 {
		return Session{}, errors.New("ttl must be positive")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := newToken()
	for {
		if _, exists := r.sessions[id]; !exists {
			break
		}
		id = newToken()
	}

	now := r.now()
	sess := Session{
		ID:            id,
		Subject:       subject,
		AdminLocation: adminLocation,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
	r.sessions[id] = sess
	return sess, nil
}

// Get returns the session for id. Expired sessions are evicted and reported
// as ErrExpired on the lookup that first observes the expiry; any later
// lookup sees ErrNotFound.
func (r *Registry) Get(id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if r.now().After(sess.ExpiresAt) {
		delete(r.sessions, id)
		return Session{}, ErrExpired
	}
	return sess, nil
}

// Remove deletes a session regardless of expiry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// newToken builds an opaque session token from a v4 UUID.
func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
