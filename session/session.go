// Package session owns authentication sessions and the role gate for
// the admin console. The actual credential store is pluggable; sessions
// themselves are opaque bearer tokens held in memory.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"rankboard/core"
)

// ErrBadCredentials is returned by SignIn when the authenticator
// rejects the email/password pair.
var ErrBadCredentials = errors.New("invalid email or password")

// Authenticator validates credentials against whatever owns them.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (core.UserID, error)
}

// Session is an authenticated bearer session.
type Session struct {
	Token     string      `json:"token"`
	UserID    core.UserID `json:"user_id"`
	Email     string      `json:"email"`
	CreatedAt time.Time   `json:"created_at"`
}

// EventType classifies session lifecycle events.
type EventType string

const (
	EventSignedIn  EventType = "signed_in"
	EventSignedOut EventType = "signed_out"
)

// Event is delivered to subscribers on every session change, so
// surfaces holding a session can react to invalidation that happened
// elsewhere.
type Event struct {
	Type   EventType   `json:"type"`
	Token  string      `json:"-"`
	UserID core.UserID `json:"user_id"`
	Time   time.Time   `json:"time"`
}

// Manager issues and invalidates sessions and fans lifecycle events out
// to subscribers.
type Manager struct {
	auth Authenticator

	mu       sync.RWMutex
	sessions map[string]Session
	subs     map[int]chan Event
	nextSub  int
}

func NewManager(auth Authenticator) *Manager {
	return &Manager{
		auth:     auth,
		sessions: map[string]Session{},
		subs:     map[int]chan Event{},
	}
}

// SignIn validates credentials and issues a new session token.
func (m *Manager) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := m.auth.Authenticate(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	s := Session{
		Token:     uuid.NewString(),
		UserID:    user,
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	m.mu.Lock()
	m.sessions[s.Token] = s
	m.mu.Unlock()

	m.emit(Event{Type: EventSignedIn, Token: s.Token, UserID: user, Time: s.CreatedAt})
	return s, nil
}

// Lookup resolves a bearer token to its session.
func (m *Manager) Lookup(token string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[token]
	return s, ok
}

// SignOut invalidates the session behind token. Invalidating an unknown
// token is a no-op; the caller is signed out either way.
func (m *Manager) SignOut(_ context.Context, token string) error {
	m.mu.Lock()
	s, ok := m.sessions[token]
	if ok {
		delete(m.sessions, token)
	}
	m.mu.Unlock()
	if ok {
		m.emit(Event{Type: EventSignedOut, Token: token, UserID: s.UserID, Time: time.Now().UTC()})
	}
	return nil
}

// Subscribe registers for session lifecycle events.
func (m *Manager) Subscribe(buffer int) (int, <-chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSub++
	id := m.nextSub
	ch := make(chan Event, buffer)
	m.subs[id] = ch
	return id, ch
}

func (m *Manager) Unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.subs[id]; ok {
		delete(m.subs, id)
		close(ch)
	}
}

func (m *Manager) emit(ev Event) {
	m.mu.RLock()
	receivers := make([]chan Event, 0, len(m.subs))
	for _, ch := range m.subs {
		receivers = append(receivers, ch)
	}
	m.mu.RUnlock()
	for _, ch := range receivers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// CloserFor binds sign-out to a single token so a console can
// invalidate its own session without knowing about the manager.
func (m *Manager) CloserFor(token string) *TokenCloser {
	return &TokenCloser{manager: m, token: token}
}

// TokenCloser invalidates one specific session.
type TokenCloser struct {
	manager *Manager
	token   string
}

func (c *TokenCloser) SignOut(ctx context.Context) error {
	return c.manager.SignOut(ctx, c.token)
}

// StaticAuthenticator validates against a fixed credential set, the
// stand-in for an external identity provider. Keys are emails.
type StaticAuthenticator struct {
	users map[string]staticUser
}

type staticUser struct {
	id       core.UserID
	password string
}

func NewStaticAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{users: map[string]staticUser{}}
}

// AddUser registers a credential pair and returns the user's id. An
// empty id derives one from the email so seeded users are stable across
// restarts.
func (a *StaticAuthenticator) AddUser(id core.UserID, email, password string) core.UserID {
	if id == "" {
		id = core.UserID(uuid.NewSHA1(uuid.NameSpaceURL, []byte("rankboard:"+email)).String())
	}
	a.users[email] = staticUser{id: id, password: password}
	return id
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, email, password string) (core.UserID, error) {
	u, ok := a.users[email]
	if !ok || u.password != password {
		return "", ErrBadCredentials
	}
	return u.id, nil
}
