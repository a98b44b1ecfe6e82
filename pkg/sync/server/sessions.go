package server

import (
	"context"
	"strings"
	goSync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/boxsync/pkg/errors"
	"github.com/sidkik/boxsync/pkg/sync"
)

type session struct {
	user     string
	lastSeen time.Time
}

// SessionManager tracks logged in users, and closes the files opened by a
// session when it ends.
type SessionManager struct {
	fs      afero.Fs
	handles *HandleManager
	clock   clockwork.Clock

	// ttl is how long a session may be idle before it's evicted. Sessions
	// are never evicted if it's zero.
	ttl time.Duration

	lock     goSync.Mutex
	sessions map[string]session
}

// NewSessionManager returns a SessionManager whose users' containers are
// directories at the root of `fs`.
func NewSessionManager(fs afero.Fs, handles *HandleManager, clock clockwork.Clock,
	ttl time.Duration) *SessionManager {
	return &SessionManager{
		fs:       fs,
		handles:  handles,
		clock:    clock,
		ttl:      ttl,
		sessions: map[string]session{},
	}
}

// Login creates a session for `user`, creating the user's container if it
// doesn't exist yet.
func (sm *SessionManager) Login(user string) (sync.SessionToken, error) {
	if !validUserName(user) {
		return sync.SessionToken{}, errors.WithContext(errors.ErrInvalidArgument,
			"invalid user name: "+user)
	}

	if err := sm.fs.MkdirAll(user, 0755); err != nil {
		return sync.SessionToken{}, errors.WithContext(err, "create container")
	}

	token := sync.SessionToken{UserName: user, SessionID: uuid.New().String()}

	sm.lock.Lock()
	sm.sessions[token.SessionID] = session{user: user, lastSeen: sm.clock.Now()}
	setActiveSessions(len(sm.sessions))
	sm.lock.Unlock()

	log.WithField("user", user).Info("User logged in")
	return token, nil
}

// IsActive returns whether the token belongs to a current session.
func (sm *SessionManager) IsActive(token sync.SessionToken) bool {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	s, ok := sm.sessions[token.SessionID]
	return ok && s.user == token.UserName
}

// Authorize checks that the token belongs to a current session, and marks
// the session as recently used.
func (sm *SessionManager) Authorize(token sync.SessionToken) error {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	s, ok := sm.sessions[token.SessionID]
	if !ok || s.user != token.UserName {
		return errors.ErrSessionInvalid
	}

	s.lastSeen = sm.clock.Now()
	sm.sessions[token.SessionID] = s
	return nil
}

// Logout ends the session and closes all the files it has open. Logging out
// of an unknown session is a no-op.
func (sm *SessionManager) Logout(token sync.SessionToken) {
	sm.lock.Lock()
	s, ok := sm.sessions[token.SessionID]
	if ok && s.user == token.UserName {
		delete(sm.sessions, token.SessionID)
	}
	setActiveSessions(len(sm.sessions))
	sm.lock.Unlock()

	if !ok {
		return
	}

	closed := sm.handles.CloseSession(token.SessionID)
	log.WithField("user", s.user).WithField("closedFiles", closed).Info("User logged out")
}

// EvictIdle ends the sessions that haven't been used within the TTL, and
// returns their IDs.
func (sm *SessionManager) EvictIdle() []string {
	if sm.ttl == 0 {
		return nil
	}

	now := sm.clock.Now()
	sm.lock.Lock()
	var evicted []string
	for id, s := range sm.sessions {
		if now.Sub(s.lastSeen) > sm.ttl {
			evicted = append(evicted, id)
		}
	}
	for _, id := range evicted {
		delete(sm.sessions, id)
	}
	setActiveSessions(len(sm.sessions))
	sm.lock.Unlock()

	for _, id := range evicted {
		closed := sm.handles.CloseSession(id)
		log.WithField("session", id).WithField("closedFiles", closed).Info("Evicted idle session")
	}
	return evicted
}

// RunEviction evicts idle sessions until the context is cancelled.
func (sm *SessionManager) RunEviction(ctx context.Context) {
	if sm.ttl == 0 {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-sm.clock.After(sm.ttl / 2):
			sm.EvictIdle()
		}
	}
}

// Len returns the number of active sessions.
func (sm *SessionManager) Len() int {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	return len(sm.sessions)
}

func validUserName(user string) bool {
	return user != "" &&
		!strings.ContainsAny(user, `/\`) &&
		!sync.IsIgnored(user)
}
