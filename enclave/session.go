package enclave

import (
	"strings"
	"sync"

	"github.com/alwitt/proxykey/models"
)

// sessionKeyPrefix KV key prefix of persisted owner sessions
const sessionKeyPrefix = "session/"

// sessionKVKey KV key of an owner's persisted session
func sessionKVKey(owner string) string {
	return sessionKeyPrefix + owner
}

// ownerFromKVKey recover the owner from a persisted session KV key
func ownerFromKVKey(key string) string {
	return strings.TrimPrefix(key, sessionKeyPrefix)
}

// ownerSession one unlocked owner session
type ownerSession struct {
	key []byte
}

// sessionRegistry the unlocked owner sessions of one enclave instance
type sessionRegistry struct {
	lock     sync.RWMutex
	sessions map[string]ownerSession
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: map[string]ownerSession{}}
}

// state current session state of an owner
func (r *sessionRegistry) state(owner string) models.SessionStateENUMType {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if _, ok := r.sessions[owner]; ok {
		return models.SessionStateUnlocked
	}
	return models.SessionStateLocked
}

// key the session key of an owner, if unlocked
func (r *sessionRegistry) key(owner string) ([]byte, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	session, ok := r.sessions[owner]
	if !ok {
		return nil, false
	}
	return session.key, true
}

func (r *sessionRegistry) set(owner string, key []byte) int {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.sessions[owner] = ownerSession{key: key}
	return len(r.sessions)
}

func (r *sessionRegistry) drop(owner string) int {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.sessions, owner)
	return len(r.sessions)
}
