package cate

import (
	"fmt"
	"sync"
)

// SessionKey identifies a login on a CATE server.
type SessionKey struct {
	Server   string
	Port     int
	Username string
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%s@%s:%d", k.Username, k.Server, k.Port)
}

// SessionStore holds access tokens by session key. Tokens never expire on
// the client; a later Put for the same key replaces the old token. A store
// is safe for concurrent use and may be shared between clients.
type SessionStore struct {
	lk     sync.RWMutex
	tokens map[SessionKey]string
}

func NewSessionStore() *SessionStore {
	return &SessionStore{tokens: map[SessionKey]string{}}
}

// Put stores token for key, overwriting any previous token.
func (s *SessionStore) Put(key SessionKey, token string) {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.tokens[key] = token
}

// Get returns the token for key, or an ErrAuthentication error when the
// session has not authenticated.
func (s *SessionStore) Get(key SessionKey) (string, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	t, ok := s.tokens[key]
	if !ok {
		return "", newSimpleErrorf(ErrAuthentication, "could not find authentication token for %s", key)
	}
	return t, nil
}
