// Package session keeps the keys negotiated with the relay, indexed by
// session id.
//
// A Store belongs to one relay client. Keys survive a disconnect so a packet
// tagged with an earlier session id can still be decrypted while the client
// reconnects.
package session

import (
	"sync"

	"github.com/muurk/orvibo-relay/internal/protocol"
)

// Store maps session ids to their negotiated keys.
type Store struct {
	keys map[string][]byte

	mu sync.RWMutex
}

var _ protocol.KeyResolver = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{keys: make(map[string][]byte)}
}

// Put records the key for a session id, replacing any previous key.
// The key is copied.
func (s *Store) Put(sessionID string, key []byte) {
	if sessionID == "" {
		return
	}

	k := make([]byte, len(key))
	copy(k, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[sessionID] = k
}

// Key returns the key for a session id.
func (s *Store) Key(sessionID string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[sessionID]
	return k, ok
}

// Delete forgets a session id.
// No error is returned if the session doesn't exist.
func (s *Store) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, sessionID)
}

// Len returns the number of known sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}
