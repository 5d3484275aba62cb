// pkg/sessionclient/store.go
package sessionclient

import (
	"sync"
	"time"
)

// Store persists the client session as a set of three keys: access token,
// serialized user profile, and session start. They are always written and
// cleared together so a partial session can never be observed.
type Store interface {
	Save(token string, userJSON []byte, sessionStart time.Time) error
	Load() (token string, userJSON []byte, sessionStart time.Time, ok bool)
	Clear() error
}

// MemoryStore is an in-process Store. Embedding applications supply their
// own implementation when the session must outlive the process.
type MemoryStore struct {
	mu           sync.Mutex
	token        string
	userJSON     []byte
	sessionStart time.Time
	set          bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(token string, userJSON []byte, sessionStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.userJSON = append([]byte(nil), userJSON...)
	s.sessionStart = sessionStart
	s.set = true
	return nil
}

func (s *MemoryStore) Load() (string, []byte, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return "", nil, time.Time{}, false
	}
	return s.token, append([]byte(nil), s.userJSON...), s.sessionStart, true
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.userJSON = nil
	s.sessionStart = time.Time{}
	s.set = false
	return nil
}
