package middleware

import (
	"sync"
	"time"
)

// RevocationStore tracks tokens that were explicitly logged out before their
// natural expiry.
type RevocationStore interface {
	Revoke(tokenID string, expiresAt time.Time)
	IsRevoked(tokenID string) bool
}

// MemoryRevocationStore keeps revoked token IDs in memory and drops them once
// the underlying token would have expired anyway.
type MemoryRevocationStore struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
	done    chan struct{}
}

func NewMemoryRevocationStore() *MemoryRevocationStore {
	s := &MemoryRevocationStore{
		revoked: make(map[string]time.Time),
		done:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

func (s *MemoryRevocationStore) Revoke(tokenID string, expiresAt time.Time) {
	if tokenID == "" {
		return
	}
	s.mu.Lock()
	s.revoked[tokenID] = expiresAt
	s.mu.Unlock()
}

func (s *MemoryRevocationStore) IsRevoked(tokenID string) bool {
	s.mu.RLock()
	expiresAt, ok := s.revoked[tokenID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if time.Now().After(expiresAt) {
		s.mu.Lock()
		delete(s.revoked, tokenID)
		s.mu.Unlock()
		return false
	}
	return true
}

// Close stops the background sweeper.
func (s *MemoryRevocationStore) Close() {
	close(s.done)
}

func (s *MemoryRevocationStore) sweep() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for id, expiresAt := range s.revoked {
				if now.After(expiresAt) {
					delete(s.revoked, id)
				}
			}
			s.mu.Unlock()
		}
	}
}
