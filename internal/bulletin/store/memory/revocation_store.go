package memory

import (
	"context"
	"sync"
	"time"
)

type RevocationStore struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
}

func NewRevocationStore() *RevocationStore {
	return &RevocationStore{revoked: make(map[string]time.Time)}
}

func (s *RevocationStore) Revoke(_ context.Context, tokenID string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.revoked[tokenID]; ok && cur.After(until) {
		return nil
	}
	s.revoked[tokenID] = until
	return nil
}

func (s *RevocationStore) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.revoked[tokenID]
	return ok, nil
}

func (s *RevocationStore) PruneRevocations(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, until := range s.revoked {
		if until.Before(cutoff) {
			delete(s.revoked, id)
			n++
		}
	}
	return n, nil
}
