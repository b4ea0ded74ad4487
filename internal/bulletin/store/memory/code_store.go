package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/store"
)

// CodeStore keeps access codes in a process-local map.  It is intended for
// tests and single-instance dev servers; it does not coordinate across
// processes.
type CodeStore struct {
	mu   sync.RWMutex
	data map[string]store.AccessCodeRecord
}

func NewCodeStore() *CodeStore {
	return &CodeStore{
		data: make(map[string]store.AccessCodeRecord),
	}
}

func (s *CodeStore) Put(_ context.Context, rec store.AccessCodeRecord) error {
	sid := strings.TrimSpace(rec.SessionID)
	if sid == "" {
		return errors.New("memory: session_id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Used = false

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[sid]; exists {
		return fmt.Errorf("memory: session %s already exists", sid)
	}
	s.data[sid] = rec
	return nil
}

func (s *CodeStore) Get(_ context.Context, sessionID string) (store.AccessCodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[sessionID]
	if !ok {
		return store.AccessCodeRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *CodeStore) MarkUsed(_ context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[sessionID]
	if !ok || rec.Used {
		return false, nil
	}
	rec.Used = true
	s.data[sessionID] = rec
	return true, nil
}

func (s *CodeStore) PruneExpired(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for sid, rec := range s.data {
		if rec.ExpiresAt.Before(cutoff) {
			delete(s.data, sid)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored codes.  Test-only helper.
func (s *CodeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
