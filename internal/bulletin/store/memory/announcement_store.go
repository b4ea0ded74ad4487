package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/store"
)

type AnnouncementStore struct {
	mu    sync.RWMutex
	items []store.AnnouncementRecord
}

// NewAnnouncementStore returns a store pre-populated with seed, which may be nil.
func NewAnnouncementStore(seed []store.AnnouncementRecord) *AnnouncementStore {
	s := &AnnouncementStore{}
	s.items = append(s.items, seed...)
	return s
}

func (s *AnnouncementStore) Append(_ context.Context, rec store.AnnouncementRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, rec)
	return nil
}

func (s *AnnouncementStore) List(_ context.Context, limit int) ([]store.AnnouncementRecord, error) {
	s.mu.RLock()
	out := make([]store.AnnouncementRecord, len(s.items))
	copy(out, s.items)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
