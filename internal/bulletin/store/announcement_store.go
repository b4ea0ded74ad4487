package store

import (
	"context"
	"time"
)

type AnnouncementRecord struct {
	ID        string
	Title     string
	Content   string
	Priority  string
	CreatedAt time.Time
}

// AnnouncementStore is an append-only list of announcements.
type AnnouncementStore interface {
	Append(ctx context.Context, rec AnnouncementRecord) error

	// List returns up to limit records, newest first.  limit <= 0 means all.
	List(ctx context.Context, limit int) ([]AnnouncementRecord, error)
}
