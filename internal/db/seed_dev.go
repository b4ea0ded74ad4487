package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/store"
)

// SeedAnnouncements inserts the given announcements unless a row with the
// same id already exists, so restarting a dev server does not duplicate them.
func SeedAnnouncements(ctx context.Context, db *sql.DB, seed []store.AnnouncementRecord) error {
	for _, a := range seed {
		if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO announcements(id, title, content, priority, created_at_ms)
VALUES (?, ?, ?, ?, ?);`,
			a.ID, a.Title, a.Content, a.Priority, a.CreatedAt.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("seed announcement %s: %w", a.ID, err)
		}
	}
	return nil
}
