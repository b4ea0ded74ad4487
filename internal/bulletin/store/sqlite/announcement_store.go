package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Bulletin/internal/db"
	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/store"
)

type AnnouncementStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAnnouncementStore(db *sql.DB, writer *dbpkg.Worker) *AnnouncementStore {
	return &AnnouncementStore{db: db, writer: writer}
}

func (s *AnnouncementStore) Append(ctx context.Context, rec store.AnnouncementRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO announcements(id, title, content, priority, created_at_ms)
VALUES (?, ?, ?, ?, ?);
`, rec.ID, rec.Title, rec.Content, rec.Priority, rec.CreatedAt.UTC().UnixMilli()); err != nil {
			return fmt.Errorf("Append insert announcement: %w", err)
		}
		return nil
	})
}

func (s *AnnouncementStore) List(ctx context.Context, limit int) ([]store.AnnouncementRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, title, content, priority, created_at_ms
FROM announcements
ORDER BY created_at_ms DESC, id DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("List query: %w", err)
	}
	defer rows.Close()

	var out []store.AnnouncementRecord
	for rows.Next() {
		var (
			rec       store.AnnouncementRecord
			createdMs int64
		)
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Content, &rec.Priority, &createdMs); err != nil {
			return nil, fmt.Errorf("List scan: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(createdMs).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List rows: %w", err)
	}
	return out, nil
}
