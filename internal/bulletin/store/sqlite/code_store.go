package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/Bulletin/internal/db"
	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/store"
)

type CodeStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewCodeStore(db *sql.DB, writer *dbpkg.Worker) *CodeStore {
	return &CodeStore{db: db, writer: writer}
}

func (s *CodeStore) Put(ctx context.Context, rec store.AccessCodeRecord) error {
	sid := strings.TrimSpace(rec.SessionID)
	if sid == "" {
		return errors.New("Put: session_id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO access_codes(session_id, code, created_at_ms, expires_at_ms, used)
VALUES (?, ?, ?, ?, 0);
`, sid, rec.Code, rec.CreatedAt.UTC().UnixMilli(), rec.ExpiresAt.UTC().UnixMilli()); err != nil {
			return fmt.Errorf("Put insert code: %w", err)
		}
		return nil
	})
}

func (s *CodeStore) Get(ctx context.Context, sessionID string) (store.AccessCodeRecord, error) {
	var (
		code      string
		createdMs int64
		expiresMs int64
		used      int
	)
	err := s.db.QueryRowContext(ctx, `
SELECT code, created_at_ms, expires_at_ms, used
FROM access_codes
WHERE session_id = ?;
`, sessionID).Scan(&code, &createdMs, &expiresMs, &used)
	if errors.Is(err, sql.ErrNoRows) {
		return store.AccessCodeRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.AccessCodeRecord{}, fmt.Errorf("Get query: %w", err)
	}

	return store.AccessCodeRecord{
		SessionID: sessionID,
		Code:      code,
		CreatedAt: time.UnixMilli(createdMs).UTC(),
		ExpiresAt: time.UnixMilli(expiresMs).UTC(),
		Used:      used == 1,
	}, nil
}

// MarkUsed is a single conditional UPDATE; the row count tells us whether
// this caller won.
func (s *CodeStore) MarkUsed(ctx context.Context, sessionID string) (bool, error) {
	var applied bool
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE access_codes
SET used = 1,
    used_at_ms = ?
WHERE session_id = ? AND used = 0;
`, time.Now().UTC().UnixMilli(), sessionID)
		if err != nil {
			return fmt.Errorf("MarkUsed: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("MarkUsed rows affected: %w", err)
		}
		applied = n == 1
		return nil
	})
	return applied, err
}

// PruneExpired uses idx_access_codes_expiry for a range delete.
func (s *CodeStore) PruneExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM access_codes
WHERE expires_at_ms < ?;
`, cutoff.UTC().UnixMilli())
		if err != nil {
			return fmt.Errorf("PruneExpired: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

func (s *CodeStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
