package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Bulletin/internal/db"
)

type RevocationStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewRevocationStore(db *sql.DB, writer *dbpkg.Worker) *RevocationStore {
	return &RevocationStore{db: db, writer: writer}
}

// Revoke is idempotent; revoking twice keeps the later deadline.
func (s *RevocationStore) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	untilMs := until.UTC().UnixMilli()
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO revoked_tokens(token_id, until_ms) VALUES (?, ?)
ON CONFLICT(token_id) DO UPDATE SET until_ms = MAX(revoked_tokens.until_ms, excluded.until_ms);
`, tokenID, untilMs); err != nil {
			return fmt.Errorf("Revoke %s: %w", tokenID, err)
		}
		return nil
	})
}

func (s *RevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM revoked_tokens WHERE token_id = ?;`, tokenID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("IsRevoked query: %w", err)
	}
	return true, nil
}

func (s *RevocationStore) PruneRevocations(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE until_ms < ?;`, cutoff.UTC().UnixMilli())
		if err != nil {
			return fmt.Errorf("PruneRevocations: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
