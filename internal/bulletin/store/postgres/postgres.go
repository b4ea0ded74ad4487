// Package postgres implements the bulletin stores on a shared PostgreSQL
// database (for example a hosted Supabase instance), so several server
// processes can issue and verify codes against the same table.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/store"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

var (
	_ store.CodeStore         = (*Store)(nil)
	_ store.AnnouncementStore = (*Store)(nil)
	_ store.AccessEventStore  = (*Store)(nil)
	_ store.RevocationStore   = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle; tests pass a sqlmock connection here.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

// --- access codes ---

func (s *Store) Put(ctx context.Context, rec store.AccessCodeRecord) error {
	sid := strings.TrimSpace(rec.SessionID)
	if sid == "" {
		return errors.New("postgres: session_id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(ctx, `
		insert into access_codes(session_id, code, created_at, expires_at, used)
		values ($1, $2, $3, $4, false)
	`, sid, rec.Code, rec.CreatedAt.UTC(), rec.ExpiresAt.UTC()); err != nil {
		return fmt.Errorf("postgres: put code: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, sessionID string) (store.AccessCodeRecord, error) {
	rec := store.AccessCodeRecord{SessionID: sessionID}
	err := s.db.QueryRowContext(ctx, `
		select code, created_at, expires_at, used
		from access_codes where session_id = $1
	`, sessionID).Scan(&rec.Code, &rec.CreatedAt, &rec.ExpiresAt, &rec.Used)
	if errors.Is(err, sql.ErrNoRows) {
		return store.AccessCodeRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.AccessCodeRecord{}, fmt.Errorf("postgres: get code: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	return rec, nil
}

func (s *Store) MarkUsed(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update access_codes set used = true, used_at = now()
		where session_id = $1 and used = false
	`, sessionID)
	if err != nil {
		return false, fmt.Errorf("postgres: mark used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: mark used rows: %w", err)
	}
	return n == 1, nil
}

func (s *Store) PruneExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from access_codes where expires_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres: prune codes: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- announcements ---

func (s *Store) Append(ctx context.Context, rec store.AnnouncementRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(ctx, `
		insert into announcements(id, title, content, priority, created_at)
		values ($1, $2, $3, $4, $5)
	`, rec.ID, rec.Title, rec.Content, rec.Priority, rec.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("postgres: append announcement: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, limit int) ([]store.AnnouncementRecord, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, title, content, priority, created_at
		from announcements
		order by created_at desc, id desc
		limit $1
	`, lim)
	if err != nil {
		return nil, fmt.Errorf("postgres: list announcements: %w", err)
	}
	defer rows.Close()

	var out []store.AnnouncementRecord
	for rows.Next() {
		var rec store.AnnouncementRecord
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Content, &rec.Priority, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan announcement: %w", err)
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SeedAnnouncements inserts seed rows, skipping ids that already exist.
func (s *Store) SeedAnnouncements(ctx context.Context, seed []store.AnnouncementRecord) error {
	for _, a := range seed {
		if _, err := s.db.ExecContext(ctx, `
			insert into announcements(id, title, content, priority, created_at)
			values ($1, $2, $3, $4, $5)
			on conflict (id) do nothing
		`, a.ID, a.Title, a.Content, a.Priority, a.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("postgres: seed %s: %w", a.ID, err)
		}
	}
	return nil
}

// --- audit ---

func (s *Store) RecordEvent(ctx context.Context, rec store.AccessEventRecord) error {
	if rec.DecidedAt.IsZero() {
		rec.DecidedAt = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(ctx, `
		insert into access_events(session_id, remote_addr, decision_granted, decision_reason, decided_at)
		values ($1, nullif($2, ''), $3, $4, $5)
	`, rec.SessionID, rec.RemoteAddr, rec.Granted, rec.Reason, rec.DecidedAt.UTC()); err != nil {
		return fmt.Errorf("postgres: record event: %w", err)
	}
	return nil
}

// --- revocations ---

func (s *Store) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	if _, err := s.db.ExecContext(ctx, `
		insert into revoked_tokens(token_id, until) values ($1, $2)
		on conflict (token_id) do update set until = greatest(revoked_tokens.until, excluded.until)
	`, tokenID, until.UTC()); err != nil {
		return fmt.Errorf("postgres: revoke: %w", err)
	}
	return nil
}

func (s *Store) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `select 1 from revoked_tokens where token_id = $1`, tokenID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres: is revoked: %w", err)
	}
	return true, nil
}

func (s *Store) PruneRevocations(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from revoked_tokens where until < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres: prune revocations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
