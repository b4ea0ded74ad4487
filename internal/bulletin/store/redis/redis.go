// Package redis keeps access codes and token revocations in Redis, letting
// several server instances share one-time codes without a SQL database.
// Announcements are not stored here; pair it with a SQL announcement store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/store"
)

const (
	codePrefix    = "bulletin:code:"
	revokedPrefix = "bulletin:revoked:"
)

// DefaultGrace is how long a code hash outlives its ExpiresAt, so a late
// verify can still be told "expired" rather than "invalid session".
const DefaultGrace = time.Hour

type Store struct {
	client *goredis.Client
	grace  time.Duration
}

var (
	_ store.CodeStore       = (*Store)(nil)
	_ store.RevocationStore = (*Store)(nil)
)

type Options struct {
	Addr     string
	Password string
	DB       int
	Grace    time.Duration
}

// Open connects and pings with a short timeout.
func Open(ctx context.Context, opts Options) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
	}
	return New(client, opts.Grace), nil
}

func New(client *goredis.Client, grace time.Duration) *Store {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Store{client: client, grace: grace}
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func codeKey(sessionID string) string { return codePrefix + sessionID }

// putScript creates the hash only when the key is absent.
var putScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'code', ARGV[1], 'created_at_ms', ARGV[2], 'expires_at_ms', ARGV[3], 'used', '0')
redis.call('PEXPIREAT', KEYS[1], ARGV[4])
return 1
`)

// markUsedScript flips used 0 -> 1 in one server-side step.
var markUsedScript = goredis.NewScript(`
if redis.call('HGET', KEYS[1], 'used') == '0' then
  redis.call('HSET', KEYS[1], 'used', '1', 'used_at_ms', ARGV[1])
  return 1
end
return 0
`)

// revokeScript sets the revocation key unless it already outlives the new
// deadline.
var revokeScript = goredis.NewScript(`
if redis.call('PTTL', KEYS[1]) > tonumber(ARGV[1]) then
  return 0
end
redis.call('SET', KEYS[1], '1', 'PX', ARGV[1])
return 1
`)

func (s *Store) Put(ctx context.Context, rec store.AccessCodeRecord) error {
	sid := strings.TrimSpace(rec.SessionID)
	if sid == "" {
		return errors.New("redis: session_id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	keepUntil := rec.ExpiresAt.Add(s.grace)

	n, err := putScript.Run(ctx, s.client, []string{codeKey(sid)},
		rec.Code,
		rec.CreatedAt.UnixMilli(),
		rec.ExpiresAt.UnixMilli(),
		keepUntil.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("redis: put code: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("redis: session %s already exists", sid)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, sessionID string) (store.AccessCodeRecord, error) {
	vals, err := s.client.HGetAll(ctx, codeKey(sessionID)).Result()
	if err != nil {
		return store.AccessCodeRecord{}, fmt.Errorf("redis: get code: %w", err)
	}
	if len(vals) == 0 {
		return store.AccessCodeRecord{}, store.ErrNotFound
	}

	createdMs, err := strconv.ParseInt(vals["created_at_ms"], 10, 64)
	if err != nil {
		return store.AccessCodeRecord{}, fmt.Errorf("redis: created_at_ms: %w", err)
	}
	expiresMs, err := strconv.ParseInt(vals["expires_at_ms"], 10, 64)
	if err != nil {
		return store.AccessCodeRecord{}, fmt.Errorf("redis: expires_at_ms: %w", err)
	}

	return store.AccessCodeRecord{
		SessionID: sessionID,
		Code:      vals["code"],
		CreatedAt: time.UnixMilli(createdMs).UTC(),
		ExpiresAt: time.UnixMilli(expiresMs).UTC(),
		Used:      vals["used"] == "1",
	}, nil
}

func (s *Store) MarkUsed(ctx context.Context, sessionID string) (bool, error) {
	n, err := markUsedScript.Run(ctx, s.client, []string{codeKey(sessionID)},
		time.Now().UTC().UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis: mark used: %w", err)
	}
	return n == 1, nil
}

// PruneExpired is a no-op: code keys carry their own expiry.
func (s *Store) PruneExpired(context.Context, time.Time) (int64, error) { return 0, nil }

func (s *Store) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ms := time.Until(until).Milliseconds()
	if ms <= 0 {
		return nil
	}

	if err := revokeScript.Run(ctx, s.client, []string{revokedPrefix + tokenID}, ms).Err(); err != nil {
		return fmt.Errorf("redis: revoke: %w", err)
	}
	return nil
}

func (s *Store) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedPrefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("redis: is revoked: %w", err)
	}
	return n == 1, nil
}

// PruneRevocations is a no-op: revocation keys expire on their own.
func (s *Store) PruneRevocations(context.Context, time.Time) (int64, error) { return 0, nil }
