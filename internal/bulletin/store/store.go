package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups when no record exists for the key.
// Every other error from a store means the backing medium failed.
var ErrNotFound = errors.New("store: not found")

// AccessCodeRecord is one issued access code, keyed by its session id.
type AccessCodeRecord struct {
	SessionID string
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// CodeStore persists access codes.  Records are created once with Used=false
// and mutated exactly once afterwards, by MarkUsed.
type CodeStore interface {
	Put(ctx context.Context, rec AccessCodeRecord) error
	Get(ctx context.Context, sessionID string) (AccessCodeRecord, error)

	// MarkUsed flips Used to true only if it is currently false, as a single
	// atomic step.  It reports whether this call performed the flip; false
	// means another caller already consumed the code (or the record is gone).
	MarkUsed(ctx context.Context, sessionID string) (bool, error)

	// PruneExpired deletes records whose ExpiresAt is before cutoff.
	PruneExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// RevocationStore remembers session tokens that were closed before their
// natural expiry so every server instance rejects them.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	PruneRevocations(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pinger is implemented by stores backed by a remote medium.  The readiness
// probes use it when available.
type Pinger interface {
	Ping(ctx context.Context) error
}
