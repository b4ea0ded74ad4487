package store

import (
	"context"
	"time"
)

// AccessEventRecord captures a single verification decision for the audit log.
// The submitted code itself is never recorded.
type AccessEventRecord struct {
	SessionID  string
	RemoteAddr string
	Granted    bool
	Reason     string
	DecidedAt  time.Time
}

// AccessEventStore persists verification decisions as an append-only audit log.
type AccessEventStore interface {
	RecordEvent(ctx context.Context, rec AccessEventRecord) error
}
