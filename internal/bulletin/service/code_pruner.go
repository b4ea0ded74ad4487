package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/store"
)

// CodePruner periodically deletes access codes that expired more than the
// retention period ago, along with lapsed token revocations.  It runs as a
// background goroutine and is safe to stop via its context or Stop.
//
// An interval of 0 disables pruning entirely.
type CodePruner struct {
	codes     store.CodeStore
	revoked   store.RevocationStore
	retention time.Duration
	interval  time.Duration
	metrics   Metrics
	logger    *log.Logger
	now       func() time.Time

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

type PrunerConfig struct {
	// Interval is how often the pruner runs.  0 disables it.
	Interval time.Duration

	// Retention is how long an expired code is kept before deletion, so
	// late verifications still read "expired" instead of "invalid session".
	Retention time.Duration

	Metrics Metrics
	Now     func() time.Time
}

// NewCodePruner creates a pruner but does not start it.  revoked may be nil.
func NewCodePruner(codes store.CodeStore, revoked store.RevocationStore, cfg PrunerConfig, logger *log.Logger) *CodePruner {
	p := &CodePruner{
		codes:     codes,
		revoked:   revoked,
		retention: cfg.Retention,
		interval:  cfg.Interval,
		metrics:   metricsOrNop(cfg.Metrics),
		logger:    logger,
		now:       cfg.Now,
		done:      make(chan struct{}),
	}
	if p.retention < 0 {
		p.retention = 0
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Start runs an immediate prune, then repeats on the interval until ctx is
// cancelled or Stop is called.
func (p *CodePruner) Start(ctx context.Context) {
	if p.interval <= 0 {
		p.logger.Printf("code pruner disabled (interval=0)")
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)

	p.logger.Printf("code pruner started (retention=%s, interval=%s)", p.retention, p.interval)
}

// Stop signals the pruner to exit and waits for it to finish.
func (p *CodePruner) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
	})
	<-p.done
}

func (p *CodePruner) loop(ctx context.Context) {
	defer close(p.done)

	p.PruneOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PruneOnce(ctx)
		}
	}
}

// PruneOnce performs a single pass.  Errors are logged, not returned.
func (p *CodePruner) PruneOnce(ctx context.Context) {
	now := p.now().UTC()
	cutoff := now.Add(-p.retention)

	deleted, err := p.codes.PruneExpired(ctx, cutoff)
	if err != nil {
		p.logger.Printf("code prune error: %v", err)
	} else if deleted > 0 {
		p.metrics.CodesPruned(deleted)
		p.logger.Printf("code prune: deleted %d codes expired before %s",
			deleted, cutoff.Format(time.RFC3339))
	}

	if p.revoked == nil {
		return
	}
	n, err := p.revoked.PruneRevocations(ctx, now)
	if err != nil {
		p.logger.Printf("revocation prune error: %v", err)
		return
	}
	if n > 0 {
		p.logger.Printf("revocation prune: deleted %d lapsed revocations", n)
	}
}
