package service_test

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/service"
	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/store"
	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/store/memory"
	"github.com/BrandonDHaskell/Bulletin/internal/notify"
)

var errBoom = errors.New("boom")

func silentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// faultyCodeStore fails the configured operations and delegates the rest.
type faultyCodeStore struct {
	store.CodeStore
	putErr, getErr, markErr error
}

func (s *faultyCodeStore) Put(ctx context.Context, rec store.AccessCodeRecord) error {
	if s.putErr != nil {
		return s.putErr
	}
	return s.CodeStore.Put(ctx, rec)
}

func (s *faultyCodeStore) Get(ctx context.Context, sid string) (store.AccessCodeRecord, error) {
	if s.getErr != nil {
		return store.AccessCodeRecord{}, s.getErr
	}
	return s.CodeStore.Get(ctx, sid)
}

func (s *faultyCodeStore) MarkUsed(ctx context.Context, sid string) (bool, error) {
	if s.markErr != nil {
		return false, s.markErr
	}
	return s.CodeStore.MarkUsed(ctx, sid)
}

type failingEventStore struct{}

func (failingEventStore) RecordEvent(context.Context, store.AccessEventRecord) error { return errBoom }

type accessFixture struct {
	svc    *service.AccessService
	codes  *memory.CodeStore
	events *memory.AccessEventStore
	rec    *notify.Recorder
	clock  *fakeClock
}

func newAccessFixture(policy notify.Policy) *accessFixture {
	clk := newFakeClock()
	f := &accessFixture{
		codes:  memory.NewCodeStore(),
		events: memory.NewAccessEventStore(),
		rec:    &notify.Recorder{},
		clock:  clk,
	}
	f.svc = service.NewAccessService(service.AccessDeps{
		Generator:   service.NewCodeGenerator(service.GeneratorConfig{Now: clk.Now}),
		Codes:       f.codes,
		Events:      f.events,
		Notifier:    f.rec,
		IssuePolicy: policy,
		Logger:      silentLogger(),
		Now:         clk.Now,
	})
	return f
}

// issue issues a code and returns the session id plus the code as delivered
// through the notifier.
func (f *accessFixture) issue(t *testing.T) (string, string) {
	t.Helper()
	issued, err := f.svc.Issue(context.Background())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	msgs := f.rec.Messages()
	if len(msgs) == 0 {
		t.Fatal("expected a notifier message")
	}
	return issued.SessionID, deliveredCode(t, msgs[len(msgs)-1])
}

func deliveredCode(t *testing.T, msg notify.Message) string {
	t.Helper()
	if len(msg.Embeds) == 0 || len(msg.Embeds[0].Fields) == 0 {
		t.Fatalf("unexpected message shape: %+v", msg)
	}
	return strings.Trim(msg.Embeds[0].Fields[0].Value, "`")
}
