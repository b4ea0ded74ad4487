package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/store"
	"github.com/BrandonDHaskell/Bulletin/internal/notify"
)

// Reason labels the outcome of a verification.
type Reason string

const (
	ReasonGranted        Reason = "granted"
	ReasonInvalidSession Reason = "invalid_session"
	ReasonAlreadyUsed    Reason = "already_used"
	ReasonExpired        Reason = "expired"
	ReasonInvalidCode    Reason = "invalid_code"
)

var reasonMessages = map[Reason]string{
	ReasonGranted:        "Access granted",
	ReasonInvalidSession: "Invalid or expired session",
	ReasonAlreadyUsed:    "Access code has already been used",
	ReasonExpired:        "Access code has expired",
	ReasonInvalidCode:    "Invalid access code",
}

// Message is the user-facing text for the reason.
func (r Reason) Message() string { return reasonMessages[r] }

// Decision is the result of a verification.  A denial is a normal outcome,
// not an error.
type Decision struct {
	Granted bool
	Reason  Reason
}

func (d Decision) Message() string { return d.Reason.Message() }

func deny(r Reason) Decision { return Decision{Reason: r} }

// Issued is what the caller learns about a new code.  The code itself only
// travels through the notifier.
type Issued struct {
	SessionID string
	ExpiresAt time.Time
}

type VerifyRequest struct {
	SessionID  string
	Code       string
	RemoteAddr string
}

type AccessDeps struct {
	Generator *CodeGenerator
	Codes     store.CodeStore
	// Events is optional.
	Events      store.AccessEventStore
	Notifier    notify.Notifier
	IssuePolicy notify.Policy
	Metrics     Metrics
	Logger      *log.Logger
	Now         func() time.Time
}

// AccessService issues access codes and verifies them.
type AccessService struct {
	gen      *CodeGenerator
	codes    store.CodeStore
	events   store.AccessEventStore
	notifier notify.Notifier
	policy   notify.Policy
	metrics  Metrics
	logger   *log.Logger
	now      func() time.Time
}

func NewAccessService(d AccessDeps) *AccessService {
	s := &AccessService{
		gen:      d.Generator,
		codes:    d.Codes,
		events:   d.Events,
		notifier: d.Notifier,
		policy:   d.IssuePolicy,
		metrics:  metricsOrNop(d.Metrics),
		logger:   d.Logger,
		now:      d.Now,
	}
	if s.gen == nil {
		s.gen = NewCodeGenerator(GeneratorConfig{Now: d.Now})
	}
	if s.policy == "" {
		s.policy = notify.PolicyRequired
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard, "", 0)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Issue generates a code, stores it and hands it to the notifier.  With a
// required issue policy a notifier failure fails the call; the stored code
// stays behind unseen and simply expires.
func (s *AccessService) Issue(ctx context.Context) (Issued, error) {
	rec, err := s.gen.Generate()
	if err != nil {
		return Issued{}, err
	}

	if err := s.codes.Put(ctx, rec); err != nil {
		return Issued{}, fmt.Errorf("%w: put code: %w", ErrStore, err)
	}

	msg := notify.CodeMessage(rec.Code, s.gen.TTL(), rec.CreatedAt)
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.metrics.NotifyFailed("issue")
		if s.policy == notify.PolicyRequired {
			s.logger.Printf("issue %s: notify failed: %v", rec.SessionID, err)
			return Issued{}, fmt.Errorf("%w: %w", ErrNotify, err)
		}
		s.logger.Printf("issue %s: notify failed (best effort): %v", rec.SessionID, err)
	}

	s.metrics.CodeIssued()
	return Issued{SessionID: rec.SessionID, ExpiresAt: rec.ExpiresAt}, nil
}

// Verify checks a candidate code against the stored record.  Checks run in a
// fixed order: session lookup, used flag, expiry, code comparison, then the
// atomic consume.  Store failures come back as ErrStore, never as a denial.
func (s *AccessService) Verify(ctx context.Context, req VerifyRequest) (Decision, error) {
	sid := strings.TrimSpace(req.SessionID)
	candidate := strings.TrimSpace(req.Code)

	if sid == "" {
		return Decision{}, ErrSessionRequired
	}
	if candidate == "" {
		return Decision{}, ErrCodeRequired
	}

	d, err := s.decide(ctx, sid, candidate)
	if err != nil {
		return Decision{}, err
	}

	s.metrics.Verification(string(d.Reason))
	s.recordEvent(ctx, sid, req.RemoteAddr, d)
	return d, nil
}

func (s *AccessService) decide(ctx context.Context, sid, candidate string) (Decision, error) {
	rec, err := s.codes.Get(ctx, sid)
	if errors.Is(err, store.ErrNotFound) {
		return deny(ReasonInvalidSession), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("%w: get code: %w", ErrStore, err)
	}

	if rec.Used {
		return deny(ReasonAlreadyUsed), nil
	}
	if s.now().After(rec.ExpiresAt) {
		return deny(ReasonExpired), nil
	}
	if !codesEqual(candidate, rec.Code) {
		return deny(ReasonInvalidCode), nil
	}

	applied, err := s.codes.MarkUsed(ctx, sid)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: mark used: %w", ErrStore, err)
	}
	if !applied {
		// Lost the race to a concurrent verification.
		return deny(ReasonAlreadyUsed), nil
	}
	return Decision{Granted: true, Reason: ReasonGranted}, nil
}

func codesEqual(candidate, stored string) bool {
	a := []byte(strings.ToUpper(candidate))
	b := []byte(strings.ToUpper(stored))
	return subtle.ConstantTimeCompare(a, b) == 1
}

// recordEvent appends the decision to the audit log.  A failed write is
// logged and does not change the decision.
func (s *AccessService) recordEvent(ctx context.Context, sid, remote string, d Decision) {
	if s.events == nil {
		return
	}
	err := s.events.RecordEvent(ctx, store.AccessEventRecord{
		SessionID:  sid,
		RemoteAddr: remote,
		Granted:    d.Granted,
		Reason:     string(d.Reason),
		DecidedAt:  s.now().UTC(),
	})
	if err != nil {
		s.logger.Printf("audit %s: %v", sid, err)
	}
}
