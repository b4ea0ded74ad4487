package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/store"
	"github.com/BrandonDHaskell/Bulletin/internal/ids"
	"github.com/BrandonDHaskell/Bulletin/internal/notify"
)

type Priority string

const (
	PriorityInfo   Priority = "info"
	PriorityUpdate Priority = "update"
	PriorityAlert  Priority = "alert"
)

// NormalizePriority maps anything outside info/update/alert to info.
func NormalizePriority(p string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(p))) {
	case PriorityUpdate:
		return PriorityUpdate
	case PriorityAlert:
		return PriorityAlert
	default:
		return PriorityInfo
	}
}

type Announcement struct {
	ID        string
	Title     string
	Content   string
	Priority  Priority
	CreatedAt time.Time
}

type AnnouncementDeps struct {
	Store         store.AnnouncementStore
	Notifier      notify.Notifier
	PublishPolicy notify.Policy
	Metrics       Metrics
	Logger        *log.Logger
	Now           func() time.Time
}

type AnnouncementService struct {
	store    store.AnnouncementStore
	notifier notify.Notifier
	policy   notify.Policy
	metrics  Metrics
	logger   *log.Logger
	now      func() time.Time
}

func NewAnnouncementService(d AnnouncementDeps) *AnnouncementService {
	s := &AnnouncementService{
		store:    d.Store,
		notifier: d.Notifier,
		policy:   d.PublishPolicy,
		metrics:  metricsOrNop(d.Metrics),
		logger:   d.Logger,
		now:      d.Now,
	}
	if s.policy == "" {
		s.policy = notify.PolicyBestEffort
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard, "", 0)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Publish validates, stores and broadcasts an announcement.  The record is
// stored before the notifier runs, so a required-policy notify failure still
// leaves it visible in List.
func (s *AnnouncementService) Publish(ctx context.Context, title, content, priority string) (Announcement, error) {
	title = strings.TrimSpace(title)
	content = strings.TrimSpace(content)
	if title == "" {
		return Announcement{}, ErrTitleRequired
	}
	if content == "" {
		return Announcement{}, ErrContentRequired
	}

	now := s.now().UTC()
	a := Announcement{
		ID:        ids.NewAt(now),
		Title:     title,
		Content:   content,
		Priority:  NormalizePriority(priority),
		CreatedAt: now,
	}

	if err := s.store.Append(ctx, toRecord(a)); err != nil {
		return Announcement{}, fmt.Errorf("%w: append announcement: %w", ErrStore, err)
	}
	s.metrics.AnnouncementPublished(string(a.Priority))

	msg := notify.AnnouncementMessage(a.Title, a.Content, string(a.Priority), a.CreatedAt)
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.metrics.NotifyFailed("publish")
		if s.policy == notify.PolicyRequired {
			s.logger.Printf("publish %s: notify failed: %v", a.ID, err)
			return a, fmt.Errorf("%w: %w", ErrNotify, err)
		}
		s.logger.Printf("publish %s: notify failed (best effort): %v", a.ID, err)
	}
	return a, nil
}

// List returns every announcement, newest first.
func (s *AnnouncementService) List(ctx context.Context) ([]Announcement, error) {
	recs, err := s.store.List(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: list announcements: %w", ErrStore, err)
	}
	out := make([]Announcement, 0, len(recs))
	for _, r := range recs {
		out = append(out, fromRecord(r))
	}
	return out, nil
}

// DefaultAnnouncements are the dev seed entries.  Their ids are fixed, so
// seeding a persistent store on every start adds them only once.
func DefaultAnnouncements(now time.Time) []store.AnnouncementRecord {
	now = now.UTC()
	return []store.AnnouncementRecord{
		{
			ID:        "seed-welcome",
			Title:     "Welcome to the Dashboard",
			Content:   "This is your secure announcement center. All announcements are managed through Discord webhooks with a secure backend.",
			Priority:  string(PriorityInfo),
			CreatedAt: now,
		},
		{
			ID:        "seed-status",
			Title:     "System Status",
			Content:   "All systems are operational. The dashboard is ready for use.",
			Priority:  string(PriorityUpdate),
			CreatedAt: now.Add(-time.Hour),
		},
	}
}

func toRecord(a Announcement) store.AnnouncementRecord {
	return store.AnnouncementRecord{
		ID:        a.ID,
		Title:     a.Title,
		Content:   a.Content,
		Priority:  string(a.Priority),
		CreatedAt: a.CreatedAt,
	}
}

func fromRecord(r store.AnnouncementRecord) Announcement {
	return Announcement{
		ID:        r.ID,
		Title:     r.Title,
		Content:   r.Content,
		Priority:  NormalizePriority(r.Priority),
		CreatedAt: r.CreatedAt,
	}
}
