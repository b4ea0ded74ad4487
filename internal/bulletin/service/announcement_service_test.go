package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/service"
	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/store"
	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/store/memory"
	"github.com/BrandonDHaskell/Bulletin/internal/notify"
)

func newTestAnnouncementService(policy notify.Policy, seed []store.AnnouncementRecord) (*service.AnnouncementService, *notify.Recorder, *fakeClock) {
	clk := newFakeClock()
	rec := &notify.Recorder{}
	svc := service.NewAnnouncementService(service.AnnouncementDeps{
		Store:         memory.NewAnnouncementStore(seed),
		Notifier:      rec,
		PublishPolicy: policy,
		Logger:        silentLogger(),
		Now:           clk.Now,
	})
	return svc, rec, clk
}

type failingAnnouncementStore struct{}

func (failingAnnouncementStore) Append(context.Context, store.AnnouncementRecord) error { return errBoom }
func (failingAnnouncementStore) List(context.Context, int) ([]store.AnnouncementRecord, error) {
	return nil, errBoom
}

func TestPublish_TrimsAndNotifies(t *testing.T) {
	svc, rec, clk := newTestAnnouncementService("", nil)

	a, err := svc.Publish(context.Background(), "  Maintenance  ", "\tTonight at 9\n", "alert")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if a.Title != "Maintenance" || a.Content != "Tonight at 9" {
		t.Errorf("expected trimmed fields, got %+v", a)
	}
	if a.Priority != service.PriorityAlert {
		t.Errorf("expected alert, got %s", a.Priority)
	}
	if !a.CreatedAt.Equal(clk.Now()) || a.ID == "" {
		t.Errorf("unexpected id/time %+v", a)
	}

	msgs := rec.Messages()
	if len(msgs) != 1 || msgs[0].Embeds[0].Title != "⚠️ Maintenance" {
		t.Fatalf("unexpected notification %+v", msgs)
	}
}

func TestPublish_Validation(t *testing.T) {
	svc, rec, _ := newTestAnnouncementService("", nil)
	ctx := context.Background()

	if _, err := svc.Publish(ctx, "   ", "body", "info"); !errors.Is(err, service.ErrTitleRequired) {
		t.Errorf("expected ErrTitleRequired, got %v", err)
	}
	if _, err := svc.Publish(ctx, "title", "", "info"); !errors.Is(err, service.ErrContentRequired) {
		t.Errorf("expected ErrContentRequired, got %v", err)
	}

	list, _ := svc.List(ctx)
	if len(list) != 0 {
		t.Errorf("rejected announcements must not be stored, got %d", len(list))
	}
	if len(rec.Messages()) != 0 {
		t.Error("rejected announcements must not be broadcast")
	}
}

func TestPublish_PriorityFallsBackToInfo(t *testing.T) {
	svc, _, _ := newTestAnnouncementService("", nil)
	for _, p := range []string{"", "urgent", "INFO"} {
		a, err := svc.Publish(context.Background(), "t", "c", p)
		if err != nil {
			t.Fatalf("Publish: %v", err)
		}
		if a.Priority != service.PriorityInfo {
			t.Errorf("%q: expected info, got %s", p, a.Priority)
		}
	}
	if got := service.NormalizePriority(" Update "); got != service.PriorityUpdate {
		t.Errorf("expected update, got %s", got)
	}
}

func TestPublish_NotifyPolicy(t *testing.T) {
	t.Run("best effort", func(t *testing.T) {
		svc, rec, _ := newTestAnnouncementService(notify.PolicyBestEffort, nil)
		rec.SetErr(errBoom)
		if _, err := svc.Publish(context.Background(), "t", "c", "info"); err != nil {
			t.Fatalf("expected success, got %v", err)
		}
	})
	t.Run("required", func(t *testing.T) {
		svc, rec, _ := newTestAnnouncementService(notify.PolicyRequired, nil)
		rec.SetErr(errBoom)
		a, err := svc.Publish(context.Background(), "t", "c", "info")
		if !errors.Is(err, service.ErrNotify) {
			t.Fatalf("expected ErrNotify, got %v", err)
		}
		list, _ := svc.List(context.Background())
		if len(list) != 1 || list[0].ID != a.ID {
			t.Errorf("expected the stored announcement to remain listed, got %+v", list)
		}
	})
}

func TestList_NewestFirst(t *testing.T) {
	svc, _, clk := newTestAnnouncementService("", service.DefaultAnnouncements(newFakeClock().Now().Add(-24*time.Hour)))
	ctx := context.Background()

	first, _ := svc.Publish(ctx, "first", "c", "info")
	clk.Advance(time.Second)
	second, _ := svc.Publish(ctx, "second", "c", "update")

	list, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("expected 4 (2 seeded + 2), got %d", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("expected newest first, got %s, %s", list[0].Title, list[1].Title)
	}
	if list[2].Title != "Welcome to the Dashboard" || list[3].Title != "System Status" {
		t.Errorf("unexpected seed order: %s, %s", list[2].Title, list[3].Title)
	}
}

func TestAnnouncementStoreFailure(t *testing.T) {
	svc := service.NewAnnouncementService(service.AnnouncementDeps{
		Store:    failingAnnouncementStore{},
		Notifier: &notify.Recorder{},
	})
	if _, err := svc.Publish(context.Background(), "t", "c", "info"); !errors.Is(err, service.ErrStore) {
		t.Errorf("Publish: expected ErrStore, got %v", err)
	}
	if _, err := svc.List(context.Background()); !errors.Is(err, service.ErrStore) {
		t.Errorf("List: expected ErrStore, got %v", err)
	}
}
