package db

import (
	"context"
	"testing"
	"time"
)

func TestCleanupServiceRemovesEventsPastRetention(t *testing.T) {
	d := openTestDB(t)
	repo := NewUserRepository(d)
	events := NewPaymentEventRepository(d)
	ctx := context.Background()

	if _, _, err := repo.ApplyPurchase(ctx, "evt_1", "p@example.com", 10); err != nil {
		t.Fatalf("ApplyPurchase() error = %v", err)
	}

	svc := NewCleanupService(events)

	svc.runCleanup(ctx)
	if ok, err := events.exists(ctx, "evt_1"); err != nil || !ok {
		t.Fatalf("Exists() = (%v, %v), want (true, nil) inside retention", ok, err)
	}

	svc.now = func() time.Time { return time.Now().Add(DefaultEventRetention + time.Hour) }
	svc.runCleanup(ctx)
	if ok, err := events.exists(ctx, "evt_1"); err != nil || ok {
		t.Fatalf("Exists() = (%v, %v), want (false, nil) after retention", ok, err)
	}

	user, err := repo.GetUser(ctx, "p@example.com")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if user.Credits != 10 {
		t.Fatalf("credits = %d, want 10", user.Credits)
	}
}
