package db

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"imagetovideo/internal/ledger"
	"imagetovideo/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	d, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestApplyDeltaCreatesUserAndClampsAtZero(t *testing.T) {
	repo := NewUserRepository(openTestDB(t))
	ctx := context.Background()

	balance, err := repo.ApplyDelta(ctx, "new@example.com", -5, "")
	if err != nil {
		t.Fatalf("ApplyDelta() error = %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance = %d, want 0", balance)
	}

	user, err := repo.GetUser(ctx, "new@example.com")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if user.Credits != 0 || len(user.VideoIDs) != 0 || len(user.BucketLinks) != 0 {
		t.Fatalf("user = %+v, want empty record", user)
	}
	if user.ID == "" || user.CreatedAt.IsZero() {
		t.Fatalf("user = %+v, want ID and created_at set", user)
	}
}

func TestApplyDeltaAppendsVideoIDs(t *testing.T) {
	repo := NewUserRepository(openTestDB(t))
	ctx := context.Background()

	if _, err := repo.ApplyDelta(ctx, "a@example.com", 5, ""); err != nil {
		t.Fatalf("ApplyDelta() error = %v", err)
	}
	if _, err := repo.ApplyDelta(ctx, "a@example.com", -1, "job-1"); err != nil {
		t.Fatalf("ApplyDelta() error = %v", err)
	}
	balance, err := repo.ApplyDelta(ctx, "a@example.com", -1, "job-2")
	if err != nil {
		t.Fatalf("ApplyDelta() error = %v", err)
	}
	if balance != 3 {
		t.Fatalf("balance = %d, want 3", balance)
	}

	user, err := repo.GetUser(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if len(user.VideoIDs) != 2 || user.VideoIDs[0] != "job-1" || user.VideoIDs[1] != "job-2" {
		t.Fatalf("video IDs = %v, want [job-1 job-2]", user.VideoIDs)
	}
}

func TestApplyDeltaConcurrentUpdatesAreNotLost(t *testing.T) {
	repo := NewUserRepository(openTestDB(t))
	ctx := context.Background()

	if _, err := repo.ApplyDelta(ctx, "c@example.com", 100, ""); err != nil {
		t.Fatalf("ApplyDelta() error = %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.ApplyDelta(ctx, "c@example.com", -1, ""); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("ApplyDelta() error = %v", err)
	}

	user, err := repo.GetUser(ctx, "c@example.com")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if user.Credits != 80 {
		t.Fatalf("credits = %d, want 80", user.Credits)
	}
}

func TestGetUserNotFound(t *testing.T) {
	repo := NewUserRepository(openTestDB(t))

	_, err := repo.GetUser(context.Background(), "missing@example.com")
	if !errors.Is(err, ledger.ErrUserNotFound) {
		t.Fatalf("GetUser() error = %v, want %v", err, ledger.ErrUserNotFound)
	}
}

func TestSpendForBucketLink(t *testing.T) {
	repo := NewUserRepository(openTestDB(t))
	ctx := context.Background()

	if _, err := repo.SpendForBucketLink(ctx, "nobody@example.com", "https://x/1", 5); !errors.Is(err, ledger.ErrUserNotFound) {
		t.Fatalf("SpendForBucketLink() error = %v, want %v", err, ledger.ErrUserNotFound)
	}

	if _, err := repo.ApplyDelta(ctx, "h@example.com", 9, ""); err != nil {
		t.Fatalf("ApplyDelta() error = %v", err)
	}
	if _, err := repo.SpendForBucketLink(ctx, "h@example.com", "https://x/1", 10); !errors.Is(err, ledger.ErrInsufficientCredits) {
		t.Fatalf("SpendForBucketLink() error = %v, want %v", err, ledger.ErrInsufficientCredits)
	}

	balance, err := repo.SpendForBucketLink(ctx, "h@example.com", "https://x/2", 5)
	if err != nil {
		t.Fatalf("SpendForBucketLink() error = %v", err)
	}
	if balance != 4 {
		t.Fatalf("balance = %d, want 4", balance)
	}

	user, err := repo.GetUser(ctx, "h@example.com")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if len(user.BucketLinks) != 1 || user.BucketLinks[0] != "https://x/2" {
		t.Fatalf("bucket links = %v, want [https://x/2]", user.BucketLinks)
	}
}

func TestAppendBucketLinkRequiresBalance(t *testing.T) {
	repo := NewUserRepository(openTestDB(t))
	ctx := context.Background()

	if _, err := repo.ApplyDelta(ctx, "b@example.com", 3, ""); err != nil {
		t.Fatalf("ApplyDelta() error = %v", err)
	}
	if err := repo.AppendBucketLink(ctx, "b@example.com", "https://x/1", 5); !errors.Is(err, ledger.ErrInsufficientCredits) {
		t.Fatalf("AppendBucketLink() error = %v, want %v", err, ledger.ErrInsufficientCredits)
	}
	if err := repo.AppendBucketLink(ctx, "b@example.com", "https://x/2", 3); err != nil {
		t.Fatalf("AppendBucketLink() error = %v", err)
	}

	user, err := repo.GetUser(ctx, "b@example.com")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if user.Credits != 3 {
		t.Fatalf("credits = %d, want 3", user.Credits)
	}
	if len(user.BucketLinks) != 1 || user.BucketLinks[0] != "https://x/2" {
		t.Fatalf("bucket links = %v, want [https://x/2]", user.BucketLinks)
	}
}

func TestApplyPurchaseIgnoresReplayedEvent(t *testing.T) {
	d := openTestDB(t)
	repo := NewUserRepository(d)
	events := NewPaymentEventRepository(d)
	ctx := context.Background()

	balance, applied, err := repo.ApplyPurchase(ctx, "evt_1", "p@example.com", 10)
	if err != nil {
		t.Fatalf("ApplyPurchase() error = %v", err)
	}
	if !applied || balance != 10 {
		t.Fatalf("ApplyPurchase() = (%d, %v), want (10, true)", balance, applied)
	}

	balance, applied, err = repo.ApplyPurchase(ctx, "evt_1", "p@example.com", 10)
	if err != nil {
		t.Fatalf("ApplyPurchase() replay error = %v", err)
	}
	if applied || balance != 10 {
		t.Fatalf("ApplyPurchase() replay = (%d, %v), want (10, false)", balance, applied)
	}

	exists, err := events.exists(ctx, "evt_1")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if !exists {
		t.Fatal("Exists() = false, want true")
	}
}

func TestPurgePaymentEvents(t *testing.T) {
	d := openTestDB(t)
	repo := NewUserRepository(d)
	events := NewPaymentEventRepository(d)
	ctx := context.Background()

	if _, _, err := repo.ApplyPurchase(ctx, "evt_old", "p@example.com", 1); err != nil {
		t.Fatalf("ApplyPurchase() error = %v", err)
	}

	deleted, err := events.PurgePaymentEvents(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PurgePaymentEvents() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
}

func TestImportKeepsRecordAndRejectsDuplicate(t *testing.T) {
	repo := NewUserRepository(openTestDB(t))
	ctx := context.Background()

	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	user := &models.User{
		ID:          "legacy-1",
		Email:       "legacy@example.com",
		Credits:     7,
		VideoIDs:    []string{"v1"},
		BucketLinks: []string{"https://x/1"},
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	if err := repo.Import(ctx, user); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if err := repo.Import(ctx, user); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("Import() duplicate error = %v, want %v", err, ErrDuplicate)
	}

	got, err := repo.GetUser(ctx, "legacy@example.com")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if got.ID != "legacy-1" || got.Credits != 7 || !got.CreatedAt.Equal(created) {
		t.Fatalf("user = %+v, want imported record", got)
	}

	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1 {
		t.Fatalf("Count() = %d, want 1", count)
	}
}
