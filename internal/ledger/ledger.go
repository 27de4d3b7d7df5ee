// Package ledger owns every read and write of a user's credit balance.
//
// Grants and generation spends never fail on a short balance: the result is
// clamped at zero so a user can always retry. Hosting purchases are
// check-then-reject and fail with ErrInsufficientCredits instead.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"imagetovideo/internal/models"
)

// GenerationCost is the price of one image-to-video job.
const GenerationCost int64 = 1

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrInsufficientCredits = errors.New("not enough credits")
)

// Store is the persistence contract the ledger relies on. Each mutation must
// be atomic per user record.
type Store interface {
	GetUser(ctx context.Context, email string) (*models.User, error)
	// ApplyDelta upserts the user, sets credits to max(0, credits+delta)
	// and appends videoID when non-empty. It returns the new balance.
	ApplyDelta(ctx context.Context, email string, delta int64, videoID string) (int64, error)
	// AppendBucketLink appends link only if credits >= minBalance.
	AppendBucketLink(ctx context.Context, email, link string, minBalance int64) error
	// SpendForBucketLink deducts cost and appends link in one step, only if
	// credits >= cost. It returns the new balance.
	SpendForBucketLink(ctx context.Context, email, link string, cost int64) (int64, error)
	// ApplyPurchase records eventID and applies the grant together. When
	// eventID was already recorded nothing changes and applied is false.
	ApplyPurchase(ctx context.Context, eventID, email string, credits int64) (balance int64, applied bool, err error)
}

// DeltaRequest asks for a signed change to one user's balance.
type DeltaRequest struct {
	Email   string
	Delta   int64
	VideoID string
}

type Ledger struct {
	store Store
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// NormalizeEmail is the canonical form under which users are keyed.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (l *Ledger) GetUser(ctx context.Context, email string) (*models.User, error) {
	user, err := l.store.GetUser(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (l *Ledger) GetBalance(ctx context.Context, email string) (int64, error) {
	user, err := l.GetUser(ctx, email)
	if err != nil {
		return 0, err
	}
	return user.Credits, nil
}

// HasSufficient reports whether the user can afford amount. An amount of
// zero means "any positive balance". Unknown users and store failures
// report false.
func (l *Ledger) HasSufficient(ctx context.Context, email string, amount int64) bool {
	balance, err := l.GetBalance(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			slog.Error("error reading balance", "component", "ledger", "error", err)
		}
		return false
	}

	if amount == 0 {
		return balance > 0
	}
	if amount < 0 {
		amount = -amount
	}
	return balance >= amount
}

func (l *Ledger) ApplyDelta(ctx context.Context, req DeltaRequest) (int64, error) {
	email := NormalizeEmail(req.Email)
	if email == "" {
		return 0, fmt.Errorf("applying delta: email is required")
	}

	balance, err := l.store.ApplyDelta(ctx, email, req.Delta, strings.TrimSpace(req.VideoID))
	if err != nil {
		return 0, fmt.Errorf("applying delta: %w", err)
	}

	slog.Info("credits updated", "component", "ledger", "email", email, "delta", req.Delta, "balance", balance)
	return balance, nil
}

// AddBucketLink records link for a user whose balance covers cost. It does
// not deduct anything.
func (l *Ledger) AddBucketLink(ctx context.Context, email, link string, cost int64) error {
	return l.store.AppendBucketLink(ctx, NormalizeEmail(email), link, cost)
}

// PurchaseHosting deducts cost and records link atomically.
func (l *Ledger) PurchaseHosting(ctx context.Context, email, link string, cost int64) (int64, error) {
	if cost < 0 {
		return 0, fmt.Errorf("purchasing hosting: negative cost %d", cost)
	}

	email = NormalizeEmail(email)
	balance, err := l.store.SpendForBucketLink(ctx, email, link, cost)
	if err != nil {
		return 0, err
	}

	slog.Info("hosting purchased", "component", "ledger", "email", email, "cost", cost, "balance", balance)
	return balance, nil
}

// GrantPurchase applies a paid credit grant once per key. The webhook keys
// grants by checkout session.
func (l *Ledger) GrantPurchase(ctx context.Context, eventID, email string, credits int64) (int64, bool, error) {
	email = NormalizeEmail(email)
	if eventID == "" || email == "" {
		return 0, false, fmt.Errorf("granting purchase: event id and email are required")
	}
	if credits < 0 {
		return 0, false, fmt.Errorf("granting purchase: negative credits %d", credits)
	}

	balance, applied, err := l.store.ApplyPurchase(ctx, eventID, email, credits)
	if err != nil {
		return 0, false, fmt.Errorf("granting purchase: %w", err)
	}

	if applied {
		slog.Info("purchase granted", "component", "ledger", "email", email, "credits", credits, "balance", balance, "event_id", eventID)
	} else {
		slog.Info("duplicate purchase event ignored", "component", "ledger", "email", email, "event_id", eventID)
	}
	return balance, !applied, nil
}
