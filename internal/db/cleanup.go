package db

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultCleanupInterval = 1 * time.Hour
	// DefaultEventRetention outlives the payment provider's webhook retry window.
	DefaultEventRetention = 30 * 24 * time.Hour
)

// EventPurger is implemented by both user store backends.
type EventPurger interface {
	PurgePaymentEvents(ctx context.Context, cutoff time.Time) (int64, error)
}

type CleanupService struct {
	paymentEvents EventPurger
	interval      time.Duration
	retention     time.Duration
	now           func() time.Time
}

func NewCleanupService(paymentEvents EventPurger) *CleanupService {
	return &CleanupService{
		paymentEvents: paymentEvents,
		interval:      DefaultCleanupInterval,
		retention:     DefaultEventRetention,
		now:           time.Now,
	}
}

func (s *CleanupService) Start(ctx context.Context) {
	slog.Info("starting payment event cleanup service", "component", "cleanup", "interval", s.interval, "retention", s.retention)

	s.runCleanup(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping payment event cleanup service", "component", "cleanup")
			return
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *CleanupService) runCleanup(ctx context.Context) {
	deleted, err := s.paymentEvents.PurgePaymentEvents(ctx, s.now().Add(-s.retention))
	if err != nil {
		slog.Error("error deleting old payment events", "component", "cleanup", "error", err)
	} else if deleted > 0 {
		slog.Info("deleted old payment events", "component", "cleanup", "count", deleted)
	}
}
