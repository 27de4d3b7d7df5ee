package blob

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultCleanupInterval = 15 * time.Minute
	// DefaultUploadMaxAge bounds how long a staged upload may linger after
	// a crash between staging and submission.
	DefaultUploadMaxAge = 1 * time.Hour
)

// CleanupService removes staged uploads that were never cleaned up by the
// request that created them.
type CleanupService struct {
	blobs    *Service
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
}

func NewCleanupService(blobs *Service) *CleanupService {
	return &CleanupService{
		blobs:    blobs,
		interval: DefaultCleanupInterval,
		maxAge:   DefaultUploadMaxAge,
		now:      time.Now,
	}
}

func (s *CleanupService) Start(ctx context.Context) {
	slog.Info("starting upload cleanup service", "component", "blob_cleanup", "interval", s.interval)

	s.runCleanup(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping upload cleanup service", "component", "blob_cleanup")
			return
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *CleanupService) runCleanup(ctx context.Context) {
	stale, err := s.blobs.staleFiles(KindUpload, s.now().Add(-s.maxAge))
	if err != nil {
		slog.Error("error listing stale uploads", "component", "blob_cleanup", "error", err)
		return
	}

	deleted := 0
	for _, path := range stale {
		if ctx.Err() != nil {
			return
		}
		if err := s.blobs.Delete(path); err != nil {
			slog.Warn("error deleting stale upload", "component", "blob_cleanup", "error", err, "path", path)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		slog.Info("deleted stale uploads", "component", "blob_cleanup", "count", deleted)
	}
}
