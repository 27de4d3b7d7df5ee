package email

import (
	"context"
	"log/slog"
	"time"
)

// LogSender writes the link to the log instead of sending mail. Used in
// development.
type LogSender struct{}

func (LogSender) SendMagicLink(_ context.Context, to, link string, ttl time.Duration) error {
	slog.Info("magic link (not sent)", "component", "email", "email", to, "link", link, "ttl", ttl)
	return nil
}
