package ingest

import (
	"context"
	"io"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// maxNotifyLen keeps notifications within a single platform message.
const maxNotifyLen = 3500

// Sender delivers a plain text message to a chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Notifier tells the operator that something went wrong.
type Notifier interface {
	Notify(ctx context.Context, text string) bool
}

// RateLimitedNotifier sends at most one notification per interval; the rest
// are dropped.
type RateLimitedNotifier struct {
	sender  Sender
	target  int64
	limiter *rate.Limiter
	clock   clockwork.Clock
	logger  *slog.Logger
}

// NewNotifier creates a notifier sending to the target chat.
func NewNotifier(sender Sender, target int64, interval time.Duration, clock clockwork.Clock, logger *slog.Logger) *RateLimitedNotifier {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RateLimitedNotifier{
		sender:  sender,
		target:  target,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		clock:   clock,
		logger:  logger.With("component", "notifier"),
	}
}

// Notify sends text unless the rate limit suppresses it. It reports whether a
// send was attempted.
func (n *RateLimitedNotifier) Notify(ctx context.Context, text string) bool {
	if n == nil || n.sender == nil || n.target == 0 {
		return false
	}
	if !n.limiter.AllowN(n.clock.Now(), 1) {
		n.logger.DebugContext(ctx, "Notification suppressed by rate limit")
		return false
	}
	if err := n.sender.SendMessage(ctx, n.target, truncate(text, maxNotifyLen)); err != nil {
		n.logger.WarnContext(ctx, "Failed to notify operator", "error", err)
	}
	return true
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
