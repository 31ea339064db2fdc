package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/jonboulle/clockwork"

	"github.com/edgard/chatindex/internal/deadline"
	"github.com/edgard/chatindex/internal/metrics"
)

// ErrPlatform marks a failed platform call that is not a flood wait.
var ErrPlatform = errors.New("platform request failed")

// FloodWaitError is the platform asking the caller to back off.
type FloodWaitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait %s", e.RetryAfter)
}

func (e *FloodWaitError) Unwrap() error { return e.Err }

// classify maps go-telegram/bot errors onto FloodWaitError and ErrPlatform.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return err
	}
	var tooMany *tgbot.TooManyRequestsError
	if errors.As(err, &tooMany) {
		return &FloodWaitError{RetryAfter: time.Duration(tooMany.RetryAfter) * time.Second, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPlatform, err)
}

// WithFloodWait runs fn, sleeping for exactly the requested time and calling
// it again whenever it fails with a flood wait. Any other error is returned
// as is. Flood waits are the only retried condition, and the time spent
// waiting is added to any processing deadline carried by ctx.
func WithFloodWait[T any](ctx context.Context, clock clockwork.Clock, logger *slog.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	for {
		v, err := fn(ctx)
		err = classify(err)
		var fw *FloodWaitError
		if !errors.As(err, &fw) {
			return v, err
		}

		metrics.FloodWaits.Inc()
		deadline.Extend(ctx, fw.RetryAfter)
		if logger != nil {
			logger.WarnContext(ctx, "Flood wait, sleeping before retry", "op", op, "retry_after", fw.RetryAfter)
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-clock.After(fw.RetryAfter):
		}
	}
}
