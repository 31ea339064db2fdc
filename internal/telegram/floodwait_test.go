package telegram

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/chatindex/internal/deadline"
)

func TestWithFloodWait_RetriesOnceAfterDelay(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var calls atomic.Int32
	var args []int64
	type result struct {
		v   string
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := WithFloodWait(ctx, clock, nil, "get_chat", func(context.Context) (string, error) {
			n := calls.Add(1)
			args = append(args, 42)
			if n == 1 {
				return "", &tgbot.TooManyRequestsError{Message: "Too Many Requests", RetryAfter: 3}
			}
			return "ok", nil
		})
		done <- result{v, err}
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.EqualValues(t, 1, calls.Load())

	clock.Advance(2 * time.Second)
	select {
	case <-done:
		t.Fatal("retried before the flood wait elapsed")
	case <-time.After(20 * time.Millisecond):
	}

	clock.Advance(time.Second)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "ok", res.v)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, []int64{42, 42}, args)
}

func TestWithFloodWait_OtherErrorsAreNotRetried(t *testing.T) {
	clock := clockwork.NewFakeClock()
	calls := 0
	_, err := WithFloodWait(context.Background(), clock, nil, "send", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("chat not found")
	})
	assert.ErrorIs(t, err, ErrPlatform)
	assert.Equal(t, 1, calls)
}

func TestWithFloodWait_CancelledWhileWaiting(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := WithFloodWait(ctx, clock, nil, "send", func(context.Context) (int, error) {
			return 0, &FloodWaitError{RetryAfter: time.Minute}
		})
		done <- err
	}()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))
	assert.ErrorIs(t, classify(context.Canceled), context.Canceled)
	assert.NotErrorIs(t, classify(context.Canceled), ErrPlatform)

	var fw *FloodWaitError
	require.ErrorAs(t, classify(&tgbot.TooManyRequestsError{RetryAfter: 7}), &fw)
	assert.Equal(t, 7*time.Second, fw.RetryAfter)
}

func TestWithFloodWait_WaitDoesNotCountAgainstDeadline(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, dl := deadline.New(context.Background(), clock, time.Minute)
	defer dl.Stop()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		_, err := WithFloodWait(ctx, clock, nil, "get_chat", func(ctx context.Context) (string, error) {
			if calls.Add(1) == 1 {
				return "", &FloodWaitError{RetryAfter: 5 * time.Minute}
			}
			return "ok", ctx.Err()
		})
		done <- err
	}()

	// the event deadline timer and the flood wait sleep
	wait, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(wait, 2))
	clock.Advance(5 * time.Minute)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-wait.Done():
		t.Fatal("flood wait retry did not run")
	}
	assert.EqualValues(t, 2, calls.Load())
	assert.False(t, dl.Expired())
	assert.NoError(t, ctx.Err())
}
