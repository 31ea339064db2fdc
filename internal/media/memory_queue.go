package media

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/edgard/chatindex/internal/queue"
)

const defaultMaxAttempts = 3

// MemoryQueue is an in-process job queue. Jobs are lost on restart.
type MemoryQueue struct {
	q           *queue.Queue[Job]
	maxAttempts int
	logger      *slog.Logger
}

// NewMemoryQueue creates an in-process queue retrying failed jobs up to
// maxAttempts times.
func NewMemoryQueue(maxAttempts int, logger *slog.Logger) *MemoryQueue {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MemoryQueue{
		q:           queue.New[Job](),
		maxAttempts: maxAttempts,
		logger:      logger.With("component", "media_queue"),
	}
}

// Enqueue adds a job.
func (m *MemoryQueue) Enqueue(_ context.Context, job Job) error {
	if !m.q.Push(job) {
		return queue.ErrClosed
	}
	return nil
}

// Consume handles jobs until ctx is cancelled or the queue is closed and
// drained.
func (m *MemoryQueue) Consume(ctx context.Context, handle Handler) error {
	for {
		job, err := m.q.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := handle(ctx, job); err != nil {
			job.Attempts++
			if job.Attempts >= m.maxAttempts {
				m.logger.WarnContext(ctx, "Dropping media job", "media_ref", job.Ref, "attempts", job.Attempts, "error", err)
				continue
			}
			if !m.q.Push(job) {
				m.logger.WarnContext(ctx, "Queue closed, dropping failed media job", "media_ref", job.Ref, "error", err)
			}
		}
	}
}

// Len returns the number of queued jobs.
func (m *MemoryQueue) Len(context.Context) (int64, error) {
	return int64(m.q.Len()), nil
}

// Close stops accepting jobs.
func (m *MemoryQueue) Close() {
	m.q.Close()
}
