package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/edgard/chatindex/internal/database"
	"github.com/edgard/chatindex/internal/metrics"
	"github.com/edgard/chatindex/internal/queue"
)

// Job is a cache mutation applied by the Writer.
type Job interface {
	Kind() string
	CacheKey() string
}

// RepopulateJob stores a complete window fetched by the read path.
type RepopulateJob struct {
	Fingerprint         string
	Rows                []database.IndexRow
	WindowStart         int
	SettingsFingerprint string
	MaxCount            int64
}

func (j RepopulateJob) Kind() string     { return "repopulate" }
func (j RepopulateJob) CacheKey() string { return j.Fingerprint }

// RecenterJob asks the writer to refetch the window around Center. No
// recount happens.
type RecenterJob struct {
	Fingerprint         string
	Query               database.SearchQuery
	Center              int
	SettingsFingerprint string
	MaxCount            int64
}

func (j RecenterJob) Kind() string     { return "recenter" }
func (j RecenterJob) CacheKey() string { return j.Fingerprint }

// Enqueuer accepts cache jobs without blocking.
type Enqueuer interface {
	Enqueue(job Job)
}

// Writer is the single consumer of cache jobs. Jobs are applied strictly in
// enqueue order.
type Writer struct {
	jobs   *queue.Queue[Job]
	store  database.Store
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewWriter creates a cache writer.
func NewWriter(store database.Store, clock clockwork.Clock, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Writer{
		jobs:   queue.New[Job](),
		store:  store,
		clock:  clock,
		logger: logger.With("component", "cache_writer"),
	}
}

// Enqueue queues a job. It never blocks.
func (w *Writer) Enqueue(job Job) {
	if !w.jobs.Push(job) {
		w.logger.Warn("Cache writer closed, dropping job", "kind", job.Kind(), "fingerprint", job.CacheKey())
		return
	}
	metrics.QueueDepth.WithLabelValues("cache_writer").Set(float64(w.jobs.Len()))
}

// Len returns the number of pending jobs.
func (w *Writer) Len() int {
	return w.jobs.Len()
}

// Close stops accepting jobs; Run returns once the backlog is applied.
func (w *Writer) Close() {
	w.jobs.Close()
}

// Run applies jobs until the context is cancelled or the writer is closed
// and drained. A storage failure stops the writer.
func (w *Writer) Run(ctx context.Context) error {
	w.logger.Info("Cache writer started")
	defer w.logger.Info("Cache writer stopped")
	for {
		err := w.ProcessNext(ctx)
		switch {
		case err == nil:
		case errors.Is(err, queue.ErrClosed):
			return nil
		case ctx.Err() != nil:
			return nil
		default:
			return err
		}
	}
}

// ProcessNext blocks for one job and applies it.
func (w *Writer) ProcessNext(ctx context.Context) error {
	job, err := w.jobs.Pop(ctx)
	if err != nil {
		return err
	}
	metrics.QueueDepth.WithLabelValues("cache_writer").Set(float64(w.jobs.Len()))

	switch j := job.(type) {
	case RepopulateJob:
		err = w.write(ctx, j.Fingerprint, j.Rows, j.WindowStart, j.SettingsFingerprint, j.MaxCount)
	case RecenterJob:
		err = w.recenter(ctx, j)
	default:
		err = fmt.Errorf("unknown cache job %T", job)
	}
	if err != nil {
		w.logger.ErrorContext(ctx, "Cache job failed", "kind", job.Kind(), "fingerprint", job.CacheKey(), "error", err)
		return err
	}
	metrics.CacheWrites.WithLabelValues(job.Kind()).Inc()
	return nil
}

func (w *Writer) recenter(ctx context.Context, j RecenterJob) error {
	start := max(0, j.Center-WindowLead)
	rows, err := w.store.FetchWindow(ctx, j.Query, start, WindowRows)
	if err != nil {
		return fmt.Errorf("refetch window at %d: %w", start, err)
	}
	w.logger.DebugContext(ctx, "Re-centered cached window", "fingerprint", j.Fingerprint, "center", j.Center, "start", start)
	return w.write(ctx, j.Fingerprint, rows, start, j.SettingsFingerprint, j.MaxCount)
}

func (w *Writer) write(ctx context.Context, fingerprint string, rows []database.IndexRow, start int, settingsFP string, maxCount int64) error {
	return w.store.UpsertCacheEntry(ctx, &database.SearchCacheEntry{
		Fingerprint:         fingerprint,
		CachedRows:          EncodeWindow(rows),
		WindowStart:         start,
		SettingsFingerprint: settingsFP,
		MaxCount:            maxCount,
		LastQueryTime:       w.clock.Now(),
	})
}
