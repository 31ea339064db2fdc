package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/edgard/chatindex/internal/metrics"
)

// ErrEmptyPayload is returned when a download yields no bytes.
var ErrEmptyPayload = errors.New("empty media payload")

// Downloader fetches the bytes behind a media reference.
type Downloader interface {
	DownloadMedia(ctx context.Context, ref string) ([]byte, error)
}

// MappingStore records which references have been stored.
type MappingStore interface {
	HasMediaMapping(ctx context.Context, mediaRef string) (bool, error)
	InsertMediaMapping(ctx context.Context, mediaRef string, eventTime time.Time) error
}

// Worker downloads queued media into an object store.
type Worker struct {
	queue      Queue
	downloader Downloader
	objects    ObjectStore
	mappings   MappingStore
	logger     *slog.Logger
}

// NewWorker wires a worker.
func NewWorker(queue Queue, downloader Downloader, objects ObjectStore, mappings MappingStore, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Worker{
		queue:      queue,
		downloader: downloader,
		objects:    objects,
		mappings:   mappings,
		logger:     logger.With("component", "media_worker"),
	}
}

// Run consumes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Media worker started")
	defer w.logger.Info("Media worker stopped")
	return w.queue.Consume(ctx, w.Handle)
}

// Handle stores one job. Jobs for references already stored are skipped.
func (w *Worker) Handle(ctx context.Context, job Job) error {
	done, err := w.mappings.HasMediaMapping(ctx, job.Ref)
	if err != nil {
		metrics.MediaJobs.WithLabelValues("failed").Inc()
		return err
	}
	if done {
		metrics.MediaJobs.WithLabelValues("skipped").Inc()
		return nil
	}

	data, err := w.downloader.DownloadMedia(ctx, job.Ref)
	if err != nil {
		metrics.MediaJobs.WithLabelValues("failed").Inc()
		return fmt.Errorf("download %s: %w", job.Ref, err)
	}
	if len(data) == 0 {
		metrics.MediaJobs.WithLabelValues("failed").Inc()
		return fmt.Errorf("download %s: %w", job.Ref, ErrEmptyPayload)
	}

	mime := mimetype.Detect(data)
	key := ObjectKey(job.Ref, mime.Extension())
	if err := putBytes(ctx, w.objects, key, data, mime.String()); err != nil {
		metrics.MediaJobs.WithLabelValues("failed").Inc()
		return err
	}
	if err := w.mappings.InsertMediaMapping(ctx, job.Ref, job.EventTime); err != nil {
		metrics.MediaJobs.WithLabelValues("failed").Inc()
		return err
	}

	metrics.MediaJobs.WithLabelValues("stored").Inc()
	w.logger.DebugContext(ctx, "Stored media", "media_ref", job.Ref, "key", key, "mime", mime.String(), "bytes", len(data))
	return nil
}

// ObjectKey names the stored object for a reference.
func ObjectKey(ref, ext string) string {
	ref = strings.NewReplacer("/", "_", "\\", "_").Replace(ref)
	return ref + ext
}
