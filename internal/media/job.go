// Package media downloads photos referenced by indexed messages and profiles
// into an object store, driven by a job queue that can live in process or in
// Redis.
package media

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Job asks for one media reference to be downloaded and stored.
type Job struct {
	ID        string    `json:"id"`
	Ref       string    `json:"ref"`
	EventTime time.Time `json:"event_time"`
	Attempts  int       `json:"attempts,omitempty"`
}

// NewJob creates a job with a fresh ID.
func NewJob(ref string, eventTime time.Time) Job {
	return Job{ID: uuid.NewString(), Ref: ref, EventTime: eventTime.UTC()}
}

// Handler processes one job. A returned error marks the job as failed.
type Handler func(ctx context.Context, job Job) error

// Queue transports media jobs to the worker.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Consume calls handle for each job until ctx is cancelled.
	Consume(ctx context.Context, handle Handler) error
	Len(ctx context.Context) (int64, error)
}
