// Package tasks implements the scheduled maintenance tasks for chatindex.
// It includes task definitions, dependencies, and registration mechanisms.
package tasks

import (
	"context"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/edgard/chatindex/internal/config"
	"github.com/edgard/chatindex/internal/database"
)

// PendingCounter reports the ingestion queue depths.
type PendingCounter interface {
	Pending() (messages, users int)
}

// LenCounter reports the depth of an in-process queue.
type LenCounter interface {
	Len() int
}

// MediaLenCounter reports the depth of the media job queue.
type MediaLenCounter interface {
	Len(ctx context.Context) (int64, error)
}

// TaskDeps contains all dependencies required by scheduled tasks.
// MediaQueue is nil when media downloads are disabled.
type TaskDeps struct {
	Logger      *slog.Logger
	Store       database.Store
	Config      *config.Config
	Clock       clockwork.Clock
	Pipeline    PendingCounter
	CacheWriter LenCounter
	MediaQueue  MediaLenCounter
}
