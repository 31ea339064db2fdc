package tasks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/chatindex/internal/config"
	"github.com/edgard/chatindex/internal/database"
	"github.com/edgard/chatindex/internal/metrics"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakePending struct{ msgs, users int }

func (f fakePending) Pending() (int, int) { return f.msgs, f.users }

type fakeLen int

func (f fakeLen) Len() int { return int(f) }

type fakeMediaLen struct {
	n   int64
	err error
}

func (f fakeMediaLen) Len(context.Context) (int64, error) { return f.n, f.err }

func newDeps(t *testing.T) TaskDeps {
	t.Helper()
	db, err := database.NewDB(database.DialectSQLite, filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })

	cfg := &config.Config{}
	cfg.Search.CacheMaxAge = 24 * time.Hour
	return TaskDeps{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:  database.NewStore(db, nil),
		Config: cfg,
		Clock:  clockwork.NewFakeClockAt(now),
	}
}

func TestRegisterAllTasks(t *testing.T) {
	tasks := RegisterAllTasks(newDeps(t))
	assert.Len(t, tasks, 3)
	for _, name := range []string{"sql_maintenance", "cache_prune", "queue_stats"} {
		assert.Contains(t, tasks, name)
	}
	for name := range config.DefaultTasks {
		assert.Contains(t, tasks, name, "every default task has an implementation")
	}
}

func TestSQLMaintenanceTask(t *testing.T) {
	deps := newDeps(t)
	require.NoError(t, newSQLMaintenanceTask(deps)(context.Background()))
}

func TestCachePruneTask(t *testing.T) {
	deps := newDeps(t)
	ctx := context.Background()

	require.NoError(t, deps.Store.UpsertCacheEntry(ctx, &database.SearchCacheEntry{
		Fingerprint:   "old",
		CachedRows:    []byte{},
		LastQueryTime: now.Add(-25 * time.Hour),
	}))
	require.NoError(t, deps.Store.UpsertCacheEntry(ctx, &database.SearchCacheEntry{
		Fingerprint:   "fresh",
		CachedRows:    []byte{},
		LastQueryTime: now.Add(-time.Hour),
	}))

	require.NoError(t, newCachePruneTask(deps)(ctx))

	old, err := deps.Store.GetCacheEntry(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, old)
	fresh, err := deps.Store.GetCacheEntry(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, fresh)
}

func TestQueueStatsTask(t *testing.T) {
	deps := newDeps(t)
	deps.Pipeline = fakePending{msgs: 3, users: 4}
	deps.CacheWriter = fakeLen(2)
	deps.MediaQueue = fakeMediaLen{n: 9}

	require.NoError(t, newQueueStatsTask(deps)(context.Background()))
	assert.InDelta(t, 3, testutil.ToFloat64(metrics.QueueDepth.WithLabelValues("messages")), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(metrics.QueueDepth.WithLabelValues("users")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.QueueDepth.WithLabelValues("cache_writer")), 0)
	assert.InDelta(t, 9, testutil.ToFloat64(metrics.QueueDepth.WithLabelValues("media")), 0)

	deps.MediaQueue = fakeMediaLen{err: errors.New("redis down")}
	assert.NoError(t, newQueueStatsTask(deps)(context.Background()), "a media queue error is only logged")
}
