package tasks

import (
	"context"
	"fmt"
)

// newCachePruneTask drops cached windows that were not written within the
// configured max age. Query history rows are kept.
func newCachePruneTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "cache_prune")

	return func(ctx context.Context) error {
		cutoff := deps.Clock.Now().Add(-deps.Config.Search.CacheMaxAge)
		n, err := deps.Store.PruneCacheEntries(ctx, cutoff)
		if err != nil {
			log.ErrorContext(ctx, "Cache prune failed", "error", err)
			return fmt.Errorf("cache prune failed: %w", err)
		}
		log.InfoContext(ctx, "Pruned search cache", "removed", n, "cutoff", cutoff)
		return nil
	}
}
