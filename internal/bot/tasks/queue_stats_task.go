package tasks

import (
	"context"

	"github.com/edgard/chatindex/internal/metrics"
)

// newQueueStatsTask logs queue depths and refreshes the queue gauges.
func newQueueStatsTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "queue_stats")

	return func(ctx context.Context) error {
		attrs := []any{}
		if deps.Pipeline != nil {
			msgs, users := deps.Pipeline.Pending()
			metrics.QueueDepth.WithLabelValues("messages").Set(float64(msgs))
			metrics.QueueDepth.WithLabelValues("users").Set(float64(users))
			attrs = append(attrs, "messages", msgs, "users", users)
		}
		if deps.CacheWriter != nil {
			n := deps.CacheWriter.Len()
			metrics.QueueDepth.WithLabelValues("cache_writer").Set(float64(n))
			attrs = append(attrs, "cache_writer", n)
		}
		if deps.MediaQueue != nil {
			n, err := deps.MediaQueue.Len(ctx)
			if err != nil {
				log.WarnContext(ctx, "Failed to read media queue length", "error", err)
			} else {
				metrics.QueueDepth.WithLabelValues("media").Set(float64(n))
				attrs = append(attrs, "media", n)
			}
		}
		log.InfoContext(ctx, "Queue depths", attrs...)
		return nil
	}
}
