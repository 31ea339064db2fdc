package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueueConfig configures a stream-backed queue.
type RedisQueueConfig struct {
	Stream      string
	Group       string
	Consumer    string
	MaxAttempts int
	Block       time.Duration
	MaxLen      int64
}

// RedisQueue keeps media jobs in a Redis stream consumed through a consumer
// group, so queued downloads survive restarts.
type RedisQueue struct {
	client      *redis.Client
	stream      string
	group       string
	consumer    string
	maxAttempts int
	block       time.Duration
	maxLen      int64
	logger      *slog.Logger
}

// NewRedisQueue creates a queue on an existing client.
func NewRedisQueue(client *redis.Client, cfg RedisQueueConfig, logger *slog.Logger) (*RedisQueue, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "media"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = uuid.NewString()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 100000
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &RedisQueue{
		client:      client,
		stream:      stream,
		group:       group,
		consumer:    consumer,
		maxAttempts: maxAttempts,
		block:       block,
		maxLen:      maxLen,
		logger:      logger.With("component", "media_queue"),
	}, nil
}

// Enqueue appends a job to the stream.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode media job: %w", err)
	}
	return q.client.XAdd(ctx, q.addArgs(data)).Err()
}

func (q *RedisQueue) addArgs(data []byte) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{"job": string(data)},
	}
}

// Consume reads jobs through the consumer group until ctx is cancelled.
func (q *RedisQueue) Consume(ctx context.Context, handle Handler) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    10,
			Block:    q.block,
		}).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			q.logger.WarnContext(ctx, "Failed to read media stream", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handle)
			}
		}
	}
}

func (q *RedisQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (q *RedisQueue) handleMessage(ctx context.Context, msg redis.XMessage, handle Handler) {
	raw, _ := msg.Values["job"].(string)
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil || job.Ref == "" {
		q.logger.WarnContext(ctx, "Discarding malformed media job", "id", msg.ID)
		q.ackAndDel(ctx, msg.ID)
		return
	}

	err := handle(ctx, job)
	if err == nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job.Attempts++
	if job.Attempts >= q.maxAttempts {
		q.logger.WarnContext(ctx, "Dropping media job", "media_ref", job.Ref, "attempts", job.Attempts, "error", err)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if err := q.requeueAndAck(ctx, msg.ID, job); err != nil {
		q.logger.WarnContext(ctx, "Failed to requeue media job", "media_ref", job.Ref, "error", err)
	}
}

func (q *RedisQueue) ackAndDel(ctx context.Context, id string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, id).Result()
	_, _ = q.client.XDel(ctx, q.stream, id).Result()
}

func (q *RedisQueue) requeueAndAck(ctx context.Context, id string, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, q.addArgs(data))
	pipe.XAck(ctx, q.stream, q.group, id)
	pipe.XDel(ctx, q.stream, id)
	_, err = pipe.Exec(ctx)
	return err
}

// Len returns the stream length, including jobs being processed.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.XLen(ctx, q.stream).Result()
}
