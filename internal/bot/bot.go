// Package bot implements lifecycle management and component orchestration
// for chatindex: the Telegram listener, the ingestion pipeline, the search
// cache writer, the media worker, the scheduler and the HTTP surface.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultDrainTimeout bounds how long queued events may take to drain after
// a shutdown signal before the remainder is spilled to the recovery log.
const DefaultDrainTimeout = 30 * time.Second

// Listener receives platform updates until ctx is cancelled.
type Listener interface {
	Start(ctx context.Context)
}

// Runner is a component that works until ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// Drainer is a queue consumer that stops accepting work on Close and returns
// from Run once drained.
type Drainer interface {
	Runner
	Close()
}

// Components are the parts the orchestrator runs. Media and HTTP are nil when
// disabled.
type Components struct {
	Telegram  Listener
	Pipeline  Drainer
	Writer    Drainer
	Media     Runner
	HTTP      Runner
	Scheduler *Scheduler
}

// Bot represents the main application and manages its components' lifecycle.
type Bot struct {
	logger       *slog.Logger
	c            Components
	drainTimeout time.Duration
}

// NewBot creates the orchestrator. A zero drainTimeout uses DefaultDrainTimeout.
func NewBot(logger *slog.Logger, c Components, drainTimeout time.Duration) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}
	return &Bot{
		logger:       logger.With("component", "bot_orchestrator"),
		c:            c,
		drainTimeout: drainTimeout,
	}
}

// Run starts all components and blocks until ctx is cancelled or one of them
// fails. A fatal pipeline error is returned so the process exits non-zero.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot orchestrator...")

	g, gCtx := errgroup.WithContext(ctx)

	if b.c.Telegram != nil {
		g.Go(func() error {
			b.logger.Info("Starting Telegram bot listener...")
			b.c.Telegram.Start(gCtx)
			b.logger.Info("Telegram bot listener stopped.")

			if gCtx.Err() == nil {
				b.logger.Warn("Telegram bot listener stopped unexpectedly without context cancellation.")
				return fmt.Errorf("telegram listener stopped unexpectedly")
			}
			return nil
		})
	}

	b.goDrained(g, gCtx, "ingest_pipeline", b.c.Pipeline)
	b.goDrained(g, gCtx, "cache_writer", b.c.Writer)

	for name, r := range map[string]Runner{"media_worker": b.c.Media, "http_server": b.c.HTTP} {
		if r == nil {
			continue
		}
		g.Go(func() error {
			b.logger.Info("Starting component", "name", name)
			if err := r.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
				b.logger.Error("Component failed", "name", name, "error", err)
				return fmt.Errorf("%s: %w", name, err)
			}
			b.logger.Info("Component stopped", "name", name)
			return nil
		})
	}

	if b.c.Scheduler != nil {
		g.Go(func() error {
			b.logger.Info("Starting scheduler...")
			if err := b.c.Scheduler.Start(); err != nil {
				b.logger.Error("Failed to start scheduler", "error", err)
				return fmt.Errorf("failed to start scheduler: %w", err)
			}

			<-gCtx.Done()
			b.logger.Info("Shutdown signal received, stopping scheduler...")
			if err := b.c.Scheduler.Stop(); err != nil {
				b.logger.Error("Error stopping scheduler", "error", err)
			}
			return nil
		})
	}

	b.logger.Info("Bot orchestrator running. Waiting for shutdown signal or error...")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot orchestrator stopped gracefully.")
	return nil
}

// goDrained runs d on its own context. On shutdown d is closed and given
// drainTimeout to finish its queue; only then is its context cancelled.
func (b *Bot) goDrained(g *errgroup.Group, gCtx context.Context, name string, d Drainer) {
	if d == nil {
		return
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(gCtx))
	done := make(chan struct{})

	g.Go(func() error {
		<-gCtx.Done()
		d.Close()
		select {
		case <-done:
		case <-time.After(b.drainTimeout):
			b.logger.Warn("Drain timed out", "name", name, "timeout", b.drainTimeout)
		}
		cancel()
		return nil
	})

	g.Go(func() error {
		defer close(done)
		defer cancel()
		b.logger.Info("Starting component", "name", name)
		err := d.Run(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Error("Component failed", "name", name, "error", err)
			return fmt.Errorf("%s: %w", name, err)
		}
		b.logger.Info("Component stopped", "name", name)
		return nil
	})
}
