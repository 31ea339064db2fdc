package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/spf13/cobra"

	"github.com/edgard/chatindex/internal/bot"
	"github.com/edgard/chatindex/internal/bot/handlers"
	"github.com/edgard/chatindex/internal/bot/tasks"
	"github.com/edgard/chatindex/internal/httpapi"
	"github.com/edgard/chatindex/internal/logger"
	"github.com/edgard/chatindex/internal/telegram"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the indexing bot (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runService(cmd.Context(), opts.configPath)
		},
	}
}

func runService(ctx context.Context, configPath string) error {
	a, err := loadApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.log

	if err := a.search.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset search cache: %w", err)
	}

	// updates only flow after Start, by which time the handler is set
	var ingestHandler tgbot.HandlerFunc
	botOpts := []tgbot.Option{
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithDefaultHandler(func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
			ingestHandler(ctx, b, update)
		}),
	}
	if len(a.cfg.Telegram.AllowedUpdates) > 0 {
		botOpts = append(botOpts, tgbot.WithAllowedUpdates(a.cfg.Telegram.AllowedUpdates))
	}
	if err := a.connectTelegram(ctx, botOpts...); err != nil {
		return err
	}
	if err := a.setupMedia(ctx); err != nil {
		return err
	}
	if err := a.buildPipeline(); err != nil {
		return err
	}

	hDeps := handlers.HandlerDeps{
		Logger:   log,
		Config:   a.cfg,
		Store:    a.store,
		Search:   a.search,
		Pipeline: a.pipeline,
		Clock:    a.clock,
	}
	ingestHandler = handlers.NewIngestHandler(hDeps)
	if err := telegram.RegisterHandlers(a.tg, log, handlers.RegisterAllCommands(hDeps)); err != nil {
		return fmt.Errorf("failed to register Telegram handlers: %w", err)
	}

	tDeps := tasks.TaskDeps{
		Logger:      log,
		Store:       a.store,
		Config:      a.cfg,
		Clock:       a.clock,
		Pipeline:    a.pipeline,
		CacheWriter: a.writer,
		MediaQueue:  a.mediaQueue,
	}
	sched, err := bot.NewScheduler(log, a.clock, &a.cfg.Scheduler, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		return err
	}

	comps := bot.Components{
		Telegram:  a.tg,
		Pipeline:  a.pipeline,
		Writer:    a.writer,
		Scheduler: sched,
	}
	if a.mediaWorker != nil {
		comps.Media = a.mediaWorker
	}
	if a.cfg.HTTP.Enabled {
		if a.cfg.Logger.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		router := httpapi.NewRouter(httpapi.Deps{
			Logger:    log,
			Store:     a.store,
			Search:    a.search,
			Pipeline:  a.pipeline,
			OwnerID:   a.cfg.Telegram.OwnerID,
			PageLimit: a.cfg.Search.PageLimit,
		})
		comps.HTTP = httpapi.NewServer(a.cfg.HTTP.Addr, router, log)
	}

	log.Info("Starting chatindex...")
	runErr := bot.NewBot(log, comps, 0).Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	log.Info("chatindex stopped gracefully.")
	return nil
}
