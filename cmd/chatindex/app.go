package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	tgbot "github.com/go-telegram/bot"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/edgard/chatindex/internal/config"
	"github.com/edgard/chatindex/internal/database"
	"github.com/edgard/chatindex/internal/ingest"
	"github.com/edgard/chatindex/internal/logger"
	"github.com/edgard/chatindex/internal/media"
	"github.com/edgard/chatindex/internal/search"
	"github.com/edgard/chatindex/internal/telegram"
)

// app holds the components shared by the commands. Fields stay nil when the
// command does not need them.
type app struct {
	cfg   *config.Config
	log   *slog.Logger
	clock clockwork.Clock

	db     *sqlx.DB
	store  database.Store
	writer *search.Writer
	search *search.Service

	tg       *tgbot.Bot
	platform *telegram.Platform
	pipeline *ingest.Pipeline

	mediaQueue  media.Queue
	mediaWorker *media.Worker

	closers []func()
}

// loadApp reads the configuration, sets up logging and opens the database.
func loadApp(configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	store := database.NewStore(db, log)
	clock := clockwork.NewRealClock()
	writer := search.NewWriter(store, clock, log)

	a := &app{
		cfg:    cfg,
		log:    log,
		clock:  clock,
		db:     db,
		store:  store,
		writer: writer,
		search: search.NewService(store, writer, clock, log),
	}
	a.closers = append(a.closers, func() { database.CloseDB(db) })
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// connectTelegram creates the bot client and the platform adapter.
func (a *app) connectTelegram(ctx context.Context, opts ...tgbot.Option) error {
	tg, err := telegram.NewTelegramBot(a.cfg.Telegram.Token, a.log, opts...)
	if err != nil {
		return err
	}
	a.cfg.Telegram.BotInfo, err = tg.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to get bot info: %w", err)
	}
	a.log.Info("Retrieved bot info", "bot_id", a.cfg.Telegram.BotInfo.ID, "bot_username", a.cfg.Telegram.BotInfo.Username)

	a.tg = tg
	a.platform = telegram.NewPlatform(tg, telegram.PlatformConfig{
		Token:           a.cfg.Telegram.Token,
		DownloadTimeout: a.cfg.Media.DownloadTimeout,
		MaxDownloadSize: a.cfg.Media.MaxSize,
	}, a.clock, a.log)
	return nil
}

// setupMedia builds the configured media queue, store and worker. It is a
// no-op when media downloads are disabled.
func (a *app) setupMedia(ctx context.Context) error {
	mc := a.cfg.Media
	if !mc.Enabled {
		return nil
	}

	var objects media.ObjectStore
	switch mc.Store {
	case "minio":
		m := a.cfg.Minio
		s, err := media.NewMinioStore(m.Endpoint, m.AccessKey, m.SecretKey, m.Bucket, m.UseSSL)
		if err != nil {
			return err
		}
		objects = s
	default:
		s, err := media.NewLocalStore(mc.LocalDir)
		if err != nil {
			return err
		}
		objects = s
	}

	switch mc.Queue {
	case "redis":
		rc := a.cfg.Redis
		client := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })

		consumer := rc.Consumer
		if consumer == "" {
			consumer, _ = os.Hostname()
		}
		q, err := media.NewRedisQueue(client, media.RedisQueueConfig{
			Stream:      rc.Stream,
			Group:       rc.Group,
			Consumer:    consumer,
			MaxAttempts: mc.MaxAttempts,
		}, a.log)
		if err != nil {
			return err
		}
		a.mediaQueue = q
	default:
		q := media.NewMemoryQueue(mc.MaxAttempts, a.log)
		a.closers = append(a.closers, q.Close)
		a.mediaQueue = q
	}

	if a.platform == nil {
		return errors.New("media downloads need the telegram platform")
	}
	a.mediaWorker = media.NewWorker(a.mediaQueue, a.platform, objects, a.store, a.log)
	a.log.Info("Media downloads enabled", "queue", mc.Queue, "store", mc.Store)
	return nil
}

// buildPipeline creates the ingestion pipeline on top of the platform.
func (a *app) buildPipeline() error {
	recovery, err := ingest.NewRecoveryLog(a.cfg.Ingest.EmergencyDir, a.clock)
	if err != nil {
		return err
	}

	opts := ingest.Options{
		Store:         a.store,
		Recovery:      recovery,
		Clock:         a.clock,
		Logger:        a.log,
		FilterChats:   a.cfg.Ingest.FilterChats,
		FilterUsers:   a.cfg.Ingest.FilterUsers,
		RefreshAfter:  a.cfg.Ingest.ProfileRefreshAfter,
		EventTimeout:  a.cfg.Ingest.EventTimeout,
		RecoveredText: a.cfg.Messages.EmergencyRecovered,
	}
	if a.platform != nil {
		opts.Platform = a.platform
		opts.Notifier = ingest.NewNotifier(a.platform, a.cfg.Telegram.OwnerID, a.cfg.Ingest.NotifyInterval, a.clock, a.log)
	}
	if a.mediaQueue != nil {
		opts.Media = a.mediaQueue
	}
	a.pipeline = ingest.New(opts)
	return nil
}
