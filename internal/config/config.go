// Package config loads the application configuration from a YAML file and
// CHATINDEX_* environment variables, fills defaults and validates the result.
package config

import (
	"errors"
	"time"

	"github.com/go-telegram/bot/models"
)

// ErrConfiguration wraps every loading and validation failure.
var ErrConfiguration = errors.New("configuration error")

// Config is the complete application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Messages  MessagesConfig  `mapstructure:"messages"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Search    SearchConfig    `mapstructure:"search"`
	Media     MediaConfig     `mapstructure:"media"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Minio     MinioConfig     `mapstructure:"minio"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LoggerConfig selects log level and output format.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig selects the SQL dialect and its data source.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite postgres"`
	// DSN is a file path for sqlite and a connection URL for postgres.
	DSN string `mapstructure:"dsn" validate:"required"`
}

// TelegramConfig configures the bot connection.
type TelegramConfig struct {
	Token          string   `mapstructure:"token"           validate:"required"`
	OwnerID        int64    `mapstructure:"owner_id"        validate:"required,gt=0"`
	AllowedUpdates []string `mapstructure:"allowed_updates"`
	// BotInfo is filled at start-up from getMe.
	BotInfo *models.User `mapstructure:"-"`
}

// MessagesConfig holds operator-facing texts.
type MessagesConfig struct {
	Welcome            string `mapstructure:"welcome"             validate:"required"`
	Help               string `mapstructure:"help"                validate:"required"`
	ErrorUnauthorized  string `mapstructure:"error_unauthorized"  validate:"required"`
	ErrorGeneral       string `mapstructure:"error_general"       validate:"required"`
	SearchUsage        string `mapstructure:"search_usage"        validate:"required"`
	SearchNoResults    string `mapstructure:"search_no_results"   validate:"required"`
	SearchExpired      string `mapstructure:"search_expired"      validate:"required"`
	SettingsSaved      string `mapstructure:"settings_saved"      validate:"required"`
	SettingsUsage      string `mapstructure:"settings_usage"      validate:"required"`
	EmergencyRecovered string `mapstructure:"emergency_recovered" validate:"required"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	EmergencyDir        string        `mapstructure:"emergency_dir"         validate:"required"`
	NotifyInterval      time.Duration `mapstructure:"notify_interval"       validate:"min=1s"`
	ProfileRefreshAfter time.Duration `mapstructure:"profile_refresh_after" validate:"min=1m"`
	EventTimeout        time.Duration `mapstructure:"event_timeout"         validate:"min=1s,max=1h"`
	FilterChats         []int64       `mapstructure:"filter_chats"`
	FilterUsers         []int64       `mapstructure:"filter_users"`
}

// SearchConfig tunes the search surface.
type SearchConfig struct {
	PageLimit int `mapstructure:"page_limit" validate:"min=1,max=5"`
	// CacheMaxAge is how long an unqueried cache entry survives cache_prune.
	CacheMaxAge time.Duration `mapstructure:"cache_max_age" validate:"min=1m"`
}

// MediaConfig selects how media downloads are queued and stored.
type MediaConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Queue           string        `mapstructure:"queue"            validate:"oneof=memory redis"`
	Store           string        `mapstructure:"store"            validate:"oneof=local minio"`
	LocalDir        string        `mapstructure:"local_dir"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout" validate:"min=1s"`
	MaxSize         int64         `mapstructure:"max_size"         validate:"gt=0"`
	MaxAttempts     int           `mapstructure:"max_attempts"     validate:"min=1,max=20"`
}

// RedisConfig is used by the redis media queue.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"       validate:"min=0"`
	Stream   string `mapstructure:"stream"`
	Group    string `mapstructure:"group"`
	Consumer string `mapstructure:"consumer"`
}

// MinioConfig is used by the minio media store.
type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// HTTPConfig enables the HTTP search, health and metrics surface.
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// SchedulerConfig lists scheduled tasks by name.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// TaskConfig enables a task on a cron schedule (seconds field optional).
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}
