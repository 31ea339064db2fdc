package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default values for configuration
const (
	DefaultLogLevel = "info"

	DefaultDBDriver = "sqlite"
	DefaultDBDSN    = "chatindex.db"

	DefaultEmergencyDir        = "./emergency"
	DefaultNotifyInterval      = 60 * time.Second
	DefaultProfileRefreshAfter = time.Hour
	DefaultEventTimeout        = 2 * time.Minute

	DefaultPageLimit   = 5
	DefaultCacheMaxAge = 24 * time.Hour

	DefaultMediaQueue           = "memory"
	DefaultMediaStore           = "local"
	DefaultMediaLocalDir        = "./media"
	DefaultMediaDownloadTimeout = 30 * time.Second
	DefaultMediaMaxSize         = 20 * 1024 * 1024
	DefaultMediaMaxAttempts     = 3

	DefaultRedisStream = "chatindex:media"
	DefaultRedisGroup  = "media"

	DefaultHTTPAddr = ":8080"
)

// DefaultMessages are the operator-facing texts.
var DefaultMessages = MessagesConfig{
	Welcome:            "👋 Chat index is running. Use /sm <words> to search.",
	Help:               "/sm <words> [type:photo|video|animation|document|voice|text] search the index\n/settings show search filters\n/set <key> <value> change a filter\n/status show pipeline state",
	ErrorUnauthorized:  "🚫 Access denied.",
	ErrorGeneral:       "❌ An error occurred. Please try again later.",
	SearchUsage:        "ℹ️ Usage: /sm <words>",
	SearchNoResults:    "Nothing found.",
	SearchExpired:      "This search is no longer available, run it again.",
	SettingsSaved:      "✅ Settings saved.",
	SettingsUsage:      "ℹ️ Usage: /set <only_user|only_group|include_forward|include_bot|force_query> <on|off>, /set specify <chat|user> <id>, /set specify off",
	EmergencyRecovered: "✅ Consumer recovered.",
}

// DefaultTasks are scheduled unless overridden.
var DefaultTasks = map[string]TaskConfig{
	"sql_maintenance": {Enabled: true, Schedule: "0 0 4 * * *"},
	"cache_prune":     {Enabled: true, Schedule: "0 30 * * * *"},
	"queue_stats":     {Enabled: true, Schedule: "0 */5 * * * *"},
}

// setDefaults registers a default for every optional key so environment
// overrides apply to all of them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", DefaultLogLevel)
	v.SetDefault("logger.json", false)

	v.SetDefault("database.driver", DefaultDBDriver)
	v.SetDefault("database.dsn", DefaultDBDSN)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.owner_id", 0)
	v.SetDefault("telegram.allowed_updates", []string{})

	v.SetDefault("messages.welcome", DefaultMessages.Welcome)
	v.SetDefault("messages.help", DefaultMessages.Help)
	v.SetDefault("messages.error_unauthorized", DefaultMessages.ErrorUnauthorized)
	v.SetDefault("messages.error_general", DefaultMessages.ErrorGeneral)
	v.SetDefault("messages.search_usage", DefaultMessages.SearchUsage)
	v.SetDefault("messages.search_no_results", DefaultMessages.SearchNoResults)
	v.SetDefault("messages.search_expired", DefaultMessages.SearchExpired)
	v.SetDefault("messages.settings_saved", DefaultMessages.SettingsSaved)
	v.SetDefault("messages.settings_usage", DefaultMessages.SettingsUsage)
	v.SetDefault("messages.emergency_recovered", DefaultMessages.EmergencyRecovered)

	v.SetDefault("ingest.emergency_dir", DefaultEmergencyDir)
	v.SetDefault("ingest.notify_interval", DefaultNotifyInterval)
	v.SetDefault("ingest.profile_refresh_after", DefaultProfileRefreshAfter)
	v.SetDefault("ingest.event_timeout", DefaultEventTimeout)
	v.SetDefault("ingest.filter_chats", []int64{})
	v.SetDefault("ingest.filter_users", []int64{})

	v.SetDefault("search.page_limit", DefaultPageLimit)
	v.SetDefault("search.cache_max_age", DefaultCacheMaxAge)

	v.SetDefault("media.enabled", false)
	v.SetDefault("media.queue", DefaultMediaQueue)
	v.SetDefault("media.store", DefaultMediaStore)
	v.SetDefault("media.local_dir", DefaultMediaLocalDir)
	v.SetDefault("media.download_timeout", DefaultMediaDownloadTimeout)
	v.SetDefault("media.max_size", DefaultMediaMaxSize)
	v.SetDefault("media.max_attempts", DefaultMediaMaxAttempts)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", DefaultRedisStream)
	v.SetDefault("redis.group", DefaultRedisGroup)
	v.SetDefault("redis.consumer", "")

	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.access_key", "")
	v.SetDefault("minio.secret_key", "")
	v.SetDefault("minio.bucket", "")
	v.SetDefault("minio.use_ssl", false)

	v.SetDefault("http.enabled", false)
	v.SetDefault("http.addr", DefaultHTTPAddr)

	for name, task := range DefaultTasks {
		v.SetDefault("scheduler.tasks."+name+".enabled", task.Enabled)
		v.SetDefault("scheduler.tasks."+name+".schedule", task.Schedule)
	}
}
