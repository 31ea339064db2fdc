package handlers

import (
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/edgard/chatindex/internal/config"
	"github.com/edgard/chatindex/internal/database"
	"github.com/edgard/chatindex/internal/ingest"
	"github.com/edgard/chatindex/internal/search"
)

// Ingester accepts events for indexing.
type Ingester interface {
	Push(ev ingest.Event) error
	Pending() (messages, users int)
}

// HandlerDeps provides dependencies for Telegram command handlers.
type HandlerDeps struct {
	Logger   *slog.Logger
	Config   *config.Config
	Store    database.Store
	Search   *search.Service
	Pipeline Ingester
	Clock    clockwork.Clock
}
