package handlers

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewStatusHandler returns a handler for the /status command.
func NewStatusHandler(deps HandlerDeps) bot.HandlerFunc {
	return statusHandler{deps}.Handle
}

// statusHandler reports queue depths and index sizes.
type statusHandler struct {
	deps HandlerDeps
}

func (h statusHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "status")
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	stats, err := h.deps.Store.Stats(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Failed to collect stats", "error", err)
		sendText(ctx, b, log, chatID, h.deps.Config.Messages.ErrorGeneral)
		return
	}
	msgs, users := h.deps.Pipeline.Pending()

	sendText(ctx, b, log, chatID, fmt.Sprintf(
		"📊 Status\nqueued messages: %d\nqueued users: %d\nmessages: %d\ndocuments: %d\nusers: %d\nedits: %d\ncached searches: %d",
		msgs, users, stats.Messages, stats.Documents, stats.Users, stats.Edits, stats.CacheEntries,
	))
}
