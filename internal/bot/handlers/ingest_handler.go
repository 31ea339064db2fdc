package handlers

import (
	"context"
	"errors"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/chatindex/internal/ingest"
	"github.com/edgard/chatindex/internal/telegram"
)

// NewIngestHandler returns the default handler. Every update not claimed by
// a command is converted to events and pushed to the pipeline.
func NewIngestHandler(deps HandlerDeps) bot.HandlerFunc {
	return ingestHandler{deps}.Handle
}

type ingestHandler struct {
	deps HandlerDeps
}

func (h ingestHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "ingest")

	events := telegram.EventsFromUpdate(update)
	if len(events) == 0 {
		log.DebugContext(ctx, "Update carries nothing to index", "update_id", update.ID)
		return
	}
	for _, ev := range events {
		if err := h.deps.Pipeline.Push(ev); err != nil {
			if errors.Is(err, ingest.ErrStopped) {
				log.WarnContext(ctx, "Pipeline stopped, dropping update", "update_id", update.ID)
				return
			}
			log.ErrorContext(ctx, "Failed to queue event", "error", err, "kind", ev.Kind(), "update_id", update.ID)
		}
	}
}
