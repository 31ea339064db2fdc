// Package handlers contains Telegram bot command and message handlers,
// along with their registration logic and middleware.
package handlers

import (
	"context"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// OwnerOnly creates a middleware that lets only the configured owner through.
// Messages from anyone else get the unauthorized reply; callback queries get
// an alert.
func OwnerOnly(deps HandlerDeps) tgbot.Middleware {
	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
			log := deps.Logger.With("middleware", "OwnerOnly")

			switch {
			case update.Message != nil && update.Message.From != nil:
				if deps.Config.IsOwner(update.Message.From.ID) {
					next(ctx, bot, update)
					return
				}
				chatID := update.Message.Chat.ID
				log.WarnContext(ctx, "Unauthorized access attempt", "user_id", update.Message.From.ID, "chat_id", chatID)
				_, err := bot.SendMessage(ctx, &tgbot.SendMessageParams{
					ChatID: chatID,
					Text:   deps.Config.Messages.ErrorUnauthorized,
				})
				if err != nil {
					log.ErrorContext(ctx, "Failed to send unauthorized message", "error", err, "chat_id", chatID)
				}

			case update.CallbackQuery != nil:
				if deps.Config.IsOwner(update.CallbackQuery.From.ID) {
					next(ctx, bot, update)
					return
				}
				log.WarnContext(ctx, "Unauthorized callback", "user_id", update.CallbackQuery.From.ID)
				_, err := bot.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{
					CallbackQueryID: update.CallbackQuery.ID,
					Text:            deps.Config.Messages.ErrorUnauthorized,
					ShowAlert:       true,
				})
				if err != nil {
					log.ErrorContext(ctx, "Failed to answer unauthorized callback", "error", err)
				}

			default:
				log.DebugContext(ctx, "Dropping update without a sender", "update_id", update.ID)
			}
		}
	}
}
