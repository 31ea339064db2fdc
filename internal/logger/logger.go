// Package logger provides structured logging for chatindex.
// It uses Go's slog package with configurable levels and formats.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// ParseLevel maps a config level name to a slog level, defaulting to info.
func ParseLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a new slog Logger writing to stdout and installs it as
// the default logger. If jsonOutput is true, logs are formatted as JSON.
func NewLogger(levelStr string, jsonOutput bool) *slog.Logger {
	logger := New(os.Stdout, levelStr, jsonOutput)
	slog.SetDefault(logger)
	return logger
}

// New creates a logger writing to w.
func New(w io.Writer, levelStr string, jsonOutput bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(levelStr)}
	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Middleware creates a logging middleware for the Telegram bot. Updates are
// logged at debug level since every chat event passes through here.
func Middleware(log *slog.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			startTime := time.Now()
			logEntry := log.With(updateAttrs(update)...)
			logEntry.DebugContext(ctx, "Processing update")

			next(ctx, b, update)

			logEntry.DebugContext(ctx, "Finished processing update", "duration", time.Since(startTime))
		}
	}
}

func updateAttrs(update *models.Update) []any {
	attrs := []any{"update_id", update.ID}

	message := func(kind string, m *models.Message) []any {
		out := append(attrs, "update_type", kind, "message_id", m.ID, "chat_id", m.Chat.ID)
		if m.From != nil {
			out = append(out, "user_id", m.From.ID)
		}
		text := m.Text
		if text == "" {
			text = m.Caption
		}
		return append(out, "text_preview", truncateString(text, 50))
	}

	switch {
	case update.Message != nil:
		return message("message", update.Message)
	case update.EditedMessage != nil:
		return message("edited_message", update.EditedMessage)
	case update.ChannelPost != nil:
		return message("channel_post", update.ChannelPost)
	case update.EditedChannelPost != nil:
		return message("edited_channel_post", update.EditedChannelPost)
	case update.BusinessMessage != nil:
		return message("business_message", update.BusinessMessage)
	case update.EditedBusinessMessage != nil:
		return message("edited_business_message", update.EditedBusinessMessage)
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		attrs = append(attrs, "update_type", "callback_query", "callback_query_id", cq.ID, "user_id", cq.From.ID, "data", cq.Data)
		switch {
		case cq.Message.Message != nil:
			attrs = append(attrs, "chat_id", cq.Message.Message.Chat.ID, "message_accessible", true)
		case cq.Message.InaccessibleMessage != nil:
			attrs = append(attrs, "chat_id", cq.Message.InaccessibleMessage.Chat.ID, "message_accessible", false)
		}
		return attrs
	case update.DeletedBusinessMessages != nil:
		return append(attrs, "update_type", "deleted_business_messages", "chat_id", update.DeletedBusinessMessages.Chat.ID)
	default:
		return append(attrs, "update_type", "other")
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
