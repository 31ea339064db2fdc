package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/chatindex/internal/search"
)

var errSettingUsage = errors.New("invalid setting")

// applySetting changes one toggle on s from /set arguments.
func applySetting(s search.Settings, args []string) (search.Settings, error) {
	if len(args) < 2 {
		return s, errSettingUsage
	}
	key := strings.ToLower(args[0])

	if key == "specify" {
		switch strings.ToLower(args[1]) {
		case "off":
			s.SpecifyEnabled = false
			s.SpecifyID = 0
			return s, nil
		case "chat", "user":
			if len(args) != 3 {
				return s, errSettingUsage
			}
			id, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil || id == 0 {
				return s, fmt.Errorf("%w: id %q", errSettingUsage, args[2])
			}
			s.SpecifyEnabled = true
			s.SpecifyIsChat = strings.EqualFold(args[1], "chat")
			s.SpecifyID = id
			return s, nil
		}
		return s, errSettingUsage
	}

	if len(args) != 2 {
		return s, errSettingUsage
	}
	on, err := parseToggle(args[1])
	if err != nil {
		return s, err
	}
	switch key {
	case "force_query":
		s.ForceQuery = on
	case "only_user":
		s.OnlyUser = on
	case "only_group":
		s.OnlyGroup = on
	case "include_forward":
		s.IncludeForward = on
	case "include_bot":
		s.IncludeBot = on
	default:
		return s, fmt.Errorf("%w: unknown key %q", errSettingUsage, key)
	}
	return s, nil
}

func parseToggle(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: value %q", errSettingUsage, v)
}

func renderSettings(s search.Settings) string {
	onOff := func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	}
	specify := "off"
	if s.SpecifyEnabled {
		kind := "user"
		if s.SpecifyIsChat {
			kind = "chat"
		}
		specify = fmt.Sprintf("%s %d", kind, s.SpecifyID)
	}
	return fmt.Sprintf(
		"⚙️ Search settings\nforce_query: %s\nonly_user: %s\nonly_group: %s\ninclude_forward: %s\ninclude_bot: %s\nspecify: %s",
		onOff(s.ForceQuery), onOff(s.OnlyUser), onOff(s.OnlyGroup),
		onOff(s.IncludeForward), onOff(s.IncludeBot), specify,
	)
}

// NewSettingsHandler returns a handler for the /settings command.
func NewSettingsHandler(deps HandlerDeps) bot.HandlerFunc {
	return settingsHandler{deps}.Handle
}

type settingsHandler struct {
	deps HandlerDeps
}

func (h settingsHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "settings")
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	settings, err := h.deps.ownerSettings(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load settings", "error", err)
		sendText(ctx, b, log, chatID, h.deps.Config.Messages.ErrorGeneral)
		return
	}
	sendText(ctx, b, log, chatID, renderSettings(settings))
}

// NewSetHandler returns a handler for the /set command.
func NewSetHandler(deps HandlerDeps) bot.HandlerFunc {
	return setHandler{deps}.Handle
}

type setHandler struct {
	deps HandlerDeps
}

func (h setHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "set")
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID
	msgs := h.deps.Config.Messages

	current, err := h.deps.ownerSettings(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load settings", "error", err)
		sendText(ctx, b, log, chatID, msgs.ErrorGeneral)
		return
	}

	updated, err := applySetting(current, commandArgs(update.Message.Text))
	if err != nil {
		log.InfoContext(ctx, "Rejected settings change", "error", err)
		sendText(ctx, b, log, chatID, msgs.SettingsUsage)
		return
	}

	if err := h.deps.Store.SaveSettings(ctx, updated.Record(h.deps.Config.Telegram.OwnerID)); err != nil {
		log.ErrorContext(ctx, "Failed to save settings", "error", err)
		sendText(ctx, b, log, chatID, msgs.ErrorGeneral)
		return
	}
	log.InfoContext(ctx, "Settings updated", "settings_fingerprint", updated.Fingerprint())
	sendText(ctx, b, log, chatID, msgs.SettingsSaved+"\n\n"+renderSettings(updated))
}
