package handlers

import (
	tgbot "github.com/go-telegram/bot"

	"github.com/edgard/chatindex/internal/telegram"
)

// RegisterAllCommands initializes and returns a map of all available bot commands.
// Everything except /start is restricted to the owner.
func RegisterAllCommands(deps HandlerDeps) map[string]telegram.Route {
	handlers := make(map[string]telegram.Route)

	handlers["/start"] = telegram.Route{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "start",
		Handler:     NewStartHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
	}

	ownerMiddleware := []tgbot.Middleware{OwnerOnly(deps)}

	handlers["/help"] = telegram.Route{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "help",
		Handler:     NewHelpHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
		Middleware:  ownerMiddleware,
	}
	handlers["/sm"] = telegram.Route{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "sm",
		Handler:     NewSearchHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
		Middleware:  ownerMiddleware,
	}
	handlers["sm:"] = telegram.Route{
		HandlerType: tgbot.HandlerTypeCallbackQueryData,
		Pattern:     callbackPrefix,
		Handler:     NewSearchCallbackHandler(deps),
		MatchType:   tgbot.MatchTypePrefix,
		Middleware:  ownerMiddleware,
	}
	handlers["/settings"] = telegram.Route{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "settings",
		Handler:     NewSettingsHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
		Middleware:  ownerMiddleware,
	}
	handlers["/set"] = telegram.Route{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "set",
		Handler:     NewSetHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
		Middleware:  ownerMiddleware,
	}
	handlers["/status"] = telegram.Route{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "status",
		Handler:     NewStatusHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
		Middleware:  ownerMiddleware,
	}

	return handlers
}
