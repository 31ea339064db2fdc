package handlers

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/chatindex/internal/database"
	"github.com/edgard/chatindex/internal/search"
)

const (
	callbackPrefix  = "sm:"
	refreshSuffix   = ":r"
	bodyPreviewRune = 200
	timeLayout      = "2006-01-02 15:04"
)

// searchArgs is a parsed /sm command.
type searchArgs struct {
	Terms      []string
	TypeFilter string
}

// parseSearchArgs splits /sm arguments into terms and an optional type:x
// filter. The last type: token wins.
func parseSearchArgs(args []string) searchArgs {
	var out searchArgs
	for _, a := range args {
		if v, ok := strings.CutPrefix(strings.ToLower(a), "type:"); ok {
			out.TypeFilter = v
			continue
		}
		out.Terms = append(out.Terms, a)
	}
	return out
}

// pageCallback identifies a page of a stored search. It fits in Telegram's
// 64 byte callback data limit, which a fingerprint would not.
type pageCallback struct {
	HistoryID int64
	Offset    int
	Refresh   bool
}

func (c pageCallback) String() string {
	s := fmt.Sprintf("%s%d:%d", callbackPrefix, c.HistoryID, c.Offset)
	if c.Refresh {
		s += refreshSuffix
	}
	return s
}

func parsePageCallback(data string) (pageCallback, error) {
	rest, ok := strings.CutPrefix(data, callbackPrefix)
	if !ok {
		return pageCallback{}, fmt.Errorf("not a search callback: %q", data)
	}
	var c pageCallback
	if trimmed, ok := strings.CutSuffix(rest, refreshSuffix); ok {
		rest = trimmed
		c.Refresh = true
	}
	id, off, ok := strings.Cut(rest, ":")
	if !ok {
		return pageCallback{}, fmt.Errorf("malformed search callback: %q", data)
	}
	var err error
	if c.HistoryID, err = strconv.ParseInt(id, 10, 64); err != nil {
		return pageCallback{}, fmt.Errorf("malformed history id: %w", err)
	}
	if c.Offset, err = strconv.Atoi(off); err != nil || c.Offset < 0 {
		return pageCallback{}, fmt.Errorf("malformed offset %q", off)
	}
	return c, nil
}

// renderPage formats a page as Telegram HTML.
func renderPage(p *search.Page) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔍 <b>%s</b>", html.EscapeString(strings.Join(p.Terms, " ")))
	if p.TypeFilter != "" {
		fmt.Fprintf(&sb, " [%s]", html.EscapeString(p.TypeFilter))
	}
	if len(p.Rows) == 0 {
		fmt.Fprintf(&sb, "\n%d results", p.Total)
		return sb.String()
	}
	fmt.Fprintf(&sb, "\n%d–%d of %d\n", p.Offset+1, p.Offset+len(p.Rows), p.Total)
	for i, r := range p.Rows {
		sb.WriteString("\n")
		sb.WriteString(renderRow(p.Offset+i+1, r))
	}
	return sb.String()
}

func renderRow(n int, r database.IndexRow) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d. <code>%d/%d</code> %s", n, r.ChatID, r.MessageID, r.EventTime.UTC().Format(timeLayout))
	if r.DocType != "" && r.DocType != "text" {
		fmt.Fprintf(&sb, " <i>%s</i>", html.EscapeString(r.DocType))
	}
	if r.ForwardFrom.Valid {
		fmt.Fprintf(&sb, " ↪ <code>%d</code>", r.ForwardFrom.Int64)
	}
	fmt.Fprintf(&sb, "\nfrom <code>%d</code>: %s", r.FromUser, html.EscapeString(clip(r.Body, bodyPreviewRune)))
	return sb.String()
}

// pageKeyboard builds the Prev / Refresh / Next row for a page.
func pageKeyboard(p *search.Page) *models.InlineKeyboardMarkup {
	var row []models.InlineKeyboardButton
	if p.Offset > 0 {
		row = append(row, models.InlineKeyboardButton{
			Text:         "◀ Prev",
			CallbackData: pageCallback{HistoryID: p.HistoryID, Offset: max(0, p.Offset-p.Limit)}.String(),
		})
	}
	row = append(row, models.InlineKeyboardButton{
		Text:         "🔄",
		CallbackData: pageCallback{HistoryID: p.HistoryID, Offset: p.Offset, Refresh: true}.String(),
	})
	if p.HasNext() {
		row = append(row, models.InlineKeyboardButton{
			Text:         "Next ▶",
			CallbackData: pageCallback{HistoryID: p.HistoryID, Offset: p.Offset + p.Limit}.String(),
		})
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{row}}
}

func (d HandlerDeps) ownerSettings(ctx context.Context) (search.Settings, error) {
	rec, err := d.Store.GetSettings(ctx, d.Config.Telegram.OwnerID)
	if err != nil {
		return search.Settings{}, err
	}
	return search.SettingsFromRecord(rec), nil
}

// NewSearchHandler returns a handler for the /sm command.
func NewSearchHandler(deps HandlerDeps) bot.HandlerFunc {
	return searchHandler{deps}.Handle
}

// searchHandler runs a new search and replies with its first page.
type searchHandler struct {
	deps HandlerDeps
}

func (h searchHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "search")

	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID
	msgs := h.deps.Config.Messages

	args := parseSearchArgs(commandArgs(update.Message.Text))
	if len(search.NormalizeTerms(args.Terms)) == 0 || !search.ValidTypeFilter(args.TypeFilter) {
		sendText(ctx, b, log, chatID, msgs.SearchUsage)
		return
	}

	settings, err := h.deps.ownerSettings(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load settings", "error", err)
		sendText(ctx, b, log, chatID, msgs.ErrorGeneral)
		return
	}

	page, err := h.deps.Search.Query(ctx, search.Request{
		Terms:      args.Terms,
		TypeFilter: args.TypeFilter,
		Limit:      h.deps.Config.Search.PageLimit,
		Settings:   settings,
	})
	if err != nil {
		log.ErrorContext(ctx, "Search failed", "error", err, "terms", args.Terms)
		sendText(ctx, b, log, chatID, msgs.ErrorGeneral)
		return
	}
	log.InfoContext(ctx, "Search served", "history_id", page.HistoryID, "total", page.Total, "status", page.Status)

	if page.Total == 0 {
		sendText(ctx, b, log, chatID, msgs.SearchNoResults)
		return
	}

	_, err = b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        renderPage(page),
		ParseMode:   models.ParseModeHTML,
		ReplyMarkup: pageKeyboard(page),
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send search results", "error", err, "chat_id", chatID)
	}
}

// NewSearchCallbackHandler returns a handler for the page buttons under a
// search result.
func NewSearchCallbackHandler(deps HandlerDeps) bot.HandlerFunc {
	return searchCallbackHandler{deps}.Handle
}

type searchCallbackHandler struct {
	deps HandlerDeps
}

func (h searchCallbackHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "search_callback")

	cq := update.CallbackQuery
	if cq == nil {
		return
	}
	answer := func(text string) {
		_, err := b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: cq.ID, Text: text})
		if err != nil {
			log.ErrorContext(ctx, "Failed to answer callback", "error", err)
		}
	}

	req, err := parsePageCallback(cq.Data)
	if err != nil {
		log.WarnContext(ctx, "Ignoring malformed callback", "data", cq.Data, "error", err)
		answer("")
		return
	}
	if cq.Message.Message == nil {
		answer(h.deps.Config.Messages.SearchExpired)
		return
	}
	msg := cq.Message.Message

	page, err := h.page(ctx, req)
	switch {
	case errors.Is(err, database.ErrNotFound):
		answer(h.deps.Config.Messages.SearchExpired)
		return
	case err != nil:
		log.ErrorContext(ctx, "Search page failed", "error", err, "history_id", req.HistoryID, "offset", req.Offset)
		answer(h.deps.Config.Messages.ErrorGeneral)
		return
	}

	_, err = b.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:      msg.Chat.ID,
		MessageID:   msg.ID,
		Text:        renderPage(page),
		ParseMode:   models.ParseModeHTML,
		ReplyMarkup: pageKeyboard(page),
	})
	if err != nil {
		// an unchanged refresh is rejected by the API and is harmless
		log.DebugContext(ctx, "Failed to edit search message", "error", err)
	}
	answer("")
}

func (h searchCallbackHandler) page(ctx context.Context, req pageCallback) (*search.Page, error) {
	history, err := h.deps.Store.GetQueryHistoryByID(ctx, req.HistoryID)
	if err != nil {
		return nil, err
	}
	settings, err := h.deps.ownerSettings(ctx)
	if err != nil {
		return nil, err
	}
	return h.deps.Search.Query(ctx, search.Request{
		Terms:        strings.Fields(history.Terms),
		TypeFilter:   history.TypeFilter,
		Offset:       req.Offset,
		Limit:        h.deps.Config.Search.PageLimit,
		Settings:     settings,
		ForceRefresh: req.Refresh,
	})
}
