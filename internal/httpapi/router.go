// Package httpapi exposes the index over HTTP: health, Prometheus metrics,
// search and stats, served by gin.
package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgard/chatindex/internal/database"
	"github.com/edgard/chatindex/internal/search"
)

// PendingCounter reports the ingestion queue depths.
type PendingCounter interface {
	Pending() (messages, users int)
}

// Deps are the services behind the routes.
type Deps struct {
	Logger    *slog.Logger
	Store     database.Store
	Search    *search.Service
	Pipeline  PendingCounter
	OwnerID   int64
	PageLimit int
}

// errorResponse is the envelope for rejected requests.
type errorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func fail(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{
		RequestID: c.GetString(requestIDKey),
		Code:      code,
		Message:   msg,
	})
}

// NewRouter builds the gin engine.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	log := deps.Logger.With("component", "http")

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(requestID(), requestLogger(log), gin.Recovery(), metrics())

	r.NoRoute(func(c *gin.Context) { fail(c, http.StatusNotFound, "not_found", "route not found") })
	r.NoMethod(func(c *gin.Context) { fail(c, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed") })

	h := &apiHandlers{deps: deps, logger: log}
	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		api.GET("/search", h.search)
		api.GET("/stats", h.stats)
	}
	return r
}

type apiHandlers struct {
	deps   Deps
	logger *slog.Logger
}

func (h *apiHandlers) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.deps.Store.Ping(ctx); err != nil {
		h.logger.WarnContext(ctx, "Health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// resultRow is one search hit.
type resultRow struct {
	ChatID      int64     `json:"chat_id"`
	MessageID   int64     `json:"message_id"`
	FromUser    int64     `json:"from_user"`
	ForwardFrom *int64    `json:"forward_from,omitempty"`
	Body        string    `json:"body"`
	EventTime   time.Time `json:"event_time"`
	DocType     string    `json:"doc_type"`
	MediaRef    string    `json:"media_ref,omitempty"`
}

// searchResponse is always returned with status 200. A failed search yields
// no rows and an error code.
type searchResponse struct {
	HistoryID int64       `json:"history_id,omitempty"`
	Offset    int         `json:"offset"`
	Limit     int         `json:"limit"`
	Total     int64       `json:"total"`
	Cache     string      `json:"cache,omitempty"`
	HasNext   bool        `json:"has_next"`
	Rows      []resultRow `json:"rows"`
	Error     string      `json:"error,omitempty"`
}

func (h *apiHandlers) search(c *gin.Context) {
	ctx := c.Request.Context()
	resp := searchResponse{Rows: []resultRow{}}

	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		resp.Error = "invalid_offset"
		c.JSON(http.StatusOK, resp)
		return
	}
	limit := h.deps.PageLimit
	if v := c.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			resp.Error = "invalid_limit"
			c.JSON(http.StatusOK, resp)
			return
		}
	}

	rec, err := h.deps.Store.GetSettings(ctx, h.deps.OwnerID)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to load settings", "error", err)
		resp.Error = "internal"
		c.JSON(http.StatusOK, resp)
		return
	}
	settings := search.SettingsFromRecord(rec)

	var page *search.Page
	if hv := c.Query("history"); hv != "" {
		id, perr := strconv.ParseInt(hv, 10, 64)
		if perr != nil {
			resp.Error = "invalid_history"
			c.JSON(http.StatusOK, resp)
			return
		}
		page, err = h.deps.Search.QueryHistory(ctx, id, offset, limit, settings)
	} else {
		page, err = h.deps.Search.Query(ctx, search.Request{
			Terms:        strings.Fields(c.Query("q")),
			TypeFilter:   strings.ToLower(c.Query("type")),
			Offset:       offset,
			Limit:        limit,
			Settings:     settings,
			ForceRefresh: c.Query("refresh") == "1",
		})
	}
	if err != nil {
		resp.Error = searchErrorCode(err)
		if resp.Error == "internal" {
			h.logger.ErrorContext(ctx, "Search failed", "error", err)
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	resp.HistoryID = page.HistoryID
	resp.Offset = page.Offset
	resp.Limit = page.Limit
	resp.Total = page.Total
	resp.Cache = page.Status
	resp.HasNext = page.HasNext()
	for _, r := range page.Rows {
		row := resultRow{
			ChatID:    r.ChatID,
			MessageID: r.MessageID,
			FromUser:  r.FromUser,
			Body:      r.Body,
			EventTime: r.EventTime.UTC(),
			DocType:   r.DocType,
			MediaRef:  r.MediaRef.String,
		}
		if r.ForwardFrom.Valid {
			v := r.ForwardFrom.Int64
			row.ForwardFrom = &v
		}
		resp.Rows = append(resp.Rows, row)
	}
	c.JSON(http.StatusOK, resp)
}

func searchErrorCode(err error) string {
	switch {
	case errors.Is(err, search.ErrEmptyQuery):
		return "empty_query"
	case errors.Is(err, search.ErrInvalidOffset):
		return "invalid_offset"
	case errors.Is(err, search.ErrInvalidType):
		return "invalid_type"
	case errors.Is(err, database.ErrNotFound):
		return "expired"
	}
	return "internal"
}

type statsResponse struct {
	*database.IndexStats
	QueuedMessages int `json:"queued_messages"`
	QueuedUsers    int `json:"queued_users"`
}

func (h *apiHandlers) stats(c *gin.Context) {
	ctx := c.Request.Context()
	stats, err := h.deps.Store.Stats(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to collect stats", "error", err)
		fail(c, http.StatusInternalServerError, "internal", "stats unavailable")
		return
	}
	resp := statsResponse{IndexStats: stats}
	if h.deps.Pipeline != nil {
		resp.QueuedMessages, resp.QueuedUsers = h.deps.Pipeline.Pending()
	}
	c.JSON(http.StatusOK, resp)
}
