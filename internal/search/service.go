package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/edgard/chatindex/internal/database"
	"github.com/edgard/chatindex/internal/metrics"
)

var (
	// ErrEmptyQuery is returned when no search terms remain after normalization.
	ErrEmptyQuery = errors.New("empty search query")
	// ErrInvalidOffset is returned for a negative page offset.
	ErrInvalidOffset = errors.New("invalid page offset")
	// ErrInvalidType is returned for an unknown type filter.
	ErrInvalidType = errors.New("invalid type filter")
)

// Cache outcomes reported on a Page.
const (
	StatusHit   = "hit"
	StatusStale = "stale"
	StatusMiss  = "miss"
)

// Request is a single page request.
type Request struct {
	Terms      []string
	TypeFilter string
	Offset     int
	// Limit is the page length, 1..PageLimitMax. Zero means PageLimitMax.
	Limit    int
	Settings Settings
	// ForceRefresh bypasses the cached window.
	ForceRefresh bool
}

// Page is one page of results plus what the cache did to produce it.
type Page struct {
	Rows        []database.IndexRow
	Offset      int
	Limit       int
	Total       int64
	HistoryID   int64
	Fingerprint string
	Terms       []string
	TypeFilter  string
	Status      string
}

// HasNext reports whether another page follows.
func (p *Page) HasNext() bool {
	return int64(p.Offset+p.Limit) < p.Total
}

// Service is the read path of the query result cache.
type Service struct {
	store  database.Store
	writer Enqueuer
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewService creates a query cache service that hands cache writes to writer.
func NewService(store database.Store, writer Enqueuer, clock clockwork.Clock, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		store:  store,
		writer: writer,
		clock:  clock,
		logger: logger.With("component", "search"),
	}
}

// Reset drops every cached window. Windows are not trusted across restarts.
func (s *Service) Reset(ctx context.Context) error {
	return s.store.ClearCacheEntries(ctx)
}

// Query serves one page, reading through the cache.
func (s *Service) Query(ctx context.Context, req Request) (*Page, error) {
	timer := s.clock.Now()
	defer func() { metrics.SearchDuration.Observe(s.clock.Since(timer).Seconds()) }()

	terms := NormalizeTerms(req.Terms)
	if len(terms) == 0 {
		return nil, ErrEmptyQuery
	}
	if req.Offset < 0 {
		return nil, ErrInvalidOffset
	}
	if !ValidTypeFilter(req.TypeFilter) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, req.TypeFilter)
	}
	limit := req.Limit
	if limit <= 0 || limit > PageLimitMax {
		limit = PageLimitMax
	}

	fp := Fingerprint(terms, req.TypeFilter)
	q := database.SearchQuery{Terms: terms, TypeFilter: req.TypeFilter, Filter: req.Settings.Filter()}
	settingsFP := req.Settings.Fingerprint()

	history, err := s.store.GetQueryHistory(ctx, fp)
	if err != nil {
		return nil, err
	}
	entry, err := s.store.GetCacheEntry(ctx, fp)
	if err != nil {
		return nil, err
	}
	settingsChanged := entry != nil && entry.SettingsFingerprint != settingsFP

	// a missing entry means the stored total may predate the current filters
	var maxCount int64
	if history == nil || entry == nil || req.Settings.ForceQuery || settingsChanged {
		if maxCount, err = s.store.CountMessages(ctx, q); err != nil {
			return nil, err
		}
	} else {
		maxCount = history.MaxCount
	}

	if history == nil {
		history = &database.QueryHistory{
			Fingerprint: fp,
			Terms:       strings.Join(terms, " "),
			TypeFilter:  req.TypeFilter,
			CreatedAt:   s.clock.Now(),
			MaxCount:    maxCount,
		}
		if err := s.store.InsertQueryHistory(ctx, history); err != nil {
			return nil, err
		}
	}

	rows, start, status, err := s.resolveWindow(ctx, req, q, fp, settingsFP, maxCount, entry, settingsChanged)
	if err != nil {
		return nil, err
	}

	if maxCount != history.MaxCount {
		if err := s.store.UpdateQueryMaxCount(ctx, fp, maxCount); err != nil {
			return nil, err
		}
	}

	metrics.CacheRequests.WithLabelValues(status).Inc()
	s.logger.DebugContext(ctx, "Search served", "fingerprint", fp, "offset", req.Offset, "status", status, "total", maxCount)

	return &Page{
		Rows:        pageOf(rows, start, req.Offset, limit),
		Offset:      req.Offset,
		Limit:       limit,
		Total:       maxCount,
		HistoryID:   history.ID,
		Fingerprint: fp,
		Terms:       terms,
		TypeFilter:  req.TypeFilter,
		Status:      status,
	}, nil
}

// QueryHistory re-runs a stored search at a new offset.
func (s *Service) QueryHistory(ctx context.Context, historyID int64, offset, limit int, settings Settings) (*Page, error) {
	h, err := s.store.GetQueryHistoryByID(ctx, historyID)
	if err != nil {
		return nil, err
	}
	return s.Query(ctx, Request{
		Terms:      strings.Fields(h.Terms),
		TypeFilter: h.TypeFilter,
		Offset:     offset,
		Limit:      limit,
		Settings:   settings,
	})
}

// resolveWindow returns the window to serve from and its start offset.
func (s *Service) resolveWindow(
	ctx context.Context,
	req Request,
	q database.SearchQuery,
	fp, settingsFP string,
	maxCount int64,
	entry *database.SearchCacheEntry,
	settingsChanged bool,
) ([]database.IndexRow, int, string, error) {
	if entry != nil && !settingsChanged && !req.ForceRefresh {
		rows, err := DecodeWindow(entry.CachedRows)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "Discarding undecodable cached window", "fingerprint", fp, "error", err)
		case covers(entry.WindowStart, len(rows), req.Offset):
			status := StatusHit
			center := entry.WindowStart + WindowRows/2
			if req.Offset > WarmOffset && abs(req.Offset-center) >= RecenterDistance {
				s.writer.Enqueue(RecenterJob{
					Fingerprint:         fp,
					Query:               q,
					Center:              req.Offset,
					SettingsFingerprint: entry.SettingsFingerprint,
					MaxCount:            maxCount,
				})
				status = StatusStale
			}
			return rows, entry.WindowStart, status, nil
		}
	}

	start := max(0, req.Offset-WindowLead)
	rows, err := s.store.FetchWindow(ctx, q, start, WindowRows)
	if err != nil {
		return nil, 0, "", err
	}
	s.writer.Enqueue(RepopulateJob{
		Fingerprint:         fp,
		Rows:                rows,
		WindowStart:         start,
		SettingsFingerprint: settingsFP,
		MaxCount:            maxCount,
	})
	return rows, start, StatusMiss, nil
}

// covers reports whether a window can answer the page at offset. A short
// window ends at the last result, so any later offset is an empty page.
func covers(start, n, offset int) bool {
	if offset < start {
		return false
	}
	if n < WindowRows {
		return true
	}
	return offset+PageLimitMax <= start+n
}

func pageOf(rows []database.IndexRow, start, offset, limit int) []database.IndexRow {
	from := offset - start
	if from < 0 || from >= len(rows) {
		return nil
	}
	return rows[from:min(from+limit, len(rows))]
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
