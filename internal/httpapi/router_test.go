package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/chatindex/internal/database"
	"github.com/edgard/chatindex/internal/search"
)

type fakePending struct{}

func (fakePending) Pending() (int, int) { return 2, 1 }

func newTestRouter(t *testing.T, n int) (*gin.Engine, database.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.NewDB(database.DialectSQLite, filepath.Join(t.TempDir(), "http.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })
	store := database.NewStore(db, nil)

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		require.NoError(t, store.InsertMessage(context.Background(), &database.MessageRecord{
			ChatID:    -100,
			MessageID: int64(i + 1),
			FromUser:  7,
			Body:      fmt.Sprintf("gopher %d", i),
			EventTime: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	r := NewRouter(Deps{
		Store:     store,
		Search:    search.NewService(store, search.NewWriter(store, nil, nil), nil, nil),
		Pipeline:  fakePending{},
		OwnerID:   42,
		PageLimit: 5,
	})
	return r, store
}

func get(t *testing.T, r http.Handler, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]any
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	r, _ := newTestRouter(t, 0)

	w, body := get(t, r, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	w, _ = get(t, r, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chatindex_http_requests_total")

	w, body = get(t, r, "/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", body["code"])
}

func TestRouter_SearchPages(t *testing.T) {
	r, _ := newTestRouter(t, 7)

	w, body := get(t, r, "/api/v1/search?q=Gopher")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 7, body["total"])
	assert.Equal(t, true, body["has_next"])
	assert.Equal(t, search.StatusMiss, body["cache"])
	rows := body["rows"].([]any)
	require.Len(t, rows, 5)
	assert.Equal(t, "gopher 6", rows[0].(map[string]any)["body"])

	historyID := body["history_id"]
	_, body = get(t, r, fmt.Sprintf("/api/v1/search?history=%v&offset=5&limit=2", historyID))
	rows = body["rows"].([]any)
	require.Len(t, rows, 2)
	assert.Equal(t, "gopher 1", rows[0].(map[string]any)["body"])
	assert.Equal(t, false, body["has_next"])
}

func TestRouter_SearchErrorsAreEmptyResults(t *testing.T) {
	r, _ := newTestRouter(t, 1)

	for target, code := range map[string]string{
		"/api/v1/search":                  "empty_query",
		"/api/v1/search?q=x&offset=-1":    "invalid_offset",
		"/api/v1/search?q=x&offset=abc":   "invalid_offset",
		"/api/v1/search?q=x&type=sticker": "invalid_type",
		"/api/v1/search?history=99":       "expired",
		"/api/v1/search?history=abc":      "invalid_history",
	} {
		w, body := get(t, r, target)
		assert.Equal(t, http.StatusOK, w.Code, target)
		assert.Equal(t, code, body["error"], target)
		assert.Empty(t, body["rows"], target)
	}
}

func TestRouter_Stats(t *testing.T) {
	r, _ := newTestRouter(t, 3)

	w, body := get(t, r, "/api/v1/stats")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, body["messages"])
	assert.EqualValues(t, 2, body["queued_messages"])
}

func TestServer_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(ln.Addr().String(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String())
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
