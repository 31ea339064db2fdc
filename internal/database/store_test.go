package database

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	db, err := NewDB(DialectSQLite, filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { CloseDB(db) })
	return NewStore(db, nil)
}

var baseTime = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func msg(chatID, messageID, from int64, body string, at time.Time) *MessageRecord {
	return &MessageRecord{ChatID: chatID, MessageID: messageID, FromUser: from, Body: body, EventTime: at}
}

func TestStore_InsertMessageIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertMessage(ctx, msg(-100, 1, 7, "hello", baseTime)))
	err := store.InsertMessage(ctx, msg(-100, 1, 7, "hello again", baseTime))
	assert.ErrorIs(t, err, ErrDuplicate)

	body, err := store.GetMessageBody(ctx, -100, 1)
	require.NoError(t, err)
	assert.Equal(t, "hello", body, "duplicate insert must not overwrite")

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Messages)
}

func TestStore_GetBodyNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetMessageBody(context.Background(), 1, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetDocumentBody(context.Background(), 1, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_DocumentUpdateTouchesBothTables(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := msg(5, 9, 5, "caption", baseTime)
	require.NoError(t, store.InsertMessage(ctx, rec))
	require.NoError(t, store.UpsertDocument(ctx, &DocumentRecord{
		MessageRecord: *rec,
		DocType:       "photo",
		MediaRef:      sql.NullString{String: "file-1", Valid: true},
	}))

	require.NoError(t, store.UpdateDocumentBody(ctx, 5, 9, "new caption", ""))

	docBody, err := store.GetDocumentBody(ctx, 5, 9)
	require.NoError(t, err)
	assert.Equal(t, "new caption", docBody)
	msgBody, err := store.GetMessageBody(ctx, 5, 9)
	require.NoError(t, err)
	assert.Equal(t, "new caption", msgBody)

	rows, err := store.FetchWindow(ctx, SearchQuery{Terms: []string{"caption"}, TypeFilter: "photo"}, 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "file-1", rows[0].MediaRef.String, "empty media ref keeps the stored one")
}

func TestStore_UserProfileHashGate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := &UserProfile{
		UserID:        42,
		FirstName:     "Ada",
		FullName:      "Ada",
		ContentHash:   "h1",
		LastRefreshed: baseTime,
		UpdatedAt:     baseTime,
	}
	require.NoError(t, store.InsertUserProfile(ctx, p))
	assert.ErrorIs(t, store.InsertUserProfile(ctx, p), ErrDuplicate)

	changed, err := store.UpdateUserProfile(ctx, p)
	require.NoError(t, err)
	assert.False(t, changed, "same hash must not rewrite")

	p.ContentHash = "h2"
	p.FullName = "Ada L"
	changed, err = store.UpdateUserProfile(ctx, p)
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := store.GetUserProfile(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Ada L", got.FullName)
	assert.Equal(t, "h2", got.ContentHash)

	id, err := store.FindUserIDByFullName(ctx, "Ada L")
	require.NoError(t, err)
	assert.EqualValues(t, 42, id)

	missing, err := store.GetUserProfile(ctx, 43)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_LatestUsername(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.LatestUsername(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.AppendUsername(ctx, 1, "old", baseTime))
	require.NoError(t, store.AppendUsername(ctx, 1, "new", baseTime.Add(time.Minute)))

	name, err := store.LatestUsername(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "new", name)
}

func TestStore_FetchWindowOrderingAndFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		chatID := int64(10)
		if i%2 == 1 {
			chatID = -10
		}
		rec := msg(chatID, int64(i+1), 7, fmt.Sprintf("report number %d", i), baseTime.Add(time.Duration(i)*time.Minute))
		if i%5 == 0 {
			rec.ForwardFrom = sql.NullInt64{Int64: 99, Valid: true}
		}
		require.NoError(t, store.InsertMessage(ctx, rec))
	}
	require.NoError(t, store.InsertMessage(ctx, msg(10, 100, 7, "unrelated", baseTime)))

	q := SearchQuery{Terms: []string{"REPORT"}}
	total, err := store.CountMessages(ctx, q)
	require.NoError(t, err)
	assert.EqualValues(t, 30, total)

	rows, err := store.FetchWindow(ctx, q, 0, 5)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	for i := 1; i < len(rows); i++ {
		assert.True(t, rows[i-1].EventTime.After(rows[i].EventTime), "rows must be newest first")
	}
	assert.Equal(t, "text", rows[0].DocType)

	rows, err = store.FetchWindow(ctx, q, 28, 5)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	groups, err := store.CountMessages(ctx, SearchQuery{Terms: []string{"report"}, Filter: Filter{OnlyGroup: true}})
	require.NoError(t, err)
	assert.EqualValues(t, 15, groups)

	noForward, err := store.CountMessages(ctx, SearchQuery{Terms: []string{"report"}, Filter: Filter{ExcludeForward: true}})
	require.NoError(t, err)
	assert.EqualValues(t, 24, noForward)

	literal, err := store.CountMessages(ctx, SearchQuery{Terms: []string{"number_1"}})
	require.NoError(t, err)
	assert.EqualValues(t, 0, literal, "LIKE wildcards in terms are matched literally")
}

func TestStore_ExcludeBots(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertUserProfile(ctx, &UserProfile{
		UserID: 500, FirstName: "bot", FullName: "bot", ContentHash: "x", IsBot: true,
		LastRefreshed: baseTime, UpdatedAt: baseTime,
	}))
	require.NoError(t, store.InsertMessage(ctx, msg(1, 1, 500, "ping", baseTime)))
	require.NoError(t, store.InsertMessage(ctx, msg(1, 2, 7, "ping", baseTime)))

	n, err := store.CountMessages(ctx, SearchQuery{Terms: []string{"ping"}, Filter: Filter{ExcludeBots: true}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestStore_QueryHistoryAndCache(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	h := &QueryHistory{Fingerprint: "fp", Terms: "a b", CreatedAt: baseTime, MaxCount: 3}
	require.NoError(t, store.InsertQueryHistory(ctx, h))
	assert.NotZero(t, h.ID)

	again := &QueryHistory{Fingerprint: "fp", Terms: "a b", CreatedAt: baseTime.Add(time.Hour)}
	require.NoError(t, store.InsertQueryHistory(ctx, again))
	assert.Equal(t, h.ID, again.ID, "existing fingerprint keeps its record")
	assert.True(t, again.CreatedAt.Equal(baseTime))

	require.NoError(t, store.UpdateQueryMaxCount(ctx, "fp", 11))
	byID, err := store.GetQueryHistoryByID(ctx, h.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 11, byID.MaxCount)

	entry := &SearchCacheEntry{
		Fingerprint: "fp", CachedRows: []byte{1, 2, 3}, WindowStart: 0,
		SettingsFingerprint: "s1", MaxCount: 11, LastQueryTime: baseTime,
	}
	require.NoError(t, store.UpsertCacheEntry(ctx, entry))
	entry.WindowStart = 150
	entry.LastQueryTime = baseTime.Add(2 * time.Hour)
	require.NoError(t, store.UpsertCacheEntry(ctx, entry))

	got, err := store.GetCacheEntry(ctx, "fp")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 150, got.WindowStart)
	assert.Equal(t, []byte{1, 2, 3}, got.CachedRows)

	pruned, err := store.PruneCacheEntries(ctx, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 0, pruned)
	pruned, err = store.PruneCacheEntries(ctx, baseTime.Add(3*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)

	got, err = store.GetCacheEntry(ctx, "fp")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_SettingsDefaults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	st, err := store.GetSettings(ctx, 77)
	require.NoError(t, err)
	assert.True(t, st.IncludeForward)
	assert.False(t, st.OnlyGroup)

	st.OnlyGroup = true
	st.SpecifyEnabled = true
	st.SpecifyID = -123
	require.NoError(t, store.SaveSettings(ctx, st))

	again, err := store.GetSettings(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, st, again)
}

func TestStore_EventLogs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertDeletedMessages(ctx, []DeletedMessage{
		{ChatID: 1, MessageID: 1, DeletedAt: baseTime},
		{ChatID: 1, MessageID: 1, DeletedAt: baseTime},
		{ChatID: 1, MessageID: 2, DeletedAt: baseTime},
	}))
	require.NoError(t, store.InsertOnlineRecord(ctx, &OnlineRecord{UserID: 1, Online: true, RecordedAt: baseTime}))
	require.NoError(t, store.InsertGroupHistory(ctx, []GroupHistory{{ChatID: -5, UserID: 1, JoinedAt: baseTime}}))
	require.NoError(t, store.InsertEditRecord(ctx, &EditRecord{ChatID: 1, FromUser: 1, MessageID: 1, PreviousBody: "x", EditTime: baseTime}))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Edits)

	ok, err := store.HasMediaMapping(ctx, "ref")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, store.InsertMediaMapping(ctx, "ref", baseTime))
	require.NoError(t, store.InsertMediaMapping(ctx, "ref", baseTime))
	ok, err = store.HasMediaMapping(ctx, "ref")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.RunSQLMaintenance(ctx))
}

func TestStore_SearchFoldsNonASCIICase(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertMessage(ctx, msg(10, 1, 7, "Привет мир", baseTime)))
	require.NoError(t, store.InsertMessage(ctx, msg(10, 2, 7, "ΚΑΛΗΜΕΡΑ Αθήνα", baseTime.Add(time.Minute))))
	require.NoError(t, store.InsertMessage(ctx, msg(10, 3, 7, "Ärger im Büro", baseTime.Add(2*time.Minute))))

	for term, id := range map[string]int64{
		"привет":     1,
		"ПРИВЕТ":     1,
		"καλημερα":   2,
		"αθήνα":      2,
		"ärger":      3,
		"BÜRO":       3,
		"Привет мир": 1,
	} {
		q := SearchQuery{Terms: []string{term}}
		total, err := store.CountMessages(ctx, q)
		require.NoError(t, err, term)
		assert.EqualValues(t, 1, total, term)

		rows, err := store.FetchWindow(ctx, q, 0, 5)
		require.NoError(t, err, term)
		require.Len(t, rows, 1, term)
		assert.Equal(t, id, rows[0].MessageID, term)
	}
}
