package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/chatindex/internal/database"
	"github.com/edgard/chatindex/internal/detect"
	"github.com/edgard/chatindex/internal/media"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// countingStore records profile writes on top of a real store.
type countingStore struct {
	database.Store
	mu             sync.Mutex
	profileInserts int
	profileUpdates int
	historyAppends int
}

func (s *countingStore) InsertUserProfile(ctx context.Context, p *database.UserProfile) error {
	s.mu.Lock()
	s.profileInserts++
	s.mu.Unlock()
	return s.Store.InsertUserProfile(ctx, p)
}

func (s *countingStore) UpdateUserProfile(ctx context.Context, p *database.UserProfile) (bool, error) {
	changed, err := s.Store.UpdateUserProfile(ctx, p)
	if changed {
		s.mu.Lock()
		s.profileUpdates++
		s.mu.Unlock()
	}
	return changed, err
}

func (s *countingStore) AppendUserHistory(ctx context.Context, h *database.UserHistory) error {
	s.mu.Lock()
	s.historyAppends++
	s.mu.Unlock()
	return s.Store.AppendUserHistory(ctx, h)
}

type fakePlatform struct {
	profiles map[int64]*ProfileRef
	fetches  int
}

func (f *fakePlatform) FetchProfile(_ context.Context, id int64) (*ProfileRef, error) {
	f.fetches++
	p, ok := f.profiles[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *p
	return &cp, nil
}

func (f *fakePlatform) ResolvePeer(_ context.Context, id int64) (string, error) {
	return fmt.Sprintf("peer-%d", id), nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Notify(_ context.Context, text string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	return true
}

type fakeMedia struct {
	mu   sync.Mutex
	jobs []media.Job
}

func (m *fakeMedia) Enqueue(_ context.Context, job media.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	return nil
}

type harness struct {
	store    *countingStore
	platform *fakePlatform
	notifier *fakeNotifier
	media    *fakeMedia
	recovery *RecoveryLog
	clock    *clockwork.FakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	db, err := database.NewDB(database.DialectSQLite, filepath.Join(dir, "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })

	clock := clockwork.NewFakeClockAt(t0)
	recovery, err := NewRecoveryLog(filepath.Join(dir, "recovery"), clock)
	require.NoError(t, err)

	return &harness{
		store:    &countingStore{Store: database.NewStore(db, nil)},
		platform: &fakePlatform{profiles: map[int64]*ProfileRef{}},
		notifier: &fakeNotifier{},
		media:    &fakeMedia{},
		recovery: recovery,
		clock:    clock,
	}
}

func (h *harness) pipeline(opts ...func(*Options)) *Pipeline {
	o := Options{
		Store:    h.store,
		Platform: h.platform,
		Media:    h.media,
		Notifier: h.notifier,
		Recovery: h.recovery,
		Clock:    h.clock,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return New(o)
}

// drain pushes events into a fresh pipeline and processes all of them.
func (h *harness) drain(t *testing.T, events ...Event) {
	t.Helper()
	p := h.pipeline()
	for _, ev := range events {
		require.NoError(t, p.Push(ev))
	}
	p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.Run(ctx))
}

func ptr[T any](v T) *T { return &v }

func textMessage(chatID, msgID int64, text string) MessageEvent {
	return MessageEvent{ChatID: chatID, MessageID: msgID, FromUser: ptr(int64(7)), Text: text, Date: t0}
}

func TestPipeline_IdempotentIngestion(t *testing.T) {
	h := newHarness(t)
	ev := textMessage(-100, 1, "hello world")
	h.drain(t, ev, ev)
	h.drain(t, ev)

	stats, err := h.store.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Messages)
	assert.Empty(t, h.notifier.messages, "duplicates are benign")
}

func TestPipeline_DropsCommandsAndEmptyMessages(t *testing.T) {
	h := newHarness(t)
	h.drain(t,
		textMessage(1, 1, "/start"),
		MessageEvent{ChatID: 1, MessageID: 2, Date: t0},
		textMessage(1, 3, "//escaped"),
	)

	stats, err := h.store.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Messages)
	body, err := h.store.GetMessageBody(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.Equal(t, "//escaped", body)
}

func TestPipeline_EditHistorySuppressedForZeroTimestamp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.drain(t, textMessage(1, 1, "first"))

	forced := textMessage(1, 1, "second")
	forced.Edited = true
	h.drain(t, forced)

	body, err := h.store.GetMessageBody(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "second", body)
	stats, err := h.store.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.Edits, "zero edit timestamp logs no history")

	edited := textMessage(1, 1, "third")
	edited.Edited = true
	edited.EditDate = t0.Add(time.Minute)
	unchanged := edited
	h.drain(t, edited, unchanged)

	stats, err = h.store.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Edits)
}

func TestPipeline_EditOfUnknownMessageInserts(t *testing.T) {
	h := newHarness(t)
	ev := textMessage(1, 50, "edited before we saw it")
	ev.Edited = true
	ev.EditDate = t0
	h.drain(t, ev)

	body, err := h.store.GetMessageBody(context.Background(), 1, 50)
	require.NoError(t, err)
	assert.Equal(t, "edited before we saw it", body)
}

func TestPipeline_PhotoIndexedAsDocumentAndQueued(t *testing.T) {
	h := newHarness(t)
	ev := MessageEvent{
		ChatID: 1, MessageID: 2, FromUser: ptr(int64(7)),
		Caption: "sunset", Attachment: detect.AttachmentPhoto, MediaRef: "file-9", Date: t0,
	}
	h.drain(t, ev)

	body, err := h.store.GetDocumentBody(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "sunset", body)
	require.Len(t, h.media.jobs, 1)
	assert.Equal(t, "file-9", h.media.jobs[0].Ref)
}

func TestPipeline_SenderFallbackAndForwards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.store.InsertUserProfile(ctx, &database.UserProfile{
		UserID: 55, FirstName: "Grace", LastName: sql.NullString{String: "Hopper", Valid: true}, FullName: "Grace Hopper",
		ContentHash: "x", LastRefreshed: t0, UpdatedAt: t0,
	}))

	channelPost := MessageEvent{ChatID: -200, MessageID: 1, Text: "announcement", Date: t0}
	hidden := MessageEvent{ChatID: 1, MessageID: 2, FromUser: ptr(int64(7)), Text: "fwd known", ForwardFromName: "Grace Hopper", Date: t0}
	anon := MessageEvent{ChatID: 1, MessageID: 3, FromUser: ptr(int64(7)), Text: "fwd unknown", ForwardFromName: "Nobody", Date: t0}
	h.drain(t, channelPost, hidden, anon)

	rows, err := h.store.FetchWindow(ctx, database.SearchQuery{}, 0, 10)
	require.NoError(t, err)
	byID := map[int64]database.IndexRow{}
	for _, r := range rows {
		byID[r.MessageID] = r
	}
	assert.EqualValues(t, -200, byID[1].FromUser, "sender falls back to chat")
	assert.EqualValues(t, 55, byID[2].ForwardFrom.Int64)
	assert.Equal(t, AnonymousForwardID, byID[3].ForwardFrom.Int64)
}

func TestPipeline_FilteredChatsAndUsers(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline(func(o *Options) {
		o.FilterChats = []int64{-999}
		o.FilterUsers = []int64{13}
	})
	require.NoError(t, p.Push(textMessage(-999, 1, "hidden chat")))
	spam := textMessage(1, 2, "from filtered user")
	spam.FromUser = ptr(int64(13))
	require.NoError(t, p.Push(spam))
	require.NoError(t, p.Push(textMessage(1, 3, "kept")))
	p.Close()
	require.NoError(t, p.Run(context.Background()))

	stats, err := h.store.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Messages)
}

// Processing an unchanged profile twice writes nothing new; changing only
// the photo writes exactly once.
func TestPipeline_HashGatedProfileWrites(t *testing.T) {
	h := newHarness(t)
	ref := ProfileRef{ID: 42, FirstName: "Ada", LastName: "Lovelace", PhotoRef: ptr("")}

	h.drain(t, ref)
	assert.Equal(t, 1, h.store.profileInserts)
	assert.Equal(t, 1, h.store.historyAppends)

	h.drain(t, ref)
	assert.Equal(t, 1, h.store.profileInserts)
	assert.Equal(t, 0, h.store.profileUpdates)
	assert.Equal(t, 1, h.store.historyAppends, "unchanged profile appends no history")

	ref.PhotoRef = ptr("photo-1")
	h.drain(t, ref)
	assert.Equal(t, 1, h.store.profileUpdates)
	assert.Equal(t, 2, h.store.historyAppends)

	stored, err := h.store.GetUserProfile(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", stored.FullName)
	assert.Equal(t, "photo-1", stored.PhotoRef.String)
	assert.True(t, stored.PeerID.Valid)
}

func TestPipeline_UnknownPhotoKeepsStoredHash(t *testing.T) {
	h := newHarness(t)
	h.drain(t, ProfileRef{ID: 42, FirstName: "Ada", PhotoRef: ptr("photo-1")})
	h.drain(t, ProfileRef{ID: 42, FirstName: "Ada"})

	assert.Equal(t, 0, h.store.profileUpdates, "a source without photo info is not a change")
}

func TestPipeline_GroupProfilesUseTitle(t *testing.T) {
	h := newHarness(t)
	h.drain(t, ProfileRef{ID: -1001, ChatType: "supergroup", Title: "Gophers"})

	stored, err := h.store.GetUserProfile(context.Background(), -1001)
	require.NoError(t, err)
	assert.Equal(t, "Gophers", stored.FullName)
	assert.True(t, stored.IsGroup)
}

func TestPipeline_StaleProfileRefreshesOnce(t *testing.T) {
	h := newHarness(t)
	ref := ProfileRef{ID: 42, FirstName: "Ada", PhotoRef: ptr(""), Refresh: true}
	h.drain(t, ref)
	assert.Equal(t, 0, h.platform.fetches, "new profiles are not refetched")

	h.platform.profiles[42] = &ProfileRef{ID: 42, FirstName: "Ada", LastName: "King", PhotoRef: ptr("")}
	h.clock.Advance(30 * time.Minute)
	h.drain(t, ref)
	assert.Equal(t, 0, h.platform.fetches, "fresh profiles are not refetched")

	h.clock.Advance(31 * time.Minute)
	h.drain(t, ref)
	assert.Equal(t, 1, h.platform.fetches)

	stored, err := h.store.GetUserProfile(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "Ada King", stored.FullName)
}

func TestPipeline_UsernameHistoryOnlyOnChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.drain(t,
		ProfileRef{ID: 1, FirstName: "a", Username: "alpha"},
		ProfileRef{ID: 1, FirstName: "a", Username: "alpha"},
		ProfileRef{ID: 1, FirstName: "a", Username: "beta"},
	)
	latest, err := h.store.LatestUsername(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "beta", latest)
}

func TestPipeline_MessagePushesRelatedProfilesOnce(t *testing.T) {
	h := newHarness(t)
	ev := textMessage(-5, 1, "hi")
	ev.Related = []ProfileRef{
		{ID: 7, FirstName: "Sender"},
		{ID: -5, ChatType: "group", Title: "Room"},
		{ID: 7, FirstName: "Sender"},
	}
	h.drain(t, ev)
	assert.Equal(t, 2, h.store.profileInserts)
}

func TestPipeline_OtherEvents(t *testing.T) {
	h := newHarness(t)
	h.drain(t,
		DeletedEvent{ChatID: 1, MessageIDs: []int64{1, 2}, Date: t0},
		StatusEvent{UserID: 9, Online: true},
		NewMembersEvent{ChatID: -3, UserIDs: []int64{4, 5}, Date: t0},
	)
	assert.Empty(t, h.notifier.messages)
}

// Every failed event lands in the recovery log, one line per event, in the
// order the events failed.
func TestPipeline_RecoveryLogCompleteness(t *testing.T) {
	h := newHarness(t)
	const n = 5
	var events []Event
	for i := 0; i < n; i++ {
		events = append(events, MessageEvent{ChatID: int64(i + 1), Text: "missing message id", Date: t0})
	}
	h.drain(t, events...)

	records, err := ReadRecoveryLog(h.recovery.Path(CategoryMessage))
	require.NoError(t, err)
	require.Len(t, records, n)
	for i, rec := range records {
		ev, ok := rec.Event.(MessageEvent)
		require.True(t, ok)
		assert.EqualValues(t, i+1, ev.ChatID)
		assert.Contains(t, rec.Error, "malformed")
	}
	assert.Len(t, h.notifier.messages, n)
}

func TestPipeline_NotifiesWhenConsumerRecovers(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline(func(o *Options) { o.RecoveredText = "back to normal" })
	require.NoError(t, p.Push(MessageEvent{ChatID: 1, Text: "missing message id", Date: t0}))
	require.NoError(t, p.Push(textMessage(1, 2, "fine")))
	require.NoError(t, p.Push(textMessage(1, 3, "still fine")))
	p.Close()
	require.NoError(t, p.Run(context.Background()))

	require.Len(t, h.notifier.messages, 2)
	assert.Contains(t, h.notifier.messages[0], "malformed")
	assert.Equal(t, "back to normal (msg)", h.notifier.messages[1])
}

func TestPipeline_ReplayRecoversFailedEvents(t *testing.T) {
	h := newHarness(t)
	ev := textMessage(3, 4, "needs replay")
	require.NoError(t, h.recovery.Append(CategoryMessage, ev, errors.New("db down")))
	require.NoError(t, h.recovery.Append(CategoryUser, ProfileRef{ID: 7, FirstName: "x"}, errors.New("db down")))

	p := h.pipeline()
	n, err := p.Replay(h.recovery.Path(CategoryMessage))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = p.Replay(h.recovery.Path(CategoryUser))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	p.Close()
	require.NoError(t, p.Run(context.Background()))

	body, err := h.store.GetMessageBody(context.Background(), 3, 4)
	require.NoError(t, err)
	assert.Equal(t, "needs replay", body)
	assert.Equal(t, 1, h.store.profileInserts)
}

func TestPipeline_CancelSpillsQueuedEvents(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline()
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, p.Push(textMessage(1, i, "queued")))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))

	msgs, users := p.Pending()
	assert.Zero(t, msgs)
	assert.Zero(t, users)

	records, err := ReadRecoveryLog(h.recovery.Path(CategoryMessage))
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.EqualValues(t, i+1, rec.Event.(MessageEvent).MessageID)
		assert.Equal(t, context.Canceled.Error(), rec.Error)
	}

	stats, err := h.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Messages)
}

func TestPipeline_PushAfterCloseFails(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline()
	p.Close()
	assert.ErrorIs(t, p.Push(textMessage(1, 1, "late")), ErrStopped)
}

// stallingStore blocks inserts of one message until the event context ends.
type stallingStore struct {
	database.Store
	stallID int64
}

func (s *stallingStore) InsertMessage(ctx context.Context, rec *database.MessageRecord) error {
	if rec.MessageID == s.stallID {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.Store.InsertMessage(ctx, rec)
}

// brokenStore fails every message insert like a broken disk would.
type brokenStore struct {
	database.Store
}

func (brokenStore) InsertMessage(context.Context, *database.MessageRecord) error {
	return errors.New("disk I/O error")
}

func TestPipeline_SlowEventIsProcessingError(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline(func(o *Options) {
		o.Store = &stallingStore{Store: h.store, stallID: 1}
		o.EventTimeout = time.Minute
	})
	require.NoError(t, p.Push(textMessage(1, 1, "slow")))
	require.NoError(t, p.Push(textMessage(1, 2, "fast")))
	p.Close()

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(time.Minute)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("pipeline did not finish")
	}

	records, err := ReadRecoveryLog(h.recovery.Path(CategoryMessage))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.EqualValues(t, 1, records[0].Event.(MessageEvent).MessageID)
	assert.Contains(t, records[0].Error, ErrEventTimeout.Error())

	body, err := h.store.GetMessageBody(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "fast", body)
	require.Len(t, h.notifier.messages, 1)
	assert.Contains(t, h.notifier.messages[0], "timed out")
}

func TestPipeline_FatalErrorSpillsQueuedEvents(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline(func(o *Options) { o.Store = brokenStore{Store: h.store} })
	const n = 3
	for i := int64(1); i <= n; i++ {
		require.NoError(t, p.Push(textMessage(1, i, "queued")))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := p.Run(ctx)
	var fe *FatalError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, err.Error(), "disk I/O error")

	msgs, _ := p.Pending()
	assert.Zero(t, msgs)

	require.ErrorIs(t, p.Push(textMessage(1, n+1, "late")), ErrStopped)

	records, err := ReadRecoveryLog(h.recovery.Path(CategoryMessage))
	require.NoError(t, err)
	require.Len(t, records, n+1)
	for i, rec := range records {
		assert.EqualValues(t, i+1, rec.Event.(MessageEvent).MessageID)
	}
	assert.Contains(t, records[0].Error, "disk I/O error")
	assert.Contains(t, records[1].Error, "fatal")
	assert.Equal(t, ErrStopped.Error(), records[n].Error)
}

func TestPipeline_RejectedPushIsRecorded(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline()
	p.Close()
	require.ErrorIs(t, p.PushProfile(ProfileRef{ID: 9, FirstName: "late"}), ErrStopped)

	records, err := ReadRecoveryLog(h.recovery.Path(CategoryUser))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.EqualValues(t, 9, records[0].Event.(ProfileRef).ID)
}

type onlineCountingStore struct {
	database.Store
	mu      sync.Mutex
	appends int
}

func (s *onlineCountingStore) InsertOnlineRecord(ctx context.Context, rec *database.OnlineRecord) error {
	s.mu.Lock()
	s.appends++
	s.mu.Unlock()
	return s.Store.InsertOnlineRecord(ctx, rec)
}

// Messages and unchanged profiles survive a repeated replay; presence rows
// are appended again.
func TestPipeline_ReplayTwiceDuplicatesAppendOnlyRows(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.recovery.Append(CategoryMessage, textMessage(3, 4, "needs replay"), errors.New("db down")))
	require.NoError(t, h.recovery.Append(CategoryMessage, StatusEvent{UserID: 9, Online: true, Date: t0}, errors.New("db down")))
	require.NoError(t, h.recovery.Append(CategoryUser, ProfileRef{ID: 7, FirstName: "x"}, errors.New("db down")))

	store := &onlineCountingStore{Store: h.store}
	p := h.pipeline(func(o *Options) { o.Store = store })
	for i := 0; i < 2; i++ {
		n, err := p.Replay(h.recovery.Path(CategoryMessage))
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		n, err = p.Replay(h.recovery.Path(CategoryUser))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
	p.Close()
	require.NoError(t, p.Run(context.Background()))

	stats, err := h.store.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Messages)
	assert.Equal(t, 1, h.store.profileInserts)
	assert.Equal(t, 1, h.store.historyAppends)
	assert.Equal(t, 2, store.appends)
}
