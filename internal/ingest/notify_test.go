package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	chats []int64
	texts []string
}

func (s *recordingSender) SendMessage(_ context.Context, chatID int64, text string) error {
	s.chats = append(s.chats, chatID)
	s.texts = append(s.texts, text)
	return nil
}

func TestNotifier_RateLimited(t *testing.T) {
	sender := &recordingSender{}
	clock := clockwork.NewFakeClockAt(t0)
	n := NewNotifier(sender, 99, time.Minute, clock, nil)
	ctx := context.Background()

	assert.True(t, n.Notify(ctx, "first"))
	assert.False(t, n.Notify(ctx, "second"))

	clock.Advance(30 * time.Second)
	assert.False(t, n.Notify(ctx, "third"))

	clock.Advance(31 * time.Second)
	assert.True(t, n.Notify(ctx, "fourth"))

	assert.Equal(t, []string{"first", "fourth"}, sender.texts)
	assert.Equal(t, []int64{99, 99}, sender.chats)
}

func TestNotifier_DisabledWithoutTarget(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(sender, 0, time.Minute, nil, nil)
	assert.False(t, n.Notify(context.Background(), "ignored"))
	assert.Empty(t, sender.texts)

	var nilNotifier *RateLimitedNotifier
	assert.False(t, nilNotifier.Notify(context.Background(), "ignored"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))

	long := strings.Repeat("é", 10)
	out := truncate(long, 5)
	require.True(t, strings.HasSuffix(out, "…"))
	assert.Equal(t, "éé…", out)
}

func TestProfileRef_Names(t *testing.T) {
	user := ProfileRef{ID: 1, ChatType: "private", FirstName: "Ada", LastName: "Lovelace"}
	first, last, full := user.Names()
	assert.Equal(t, "Ada", first)
	assert.Equal(t, "Lovelace", last)
	assert.Equal(t, "Ada Lovelace", full)
	assert.False(t, user.IsGroup())

	channel := ProfileRef{ID: -100, ChatType: "channel", Title: "News", FirstName: "ignored"}
	first, last, full = channel.Names()
	assert.Equal(t, "News", first)
	assert.Empty(t, last)
	assert.Equal(t, "News", full)
	assert.True(t, channel.IsGroup())
}
