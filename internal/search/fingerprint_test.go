package search

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/edgard/chatindex/internal/database"
)

func TestFingerprint_StableUnderReordering(t *testing.T) {
	a := Fingerprint(NormalizeTerms([]string{"foo", "Bar"}), "")
	b := Fingerprint(NormalizeTerms([]string{"bar foo"}), "")
	c := Fingerprint(NormalizeTerms([]string{"foo", "bar", "FOO"}), "")
	assert.Equal(t, a, b)
	assert.Equal(t, a, c)

	assert.NotEqual(t, a, Fingerprint(NormalizeTerms([]string{"foo", "bar"}), "photo"))
	assert.NotEqual(t, a, Fingerprint(NormalizeTerms([]string{"foobar"}), ""))
}

func TestNormalizeTerms(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, NormalizeTerms([]string{" B  a ", "b"}))
	assert.Empty(t, NormalizeTerms([]string{"   "}))
}

func TestSettingsFingerprint(t *testing.T) {
	base := DefaultSettings()
	assert.Equal(t, base.Fingerprint(), DefaultSettings().Fingerprint())

	forced := base
	forced.ForceQuery = true
	assert.Equal(t, base.Fingerprint(), forced.Fingerprint(), "force query does not change matching rows")

	group := base
	group.OnlyGroup = true
	assert.NotEqual(t, base.Fingerprint(), group.Fingerprint())

	pinned := base
	pinned.SpecifyEnabled = true
	pinned.SpecifyID = 5
	assert.NotEqual(t, base.Fingerprint(), pinned.Fingerprint())
}

func TestSettingsFilter(t *testing.T) {
	s := Settings{SpecifyEnabled: true, SpecifyIsChat: true, SpecifyID: -9}
	f := s.Filter()
	assert.Equal(t, int64(-9), f.ChatID)
	assert.Zero(t, f.UserID)
	assert.True(t, f.ExcludeForward)
	assert.True(t, f.ExcludeBots)

	s.SpecifyIsChat = false
	assert.Equal(t, int64(-9), s.Filter().UserID)

	rec := s.Record(1)
	assert.Equal(t, s, SettingsFromRecord(rec))
}

func TestWindowEncoding(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)
	rows := []database.IndexRow{
		{ChatID: -1001, MessageID: 7, FromUser: 42, Body: "hello", EventTime: at, DocType: "text"},
		{
			ChatID: 5, MessageID: 8, FromUser: 5, Body: "", EventTime: at.Add(time.Second), DocType: "photo",
			ForwardFrom: sql.NullInt64{Int64: -77, Valid: true},
			MediaRef:    sql.NullString{String: "AgAD", Valid: true},
		},
	}

	got, err := DecodeWindow(EncodeWindow(rows))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, rows[0].ChatID, got[0].ChatID)
	assert.True(t, rows[0].EventTime.Equal(got[0].EventTime))
	assert.False(t, got[0].ForwardFrom.Valid)
	assert.Equal(t, rows[1].ForwardFrom, got[1].ForwardFrom)
	assert.Equal(t, rows[1].MediaRef, got[1].MediaRef)

	empty, err := DecodeWindow(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDecodeWindow_RejectsCorruptInput(t *testing.T) {
	b := EncodeWindow([]database.IndexRow{{ChatID: 1, MessageID: 1, Body: "x"}})
	_, err := DecodeWindow(b[:len(b)-1])
	assert.Error(t, err)

	// unknown top-level fields are skipped
	extra := protowire.AppendTag(nil, 9, protowire.VarintType)
	extra = protowire.AppendVarint(extra, 3)
	got, err := DecodeWindow(append(extra, b...))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
