package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyDocType_Precedence(t *testing.T) {
	tests := []struct {
		name    string
		att     Attachment
		hasText bool
		want    DocType
	}{
		{"photo wins over text", AttachmentPhoto, true, DocPhoto},
		{"video", AttachmentVideo, false, DocVideo},
		{"animation", AttachmentAnimation, true, DocAnimation},
		{"document", AttachmentDocument, false, DocDocument},
		{"plain text", AttachmentNone, true, DocText},
		{"voice without text", AttachmentVoice, false, DocVoice},
		{"text beats voice", AttachmentVoice, true, DocText},
		{"nothing", AttachmentNone, false, DocError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyDocType(tt.att, tt.hasText))
		})
	}
}

func TestResolveDocType_ErrorFallback(t *testing.T) {
	got, ok := ResolveDocType(AttachmentNone, false, "caption only")
	assert.True(t, ok)
	assert.Equal(t, DocText, got)

	_, ok = ResolveDocType(AttachmentNone, false, "")
	assert.False(t, ok, "empty unclassifiable message must be discarded")

	got, ok = ResolveDocType(AttachmentPhoto, false, "")
	assert.True(t, ok)
	assert.Equal(t, DocPhoto, got)
}

func TestIsCommand(t *testing.T) {
	assert.True(t, IsCommand("/start"))
	assert.True(t, IsCommand("/"))
	assert.False(t, IsCommand("//not a command"))
	assert.False(t, IsCommand("hello /start"))
	assert.False(t, IsCommand(""))
}

func TestMessageBody(t *testing.T) {
	assert.Equal(t, "text", MessageBody("text", "caption"))
	assert.Equal(t, "caption", MessageBody("", "caption"))
	assert.Equal(t, "", MessageBody("", ""))
}

func TestFullName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", FullName("Ada", "Lovelace"))
	assert.Equal(t, "Ada", FullName("Ada", ""))
}

func TestProfileHash(t *testing.T) {
	h := ProfileHash(42, "Ada Lovelace", "")
	assert.Len(t, h, 64)
	assert.Equal(t, h, ProfileHash(42, "Ada Lovelace", ""))
	assert.NotEqual(t, h, ProfileHash(42, "Ada Lovelace", "photo-1"))
	assert.NotEqual(t, h, ProfileHash(43, "Ada Lovelace", ""))
	// field separator keeps ("1", "2,x") and ("12", "x") apart
	assert.NotEqual(t, ProfileHash(1, "2,x", ""), ProfileHash(12, "x", ""))
}

func TestCompare(t *testing.T) {
	stored := "hello"
	assert.Equal(t, New, CompareBody(nil, "hello"))
	assert.Equal(t, Unchanged, CompareBody(&stored, "hello"))
	assert.Equal(t, Changed, CompareBody(&stored, "hello!"))

	hash := ProfileHash(1, "a", "")
	assert.Equal(t, Unchanged, CompareProfile(&hash, ProfileHash(1, "a", "")))
	assert.Equal(t, Changed, CompareProfile(&hash, ProfileHash(1, "b", "")))
	assert.Equal(t, "changed", Changed.String())
}

func TestIsStale(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.False(t, IsStale(now.Add(-59*time.Minute), now, time.Hour))
	assert.False(t, IsStale(now.Add(-time.Hour), now, time.Hour))
	assert.True(t, IsStale(now.Add(-61*time.Minute), now, time.Hour))
}
