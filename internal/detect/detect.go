// Package detect holds the pure decision functions used by the ingestion
// consumers: document classification, command detection, body and profile
// change detection, and refresh staleness.
package detect

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Change is the outcome of comparing an incoming value against what is stored.
type Change int

const (
	// New means nothing is stored yet.
	New Change = iota
	// Unchanged means the stored value matches.
	Unchanged
	// Changed means a stored value exists and differs.
	Changed
)

func (c Change) String() string {
	switch c {
	case New:
		return "new"
	case Unchanged:
		return "unchanged"
	case Changed:
		return "changed"
	default:
		return "unknown"
	}
}

// Attachment is the kind of media a message carries, if any.
type Attachment string

const (
	AttachmentNone      Attachment = ""
	AttachmentPhoto     Attachment = "photo"
	AttachmentVideo     Attachment = "video"
	AttachmentAnimation Attachment = "animation"
	AttachmentDocument  Attachment = "document"
	AttachmentVoice     Attachment = "voice"
)

// DocType is the stored classification of a message.
type DocType string

const (
	DocPhoto     DocType = "photo"
	DocVideo     DocType = "video"
	DocAnimation DocType = "animation"
	DocDocument  DocType = "document"
	DocText      DocType = "text"
	DocVoice     DocType = "voice"
	DocError     DocType = "error"
)

// ClassifyDocType picks the document type by precedence:
// photo, video, animation, document, text, voice, otherwise error.
func ClassifyDocType(att Attachment, hasText bool) DocType {
	switch att {
	case AttachmentPhoto:
		return DocPhoto
	case AttachmentVideo:
		return DocVideo
	case AttachmentAnimation:
		return DocAnimation
	case AttachmentDocument:
		return DocDocument
	}
	if hasText {
		return DocText
	}
	if att == AttachmentVoice {
		return DocVoice
	}
	return DocError
}

// ResolveDocType classifies a message and applies the error fallback: an
// unclassifiable message with a non-empty body is stored as text, one with an
// empty body is discarded (ok is false).
func ResolveDocType(att Attachment, hasText bool, body string) (DocType, bool) {
	t := ClassifyDocType(att, hasText)
	if t != DocError {
		return t, true
	}
	if body != "" {
		return DocText, true
	}
	return DocError, false
}

// MessageBody returns the text when present, otherwise the caption.
func MessageBody(text, caption string) string {
	if text != "" {
		return text
	}
	return caption
}

// IsCommand reports whether body is a bot command. A leading double slash is
// an escaped literal and not a command.
func IsCommand(body string) bool {
	return strings.HasPrefix(body, "/") && !strings.HasPrefix(body, "//")
}

// FullName joins first and last name with a single space, omitting an empty
// last name.
func FullName(first, last string) string {
	if last == "" {
		return first
	}
	return first + " " + last
}

// ProfileHash is the content hash over (id, full name, photo ref). An absent
// photo ref hashes as the empty string.
func ProfileHash(id int64, fullName, photoRef string) string {
	sum := sha256.Sum256([]byte(strconv.FormatInt(id, 10) + "," + fullName + "," + photoRef))
	return hex.EncodeToString(sum[:])
}

// CompareBody compares an incoming message body against the stored one.
// A nil stored value means no row exists.
func CompareBody(stored *string, incoming string) Change {
	return compare(stored, incoming)
}

// CompareProfile compares an incoming profile hash against the stored one.
func CompareProfile(storedHash *string, hash string) Change {
	return compare(storedHash, hash)
}

func compare(stored *string, incoming string) Change {
	switch {
	case stored == nil:
		return New
	case *stored == incoming:
		return Unchanged
	default:
		return Changed
	}
}

// IsStale reports whether more than after has elapsed since last.
func IsStale(last, now time.Time, after time.Duration) bool {
	return now.Sub(last) > after
}
