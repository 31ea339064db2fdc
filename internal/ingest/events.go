// Package ingest implements the event ingestion pipeline: two single-consumer
// queues, one for chat events and one for profile refreshes, that classify,
// deduplicate and persist what the platform delivers, degrading into an
// emergency mode that keeps every failed event on disk for replay.
package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/edgard/chatindex/internal/detect"
)

// Kind names an event type in the recovery log.
type Kind string

const (
	KindMessage    Kind = "message"
	KindDeleted    Kind = "deleted"
	KindStatus     Kind = "status"
	KindNewMembers Kind = "new_members"
	KindProfile    Kind = "profile"
)

// Event is anything the message consumer processes.
type Event interface {
	Kind() Kind
}

// MessageEvent is a new or edited message.
type MessageEvent struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
	// FromUser is nil when the platform gives no sender; the chat stands in.
	FromUser  *int64 `json:"from_user,omitempty"`
	FromIsBot bool   `json:"from_is_bot,omitempty"`
	// ForwardFromID identifies the original author of a forward. When the
	// author is hidden only ForwardFromName is known.
	ForwardFromID   *int64            `json:"forward_from_id,omitempty"`
	ForwardFromName string            `json:"forward_from_name,omitempty"`
	Text            string            `json:"text,omitempty"`
	Caption         string            `json:"caption,omitempty"`
	Attachment      detect.Attachment `json:"attachment,omitempty"`
	MediaRef        string            `json:"media_ref,omitempty"`
	Date            time.Time         `json:"date"`
	// Edited marks an edit. A zero EditDate on an edit is a forced re-check
	// and leaves no edit history.
	Edited   bool      `json:"edited,omitempty"`
	EditDate time.Time `json:"edit_date,omitempty"`
	// Related are the profiles referenced by the message.
	Related []ProfileRef `json:"related,omitempty"`
}

func (MessageEvent) Kind() Kind { return KindMessage }

// DeletedEvent reports one or more deleted messages in a chat.
type DeletedEvent struct {
	ChatID     int64     `json:"chat_id"`
	MessageIDs []int64   `json:"message_ids"`
	Date       time.Time `json:"date"`
}

func (DeletedEvent) Kind() Kind { return KindDeleted }

// StatusEvent is a user presence change.
type StatusEvent struct {
	UserID int64     `json:"user_id"`
	Online bool      `json:"online"`
	Date   time.Time `json:"date"`
}

func (StatusEvent) Kind() Kind { return KindStatus }

// NewMembersEvent reports users joining a chat.
type NewMembersEvent struct {
	ChatID  int64     `json:"chat_id"`
	UserIDs []int64   `json:"user_ids"`
	Date    time.Time `json:"date"`
}

func (NewMembersEvent) Kind() Kind { return KindNewMembers }

// ProfileRef is a user or chat whose profile should be indexed.
type ProfileRef struct {
	ID int64 `json:"id"`
	// ChatType is set for chats; "private" chats are treated like users.
	ChatType  string `json:"chat_type,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Title     string `json:"title,omitempty"`
	Username  string `json:"username,omitempty"`
	// PhotoRef is nil when the source did not say whether a photo exists.
	PhotoRef *string `json:"photo_ref,omitempty"`
	IsBot    bool    `json:"is_bot,omitempty"`
	// Refresh asks for a live fetch when the stored profile is stale.
	Refresh bool `json:"refresh,omitempty"`
}

func (ProfileRef) Kind() Kind { return KindProfile }

func (p ProfileRef) isChat() bool {
	return p.ChatType != "" && p.ChatType != "private"
}

// Names returns the first name, last name and full name to store. Group
// chats and channels use their title.
func (p ProfileRef) Names() (first, last, full string) {
	if p.isChat() {
		return p.Title, "", p.Title
	}
	return p.FirstName, p.LastName, detect.FullName(p.FirstName, p.LastName)
}

// IsGroup reports whether the ID belongs to a group chat or channel.
func (p ProfileRef) IsGroup() bool {
	return p.ID < 0
}

// envelope is one line of a recovery log.
type envelope struct {
	Kind     Kind            `json:"kind"`
	LoggedAt time.Time       `json:"logged_at"`
	Error    string          `json:"error,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// decodePayload restores the typed event stored in an envelope.
func decodePayload(kind Kind, raw json.RawMessage) (any, error) {
	var (
		v   any
		err error
	)
	switch kind {
	case KindMessage:
		var ev MessageEvent
		err = json.Unmarshal(raw, &ev)
		v = ev
	case KindDeleted:
		var ev DeletedEvent
		err = json.Unmarshal(raw, &ev)
		v = ev
	case KindStatus:
		var ev StatusEvent
		err = json.Unmarshal(raw, &ev)
		v = ev
	case KindNewMembers:
		var ev NewMembersEvent
		err = json.Unmarshal(raw, &ev)
		v = ev
	case KindProfile:
		var ref ProfileRef
		err = json.Unmarshal(raw, &ref)
		v = ref
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return v, nil
}
