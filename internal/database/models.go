package database

import (
	"database/sql"
	"time"
)

// MessageRecord is one row of message_index, keyed by (chat_id, message_id).
type MessageRecord struct {
	ChatID      int64         `db:"chat_id"`
	MessageID   int64         `db:"message_id"`
	FromUser    int64         `db:"from_user"`
	ForwardFrom sql.NullInt64 `db:"forward_from"`
	Body        string        `db:"body"`
	EventTime   time.Time     `db:"event_time"`
}

// DocumentRecord is a message carrying media, stored in document_index.
type DocumentRecord struct {
	MessageRecord
	DocType  string         `db:"doc_type"`
	MediaRef sql.NullString `db:"media_ref"`
}

// EditRecord is an append-only row capturing the body a message had before
// an observed edit.
type EditRecord struct {
	ID           int64     `db:"id"`
	ChatID       int64     `db:"chat_id"`
	FromUser     int64     `db:"from_user"`
	MessageID    int64     `db:"message_id"`
	PreviousBody string    `db:"previous_body"`
	EditTime     time.Time `db:"edit_time"`
}

// DeletedMessage marks a message as deleted on the platform.
type DeletedMessage struct {
	ChatID    int64     `db:"chat_id"`
	MessageID int64     `db:"message_id"`
	DeletedAt time.Time `db:"deleted_at"`
}

// OnlineRecord logs a user presence change.
type OnlineRecord struct {
	ID         int64     `db:"id"`
	UserID     int64     `db:"user_id"`
	Online     bool      `db:"online"`
	RecordedAt time.Time `db:"recorded_at"`
}

// GroupHistory logs a user joining a chat.
type GroupHistory struct {
	ID       int64     `db:"id"`
	ChatID   int64     `db:"chat_id"`
	UserID   int64     `db:"user_id"`
	JoinedAt time.Time `db:"joined_at"`
}

// UserProfile is the current known state of a user or chat. It is only
// rewritten when ContentHash changes.
type UserProfile struct {
	UserID        int64          `db:"user_id"`
	FirstName     string         `db:"first_name"`
	LastName      sql.NullString `db:"last_name"`
	FullName      string         `db:"full_name"`
	PhotoRef      sql.NullString `db:"photo_ref"`
	ContentHash   string         `db:"content_hash"`
	IsBot         bool           `db:"is_bot"`
	IsGroup       bool           `db:"is_group"`
	PeerID        sql.NullString `db:"peer_id"`
	LastRefreshed time.Time      `db:"last_refreshed"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

// UserHistory is an append-only snapshot of a profile as it was written.
type UserHistory struct {
	ID         int64          `db:"id"`
	UserID     int64          `db:"user_id"`
	FirstName  string         `db:"first_name"`
	LastName   sql.NullString `db:"last_name"`
	FullName   string         `db:"full_name"`
	PhotoRef   sql.NullString `db:"photo_ref"`
	RecordedAt time.Time      `db:"recorded_at"`
}

// UsernameHistory records a username the first time it differs from the
// latest stored one.
type UsernameHistory struct {
	ID         int64     `db:"id"`
	UserID     int64     `db:"user_id"`
	Username   string    `db:"username"`
	RecordedAt time.Time `db:"recorded_at"`
}

// QueryHistory persists the original search request behind a fingerprint.
type QueryHistory struct {
	ID          int64     `db:"id"`
	Fingerprint string    `db:"fingerprint"`
	Terms       string    `db:"terms"`
	TypeFilter  string    `db:"type_filter"`
	CreatedAt   time.Time `db:"created_at"`
	MaxCount    int64     `db:"max_count"`
}

// SearchCacheEntry is a cached result window for a fingerprint.
type SearchCacheEntry struct {
	Fingerprint         string    `db:"fingerprint"`
	CachedRows          []byte    `db:"cached_rows"`
	WindowStart         int       `db:"window_start_offset"`
	SettingsFingerprint string    `db:"settings_fingerprint"`
	MaxCount            int64     `db:"max_count"`
	LastQueryTime       time.Time `db:"last_query_time"`
}

// Settings are the operator's persisted search filter toggles.
type Settings struct {
	OwnerID        int64 `db:"owner_id"`
	ForceQuery     bool  `db:"force_query"`
	OnlyUser       bool  `db:"only_user"`
	OnlyGroup      bool  `db:"only_group"`
	IncludeForward bool  `db:"include_forward"`
	IncludeBot     bool  `db:"include_bot"`
	SpecifyEnabled bool  `db:"specify_enabled"`
	SpecifyIsChat  bool  `db:"specify_is_chat"`
	SpecifyID      int64 `db:"specify_id"`
}

// IndexRow is one search result: a message joined with its document
// classification.
type IndexRow struct {
	ChatID      int64          `db:"chat_id"`
	MessageID   int64          `db:"message_id"`
	FromUser    int64          `db:"from_user"`
	ForwardFrom sql.NullInt64  `db:"forward_from"`
	Body        string         `db:"body"`
	EventTime   time.Time      `db:"event_time"`
	DocType     string         `db:"doc_type"`
	MediaRef    sql.NullString `db:"media_ref"`
}
