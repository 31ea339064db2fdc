package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

var (
	// ErrNotFound is returned when a keyed lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert hits an existing key. Callers
	// treat it as a benign no-op.
	ErrDuplicate = errors.New("record already exists")
)

// IndexStats summarizes the size of the index.
type IndexStats struct {
	Messages     int64 `db:"messages" json:"messages"`
	Documents    int64 `db:"documents" json:"documents"`
	Users        int64 `db:"users" json:"users"`
	Edits        int64 `db:"edits" json:"edits"`
	CacheEntries int64 `db:"cache_entries" json:"cache_entries"`
}

// Store defines the interface for database operations.
// Every row mutation is a single statement. Index and profile writes are
// idempotent; online_record, group_history and user_history are append-only.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// InsertMessage inserts a message, returning ErrDuplicate if the key exists.
	InsertMessage(ctx context.Context, rec *MessageRecord) error
	// UpsertDocument inserts or replaces a document row.
	UpsertDocument(ctx context.Context, rec *DocumentRecord) error
	// GetMessageBody returns the stored body, or ErrNotFound.
	GetMessageBody(ctx context.Context, chatID, messageID int64) (string, error)
	// GetDocumentBody returns the stored document body, or ErrNotFound.
	GetDocumentBody(ctx context.Context, chatID, messageID int64) (string, error)
	// UpdateMessageBody rewrites a plain message body in place.
	UpdateMessageBody(ctx context.Context, chatID, messageID int64, body string) error
	// UpdateDocumentBody rewrites a document body and its message row in place.
	UpdateDocumentBody(ctx context.Context, chatID, messageID int64, body, mediaRef string) error
	// InsertEditRecord appends an edit audit row.
	InsertEditRecord(ctx context.Context, rec *EditRecord) error
	// InsertDeletedMessages records deletions, ignoring ones already recorded.
	InsertDeletedMessages(ctx context.Context, recs []DeletedMessage) error
	// InsertOnlineRecord appends a presence change.
	InsertOnlineRecord(ctx context.Context, rec *OnlineRecord) error
	// InsertGroupHistory appends one row per joined member.
	InsertGroupHistory(ctx context.Context, recs []GroupHistory) error

	// GetUserProfile retrieves a profile by ID. Returns nil, nil if not found.
	GetUserProfile(ctx context.Context, userID int64) (*UserProfile, error)
	// InsertUserProfile inserts a profile, returning ErrDuplicate if it exists.
	InsertUserProfile(ctx context.Context, p *UserProfile) error
	// UpdateUserProfile rewrites a profile only if its content hash differs,
	// reporting whether a row changed.
	UpdateUserProfile(ctx context.Context, p *UserProfile) (bool, error)
	// TouchUserRefresh records a live refresh without changing content.
	TouchUserRefresh(ctx context.Context, userID int64, at time.Time) error
	// AppendUserHistory appends a profile snapshot.
	AppendUserHistory(ctx context.Context, h *UserHistory) error
	// FindUserIDByFullName resolves a display name to a known user ID.
	FindUserIDByFullName(ctx context.Context, fullName string) (int64, error)
	// LatestUsername returns the most recent stored username, or ErrNotFound.
	LatestUsername(ctx context.Context, userID int64) (string, error)
	// AppendUsername appends a username history row.
	AppendUsername(ctx context.Context, userID int64, username string, at time.Time) error

	// InsertMediaMapping records a downloaded media reference.
	InsertMediaMapping(ctx context.Context, mediaRef string, eventTime time.Time) error
	// HasMediaMapping reports whether a media reference was already stored.
	HasMediaMapping(ctx context.Context, mediaRef string) (bool, error)

	// GetQueryHistory returns the history for a fingerprint. Returns nil, nil if not found.
	GetQueryHistory(ctx context.Context, fingerprint string) (*QueryHistory, error)
	// GetQueryHistoryByID returns a history record by ID, or ErrNotFound.
	GetQueryHistoryByID(ctx context.Context, id int64) (*QueryHistory, error)
	// InsertQueryHistory inserts a history record and fills in its ID. An
	// existing fingerprint keeps its original record.
	InsertQueryHistory(ctx context.Context, h *QueryHistory) error
	// UpdateQueryMaxCount stores the latest total for a fingerprint.
	UpdateQueryMaxCount(ctx context.Context, fingerprint string, maxCount int64) error
	// GetCacheEntry returns the cached window. Returns nil, nil if not found.
	GetCacheEntry(ctx context.Context, fingerprint string) (*SearchCacheEntry, error)
	// UpsertCacheEntry inserts or replaces a cached window.
	UpsertCacheEntry(ctx context.Context, e *SearchCacheEntry) error
	// ClearCacheEntries drops every cached window.
	ClearCacheEntries(ctx context.Context) error
	// PruneCacheEntries drops windows not written since before.
	PruneCacheEntries(ctx context.Context, before time.Time) (int64, error)
	// CountMessages counts index rows matching q.
	CountMessages(ctx context.Context, q SearchQuery) (int64, error)
	// FetchWindow returns up to limit rows matching q, newest first.
	FetchWindow(ctx context.Context, q SearchQuery, offset, limit int) ([]IndexRow, error)

	// GetSettings returns the owner's settings, creating defaults if absent.
	GetSettings(ctx context.Context, ownerID int64) (*Settings, error)
	// SaveSettings replaces the owner's settings.
	SaveSettings(ctx context.Context, s *Settings) error

	// Stats counts rows in the main tables.
	Stats(ctx context.Context) (*IndexStats, error)
	// RunSQLMaintenance performs dialect specific maintenance such as VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// exec runs a positional statement and returns rows affected.
func (s *sqlxStore) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		// not every driver reports it; treat as one row
		return 1, nil
	}
	return affected, nil
}

// InsertMessage inserts a message into message_index.
func (s *sqlxStore) InsertMessage(ctx context.Context, rec *MessageRecord) error {
	if rec == nil {
		return errors.New("cannot insert nil message")
	}
	rec.EventTime = rec.EventTime.UTC()

	query := `
        INSERT INTO message_index (chat_id, message_id, from_user, forward_from, body, event_time)
        VALUES (:chat_id, :message_id, :from_user, :forward_from, :body, :event_time)
        ON CONFLICT (chat_id, message_id) DO NOTHING`

	res, err := s.db.NamedExecContext(ctx, query, rec)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error inserting message", "chat_id", rec.ChatID, "message_id", rec.MessageID, "error", err)
		return fmt.Errorf("failed to insert message (chat %d, message %d): %w", rec.ChatID, rec.MessageID, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrDuplicate
	}
	return nil
}

// UpsertDocument inserts or replaces a row in document_index.
func (s *sqlxStore) UpsertDocument(ctx context.Context, rec *DocumentRecord) error {
	if rec == nil {
		return errors.New("cannot upsert nil document")
	}
	rec.EventTime = rec.EventTime.UTC()

	query := `
        INSERT INTO document_index (chat_id, message_id, from_user, forward_from, body, event_time, doc_type, media_ref)
        VALUES (:chat_id, :message_id, :from_user, :forward_from, :body, :event_time, :doc_type, :media_ref)
        ON CONFLICT (chat_id, message_id) DO UPDATE SET
            body = excluded.body,
            doc_type = excluded.doc_type,
            media_ref = excluded.media_ref`

	if _, err := s.db.NamedExecContext(ctx, query, rec); err != nil {
		s.logger.ErrorContext(ctx, "Error upserting document", "chat_id", rec.ChatID, "message_id", rec.MessageID, "error", err)
		return fmt.Errorf("failed to upsert document (chat %d, message %d): %w", rec.ChatID, rec.MessageID, err)
	}
	return nil
}

func (s *sqlxStore) getBody(ctx context.Context, table string, chatID, messageID int64) (string, error) {
	var body string
	query := s.db.Rebind("SELECT body FROM " + table + " WHERE chat_id = ? AND message_id = ?")
	err := s.db.GetContext(ctx, &body, query, chatID, messageID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", ErrNotFound
	case isContextErr(err):
		return "", err
	case err != nil:
		return "", fmt.Errorf("failed to read %s body (chat %d, message %d): %w", table, chatID, messageID, err)
	}
	return body, nil
}

// GetMessageBody returns the body stored in message_index.
func (s *sqlxStore) GetMessageBody(ctx context.Context, chatID, messageID int64) (string, error) {
	return s.getBody(ctx, "message_index", chatID, messageID)
}

// GetDocumentBody returns the body stored in document_index.
func (s *sqlxStore) GetDocumentBody(ctx context.Context, chatID, messageID int64) (string, error) {
	return s.getBody(ctx, "document_index", chatID, messageID)
}

// UpdateMessageBody rewrites a message body.
func (s *sqlxStore) UpdateMessageBody(ctx context.Context, chatID, messageID int64, body string) error {
	if _, err := s.exec(ctx, `UPDATE message_index SET body = ? WHERE chat_id = ? AND message_id = ?`, body, chatID, messageID); err != nil {
		return fmt.Errorf("failed to update message body (chat %d, message %d): %w", chatID, messageID, err)
	}
	return nil
}

// UpdateDocumentBody rewrites a document body and the matching message row
// in one transaction.
func (s *sqlxStore) UpdateDocumentBody(ctx context.Context, chatID, messageID int64, body, mediaRef string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	ref := sql.NullString{String: mediaRef, Valid: mediaRef != ""}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`
        UPDATE document_index SET body = ?, media_ref = COALESCE(?, media_ref)
        WHERE chat_id = ? AND message_id = ?`), body, ref, chatID, messageID); err != nil {
		return fmt.Errorf("failed to update document body (chat %d, message %d): %w", chatID, messageID, err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE message_index SET body = ? WHERE chat_id = ? AND message_id = ?`),
		body, chatID, messageID); err != nil {
		return fmt.Errorf("failed to update message body (chat %d, message %d): %w", chatID, messageID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *sqlxStore) rollback(ctx context.Context, tx *sqlx.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.logger.WarnContext(ctx, "Error rolling back transaction", "error", err)
	}
}

// InsertEditRecord appends to edit_history.
func (s *sqlxStore) InsertEditRecord(ctx context.Context, rec *EditRecord) error {
	_, err := s.exec(ctx, `
        INSERT INTO edit_history (chat_id, from_user, message_id, previous_body, edit_time)
        VALUES (?, ?, ?, ?, ?)`,
		rec.ChatID, rec.FromUser, rec.MessageID, rec.PreviousBody, rec.EditTime.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert edit record (chat %d, message %d): %w", rec.ChatID, rec.MessageID, err)
	}
	return nil
}

// InsertDeletedMessages records a batch of deletions in one transaction.
func (s *sqlxStore) InsertDeletedMessages(ctx context.Context, recs []DeletedMessage) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	query := tx.Rebind(`
        INSERT INTO deleted_message (chat_id, message_id, deleted_at) VALUES (?, ?, ?)
        ON CONFLICT (chat_id, message_id) DO NOTHING`)
	for _, rec := range recs {
		if _, err := tx.ExecContext(ctx, query, rec.ChatID, rec.MessageID, rec.DeletedAt.UTC()); err != nil {
			return fmt.Errorf("failed to record deletion (chat %d, message %d): %w", rec.ChatID, rec.MessageID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// InsertOnlineRecord appends to online_record.
func (s *sqlxStore) InsertOnlineRecord(ctx context.Context, rec *OnlineRecord) error {
	if _, err := s.exec(ctx, `INSERT INTO online_record (user_id, online, recorded_at) VALUES (?, ?, ?)`,
		rec.UserID, rec.Online, rec.RecordedAt.UTC()); err != nil {
		return fmt.Errorf("failed to insert online record for user %d: %w", rec.UserID, err)
	}
	return nil
}

// InsertGroupHistory appends one row per member in one transaction.
func (s *sqlxStore) InsertGroupHistory(ctx context.Context, recs []GroupHistory) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	query := tx.Rebind(`INSERT INTO group_history (chat_id, user_id, joined_at) VALUES (?, ?, ?)`)
	for _, rec := range recs {
		if _, err := tx.ExecContext(ctx, query, rec.ChatID, rec.UserID, rec.JoinedAt.UTC()); err != nil {
			return fmt.Errorf("failed to insert group history (chat %d, user %d): %w", rec.ChatID, rec.UserID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const userProfileColumns = `user_id, first_name, last_name, full_name, photo_ref, content_hash,
               is_bot, is_group, peer_id, last_refreshed, updated_at`

// GetUserProfile retrieves a profile by ID. Returns nil, nil if not found.
func (s *sqlxStore) GetUserProfile(ctx context.Context, userID int64) (*UserProfile, error) {
	var profile UserProfile
	query := s.db.Rebind(`SELECT ` + userProfileColumns + ` FROM user_index WHERE user_id = ?`)
	err := s.db.GetContext(ctx, &profile, query, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No user profile found", "user_id", userID)
		return nil, nil
	case isContextErr(err):
		return nil, err
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting user profile", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get user profile for user ID %d: %w", userID, err)
	}
	return &profile, nil
}

// InsertUserProfile inserts a new profile row.
func (s *sqlxStore) InsertUserProfile(ctx context.Context, p *UserProfile) error {
	p.LastRefreshed = p.LastRefreshed.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	query := `
        INSERT INTO user_index (` + userProfileColumns + `)
        VALUES (:user_id, :first_name, :last_name, :full_name, :photo_ref, :content_hash,
                :is_bot, :is_group, :peer_id, :last_refreshed, :updated_at)
        ON CONFLICT (user_id) DO NOTHING`

	res, err := s.db.NamedExecContext(ctx, query, p)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error inserting user profile", "user_id", p.UserID, "error", err)
		return fmt.Errorf("failed to insert user profile %d: %w", p.UserID, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrDuplicate
	}
	return nil
}

// UpdateUserProfile rewrites a profile when its content hash changed.
func (s *sqlxStore) UpdateUserProfile(ctx context.Context, p *UserProfile) (bool, error) {
	p.LastRefreshed = p.LastRefreshed.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	query := `
        UPDATE user_index SET
            first_name = :first_name,
            last_name = :last_name,
            full_name = :full_name,
            photo_ref = :photo_ref,
            content_hash = :content_hash,
            peer_id = COALESCE(:peer_id, peer_id),
            last_refreshed = :last_refreshed,
            updated_at = :updated_at
        WHERE user_id = :user_id AND content_hash <> :content_hash`

	res, err := s.db.NamedExecContext(ctx, query, p)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating user profile", "user_id", p.UserID, "error", err)
		return false, fmt.Errorf("failed to update user profile %d: %w", p.UserID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return true, nil
	}
	return affected > 0, nil
}

// TouchUserRefresh updates last_refreshed only.
func (s *sqlxStore) TouchUserRefresh(ctx context.Context, userID int64, at time.Time) error {
	if _, err := s.exec(ctx, `UPDATE user_index SET last_refreshed = ? WHERE user_id = ?`, at.UTC(), userID); err != nil {
		return fmt.Errorf("failed to touch refresh time for user %d: %w", userID, err)
	}
	return nil
}

// AppendUserHistory appends to user_history.
func (s *sqlxStore) AppendUserHistory(ctx context.Context, h *UserHistory) error {
	h.RecordedAt = h.RecordedAt.UTC()
	query := `
        INSERT INTO user_history (user_id, first_name, last_name, full_name, photo_ref, recorded_at)
        VALUES (:user_id, :first_name, :last_name, :full_name, :photo_ref, :recorded_at)`
	if _, err := s.db.NamedExecContext(ctx, query, h); err != nil {
		return fmt.Errorf("failed to append user history for %d: %w", h.UserID, err)
	}
	return nil
}

// FindUserIDByFullName returns the most recently updated user with fullName.
func (s *sqlxStore) FindUserIDByFullName(ctx context.Context, fullName string) (int64, error) {
	var id int64
	query := s.db.Rebind(`SELECT user_id FROM user_index WHERE full_name = ? ORDER BY updated_at DESC LIMIT 1`)
	err := s.db.GetContext(ctx, &id, query, fullName)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, ErrNotFound
	case err != nil:
		return 0, fmt.Errorf("failed to look up user by name: %w", err)
	}
	return id, nil
}

// LatestUsername returns the newest username_history entry for a user.
func (s *sqlxStore) LatestUsername(ctx context.Context, userID int64) (string, error) {
	var username string
	query := s.db.Rebind(`SELECT username FROM username_history WHERE user_id = ? ORDER BY id DESC LIMIT 1`)
	err := s.db.GetContext(ctx, &username, query, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", ErrNotFound
	case err != nil:
		return "", fmt.Errorf("failed to read latest username for %d: %w", userID, err)
	}
	return username, nil
}

// AppendUsername appends to username_history.
func (s *sqlxStore) AppendUsername(ctx context.Context, userID int64, username string, at time.Time) error {
	if _, err := s.exec(ctx, `INSERT INTO username_history (user_id, username, recorded_at) VALUES (?, ?, ?)`,
		userID, username, at.UTC()); err != nil {
		return fmt.Errorf("failed to append username for %d: %w", userID, err)
	}
	return nil
}

// InsertMediaMapping records a stored media reference.
func (s *sqlxStore) InsertMediaMapping(ctx context.Context, mediaRef string, eventTime time.Time) error {
	if _, err := s.exec(ctx, `
        INSERT INTO media_mapping (media_ref, event_time) VALUES (?, ?)
        ON CONFLICT (media_ref) DO NOTHING`, mediaRef, eventTime.UTC()); err != nil {
		return fmt.Errorf("failed to insert media mapping: %w", err)
	}
	return nil
}

// HasMediaMapping reports whether mediaRef was stored.
func (s *sqlxStore) HasMediaMapping(ctx context.Context, mediaRef string) (bool, error) {
	var n int
	query := s.db.Rebind(`SELECT COUNT(*) FROM media_mapping WHERE media_ref = ?`)
	if err := s.db.GetContext(ctx, &n, query, mediaRef); err != nil {
		return false, fmt.Errorf("failed to check media mapping: %w", err)
	}
	return n > 0, nil
}

const queryHistoryColumns = `id, fingerprint, terms, type_filter, created_at, max_count`

// GetQueryHistory returns the history for a fingerprint. Returns nil, nil if not found.
func (s *sqlxStore) GetQueryHistory(ctx context.Context, fingerprint string) (*QueryHistory, error) {
	var h QueryHistory
	query := s.db.Rebind(`SELECT ` + queryHistoryColumns + ` FROM query_history WHERE fingerprint = ?`)
	err := s.db.GetContext(ctx, &h, query, fingerprint)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	return &h, nil
}

// GetQueryHistoryByID returns a history record by ID.
func (s *sqlxStore) GetQueryHistoryByID(ctx context.Context, id int64) (*QueryHistory, error) {
	var h QueryHistory
	query := s.db.Rebind(`SELECT ` + queryHistoryColumns + ` FROM query_history WHERE id = ?`)
	err := s.db.GetContext(ctx, &h, query, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to get query history %d: %w", id, err)
	}
	return &h, nil
}

// InsertQueryHistory inserts a history record unless the fingerprint exists,
// then loads the stored ID.
func (s *sqlxStore) InsertQueryHistory(ctx context.Context, h *QueryHistory) error {
	h.CreatedAt = h.CreatedAt.UTC()
	query := `
        INSERT INTO query_history (fingerprint, terms, type_filter, created_at, max_count)
        VALUES (:fingerprint, :terms, :type_filter, :created_at, :max_count)
        ON CONFLICT (fingerprint) DO NOTHING`
	if _, err := s.db.NamedExecContext(ctx, query, h); err != nil {
		return fmt.Errorf("failed to insert query history: %w", err)
	}
	stored, err := s.GetQueryHistory(ctx, h.Fingerprint)
	if err != nil {
		return err
	}
	if stored == nil {
		return fmt.Errorf("query history %s vanished after insert", h.Fingerprint)
	}
	*h = *stored
	return nil
}

// UpdateQueryMaxCount stores the latest total for a fingerprint.
func (s *sqlxStore) UpdateQueryMaxCount(ctx context.Context, fingerprint string, maxCount int64) error {
	if _, err := s.exec(ctx, `UPDATE query_history SET max_count = ? WHERE fingerprint = ?`, maxCount, fingerprint); err != nil {
		return fmt.Errorf("failed to update max count: %w", err)
	}
	return nil
}

// GetCacheEntry returns the cached window. Returns nil, nil if not found.
func (s *sqlxStore) GetCacheEntry(ctx context.Context, fingerprint string) (*SearchCacheEntry, error) {
	var e SearchCacheEntry
	query := s.db.Rebind(`
        SELECT fingerprint, cached_rows, window_start_offset, settings_fingerprint, max_count, last_query_time
        FROM search_query_cache WHERE fingerprint = ?`)
	err := s.db.GetContext(ctx, &e, query, fingerprint)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return &e, nil
}

// UpsertCacheEntry inserts or replaces a cached window.
func (s *sqlxStore) UpsertCacheEntry(ctx context.Context, e *SearchCacheEntry) error {
	e.LastQueryTime = e.LastQueryTime.UTC()
	query := `
        INSERT INTO search_query_cache
            (fingerprint, cached_rows, window_start_offset, settings_fingerprint, max_count, last_query_time)
        VALUES (:fingerprint, :cached_rows, :window_start_offset, :settings_fingerprint, :max_count, :last_query_time)
        ON CONFLICT (fingerprint) DO UPDATE SET
            cached_rows = excluded.cached_rows,
            window_start_offset = excluded.window_start_offset,
            settings_fingerprint = excluded.settings_fingerprint,
            max_count = excluded.max_count,
            last_query_time = excluded.last_query_time`
	if _, err := s.db.NamedExecContext(ctx, query, e); err != nil {
		s.logger.ErrorContext(ctx, "Error writing cache entry", "fingerprint", e.Fingerprint, "error", err)
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}
	return nil
}

// ClearCacheEntries deletes every cached window.
func (s *sqlxStore) ClearCacheEntries(ctx context.Context) error {
	if _, err := s.exec(ctx, `DELETE FROM search_query_cache`); err != nil {
		return fmt.Errorf("failed to clear search cache: %w", err)
	}
	return nil
}

// PruneCacheEntries deletes windows last written before the cutoff.
func (s *sqlxStore) PruneCacheEntries(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.exec(ctx, `DELETE FROM search_query_cache WHERE last_query_time < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune search cache: %w", err)
	}
	return n, nil
}

// CountMessages counts index rows matching q.
func (s *sqlxStore) CountMessages(ctx context.Context, q SearchQuery) (int64, error) {
	query, args := buildCountQuery(q)
	var n int64
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(query), args...); err != nil {
		if isContextErr(err) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// FetchWindow returns up to limit rows matching q starting at offset.
func (s *sqlxStore) FetchWindow(ctx context.Context, q SearchQuery, offset, limit int) ([]IndexRow, error) {
	if offset < 0 {
		offset = 0
	}
	query, args := buildWindowQuery(q, offset, limit)
	var rows []IndexRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		if isContextErr(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to fetch result window at offset %d: %w", offset, err)
	}
	s.logger.DebugContext(ctx, "Fetched result window", "offset", offset, "limit", limit, "rows", len(rows))
	return rows, nil
}

// GetSettings returns the owner's settings, creating the default row first.
func (s *sqlxStore) GetSettings(ctx context.Context, ownerID int64) (*Settings, error) {
	if _, err := s.exec(ctx, `INSERT INTO search_settings (owner_id) VALUES (?) ON CONFLICT (owner_id) DO NOTHING`, ownerID); err != nil {
		return nil, fmt.Errorf("failed to initialize settings for %d: %w", ownerID, err)
	}
	var st Settings
	query := s.db.Rebind(`
        SELECT owner_id, force_query, only_user, only_group, include_forward, include_bot,
               specify_enabled, specify_is_chat, specify_id
        FROM search_settings WHERE owner_id = ?`)
	if err := s.db.GetContext(ctx, &st, query, ownerID); err != nil {
		return nil, fmt.Errorf("failed to read settings for %d: %w", ownerID, err)
	}
	return &st, nil
}

// SaveSettings replaces the owner's settings row.
func (s *sqlxStore) SaveSettings(ctx context.Context, st *Settings) error {
	query := `
        INSERT INTO search_settings (owner_id, force_query, only_user, only_group, include_forward,
                                     include_bot, specify_enabled, specify_is_chat, specify_id)
        VALUES (:owner_id, :force_query, :only_user, :only_group, :include_forward,
                :include_bot, :specify_enabled, :specify_is_chat, :specify_id)
        ON CONFLICT (owner_id) DO UPDATE SET
            force_query = excluded.force_query,
            only_user = excluded.only_user,
            only_group = excluded.only_group,
            include_forward = excluded.include_forward,
            include_bot = excluded.include_bot,
            specify_enabled = excluded.specify_enabled,
            specify_is_chat = excluded.specify_is_chat,
            specify_id = excluded.specify_id`
	if _, err := s.db.NamedExecContext(ctx, query, st); err != nil {
		return fmt.Errorf("failed to save settings for %d: %w", st.OwnerID, err)
	}
	return nil
}

// Stats counts rows in the main tables.
func (s *sqlxStore) Stats(ctx context.Context) (*IndexStats, error) {
	var st IndexStats
	query := `
        SELECT
            (SELECT COUNT(*) FROM message_index) AS messages,
            (SELECT COUNT(*) FROM document_index) AS documents,
            (SELECT COUNT(*) FROM user_index) AS users,
            (SELECT COUNT(*) FROM edit_history) AS edits,
            (SELECT COUNT(*) FROM search_query_cache) AS cache_entries`
	if err := s.db.GetContext(ctx, &st, query); err != nil {
		return nil, fmt.Errorf("failed to collect index stats: %w", err)
	}
	return &st, nil
}

// RunSQLMaintenance optimizes and compacts the database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	statements := []string{"PRAGMA optimize;", "VACUUM;"}
	if s.db.DriverName() == "pgx" {
		statements = []string{"VACUUM ANALYZE;"}
	}

	s.logger.InfoContext(ctx, "Starting database maintenance")
	for _, stmt := range statements {
		// VACUUM must run outside a transaction
		_, err := s.db.ExecContext(ctx, stmt)
		switch {
		case isContextErr(err):
			s.logger.WarnContext(ctx, "Database maintenance timed out or was cancelled", "statement", stmt, "error", err)
			return fmt.Errorf("database maintenance timed out: %w", err)
		case err != nil:
			s.logger.ErrorContext(ctx, "Database maintenance failed", "statement", stmt, "error", err)
			return fmt.Errorf("failed to execute %q: %w", stmt, err)
		}
	}
	s.logger.InfoContext(ctx, "Database maintenance completed successfully")
	return nil
}
