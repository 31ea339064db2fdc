package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/edgard/chatindex/internal/database"
	"github.com/edgard/chatindex/internal/detect"
	"github.com/edgard/chatindex/internal/media"
)

// handleEvent is the message consumer's per-event step.
func (p *Pipeline) handleEvent(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case MessageEvent:
		return p.handleMessage(ctx, e)
	case DeletedEvent:
		return p.handleDeleted(ctx, e)
	case StatusEvent:
		return p.handleStatus(ctx, e)
	case NewMembersEvent:
		return p.handleNewMembers(ctx, e)
	default:
		return fmt.Errorf("%w: unsupported event %T", ErrMalformedEvent, ev)
	}
}

func (p *Pipeline) filtered(ev MessageEvent) bool {
	if _, ok := p.filterChats[ev.ChatID]; ok {
		return true
	}
	if ev.FromUser != nil {
		if _, ok := p.filterUsers[*ev.FromUser]; ok {
			return true
		}
	}
	if ev.ForwardFromID != nil {
		if _, ok := p.filterUsers[*ev.ForwardFromID]; ok {
			return true
		}
	}
	return false
}

func (p *Pipeline) handleMessage(ctx context.Context, ev MessageEvent) error {
	if ev.ChatID == 0 || ev.MessageID == 0 {
		return fmt.Errorf("%w: message without chat or message id", ErrMalformedEvent)
	}
	if p.filtered(ev) {
		return nil
	}

	body := detect.MessageBody(ev.Text, ev.Caption)
	if detect.IsCommand(body) {
		return nil
	}
	docType, ok := detect.ResolveDocType(ev.Attachment, ev.Text != "", body)
	if !ok {
		return nil
	}

	if ev.Edited {
		handled, err := p.applyEdit(ctx, ev, docType, body)
		if err != nil || handled {
			return err
		}
	}

	fromUser := ev.ChatID
	if ev.FromUser != nil {
		fromUser = *ev.FromUser
	}
	forward, err := p.resolveForward(ctx, ev)
	if err != nil {
		return err
	}

	rec := database.MessageRecord{
		ChatID:      ev.ChatID,
		MessageID:   ev.MessageID,
		FromUser:    fromUser,
		ForwardFrom: forward,
		Body:        body,
		EventTime:   ev.Date,
	}
	inserted := true
	if err := p.store.InsertMessage(ctx, &rec); err != nil {
		if !errors.Is(err, database.ErrDuplicate) {
			return fatal(err)
		}
		inserted = false
		p.logger.DebugContext(ctx, "Message already indexed", "chat_id", ev.ChatID, "message_id", ev.MessageID)
	}

	if docType != detect.DocText {
		doc := database.DocumentRecord{
			MessageRecord: rec,
			DocType:       string(docType),
			MediaRef:      sql.NullString{String: ev.MediaRef, Valid: ev.MediaRef != ""},
		}
		if err := p.store.UpsertDocument(ctx, &doc); err != nil {
			return fatal(err)
		}
	}

	if inserted && docType == detect.DocPhoto && !ev.FromIsBot && ev.MediaRef != "" {
		p.enqueueMedia(ctx, ev.MediaRef, ev.Date)
	}
	return nil
}

// applyEdit updates an already indexed message. It reports false when no
// stored row exists and the edit must be inserted as a new message.
func (p *Pipeline) applyEdit(ctx context.Context, ev MessageEvent, docType detect.DocType, body string) (bool, error) {
	isDoc := docType != detect.DocText
	var (
		stored string
		err    error
	)
	if isDoc {
		stored, err = p.store.GetDocumentBody(ctx, ev.ChatID, ev.MessageID)
	} else {
		stored, err = p.store.GetMessageBody(ctx, ev.ChatID, ev.MessageID)
	}
	switch {
	case errors.Is(err, database.ErrNotFound):
		return false, nil
	case err != nil:
		return false, fatal(err)
	}

	if detect.CompareBody(&stored, body) == detect.Unchanged {
		return true, nil
	}

	if isDoc {
		err = p.store.UpdateDocumentBody(ctx, ev.ChatID, ev.MessageID, body, ev.MediaRef)
	} else {
		err = p.store.UpdateMessageBody(ctx, ev.ChatID, ev.MessageID, body)
	}
	if err != nil {
		return false, fatal(err)
	}

	if ev.EditDate.IsZero() {
		return true, nil
	}
	fromUser := ev.ChatID
	if ev.FromUser != nil {
		fromUser = *ev.FromUser
	}
	if err := p.store.InsertEditRecord(ctx, &database.EditRecord{
		ChatID:       ev.ChatID,
		FromUser:     fromUser,
		MessageID:    ev.MessageID,
		PreviousBody: stored,
		EditTime:     ev.EditDate,
	}); err != nil {
		return false, fatal(err)
	}
	return true, nil
}

func (p *Pipeline) resolveForward(ctx context.Context, ev MessageEvent) (sql.NullInt64, error) {
	if ev.ForwardFromID != nil {
		return sql.NullInt64{Int64: *ev.ForwardFromID, Valid: true}, nil
	}
	if ev.ForwardFromName == "" {
		return sql.NullInt64{}, nil
	}
	id, err := p.store.FindUserIDByFullName(ctx, ev.ForwardFromName)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return sql.NullInt64{Int64: AnonymousForwardID, Valid: true}, nil
	case err != nil:
		return sql.NullInt64{}, fatal(err)
	}
	return sql.NullInt64{Int64: id, Valid: true}, nil
}

// enqueueMedia queues a download. Media is best-effort and never fails the
// event.
func (p *Pipeline) enqueueMedia(ctx context.Context, ref string, at time.Time) {
	if p.media == nil || ref == "" {
		return
	}
	if err := p.media.Enqueue(ctx, media.NewJob(ref, at)); err != nil {
		p.logger.WarnContext(ctx, "Failed to queue media download", "media_ref", ref, "error", err)
	}
}

func (p *Pipeline) handleDeleted(ctx context.Context, ev DeletedEvent) error {
	if len(ev.MessageIDs) == 0 {
		return nil
	}
	at := ev.Date
	if at.IsZero() {
		at = p.clock.Now()
	}
	recs := make([]database.DeletedMessage, 0, len(ev.MessageIDs))
	for _, id := range ev.MessageIDs {
		recs = append(recs, database.DeletedMessage{ChatID: ev.ChatID, MessageID: id, DeletedAt: at})
	}
	return fatal(p.store.InsertDeletedMessages(ctx, recs))
}

func (p *Pipeline) handleStatus(ctx context.Context, ev StatusEvent) error {
	if ev.UserID == 0 {
		return fmt.Errorf("%w: status without user id", ErrMalformedEvent)
	}
	at := ev.Date
	if at.IsZero() {
		at = p.clock.Now()
	}
	return fatal(p.store.InsertOnlineRecord(ctx, &database.OnlineRecord{UserID: ev.UserID, Online: ev.Online, RecordedAt: at}))
}

func (p *Pipeline) handleNewMembers(ctx context.Context, ev NewMembersEvent) error {
	at := ev.Date
	if at.IsZero() {
		at = p.clock.Now()
	}
	recs := make([]database.GroupHistory, 0, len(ev.UserIDs))
	for _, id := range ev.UserIDs {
		recs = append(recs, database.GroupHistory{ChatID: ev.ChatID, UserID: id, JoinedAt: at})
	}
	return fatal(p.store.InsertGroupHistory(ctx, recs))
}
