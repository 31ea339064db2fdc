package telegram

import (
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/edgard/chatindex/internal/detect"
	"github.com/edgard/chatindex/internal/ingest"
)

// EventsFromUpdate maps an update onto pipeline events. Updates that carry
// nothing indexable yield no events.
func EventsFromUpdate(update *models.Update) []ingest.Event {
	if update == nil {
		return nil
	}
	switch {
	case update.Message != nil:
		return messageEvents(update.Message, false)
	case update.EditedMessage != nil:
		return messageEvents(update.EditedMessage, true)
	case update.ChannelPost != nil:
		return messageEvents(update.ChannelPost, false)
	case update.EditedChannelPost != nil:
		return messageEvents(update.EditedChannelPost, true)
	case update.BusinessMessage != nil:
		return messageEvents(update.BusinessMessage, false)
	case update.EditedBusinessMessage != nil:
		return messageEvents(update.EditedBusinessMessage, true)
	case update.DeletedBusinessMessages != nil:
		d := update.DeletedBusinessMessages
		ids := make([]int64, 0, len(d.MessageIDs))
		for _, id := range d.MessageIDs {
			ids = append(ids, int64(id))
		}
		return []ingest.Event{ingest.DeletedEvent{ChatID: d.Chat.ID, MessageIDs: ids}}
	}
	return nil
}

func messageEvents(msg *models.Message, edited bool) []ingest.Event {
	var events []ingest.Event

	if len(msg.NewChatMembers) > 0 {
		joined := ingest.NewMembersEvent{ChatID: msg.Chat.ID, Date: unixTime(msg.Date)}
		for _, u := range msg.NewChatMembers {
			joined.UserIDs = append(joined.UserIDs, u.ID)
			events = append(events, userRef(u))
		}
		events = append(events, joined)
	}

	ev := ingest.MessageEvent{
		ChatID:    msg.Chat.ID,
		MessageID: int64(msg.ID),
		Text:      msg.Text,
		Caption:   msg.Caption,
		Date:      unixTime(msg.Date),
		Edited:    edited,
	}
	if edited {
		ev.EditDate = unixTime(msg.EditDate)
	}
	ev.Attachment, ev.MediaRef = attachment(msg)

	related := []ingest.ProfileRef{chatRef(msg.Chat)}
	switch {
	case msg.From != nil:
		id := msg.From.ID
		ev.FromUser = &id
		ev.FromIsBot = msg.From.IsBot
		related = append(related, userRef(*msg.From))
	case msg.SenderChat != nil:
		id := msg.SenderChat.ID
		ev.FromUser = &id
		related = append(related, chatRef(*msg.SenderChat))
	}
	if msg.ViaBot != nil {
		related = append(related, userRef(*msg.ViaBot))
	}
	if ref, ok := applyOrigin(&ev, msg.ForwardOrigin); ok {
		related = append(related, ref)
	}
	ev.Related = related

	return append(events, ev)
}

// applyOrigin fills the forward fields and returns the origin's profile when
// it is known.
func applyOrigin(ev *ingest.MessageEvent, origin *models.MessageOrigin) (ingest.ProfileRef, bool) {
	if origin == nil {
		return ingest.ProfileRef{}, false
	}
	switch {
	case origin.MessageOriginUser != nil:
		u := origin.MessageOriginUser.SenderUser
		id := u.ID
		ev.ForwardFromID = &id
		return userRef(u), true
	case origin.MessageOriginHiddenUser != nil:
		ev.ForwardFromName = origin.MessageOriginHiddenUser.SenderUserName
	case origin.MessageOriginChat != nil:
		c := origin.MessageOriginChat.SenderChat
		id := c.ID
		ev.ForwardFromID = &id
		return chatRef(c), true
	case origin.MessageOriginChannel != nil:
		c := origin.MessageOriginChannel.Chat
		id := c.ID
		ev.ForwardFromID = &id
		return chatRef(c), true
	}
	return ingest.ProfileRef{}, false
}

// attachment follows the classification precedence. Animations also carry a
// document, so they are checked first.
func attachment(msg *models.Message) (detect.Attachment, string) {
	switch {
	case len(msg.Photo) > 0:
		return detect.AttachmentPhoto, msg.Photo[len(msg.Photo)-1].FileID
	case msg.Video != nil:
		return detect.AttachmentVideo, msg.Video.FileID
	case msg.Animation != nil:
		return detect.AttachmentAnimation, msg.Animation.FileID
	case msg.Document != nil:
		return detect.AttachmentDocument, msg.Document.FileID
	case msg.Voice != nil:
		return detect.AttachmentVoice, msg.Voice.FileID
	}
	return detect.AttachmentNone, ""
}

func userRef(u models.User) ingest.ProfileRef {
	return ingest.ProfileRef{
		ID:        u.ID,
		ChatType:  string(models.ChatTypePrivate),
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
		IsBot:     u.IsBot,
		Refresh:   true,
	}
}

func chatRef(c models.Chat) ingest.ProfileRef {
	return ingest.ProfileRef{
		ID:        c.ID,
		ChatType:  string(c.Type),
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Title:     c.Title,
		Username:  c.Username,
		Refresh:   true,
	}
}

func unixTime(sec int) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(int64(sec), 0).UTC()
}
