package search

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/edgard/chatindex/internal/database"
)

// Settings is an immutable snapshot of the operator's filter toggles taken
// for a single query.
type Settings struct {
	// ForceQuery recounts matches on every request.
	ForceQuery     bool
	OnlyUser       bool
	OnlyGroup      bool
	IncludeForward bool
	IncludeBot     bool
	// SpecifyEnabled pins results to SpecifyID, a chat when SpecifyIsChat
	// is set and a sender otherwise.
	SpecifyEnabled bool
	SpecifyIsChat  bool
	SpecifyID      int64
}

// DefaultSettings matches a freshly created settings row.
func DefaultSettings() Settings {
	return Settings{IncludeForward: true}
}

// SettingsFromRecord snapshots a stored settings row.
func SettingsFromRecord(r *database.Settings) Settings {
	if r == nil {
		return DefaultSettings()
	}
	return Settings{
		ForceQuery:     r.ForceQuery,
		OnlyUser:       r.OnlyUser,
		OnlyGroup:      r.OnlyGroup,
		IncludeForward: r.IncludeForward,
		IncludeBot:     r.IncludeBot,
		SpecifyEnabled: r.SpecifyEnabled,
		SpecifyIsChat:  r.SpecifyIsChat,
		SpecifyID:      r.SpecifyID,
	}
}

// Record converts the snapshot back into a storable row.
func (s Settings) Record(ownerID int64) *database.Settings {
	return &database.Settings{
		OwnerID:        ownerID,
		ForceQuery:     s.ForceQuery,
		OnlyUser:       s.OnlyUser,
		OnlyGroup:      s.OnlyGroup,
		IncludeForward: s.IncludeForward,
		IncludeBot:     s.IncludeBot,
		SpecifyEnabled: s.SpecifyEnabled,
		SpecifyIsChat:  s.SpecifyIsChat,
		SpecifyID:      s.SpecifyID,
	}
}

// Filter translates the snapshot into store predicates.
func (s Settings) Filter() database.Filter {
	f := database.Filter{
		OnlyUser:       s.OnlyUser,
		OnlyGroup:      s.OnlyGroup,
		ExcludeForward: !s.IncludeForward,
		ExcludeBots:    !s.IncludeBot,
	}
	if s.SpecifyEnabled && s.SpecifyID != 0 {
		if s.SpecifyIsChat {
			f.ChatID = s.SpecifyID
		} else {
			f.UserID = s.SpecifyID
		}
	}
	return f
}

// Fingerprint hashes every field that changes which rows match.
// ForceQuery only affects counting and is left out.
func (s Settings) Fingerprint() string {
	canonical := fmt.Sprintf("only_user=%t;only_group=%t;include_forward=%t;include_bot=%t;specify=%t:%t:%d",
		s.OnlyUser, s.OnlyGroup, s.IncludeForward, s.IncludeBot,
		s.SpecifyEnabled, s.SpecifyIsChat, s.SpecifyID)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
