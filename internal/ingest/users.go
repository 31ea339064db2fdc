package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/edgard/chatindex/internal/database"
	"github.com/edgard/chatindex/internal/detect"
)

// handleProfile is the user consumer's per-event step. A stale profile with
// Refresh set is re-fetched live and indexed once more; the refetched copy
// never triggers another fetch.
func (p *Pipeline) handleProfile(ctx context.Context, ref ProfileRef) error {
	if ref.ID == 0 {
		return fmt.Errorf("%w: profile without id", ErrMalformedEvent)
	}
	if err := p.trackUsername(ctx, ref); err != nil {
		return err
	}

	live, err := p.indexProfile(ctx, ref, ref.Refresh && p.platform != nil)
	if err != nil || live == nil {
		return err
	}
	live.Refresh = false
	if live.ID == 0 {
		live.ID = ref.ID
	}
	live.IsBot = live.IsBot || ref.IsBot
	if err := p.trackUsername(ctx, *live); err != nil {
		return err
	}
	_, err = p.indexProfile(ctx, *live, false)
	return err
}

// indexProfile writes ref if its content hash is new or changed. When the
// stored profile is unchanged but stale and allowRefresh is set it returns
// the live profile for the caller to index.
func (p *Pipeline) indexProfile(ctx context.Context, ref ProfileRef, allowRefresh bool) (*ProfileRef, error) {
	stored, err := p.store.GetUserProfile(ctx, ref.ID)
	if err != nil {
		return nil, fatal(err)
	}

	photo := ""
	switch {
	case ref.PhotoRef != nil:
		photo = *ref.PhotoRef
	case stored != nil && stored.PhotoRef.Valid:
		// the source did not report a photo; keep what we know
		photo = stored.PhotoRef.String
	}
	first, last, full := ref.Names()
	hash := detect.ProfileHash(ref.ID, full, photo)
	now := p.clock.Now()

	var storedHash *string
	if stored != nil {
		storedHash = &stored.ContentHash
	}

	profile := &database.UserProfile{
		UserID:        ref.ID,
		FirstName:     first,
		LastName:      sql.NullString{String: last, Valid: last != ""},
		FullName:      full,
		PhotoRef:      sql.NullString{String: photo, Valid: photo != ""},
		ContentHash:   hash,
		IsBot:         ref.IsBot,
		IsGroup:       ref.IsGroup(),
		LastRefreshed: now,
		UpdatedAt:     now,
	}

	switch detect.CompareProfile(storedHash, hash) {
	case detect.New:
		if peer := p.resolvePeer(ctx, ref.ID); peer != "" {
			profile.PeerID = sql.NullString{String: peer, Valid: true}
		}
		if err := p.store.InsertUserProfile(ctx, profile); err != nil {
			if errors.Is(err, database.ErrDuplicate) {
				return nil, nil
			}
			return nil, fatal(err)
		}
		p.logger.DebugContext(ctx, "Indexed new profile", "user_id", ref.ID)
		return nil, p.recordProfile(ctx, profile)

	case detect.Changed:
		if !stored.PeerID.Valid {
			if peer := p.resolvePeer(ctx, ref.ID); peer != "" {
				profile.PeerID = sql.NullString{String: peer, Valid: true}
			}
		}
		changed, err := p.store.UpdateUserProfile(ctx, profile)
		if err != nil {
			return nil, fatal(err)
		}
		if !changed {
			return nil, nil
		}
		p.logger.DebugContext(ctx, "Profile changed", "user_id", ref.ID)
		return nil, p.recordProfile(ctx, profile)

	default:
		if !allowRefresh || !detect.IsStale(stored.LastRefreshed, now, p.refreshAfter) {
			return nil, nil
		}
		live, err := p.platform.FetchProfile(ctx, ref.ID)
		if err != nil {
			return nil, fmt.Errorf("refresh profile %d: %w", ref.ID, err)
		}
		if err := p.store.TouchUserRefresh(ctx, ref.ID, now); err != nil {
			return nil, fatal(err)
		}
		return live, nil
	}
}

// recordProfile appends the written profile to user_history and queues its
// photo for download.
func (p *Pipeline) recordProfile(ctx context.Context, profile *database.UserProfile) error {
	if err := p.store.AppendUserHistory(ctx, &database.UserHistory{
		UserID:     profile.UserID,
		FirstName:  profile.FirstName,
		LastName:   profile.LastName,
		FullName:   profile.FullName,
		PhotoRef:   profile.PhotoRef,
		RecordedAt: profile.UpdatedAt,
	}); err != nil {
		return fatal(err)
	}
	if profile.PhotoRef.Valid {
		p.enqueueMedia(ctx, profile.PhotoRef.String, profile.UpdatedAt)
	}
	return nil
}

// trackUsername appends the username only when it differs from the latest
// stored one.
func (p *Pipeline) trackUsername(ctx context.Context, ref ProfileRef) error {
	if ref.Username == "" {
		return nil
	}
	latest, err := p.store.LatestUsername(ctx, ref.ID)
	switch {
	case err == nil && latest == ref.Username:
		return nil
	case err != nil && !errors.Is(err, database.ErrNotFound):
		return fatal(err)
	}
	return fatal(p.store.AppendUsername(ctx, ref.ID, ref.Username, p.clock.Now()))
}

// resolvePeer is best-effort: failures yield an empty ID.
func (p *Pipeline) resolvePeer(ctx context.Context, id int64) string {
	if peer, ok := p.peers.Get(id); ok {
		return peer
	}
	if p.platform == nil {
		return ""
	}
	peer, err := p.platform.ResolvePeer(ctx, id)
	if err != nil {
		p.logger.DebugContext(ctx, "Could not resolve peer", "user_id", id, "error", err)
		return ""
	}
	p.peers.Add(id, peer)
	return peer
}
