// ABOUTME: Lock removal flow: admin check, registry removal, announcement cleanup
// ABOUTME: Removal is committed before the announcement is deleted and is never rolled back

package gatekeeper

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/policebot/internal/locks"
	"github.com/2389/policebot/internal/store"
)

// RemoveLockRequest identifies the channel whose lock should go.
type RemoveLockRequest struct {
	GuildID   string
	ChannelID string
	UserID    string
	IsAdmin   bool
}

// RemoveLockResult describes how the removal ended.
type RemoveLockResult struct {
	Outcome   Outcome
	AttemptID string

	// Lock is the removed lock when Outcome is LockRemoved.
	Lock *store.Lock

	// AnnouncementErr is set when the lock was removed but its announcement could not be deleted.
	AnnouncementErr error
}

// RemoveLock deletes the lock guarding req.ChannelID, enabled or not.
func (s *Service) RemoveLock(ctx context.Context, req RemoveLockRequest) (*RemoveLockResult, error) {
	start := s.now()
	res := &RemoveLockResult{AttemptID: s.newID()}
	logger := s.logger.With(
		"attempt", res.AttemptID,
		"guild", req.GuildID,
		"channel", req.ChannelID,
		"user", req.UserID,
	)

	res.Outcome = LockRemoved
	switch {
	case !req.IsAdmin:
		res.Outcome = NotAdmin
	default:
		removed, err := s.registry.RemoveLock(ctx, req.GuildID, req.ChannelID)
		if errors.Is(err, locks.ErrLockNotFound) || errors.Is(err, locks.ErrConfigurationMissing) {
			res.Outcome = LockNotFound
			break
		}
		if err != nil {
			return nil, fmt.Errorf("removing lock: %w", err)
		}
		res.Lock = removed
		res.AnnouncementErr = s.deleteAnnouncement(ctx, removed)
		if res.AnnouncementErr != nil {
			logger.Warn("lock removed but announcement not deleted", "error", res.AnnouncementErr)
		}
	}

	s.record("remove_lock", start, res.Outcome)
	logger.Info("lock removal finished", "outcome", res.Outcome.String())
	return res, nil
}

// deleteAnnouncement fetches and deletes the message that announced lock.
func (s *Service) deleteAnnouncement(ctx context.Context, lock *store.Lock) error {
	messageID := string(lock.SentInformationMessage.ID)
	if messageID == "" {
		return nil
	}
	channelID := string(lock.ChannelID)

	msg, err := s.platform.FetchMessage(ctx, channelID, messageID)
	if err != nil {
		return fmt.Errorf("fetching announcement %s: %w", messageID, err)
	}
	if err := s.platform.DeleteMessage(ctx, channelID, msg.ID); err != nil {
		return fmt.Errorf("deleting announcement %s: %w", messageID, err)
	}
	return nil
}
