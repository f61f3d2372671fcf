// ABOUTME: Lock creation wizard: four timed prompts, validation, announcement and persistence
// ABOUTME: The plaintext password is hashed as soon as it is read and never kept

package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/policebot/internal/credential"
	"github.com/2389/policebot/internal/locks"
	"github.com/2389/policebot/internal/metrics"
	"github.com/2389/policebot/internal/notice"
	"github.com/2389/policebot/internal/store"
)

// CreateLockRequest identifies the admin running the wizard.
type CreateLockRequest struct {
	GuildID     string
	ChannelID   string
	UserID      string
	UserName    string
	UserMention string
	IsAdmin     bool
}

// CreateLockResult describes how the wizard ended.
type CreateLockResult struct {
	Outcome   Outcome
	AttemptID string

	// Lock is the created lock when Outcome is LockCreated.
	Lock *store.Lock

	// ChannelID is the channel the admin picked, once known.
	ChannelID string
}

// CreateLock walks an admin through creating a lock.
func (s *Service) CreateLock(ctx context.Context, req CreateLockRequest, prompter Prompter) (*CreateLockResult, error) {
	start := s.now()
	res := &CreateLockResult{AttemptID: s.newID()}
	logger := s.logger.With(
		"attempt", res.AttemptID,
		"guild", req.GuildID,
		"channel", req.ChannelID,
		"user", req.UserID,
	)

	outcome, err := s.createLock(ctx, req, prompter, res, logger)
	if err != nil {
		return nil, err
	}
	res.Outcome = outcome
	s.record("create_lock", start, outcome)
	logger.Info("lock wizard finished", "outcome", outcome.String(), "target", res.ChannelID)
	return res, nil
}

func (s *Service) createLock(ctx context.Context, req CreateLockRequest, prompter Prompter, res *CreateLockResult, logger *slog.Logger) (Outcome, error) {
	if !req.IsAdmin {
		return NotAdmin, nil
	}

	// Step 1: password
	reply, err := s.ask(ctx, prompter, s.passwordPrompt())
	if errors.Is(err, ErrNoReply) {
		return NoResponse, nil
	}
	if err != nil {
		return 0, err
	}
	s.deleteQuietly(ctx, logger, reply.ChannelID, reply.ID)
	passwordHash, err := s.hasher.Hash(reply.Content)
	if errors.Is(err, credential.ErrEmptyPassword) || errors.Is(err, credential.ErrPasswordTooLong) {
		return InvalidPassword, nil
	}
	if err != nil {
		return 0, fmt.Errorf("hashing password: %w", err)
	}

	// Step 2: roles
	reply, err = s.ask(ctx, prompter, s.rolesPrompt())
	if errors.Is(err, ErrNoReply) {
		return NoResponse, nil
	}
	if err != nil {
		return 0, err
	}
	roleIDs := UniqueIDs(reply.RoleMentions)
	if len(roleIDs) == 0 {
		return NoRolesSelected, nil
	}

	// Step 3: channel
	reply, err = s.ask(ctx, prompter, s.channelPrompt())
	if errors.Is(err, ErrNoReply) {
		return NoResponse, nil
	}
	if err != nil {
		return 0, err
	}
	channels := UniqueIDs(reply.ChannelMentions)
	if len(channels) != 1 {
		return InvalidChannelCount, nil
	}
	target := channels[0]
	res.ChannelID = target

	_, err = s.registry.FindLock(ctx, req.GuildID, target, false)
	switch {
	case err == nil:
		return DuplicateLock, nil
	case errors.Is(err, locks.ErrConfigurationMissing):
		if err := s.registry.EnsureConfiguration(ctx, req.GuildID); err != nil {
			return 0, err
		}
	case errors.Is(err, locks.ErrLockNotFound):
	default:
		return 0, fmt.Errorf("checking for existing lock: %w", err)
	}

	// Step 4: custom message
	reply, err = s.ask(ctx, prompter, s.customMessagePrompt())
	if errors.Is(err, ErrNoReply) {
		return NoResponse, nil
	}
	if err != nil {
		return 0, err
	}
	customMessage := strings.TrimSpace(reply.Content)
	if strings.EqualFold(customMessage, store.NoCustomMessage) {
		customMessage = ""
	}

	announcementID, err := s.platform.PostChannel(ctx, target, s.announcementNotice(req, customMessage))
	if err != nil {
		return 0, fmt.Errorf("posting lock announcement: %w", err)
	}

	lock := store.Lock{
		ChannelID:              store.ID(target),
		Enabled:                true,
		PasswordHash:           passwordHash,
		CustomMessage:          customMessage,
		AwardRoleIDs:           toIDs(roleIDs),
		SentInformationMessage: store.MessageRef{ID: store.ID(announcementID)},
		AuthenticatedUsers:     []store.ID{},
		CreatedAt:              store.Timestamp{Time: s.now().UTC()},
	}

	if err := s.registry.AddLock(ctx, req.GuildID, lock); err != nil {
		// The announcement must not outlive a lock that was never saved
		s.deleteQuietly(ctx, logger, target, announcementID)
		if errors.Is(err, locks.ErrDuplicateLock) {
			return DuplicateLock, nil
		}
		return 0, fmt.Errorf("saving lock: %w", err)
	}

	res.Lock = &lock
	return LockCreated, nil
}

// ask sends one wizard question and waits for the answer.
func (s *Service) ask(ctx context.Context, prompter Prompter, question notice.Notice) (*Message, error) {
	metrics.PendingReplies.Inc()
	defer metrics.PendingReplies.Dec()

	reply, err := prompter.Prompt(ctx, question, s.opts.PromptTimeout)
	if err != nil && !errors.Is(err, ErrNoReply) {
		return nil, fmt.Errorf("prompting %q: %w", question.Title, err)
	}
	return reply, err
}

// UniqueIDs drops empty and repeated ids, keeping first-seen order.
func UniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func toIDs(ids []string) []store.ID {
	out := make([]store.ID, len(ids))
	for i, id := range ids {
		out[i] = store.ID(id)
	}
	return out
}
