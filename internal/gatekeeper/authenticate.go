// ABOUTME: Authentication flow: private password challenge, timed reply, verification and role grants
// ABOUTME: Records verified members on the lock through the registry's serialized mutation

package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/2389/policebot/internal/locks"
	"github.com/2389/policebot/internal/metrics"
	"github.com/2389/policebot/internal/store"
)

// AuthRequest identifies who is authenticating where.
type AuthRequest struct {
	GuildID     string
	GuildName   string
	ChannelID   string
	UserID      string
	UserMention string
}

// AuthResult describes how an authentication attempt ended.
type AuthResult struct {
	Outcome   Outcome
	AttemptID string

	// AlreadyAuthenticated is set when the member had passed this lock before.
	AlreadyAuthenticated bool

	// GrantedRoles and FailedRoles partition the lock's roles after a verified password.
	GrantedRoles []string
	FailedRoles  []string

	// RetryAfter is the advisory wait after a wrong password.
	RetryAfter time.Duration
}

// Authenticate challenges a member for the password of the lock guarding req.ChannelID.
func (s *Service) Authenticate(ctx context.Context, req AuthRequest) (*AuthResult, error) {
	start := s.now()
	res := &AuthResult{AttemptID: s.newID()}
	logger := s.logger.With(
		"attempt", res.AttemptID,
		"guild", req.GuildID,
		"channel", req.ChannelID,
		"user", req.UserID,
	)

	outcome, err := s.authenticate(ctx, req, res, logger)
	if err != nil {
		return nil, err
	}
	res.Outcome = outcome
	s.record("authenticate", start, outcome)
	logger.Info("authentication finished", "outcome", outcome.String())
	return res, nil
}

func (s *Service) authenticate(ctx context.Context, req AuthRequest, res *AuthResult, logger *slog.Logger) (Outcome, error) {
	tracked, err := s.registry.ListTrackedChannels(ctx, req.GuildID, true)
	if err != nil {
		return 0, fmt.Errorf("listing tracked channels: %w", err)
	}
	if !slices.Contains(tracked, req.ChannelID) {
		return ChannelNotTracked, nil
	}

	lock, err := s.registry.FindLock(ctx, req.GuildID, req.ChannelID, true)
	if errors.Is(err, locks.ErrLockNotFound) || errors.Is(err, locks.ErrConfigurationMissing) {
		return LockNotActive, nil
	}
	if err != nil {
		return 0, fmt.Errorf("finding lock: %w", err)
	}

	if lock.HasAuthenticated(req.UserID) {
		res.AlreadyAuthenticated = true
		s.postTransient(ctx, logger, req.ChannelID, s.alreadyAuthenticatedNotice(req), alreadyAuthenticatedTTL)
	}

	if err := s.platform.SendPrivate(ctx, req.UserID, s.challengeNotice(req)); err != nil {
		if !errors.Is(err, ErrUndeliverable) {
			logger.Warn("challenge delivery failed", "error", err)
		}
		return Undeliverable, nil
	}
	logger.Debug("challenge sent, waiting for reply", "timeout", s.opts.AuthTimeout)

	metrics.PendingReplies.Inc()
	reply, err := s.platform.AwaitPrivateReply(ctx, req.UserID, s.opts.AuthTimeout)
	metrics.PendingReplies.Dec()
	if errors.Is(err, ErrNoReply) {
		s.sendPrivate(ctx, logger, req.UserID, s.challengeTimedOutNotice())
		return TimedOut, nil
	}
	if err != nil {
		return 0, fmt.Errorf("waiting for password reply: %w", err)
	}

	candidate := reply.Content
	s.deleteQuietly(ctx, logger, reply.ChannelID, reply.ID)

	if !s.hasher.Verify(lock.PasswordHash, candidate) {
		res.RetryAfter = s.opts.RetryCooldown
		s.sendPrivate(ctx, logger, req.UserID, s.deniedNotice(req))
		return Denied, nil
	}

	for _, roleID := range lock.RoleIDs() {
		if err := s.platform.GrantRole(ctx, req.GuildID, req.UserID, roleID); err != nil {
			logger.Error("failed to grant role", "role", roleID, "error", err)
			metrics.RoleGrantFailuresTotal.Inc()
			res.FailedRoles = append(res.FailedRoles, roleID)
			continue
		}
		res.GrantedRoles = append(res.GrantedRoles, roleID)
	}

	_, err = s.registry.MutateLock(ctx, req.GuildID, req.ChannelID, func(l *store.Lock) error {
		if !l.HasAuthenticated(req.UserID) {
			l.AuthenticatedUsers = append(l.AuthenticatedUsers, store.ID(req.UserID))
		}
		return nil
	})
	switch {
	case errors.Is(err, locks.ErrLockNotFound), errors.Is(err, locks.ErrConfigurationMissing):
		logger.Warn("lock removed during authentication, member not recorded")
	case err != nil:
		return 0, fmt.Errorf("recording authenticated member: %w", err)
	}

	s.sendPrivate(ctx, logger, req.UserID, s.verifiedNotice(req, res))
	return Verified, nil
}
