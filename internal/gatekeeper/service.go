// ABOUTME: Gatekeeper service wiring the lock registry, password hasher and platform
// ABOUTME: Holds flow timeouts and shared helpers for metrics and transient notices

package gatekeeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/policebot/internal/locks"
	"github.com/2389/policebot/internal/metrics"
	"github.com/2389/policebot/internal/notice"
	"github.com/google/uuid"
)

// Default flow timings.
const (
	DefaultAuthTimeout   = 60 * time.Second
	DefaultPromptTimeout = 120 * time.Second
	DefaultRetryCooldown = 30 * time.Second
)

// alreadyAuthenticatedTTL is how long the "already authenticated" channel notice stays up.
const alreadyAuthenticatedTTL = 60 * time.Second

// cleanupTimeout bounds deferred message deletions that run after a flow ends.
const cleanupTimeout = 10 * time.Second

// Options configures the flows.
type Options struct {
	// AuthTimeout is how long a member has to reply to a password challenge.
	AuthTimeout time.Duration

	// PromptTimeout is how long an admin has to answer each wizard question.
	PromptTimeout time.Duration

	// RetryCooldown is the wait communicated after a wrong password.
	RetryCooldown time.Duration

	// CommandPrefix is shown in instructions, e.g. "?" in "?a".
	CommandPrefix string
}

func (o Options) withDefaults() Options {
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = DefaultAuthTimeout
	}
	if o.PromptTimeout <= 0 {
		o.PromptTimeout = DefaultPromptTimeout
	}
	if o.RetryCooldown < 0 {
		o.RetryCooldown = 0
	}
	if o.CommandPrefix == "" {
		o.CommandPrefix = "?"
	}
	return o
}

// Service runs the authentication, lock creation and lock removal flows.
// It is safe for concurrent use; each call is an independent flow.
type Service struct {
	registry *locks.Registry
	hasher   PasswordHasher
	platform Platform
	opts     Options
	logger   *slog.Logger

	now      func() time.Time
	newID    func() string
	schedule func(time.Duration, func())
}

// NewService creates a Service.
func NewService(registry *locks.Registry, hasher PasswordHasher, platform Platform, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry: registry,
		hasher:   hasher,
		platform: platform,
		opts:     opts.withDefaults(),
		logger:   logger.With("component", "gatekeeper"),
		now:      time.Now,
		newID:    uuid.NewString,
		schedule: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

// Options returns the effective options.
func (s *Service) Options() Options {
	return s.opts
}

// record reports a finished flow to metrics.
func (s *Service) record(flow string, start time.Time, outcome Outcome) {
	metrics.OutcomesTotal.WithLabelValues(flow, outcome.String()).Inc()
	metrics.FlowDuration.WithLabelValues(flow).Observe(s.now().Sub(start).Seconds())
}

// postTransient posts a channel notice and deletes it after ttl. Failures are logged only.
func (s *Service) postTransient(ctx context.Context, logger *slog.Logger, channelID string, n notice.Notice, ttl time.Duration) {
	messageID, err := s.platform.PostChannel(ctx, channelID, n)
	if err != nil {
		logger.Warn("failed to post channel notice", "error", err)
		return
	}
	s.schedule(ttl, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := s.platform.DeleteMessage(ctx, channelID, messageID); err != nil {
			logger.Debug("failed to delete channel notice", "message", messageID, "error", err)
		}
	})
}

// sendPrivate messages a user after a flow has decided its outcome. Failures are logged only.
func (s *Service) sendPrivate(ctx context.Context, logger *slog.Logger, userID string, n notice.Notice) {
	if err := s.platform.SendPrivate(ctx, userID, n); err != nil {
		logger.Warn("failed to send private notice", "error", err)
	}
}

// deleteQuietly deletes a message, logging failures at debug level.
func (s *Service) deleteQuietly(ctx context.Context, logger *slog.Logger, channelID, messageID string) {
	if err := s.platform.DeleteMessage(ctx, channelID, messageID); err != nil {
		logger.Debug("failed to delete message", "channel", channelID, "message", messageID, "error", err)
	}
}
