// ABOUTME: Command router mapping prefixed chat messages to gatekeeper flows
// ABOUTME: Owns the authentication cooldown, command metrics and the top-level error handler

package commands

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/policebot/internal/cooldown"
	"github.com/2389/policebot/internal/gatekeeper"
	"github.com/2389/policebot/internal/metrics"
	"github.com/2389/policebot/internal/notice"
)

// cleanupTimeout bounds the deletion of expired channel notices.
const cleanupTimeout = 10 * time.Second

// Invocation is an inbound message that may hold a command.
type Invocation struct {
	GuildID   string // empty for private messages
	GuildName string
	ChannelID string
	MessageID string

	UserID      string
	UserName    string
	UserMention string
	IsAdmin     bool

	Content string
}

// Responder is what the router needs from the chat platform.
type Responder interface {
	PostChannel(ctx context.Context, channelID string, n notice.Notice) (string, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error

	// Prompter returns a prompter that asks in channelID and waits for userID's answer.
	Prompter(channelID, userID string) gatekeeper.Prompter

	// MentionChannel and MentionRole format ids for display in notices.
	MentionChannel(channelID string) string
	MentionRole(roleID string) string
}

// LatencyReporter is implemented by responders that can report their connection latency.
type LatencyReporter interface {
	Latency() time.Duration
}

// Options configures the router.
type Options struct {
	// Prefix starts every command, e.g. "?".
	Prefix string

	// InviteLink is shown by the invite_link command. Empty hides it.
	InviteLink string
}

type handlerFunc func(ctx context.Context, inv Invocation, logger *slog.Logger) error

type command struct {
	name      string
	aliases   []string
	guildOnly bool
	run       handlerFunc
}

// Router dispatches commands. It is safe for concurrent use.
type Router struct {
	service   *gatekeeper.Service
	responder Responder
	cooldowns *cooldown.Tracker
	opts      Options
	logger    *slog.Logger

	commands map[string]*command // keyed by name and every alias
	schedule func(time.Duration, func())
}

// NewRouter creates a Router. A nil cooldowns tracker disables the authentication cooldown.
func NewRouter(service *gatekeeper.Service, responder Responder, cooldowns *cooldown.Tracker, opts Options, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Prefix == "" {
		opts.Prefix = service.Options().CommandPrefix
	}

	r := &Router{
		service:   service,
		responder: responder,
		cooldowns: cooldowns,
		opts:      opts,
		logger:    logger.With("component", "commands"),
		commands:  make(map[string]*command),
		schedule:  func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}

	r.register(&command{name: "authenticate", aliases: []string{"a"}, guildOnly: true, run: r.authenticate})
	r.register(&command{name: "add_lock", aliases: []string{"al"}, guildOnly: true, run: r.addLock})
	r.register(&command{name: "remove_lock", aliases: []string{"rl", "rm"}, guildOnly: true, run: r.removeLock})
	r.register(&command{name: "help", run: r.help})
	r.register(&command{name: "ping", run: r.ping})
	r.register(&command{name: "invite_link", aliases: []string{"il"}, run: r.inviteLink})

	return r
}

func (r *Router) register(cmd *command) {
	r.commands[cmd.name] = cmd
	for _, alias := range cmd.aliases {
		r.commands[alias] = cmd
	}
}

// Parse returns the canonical name of the command in content.
// It reports false when content is not a known command.
func (r *Router) Parse(content string) (string, bool) {
	cmd := r.lookup(content)
	if cmd == nil {
		return "", false
	}
	return cmd.name, true
}

func (r *Router) lookup(content string) *command {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, r.opts.Prefix) {
		return nil
	}
	fields := strings.Fields(content[len(r.opts.Prefix):])
	if len(fields) == 0 {
		return nil
	}
	return r.commands[strings.ToLower(fields[0])]
}

// Handle runs the command in inv.Content and reports whether there was one.
// It blocks until the command's flow ends, so callers run it on its own goroutine.
func (r *Router) Handle(ctx context.Context, inv Invocation) bool {
	cmd := r.lookup(inv.Content)
	if cmd == nil {
		return false
	}

	logger := r.logger.With(
		"command", cmd.name,
		"guild", inv.GuildID,
		"channel", inv.ChannelID,
		"user", inv.UserID,
	)
	metrics.CommandsTotal.WithLabelValues(cmd.name).Inc()

	if cmd.guildOnly && inv.GuildID == "" {
		logger.Debug("guild command used outside a guild")
		r.post(ctx, logger, inv.ChannelID, serverOnlyNotice(), shortTTL)
		return true
	}

	if err := cmd.run(ctx, inv, logger); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			logger.Debug("command interrupted by shutdown")
			return true
		}
		metrics.CommandErrorsTotal.WithLabelValues(cmd.name).Inc()
		logger.Error("command failed", "error", err)
		r.post(context.WithoutCancel(ctx), logger, inv.ChannelID, apologyNotice(), 0)
	}
	return true
}

// post sends a channel notice and schedules its deletion when ttl is positive.
func (r *Router) post(ctx context.Context, logger *slog.Logger, channelID string, n notice.Notice, ttl time.Duration) {
	if ttl > 0 {
		n = withExpiry(n, ttl)
	}
	messageID, err := r.responder.PostChannel(ctx, channelID, n)
	if err != nil {
		logger.Warn("failed to post channel notice", "error", err)
		return
	}
	if ttl <= 0 {
		return
	}
	r.schedule(ttl, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := r.responder.DeleteMessage(ctx, channelID, messageID); err != nil {
			logger.Debug("failed to delete expired notice", "message", messageID, "error", err)
		}
	})
}

func (r *Router) authenticate(ctx context.Context, inv Invocation, logger *slog.Logger) error {
	if r.cooldowns != nil {
		if ok, wait := r.cooldowns.Try(inv.UserID); !ok {
			metrics.CooldownRejectionsTotal.Inc()
			metrics.OutcomesTotal.WithLabelValues("authenticate", gatekeeper.OnCooldown.String()).Inc()
			logger.Info("authentication refused by cooldown", "retry_after", wait)
			r.post(ctx, logger, inv.ChannelID, r.cooldownNotice(inv, wait), shortTTL)
			return nil
		}
	}

	// The invoking message is removed so the channel stays readable
	if inv.MessageID != "" {
		if err := r.responder.DeleteMessage(ctx, inv.ChannelID, inv.MessageID); err != nil {
			logger.Debug("failed to delete command message", "error", err)
		}
	}

	res, err := r.service.Authenticate(ctx, gatekeeper.AuthRequest{
		GuildID:     inv.GuildID,
		GuildName:   inv.GuildName,
		ChannelID:   inv.ChannelID,
		UserID:      inv.UserID,
		UserMention: inv.UserMention,
	})
	if err != nil {
		return err
	}

	n, ttl := r.authNotice(inv, res)
	r.post(ctx, logger, inv.ChannelID, n, ttl)
	return nil
}

func (r *Router) addLock(ctx context.Context, inv Invocation, logger *slog.Logger) error {
	res, err := r.service.CreateLock(ctx, gatekeeper.CreateLockRequest{
		GuildID:     inv.GuildID,
		ChannelID:   inv.ChannelID,
		UserID:      inv.UserID,
		UserName:    inv.UserName,
		UserMention: inv.UserMention,
		IsAdmin:     inv.IsAdmin,
	}, r.responder.Prompter(inv.ChannelID, inv.UserID))
	if err != nil {
		return err
	}

	r.post(ctx, logger, inv.ChannelID, r.createLockNotice(inv, res), 0)
	return nil
}

func (r *Router) removeLock(ctx context.Context, inv Invocation, logger *slog.Logger) error {
	res, err := r.service.RemoveLock(ctx, gatekeeper.RemoveLockRequest{
		GuildID:   inv.GuildID,
		ChannelID: inv.ChannelID,
		UserID:    inv.UserID,
		IsAdmin:   inv.IsAdmin,
	})
	if err != nil {
		return err
	}
	if res.AnnouncementErr != nil {
		logger.Warn("lock removed but announcement remains", "error", res.AnnouncementErr)
	}

	r.post(ctx, logger, inv.ChannelID, r.removeLockNotice(res), 0)
	return nil
}

func (r *Router) help(ctx context.Context, inv Invocation, logger *slog.Logger) error {
	r.post(ctx, logger, inv.ChannelID, r.helpNotice(), 0)
	return nil
}

func (r *Router) ping(ctx context.Context, inv Invocation, logger *slog.Logger) error {
	var latency time.Duration
	if lr, ok := r.responder.(LatencyReporter); ok {
		latency = lr.Latency()
	}
	r.post(ctx, logger, inv.ChannelID, pingNotice(latency), 0)
	return nil
}

func (r *Router) inviteLink(ctx context.Context, inv Invocation, logger *slog.Logger) error {
	r.post(ctx, logger, inv.ChannelID, r.inviteNotice(), 0)
	return nil
}
