// ABOUTME: Discord adapter built on discordgo
// ABOUTME: Routes gateway messages to waiting flows or the command handler and performs the flows' chat operations

// Package discord connects policebot to Discord.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/patrickmn/go-cache"

	"github.com/2389/policebot/internal/commands"
	"github.com/2389/policebot/internal/config"
	"github.com/2389/policebot/internal/gatekeeper"
	"github.com/2389/policebot/internal/notice"
	"github.com/2389/policebot/internal/platform"
)

// Intents the bot needs: guild metadata, guild and DM messages, and their content.
const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsMessageContent

// dmChannelTTL is how long a user's private channel id is cached.
const dmChannelTTL = time.Hour

// shutdownGrace bounds how long Run waits for in-flight commands after cancellation.
const shutdownGrace = 5 * time.Second

var channelMentionPattern = regexp.MustCompile(`<#(\d+)>`)

// Bot is a Discord chat platform.
type Bot struct {
	session *discordgo.Session
	status  string
	logger  *slog.Logger

	conv    *platform.Conversations
	handler platform.Handler

	// dmChannels caches private channel ids by user id
	dmChannels *cache.Cache

	// Session-backed lookups, replaced in tests
	permissions func(userID, channelID string) (int64, error)
	guildName   func(guildID string) string

	ctx context.Context
	wg  sync.WaitGroup
}

// New creates a Discord bot. Call SetHandler before Run.
func New(cfg config.DiscordConfig, logger *slog.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	session.Identify.Intents = intents

	b := &Bot{
		session:    session,
		status:     cfg.Status,
		logger:     logger.With("component", "discord"),
		conv:       platform.NewConversations(),
		dmChannels: cache.New(dmChannelTTL, 10*time.Minute),
		ctx:        context.Background(),
	}
	b.permissions = func(userID, channelID string) (int64, error) {
		return session.UserChannelPermissions(userID, channelID)
	}
	b.guildName = func(guildID string) string {
		if g, err := session.State.Guild(guildID); err == nil {
			return g.Name
		}
		return guildID
	}

	session.AddHandler(b.onReady)
	session.AddHandler(b.onMessageCreate)

	return b, nil
}

// SetHandler sets where commands are sent.
func (b *Bot) SetHandler(h platform.Handler) {
	b.handler = h
}

// Run connects to the gateway and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if b.handler == nil {
		return errors.New("discord: no command handler set")
	}

	// Command goroutines outlive the gateway callback, so they get the run context
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.ctx = runCtx

	b.logger.Info("connecting to discord gateway")
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("opening discord session: %w", err)
	}

	<-ctx.Done()
	b.logger.Info("shutting down discord bot")
	cancel()
	b.waitForCommands()

	if err := b.session.Close(); err != nil {
		return fmt.Errorf("closing discord session: %w", err)
	}
	return nil
}

// waitForCommands waits for in-flight commands to notice cancellation.
func (b *Bot) waitForCommands() {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		b.logger.Warn("commands still running at shutdown")
	}
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.logger.Info("discord bot ready", "user", r.User.Username, "guilds", len(r.Guilds))
	if b.status == "" {
		return
	}
	if err := s.UpdateGameStatus(0, b.status); err != nil {
		b.logger.Warn("failed to set status", "error", err)
	}
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	b.route(b.ctx, m.Message)
}

// route hands an inbound message to a waiting flow or, if it is a command, to the handler.
func (b *Bot) route(ctx context.Context, m *discordgo.Message) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	msg := toMessage(m)
	private := m.GuildID == ""
	if !private {
		msg.ChannelMentions = b.inGuild(m.GuildID, msg.ChannelMentions)
	}
	if b.conv.Deliver(msg, private) {
		return
	}

	name, ok := b.handler.Parse(m.Content)
	if !ok {
		return
	}

	inv := commands.Invocation{
		GuildID:     m.GuildID,
		ChannelID:   m.ChannelID,
		MessageID:   m.ID,
		UserID:      m.Author.ID,
		UserName:    m.Author.Username,
		UserMention: m.Author.Mention(),
		Content:     m.Content,
	}
	if !private {
		inv.GuildName = b.guildName(m.GuildID)
		if platform.NeedsAdmin(name) {
			inv.IsAdmin = b.isAdmin(m.Author.ID, m.ChannelID)
		}
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.handler.Handle(ctx, inv)
	}()
}

// inGuild keeps the channels that belong to guildID. The gateway fills
// State with every channel of the guilds the bot is in, so unknown ids are dropped.
func (b *Bot) inGuild(guildID string, channelIDs []string) []string {
	kept := make([]string, 0, len(channelIDs))
	for _, channelID := range channelIDs {
		ch, err := b.session.State.Channel(channelID)
		if err != nil || ch.GuildID != guildID {
			b.logger.Debug("dropping channel from another guild", "channel", channelID, "guild", guildID)
			continue
		}
		kept = append(kept, channelID)
	}
	return kept
}

// isAdmin reports whether the user holds the Administrator permission in the channel's guild.
func (b *Bot) isAdmin(userID, channelID string) bool {
	perms, err := b.permissions(userID, channelID)
	if err != nil {
		b.logger.Warn("failed to resolve permissions", "user", userID, "channel", channelID, "error", err)
		return false
	}
	return perms&discordgo.PermissionAdministrator != 0
}

// SendPrivate messages a user directly.
func (b *Bot) SendPrivate(ctx context.Context, userID string, n notice.Notice) error {
	channelID, err := b.dmChannel(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := b.session.ChannelMessageSendEmbed(channelID, embed(n), discordgo.WithContext(ctx)); err != nil {
		if isCannotMessageUser(err) {
			return fmt.Errorf("messaging %s: %w", userID, gatekeeper.ErrUndeliverable)
		}
		return fmt.Errorf("sending private message: %w", err)
	}
	return nil
}

// dmChannel returns the user's private channel, creating it on first use.
func (b *Bot) dmChannel(ctx context.Context, userID string) (string, error) {
	if id, ok := b.dmChannels.Get(userID); ok {
		return id.(string), nil
	}
	ch, err := b.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		if isCannotMessageUser(err) {
			return "", fmt.Errorf("opening private channel with %s: %w", userID, gatekeeper.ErrUndeliverable)
		}
		return "", fmt.Errorf("opening private channel: %w", err)
	}
	b.dmChannels.SetDefault(userID, ch.ID)
	return ch.ID, nil
}

// AwaitPrivateReply waits for the user's next private message.
func (b *Bot) AwaitPrivateReply(ctx context.Context, userID string, timeout time.Duration) (*gatekeeper.Message, error) {
	return b.conv.AwaitPrivate(ctx, userID, timeout)
}

// PostChannel posts a notice as an embed.
func (b *Bot) PostChannel(ctx context.Context, channelID string, n notice.Notice) (string, error) {
	msg, err := b.session.ChannelMessageSendEmbed(channelID, embed(n), discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("posting to channel %s: %w", channelID, err)
	}
	return msg.ID, nil
}

// FetchMessage loads a channel message.
func (b *Bot) FetchMessage(ctx context.Context, channelID, messageID string) (*gatekeeper.Message, error) {
	msg, err := b.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetching message %s: %w", messageID, err)
	}
	return toMessage(msg), nil
}

// DeleteMessage deletes a message.
func (b *Bot) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := b.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("deleting message %s: %w", messageID, err)
	}
	return nil
}

// GrantRole adds a role to a guild member.
func (b *Bot) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	if err := b.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("adding role %s: %w", roleID, err)
	}
	return nil
}

// Prompter asks in a channel and waits for the user's answer there.
func (b *Bot) Prompter(channelID, userID string) gatekeeper.Prompter {
	return b.conv.Prompter(b, channelID, userID)
}

// MentionChannel formats a channel mention.
func (b *Bot) MentionChannel(channelID string) string {
	return "<#" + channelID + ">"
}

// MentionRole formats a role mention.
func (b *Bot) MentionRole(roleID string) string {
	return "<@&" + roleID + ">"
}

// Latency returns the gateway heartbeat round trip.
func (b *Bot) Latency() time.Duration {
	return b.session.HeartbeatLatency()
}

// embed renders a notice as a Discord embed.
func embed(n notice.Notice) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: n.Body,
		Color:       n.Kind.Color(),
	}
	for _, f := range n.Fields {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	if n.Footer != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: n.Footer}
	}
	return e
}

// toMessage converts a Discord message, collecting role and channel mentions in order.
func toMessage(m *discordgo.Message) *gatekeeper.Message {
	msg := &gatekeeper.Message{
		ID:           m.ID,
		ChannelID:    m.ChannelID,
		Content:      m.Content,
		RoleMentions: gatekeeper.UniqueIDs(m.MentionRoles),
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
	}

	var channels []string
	for _, match := range channelMentionPattern.FindAllStringSubmatch(m.Content, -1) {
		channels = append(channels, match[1])
	}
	msg.ChannelMentions = gatekeeper.UniqueIDs(channels)
	return msg
}

// isCannotMessageUser reports whether Discord refused a DM because of the user's privacy settings.
func isCannotMessageUser(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Message == nil {
		return false
	}
	return restErr.Message.Code == discordgo.ErrCodeCannotSendMessagesToThisUser
}
