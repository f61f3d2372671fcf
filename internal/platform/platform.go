// ABOUTME: Pieces shared by the chat platform adapters
// ABOUTME: Command handler contract, reply routing for waiting flows, and the channel prompter

// Package platform holds what the Discord and Matrix adapters have in common.
// An adapter feeds every inbound message to Conversations first, so replies
// to a pending password challenge or wizard question never reach the
// command handler, and hands the rest to a Handler.
package platform

import (
	"context"
	"errors"
	"time"

	"github.com/2389/policebot/internal/commands"
	"github.com/2389/policebot/internal/gatekeeper"
	"github.com/2389/policebot/internal/notice"
	"github.com/2389/policebot/internal/replies"
)

// Handler runs chat commands. *commands.Router implements it.
type Handler interface {
	Parse(content string) (string, bool)
	Handle(ctx context.Context, inv commands.Invocation) bool
}

// NeedsAdmin reports whether a command's flow depends on the caller being an admin.
// Adapters only look up permissions for these.
func NeedsAdmin(command string) bool {
	return command == "add_lock" || command == "remove_lock"
}

// Conversations pairs inbound messages with flows waiting for them.
type Conversations struct {
	hub *replies.Hub[*gatekeeper.Message]
}

// NewConversations creates an empty Conversations.
func NewConversations() *Conversations {
	return &Conversations{hub: replies.NewHub[*gatekeeper.Message]()}
}

// Deliver offers msg to a flow waiting on its author.
// Private messages go to a pending password challenge, channel messages to a
// pending wizard question in that channel. It reports whether msg was consumed.
func (c *Conversations) Deliver(msg *gatekeeper.Message, private bool) bool {
	return c.hub.Deliver(conversationKey(msg, private), msg)
}

// Waiting reports whether a flow is waiting for a message like msg.
func (c *Conversations) Waiting(msg *gatekeeper.Message, private bool) bool {
	return c.hub.Pending(conversationKey(msg, private)) > 0
}

func conversationKey(msg *gatekeeper.Message, private bool) string {
	if private {
		return replies.PrivateKey(msg.AuthorID)
	}
	return replies.ChannelKey(msg.ChannelID, msg.AuthorID)
}

// AwaitPrivate waits for userID's next private message.
func (c *Conversations) AwaitPrivate(ctx context.Context, userID string, timeout time.Duration) (*gatekeeper.Message, error) {
	return c.await(ctx, replies.PrivateKey(userID), timeout)
}

// AwaitChannel waits for userID's next message in channelID.
func (c *Conversations) AwaitChannel(ctx context.Context, channelID, userID string, timeout time.Duration) (*gatekeeper.Message, error) {
	return c.await(ctx, replies.ChannelKey(channelID, userID), timeout)
}

func (c *Conversations) await(ctx context.Context, key string, timeout time.Duration) (*gatekeeper.Message, error) {
	msg, err := c.hub.Await(ctx, key, timeout)
	if errors.Is(err, replies.ErrTimeout) {
		return nil, gatekeeper.ErrNoReply
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Poster posts channel notices.
type Poster interface {
	PostChannel(ctx context.Context, channelID string, n notice.Notice) (string, error)
}

// Prompter returns a prompter that asks in channelID and takes userID's next message there as the answer.
func (c *Conversations) Prompter(poster Poster, channelID, userID string) gatekeeper.Prompter {
	return &channelPrompter{conv: c, poster: poster, channelID: channelID, userID: userID}
}

type channelPrompter struct {
	conv      *Conversations
	poster    Poster
	channelID string
	userID    string
}

func (p *channelPrompter) Prompt(ctx context.Context, n notice.Notice, timeout time.Duration) (*gatekeeper.Message, error) {
	if _, err := p.poster.PostChannel(ctx, p.channelID, n); err != nil {
		return nil, err
	}
	return p.conv.AwaitChannel(ctx, p.channelID, p.userID, timeout)
}
