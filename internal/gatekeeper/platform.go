// ABOUTME: Contracts between the gatekeeper flows and a chat platform adapter
// ABOUTME: Defines inbound messages, the Platform and Prompter interfaces, and their sentinel errors

package gatekeeper

import (
	"context"
	"errors"
	"time"

	"github.com/2389/policebot/internal/notice"
)

var (
	// ErrNoReply is returned by AwaitPrivateReply and Prompt when the wait times out.
	ErrNoReply = errors.New("no reply before timeout")

	// ErrUndeliverable is returned by SendPrivate when the user cannot be messaged privately.
	ErrUndeliverable = errors.New("private message undeliverable")
)

// Message is an inbound chat message as seen by the flows.
type Message struct {
	ID        string
	ChannelID string
	AuthorID  string
	Content   string

	// RoleMentions and ChannelMentions hold the ids of roles and channels
	// referenced in the message, deduplicated, in order of appearance.
	RoleMentions    []string
	ChannelMentions []string
}

// Platform is the set of chat operations the flows depend on.
type Platform interface {
	// SendPrivate messages a user directly.
	SendPrivate(ctx context.Context, userID string, n notice.Notice) error

	// AwaitPrivateReply waits for the user's next private message.
	AwaitPrivateReply(ctx context.Context, userID string, timeout time.Duration) (*Message, error)

	// PostChannel posts a notice in a channel and returns the new message id.
	PostChannel(ctx context.Context, channelID string, n notice.Notice) (string, error)

	// FetchMessage loads a message previously posted in a channel.
	FetchMessage(ctx context.Context, channelID, messageID string) (*Message, error)

	// DeleteMessage deletes a message.
	DeleteMessage(ctx context.Context, channelID, messageID string) error

	// GrantRole gives a role to a guild member.
	GrantRole(ctx context.Context, guildID, userID, roleID string) error
}

// Prompter asks the person running the lock wizard a question and returns their answer.
type Prompter interface {
	Prompt(ctx context.Context, n notice.Notice, timeout time.Duration) (*Message, error)
}

// PasswordHasher hashes new lock passwords and checks candidates against stored hashes.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(stored, candidate string) bool
}
