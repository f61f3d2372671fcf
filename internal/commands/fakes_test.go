// ABOUTME: Test doubles for the command router
// ABOUTME: A recording chat platform and a router wired to an in-memory store

package commands

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/2389/policebot/internal/cooldown"
	"github.com/2389/policebot/internal/credential"
	"github.com/2389/policebot/internal/gatekeeper"
	"github.com/2389/policebot/internal/locks"
	"github.com/2389/policebot/internal/notice"
	"github.com/2389/policebot/internal/store"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type post struct {
	ChannelID string
	MessageID string
	Notice    notice.Notice
}

// fakeChat is a chat platform that records everything and replies from queues.
type fakeChat struct {
	mu sync.Mutex

	privateReplies map[string][]*gatekeeper.Message
	answers        []*gatekeeper.Message
	latency        time.Duration
	failRoles      map[string]bool

	posts   []post
	deleted []string
	private map[string][]notice.Notice
	grants  []string
	nextID  int
}

func newFakeChat() *fakeChat {
	return &fakeChat{
		privateReplies: make(map[string][]*gatekeeper.Message),
		private:        make(map[string][]notice.Notice),
	}
}

func (c *fakeChat) SendPrivate(ctx context.Context, userID string, n notice.Notice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.private[userID] = append(c.private[userID], n)
	return nil
}

func (c *fakeChat) AwaitPrivateReply(ctx context.Context, userID string, timeout time.Duration) (*gatekeeper.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	queue := c.privateReplies[userID]
	if len(queue) == 0 {
		return nil, gatekeeper.ErrNoReply
	}
	c.privateReplies[userID] = queue[1:]
	return queue[0], nil
}

func (c *fakeChat) PostChannel(ctx context.Context, channelID string, n notice.Notice) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := fmt.Sprintf("m%d", c.nextID)
	c.posts = append(c.posts, post{ChannelID: channelID, MessageID: id, Notice: n})
	return id, nil
}

func (c *fakeChat) FetchMessage(ctx context.Context, channelID, messageID string) (*gatekeeper.Message, error) {
	return &gatekeeper.Message{ID: messageID, ChannelID: channelID}, nil
}

func (c *fakeChat) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, channelID+"/"+messageID)
	return nil
}

func (c *fakeChat) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failRoles[roleID] {
		return fmt.Errorf("missing permissions for %s", roleID)
	}
	c.grants = append(c.grants, roleID)
	return nil
}

func (c *fakeChat) Prompter(channelID, userID string) gatekeeper.Prompter {
	return &queuePrompter{chat: c, channelID: channelID}
}

func (c *fakeChat) MentionChannel(channelID string) string { return "<#" + channelID + ">" }

func (c *fakeChat) MentionRole(roleID string) string { return "<@&" + roleID + ">" }

func (c *fakeChat) lastPost(t *testing.T) post {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.posts, "expected a channel notice")
	return c.posts[len(c.posts)-1]
}

// latencyChat adds connection latency reporting to fakeChat.
type latencyChat struct {
	*fakeChat
}

func (c latencyChat) Latency() time.Duration { return c.latency }

// queuePrompter posts the question and answers from the chat's answer queue.
type queuePrompter struct {
	chat      *fakeChat
	channelID string
}

func (p *queuePrompter) Prompt(ctx context.Context, n notice.Notice, timeout time.Duration) (*gatekeeper.Message, error) {
	if _, err := p.chat.PostChannel(ctx, p.channelID, n); err != nil {
		return nil, err
	}
	p.chat.mu.Lock()
	defer p.chat.mu.Unlock()
	if len(p.chat.answers) == 0 {
		return nil, gatekeeper.ErrNoReply
	}
	next := p.chat.answers[0]
	p.chat.answers = p.chat.answers[1:]
	return next, nil
}

type scheduled struct {
	after time.Duration
	run   func()
}

type testEnv struct {
	router    *Router
	chat      *fakeChat
	store     *store.MockStore
	registry  *locks.Registry
	hasher    *credential.Hasher
	cooldowns *cooldown.Tracker
	scheduled []scheduled
}

func setupRouter(t *testing.T, responder func(*fakeChat) Responder) *testEnv {
	t.Helper()
	env := &testEnv{
		chat:      newFakeChat(),
		store:     store.NewMockStore(),
		hasher:    credential.NewHasher(bcrypt.MinCost),
		cooldowns: cooldown.New(time.Minute, 100),
	}
	t.Cleanup(env.cooldowns.Close)

	env.registry = locks.NewRegistry(env.store, nil)
	svc := gatekeeper.NewService(env.registry, env.hasher, env.chat, gatekeeper.Options{RetryCooldown: time.Minute}, nil)

	var r Responder = env.chat
	if responder != nil {
		r = responder(env.chat)
	}
	env.router = NewRouter(svc, r, env.cooldowns, Options{InviteLink: "https://example.org/invite"}, nil)
	env.router.schedule = func(d time.Duration, f func()) {
		env.scheduled = append(env.scheduled, scheduled{after: d, run: f})
	}
	return env
}

func (e *testEnv) seedLock(t *testing.T, guildID, channelID, password string, roles ...string) {
	t.Helper()
	hash, err := e.hasher.Hash(password)
	require.NoError(t, err)

	ids := make([]store.ID, len(roles))
	for i, r := range roles {
		ids[i] = store.ID(r)
	}

	ctx := context.Background()
	require.NoError(t, e.registry.EnsureConfiguration(ctx, guildID))
	require.NoError(t, e.registry.AddLock(ctx, guildID, store.Lock{
		ChannelID:              store.ID(channelID),
		Enabled:                true,
		PasswordHash:           hash,
		AwardRoleIDs:           ids,
		SentInformationMessage: store.MessageRef{ID: "announce"},
		AuthenticatedUsers:     []store.ID{},
	}))
}

func invocation(content string) Invocation {
	return Invocation{
		GuildID:     "G",
		GuildName:   "Test Guild",
		ChannelID:   "C",
		MessageID:   "cmd-1",
		UserID:      "u1",
		UserName:    "alice",
		UserMention: "<@u1>",
		Content:     content,
	}
}

func answer(content string, roles, channels []string) *gatekeeper.Message {
	return &gatekeeper.Message{
		ID:              "answer",
		ChannelID:       "C",
		AuthorID:        "u1",
		Content:         content,
		RoleMentions:    roles,
		ChannelMentions: channels,
	}
}
