// ABOUTME: Test doubles for the gatekeeper service
// ABOUTME: A recording chat platform, a queued prompter and a seeded registry

package gatekeeper

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/2389/policebot/internal/credential"
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

// fakePlatform records every call and answers from canned state.
type fakePlatform struct {
	mu sync.Mutex

	// replies holds the next private reply per user; missing means timeout
	replies        map[string]*Message
	awaitErr       error
	sendPrivateErr error
	postErr        error
	fetchErr       error
	deleteErr      error
	grantErrs      map[string]error

	private  map[string][]notice.Notice
	posts    []post
	deleted  []string
	fetched  []string
	grants   []string
	timeouts []time.Duration
	nextID   int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		replies:   make(map[string]*Message),
		grantErrs: make(map[string]error),
		private:   make(map[string][]notice.Notice),
	}
}

func (p *fakePlatform) SendPrivate(ctx context.Context, userID string, n notice.Notice) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendPrivateErr != nil {
		return p.sendPrivateErr
	}
	p.private[userID] = append(p.private[userID], n)
	return nil
}

func (p *fakePlatform) AwaitPrivateReply(ctx context.Context, userID string, timeout time.Duration) (*Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeouts = append(p.timeouts, timeout)
	if p.awaitErr != nil {
		return nil, p.awaitErr
	}
	reply, ok := p.replies[userID]
	if !ok {
		return nil, ErrNoReply
	}
	delete(p.replies, userID)
	return reply, nil
}

func (p *fakePlatform) PostChannel(ctx context.Context, channelID string, n notice.Notice) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.postErr != nil {
		return "", p.postErr
	}
	p.nextID++
	id := fmt.Sprintf("posted-%d", p.nextID)
	p.posts = append(p.posts, post{ChannelID: channelID, MessageID: id, Notice: n})
	return id, nil
}

func (p *fakePlatform) FetchMessage(ctx context.Context, channelID, messageID string) (*Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetched = append(p.fetched, channelID+"/"+messageID)
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}
	return &Message{ID: messageID, ChannelID: channelID}, nil
}

func (p *fakePlatform) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, channelID+"/"+messageID)
	return p.deleteErr
}

func (p *fakePlatform) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.grants = append(p.grants, roleID)
	return p.grantErrs[roleID]
}

func (p *fakePlatform) privateTo(userID string) []notice.Notice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notice.Notice(nil), p.private[userID]...)
}

// fakePrompter answers wizard questions from a queue; an exhausted queue times out.
type fakePrompter struct {
	answers  []*Message
	err      error
	prompts  []notice.Notice
	timeouts []time.Duration
}

func (f *fakePrompter) Prompt(ctx context.Context, n notice.Notice, timeout time.Duration) (*Message, error) {
	f.prompts = append(f.prompts, n)
	f.timeouts = append(f.timeouts, timeout)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.answers) == 0 {
		return nil, ErrNoReply
	}
	next := f.answers[0]
	f.answers = f.answers[1:]
	return next, nil
}

type scheduled struct {
	after time.Duration
	run   func()
}

type testEnv struct {
	svc       *Service
	platform  *fakePlatform
	registry  *locks.Registry
	store     *store.MockStore
	hasher    *credential.Hasher
	scheduled []scheduled
}

func setupService(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		platform: newFakePlatform(),
		store:    store.NewMockStore(),
		hasher:   credential.NewHasher(bcrypt.MinCost),
	}
	env.registry = locks.NewRegistry(env.store, nil)
	env.svc = NewService(env.registry, env.hasher, env.platform, Options{}, nil)
	env.svc.newID = func() string { return "attempt-1" }
	env.svc.schedule = func(d time.Duration, f func()) {
		env.scheduled = append(env.scheduled, scheduled{after: d, run: f})
	}
	return env
}

// seedLock stores an enabled lock on channelID guarded by password.
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
		SentInformationMessage: store.MessageRef{ID: "announce-" + store.ID(channelID)},
		AuthenticatedUsers:     []store.ID{},
		CreatedAt:              store.Timestamp{Time: time.Now().UTC()},
	}))
}

func (e *testEnv) lock(t *testing.T, guildID, channelID string) *store.Lock {
	t.Helper()
	lock, err := e.registry.FindLock(context.Background(), guildID, channelID, false)
	require.NoError(t, err)
	return lock
}

func reply(content string) *Message {
	return &Message{ID: "reply-1", ChannelID: "dm-u1", AuthorID: "u1", Content: content}
}

var errBoom = errors.New("boom")

func legacyDigest(salt, password string) string {
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(password))
	return hex.EncodeToString(mac.Sum(nil))
}
