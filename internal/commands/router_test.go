// ABOUTME: Tests for command parsing, dispatch, cooldowns and response notices

package commands

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/2389/policebot/internal/gatekeeper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_Parse(t *testing.T) {
	env := setupRouter(t, nil)

	tests := []struct {
		content string
		want    string
		ok      bool
	}{
		{content: "?a", want: "authenticate", ok: true},
		{content: "  ?authenticate  ", want: "authenticate", ok: true},
		{content: "?AL", want: "add_lock", ok: true},
		{content: "?rl now", want: "remove_lock", ok: true},
		{content: "?rm", want: "remove_lock", ok: true},
		{content: "?il", want: "invite_link", ok: true},
		{content: "?help", want: "help", ok: true},
		{content: "?ping", want: "ping", ok: true},
		{content: "?", ok: false},
		{content: "?unknown", ok: false},
		{content: "a", ok: false},
		{content: "hello ?a", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			got, ok := env.router.Parse(tt.content)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRouter_Parse_CustomPrefix(t *testing.T) {
	env := setupRouter(t, nil)
	env.router.opts.Prefix = "pb!"

	name, ok := env.router.Parse("pb!a")
	assert.True(t, ok)
	assert.Equal(t, "authenticate", name)

	_, ok = env.router.Parse("?a")
	assert.False(t, ok)
}

func TestRouter_Handle_IgnoresChatter(t *testing.T) {
	env := setupRouter(t, nil)

	assert.False(t, env.router.Handle(context.Background(), invocation("just chatting")))
	assert.Empty(t, env.chat.posts)
}

func TestRouter_Authenticate_Verified(t *testing.T) {
	env := setupRouter(t, nil)
	env.seedLock(t, "G", "C", "hunter2", "R1")
	env.chat.privateReplies["u1"] = []*gatekeeper.Message{{ID: "dm-1", ChannelID: "dm", Content: "hunter2"}}

	require.True(t, env.router.Handle(context.Background(), invocation("?a")))

	assert.Contains(t, env.chat.deleted, "C/cmd-1", "invoking message is deleted")
	assert.Equal(t, []string{"R1"}, env.chat.grants)

	last := env.chat.lastPost(t)
	assert.Equal(t, "C", last.ChannelID)
	assert.Equal(t, "✅ Password accepted", last.Notice.Title)
	assert.Contains(t, last.Notice.Footer, "2 minutes")

	require.Len(t, env.scheduled, 1)
	assert.Equal(t, longTTL, env.scheduled[0].after)
	env.scheduled[0].run()
	assert.Contains(t, env.chat.deleted, "C/"+last.MessageID)
}

func TestRouter_Authenticate_VerifiedSomeRolesFailed(t *testing.T) {
	env := setupRouter(t, nil)
	env.seedLock(t, "G", "C", "hunter2", "R1", "R2")
	env.chat.failRoles = map[string]bool{"R2": true}
	env.chat.privateReplies["u1"] = []*gatekeeper.Message{{ID: "dm-1", ChannelID: "dm", Content: "hunter2"}}

	env.router.Handle(context.Background(), invocation("?a"))

	last := env.chat.lastPost(t)
	assert.Equal(t, "✅ Password accepted", last.Notice.Title)
	require.Len(t, last.Notice.Fields, 1)
	assert.Contains(t, last.Notice.Fields[0].Value, "<@&R2>")
}

func TestRouter_Authenticate_VerifiedNoRolesGranted(t *testing.T) {
	env := setupRouter(t, nil)
	env.seedLock(t, "G", "C", "hunter2", "R1", "R2")
	env.chat.failRoles = map[string]bool{"R1": true, "R2": true}
	env.chat.privateReplies["u1"] = []*gatekeeper.Message{{ID: "dm-1", ChannelID: "dm", Content: "hunter2"}}

	env.router.Handle(context.Background(), invocation("?a"))

	assert.Empty(t, env.chat.grants)
	last := env.chat.lastPost(t)
	assert.Equal(t, "Password accepted, but no roles granted", last.Notice.Title)
	assert.NotContains(t, last.Notice.Body, "I've granted")
	require.Len(t, last.Notice.Fields, 1)
	assert.Contains(t, last.Notice.Fields[0].Value, "<@&R1>")
	assert.Contains(t, last.Notice.Fields[0].Value, "server admin")
}

func TestRouter_Authenticate_Denied(t *testing.T) {
	env := setupRouter(t, nil)
	env.seedLock(t, "G", "C", "hunter2", "R1")
	env.chat.privateReplies["u1"] = []*gatekeeper.Message{{ID: "dm-1", ChannelID: "dm", Content: "wrongpass"}}

	env.router.Handle(context.Background(), invocation("?a"))

	last := env.chat.lastPost(t)
	assert.Equal(t, "✋ Access denied", last.Notice.Title)
	assert.Contains(t, last.Notice.Footer, "1 minute")
	assert.Empty(t, env.chat.grants)
}

func TestRouter_Authenticate_TimedOut(t *testing.T) {
	env := setupRouter(t, nil)
	env.seedLock(t, "G", "C", "hunter2", "R1")

	env.router.Handle(context.Background(), invocation("?a"))

	last := env.chat.lastPost(t)
	assert.Equal(t, "Password check timed out", last.Notice.Title)
	assert.Contains(t, last.Notice.Body, "`?a`")
	require.Len(t, env.scheduled, 1)
	assert.Equal(t, mediumTTL, env.scheduled[0].after)
}

func TestRouter_Authenticate_NotTracked(t *testing.T) {
	env := setupRouter(t, nil)

	env.router.Handle(context.Background(), invocation("?a"))

	last := env.chat.lastPost(t)
	assert.Equal(t, "This channel isn't locked", last.Notice.Title)
	require.Len(t, env.scheduled, 1)
	assert.Equal(t, shortTTL, env.scheduled[0].after)
}

func TestRouter_Authenticate_Cooldown(t *testing.T) {
	env := setupRouter(t, nil)
	env.seedLock(t, "G", "C", "hunter2", "R1")
	ctx := context.Background()

	env.router.Handle(ctx, invocation("?a"))
	challenges := len(env.chat.private["u1"])

	second := invocation("?a")
	second.MessageID = "cmd-2"
	require.True(t, env.router.Handle(ctx, second))

	last := env.chat.lastPost(t)
	assert.Equal(t, "Command on cooldown", last.Notice.Title)
	assert.Contains(t, last.Notice.Body, "<@u1>")
	assert.Len(t, env.chat.private["u1"], challenges, "no new challenge while on cooldown")
	assert.NotContains(t, env.chat.deleted, "C/cmd-2")

	// other users are unaffected
	other := invocation("?a")
	other.UserID = "u2"
	env.router.Handle(ctx, other)
	assert.NotEmpty(t, env.chat.private["u2"])
}

func TestRouter_GuildCommandInPrivate(t *testing.T) {
	env := setupRouter(t, nil)
	inv := invocation("?a")
	inv.GuildID = ""

	require.True(t, env.router.Handle(context.Background(), inv))

	assert.Equal(t, "Server only", env.chat.lastPost(t).Notice.Title)
	assert.Zero(t, env.cooldowns.Len(), "no cooldown is consumed")
}

func TestRouter_AddLock_NotAdmin(t *testing.T) {
	env := setupRouter(t, nil)

	env.router.Handle(context.Background(), invocation("?al"))

	assert.Equal(t, "You are not a server admin", env.chat.lastPost(t).Notice.Title)
	assert.Zero(t, env.store.PutCount())
}

func TestRouter_AddLock_Created(t *testing.T) {
	env := setupRouter(t, nil)
	env.chat.answers = []*gatekeeper.Message{
		answer("hunter2", nil, nil),
		answer("@Members", []string{"R1", "R2"}, nil),
		answer("#lobby", nil, []string{"LOBBY"}),
		answer("Welcome!", nil, nil),
	}
	inv := invocation("?al")
	inv.IsAdmin = true

	env.router.Handle(context.Background(), inv)

	last := env.chat.lastPost(t)
	assert.Equal(t, "C", last.ChannelID)
	assert.Equal(t, "✅ Lock created", last.Notice.Title)
	assert.Contains(t, last.Notice.Body, "<#LOBBY>")
	require.Len(t, last.Notice.Fields, 1)
	assert.Equal(t, "<@&R1>, <@&R2>", last.Notice.Fields[0].Value)
	assert.Empty(t, env.scheduled, "wizard results stay up")

	lock, err := env.registry.FindLock(context.Background(), "G", "LOBBY", true)
	require.NoError(t, err)
	assert.Equal(t, "Welcome!", lock.CustomMessage)
}

func TestRouter_AddLock_NoRoles(t *testing.T) {
	env := setupRouter(t, nil)
	env.chat.answers = []*gatekeeper.Message{
		answer("hunter2", nil, nil),
		answer("nobody", nil, nil),
	}
	inv := invocation("?add_lock")
	inv.IsAdmin = true

	env.router.Handle(context.Background(), inv)

	last := env.chat.lastPost(t)
	assert.Equal(t, "No roles mentioned", last.Notice.Title)
	assert.Contains(t, last.Notice.Body, "`?al`")
}

func TestRouter_RemoveLock(t *testing.T) {
	env := setupRouter(t, nil)
	env.seedLock(t, "G", "C", "hunter2", "R1")
	inv := invocation("?rl")
	inv.IsAdmin = true

	env.router.Handle(context.Background(), inv)

	assert.Equal(t, "✅ Lock removed", env.chat.lastPost(t).Notice.Title)
	assert.Contains(t, env.chat.deleted, "C/announce")

	env.router.Handle(context.Background(), inv)
	assert.Equal(t, "No lock found for this channel", env.chat.lastPost(t).Notice.Title)
}

func TestRouter_UnexpectedErrorApologises(t *testing.T) {
	env := setupRouter(t, nil)
	env.store.GetErr = errors.New("disk on fire")

	require.True(t, env.router.Handle(context.Background(), invocation("?a")))

	assert.Equal(t, "Something went wrong", env.chat.lastPost(t).Notice.Title)
}

func TestRouter_CanceledDuringShutdownStaysQuiet(t *testing.T) {
	env := setupRouter(t, nil)
	env.store.GetErr = context.Canceled
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.True(t, env.router.Handle(ctx, invocation("?a")))

	assert.Empty(t, env.chat.posts)
}

func TestRouter_Help(t *testing.T) {
	env := setupRouter(t, nil)
	inv := invocation("?help")
	inv.GuildID = ""

	env.router.Handle(context.Background(), inv)

	help := env.chat.lastPost(t).Notice
	assert.Equal(t, "Help", help.Title)
	require.Len(t, help.Fields, 5)
	assert.Contains(t, help.Fields[0].Value, "`?al`")
	assert.Contains(t, help.Fields[2].Value, "`?authenticate`")
}

func TestRouter_Ping(t *testing.T) {
	env := setupRouter(t, nil)
	env.router.Handle(context.Background(), invocation("?ping"))
	assert.Equal(t, "Pong!", env.chat.lastPost(t).Notice.Body)

	env = setupRouter(t, func(c *fakeChat) Responder { return latencyChat{c} })
	env.chat.latency = 42 * time.Millisecond
	env.router.Handle(context.Background(), invocation("?ping"))
	assert.Contains(t, env.chat.lastPost(t).Notice.Body, "42 ms")
}

func TestRouter_InviteLink(t *testing.T) {
	env := setupRouter(t, nil)
	env.router.Handle(context.Background(), invocation("?il"))

	n := env.chat.lastPost(t).Notice
	require.Len(t, n.Fields, 1)
	assert.Equal(t, "https://example.org/invite", n.Fields[0].Value)

	env.router.opts.InviteLink = ""
	env.router.Handle(context.Background(), invocation("?invite_link"))
	assert.Empty(t, env.chat.lastPost(t).Notice.Fields)
}
