// ABOUTME: Tests for the Bot orchestrator
// ABOUTME: Drives a full authentication through a fake platform and checks the HTTP endpoints

package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/policebot/internal/commands"
	"github.com/2389/policebot/internal/config"
	"github.com/2389/policebot/internal/credential"
	"github.com/2389/policebot/internal/gatekeeper"
	"github.com/2389/policebot/internal/notice"
	"github.com/2389/policebot/internal/platform"
	"github.com/2389/policebot/internal/store"
)

// fakePlatform answers every password challenge with password.
type fakePlatform struct {
	mu       sync.Mutex
	handler  platform.Handler
	password string
	runErr   error
	private  []string
	posts    []string
	grants   []string
}

func (f *fakePlatform) SetHandler(h platform.Handler) { f.handler = h }

func (f *fakePlatform) Run(ctx context.Context) error {
	if f.runErr != nil {
		return f.runErr
	}
	<-ctx.Done()
	return nil
}

func (f *fakePlatform) SendPrivate(ctx context.Context, userID string, n notice.Notice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.private = append(f.private, n.Title)
	return nil
}

func (f *fakePlatform) AwaitPrivateReply(ctx context.Context, userID string, timeout time.Duration) (*gatekeeper.Message, error) {
	return &gatekeeper.Message{ID: "reply", AuthorID: userID, Content: f.password}, nil
}

func (f *fakePlatform) PostChannel(ctx context.Context, channelID string, n notice.Notice) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, n.Title)
	return "posted", nil
}

func (f *fakePlatform) FetchMessage(ctx context.Context, channelID, messageID string) (*gatekeeper.Message, error) {
	return &gatekeeper.Message{ID: messageID, ChannelID: channelID}, nil
}

func (f *fakePlatform) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return nil
}

func (f *fakePlatform) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants = append(f.grants, roleID)
	return nil
}

func (f *fakePlatform) Prompter(channelID, userID string) gatekeeper.Prompter { return nil }
func (f *fakePlatform) MentionChannel(channelID string) string             { return "#" + channelID }
func (f *fakePlatform) MentionRole(roleID string) string                   { return "@" + roleID }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig creates a minimal config with an available HTTP port.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	return &config.Config{
		Platform: config.PlatformDiscord,
		Database: config.DatabaseConfig{Driver: config.DriverSQLite, Path: ":memory:"},
		Bot: config.BotConfig{
			CommandPrefix: "?",
			BcryptCost:    bcrypt.MinCost,
			AuthTimeout:   time.Minute,
			PromptTimeout: time.Minute,
			Cooldown:      30 * time.Second,
		},
		HTTP:    config.HTTPConfig{Addr: addr},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func TestNewWithPlatform_InstallsRouter(t *testing.T) {
	p := &fakePlatform{}
	b := NewWithPlatform(testConfig(t), store.NewMockStore(), p, testLogger())
	defer b.shutdown()

	require.NotNil(t, p.handler)
	name, ok := p.handler.Parse("?a")
	assert.True(t, ok)
	assert.Equal(t, "authenticate", name)
	assert.NotNil(t, b.cooldowns)
}

func TestNewWithPlatform_ZeroCooldownDisablesTracker(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bot.Cooldown = 0

	b := NewWithPlatform(cfg, store.NewMockStore(), &fakePlatform{}, testLogger())
	defer b.shutdown()
	assert.Nil(t, b.cooldowns)
}

func TestAuthenticateEndToEnd(t *testing.T) {
	ctx := context.Background()
	p := &fakePlatform{password: "hunter2"}
	b := NewWithPlatform(testConfig(t), store.NewMockStore(), p, testLogger())
	defer b.shutdown()

	hash, err := credential.NewHasher(bcrypt.MinCost).Hash("hunter2")
	require.NoError(t, err)
	require.NoError(t, b.registry.EnsureConfiguration(ctx, "G"))
	require.NoError(t, b.registry.AddLock(ctx, "G", store.Lock{
		ChannelID:          "C",
		Enabled:            true,
		PasswordHash:       hash,
		AwardRoleIDs:       []store.ID{"r1", "r2"},
		AuthenticatedUsers: []store.ID{},
	}))

	handled := p.handler.Handle(ctx, commands.Invocation{
		GuildID:     "G",
		GuildName:   "Guild",
		ChannelID:   "C",
		MessageID:   "m0",
		UserID:      "u1",
		UserName:    "alice",
		UserMention: "<@u1>",
		Content:     "?a",
	})
	require.True(t, handled)

	assert.Equal(t, []string{"r1", "r2"}, p.grants)
	assert.Len(t, p.private, 1, "one password challenge")
	require.Len(t, p.posts, 1)
	assert.Contains(t, p.posts[0], "Password accepted")

	lock, err := b.registry.FindLock(ctx, "G", "C", true)
	require.NoError(t, err)
	assert.True(t, lock.HasAuthenticated("u1"))
}

func TestRun_ServesHTTPAndShutsDown(t *testing.T) {
	cfg := testConfig(t)
	s := store.NewMockStore()
	require.NoError(t, s.Create(context.Background(), "G"))
	b := NewWithPlatform(cfg, s, &fakePlatform{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- b.Run(ctx) }()

	base := "http://" + cfg.HTTP.Addr
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(base + "/ready")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready (1 guilds)", string(body))

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_PlatformFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Addr = ""
	b := NewWithPlatform(cfg, store.NewMockStore(), &fakePlatform{runErr: errors.New("login refused")}, testLogger())

	err := b.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login refused")
}

func TestRun_MetricsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = false
	b := NewWithPlatform(cfg, store.NewMockStore(), &fakePlatform{}, testLogger())
	defer b.shutdown()

	req, err := http.NewRequest(http.MethodGet, "/metrics", nil)
	require.NoError(t, err)
	_, pattern := b.httpServer.Handler.(*http.ServeMux).Handler(req)
	assert.Empty(t, pattern)
}

func TestInitStore(t *testing.T) {
	dir := t.TempDir()

	s, err := initStore(config.DatabaseConfig{Driver: config.DriverSQLite, Path: filepath.Join(dir, "db", "policebot.db")})
	require.NoError(t, err)
	assert.IsType(t, &store.SQLiteStore{}, s)
	require.NoError(t, s.Close())

	s, err = initStore(config.DatabaseConfig{Driver: config.DriverFile, Path: filepath.Join(dir, "data")})
	require.NoError(t, err)
	assert.IsType(t, &store.FileStore{}, s)
	require.NoError(t, s.Close())
}

func TestMatrixDataDir(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{Driver: config.DriverSQLite, Path: "/var/lib/policebot/policebot.db"}}
	assert.Equal(t, "/var/lib/policebot/matrix", matrixDataDir(cfg))

	cfg.Database = config.DatabaseConfig{Driver: config.DriverFile, Path: "/srv/policebot"}
	assert.Equal(t, "/srv/policebot/matrix", matrixDataDir(cfg))

	cfg.Matrix.DataDir = "/custom"
	assert.Equal(t, "/custom", matrixDataDir(cfg))
}

func TestNewPlatform(t *testing.T) {
	cfg := testConfig(t)
	cfg.Discord.Token = "token"
	p, err := newPlatform(cfg, testLogger())
	require.NoError(t, err)
	assert.NotNil(t, p)

	cfg.Platform = config.PlatformMatrix
	cfg.Matrix = config.MatrixConfig{Homeserver: "https://matrix.example.org", AccessToken: "t", UserID: "@bot:example.org"}
	cfg.Database.Path = filepath.Join(t.TempDir(), "policebot.db")
	p, err = newPlatform(cfg, testLogger())
	require.NoError(t, err)
	assert.NotNil(t, p)
}
