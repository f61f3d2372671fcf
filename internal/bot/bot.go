// ABOUTME: Bot orchestrator that wires storage, flows, commands and the chat platform
// ABOUTME: Runs the platform connection alongside the health and metrics HTTP server

// Package bot assembles policebot from its parts and manages their lifecycle.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/2389/policebot/internal/commands"
	"github.com/2389/policebot/internal/config"
	"github.com/2389/policebot/internal/cooldown"
	"github.com/2389/policebot/internal/credential"
	"github.com/2389/policebot/internal/gatekeeper"
	"github.com/2389/policebot/internal/locks"
	"github.com/2389/policebot/internal/platform"
	"github.com/2389/policebot/internal/platform/discord"
	"github.com/2389/policebot/internal/platform/matrix"
	"github.com/2389/policebot/internal/store"
)

// cooldownCapacity bounds how many members are tracked on cooldown at once.
const cooldownCapacity = 10000

// shutdownTimeout bounds HTTP shutdown after the context is cancelled.
const shutdownTimeout = 5 * time.Second

// Platform is a chat network the bot can run on.
type Platform interface {
	gatekeeper.Platform
	commands.Responder

	// SetHandler sets where commands are sent. It must be called before Run.
	SetHandler(h platform.Handler)

	// Run connects and serves until ctx is cancelled.
	Run(ctx context.Context) error
}

// Bot owns every long-lived component.
type Bot struct {
	config     *config.Config
	store      store.Store
	registry   *locks.Registry
	service    *gatekeeper.Service
	router     *commands.Router
	cooldowns  *cooldown.Tracker
	platform   Platform
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds a Bot for the configured platform and storage driver.
func New(cfg *config.Config, logger *slog.Logger) (*Bot, error) {
	s, err := initStore(cfg.Database)
	if err != nil {
		return nil, err
	}

	p, err := newPlatform(cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	return NewWithPlatform(cfg, s, p, logger), nil
}

// NewWithPlatform builds a Bot around an existing store and platform.
// The Bot takes ownership of the store and closes it on shutdown.
func NewWithPlatform(cfg *config.Config, s store.Store, p Platform, logger *slog.Logger) *Bot {
	b := &Bot{
		config:   cfg,
		store:    s,
		platform: p,
		logger:   logger.With("component", "bot"),
	}

	b.registry = locks.NewRegistry(s, logger)
	b.service = gatekeeper.NewService(
		b.registry,
		credential.NewHasher(cfg.Bot.BcryptCost),
		p,
		gatekeeper.Options{
			AuthTimeout:   cfg.Bot.AuthTimeout,
			PromptTimeout: cfg.Bot.PromptTimeout,
			RetryCooldown: cfg.Bot.Cooldown,
			CommandPrefix: cfg.Bot.CommandPrefix,
		},
		logger,
	)

	// A zero cooldown disables the tracker
	if cfg.Bot.Cooldown > 0 {
		b.cooldowns = cooldown.New(cfg.Bot.Cooldown, cooldownCapacity)
	}

	b.router = commands.NewRouter(b.service, p, b.cooldowns, commands.Options{
		Prefix:     cfg.Bot.CommandPrefix,
		InviteLink: cfg.Bot.InviteLink,
	}, logger)
	p.SetHandler(b.router)

	if cfg.HTTP.Addr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /health", b.handleHealth)
		mux.HandleFunc("GET /ready", b.handleReady)
		if cfg.Metrics.Enabled {
			mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
		}
		b.httpServer = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return b
}

// initStore opens the configured storage driver.
func initStore(cfg config.DatabaseConfig) (store.Store, error) {
	var (
		s   store.Store
		err error
	)
	switch cfg.Driver {
	case config.DriverFile:
		s, err = store.NewFileStore(cfg.Path)
	default:
		s, err = store.NewSQLiteStore(cfg.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// newPlatform creates the configured chat platform.
func newPlatform(cfg *config.Config, logger *slog.Logger) (Platform, error) {
	switch cfg.Platform {
	case config.PlatformMatrix:
		return matrix.New(cfg.Matrix, matrixDataDir(cfg), logger)
	default:
		return discord.New(cfg.Discord, logger)
	}
}

// matrixDataDir is where Matrix keeps its encryption store: the configured
// directory, or "matrix" next to the database.
func matrixDataDir(cfg *config.Config) string {
	if cfg.Matrix.DataDir != "" {
		return cfg.Matrix.DataDir
	}
	base := cfg.Database.Path
	if cfg.Database.Driver != config.DriverFile {
		base = filepath.Dir(base)
	}
	return filepath.Join(base, "matrix")
}

// Run serves until ctx is cancelled or a component fails, then shuts down.
// It returns nil on a clean shutdown.
func (b *Bot) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := b.platform.Run(gctx); err != nil {
			return fmt.Errorf("platform: %w", err)
		}
		if gctx.Err() == nil {
			return errors.New("platform stopped unexpectedly")
		}
		return gctx.Err()
	})

	if b.httpServer != nil {
		ln, err := net.Listen("tcp", b.httpServer.Addr)
		if err != nil {
			_ = b.shutdown()
			return fmt.Errorf("listening on HTTP address: %w", err)
		}
		b.logger.Info("HTTP server listening", "addr", ln.Addr().String())

		g.Go(func() error {
			if err := b.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return b.httpServer.Shutdown(shutdownCtx)
		})
	}

	runErr := g.Wait()
	shutdownErr := b.shutdown()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return shutdownErr
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// shutdown releases the components the platform and HTTP server depended on.
func (b *Bot) shutdown() error {
	b.logger.Info("shutting down bot")

	var errs []error
	if b.cooldowns != nil {
		b.cooldowns.Close()
	}
	errs = appendCloseError(errs, "store close", b.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the process is alive.
func (b *Bot) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers.
func (b *Bot) handleReady(w http.ResponseWriter, r *http.Request) {
	guilds, err := b.store.ListGuilds(r.Context())
	if err != nil {
		b.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d guilds)", len(guilds))
}
