// ABOUTME: Entry point for policebot, the password-gated role bot
// ABOUTME: Provides serve, init, health and version commands

package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/policebot/internal/bot"
	"github.com/2389/policebot/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
             _ _          _           _
 _ __   ___ | (_) ___ ___| |__   ___ | |_
| '_ \ / _ \| | |/ __/ _ \ '_ \ / _ \| __|
| |_) | (_) | | | (_|  __/ |_) | (_) | |_
| .__/ \___/|_|_|\___\___|_.__/ \___/ \__|
|_|
`

// getDataPath returns the path to the policebot data directory.
// Priority: XDG_DATA_HOME/policebot > ~/.local/share/policebot
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "policebot")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: policebot <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Connect to chat and start guarding channels")
		fmt.Println("  init      Create a new config file interactively")
		fmt.Println("  health    Check a running bot's health endpoint")
		fmt.Println("  version   Print the version")
		fmt.Println()
		fmt.Println("The config file is read from $POLICEBOT_CONFIG or ~/.config/policebot/policebot.yaml")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "version", "--version", "-v":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Platform:  ")
	cyan.Println(cfg.Platform)
	green.Print("    ▶ ")
	fmt.Printf("Storage:   %s (%s)\n", cfg.Database.Path, cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("Prefix:    %s\n", cfg.Bot.CommandPrefix)
	if cfg.HTTP.Addr != "" {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s", cfg.HTTP.Addr)
		if cfg.Metrics.Enabled {
			gray.Printf(" (metrics at %s)", cfg.Metrics.Path)
		}
		fmt.Println()
	}
	if cfg.Bot.Cooldown == 0 {
		yellow.Println("    ! authenticate cooldown disabled")
	}
	fmt.Println()

	logger.Info("starting policebot",
		"config", configPath,
		"platform", cfg.Platform,
		"driver", cfg.Database.Driver,
	)

	b, err := bot.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating bot: %w", err)
	}

	return b.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is not configured")
	}

	url := fmt.Sprintf("http://%s/health", cfg.HTTP.Addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// initAnswers holds what runInit asked for.
type initAnswers struct {
	Platform    string
	Token       string
	Homeserver  string
	UserID      string
	AccessToken string
	Driver      string
	DBPath      string
	Prefix      string
	InviteLink  string
	HTTPAddr    string
	LogLevel    string
	LogFormat   string
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("policebot configuration setup")
	fmt.Println("=============================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", config.DefaultPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Println("\n--- Platform ---")
	a.Platform = prompt(reader, "Platform (discord/matrix)", config.PlatformDiscord)
	if a.Platform == config.PlatformMatrix {
		a.Homeserver = prompt(reader, "Homeserver URL", "https://matrix.org")
		a.UserID = prompt(reader, "Bot user ID", "")
		a.AccessToken = prompt(reader, "Access token (leave empty to use ${MATRIX_ACCESS_TOKEN})", "")
	} else {
		a.Token = prompt(reader, "Bot token (leave empty to use ${DISCORD_TOKEN})", "")
		a.InviteLink = prompt(reader, "Invite link (optional)", "")
	}

	fmt.Println("\n--- Storage ---")
	a.Driver = prompt(reader, "Storage driver (sqlite/file)", config.DriverSQLite)
	defaultPath := filepath.Join(getDataPath(), "policebot.db")
	if a.Driver == config.DriverFile {
		defaultPath = getDataPath()
	}
	a.DBPath = prompt(reader, "Storage path", defaultPath)

	fmt.Println("\n--- Bot ---")
	a.Prefix = prompt(reader, "Command prefix", config.DefaultCommandPrefix)
	a.HTTPAddr = prompt(reader, "Health/metrics address (empty to disable)", "localhost:8089")

	fmt.Println("\n--- Logging ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, "Log format (text/json)", "text")

	content := renderConfig(a)

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Tokens live in this file
	if err := os.WriteFile(outputFile, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := a.DBPath
	if a.Driver != config.DriverFile {
		dataDir = filepath.Dir(a.DBPath)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the bot:")
	fmt.Printf("  policebot serve\n")

	return nil
}

// renderConfig writes the answers as a commented YAML config.
func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# policebot configuration\n")
	cfg.WriteString("# Generated by policebot init\n\n")

	cfg.WriteString(fmt.Sprintf("platform: %q\n\n", a.Platform))

	if a.Platform == config.PlatformMatrix {
		token := a.AccessToken
		if token == "" {
			token = "${MATRIX_ACCESS_TOKEN}"
		}
		cfg.WriteString("matrix:\n")
		cfg.WriteString(fmt.Sprintf("  homeserver: %q\n", a.Homeserver))
		cfg.WriteString(fmt.Sprintf("  user_id: %q\n", a.UserID))
		cfg.WriteString(fmt.Sprintf("  access_token: %q\n", token))
		cfg.WriteString("  # recovery_key: \"${MATRIX_RECOVERY_KEY}\"\n")
		cfg.WriteString("  admin_power_level: 100\n")
	} else {
		token := a.Token
		if token == "" {
			token = "${DISCORD_TOKEN}"
		}
		cfg.WriteString("discord:\n")
		cfg.WriteString(fmt.Sprintf("  token: %q\n", token))
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  driver: %q\n", a.Driver))
	cfg.WriteString(fmt.Sprintf("  path: %q\n", a.DBPath))
	cfg.WriteString("\n")

	cfg.WriteString("bot:\n")
	cfg.WriteString(fmt.Sprintf("  command_prefix: %q\n", a.Prefix))
	if a.InviteLink != "" {
		cfg.WriteString(fmt.Sprintf("  invite_link: %q\n", a.InviteLink))
	}
	cfg.WriteString("  auth_timeout: \"60s\"\n")
	cfg.WriteString("  prompt_timeout: \"120s\"\n")
	cfg.WriteString("  cooldown: \"30s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", a.LogLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", a.LogFormat))
	cfg.WriteString("\n")

	cfg.WriteString("http:\n")
	cfg.WriteString(fmt.Sprintf("  addr: %q\n", a.HTTPAddr))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", a.HTTPAddr != ""))
	cfg.WriteString("  path: \"/metrics\"\n")

	return cfg.String()
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
