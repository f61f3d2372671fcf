// ABOUTME: Configuration loading and parsing for policebot
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Supported chat platforms.
const (
	PlatformDiscord = "discord"
	PlatformMatrix  = "matrix"
)

// Supported storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverFile   = "file"
)

// Config represents the complete policebot configuration
type Config struct {
	Platform string         `yaml:"platform" toml:"platform"`
	Discord  DiscordConfig  `yaml:"discord" toml:"discord"`
	Matrix   MatrixConfig   `yaml:"matrix" toml:"matrix"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Bot      BotConfig      `yaml:"bot" toml:"bot"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	HTTP     HTTPConfig     `yaml:"http" toml:"http"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// DiscordConfig holds Discord bot configuration
type DiscordConfig struct {
	Token string `yaml:"token" toml:"token"`
	// Status is the "playing" line shown once connected. Defaults to "<prefix>help | policebot".
	Status string `yaml:"status" toml:"status"`
}

// MatrixConfig holds Matrix bot configuration.
// Either AccessToken or Username and Password are required.
type MatrixConfig struct {
	Homeserver   string   `yaml:"homeserver" toml:"homeserver"`
	UserID       string   `yaml:"user_id" toml:"user_id"`
	AccessToken  string   `yaml:"access_token" toml:"access_token"`
	Username     string   `yaml:"username" toml:"username"`
	Password     string   `yaml:"password" toml:"password"`
	RecoveryKey  string   `yaml:"recovery_key" toml:"recovery_key"`
	DataDir      string   `yaml:"data_dir" toml:"data_dir"`
	AllowedRooms []string `yaml:"allowed_rooms" toml:"allowed_rooms"`
	// AdminPowerLevel is the room power level treated as server admin (default 100)
	AdminPowerLevel int `yaml:"admin_power_level" toml:"admin_power_level"`
}

// DatabaseConfig holds storage configuration.
// For the sqlite driver Path is the database file; for the file driver it is
// the data directory holding guilds/<id>/config.json.
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
}

// BotConfig holds command and flow settings
type BotConfig struct {
	CommandPrefix string `yaml:"command_prefix" toml:"command_prefix"`
	InviteLink    string `yaml:"invite_link" toml:"invite_link"`
	BcryptCost    int    `yaml:"bcrypt_cost" toml:"bcrypt_cost"`

	AuthTimeout   time.Duration `yaml:"-" toml:"-"`
	PromptTimeout time.Duration `yaml:"-" toml:"-"`
	Cooldown      time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	AuthTimeoutRaw   string `yaml:"auth_timeout" toml:"auth_timeout"`
	PromptTimeoutRaw string `yaml:"prompt_timeout" toml:"prompt_timeout"`
	CooldownRaw      string `yaml:"cooldown" toml:"cooldown"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// HTTPConfig holds the health and metrics listener configuration. Empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Defaults applied to empty fields.
const (
	DefaultCommandPrefix   = "?"
	DefaultAuthTimeout     = 60 * time.Second
	DefaultPromptTimeout   = 120 * time.Second
	DefaultCooldown        = 30 * time.Second
	DefaultBcryptCost      = 10
	DefaultAdminPowerLevel = 100
	DefaultMetricsPath     = "/metrics"
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes configuration bytes, as TOML when isTOML is set and YAML otherwise.
func Parse(data []byte, isTOML bool) (*Config, error) {
	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in empty optional fields
func (c *Config) applyDefaults() {
	c.Platform = strings.ToLower(strings.TrimSpace(c.Platform))
	if c.Platform == "" {
		c.Platform = PlatformDiscord
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	c.Database.Path = expandHome(c.Database.Path)
	c.Matrix.DataDir = expandHome(c.Matrix.DataDir)

	if c.Bot.CommandPrefix == "" {
		c.Bot.CommandPrefix = DefaultCommandPrefix
	}
	if c.Bot.AuthTimeoutRaw == "" {
		c.Bot.AuthTimeout = DefaultAuthTimeout
	}
	if c.Bot.PromptTimeoutRaw == "" {
		c.Bot.PromptTimeout = DefaultPromptTimeout
	}
	if c.Bot.CooldownRaw == "" {
		c.Bot.Cooldown = DefaultCooldown
	}
	if c.Bot.BcryptCost == 0 {
		c.Bot.BcryptCost = DefaultBcryptCost
	}

	if c.Discord.Status == "" {
		c.Discord.Status = c.Bot.CommandPrefix + "help | policebot - lock channels with a password"
	}
	if c.Matrix.AdminPowerLevel == 0 {
		c.Matrix.AdminPowerLevel = DefaultAdminPowerLevel
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Platform {
	case PlatformDiscord:
		if c.Discord.Token == "" {
			return fmt.Errorf("discord.token is required")
		}
	case PlatformMatrix:
		if err := c.Matrix.validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("platform must be %q or %q, got %q", PlatformDiscord, PlatformMatrix, c.Platform)
	}

	switch c.Database.Driver {
	case DriverSQLite, DriverFile:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverFile, c.Database.Driver)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if strings.TrimSpace(c.Bot.CommandPrefix) == "" {
		return fmt.Errorf("bot.command_prefix must not be blank")
	}
	if c.Bot.AuthTimeout <= 0 {
		return fmt.Errorf("bot.auth_timeout must be positive")
	}
	if c.Bot.PromptTimeout <= 0 {
		return fmt.Errorf("bot.prompt_timeout must be positive")
	}
	if c.Bot.Cooldown < 0 {
		return fmt.Errorf("bot.cooldown must not be negative")
	}
	if c.Bot.BcryptCost < 4 || c.Bot.BcryptCost > 31 {
		return fmt.Errorf("bot.bcrypt_cost must be between 4 and 31")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

func (m *MatrixConfig) validate() error {
	if m.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	u, err := url.Parse(m.Homeserver)
	if err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("matrix.homeserver must use http or https scheme")
	}
	if m.AccessToken != "" {
		if m.UserID == "" {
			return fmt.Errorf("matrix.user_id is required with matrix.access_token")
		}
		return nil
	}
	if m.Username == "" || m.Password == "" {
		return fmt.Errorf("matrix.access_token or matrix.username and matrix.password are required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Bot.AuthTimeoutRaw != "" {
		cfg.Bot.AuthTimeout, err = time.ParseDuration(cfg.Bot.AuthTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing auth_timeout %q: %w", cfg.Bot.AuthTimeoutRaw, err)
		}
	}

	if cfg.Bot.PromptTimeoutRaw != "" {
		cfg.Bot.PromptTimeout, err = time.ParseDuration(cfg.Bot.PromptTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing prompt_timeout %q: %w", cfg.Bot.PromptTimeoutRaw, err)
		}
	}

	if cfg.Bot.CooldownRaw != "" {
		cfg.Bot.Cooldown, err = time.ParseDuration(cfg.Bot.CooldownRaw)
		if err != nil {
			return fmt.Errorf("parsing cooldown %q: %w", cfg.Bot.CooldownRaw, err)
		}
	}

	return nil
}

// expandHome replaces a leading ~/ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// DefaultPath returns the path to the policebot config file.
// Priority: POLICEBOT_CONFIG env var > XDG_CONFIG_HOME/policebot/policebot.yaml > ~/.config/policebot/policebot.yaml
func DefaultPath() string {
	if envPath := os.Getenv("POLICEBOT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "policebot.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "policebot", "policebot.yaml")
}
