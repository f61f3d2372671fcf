// ABOUTME: Operator CLI for inspecting and editing policebot's stored locks
// ABOUTME: Works directly on the configured store, so run it on the bot's host

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/policebot/internal/config"
	"github.com/2389/policebot/internal/credential"
	"github.com/2389/policebot/internal/locks"
	"github.com/2389/policebot/internal/store"
)

const banner = `
             _ _          _           _                 _           _
 _ __   ___ | (_) ___ ___| |__   ___ | |_      __ _  __| |_ __ ___ (_)_ __
| '_ \ / _ \| | |/ __/ _ \ '_ \ / _ \| __|____/ _' |/ _' | '_ ' _ \| | '_ \
| |_) | (_) | | | (_|  __/ |_) | (_) | ||_____| (_| | (_| | | | | | | | | | |
| .__/ \___/|_|_|\___\___|_.__/ \___/ \__|     \__,_|\__,_|_| |_| |_|_|_| |_|
|_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "guilds", "locks", "show", "enable", "disable", "remove", "rm", "import":
		err = withAdmin(func(a *admin) error {
			return a.run(ctx, cmd, args)
		})
	case "hash":
		err = cmdHash(os.Stdin, os.Stdout)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: policebot-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  guilds                      List guilds with a stored configuration")
	fmt.Println("  locks <guild>               List a guild's locks")
	fmt.Println("  show <guild>                Print a guild's configuration as YAML")
	fmt.Println("  enable <guild> <channel>    Re-enable a lock")
	fmt.Println("  disable <guild> <channel>   Disable a lock without deleting it")
	fmt.Println("  remove <guild> <channel>    Delete a lock")
	fmt.Println("  import <dir> [--force]      Copy a data/guilds/<id>/config.json tree into the store")
	fmt.Println("  hash                        Hash a password read from stdin")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  POLICEBOT_CONFIG            Config file (default: ~/.config/policebot/policebot.yaml)")
	fmt.Println()
	yellow.Println("Notes:")
	fmt.Println("  remove does not delete the lock's announcement message; use ?rl in chat for that.")
	fmt.Println()
}

// withAdmin opens the configured store for the duration of fn.
func withAdmin(fn func(a *admin) error) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Store and registry logs would drown the command output
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	slog.SetDefault(logger)

	var s store.Store
	switch cfg.Database.Driver {
	case config.DriverFile:
		s, err = store.NewFileStore(cfg.Database.Path)
	default:
		s, err = store.NewSQLiteStore(cfg.Database.Path)
	}
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	return fn(newAdmin(s, os.Stdout, logger))
}

// cmdHash reads a password from the first line of in and prints its hash.
func cmdHash(in io.Reader, out io.Writer) error {
	cost := config.DefaultBcryptCost
	if cfg, err := config.Load(config.DefaultPath()); err == nil {
		cost = cfg.Bot.BcryptCost
	}
	return hashPassword(in, out, cost)
}

func hashPassword(in io.Reader, out io.Writer, cost int) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")

	hash, err := credential.NewHasher(cost).Hash(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, hash)
	return nil
}

// admin runs the store-backed commands.
type admin struct {
	store    store.Store
	registry *locks.Registry
	out      io.Writer
}

func newAdmin(s store.Store, out io.Writer, logger *slog.Logger) *admin {
	return &admin{
		store:    s,
		registry: locks.NewRegistry(s, logger),
		out:      out,
	}
}

func (a *admin) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "guilds":
		return a.guilds(ctx)
	case "locks":
		guild, err := oneArg(cmd, args)
		if err != nil {
			return err
		}
		return a.locks(ctx, guild)
	case "show":
		guild, err := oneArg(cmd, args)
		if err != nil {
			return err
		}
		return a.show(ctx, guild)
	case "enable", "disable":
		if len(args) != 2 {
			return fmt.Errorf("usage: %s <guild> <channel>", cmd)
		}
		return a.setEnabled(ctx, args[0], args[1], cmd == "enable")
	case "remove", "rm":
		if len(args) != 2 {
			return fmt.Errorf("usage: %s <guild> <channel>", cmd)
		}
		return a.remove(ctx, args[0], args[1])
	case "import":
		if len(args) < 1 || len(args) > 2 || (len(args) == 2 && args[1] != "--force") {
			return fmt.Errorf("usage: import <dir> [--force]")
		}
		return a.importTree(ctx, args[0], len(args) == 2)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func oneArg(cmd string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: %s <guild>", cmd)
	}
	return args[0], nil
}
