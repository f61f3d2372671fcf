// ABOUTME: Store-backed admin commands: listing, YAML dumps, enable/disable, removal and import
// ABOUTME: Password hashes are never printed, only the scheme that produced them

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/2389/policebot/internal/locks"
	"github.com/2389/policebot/internal/store"
)

const timeLayout = "2006-01-02 15:04"

// guilds lists every guild with a stored configuration.
func (a *admin) guilds(ctx context.Context) error {
	ids, err := a.store.ListGuilds(ctx)
	if err != nil {
		return fmt.Errorf("listing guilds: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Fprintln(a.out)
	cyan.Fprintln(a.out, "  Guilds")
	cyan.Fprintln(a.out, "  ------")

	if len(ids) == 0 {
		fmt.Fprintln(a.out, "  (no guilds)")
		fmt.Fprintln(a.out)
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  GUILD\tLOCKS\tENABLED\tCREATED")
	for _, id := range ids {
		cfg, err := a.store.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("reading guild %s: %w", id, err)
		}
		enabled := 0
		for _, l := range cfg.EnabledLocks {
			if l.Enabled {
				enabled++
			}
		}
		fmt.Fprintf(w, "  %s\t%d\t%d\t%s\n", id, len(cfg.EnabledLocks), enabled, formatTime(cfg.ConfigurationCreatedAt.Time))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(a.out)
	return nil
}

// locks lists a guild's locks.
func (a *admin) locks(ctx context.Context, guildID string) error {
	all, err := a.registry.Locks(ctx, guildID)
	if err != nil {
		return describe(err, guildID, "")
	}

	cyan := color.New(color.FgCyan)
	fmt.Fprintln(a.out)
	cyan.Fprintf(a.out, "  Locks in %s\n", guildID)
	cyan.Fprintln(a.out, "  --------"+strings.Repeat("-", len(guildID)))

	if len(all) == 0 {
		fmt.Fprintln(a.out, "  (no locks)")
		fmt.Fprintln(a.out)
		return nil
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  CHANNEL\tSTATUS\tROLES\tMEMBERS\tCREATED")
	for _, l := range all {
		status := green.Sprint("enabled")
		if !l.Enabled {
			status = yellow.Sprint("disabled")
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%d\t%s\n",
			l.ChannelID,
			status,
			strings.Join(l.RoleIDs(), ","),
			len(l.AuthenticatedUsers),
			formatTime(l.CreatedAt.Time),
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(a.out)
	return nil
}

// guildView is the YAML shape printed by show.
type guildView struct {
	Guild     string     `yaml:"guild"`
	CreatedAt string     `yaml:"created_at,omitempty"`
	Locks     []lockView `yaml:"locks"`
}

type lockView struct {
	Channel            string   `yaml:"channel"`
	Enabled            bool     `yaml:"enabled"`
	Password           string   `yaml:"password"`
	CustomMessage      string   `yaml:"custom_message,omitempty"`
	Roles              []string `yaml:"roles"`
	Announcement       string   `yaml:"announcement,omitempty"`
	AuthenticatedUsers []string `yaml:"authenticated_users"`
	CreatedAt          string   `yaml:"created_at,omitempty"`
}

// show prints a guild's configuration as YAML.
func (a *admin) show(ctx context.Context, guildID string) error {
	cfg, err := a.store.Get(ctx, guildID)
	if err != nil {
		return describe(err, guildID, "")
	}

	view := guildView{
		Guild:     guildID,
		CreatedAt: formatTimestamp(cfg.ConfigurationCreatedAt.Time),
		Locks:     make([]lockView, 0, len(cfg.EnabledLocks)),
	}
	for _, l := range cfg.EnabledLocks {
		users := make([]string, len(l.AuthenticatedUsers))
		for i, u := range l.AuthenticatedUsers {
			users[i] = string(u)
		}
		view.Locks = append(view.Locks, lockView{
			Channel:            string(l.ChannelID),
			Enabled:            l.Enabled,
			Password:           hashScheme(l.PasswordHash),
			CustomMessage:      l.CustomMessage,
			Roles:              l.RoleIDs(),
			Announcement:       string(l.SentInformationMessage.ID),
			AuthenticatedUsers: users,
			CreatedAt:          formatTimestamp(l.CreatedAt.Time),
		})
	}

	enc := yaml.NewEncoder(a.out)
	enc.SetIndent(2)
	if err := enc.Encode(view); err != nil {
		return fmt.Errorf("encoding yaml: %w", err)
	}
	return enc.Close()
}

// setEnabled turns a lock on or off.
func (a *admin) setEnabled(ctx context.Context, guildID, channelID string, enabled bool) error {
	_, err := a.registry.MutateLock(ctx, guildID, channelID, func(l *store.Lock) error {
		l.Enabled = enabled
		return nil
	})
	if err != nil {
		return describe(err, guildID, channelID)
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	color.New(color.FgGreen).Fprintf(a.out, "  ✓ Lock on %s %s\n", channelID, state)
	return nil
}

// remove deletes a lock.
func (a *admin) remove(ctx context.Context, guildID, channelID string) error {
	removed, err := a.registry.RemoveLock(ctx, guildID, channelID)
	if err != nil {
		return describe(err, guildID, channelID)
	}

	color.New(color.FgGreen).Fprintf(a.out, "  ✓ Lock on %s removed\n", channelID)
	if removed.SentInformationMessage.ID != "" {
		color.New(color.FgYellow).Fprintf(a.out, "  ! Announcement message %s was left in the channel\n", removed.SentInformationMessage.ID)
	}
	return nil
}

// importTree copies every guild from a data/guilds/<id>/config.json tree.
// Guilds already in the store are skipped unless force is set.
func (a *admin) importTree(ctx context.Context, dir string, force bool) error {
	src, err := store.NewFileStore(dir)
	if err != nil {
		return fmt.Errorf("opening %s: %w", dir, err)
	}
	defer src.Close()

	ids, err := src.ListGuilds(ctx)
	if err != nil {
		return fmt.Errorf("listing guilds in %s: %w", dir, err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	imported, skipped := 0, 0
	for _, id := range ids {
		cfg, err := src.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("reading guild %s: %w", id, err)
		}

		if !force {
			_, err := a.store.Get(ctx, id)
			if err == nil {
				yellow.Fprintf(a.out, "  - %s exists, skipped\n", id)
				skipped++
				continue
			}
			if !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("checking guild %s: %w", id, err)
			}
		}

		if err := a.store.Put(ctx, id, cfg); err != nil {
			return fmt.Errorf("writing guild %s: %w", id, err)
		}
		green.Fprintf(a.out, "  ✓ %s (%d locks)\n", id, len(cfg.EnabledLocks))
		imported++
	}

	fmt.Fprintf(a.out, "\n  Imported %d guilds, skipped %d\n", imported, skipped)
	return nil
}

// describe turns registry errors into operator-facing messages.
func describe(err error, guildID, channelID string) error {
	switch {
	case errors.Is(err, locks.ErrConfigurationMissing), errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("guild %s has no configuration", guildID)
	case errors.Is(err, locks.ErrLockNotFound):
		return fmt.Errorf("no lock on channel %s in guild %s", channelID, guildID)
	default:
		return err
	}
}

// hashScheme names how a stored password was hashed without revealing it.
func hashScheme(hash string) string {
	switch {
	case hash == "":
		return "(none)"
	case strings.HasPrefix(hash, "$2"):
		return "bcrypt"
	default:
		if method, _, ok := strings.Cut(hash, "$"); ok && method != "" {
			return method + " (legacy)"
		}
		return "unknown"
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
