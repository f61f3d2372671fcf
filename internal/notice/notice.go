// ABOUTME: Platform-neutral user-facing notice with Markdown and HTML rendering
// ABOUTME: Discord renders notices as embeds, Matrix as formatted message bodies

// Package notice models the messages the bot shows to people.
package notice

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
)

// Kind selects how prominent a notice is.
type Kind int

const (
	Info Kind = iota
	Success
	Warning
	Error
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// Color returns an RGB accent color for the kind.
func (k Kind) Color() int {
	switch k {
	case Success:
		return 0x2ecc71
	case Warning:
		return 0xf1c40f
	case Error:
		return 0xe74c3c
	default:
		return 0x3498db
	}
}

// Field is a labelled block inside a notice.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Notice is a titled message with an optional list of fields.
// Body and field values may contain Markdown.
type Notice struct {
	Kind   Kind
	Title  string
	Body   string
	Fields []Field
	Footer string
}

// New creates a notice of the given kind.
func New(kind Kind, title, body string) Notice {
	return Notice{Kind: kind, Title: title, Body: body}
}

// WithField returns a copy of n with a field appended.
func (n Notice) WithField(name, value string) Notice {
	fields := make([]Field, len(n.Fields), len(n.Fields)+1)
	copy(fields, n.Fields)
	n.Fields = append(fields, Field{Name: name, Value: value})
	return n
}

// WithFooter returns a copy of n with the footer set.
func (n Notice) WithFooter(footer string) Notice {
	n.Footer = footer
	return n
}

// Markdown renders the notice as a Markdown document.
func (n Notice) Markdown() string {
	var b strings.Builder
	if n.Title != "" {
		fmt.Fprintf(&b, "**%s**\n\n", n.Title)
	}
	if n.Body != "" {
		b.WriteString(n.Body)
		b.WriteString("\n\n")
	}
	for _, f := range n.Fields {
		fmt.Fprintf(&b, "**%s**\n\n%s\n\n", f.Name, f.Value)
	}
	if n.Footer != "" {
		fmt.Fprintf(&b, "_%s_\n", n.Footer)
	}
	return strings.TrimRight(b.String(), "\n")
}

// HTML renders the notice's Markdown to HTML.
func (n Notice) HTML() (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(n.Markdown()), &buf); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// FormatDuration renders d for people: "1 minute", "2 minutes", "30 seconds".
// Durations that are not whole minutes are shown in seconds, rounded up.
func FormatDuration(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs >= 60 && secs%60 == 0 {
		if secs == 60 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", secs/60)
	}
	if secs == 1 {
		return "1 second"
	}
	return fmt.Sprintf("%d seconds", secs)
}
