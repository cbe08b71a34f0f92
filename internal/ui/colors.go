package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/spotcore/internal/auth"
	"github.com/desertthunder/spotcore/internal/events"
)

// Styles is the default palette used by the CLI.
var Styles = NewPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")

// Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
	}
}

// Plain returns a palette that renders text unchanged, for tests and non-terminal output.
func Plain() *Palette {
	s := lipgloss.NewStyle()
	return &Palette{title: s, ok: s, err: s, warn: s, help: s}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

func (p *Palette) Title(s string) string { return p.title.Render(s) }
func (p *Palette) OK(s string) string    { return p.ok.Render(s) }
func (p *Palette) Err(s string) string   { return p.err.Render(s) }
func (p *Palette) Warn(s string) string  { return p.warn.Render(s) }
func (p *Palette) Help(s string) string  { return p.help.Render(s) }

// CredentialStatus describes c as of now for the status command.
func (p *Palette) CredentialStatus(capability string, c *auth.Credential, now time.Time) string {
	var b strings.Builder
	b.WriteString(p.Title(capability) + "\n")

	switch {
	case c == nil:
		b.WriteString("  " + p.Err("✗ not authenticated") + "\n")
		return b.String()
	case c.ExpiresAt.IsZero():
		b.WriteString("  " + p.OK("✓ authenticated") + " " + p.Help("(no expiry reported)") + "\n")
	case !now.Before(c.ExpiresAt):
		b.WriteString("  " + p.Warn("! access token expired") + " " + p.Help(fmt.Sprintf("%s ago", now.Sub(c.ExpiresAt).Round(time.Second))) + "\n")
	default:
		b.WriteString("  " + p.OK("✓ authenticated") + " " + p.Help(fmt.Sprintf("expires in %s", c.ExpiresAt.Sub(now).Round(time.Second))) + "\n")
	}

	if c.HasRefreshToken() {
		b.WriteString("  refresh token: present\n")
	} else {
		b.WriteString("  refresh token: " + p.Warn("none") + "\n")
	}
	if scopes := c.Scopes(); len(scopes) > 0 {
		b.WriteString("  scopes: " + strings.Join(scopes, ", ") + "\n")
	}
	return b.String()
}

// Event renders one bus event as a single line.
func (p *Palette) Event(e events.Event) string {
	stamp := p.Help(e.Time.Format("15:04:05.000"))
	label := string(e.Kind)
	if e.Source != "" {
		label = e.Source + " " + label
	}

	switch e.Kind {
	case events.TokenRefreshFailed:
		return fmt.Sprintf("%s %s %v", stamp, p.Err(label), e.Err)
	case events.TokenRefreshSucceeded:
		return fmt.Sprintf("%s %s expires %s", stamp, p.OK(label), e.ExpiresAt.Format(time.RFC3339))
	case events.TokenExpiringSoon:
		return fmt.Sprintf("%s %s expires %s", stamp, p.Warn(label), e.ExpiresAt.Format(time.RFC3339))
	case events.RateLimited:
		if rl := e.RateLimit; rl != nil {
			return fmt.Sprintf("%s %s %s retry after %s (attempt %d)", stamp, p.Warn(label), rl.Path, rl.RetryAfter, rl.Attempt)
		}
	case events.RequestRetried:
		return fmt.Sprintf("%s %s attempt %d in %s: %v", stamp, p.Warn(label), e.Attempt, e.Delay, e.Err)
	case events.Performance:
		if m := e.Metrics; m != nil {
			shared := ""
			if m.Shared {
				shared = " shared"
			}
			return fmt.Sprintf("%s %s %s %s %d %s attempts=%d%s", stamp, p.Title(label), m.Method, m.Path, m.StatusCode, m.Latency.Round(time.Millisecond), m.Attempts, shared)
		}
	}
	return fmt.Sprintf("%s %s", stamp, label)
}
