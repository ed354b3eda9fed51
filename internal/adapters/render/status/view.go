package status

import (
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/bnema/session-runner/internal/application"
	"github.com/charmbracelet/lipgloss"
)

type RenderOptions struct {
	// Now anchors the relative expiry texts. Zero falls back to the capture
	// time of each status.
	Now time.Time
}

func Render(statuses []application.SessionStatus, opts RenderOptions) (string, error) {
	return renderView(statuses, opts, newStyles()), nil
}

func renderView(statuses []application.SessionStatus, opts RenderOptions, s styles) string {
	lines := []string{
		s.title.Render("Session Status"),
		s.header.Render(fmt.Sprintf("accounts: %d", len(statuses))),
	}

	if len(statuses) == 0 {
		lines = append(lines, s.empty.Render("No accounts configured."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, status := range statuses {
		lines = append(lines, s.section.Render(renderAccount(status, opts, s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderAccount(status application.SessionStatus, opts RenderOptions, s styles) string {
	return lipgloss.JoinVertical(lipgloss.Left,
		s.account.Render(accountTitle(status)),
		sessionLine(status, opts, s),
		detailLine(status, s),
	)
}

func accountTitle(status application.SessionStatus) string {
	name := status.Name()
	if string(status.Account.ID) == name {
		return name
	}
	return fmt.Sprintf("%s (%s)", name, status.Account.ID)
}

func sessionLine(status application.SessionStatus, opts RenderOptions, s styles) string {
	label := s.key.Render("session:")

	switch status.State {
	case application.SessionNoCredential:
		return label + " " + s.warning.Render("no credential, re-authenticate manually")
	case application.SessionUnknown:
		return label + " " + s.empty.Render("expiry unknown")
	case application.SessionInactive:
		if !status.Account.Session.HasAccessToken() {
			return label + " " + s.empty.Render("inactive")
		}
	}

	now := opts.Now
	if now.IsZero() {
		now = status.CapturedAt
	}

	left, ok := status.Claims.LifetimeLeft(now)
	percent := 100.0
	if ok {
		percent = left * 100
	} else if status.Remaining <= 0 {
		percent = 0
	}

	bar := renderProgressBar(100-percent, 24, s)
	meta := lipgloss.NewStyle().Foreground(interpolateColor(percent, 0, 100)).Render(fmt.Sprintf("%2.0f%% left", percent))
	expiry := lipgloss.NewStyle().Foreground(expiryColor(status.Claims.Expiry, now)).
		Render(fmt.Sprintf("(%s)", formatExpiryRelative(status.Claims.Expiry, now)))

	line := lipgloss.JoinHorizontal(lipgloss.Top, label, " ", bar, " ", meta, " ", expiry)

	switch status.State {
	case application.SessionExpired:
		line += " " + s.warning.Render("[expired]")
	case application.SessionExpiring:
		line += " " + s.warning.Render("[renewal due]")
	}

	return line
}

func detailLine(status application.SessionStatus, s styles) string {
	parts := []string{s.detail.Render("state:") + " " + s.state(status.State).Render(string(status.State))}

	refresh := "no"
	if status.CanRenew {
		refresh = "yes"
	}
	parts = append(parts,
		s.detail.Render("refresh: "+refresh),
		s.detail.Render("proxy: "+proxyLabel(status.Account.Proxy)),
	)

	return strings.Join(parts, "  ")
}

func proxyLabel(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "direct"
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return "invalid"
	}

	return parsed.Scheme + "://" + parsed.Host
}

func renderProgressBar(usedPercent float64, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	used := clampPercent(usedPercent)
	leftFraction := (100.0 - used) / 100.0
	filled := min(max(int(math.Round(float64(width)*leftFraction)), 0), width)

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		s.barFill.Render(strings.Repeat("=", filled)),
		s.barEmpty.Render(strings.Repeat("-", width-filled)),
		s.barBracket.Render("]"),
	)
}

func clampPercent(v float64) float64 {
	return min(max(v, 0), 100)
}

func formatExpiryAt(expiresAt, now time.Time) string {
	if expiresAt.IsZero() {
		return "unknown"
	}
	if now.IsZero() {
		return expiresAt.Format(time.RFC3339)
	}

	yearA, monthA, dayA := now.Date()
	yearB, monthB, dayB := expiresAt.Date()
	if yearA == yearB && monthA == monthB && dayA == dayB {
		return expiresAt.Format("15:04")
	}

	return expiresAt.Format("15:04 on 02 Jan")
}

func formatExpiryRelative(expiresAt, now time.Time) string {
	if now.IsZero() {
		return "expires " + formatExpiryAt(expiresAt, now)
	}

	if !expiresAt.After(now) {
		return "expired " + formatExpiryAt(expiresAt, now)
	}

	remaining := expiresAt.Sub(now)
	if remaining < time.Hour {
		minutes := max(int(math.Ceil(remaining.Minutes())), 1)
		return fmt.Sprintf("expires in %d %s (%s)", minutes, plural(minutes, "minute"), expiresAt.Format("15:04"))
	}

	if remaining < 24*time.Hour {
		hours := int(math.Ceil(remaining.Hours()))
		return fmt.Sprintf("expires in %d %s (%s)", hours, plural(hours, "hour"), expiresAt.Format("15:04"))
	}

	days := int(math.Ceil(remaining.Hours() / 24))
	return fmt.Sprintf("expires in %d %s (%s)", days, plural(days, "day"), expiresAt.Format("15:04 on 02 Jan"))
}

func plural(n int, unit string) string {
	if n == 1 {
		return unit
	}
	return unit + "s"
}

func interpolateColor(value, min, max float64) lipgloss.Color {
	if max == min {
		return lipgloss.Color("255")
	}

	normalized := clampPercent((value-min)/(max-min)*100) / 100

	// ANSI 256 greyscale ramp: 240 (faded) at min, 255 (bright) at max.
	baseColor := 240.0
	targetColor := 255.0

	return lipgloss.Color(fmt.Sprintf("%d", int(baseColor+(targetColor-baseColor)*normalized)))
}

// expiryColor brightens as the expiry approaches, over the last hour.
func expiryColor(expiresAt, now time.Time) lipgloss.Color {
	if now.IsZero() || expiresAt.Before(now) {
		return lipgloss.Color("255")
	}

	window := time.Hour
	inverted := window.Seconds() - expiresAt.Sub(now).Seconds()
	return interpolateColor(inverted, 0, window.Seconds())
}
