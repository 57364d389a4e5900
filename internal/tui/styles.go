// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// =============================================================================
// COLORS
// =============================================================================

var (
	Purple        = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}
	Cyan          = lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}
	Emerald       = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}
	Rose          = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}
	Amber         = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}
	Overlay       = lipgloss.AdaptiveColor{Light: "#E5E5E5", Dark: "#313244"}
	TextPrimary   = lipgloss.AdaptiveColor{Light: "#1F2937", Dark: "#CDD6F4"}
	TextSecondary = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#A6ADC8"}
	TextMuted     = lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#6C7086"}

	UserBubbleFg      = lipgloss.AdaptiveColor{Light: "#1E40AF", Dark: "#E0F2FE"}
	UserBubbleBorder  = lipgloss.AdaptiveColor{Light: "#3B82F6", Dark: "#3B82F6"}
	AgentBubbleFg     = lipgloss.AdaptiveColor{Light: "#5B4B8A", Dark: "#E9E4F5"}
	AgentBubbleBorder = lipgloss.AdaptiveColor{Light: "#C4B5FD", Dark: "#A78BFA"}
)

// =============================================================================
// THEME
// =============================================================================

// Theme holds the styles of the chat view.
type Theme struct {
	IsDark       bool
	ColorProfile termenv.Profile

	Sidebar         lipgloss.Style
	SidebarTitle    lipgloss.Style
	SessionItem     lipgloss.Style
	SessionActive   lipgloss.Style
	SessionPending  lipgloss.Style
	Transcript      lipgloss.Style
	UserBubble      lipgloss.Style
	AgentBubble     lipgloss.Style
	RoleLabel       lipgloss.Style
	Attachment      lipgloss.Style
	AttachmentTemp  lipgloss.Style
	Streaming       lipgloss.Style
	Status          lipgloss.Style
	StatusError     lipgloss.Style
	Input           lipgloss.Style
	Hint            lipgloss.Style
}

// NewTheme creates a theme for the current terminal.
func NewTheme() *Theme {
	t := &Theme{
		IsDark:       termenv.HasDarkBackground(),
		ColorProfile: termenv.ColorProfile(),
	}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	t.Sidebar = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderRight(true).
		BorderForeground(Overlay).
		Padding(0, 1)
	t.SidebarTitle = lipgloss.NewStyle().Bold(true).Foreground(Cyan).MarginBottom(1)
	t.SessionItem = lipgloss.NewStyle().Foreground(TextSecondary)
	t.SessionActive = lipgloss.NewStyle().Bold(true).Foreground(Purple)
	t.SessionPending = lipgloss.NewStyle().Italic(true).Foreground(TextMuted)

	t.Transcript = lipgloss.NewStyle().Padding(0, 1)
	t.UserBubble = lipgloss.NewStyle().
		Foreground(UserBubbleFg).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(UserBubbleBorder).
		Padding(0, 1)
	t.AgentBubble = lipgloss.NewStyle().
		Foreground(AgentBubbleFg).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(AgentBubbleBorder).
		Padding(0, 1)
	t.RoleLabel = lipgloss.NewStyle().Bold(true).Foreground(TextSecondary)
	t.Attachment = lipgloss.NewStyle().Foreground(Emerald)
	t.AttachmentTemp = lipgloss.NewStyle().Foreground(Amber).Italic(true)
	t.Streaming = lipgloss.NewStyle().Foreground(TextMuted).Italic(true)

	t.Status = lipgloss.NewStyle().Foreground(TextMuted)
	t.StatusError = lipgloss.NewStyle().Foreground(Rose).Bold(true)
	t.Input = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderTop(true).
		BorderForeground(Overlay)
	t.Hint = lipgloss.NewStyle().Foreground(TextMuted)
}
