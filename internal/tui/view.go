// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/rigrun-chatsync/internal/model"
)

// View implements tea.Model.
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderSidebar(),
		m.theme.Transcript.Render(m.viewport.View()),
	)
	return lipgloss.JoinVertical(lipgloss.Left,
		body,
		m.renderStatus(),
		m.theme.Input.Width(m.width).Render(m.input.View()),
	)
}

func (m Model) renderSidebar() string {
	inner := sidebarWidth - 2
	var b strings.Builder
	b.WriteString(m.theme.SidebarTitle.Render("Sessions"))
	b.WriteString("\n")

	if len(m.sessions.Sessions) == 0 {
		b.WriteString(m.theme.Hint.Render("none yet: /new NAME"))
	}
	for _, s := range m.sessions.Sessions {
		b.WriteString(m.renderSessionItem(s, inner))
		b.WriteString("\n")
	}

	return m.theme.Sidebar.
		Width(sidebarWidth).
		Height(max(m.viewport.Height, 1)).
		Render(b.String())
}

func (m Model) renderSessionItem(s model.Session, width int) string {
	marker := "  "
	style := m.theme.SessionItem
	switch {
	case s.ID == m.sessions.ActiveID:
		marker = "> "
		style = m.theme.SessionActive
	case s.IsProvisional:
		style = m.theme.SessionPending
	}
	name := runewidth.Truncate(s.Name, width-runewidth.StringWidth(marker), "…")
	return style.Render(runewidth.FillRight(marker+name, width))
}

func (m Model) renderTranscript() string {
	if len(m.messages) == 0 {
		if m.sessions.ActiveID != "" && m.boundID != m.sessions.ActiveID {
			return m.theme.Hint.Render("Loading history...")
		}
		return m.theme.Hint.Render("No messages yet.")
	}

	width := max(m.viewport.Width-4, 10)
	parts := make([]string, 0, len(m.messages))
	for _, msg := range m.messages {
		parts = append(parts, m.renderMessage(msg, width))
	}
	return strings.Join(parts, "\n")
}

func (m Model) renderMessage(msg model.Message, width int) string {
	bubble := m.theme.AgentBubble
	if msg.Role == model.RoleUser {
		bubble = m.theme.UserBubble
	}

	var b strings.Builder
	b.WriteString(msg.Content)
	if msg.IsStreaming {
		b.WriteString(m.theme.Streaming.Render(" ▍"))
	}
	for _, a := range msg.Attachments {
		b.WriteString("\n")
		if a.IsTemporary {
			b.WriteString(m.theme.AttachmentTemp.Render("[uploading] " + a.Name))
		} else {
			b.WriteString(m.theme.Attachment.Render("[file] " + a.Name))
		}
	}

	label := m.theme.RoleLabel.Render(msg.Role.DisplayName() + "  " + msg.Timestamp.Format("15:04"))
	return label + "\n" + bubble.Width(width).Render(b.String())
}

func (m Model) renderStatus() string {
	switch {
	case m.sending:
		return m.theme.Status.Render(m.spinner.View() + " waiting for response")
	case m.failed:
		return m.theme.StatusError.Render(m.status)
	case len(m.pending) > 0 && m.status == "":
		return m.theme.Status.Render("attachments queued")
	default:
		return m.theme.Status.Render(m.status)
	}
}
