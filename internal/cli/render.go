// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/rigrun-chatsync/internal/model"
)

// renderMarkdown renders markdown for a terminal. On failure the raw text
// is returned.
func renderMarkdown(content string, width int) string {
	if width <= 0 {
		width = DefaultTerminalWidth
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}

// attachmentLabel describes an attachment the way the transcript shows it.
func attachmentLabel(a model.Attachment) string {
	if a.IsTemporary || model.IsLocalReference(a.AccessURL) {
		return fmt.Sprintf("[uploading] %s", a.Name)
	}
	return fmt.Sprintf("[file] %s <%s>", a.Name, a.AccessURL)
}

// printMessages writes a transcript. With markdown set, agent turns are
// rendered through glamour.
func printMessages(w io.Writer, msgs []model.Message, markdown bool) {
	width := GetTerminalWidth()
	for i, m := range msgs {
		if i > 0 {
			fmt.Fprintln(w)
		}
		label := UserStyle.Render(m.Role.DisplayName())
		if m.Role == model.RoleAgent {
			label = AgentStyle.Render(m.Role.DisplayName())
		}
		fmt.Fprintf(w, "%s %s\n", label, DimStyle.Render(m.Timestamp.Local().Format("2006-01-02 15:04")))

		body := m.Content
		if markdown && m.Role == model.RoleAgent {
			body = renderMarkdown(body, width)
		}
		if body != "" {
			fmt.Fprintln(w, body)
		}
		for _, a := range m.Attachments {
			fmt.Fprintln(w, "  "+DimStyle.Render(attachmentLabel(a)))
		}
	}
}
