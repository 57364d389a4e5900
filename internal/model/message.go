// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for sessions and messages.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigrun-chatsync/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAgent:
		return "Agent"
	default:
		return string(r)
	}
}

// =============================================================================
// ATTACHMENT TYPE
// =============================================================================

// LocalScheme prefixes transient references that only resolve inside this
// client process.
const LocalScheme = "local:"

// Attachment is a file associated with a message.
type Attachment struct {
	Name        string `json:"name"`
	MimeType    string `json:"mime_type"`
	AccessURL   string `json:"url"`
	IsTemporary bool   `json:"is_temporary,omitempty"`
}

// NewTemporaryAttachment builds an attachment carrying a local-only reference.
func NewTemporaryAttachment(name, mimeType string) Attachment {
	return Attachment{
		Name:        name,
		MimeType:    mimeType,
		AccessURL:   LocalScheme + uuid.NewString() + "/" + name,
		IsTemporary: true,
	}
}

// IsLocalReference reports whether url is a transient client-side reference.
func IsLocalReference(url string) bool {
	return strings.HasPrefix(url, LocalScheme) || strings.HasPrefix(url, "blob:")
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents one turn in a conversation.
//
// Messages are values: the working list hands out copies and every update
// replaces a slot with a new copy instead of mutating in place.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`

	// Streaming state (never persisted while true)
	IsStreaming bool `json:"-"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        generateID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAgentMessage creates a finished agent message.
func NewAgentMessage(content string) Message {
	return NewMessage(RoleAgent, content)
}

// NewPlaceholder creates the streaming agent message shown while a response
// is awaited. indicator is discarded when the first chunk arrives.
func NewPlaceholder(indicator string) Message {
	msg := NewMessage(RoleAgent, indicator)
	msg.IsStreaming = true
	return msg
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	if m.Attachments != nil {
		atts := make([]Attachment, len(m.Attachments))
		copy(atts, m.Attachments)
		m.Attachments = atts
	}
	return m
}

// HasTemporaryAttachments reports whether any attachment is still local-only.
func (m Message) HasTemporaryAttachments() bool {
	for _, a := range m.Attachments {
		if a.IsTemporary {
			return true
		}
	}
	return false
}

// Preview returns the content truncated to maxLen characters.
func (m Message) Preview(maxLen int) string {
	return util.TruncateRunes(m.Content, maxLen)
}

// CloneMessages deep-copies a message slice. A nil input yields an empty,
// non-nil slice so callers can append without aliasing.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateID creates a unique message ID.
func generateID() string {
	return "msg_" + uuid.NewString()
}
