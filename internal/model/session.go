// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProvisionalPrefix marks session ids generated locally before the backend
// has confirmed creation.
const ProvisionalPrefix = "tmp-"

// =============================================================================
// SESSION TYPE
// =============================================================================

// Session identifies one conversation.
type Session struct {
	// ID is the storage id. Provisional sessions carry a ProvisionalPrefix id.
	ID   string `json:"session_id"`
	Name string `json:"session_name"`

	// RemoteConversationID is the id the completion backend knows this
	// conversation by. It may differ from ID.
	RemoteConversationID string `json:"conversation_id,omitempty"`

	IsProvisional bool      `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewProvisionalSession creates a locally-identified session awaiting
// backend confirmation.
func NewProvisionalSession(name string) Session {
	return Session{
		ID:            ProvisionalPrefix + uuid.NewString(),
		Name:          name,
		IsProvisional: true,
		CreatedAt:     time.Now(),
	}
}

// ConversationID returns the id to address the completion backend with,
// falling back to the storage id when the backend did not assign one.
func (s Session) ConversationID() string {
	if s.RemoteConversationID != "" {
		return s.RemoteConversationID
	}
	return s.ID
}

// CanSend reports whether chat messages may be sent in this session.
func (s Session) CanSend() bool {
	return !s.IsProvisional && !IsProvisionalID(s.ID)
}

// IsProvisionalID reports whether id was generated locally.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// CloneSessions copies a session slice.
func CloneSessions(in []Session) []Session {
	out := make([]Session, len(in))
	copy(out, in)
	return out
}

// IndexOfSession returns the position of id in list, or -1.
func IndexOfSession(list []Session, id string) int {
	for i, s := range list {
		if s.ID == id {
			return i
		}
	}
	return -1
}
