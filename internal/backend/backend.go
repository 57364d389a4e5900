// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend declares the collaborators the sync core talks to.
//
// # Collaborators
//
//   - Completion: streams the agent's reply as plain text bytes
//   - RecordStore: session CRUD plus a per-session ordered message list
//   - ObjectStore: durable storage for uploaded files
//
// Implementations live in backend/httpapi (remote) and storage (local).
// Every implementation reports network or non-success failures as
// *model.TransportError.
package backend

import (
	"context"
	"iter"

	"github.com/jeranaias/rigrun-chatsync/internal/model"
	"github.com/jeranaias/rigrun-chatsync/internal/normalize"
)

// File is an outgoing file payload.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// CompletionRequest identifies one outgoing chat turn.
type CompletionRequest struct {
	// ConversationID is the backend-native conversation id.
	ConversationID string
	Text           string
	Files          []File
}

// Completion is the chat completion backend.
type Completion interface {
	// Stream returns the response body as a lazy sequence of byte chunks.
	// The request is dispatched when the sequence is ranged over; ranging
	// again issues a fresh request. A non-nil error ends the sequence.
	Stream(ctx context.Context, req CompletionRequest) iter.Seq2[[]byte, error]
}

// RecordStore is the session record store.
type RecordStore interface {
	// ListSessions returns owner's sessions, newest first.
	ListSessions(ctx context.Context, owner string) ([]model.Session, error)
	CreateSession(ctx context.Context, owner, name string) (model.Session, error)
	RenameSession(ctx context.Context, owner, id, name string) error
	DeleteSession(ctx context.Context, owner, id string) error

	// ListMessages returns the raw, backend-shaped message records of a
	// session in turn order.
	ListMessages(ctx context.Context, owner, id string) ([]normalize.Record, error)
	AppendMessage(ctx context.Context, owner, id string, msg model.Message) error
}

// ObjectStore stores file bytes and returns a durable reference.
type ObjectStore interface {
	Put(ctx context.Context, owner string, f File) (url string, err error)
}
