// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sort"

	"github.com/jeranaias/rigrun-chatsync/internal/model"
	"github.com/jeranaias/rigrun-chatsync/internal/normalize"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// sessionRecord is a session as the backend serializes it. created_at is
// either RFC 3339 or unix seconds depending on the deployment.
type sessionRecord struct {
	SessionID      string `json:"session_id"`
	SessionName    string `json:"session_name"`
	ConversationID string `json:"conversation_id,omitempty"`
	CreatedAt      any    `json:"created_at,omitempty"`
}

func (r sessionRecord) toSession() model.Session {
	s := model.Session{
		ID:                   r.SessionID,
		Name:                 r.SessionName,
		RemoteConversationID: r.ConversationID,
	}
	if t, ok := normalize.Timestamp(r.CreatedAt); ok {
		s.CreatedAt = t
	}
	return s
}

var errMissingID = errors.New("response carried no session id")

type sessionList struct {
	Data []sessionRecord `json:"data"`
}

type sessionDetail struct {
	ChatHistory []normalize.Record `json:"chat_history"`
}

type createSessionRequest struct {
	SessionName string `json:"session_name"`
	AgentID     string `json:"agent_id,omitempty"`
}

type renameSessionRequest struct {
	SessionName string `json:"session_name"`
}

// =============================================================================
// RECORD CLIENT
// =============================================================================

// RecordClient implements backend.RecordStore.
type RecordClient struct {
	c *Client
}

func sessionPath(id string) string {
	return "/sessions/" + url.PathEscape(id)
}

// ListSessions returns the owner's sessions, newest first.
func (r *RecordClient) ListSessions(ctx context.Context, owner string) ([]model.Session, error) {
	var resp sessionList
	if err := r.c.doJSON(ctx, "list sessions", http.MethodGet, r.c.endpoint("/sessions", owner, true), nil, &resp); err != nil {
		return nil, err
	}
	out := make([]model.Session, 0, len(resp.Data))
	for _, rec := range resp.Data {
		out = append(out, rec.toSession())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// CreateSession creates a session named name.
func (r *RecordClient) CreateSession(ctx context.Context, owner, name string) (model.Session, error) {
	var rec sessionRecord
	in := createSessionRequest{SessionName: name, AgentID: r.c.agentID}
	if err := r.c.doJSON(ctx, "create session", http.MethodPost, r.c.endpoint("/sessions", owner, true), in, &rec); err != nil {
		return model.Session{}, err
	}
	if rec.SessionID == "" {
		return model.Session{}, model.NewTransportError("create session", http.StatusOK, errMissingID)
	}
	if rec.SessionName == "" {
		rec.SessionName = name
	}
	return rec.toSession(), nil
}

// RenameSession renames session id.
func (r *RecordClient) RenameSession(ctx context.Context, owner, id, name string) error {
	in := renameSessionRequest{SessionName: name}
	return r.c.doJSON(ctx, "rename session", http.MethodPatch, r.c.endpoint(sessionPath(id), owner, true), in, nil)
}

// DeleteSession deletes session id.
func (r *RecordClient) DeleteSession(ctx context.Context, owner, id string) error {
	return r.c.doJSON(ctx, "delete session", http.MethodDelete, r.c.endpoint(sessionPath(id), owner, true), nil, nil)
}

// ListMessages returns the raw history records of session id.
func (r *RecordClient) ListMessages(ctx context.Context, owner, id string) ([]normalize.Record, error) {
	var resp sessionDetail
	if err := r.c.doJSON(ctx, "load history", http.MethodGet, r.c.endpoint(sessionPath(id), owner, true), nil, &resp); err != nil {
		return nil, err
	}
	return resp.ChatHistory, nil
}

// AppendMessage appends msg to the history of session id.
func (r *RecordClient) AppendMessage(ctx context.Context, owner, id string, msg model.Message) error {
	return r.c.doJSON(ctx, "append message", http.MethodPost, r.c.endpoint(sessionPath(id)+"/messages", owner, true), normalize.ToRecord(msg), nil)
}
