// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package normalize canonicalizes backend-shaped message records.
//
// Backends disagree on vocabulary: the agent may be called "assistant" or
// "model", and the text may live under "content", "message" or "text".
// Message maps one record onto model.Message; Messages maps a whole history
// and drops nil records and system or tool turns.
package normalize

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/jeranaias/rigrun-chatsync/internal/model"
)

// Record is a message as decoded from a backend, before normalization.
// A nil Record stands for a JSON null in the history array.
type Record map[string]any

// textFields are tried in order; the first non-empty string wins.
var textFields = []string{"content", "message", "text"}

var timeFields = []string{"timestamp", "created_at"}

var attachmentFields = []string{"files", "attachments"}

var roleAliases = map[string]model.Role{
	"user":      model.RoleUser,
	"human":     model.RoleUser,
	"agent":     model.RoleAgent,
	"assistant": model.RoleAgent,
	"model":     model.RoleAgent,
	"ai":        model.RoleAgent,
	"bot":       model.RoleAgent,
}

// hiddenRoles are backend bookkeeping turns that never reach the transcript.
var hiddenRoles = map[string]bool{
	"system":    true,
	"developer": true,
	"tool":      true,
	"function":  true,
}

var fold = cases.Fold()

// Now is the clock used for records without a timestamp.
var Now = time.Now

// =============================================================================
// NORMALIZATION
// =============================================================================

// Message converts a single record. ok is false for nil records and for
// system or tool turns.
func Message(rec Record) (msg model.Message, ok bool) {
	if rec == nil {
		return model.Message{}, false
	}
	label := stringField(rec, "role")
	if hiddenRoles[foldLabel(label)] {
		return model.Message{}, false
	}

	msg = model.NewMessage(Role(label), text(rec))
	if id := stringField(rec, "id"); id != "" {
		msg.ID = id
	}
	if ts, found := timestamp(rec); found {
		msg.Timestamp = ts
	} else {
		msg.Timestamp = Now()
	}
	msg.Attachments = attachments(rec)
	return msg, true
}

// Messages normalizes a history, preserving order and filtering the records
// Message rejects.
func Messages(recs []Record) []model.Message {
	out := make([]model.Message, 0, len(recs))
	for _, rec := range recs {
		if msg, ok := Message(rec); ok {
			out = append(out, msg)
		}
	}
	return out
}

// Role maps a backend role label onto the client vocabulary. Anything that
// is not recognisably the user is attributed to the agent.
func Role(label string) model.Role {
	if r, ok := roleAliases[foldLabel(label)]; ok {
		return r
	}
	return model.RoleAgent
}

func foldLabel(label string) string {
	return fold.String(strings.TrimSpace(label))
}

// =============================================================================
// ENCODING
// =============================================================================

// ToRecord encodes msg the way backends store it. Agent turns use the
// "assistant" role label.
func ToRecord(msg model.Message) Record {
	role := string(model.RoleUser)
	if msg.Role == model.RoleAgent {
		role = "assistant"
	}
	rec := Record{
		"id":        msg.ID,
		"role":      role,
		"content":   msg.Content,
		"timestamp": msg.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if len(msg.Attachments) > 0 {
		files := make([]any, len(msg.Attachments))
		for i, a := range msg.Attachments {
			files[i] = map[string]any{"name": a.Name, "type": a.MimeType, "url": a.AccessURL}
		}
		rec["files"] = files
	}
	return rec
}

// =============================================================================
// FIELD HELPERS
// =============================================================================

func text(rec Record) string {
	for _, field := range textFields {
		if s := stringField(rec, field); s != "" {
			return s
		}
	}
	return ""
}

func stringField(rec Record, key string) string {
	s, _ := rec[key].(string)
	return s
}

func timestamp(rec Record) (time.Time, bool) {
	for _, field := range timeFields {
		if t, ok := Timestamp(rec[field]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// Timestamp parses a backend time value: an RFC 3339 string or unix seconds
// (JSON numbers decode as float64).
func Timestamp(v any) (time.Time, bool) {
	switch v := v.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t, true
		}
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(secs, 0), true
		}
	case float64:
		return time.Unix(int64(v), 0), true
	case int64:
		return time.Unix(v, 0), true
	case int:
		return time.Unix(int64(v), 0), true
	case time.Time:
		return v, true
	}
	return time.Time{}, false
}

func attachments(rec Record) []model.Attachment {
	for _, field := range attachmentFields {
		raw, ok := rec[field].([]any)
		if !ok {
			continue
		}
		out := make([]model.Attachment, 0, len(raw))
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			att := model.Attachment{
				Name:      firstString(m, "name", "filename"),
				MimeType:  firstString(m, "mime_type", "type", "content_type"),
				AccessURL: firstString(m, "url", "access_url"),
			}
			att.IsTemporary = att.AccessURL == "" || model.IsLocalReference(att.AccessURL)
			out = append(out, att)
		}
		return out
	}
	return nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
