// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chatsync/internal/model"
)

func TestRole(t *testing.T) {
	tests := []struct {
		label string
		want  model.Role
	}{
		{"user", model.RoleUser},
		{"Human", model.RoleUser},
		{" USER ", model.RoleUser},
		{"assistant", model.RoleAgent},
		{"Assistant", model.RoleAgent},
		{"model", model.RoleAgent},
		{"agent", model.RoleAgent},
		{"", model.RoleAgent},
		{"system", model.RoleAgent},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, Role(tt.label))
		})
	}
}

func TestMessage_TextFieldPrecedence(t *testing.T) {
	msg, ok := Message(Record{"role": "assistant", "message": "from message", "text": "from text"})
	require.True(t, ok)
	assert.Equal(t, model.RoleAgent, msg.Role)
	assert.Equal(t, "from message", msg.Content)

	msg, ok = Message(Record{"role": "user", "content": "", "text": "fallback"})
	require.True(t, ok)
	assert.Equal(t, "fallback", msg.Content)

	msg, ok = Message(Record{"role": "user", "content": 42})
	require.True(t, ok)
	assert.Equal(t, "", msg.Content, "non-string text defaults to empty")
}

func TestMessage_Timestamp(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	old := Now
	Now = func() time.Time { return fixed }
	t.Cleanup(func() { Now = old })

	msg, _ := Message(Record{"role": "user", "content": "hi"})
	assert.True(t, msg.Timestamp.Equal(fixed), "missing timestamp defaults to now")

	msg, _ = Message(Record{"role": "user", "created_at": float64(1700000000)})
	assert.Equal(t, int64(1700000000), msg.Timestamp.Unix())

	msg, _ = Message(Record{"role": "user", "timestamp": "2024-01-02T03:04:05Z"})
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), msg.Timestamp.UTC())
}

func TestMessages_FiltersNil(t *testing.T) {
	recs := []Record{
		{"role": "user", "content": "one"},
		nil,
		{"role": "assistant", "content": "two"},
	}

	msgs := Messages(recs)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "two", msgs[1].Content)
	assert.False(t, msgs[1].IsStreaming)
}

func TestMessages_DropsSystemAndToolTurns(t *testing.T) {
	recs := []Record{
		{"role": "system", "content": "You are helpful."},
		{"role": "user", "content": "one"},
		{"role": "Tool", "content": `{"result":42}`},
		{"role": " function ", "content": "call"},
		{"role": "assistant", "content": "two"},
		{"role": "narrator", "content": "three"},
	}

	msgs := Messages(recs)
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "two", msgs[1].Content)
	assert.Equal(t, model.RoleAgent, msgs[2].Role, "other unknown roles still show as agent turns")

	_, ok := Message(Record{"role": "developer", "content": "hidden"})
	assert.False(t, ok)
}

func TestMessage_Attachments(t *testing.T) {
	msg, ok := Message(Record{
		"role":    "user",
		"content": "see files",
		"files": []any{
			map[string]any{"name": "a.png", "type": "image/png", "url": "https://cdn.example/a.png"},
			map[string]any{"name": "b.pdf", "mime_type": "application/pdf", "url": "local:123/b.pdf"},
			"garbage",
		},
	})
	require.True(t, ok)
	require.Len(t, msg.Attachments, 2)
	assert.False(t, msg.Attachments[0].IsTemporary)
	assert.Equal(t, "image/png", msg.Attachments[0].MimeType)
	assert.True(t, msg.Attachments[1].IsTemporary)
}

func TestMessage_KeepsBackendID(t *testing.T) {
	msg, _ := Message(Record{"id": "server-1", "role": "user"})
	assert.Equal(t, "server-1", msg.ID)
}

func TestToRecord_RoundTripsThroughMessage(t *testing.T) {
	orig := model.NewAgentMessage("answer")
	orig.Attachments = []model.Attachment{{Name: "a.png", MimeType: "image/png", AccessURL: "https://cdn.example/a.png"}}

	rec := ToRecord(orig)
	assert.Equal(t, "assistant", rec["role"])

	back, ok := Message(rec)
	require.True(t, ok)
	assert.Equal(t, orig.ID, back.ID)
	assert.Equal(t, model.RoleAgent, back.Role)
	assert.Equal(t, "answer", back.Content)
	assert.True(t, orig.Timestamp.Equal(back.Timestamp))
	assert.Equal(t, orig.Attachments, back.Attachments)
}

func TestTimestamp_Formats(t *testing.T) {
	want := time.Unix(1700000000, 0)
	for _, v := range []any{float64(1700000000), "1700000000", want.UTC().Format(time.RFC3339), want} {
		got, ok := Timestamp(v)
		require.True(t, ok, "%v", v)
		assert.True(t, want.Equal(got), "%v", v)
	}
	_, ok := Timestamp("yesterday")
	assert.False(t, ok)
}
