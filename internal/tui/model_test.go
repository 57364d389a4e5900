// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tui

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chatsync/internal/backend"
	"github.com/jeranaias/rigrun-chatsync/internal/model"
	"github.com/jeranaias/rigrun-chatsync/internal/session"
	"github.com/jeranaias/rigrun-chatsync/internal/stream"
	"github.com/jeranaias/rigrun-chatsync/internal/teabridge"
	"github.com/jeranaias/rigrun-chatsync/internal/transcript"
)

type fakeClient struct {
	mu       sync.Mutex
	calls    []string
	sent     []string
	files    []backend.File
	sendErr  error
	selected string
}

func (f *fakeClient) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeClient) Refresh(ctx context.Context) error { f.record("refresh"); return nil }

func (f *fakeClient) CreateSession(ctx context.Context, name string) (model.Session, error) {
	f.record("create:" + name)
	return model.Session{ID: "new", Name: name}, nil
}

func (f *fakeClient) RenameSession(ctx context.Context, id, name string) error {
	f.record("rename:" + id + ":" + name)
	return nil
}

func (f *fakeClient) DeleteSession(ctx context.Context, id string) error {
	f.record("delete:" + id)
	return nil
}

func (f *fakeClient) SelectSession(ctx context.Context, id string) ([]model.Message, error) {
	f.record("select:" + id)
	f.selected = id
	return nil, nil
}

func (f *fakeClient) Send(ctx context.Context, text string, files []backend.File) (stream.Result, error) {
	f.record("send:" + text)
	f.sent = append(f.sent, text)
	f.files = append(f.files, files...)
	return stream.Result{State: stream.StateCompleted}, f.sendErr
}

// collect runs cmd and every command batched inside it, returning the
// messages produced.
func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, collect(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func newModel(t *testing.T) (Model, *fakeClient) {
	t.Helper()
	fc := &fakeClient{}
	m := New(context.Background(), fc)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model), fc
}

func update(m Model, msg tea.Msg) (Model, tea.Cmd) {
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func typeLine(m Model, line string) (Model, tea.Cmd) {
	m.input.SetValue(line)
	return update(m, tea.KeyMsg{Type: tea.KeyEnter})
}

func snapshot(active string, ids ...string) teabridge.SessionsMsg {
	ss := make([]model.Session, len(ids))
	for i, id := range ids {
		ss[i] = model.Session{ID: id, Name: "Session " + id}
	}
	return teabridge.SessionsMsg{Snapshot: session.Snapshot{Sessions: ss, ActiveID: active}}
}

func TestModel_RefreshSelectsFirstSession(t *testing.T) {
	m, fc := newModel(t)
	m, _ = update(m, snapshot("", "a", "b"))

	m, cmd := update(m, opDoneMsg{action: "refresh"})
	collect(cmd)

	assert.Contains(t, fc.calls, "select:a")
	assert.Contains(t, m.View(), "Session a")
}

func TestModel_TranscriptRendersMessages(t *testing.T) {
	m, _ := newModel(t)
	m, _ = update(m, snapshot("a", "a"))

	user := model.NewUserMessage("hello there")
	user.Attachments = []model.Attachment{model.NewTemporaryAttachment("a.png", "image/png")}
	agent := model.NewPlaceholder("Thinking...")
	m, _ = update(m, teabridge.TranscriptMsg{Update: transcript.Update{
		Kind:      transcript.KindAppend,
		SessionID: "a",
		Messages:  []model.Message{user, agent},
	}})

	out := m.renderTranscript()
	assert.Contains(t, out, "hello there")
	assert.Contains(t, out, "[uploading] a.png")
	assert.Contains(t, out, "Thinking...")
}

func TestModel_SlashCommands(t *testing.T) {
	m, fc := newModel(t)
	m, _ = update(m, snapshot("a", "a", "b"))

	var cmd tea.Cmd
	m, cmd = typeLine(m, "/new Trip Plan")
	collect(cmd)
	m, cmd = typeLine(m, "/rename Holiday")
	collect(cmd)
	m, cmd = typeLine(m, "/delete")
	collect(cmd)
	_, cmd = update(m, tea.KeyMsg{Type: tea.KeyCtrlN})
	collect(cmd)

	assert.Equal(t, []string{"create:Trip Plan", "rename:a:Holiday", "delete:a", "select:b"}, fc.calls)
}

func TestModel_SendWithAttachment(t *testing.T) {
	m, fc := newModel(t)
	m, _ = update(m, snapshot("a", "a"))

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	m, _ = typeLine(m, "/attach "+path)
	require.Len(t, m.pending, 1)

	m, cmd := typeLine(m, "Hello")
	assert.True(t, m.sending)
	assert.Empty(t, m.pending)

	for _, msg := range collect(cmd) {
		m, _ = update(m, msg)
	}
	assert.False(t, m.sending)
	assert.Equal(t, []string{"Hello"}, fc.sent)
	require.Len(t, fc.files, 1)
	assert.Equal(t, "notes.txt", fc.files[0].Name)
}

func TestModel_SendErrorShowsStatus(t *testing.T) {
	m, fc := newModel(t)
	fc.sendErr = &model.ValidationError{Field: "session", Message: "no session is active"}

	m, cmd := typeLine(m, "Hello")
	for _, msg := range collect(cmd) {
		m, _ = update(m, msg)
	}

	assert.True(t, m.failed)
	assert.Contains(t, m.renderStatus(), "no session is active")
}

func TestModel_UnknownCommand(t *testing.T) {
	m, _ := newModel(t)
	m, cmd := typeLine(m, "/frobnicate")
	assert.Nil(t, cmd)
	assert.True(t, m.failed)

	m, _ = typeLine(m, "/attach /does/not/exist")
	assert.True(t, m.failed)
	assert.Contains(t, m.status, "attach failed")
}
