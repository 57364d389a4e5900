// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chatsync/internal/backend"
	"github.com/jeranaias/rigrun-chatsync/internal/backend/backendtest"
	"github.com/jeranaias/rigrun-chatsync/internal/model"
	"github.com/jeranaias/rigrun-chatsync/internal/stream"
)

const (
	timeout = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fixture struct {
	client     *Client
	records    *backendtest.Records
	objects    *backendtest.Objects
	completion *backendtest.Completion
}

func newFixture(t *testing.T, completion *backendtest.Completion) *fixture {
	t.Helper()
	f := &fixture{
		records: backendtest.NewRecords(
			model.Session{ID: "s1", Name: "First", RemoteConversationID: "conv-s1"},
			model.Session{ID: "s2", Name: "Second", RemoteConversationID: "conv-s2"},
		),
		objects:    backendtest.NewObjects(),
		completion: completion,
	}
	c, err := Login(Options{
		Owner:             "alice",
		Records:           f.records,
		Objects:           f.objects,
		Completion:        completion,
		ThinkingIndicator: "...",
		FailureMessage:    "failed",
	})
	require.NoError(t, err)
	t.Cleanup(c.Logout)
	f.client = c

	require.NoError(t, c.Refresh(context.Background()))
	_, err = c.SelectSession(context.Background(), "s1")
	require.NoError(t, err)
	return f
}

// =============================================================================
// LOGIN TESTS
// =============================================================================

func TestLogin_Validation(t *testing.T) {
	_, err := Login(Options{Owner: " "})
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "owner", ve.Field)

	_, err = Login(Options{Owner: "alice"})
	require.ErrorAs(t, err, &ve)
}

func TestLogout_RejectsFurtherCalls(t *testing.T) {
	f := newFixture(t, backendtest.NewCompletion(nil, "x"))
	f.client.Logout()
	f.client.Logout()

	_, err := f.client.Send(context.Background(), "Hello", nil)
	assert.ErrorIs(t, err, ErrLoggedOut)
	assert.ErrorIs(t, f.client.Refresh(context.Background()), ErrLoggedOut)
	assert.Empty(t, f.client.Transcript().SessionID())
}

// =============================================================================
// SEND TESTS
// =============================================================================

func TestSend_Hello(t *testing.T) {
	f := newFixture(t, backendtest.NewCompletion(nil, "Hi", " there"))

	res, err := f.client.Send(context.Background(), "Hello", nil)
	require.NoError(t, err)

	assert.Equal(t, stream.StateCompleted, res.State)
	assert.Equal(t, "Hi there", res.Message.Content)

	msgs := f.client.Transcript().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, model.RoleAgent, msgs[1].Role)
	assert.Equal(t, "Hi there", msgs[1].Content)

	stored := f.records.StoredMessages("s1")
	require.Len(t, stored, 2)
	assert.Equal(t, "user", stored[0]["role"])
	assert.Equal(t, "Hello", stored[0]["content"])
	assert.Equal(t, "assistant", stored[1]["role"])
	assert.Equal(t, "Hi there", stored[1]["content"])
	assert.Equal(t, 2, f.records.Calls(backendtest.OpAppendMessage))

	reqs := f.completion.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "conv-s1", reqs[0].ConversationID)

	// The cached history now holds the turn: reselecting makes no fetch.
	_, err = f.client.SelectSession(context.Background(), "s2")
	require.NoError(t, err)
	again, err := f.client.SelectSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, again, 2)
	assert.Equal(t, 2, f.records.Calls(backendtest.OpListMessages))
}

func TestSend_SwitchSessionMidStream(t *testing.T) {
	completion := backendtest.NewCompletion(nil, "one ", "two ", "three")
	step := completion.Stepped()
	f := newFixture(t, completion)

	done := make(chan stream.Result, 1)
	go func() {
		res, err := f.client.Send(context.Background(), "Hello", nil)
		assert.NoError(t, err)
		done <- res
	}()

	step <- struct{}{}
	require.Eventually(t, func() bool {
		msgs := f.client.Transcript().Messages()
		return len(msgs) == 2 && msgs[1].Content == "one "
	}, timeout, tick)

	_, err := f.client.SelectSession(context.Background(), "s2")
	require.NoError(t, err)
	step <- struct{}{}
	step <- struct{}{}
	res := <-done

	assert.Equal(t, "one two three", res.Message.Content)
	assert.Equal(t, "s2", f.client.Transcript().SessionID())
	assert.Empty(t, f.client.Transcript().Messages())

	stored := f.records.StoredMessages("s1")
	require.Len(t, stored, 2)
	assert.Equal(t, "one two three", stored[1]["content"])
	assert.Empty(t, f.records.StoredMessages("s2"))
}

func TestSend_TransportFailureShowsFailureMessage(t *testing.T) {
	f := newFixture(t, backendtest.NewCompletion(backendtest.ErrOffline, "par"))

	res, err := f.client.Send(context.Background(), "Hello", nil)
	require.NoError(t, err)

	assert.Equal(t, stream.StateFailed, res.State)
	msgs := f.client.Transcript().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "failed", msgs[1].Content)

	stored := f.records.StoredMessages("s1")
	require.Len(t, stored, 2)
	assert.Equal(t, "failed", stored[1]["content"])
}

func TestSend_CancelledReplyIsStillPersisted(t *testing.T) {
	completion := backendtest.NewCompletion(nil, "one ", "two")
	step := completion.Stepped()
	f := newFixture(t, completion)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan stream.Result, 1)
	go func() {
		res, err := f.client.Send(ctx, "Hello", nil)
		assert.NoError(t, err)
		done <- res
	}()

	step <- struct{}{}
	require.Eventually(t, func() bool {
		msgs := f.client.Transcript().Messages()
		return len(msgs) == 2 && msgs[1].Content == "one "
	}, timeout, tick)

	cancel()
	res := <-done

	assert.Equal(t, stream.StateFailed, res.State)
	assert.NoError(t, res.PersistErr)
	assert.Equal(t, "failed", f.client.Transcript().Messages()[1].Content)

	stored := f.records.StoredMessages("s1")
	require.Len(t, stored, 2)
	assert.Equal(t, "Hello", stored[0]["content"])
	assert.Equal(t, "failed", stored[1]["content"])
}

func TestSend_WithAttachments(t *testing.T) {
	f := newFixture(t, backendtest.NewCompletion(nil, "got it"))
	f.objects.FailName("broken")

	res, err := f.client.Send(context.Background(), "look", []backend.File{
		{Name: "a.txt", MimeType: "text/plain", Data: []byte("alpha")},
		{Name: "broken.bin", Data: []byte{0, 1, 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, "got it", res.Message.Content)

	user := f.client.Transcript().Messages()[0]
	require.Len(t, user.Attachments, 2)
	assert.False(t, user.Attachments[0].IsTemporary)
	assert.True(t, strings.HasPrefix(user.Attachments[0].AccessURL, "https://objects.test/alice/"))
	assert.True(t, user.Attachments[1].IsTemporary)

	stored := f.records.StoredMessages("s1")
	require.Len(t, stored, 2)
	storedFiles, ok := stored[0]["files"].([]any)
	require.True(t, ok)
	assert.Len(t, storedFiles, 2)

	reqs := f.completion.Requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Files, 2)
	assert.Equal(t, "application/octet-stream", reqs[0].Files[1].MimeType)
}

func TestSend_DeletedSessionIsNotResurrected(t *testing.T) {
	completion := backendtest.NewCompletion(nil, "late")
	step := completion.Stepped()
	f := newFixture(t, completion)

	done := make(chan stream.Result, 1)
	go func() {
		res, _ := f.client.Send(context.Background(), "Hello", nil)
		done <- res
	}()

	require.Eventually(t, func() bool { return f.client.Transcript().Len() == 2 }, timeout, tick)
	require.Eventually(t, func() bool { return f.records.Calls(backendtest.OpAppendMessage) == 1 }, timeout, tick)
	require.NoError(t, f.client.DeleteSession(context.Background(), "s1"))
	step <- struct{}{}
	res := <-done

	assert.Error(t, res.PersistErr)
	assert.Equal(t, 1, f.records.Calls(backendtest.OpAppendMessage), "only the user message reached the backend")
	assert.Empty(t, f.records.StoredMessages("s1"))
	assert.False(t, f.client.Sessions().Has("s1"))
}

func TestSend_Validation(t *testing.T) {
	f := newFixture(t, backendtest.NewCompletion(nil, "x"))
	var ve *model.ValidationError

	_, err := f.client.Send(context.Background(), "   ", nil)
	require.ErrorAs(t, err, &ve)

	gate := f.records.Hold(backendtest.OpCreate)
	created := make(chan error, 1)
	go func() {
		_, err := f.client.CreateSession(context.Background(), "New")
		created <- err
	}()
	gate.WaitEntered()

	_, err = f.client.Send(context.Background(), "Hello", nil)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "session", ve.Field)

	gate.Release(nil)
	require.NoError(t, <-created)
	assert.Empty(t, f.completion.Requests())
}

func TestHistory_DoesNotChangeActiveSession(t *testing.T) {
	f := newFixture(t, backendtest.NewCompletion(nil))
	f.records.Seed("s2", map[string]any{"role": "user", "content": "old"})

	msgs, err := f.client.History(context.Background(), "s2")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "old", msgs[0].Content)
	assert.Equal(t, "s1", f.client.Sessions().ActiveID())

	_, err = f.client.History(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrSessionNotFound)
}
