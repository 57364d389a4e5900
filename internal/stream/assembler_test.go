// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chatsync/internal/backend"
	"github.com/jeranaias/rigrun-chatsync/internal/backend/backendtest"
	"github.com/jeranaias/rigrun-chatsync/internal/model"
	"github.com/jeranaias/rigrun-chatsync/internal/transcript"
)

// =============================================================================
// HELPERS
// =============================================================================

type persisted struct {
	sessionID string
	msg       model.Message
	ctxErr    error
}

type recordingPersister struct {
	mu   sync.Mutex
	msgs []persisted
	err  error
}

func (p *recordingPersister) AppendAndPersist(ctx context.Context, sessionID string, msg model.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, persisted{sessionID, msg, ctx.Err()})
	return p.err
}

func (p *recordingPersister) all() []persisted {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]persisted(nil), p.msgs...)
}

type updateLog struct {
	mu      sync.Mutex
	updates []transcript.Update
}

func watch(l *transcript.List) *updateLog {
	u := &updateLog{}
	l.Subscribe(func(upd transcript.Update) {
		u.mu.Lock()
		u.updates = append(u.updates, upd)
		u.mu.Unlock()
	})
	return u
}

func (u *updateLog) count(kind transcript.Kind) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, upd := range u.updates {
		if upd.Kind == kind {
			n++
		}
	}
	return n
}

func (u *updateLog) contents(kind transcript.Kind) []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []string
	for _, upd := range u.updates {
		if upd.Kind == kind {
			out = append(out, upd.Messages[upd.Index].Content)
		}
	}
	return out
}

func newTurn(l *transcript.List, sessionID string) Turn {
	view := l.Bind(sessionID, nil)
	return Turn{
		SessionID: sessionID,
		View:      view,
		Request:   backend.CompletionRequest{ConversationID: "conv-" + sessionID, Text: "Hello"},
	}
}

// =============================================================================
// ASSEMBLER TESTS
// =============================================================================

func TestRun_AccumulatesChunks(t *testing.T) {
	list := transcript.New()
	turn := newTurn(list, "s1")
	log := watch(list)
	store := &recordingPersister{}
	a := NewAssembler(backendtest.NewCompletion(nil, "Hi", " there", "!"), list, store, Options{})

	res := a.Run(context.Background(), turn)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, "Hi there!", res.Message.Content)
	assert.False(t, res.Message.IsStreaming)

	assert.Equal(t, 1, log.count(transcript.KindAppend))
	assert.Equal(t, 3, log.count(transcript.KindChunk))
	assert.Equal(t, []string{"Hi", "Hi there", "Hi there!"}, log.contents(transcript.KindChunk))
	assert.Equal(t, 1, log.count(transcript.KindFinalized))

	msgs := list.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleAgent, msgs[0].Role)
	assert.Equal(t, "Hi there!", msgs[0].Content)

	got := store.all()
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].sessionID)
	assert.Equal(t, "Hi there!", got[0].msg.Content)
}

func TestRun_PlaceholderShownBeforeFirstChunk(t *testing.T) {
	list := transcript.New()
	turn := newTurn(list, "s1")
	completion := backendtest.NewCompletion(nil, "a")
	step := completion.Stepped()
	a := NewAssembler(completion, list, &recordingPersister{}, Options{ThinkingIndicator: "..."})

	done := make(chan Result, 1)
	go func() { done <- a.Run(context.Background(), turn) }()

	require.Eventually(t, func() bool { return list.Len() == 1 }, timeout, tick)
	placeholder := list.Messages()[0]
	assert.Equal(t, "...", placeholder.Content)
	assert.True(t, placeholder.IsStreaming)

	step <- struct{}{}
	res := <-done
	assert.Equal(t, "a", res.Message.Content)
}

func TestRun_EmptyChunkStillCountsAsUpdate(t *testing.T) {
	list := transcript.New()
	turn := newTurn(list, "s1")
	log := watch(list)
	euro := []byte("€")
	a := NewAssembler(backendtest.NewRawCompletion(euro[:1], euro[1:]), list, &recordingPersister{}, Options{})

	res := a.Run(context.Background(), turn)

	assert.Equal(t, "€", res.Message.Content)
	assert.Equal(t, 2, log.count(transcript.KindChunk))
	assert.Equal(t, []string{"", "€"}, log.contents(transcript.KindChunk))
}

func TestRun_TransportFailureBecomesFailureMessage(t *testing.T) {
	list := transcript.New()
	turn := newTurn(list, "s1")
	store := &recordingPersister{}
	a := NewAssembler(backendtest.NewCompletion(backendtest.ErrOffline, "partial"), list, store, Options{FailureMessage: "failed"})

	res := a.Run(context.Background(), turn)

	assert.Equal(t, StateFailed, res.State)
	var te *model.TransportError
	require.ErrorAs(t, res.Err, &te)
	assert.Equal(t, "failed", res.Message.Content)
	assert.Equal(t, model.RoleAgent, res.Message.Role)

	msgs := list.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "failed", msgs[0].Content)
	assert.False(t, msgs[0].IsStreaming)

	got := store.all()
	require.Len(t, got, 1)
	assert.Equal(t, "failed", got[0].msg.Content)
}

func TestRun_CancelledStreamStillPersistsFailure(t *testing.T) {
	list := transcript.New()
	turn := newTurn(list, "s1")
	completion := backendtest.NewCompletion(nil, "partial", "rest")
	step := completion.Stepped()
	store := &recordingPersister{}
	a := NewAssembler(completion, list, store, Options{FailureMessage: "failed"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan Result, 1)
	go func() { done <- a.Run(ctx, turn) }()

	step <- struct{}{}
	require.Eventually(t, func() bool {
		msgs := list.Messages()
		return len(msgs) == 1 && msgs[0].Content == "partial"
	}, timeout, tick)
	cancel()
	res := <-done

	assert.Equal(t, StateFailed, res.State)
	assert.NoError(t, res.PersistErr)
	got := store.all()
	require.Len(t, got, 1)
	assert.Equal(t, "failed", got[0].msg.Content)
	assert.NoError(t, got[0].ctxErr, "persistence must not see the cancellation")
}

func TestRun_SessionSwitchDetachesButPersistsOriginal(t *testing.T) {
	list := transcript.New()
	turn := newTurn(list, "s1")
	completion := backendtest.NewCompletion(nil, "one ", "two ", "three")
	step := completion.Stepped()
	store := &recordingPersister{}
	a := NewAssembler(completion, list, store, Options{})

	done := make(chan Result, 1)
	go func() { done <- a.Run(context.Background(), turn) }()

	step <- struct{}{}
	require.Eventually(t, func() bool {
		msgs := list.Messages()
		return len(msgs) == 1 && msgs[0].Content == "one "
	}, timeout, tick)

	other := []model.Message{model.NewUserMessage("elsewhere")}
	list.Bind("s2", other)
	step <- struct{}{}
	step <- struct{}{}
	res := <-done

	assert.Equal(t, "one two three", res.Message.Content)
	msgs := list.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "elsewhere", msgs[0].Content)

	got := store.all()
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].sessionID)
	assert.Equal(t, "one two three", got[0].msg.Content)
}

func TestRun_WaitsForUserMessageBeforePersisting(t *testing.T) {
	list := transcript.New()
	turn := newTurn(list, "s1")
	after := make(chan struct{})
	turn.After = after
	store := &recordingPersister{}
	a := NewAssembler(backendtest.NewCompletion(nil, "reply"), list, store, Options{})

	done := make(chan Result, 1)
	go func() { done <- a.Run(context.Background(), turn) }()

	require.Eventually(t, func() bool {
		msgs := list.Messages()
		return len(msgs) == 1 && !msgs[0].IsStreaming
	}, timeout, tick)
	assert.Empty(t, store.all())

	close(after)
	res := <-done
	assert.NoError(t, res.PersistErr)
	assert.Len(t, store.all(), 1)
}

func TestRun_ForwardsRequest(t *testing.T) {
	list := transcript.New()
	turn := newTurn(list, "s1")
	completion := backendtest.NewCompletion(nil, "x")
	a := NewAssembler(completion, list, &recordingPersister{}, Options{})

	a.Run(context.Background(), turn)

	reqs := completion.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "conv-s1", reqs[0].ConversationID)
	assert.Equal(t, "Hello", reqs[0].Text)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "awaiting_first_chunk", StateAwaitingFirstChunk.String())
	assert.Equal(t, "unknown", State(99).String())
}
