// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chatsync/internal/backend/backendtest"
	"github.com/jeranaias/rigrun-chatsync/internal/model"
	"github.com/jeranaias/rigrun-chatsync/internal/normalize"
)

func seeded() *backendtest.Records {
	recs := backendtest.NewRecords(model.Session{ID: "s1", Name: "one"})
	recs.Seed("s1",
		normalize.Record{"role": "user", "content": "hi"},
		nil,
		normalize.Record{"role": "assistant", "message": "hello"},
	)
	return recs
}

func TestCache_MissThenHit(t *testing.T) {
	recs := seeded()
	c := NewCache(recs, "owner")
	ctx := context.Background()

	first, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, model.RoleUser, first[0].Role)
	assert.Equal(t, model.RoleAgent, first[1].Role)
	assert.Equal(t, "hello", first[1].Content)

	second, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, first, second, "cache hit returns the identical sequence")
	assert.Equal(t, 1, recs.Calls(backendtest.OpListMessages), "cache hit makes no network call")
}

func TestCache_ReturnsCopies(t *testing.T) {
	c := NewCache(seeded(), "owner")
	got, err := c.Get(context.Background(), "s1")
	require.NoError(t, err)
	got[0].Content = "mutated"

	again, _ := c.Peek("s1")
	assert.Equal(t, "hi", again[0].Content)
}

func TestCache_FetchErrorNotCached(t *testing.T) {
	recs := seeded()
	recs.Fail(backendtest.OpListMessages, backendtest.ErrOffline)
	c := NewCache(recs, "owner")

	_, err := c.Get(context.Background(), "s1")
	var terr *model.TransportError
	require.ErrorAs(t, err, &terr)

	_, ok := c.Peek("s1")
	assert.False(t, ok)

	msgs, err := c.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestCache_Invalidate(t *testing.T) {
	recs := seeded()
	c := NewCache(recs, "owner")
	ctx := context.Background()

	_, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	c.Invalidate("s1")

	_, ok := c.Peek("s1")
	assert.False(t, ok)
	_, err = c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, recs.Calls(backendtest.OpListMessages))
}

func TestCache_InvalidateDuringFetchDoesNotResurrect(t *testing.T) {
	recs := seeded()
	gate := recs.Hold(backendtest.OpListMessages)
	c := NewCache(recs, "owner")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Get(context.Background(), "s1")
	}()
	gate.WaitEntered()
	c.Invalidate("s1")
	gate.Release(nil)
	<-done

	_, ok := c.Peek("s1")
	assert.False(t, ok)
}

func TestCache_AppendAndPersist(t *testing.T) {
	recs := seeded()
	c := NewCache(recs, "owner")
	ctx := context.Background()
	_, err := c.Get(ctx, "s1")
	require.NoError(t, err)

	msg := model.NewUserMessage("new")
	require.NoError(t, c.AppendAndPersist(ctx, "s1", msg))

	cached, _ := c.Peek("s1")
	require.Len(t, cached, 3)
	assert.Equal(t, "new", cached[2].Content)
	assert.Len(t, recs.StoredMessages("s1"), 4, "three seeded records (one nil) plus the new one")
}

func TestCache_AppendKeptWhenPersistFails(t *testing.T) {
	recs := seeded()
	c := NewCache(recs, "owner")
	ctx := context.Background()
	_, err := c.Get(ctx, "s1")
	require.NoError(t, err)

	recs.Fail(backendtest.OpAppendMessage, backendtest.ErrOffline)
	err = c.AppendAndPersist(ctx, "s1", model.NewUserMessage("kept"))
	require.Error(t, err)

	cached, _ := c.Peek("s1")
	require.Len(t, cached, 3)
	assert.Equal(t, "kept", cached[2].Content)
}

func TestCache_AppendWithoutEntryDoesNotCreateOne(t *testing.T) {
	recs := seeded()
	c := NewCache(recs, "owner")

	require.NoError(t, c.AppendAndPersist(context.Background(), "s1", model.NewUserMessage("x")))
	_, ok := c.Peek("s1")
	assert.False(t, ok)
}
