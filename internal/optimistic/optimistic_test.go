// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package optimistic

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	mu    sync.Mutex
	value int
}

func (c *counter) add(delta int, remote error) Command[int] {
	return Command[int]{
		Apply: func() (func(), error) {
			prev := c.value
			c.value += delta
			return func() { c.value = prev }, nil
		},
		Remote: func(context.Context) (int, error) {
			if remote != nil {
				return 0, remote
			}
			return 100, nil
		},
		Confirm: func(v int) { c.value = v },
	}
}

func TestRun_Confirms(t *testing.T) {
	c := &counter{}
	got, err := Run(context.Background(), &c.mu, c.add(5, nil))
	require.NoError(t, err)
	assert.Equal(t, 100, got)
	assert.Equal(t, 100, c.value)
}

func TestRun_UndoesOnFailure(t *testing.T) {
	c := &counter{value: 7}
	boom := errors.New("boom")

	_, err := Run(context.Background(), &c.mu, c.add(5, boom))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 7, c.value)
}

func TestRun_ApplyErrorSkipsRemote(t *testing.T) {
	var mu sync.Mutex
	called := false
	invalid := errors.New("invalid")

	_, err := Run(context.Background(), &mu, Command[struct{}]{
		Apply: func() (func(), error) { return nil, invalid },
		Remote: func(context.Context) (struct{}, error) {
			called = true
			return struct{}{}, nil
		},
	})
	require.ErrorIs(t, err, invalid)
	assert.False(t, called)
}

func TestRun_LocalEffectVisibleDuringRemote(t *testing.T) {
	c := &counter{}
	seen := -1
	changes := 0

	cmd := c.add(3, nil)
	cmd.Remote = func(context.Context) (int, error) {
		c.mu.Lock()
		seen = c.value
		c.mu.Unlock()
		return 3, nil
	}
	cmd.Changed = func() { changes++ }

	_, err := Run(context.Background(), &c.mu, cmd)
	require.NoError(t, err)
	assert.Equal(t, 3, seen)
	assert.Equal(t, 2, changes, "one notification for apply and one for reconcile")
}
