// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package optimistic implements apply-then-reconcile state mutations.
//
// A Command applies its local effect immediately and captures the inverse,
// issues the remote effect, and then either swaps in the confirmed state or
// runs the captured inverse. Local sections run under the caller's lock;
// the remote call never does.
//
// # Usage
//
//	_, err := optimistic.Run(ctx, &s.mu, optimistic.Command[struct{}]{
//	    Apply:  func() (func(), error) { old := s.name; s.name = n; return func() { s.name = old }, nil },
//	    Remote: func(ctx context.Context) (struct{}, error) { return struct{}{}, api.Rename(ctx, n) },
//	})
package optimistic

import (
	"context"
	"sync"
)

// Command describes one optimistic mutation.
type Command[T any] struct {
	// Apply performs the local effect and returns its inverse. A non-nil
	// error aborts the command before any remote call. Runs under the lock.
	Apply func() (undo func(), err error)

	// Remote performs the backend effect. Runs without the lock.
	Remote func(ctx context.Context) (T, error)

	// Confirm swaps in the confirmed state on success. Runs under the lock.
	// Optional.
	Confirm func(result T)

	// Changed is invoked after every locked section that touched state,
	// outside the lock. Optional.
	Changed func()
}

// Run executes cmd. The remote error, if any, is returned after the inverse
// has been applied.
func Run[T any](ctx context.Context, mu sync.Locker, cmd Command[T]) (T, error) {
	var zero T

	mu.Lock()
	undo, err := cmd.Apply()
	mu.Unlock()
	if err != nil {
		return zero, err
	}
	notify(cmd.Changed)

	result, err := cmd.Remote(ctx)

	mu.Lock()
	if err != nil {
		if undo != nil {
			undo()
		}
	} else if cmd.Confirm != nil {
		cmd.Confirm(result)
	}
	mu.Unlock()
	notify(cmd.Changed)

	if err != nil {
		return zero, err
	}
	return result, nil
}

func notify(fn func()) {
	if fn != nil {
		fn()
	}
}
