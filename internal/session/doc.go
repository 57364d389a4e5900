// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session keeps the user's session list in sync with the backend.
//
// Every mutation is optimistic: the local list changes before the backend
// answers, and a failure puts back exactly what the mutation changed. The
// store also owns the active-session pointer and binds the working message
// list to it.
//
// # Key Types
//
//   - Store: the session list, active pointer and pending rename chains
//   - Snapshot: what observers receive after every visible change
//
// # Usage
//
//	store := session.NewStore(records, cache, list, owner)
//	if err := store.List(ctx); err != nil {
//	    // list left untouched
//	}
//	s, err := store.Create(ctx, "Trip Plan")
//	err = store.Select(ctx, s.ID)
//
// Methods block until the backend answers, but the local effect is visible
// to observers before the remote call starts. Callers that want
// fire-and-forget semantics run them in a goroutine.
package session
