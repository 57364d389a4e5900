// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transcript holds the working message list: the in-memory,
// currently displayed messages of the active session.
//
// Writers hold a view context obtained from Bind or View. Rebinding the list
// to another session cancels the previous view, and writes made through a
// cancelled view are dropped. A stream that outlives a session switch keeps
// running but can no longer touch what the user sees.
package transcript

import (
	"context"
	"sync"

	"github.com/jeranaias/rigrun-chatsync/internal/model"
)

// =============================================================================
// UPDATES
// =============================================================================

// Kind classifies an observable change.
type Kind int

const (
	KindReset     Kind = iota // list rebound or cleared
	KindAppend                // message appended
	KindReplace               // slot replaced (attachment resolution, failure)
	KindChunk                 // streamed content grew
	KindFinalized             // streaming flag cleared, content unchanged
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindReset:
		return "reset"
	case KindAppend:
		return "append"
	case KindReplace:
		return "replace"
	case KindChunk:
		return "chunk"
	case KindFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Update is delivered to observers after every change.
type Update struct {
	Kind      Kind
	SessionID string
	Index     int // affected slot; -1 for resets
	Messages  []model.Message
}

// =============================================================================
// LIST
// =============================================================================

// List is the working message list.
type List struct {
	// notifyMu serializes mutation+delivery so observers see updates in the
	// order they were applied. Observers must not write to the list.
	notifyMu sync.Mutex
	mu       sync.Mutex

	sessionID string
	messages  []model.Message
	view      context.Context
	cancel    context.CancelFunc

	observers map[int]func(Update)
	nextObs   int
}

// New creates an empty, unbound list.
func New() *List {
	l := &List{observers: make(map[int]func(Update))}
	l.view, l.cancel = context.WithCancel(context.Background())
	return l
}

// Bind replaces the contents with msgs for sessionID, detaches every writer
// holding the previous view, and returns the new view.
func (l *List) Bind(sessionID string, msgs []model.Message) context.Context {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	l.cancel()
	l.view, l.cancel = context.WithCancel(context.Background())
	l.sessionID = sessionID
	l.messages = model.CloneMessages(msgs)
	view := l.view
	upd := l.updateLocked(KindReset, -1)
	l.mu.Unlock()

	l.deliver(upd)
	return view
}

// Clear unbinds the list. Equivalent to Bind("", nil).
func (l *List) Clear() {
	l.Bind("", nil)
}

// Unbind clears the list only if it is bound to sessionID. Reports whether
// it did.
func (l *List) Unbind(sessionID string) bool {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	if l.sessionID != sessionID {
		l.mu.Unlock()
		return false
	}
	l.cancel()
	l.view, l.cancel = context.WithCancel(context.Background())
	l.sessionID = ""
	l.messages = nil
	upd := l.updateLocked(KindReset, -1)
	l.mu.Unlock()

	l.deliver(upd)
	return true
}

// Rekey moves the binding from one session id to another without detaching
// writers, used when a provisional session is confirmed under a new id.
func (l *List) Rekey(from, to string) bool {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	if l.sessionID != from {
		l.mu.Unlock()
		return false
	}
	l.sessionID = to
	upd := l.updateLocked(KindReset, -1)
	l.mu.Unlock()

	l.deliver(upd)
	return true
}

// View returns the current view context and the session it is bound to.
func (l *List) View() (context.Context, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.view, l.sessionID
}

// SessionID returns the session the list is bound to ("" when unbound).
func (l *List) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionID
}

// Messages returns a copy of the displayed messages.
func (l *List) Messages() []model.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return model.CloneMessages(l.messages)
}

// Len returns the number of displayed messages.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

// Append adds msg at the end. Returns false if view is detached.
func (l *List) Append(view context.Context, msg model.Message) bool {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	if view.Err() != nil {
		l.mu.Unlock()
		return false
	}
	l.messages = append(l.messages, msg.Clone())
	upd := l.updateLocked(KindAppend, len(l.messages)-1)
	l.mu.Unlock()

	l.deliver(upd)
	return true
}

// Replace swaps the slot holding msg.ID for a copy of msg. Returns false if
// view is detached or the slot no longer exists.
func (l *List) Replace(view context.Context, msg model.Message, kind Kind) bool {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	if view.Err() != nil {
		l.mu.Unlock()
		return false
	}
	idx := l.indexLocked(msg.ID)
	if idx < 0 {
		l.mu.Unlock()
		return false
	}
	l.messages[idx] = msg.Clone()
	upd := l.updateLocked(kind, idx)
	l.mu.Unlock()

	l.deliver(upd)
	return true
}

// =============================================================================
// OBSERVERS
// =============================================================================

// Subscribe registers fn for every subsequent update and returns a function
// that removes it.
func (l *List) Subscribe(fn func(Update)) (unsubscribe func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextObs
	l.nextObs++
	l.observers[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.observers, id)
	}
}

// updateLocked builds an update carrying a copy of the messages. Caller
// holds mu; deliver copies the observer set.
func (l *List) updateLocked(kind Kind, idx int) Update {
	return Update{
		Kind:      kind,
		SessionID: l.sessionID,
		Index:     idx,
		Messages:  model.CloneMessages(l.messages),
	}
}

func (l *List) deliver(upd Update) {
	l.mu.Lock()
	fns := make([]func(Update), 0, len(l.observers))
	for i := 0; i < l.nextObs; i++ {
		if fn, ok := l.observers[i]; ok {
			fns = append(fns, fn)
		}
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(upd)
	}
}

func (l *List) indexLocked(id string) int {
	for i := len(l.messages) - 1; i >= 0; i-- {
		if l.messages[i].ID == id {
			return i
		}
	}
	return -1
}
