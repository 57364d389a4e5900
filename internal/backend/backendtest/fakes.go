// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backendtest provides scriptable in-memory collaborators for tests.
//
// Calls can be held at the boundary with Hold: the next call to that
// operation signals Entered and blocks until Release, which also decides the
// call's error. This makes "before any network response" assertions
// deterministic.
package backendtest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigrun-chatsync/internal/backend"
	"github.com/jeranaias/rigrun-chatsync/internal/model"
	"github.com/jeranaias/rigrun-chatsync/internal/normalize"
)

// Operation names accepted by Hold, Fail and Calls.
const (
	OpList          = "list"
	OpCreate        = "create"
	OpRename        = "rename"
	OpDelete        = "delete"
	OpListMessages  = "list_messages"
	OpAppendMessage = "append_message"
	OpPut           = "put"
)

// ErrOffline is a convenient transport failure cause.
var ErrOffline = errors.New("network unreachable")

// =============================================================================
// GATES
// =============================================================================

// Gate blocks one call until released.
type Gate struct {
	Entered chan struct{}
	result  chan error
}

// Release unblocks the held call, which then fails with err (nil = success).
func (g *Gate) Release(err error) {
	g.result <- err
}

// WaitEntered blocks until the held call has started.
func (g *Gate) WaitEntered() {
	<-g.Entered
}

type gates struct {
	mu    sync.Mutex
	held  map[string][]*Gate
	fails map[string][]error
	calls map[string]int
}

func newGates() gates {
	return gates{
		held:  make(map[string][]*Gate),
		fails: make(map[string][]error),
		calls: make(map[string]int),
	}
}

// Hold makes the next call to op block until the returned gate is released.
func (g *gates) Hold(op string) *Gate {
	g.mu.Lock()
	defer g.mu.Unlock()
	gate := &Gate{Entered: make(chan struct{}), result: make(chan error, 1)}
	g.held[op] = append(g.held[op], gate)
	return gate
}

// Fail makes the next call to op fail with err without blocking.
func (g *gates) Fail(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fails[op] = append(g.fails[op], err)
}

// Calls returns how many times op was invoked.
func (g *gates) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// enter records the call and resolves any scripted gate or failure.
func (g *gates) enter(op string) error {
	g.mu.Lock()
	g.calls[op]++
	var gate *Gate
	if q := g.held[op]; len(q) > 0 {
		gate, g.held[op] = q[0], q[1:]
	}
	var fail error
	if gate == nil {
		if q := g.fails[op]; len(q) > 0 {
			fail, g.fails[op] = q[0], q[1:]
		}
	}
	g.mu.Unlock()

	if gate != nil {
		close(gate.Entered)
		fail = <-gate.result
	}
	if fail != nil {
		return model.NewTransportError(op, 0, fail)
	}
	return nil
}

// =============================================================================
// RECORD STORE
// =============================================================================

// Records is an in-memory backend.RecordStore.
type Records struct {
	gates

	mu       sync.Mutex
	sessions []model.Session
	messages map[string][]normalize.Record
}

// NewRecords creates a store pre-populated with sessions (newest first).
func NewRecords(sessions ...model.Session) *Records {
	return &Records{
		gates:    newGates(),
		sessions: model.CloneSessions(sessions),
		messages: make(map[string][]normalize.Record),
	}
}

// Seed stores raw history records for a session.
func (r *Records) Seed(id string, recs ...normalize.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[id] = append(r.messages[id], recs...)
}

// Stored returns the persisted sessions.
func (r *Records) Stored() []model.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return model.CloneSessions(r.sessions)
}

// StoredMessages returns the records persisted for a session.
func (r *Records) StoredMessages(id string) []normalize.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]normalize.Record, len(r.messages[id]))
	copy(out, r.messages[id])
	return out
}

func (r *Records) ListSessions(ctx context.Context, owner string) ([]model.Session, error) {
	if err := r.enter(OpList); err != nil {
		return nil, err
	}
	return r.Stored(), nil
}

func (r *Records) CreateSession(ctx context.Context, owner, name string) (model.Session, error) {
	if err := r.enter(OpCreate); err != nil {
		return model.Session{}, err
	}
	id := uuid.NewString()
	s := model.Session{
		ID:                   id,
		Name:                 name,
		RemoteConversationID: "conv-" + id,
		CreatedAt:            time.Now(),
	}
	r.mu.Lock()
	r.sessions = append([]model.Session{s}, r.sessions...)
	r.mu.Unlock()
	return s, nil
}

func (r *Records) RenameSession(ctx context.Context, owner, id, name string) error {
	if err := r.enter(OpRename); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := model.IndexOfSession(r.sessions, id); i >= 0 {
		r.sessions[i].Name = name
		return nil
	}
	return model.NewTransportError(OpRename, 404, fmt.Errorf("no session %s", id))
}

func (r *Records) DeleteSession(ctx context.Context, owner, id string) error {
	if err := r.enter(OpDelete); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := model.IndexOfSession(r.sessions, id); i >= 0 {
		r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
	}
	delete(r.messages, id)
	return nil
}

func (r *Records) ListMessages(ctx context.Context, owner, id string) ([]normalize.Record, error) {
	if err := r.enter(OpListMessages); err != nil {
		return nil, err
	}
	return r.StoredMessages(id), nil
}

func (r *Records) AppendMessage(ctx context.Context, owner, id string, msg model.Message) error {
	if err := r.enter(OpAppendMessage); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return model.NewTransportError(OpAppendMessage, 0, err)
	}
	rec := normalize.ToRecord(msg)
	r.Seed(id, rec)
	return nil
}

// =============================================================================
// COMPLETION
// =============================================================================

// Completion replays scripted chunks.
type Completion struct {
	mu       sync.Mutex
	chunks   [][]byte
	err      error
	step     chan struct{}
	requests []backend.CompletionRequest
}

// NewCompletion streams chunks, then ends with err (nil = clean end).
func NewCompletion(err error, chunks ...string) *Completion {
	c := &Completion{err: err}
	for _, s := range chunks {
		c.chunks = append(c.chunks, []byte(s))
	}
	return c
}

// NewRawCompletion streams raw byte chunks, for encoding tests.
func NewRawCompletion(chunks ...[]byte) *Completion {
	return &Completion{chunks: chunks}
}

// Stepped makes every chunk wait for a receive on the returned channel's
// counterpart: send one value per chunk to let it through.
func (c *Completion) Stepped() chan<- struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = make(chan struct{})
	return c.step
}

// Requests returns every request received.
func (c *Completion) Requests() []backend.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]backend.CompletionRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

func (c *Completion) Stream(ctx context.Context, req backend.CompletionRequest) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		c.mu.Lock()
		c.requests = append(c.requests, req)
		chunks, err, step := c.chunks, c.err, c.step
		c.mu.Unlock()

		for _, chunk := range chunks {
			if step != nil {
				select {
				case <-step:
				case <-ctx.Done():
					yield(nil, model.NewTransportError("stream", 0, ctx.Err()))
					return
				}
			}
			if !yield(chunk, nil) {
				return
			}
		}
		if err != nil {
			yield(nil, model.NewTransportError("stream", 0, err))
		}
	}
}

// =============================================================================
// OBJECT STORE
// =============================================================================

// Objects is an in-memory backend.ObjectStore. Files whose name contains a
// string registered with FailName are rejected.
type Objects struct {
	gates

	mu        sync.Mutex
	failNames []string
	stored    map[string][]byte
}

// NewObjects creates an empty object store.
func NewObjects() *Objects {
	return &Objects{gates: newGates(), stored: make(map[string][]byte)}
}

// FailName makes every upload whose name contains substr fail.
func (o *Objects) FailName(substr string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failNames = append(o.failNames, substr)
}

// Stored returns the bytes stored under url.
func (o *Objects) Stored(url string) ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.stored[url]
	return b, ok
}

func (o *Objects) Put(ctx context.Context, owner string, f backend.File) (string, error) {
	if err := o.enter(OpPut); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", model.NewTransportError(OpPut, 0, err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.failNames {
		if strings.Contains(f.Name, s) {
			return "", model.NewTransportError(OpPut, 500, fmt.Errorf("rejected %s", f.Name))
		}
	}
	url := "https://objects.test/" + owner + "/" + uuid.NewString() + "/" + f.Name
	o.stored[url] = append([]byte(nil), f.Data...)
	return url, nil
}
