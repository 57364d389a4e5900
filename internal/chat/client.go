// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat ties the session store, history cache, working list, upload
// pipeline and response assembler into one application context.
//
// A Client exists from Login to Logout and is scoped to one owner. After
// Logout every operation returns ErrLoggedOut, streams still in flight are
// detached from the working list, and their results are no longer persisted.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/jeranaias/rigrun-chatsync/internal/backend"
	"github.com/jeranaias/rigrun-chatsync/internal/history"
	"github.com/jeranaias/rigrun-chatsync/internal/logging"
	"github.com/jeranaias/rigrun-chatsync/internal/model"
	"github.com/jeranaias/rigrun-chatsync/internal/session"
	"github.com/jeranaias/rigrun-chatsync/internal/stream"
	"github.com/jeranaias/rigrun-chatsync/internal/transcript"
	"github.com/jeranaias/rigrun-chatsync/internal/upload"
)

// ErrLoggedOut is returned by every Client operation after Logout.
var ErrLoggedOut = errors.New("chat: logged out")

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures a Client.
type Options struct {
	Owner string

	Records    backend.RecordStore
	Objects    backend.ObjectStore
	Completion backend.Completion

	ThinkingIndicator string
	FailureMessage    string
	UploadConcurrency int
}

func (o Options) validate() error {
	if strings.TrimSpace(o.Owner) == "" {
		return &model.ValidationError{Field: "owner", Message: "must not be empty"}
	}
	if o.Records == nil || o.Objects == nil || o.Completion == nil {
		return &model.ValidationError{Field: "backends", Message: "records, objects and completion are required"}
	}
	return nil
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is the application context of one logged-in owner.
type Client struct {
	owner string
	log   *slog.Logger

	cache     *history.Cache
	list      *transcript.List
	sessions  *session.Store
	uploads   *upload.Pipeline
	assembler *stream.Assembler

	loggedOut atomic.Bool
}

// Login creates the application context for opts.Owner. It does not contact
// any backend; call Refresh to load the session list.
func Login(opts Options) (*Client, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	owner := strings.TrimSpace(opts.Owner)

	c := &Client{
		owner: owner,
		log:   logging.WithFields("component", "chat", "owner", owner),
		list:  transcript.New(),
	}
	c.cache = history.NewCache(opts.Records, owner)
	c.sessions = session.NewStore(opts.Records, c.cache, c.list, owner)
	c.uploads = upload.New(opts.Objects, c.list, owner, opts.UploadConcurrency)
	c.assembler = stream.NewAssembler(opts.Completion, c.list, persister{c}, stream.Options{
		ThinkingIndicator: opts.ThinkingIndicator,
		FailureMessage:    opts.FailureMessage,
	})

	c.log.Info("logged in")
	return c, nil
}

// Logout tears the context down. It is safe to call more than once.
func (c *Client) Logout() {
	if c.loggedOut.Swap(true) {
		return
	}
	c.list.Clear()
	c.cache.Clear()
	c.log.Info("logged out")
}

// Owner returns the identity every backend call is scoped to.
func (c *Client) Owner() string { return c.owner }

// Sessions returns the session store.
func (c *Client) Sessions() *session.Store { return c.sessions }

// Transcript returns the working list of the active session.
func (c *Client) Transcript() *transcript.List { return c.list }

func (c *Client) check() error {
	if c.loggedOut.Load() {
		return ErrLoggedOut
	}
	return nil
}

// =============================================================================
// SESSION OPERATIONS
// =============================================================================

// Refresh reloads the session list from the backend.
func (c *Client) Refresh(ctx context.Context) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.sessions.List(ctx)
}

// CreateSession creates a session and makes it active.
func (c *Client) CreateSession(ctx context.Context, name string) (model.Session, error) {
	if err := c.check(); err != nil {
		return model.Session{}, err
	}
	return c.sessions.Create(ctx, name)
}

// RenameSession renames a session.
func (c *Client) RenameSession(ctx context.Context, id, name string) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.sessions.Rename(ctx, id, name)
}

// DeleteSession deletes a session and its cached history.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.sessions.Delete(ctx, id)
}

// SelectSession makes id active and loads its history into the working list.
func (c *Client) SelectSession(ctx context.Context, id string) ([]model.Message, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.sessions.Select(ctx, id)
}

// History returns the messages of a session without changing the active
// session.
func (c *Client) History(ctx context.Context, id string) ([]model.Message, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if !c.sessions.Has(id) {
		return nil, &model.NotFoundError{Kind: "session", ID: id}
	}
	return c.cache.Get(ctx, id)
}

// =============================================================================
// SEND
// =============================================================================

// Send posts text and files to the active session and blocks until the
// agent's response has been assembled.
//
// The user message appears in the working list at once with temporary
// attachments, followed by the agent placeholder. Uploads and the response
// stream run concurrently. The user message is persisted once all uploads
// have resolved, and the agent message after it.
//
// Transport failures do not produce an error: they show up as a failure
// message in the transcript and in the returned result. Cancelling ctx ends
// the response stream only; the user message and the failure message are
// still persisted.
func (c *Client) Send(ctx context.Context, text string, files []backend.File) (stream.Result, error) {
	if err := c.check(); err != nil {
		return stream.Result{}, err
	}

	text = strings.TrimSpace(text)
	if text == "" && len(files) == 0 {
		return stream.Result{}, &model.ValidationError{Field: "text", Message: "message is empty"}
	}

	active, ok := c.sessions.Active()
	if !ok {
		return stream.Result{}, &model.ValidationError{Field: "session", Message: "no session is active"}
	}
	if !active.CanSend() {
		return stream.Result{}, &model.ValidationError{Field: "session", Message: "session is not confirmed yet"}
	}

	view, bound := c.list.View()
	if bound != active.ID {
		return stream.Result{}, &model.ValidationError{Field: "session", Message: "history is still loading"}
	}

	userMsg, files, err := upload.Prepare(text, files)
	if err != nil {
		return stream.Result{}, err
	}
	c.list.Append(view, userMsg)

	// Uploads and persistence outlive a cancelled reply.
	persistCtx := context.WithoutCancel(ctx)
	userPersisted := make(chan struct{})
	go func() {
		defer close(userPersisted)
		final := c.uploads.Resolve(persistCtx, view, userMsg, files)
		if err := c.persist(persistCtx, active.ID, final); err != nil {
			c.log.Warn("persist user message failed", "session_id", active.ID, "error", err)
		}
	}()

	res := c.assembler.Run(ctx, stream.Turn{
		SessionID: active.ID,
		View:      view,
		Request: backend.CompletionRequest{
			ConversationID: active.ConversationID(),
			Text:           text,
			Files:          files,
		},
		After: userPersisted,
	})
	if res.PersistErr != nil {
		c.log.Warn("persist agent message failed", "session_id", active.ID, "error", res.PersistErr)
	}
	return res, nil
}

// errSkipped marks a persistence skipped because its session is gone.
var errSkipped = errors.New("session no longer exists")

// persist appends msg to a session's history unless the session was deleted
// or the owner logged out in the meantime.
func (c *Client) persist(ctx context.Context, sessionID string, msg model.Message) error {
	if c.loggedOut.Load() {
		c.log.Info("skipping persistence after logout", "session_id", sessionID, "message_id", msg.ID)
		return fmt.Errorf("persist %s: %w", msg.ID, ErrLoggedOut)
	}
	if !c.sessions.Has(sessionID) {
		c.log.Info("skipping persistence for deleted session", "session_id", sessionID, "message_id", msg.ID)
		return fmt.Errorf("persist %s: %w", msg.ID, errSkipped)
	}
	return c.cache.AppendAndPersist(ctx, sessionID, msg)
}

// persister adapts Client.persist to stream.Persister.
type persister struct{ c *Client }

func (p persister) AppendAndPersist(ctx context.Context, sessionID string, msg model.Message) error {
	return p.c.persist(ctx, sessionID, msg)
}
