// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream assembles a streamed agent response into one message.
//
// A placeholder agent message is shown as soon as the request is dispatched.
// Each chunk of text replaces the placeholder with a copy holding everything
// received so far. When the stream ends the final message is persisted, and
// a transport failure turns the slot into a fixed failure message.
//
// Updates go through the working-list view captured at dispatch. If the
// user switches sessions the view is cancelled and updates are dropped, but
// the read continues and the result is persisted to the original session.
package stream

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jeranaias/rigrun-chatsync/internal/backend"
	"github.com/jeranaias/rigrun-chatsync/internal/logging"
	"github.com/jeranaias/rigrun-chatsync/internal/model"
	"github.com/jeranaias/rigrun-chatsync/internal/transcript"
)

// =============================================================================
// STATE
// =============================================================================

// State is the lifecycle position of one response.
type State int

const (
	StateIdle State = iota
	StateAwaitingFirstChunk
	StateAccumulating
	StateCompleted
	StateFailed
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingFirstChunk:
		return "awaiting_first_chunk"
	case StateAccumulating:
		return "accumulating"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Default texts shown while waiting and after a failure.
const (
	DefaultThinkingIndicator = "Thinking..."
	DefaultFailureMessage    = "Sorry, something went wrong while generating a response. Please try again."
)

// =============================================================================
// ASSEMBLER
// =============================================================================

// Persister stores a finished message for a session.
type Persister interface {
	AppendAndPersist(ctx context.Context, sessionID string, msg model.Message) error
}

// Options configures an Assembler.
type Options struct {
	ThinkingIndicator string
	FailureMessage    string
}

// Assembler runs streamed responses against one working list.
type Assembler struct {
	completion backend.Completion
	list       *transcript.List
	persist    Persister
	opts       Options
	log        *slog.Logger
}

// NewAssembler creates an assembler. Empty option fields take defaults.
func NewAssembler(completion backend.Completion, list *transcript.List, persist Persister, opts Options) *Assembler {
	if opts.ThinkingIndicator == "" {
		opts.ThinkingIndicator = DefaultThinkingIndicator
	}
	if opts.FailureMessage == "" {
		opts.FailureMessage = DefaultFailureMessage
	}
	return &Assembler{
		completion: completion,
		list:       list,
		persist:    persist,
		opts:       opts,
		log:        logging.WithFields("component", "stream"),
	}
}

// Turn is one response to assemble.
type Turn struct {
	// SessionID is the storage id the final message is persisted under.
	SessionID string

	// View is the working-list view captured when the turn started.
	View context.Context

	Request backend.CompletionRequest

	// After, when non-nil, must be closed before the agent message is
	// persisted. It orders the agent message after the user message of the
	// same turn.
	After <-chan struct{}
}

// Result describes how a response ended.
type Result struct {
	Message model.Message
	State   State
	Chunks  int

	// Err is the transport error that failed the stream, if any.
	Err error

	// PersistErr is set when the final message could not be stored.
	PersistErr error
}

// Run dispatches the request and assembles the response. It blocks until the
// stream ends and the final message has been handed to the persister.
func (a *Assembler) Run(ctx context.Context, turn Turn) Result {
	log := a.log.With("session_id", turn.SessionID)
	view := turn.View
	if view == nil {
		view = context.Background()
	}

	msg := model.NewPlaceholder(a.opts.ThinkingIndicator)
	a.list.Append(view, msg)
	state := a.transition(log, StateIdle, StateAwaitingFirstChunk)

	dec := NewDecoder()
	var (
		content strings.Builder
		chunks  int
		failure error
	)

	for chunk, err := range a.completion.Stream(ctx, turn.Request) {
		if err != nil {
			failure = err
			break
		}
		if state == StateAwaitingFirstChunk {
			state = a.transition(log, state, StateAccumulating)
		}
		content.WriteString(dec.Write(chunk))
		chunks++

		msg.Content = content.String()
		a.list.Replace(view, msg, transcript.KindChunk)
	}

	if failure != nil {
		state = a.transition(log, state, StateFailed)
		log.Warn("response stream failed", "chunks", chunks, "error", failure)
		msg.Content = a.opts.FailureMessage
		msg.IsStreaming = false
		a.list.Replace(view, msg, transcript.KindReplace)
	} else {
		if state == StateAwaitingFirstChunk {
			state = a.transition(log, state, StateAccumulating)
		}
		content.WriteString(dec.Flush())
		msg.Content = content.String()
		msg.IsStreaming = false
		state = a.transition(log, state, StateCompleted)
		a.list.Replace(view, msg, transcript.KindFinalized)
	}

	res := Result{Message: msg, State: state, Chunks: chunks, Err: failure}
	res.PersistErr = a.store(ctx, turn, msg)
	return res
}

// store persists the final message. It is detached from ctx's cancellation:
// a cancelled stream still records its failure message.
func (a *Assembler) store(ctx context.Context, turn Turn, msg model.Message) error {
	if turn.After != nil {
		<-turn.After
	}
	return a.persist.AppendAndPersist(context.WithoutCancel(ctx), turn.SessionID, msg)
}

func (a *Assembler) transition(log *slog.Logger, from, to State) State {
	log.Debug("stream state", "from", from.String(), "to", to.String())
	return to
}
