// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package teabridge forwards session store and working list changes into a
// Bubble Tea program as messages.
//
// Observers of the store and the list run synchronously inside their
// notification sections, while tea.Program.Send blocks until the program
// reads the message. The bridge decouples the two with an ordered queue
// drained by its own goroutine, so a program whose Update calls back into
// the store cannot deadlock.
package teabridge

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/rigrun-chatsync/internal/session"
	"github.com/jeranaias/rigrun-chatsync/internal/transcript"
)

// SessionsMsg carries the session list after a change.
type SessionsMsg struct {
	Snapshot session.Snapshot
}

// TranscriptMsg carries the working list after a change.
type TranscriptMsg struct {
	Update transcript.Update
}

// Sender receives messages. *tea.Program satisfies it.
type Sender interface {
	Send(msg tea.Msg)
}

// Bridge pumps updates to a Sender in the order they happened.
type Bridge struct {
	target Sender

	mu      sync.Mutex
	queue   []tea.Msg
	wake    chan struct{}
	done    chan struct{}
	stopped bool
	exited  chan struct{}

	unsubs []func()
}

// New subscribes to store and list and starts forwarding to target. Either
// source may be nil.
func New(target Sender, store *session.Store, list *transcript.List) *Bridge {
	b := &Bridge{
		target: target,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	if store != nil {
		b.unsubs = append(b.unsubs, store.Subscribe(func(s session.Snapshot) {
			b.push(SessionsMsg{Snapshot: s})
		}))
	}
	if list != nil {
		b.unsubs = append(b.unsubs, list.Subscribe(func(u transcript.Update) {
			b.push(TranscriptMsg{Update: u})
		}))
	}
	go b.pump()
	return b
}

// Stop unsubscribes and waits for the pump to exit. Messages still queued
// are dropped.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		<-b.exited
		return
	}
	b.stopped = true
	unsubs := b.unsubs
	b.unsubs = nil
	b.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	close(b.done)
	<-b.exited
}

func (b *Bridge) push(msg tea.Msg) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, msg)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bridge) pump() {
	defer close(b.exited)
	for {
		select {
		case <-b.done:
			return
		case <-b.wake:
		}

		for {
			b.mu.Lock()
			if b.stopped || len(b.queue) == 0 {
				b.mu.Unlock()
				break
			}
			batch := b.queue
			b.queue = nil
			b.mu.Unlock()

			for _, msg := range batch {
				b.target.Send(msg)
			}
		}
	}
}
