// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history caches per-session message histories.
//
// An entry is created the first time a session is opened and lives until the
// session is deleted or the user logs out; entries are never expired
// otherwise. A cache hit never touches the network.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jeranaias/rigrun-chatsync/internal/backend"
	"github.com/jeranaias/rigrun-chatsync/internal/logging"
	"github.com/jeranaias/rigrun-chatsync/internal/model"
	"github.com/jeranaias/rigrun-chatsync/internal/normalize"
)

// =============================================================================
// HISTORY CACHE
// =============================================================================

// Cache maps session ids to their ordered messages.
type Cache struct {
	records backend.RecordStore
	owner   string
	log     *slog.Logger

	mu      sync.Mutex
	entries map[string][]model.Message
	// epoch increments on every invalidation of an id, so a fetch that
	// started before the invalidation does not store its stale result.
	epoch map[string]uint64
}

// NewCache creates an empty cache backed by records for owner.
func NewCache(records backend.RecordStore, owner string) *Cache {
	return &Cache{
		records: records,
		owner:   owner,
		log:     logging.WithFields("component", "history"),
		entries: make(map[string][]model.Message),
		epoch:   make(map[string]uint64),
	}
}

// Get returns the history of sessionID, fetching and normalizing it on a
// cache miss. The returned slice is a copy.
func (c *Cache) Get(ctx context.Context, sessionID string) ([]model.Message, error) {
	c.mu.Lock()
	if msgs, ok := c.entries[sessionID]; ok {
		c.mu.Unlock()
		return model.CloneMessages(msgs), nil
	}
	epoch := c.epoch[sessionID]
	c.mu.Unlock()

	recs, err := c.records.ListMessages(ctx, c.owner, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", sessionID, err)
	}
	msgs := normalize.Messages(recs)

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[sessionID]; ok {
		// A concurrent Get won the race; keep its entry so both callers
		// observe the same sequence.
		return model.CloneMessages(existing), nil
	}
	if c.epoch[sessionID] != epoch {
		c.log.Debug("dropping history fetched for invalidated session", "session_id", sessionID)
		return model.CloneMessages(msgs), nil
	}
	c.entries[sessionID] = msgs
	c.log.Debug("history cached", "session_id", sessionID, "messages", len(msgs))
	return model.CloneMessages(msgs), nil
}

// Peek returns the cached history without fetching.
func (c *Cache) Peek(sessionID string) ([]model.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs, ok := c.entries[sessionID]
	if !ok {
		return nil, false
	}
	return model.CloneMessages(msgs), true
}

// Invalidate removes the entry for sessionID.
func (c *Cache) Invalidate(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sessionID)
	c.epoch[sessionID]++
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.entries {
		c.epoch[id]++
	}
	c.entries = make(map[string][]model.Message)
}

// AppendAndPersist appends msg to the cached entry (when one exists) and
// then to the backend. A backend failure is returned but the local append
// stays.
func (c *Cache) AppendAndPersist(ctx context.Context, sessionID string, msg model.Message) error {
	msg = msg.Clone()
	msg.IsStreaming = false

	c.mu.Lock()
	if msgs, ok := c.entries[sessionID]; ok {
		c.entries[sessionID] = append(msgs, msg)
	}
	c.mu.Unlock()

	if err := c.records.AppendMessage(ctx, c.owner, sessionID, msg); err != nil {
		c.log.Warn("persist message failed", "session_id", sessionID, "message_id", msg.ID, "error", err)
		return fmt.Errorf("persist message %s: %w", msg.ID, err)
	}
	return nil
}
