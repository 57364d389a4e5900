// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/jeranaias/rigrun-chatsync/internal/backend"
	"github.com/jeranaias/rigrun-chatsync/internal/history"
	"github.com/jeranaias/rigrun-chatsync/internal/logging"
	"github.com/jeranaias/rigrun-chatsync/internal/model"
	"github.com/jeranaias/rigrun-chatsync/internal/optimistic"
	"github.com/jeranaias/rigrun-chatsync/internal/transcript"
)

// =============================================================================
// SESSION STORE
// =============================================================================

// Snapshot is the observable state of the store.
type Snapshot struct {
	Sessions []model.Session
	ActiveID string
}

// Active returns the active session, if any.
func (s Snapshot) Active() (model.Session, bool) {
	if i := model.IndexOfSession(s.Sessions, s.ActiveID); i >= 0 {
		return s.Sessions[i], true
	}
	return model.Session{}, false
}

// renameOp is one pending rename. prev is the name to show again if this
// rename fails while it is the latest one pending for its session.
type renameOp struct {
	name string
	prev string
}

type observer struct {
	id int
	fn func(Snapshot)
}

// Store holds the session list and the active-session pointer.
type Store struct {
	records backend.RecordStore
	cache   *history.Cache
	list    *transcript.List
	owner   string
	log     *slog.Logger

	mu        sync.Mutex
	sessions  []model.Session
	active    string
	selectSeq uint64
	renames   map[string][]*renameOp
	deleting  map[string]int // ids with a backend delete in flight

	// viewMu serializes every decision to bind or unbind the working list.
	viewMu sync.Mutex

	// notifyMu keeps snapshot delivery in emission order.
	notifyMu  sync.Mutex
	observers []observer
	nextObs   int
}

// NewStore creates an empty store for owner. The store binds list to the
// active session and reads histories through cache.
func NewStore(records backend.RecordStore, cache *history.Cache, list *transcript.List, owner string) *Store {
	return &Store{
		records:  records,
		cache:    cache,
		list:     list,
		owner:    owner,
		log:      logging.WithFields("component", "session", "owner", owner),
		renames:  make(map[string][]*renameOp),
		deleting: make(map[string]int),
	}
}

// =============================================================================
// READ ACCESSORS
// =============================================================================

// Sessions returns a copy of the session list, newest first.
func (s *Store) Sessions() []model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneSessions(s.sessions)
}

// Get returns the session with id.
func (s *Store) Get(id string) (model.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := model.IndexOfSession(s.sessions, id); i >= 0 {
		return s.sessions[i], true
	}
	return model.Session{}, false
}

// Has reports whether id is present locally.
func (s *Store) Has(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// ActiveID returns the active session id, or "" when none is active.
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Active returns the active session.
func (s *Store) Active() (model.Session, bool) {
	return s.Snapshot().Active()
}

// Snapshot returns the current list and active id.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{Sessions: model.CloneSessions(s.sessions), ActiveID: s.active}
}

// =============================================================================
// OBSERVERS
// =============================================================================

// Subscribe registers fn to receive a snapshot after every visible change.
// fn must not call mutating store methods synchronously.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.nextObs++
	id := s.nextObs
	s.observers = append(s.observers, observer{id: id, fn: fn})

	return func() {
		s.notifyMu.Lock()
		defer s.notifyMu.Unlock()
		s.observers = slices.DeleteFunc(s.observers, func(o observer) bool { return o.id == id })
	}
}

func (s *Store) emit() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	snap := s.Snapshot()
	for _, o := range s.observers {
		o.fn(snap)
	}
}

// =============================================================================
// LIST
// =============================================================================

// List fetches the owner's sessions and replaces the local list. On failure
// the local list is left untouched.
//
// Provisional entries and names of renames still in flight survive the
// refresh. Sessions with a delete in flight stay hidden.
func (s *Store) List(ctx context.Context) error {
	fetched, err := s.records.ListSessions(ctx, s.owner)
	if err != nil {
		s.log.Warn("list sessions failed", "error", err)
		return err
	}

	s.mu.Lock()
	merged := make([]model.Session, 0, len(fetched)+1)
	for _, sess := range s.sessions {
		if sess.IsProvisional {
			merged = append(merged, sess)
		}
	}
	for _, sess := range fetched {
		if s.deleting[sess.ID] > 0 || model.IndexOfSession(merged, sess.ID) >= 0 {
			continue
		}
		if chain := s.renames[sess.ID]; len(chain) > 0 {
			sess.Name = chain[len(chain)-1].name
		}
		merged = append(merged, sess)
	}
	s.sessions = merged

	gone := ""
	if s.active != "" && model.IndexOfSession(merged, s.active) < 0 {
		gone, s.active = s.active, ""
	}
	s.mu.Unlock()

	if gone != "" {
		s.viewMu.Lock()
		s.list.Unbind(gone)
		s.viewMu.Unlock()
	}
	s.emit()
	return nil
}

// =============================================================================
// CREATE
// =============================================================================

// Create inserts a provisional session at the head of the list, makes it
// active and asks the backend to create it. On success the provisional entry
// is replaced in place by the confirmed session. On failure it is removed,
// and the active pointer is cleared if it still pointed at it.
//
// If the provisional session was deleted before the backend answered, the
// confirmed session is deleted again on a best-effort basis and is not
// added to the list.
func (s *Store) Create(ctx context.Context, name string) (model.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Session{}, &model.ValidationError{Field: "name", Message: "must not be empty"}
	}

	prov := model.NewProvisionalSession(name)
	var (
		effect   func()
		orphaned bool
	)

	confirmed, err := optimistic.Run(ctx, &s.mu, optimistic.Command[model.Session]{
		Apply: func() (func(), error) {
			s.sessions = slices.Insert(s.sessions, 0, prov)
			s.active = prov.ID
			effect = func() {
				if s.ActiveID() == prov.ID {
					s.list.Bind(prov.ID, nil)
				}
			}
			return func() {
				if i := model.IndexOfSession(s.sessions, prov.ID); i >= 0 {
					s.sessions = slices.Delete(s.sessions, i, i+1)
				}
				if s.active == prov.ID {
					s.active = ""
				}
				effect = func() { s.list.Unbind(prov.ID) }
			}, nil
		},
		Remote: func(ctx context.Context) (model.Session, error) {
			return s.records.CreateSession(ctx, s.owner, name)
		},
		Confirm: func(created model.Session) {
			created.IsProvisional = false
			if j := model.IndexOfSession(s.sessions, created.ID); j >= 0 {
				// A refresh raced the confirmation and already listed it.
				s.sessions = slices.Delete(s.sessions, j, j+1)
			}
			i := model.IndexOfSession(s.sessions, prov.ID)
			if i < 0 {
				orphaned = true
				return
			}
			s.sessions[i] = created
			if s.active == prov.ID {
				s.active = created.ID
			}
			effect = func() { s.list.Rekey(prov.ID, created.ID) }
		},
		Changed: func() { s.changed(&effect) },
	})
	if err != nil {
		s.log.Warn("create session failed", "name", name, "error", err)
		return model.Session{}, err
	}

	if orphaned {
		s.log.Info("session deleted before creation confirmed", "session_id", confirmed.ID)
		if err := s.records.DeleteSession(ctx, s.owner, confirmed.ID); err != nil {
			s.log.Warn("cleanup of orphaned session failed", "session_id", confirmed.ID, "error", err)
		}
	}
	return confirmed, nil
}

// =============================================================================
// RENAME
// =============================================================================

// Rename shows newName immediately and persists it. On failure the name
// shown before this rename is restored, unless a later rename of the same
// session is still pending, in which case that rename inherits it.
func (s *Store) Rename(ctx context.Context, id, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return &model.ValidationError{Field: "name", Message: "must not be empty"}
	}

	op := &renameOp{name: newName}
	_, err := optimistic.Run(ctx, &s.mu, optimistic.Command[struct{}]{
		Apply: func() (func(), error) {
			i := model.IndexOfSession(s.sessions, id)
			if i < 0 {
				return nil, &model.NotFoundError{Kind: "session", ID: id}
			}
			if s.sessions[i].IsProvisional {
				return nil, &model.ValidationError{Field: "id", Message: "session is not confirmed yet"}
			}
			op.prev = s.sessions[i].Name
			s.sessions[i].Name = newName
			s.renames[id] = append(s.renames[id], op)
			return func() { s.revertRenameLocked(id, op) }, nil
		},
		Remote: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.records.RenameSession(ctx, s.owner, id, newName)
		},
		Confirm: func(struct{}) { s.settleRenameLocked(id, op) },
		Changed: s.emit,
	})
	if err != nil {
		s.log.Warn("rename session failed", "session_id", id, "error", err)
	}
	return err
}

// revertRenameLocked undoes op. An op no longer in its chain was superseded
// or its session deleted, and reverting it does nothing.
func (s *Store) revertRenameLocked(id string, op *renameOp) {
	chain := s.renames[id]
	i := slices.Index(chain, op)
	if i < 0 {
		return
	}
	if i == len(chain)-1 {
		if j := model.IndexOfSession(s.sessions, id); j >= 0 {
			s.sessions[j].Name = op.prev
		}
	} else {
		chain[i+1].prev = op.prev
	}
	s.setChainLocked(id, slices.Delete(chain, i, i+1))
}

// settleRenameLocked drops op and every earlier pending rename: the
// confirmed name is now the baseline for later ones.
func (s *Store) settleRenameLocked(id string, op *renameOp) {
	chain := s.renames[id]
	i := slices.Index(chain, op)
	if i < 0 {
		return
	}
	s.setChainLocked(id, chain[i+1:])
}

func (s *Store) setChainLocked(id string, chain []*renameOp) {
	if len(chain) == 0 {
		delete(s.renames, id)
		return
	}
	s.renames[id] = chain
}

// =============================================================================
// DELETE
// =============================================================================

// Delete removes the session locally before contacting the backend. If it
// was active, the active pointer and the working list are cleared at once.
// On failure the session is reinserted where it was, with the name and
// flags it had when deleted. The active pointer is not restored.
//
// Deleting a provisional session never reaches the backend.
func (s *Store) Delete(ctx context.Context, id string) error {
	var (
		victim model.Session
		effect func()
	)

	_, err := optimistic.Run(ctx, &s.mu, optimistic.Command[struct{}]{
		Apply: func() (func(), error) {
			i := model.IndexOfSession(s.sessions, id)
			if i < 0 {
				return nil, &model.NotFoundError{Kind: "session", ID: id}
			}
			snapshot := model.CloneSessions(s.sessions)
			victim = s.sessions[i]
			s.sessions = slices.Delete(s.sessions, i, i+1)
			delete(s.renames, id)
			s.deleting[id]++
			if s.active == id {
				s.active = ""
			}
			effect = func() {
				s.list.Unbind(id)
				s.cache.Invalidate(id)
			}
			return func() {
				s.doneDeletingLocked(id)
				if model.IndexOfSession(s.sessions, id) < 0 {
					s.sessions = reinsert(s.sessions, snapshot, victim)
				}
			}, nil
		},
		Remote: func(ctx context.Context) (struct{}, error) {
			if victim.IsProvisional {
				return struct{}{}, nil
			}
			return struct{}{}, s.records.DeleteSession(ctx, s.owner, id)
		},
		Confirm: func(struct{}) { s.doneDeletingLocked(id) },
		Changed: func() { s.changed(&effect) },
	})
	if err != nil {
		s.log.Warn("delete session failed, restored", "session_id", id, "error", err)
	}
	return err
}

func (s *Store) doneDeletingLocked(id string) {
	if s.deleting[id] <= 1 {
		delete(s.deleting, id)
		return
	}
	s.deleting[id]--
}

// reinsert puts victim back into cur next to the closest neighbour it had in
// snapshot that still exists: after its nearest surviving predecessor, else
// before its nearest surviving successor, else at the end.
func reinsert(cur, snapshot []model.Session, victim model.Session) []model.Session {
	at := model.IndexOfSession(snapshot, victim.ID)
	for k := at - 1; k >= 0; k-- {
		if j := model.IndexOfSession(cur, snapshot[k].ID); j >= 0 {
			return slices.Insert(cur, j+1, victim)
		}
	}
	for k := at + 1; k < len(snapshot); k++ {
		if j := model.IndexOfSession(cur, snapshot[k].ID); j >= 0 {
			return slices.Insert(cur, j, victim)
		}
	}
	return append(cur, victim)
}

// =============================================================================
// SELECT
// =============================================================================

// Select makes id the active session and binds the working list to its
// history. A warm cache answers without any network call. On a cold cache
// the list is cleared while the history loads, so an older session's stream
// stops showing immediately.
//
// The returned messages are the history the list was bound to.
func (s *Store) Select(ctx context.Context, id string) ([]model.Message, error) {
	s.mu.Lock()
	i := model.IndexOfSession(s.sessions, id)
	if i < 0 {
		s.mu.Unlock()
		return nil, &model.NotFoundError{Kind: "session", ID: id}
	}
	provisional := s.sessions[i].IsProvisional
	s.active = id
	s.selectSeq++
	seq := s.selectSeq
	s.mu.Unlock()
	s.emit()

	if msgs, ok := s.cache.Peek(id); ok {
		s.bindIfCurrent(id, seq, msgs)
		return msgs, nil
	}
	if provisional {
		s.bindIfCurrent(id, seq, nil)
		return nil, nil
	}

	s.viewMu.Lock()
	if s.isCurrent(id, seq) && s.list.SessionID() != id {
		s.list.Clear()
	}
	s.viewMu.Unlock()

	msgs, err := s.cache.Get(ctx, id)
	if err != nil {
		s.log.Warn("load history failed", "session_id", id, "error", err)
		return nil, err
	}
	s.bindIfCurrent(id, seq, msgs)
	return msgs, nil
}

func (s *Store) isCurrent(id string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active == id && s.selectSeq == seq
}

// bindIfCurrent binds the list unless a later selection won or the list is
// already showing id.
func (s *Store) bindIfCurrent(id string, seq uint64, msgs []model.Message) {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	if !s.isCurrent(id, seq) || s.list.SessionID() == id {
		return
	}
	s.list.Bind(id, msgs)
}

// =============================================================================
// HELPERS
// =============================================================================

// changed runs a pending view effect recorded under the lock, then notifies
// observers.
func (s *Store) changed(effect *func()) {
	if fn := *effect; fn != nil {
		*effect = nil
		s.viewMu.Lock()
		fn()
		s.viewMu.Unlock()
	}
	s.emit()
}
