// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/rigrun-chatsync/internal/logging"
	"github.com/jeranaias/rigrun-chatsync/internal/model"
	"github.com/jeranaias/rigrun-chatsync/internal/normalize"
)

// Schema is the SQLite schema for sessions and their messages.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    owner TEXT NOT NULL,
    name TEXT NOT NULL,
    conversation_id TEXT NOT NULL,
    created_at INTEGER NOT NULL  -- Unix nanoseconds
);

CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner, created_at);

CREATE TABLE IF NOT EXISTS messages (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    id TEXT NOT NULL,
    role TEXT NOT NULL,          -- backend vocabulary: user, assistant
    content TEXT NOT NULL,
    files TEXT,                  -- JSON array, NULL when none
    timestamp TEXT NOT NULL,     -- RFC 3339
    FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
`

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore implements backend.RecordStore on a local SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{
		db:  db,
		log: logging.WithFields("component", "sqlite", "path", path),
	}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// dbError reports a database failure the same way a remote backend failure
// is reported.
func dbError(op string, err error) error {
	return model.NewTransportError(op, 0, err)
}

// ListSessions returns owner's sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, owner string) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, conversation_id, created_at FROM sessions
		 WHERE owner = ? ORDER BY created_at DESC, rowid DESC`, owner)
	if err != nil {
		return nil, dbError("list sessions", err)
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		var (
			sess    model.Session
			created int64
		)
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.RemoteConversationID, &created); err != nil {
			return nil, dbError("list sessions", err)
		}
		sess.CreatedAt = time.Unix(0, created)
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list sessions", err)
	}
	return out, nil
}

// CreateSession inserts a new session for owner.
func (s *SQLiteStore) CreateSession(ctx context.Context, owner, name string) (model.Session, error) {
	sess := model.Session{
		ID:                   uuid.NewString(),
		Name:                 name,
		RemoteConversationID: uuid.NewString(),
		CreatedAt:            time.Now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, owner, name, conversation_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, owner, sess.Name, sess.RemoteConversationID, sess.CreatedAt.UnixNano())
	if err != nil {
		return model.Session{}, dbError("create session", err)
	}
	s.log.Debug("session created", "session_id", sess.ID)
	return sess, nil
}

// RenameSession renames one of owner's sessions.
func (s *SQLiteStore) RenameSession(ctx context.Context, owner, id, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET name = ? WHERE id = ? AND owner = ?`, name, id, owner)
	if err != nil {
		return dbError("rename session", err)
	}
	return requireRow(res, id)
}

// DeleteSession deletes one of owner's sessions and its messages.
func (s *SQLiteStore) DeleteSession(ctx context.Context, owner, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbError("delete session", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ? AND owner = ?`, id, owner)
	if err != nil {
		return dbError("delete session", err)
	}
	if err := requireRow(res, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return dbError("delete session", err)
	}
	if err := tx.Commit(); err != nil {
		return dbError("delete session", err)
	}
	return nil
}

// ListMessages returns the stored history of session id in append order.
func (s *SQLiteStore) ListMessages(ctx context.Context, owner, id string) ([]normalize.Record, error) {
	if err := s.ownsSession(ctx, owner, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, files, timestamp FROM messages
		 WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, dbError("load history", err)
	}
	defer rows.Close()

	var out []normalize.Record
	for rows.Next() {
		var (
			msgID, role, content, ts string
			files                    sql.NullString
		)
		if err := rows.Scan(&msgID, &role, &content, &files, &ts); err != nil {
			return nil, dbError("load history", err)
		}
		rec := normalize.Record{"id": msgID, "role": role, "content": content, "timestamp": ts}
		if files.Valid {
			var decoded []any
			if err := json.Unmarshal([]byte(files.String), &decoded); err != nil {
				s.log.Warn("dropping unreadable attachments", "message_id", msgID, "error", err)
			} else {
				rec["files"] = decoded
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("load history", err)
	}
	return out, nil
}

// AppendMessage appends msg to the history of session id.
func (s *SQLiteStore) AppendMessage(ctx context.Context, owner, id string, msg model.Message) error {
	if err := s.ownsSession(ctx, owner, id); err != nil {
		return err
	}

	rec := normalize.ToRecord(msg)
	var files sql.NullString
	if f, ok := rec["files"]; ok {
		b, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("encode attachments: %w", err)
		}
		files = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, id, role, content, files, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		id, rec["id"], rec["role"], rec["content"], files, rec["timestamp"])
	if err != nil {
		return dbError("append message", err)
	}
	return nil
}

func (s *SQLiteStore) ownsSession(ctx context.Context, owner, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sessions WHERE id = ? AND owner = ?`, id, owner).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.NotFoundError{Kind: "session", ID: id}
	}
	if err != nil {
		return dbError("lookup session", err)
	}
	return nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return dbError("rows affected", err)
	}
	if n == 0 {
		return &model.NotFoundError{Kind: "session", ID: id}
	}
	return nil
}
