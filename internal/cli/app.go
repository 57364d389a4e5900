// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chatsync/internal/backend"
	"github.com/jeranaias/rigrun-chatsync/internal/backend/httpapi"
	"github.com/jeranaias/rigrun-chatsync/internal/chat"
	"github.com/jeranaias/rigrun-chatsync/internal/config"
	"github.com/jeranaias/rigrun-chatsync/internal/logging"
	"github.com/jeranaias/rigrun-chatsync/internal/model"
	"github.com/jeranaias/rigrun-chatsync/internal/storage"
)

// =============================================================================
// BACKENDS
// =============================================================================

// Backends holds the three collaborators a chat client needs.
type Backends struct {
	Records    backend.RecordStore
	Objects    backend.ObjectStore
	Completion backend.Completion

	closers []io.Closer
}

// Close releases whatever the backends hold open.
func (b *Backends) Close() error {
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// OpenBackends builds the backends for cfg. The completion backend is
// always the HTTP one; the sqlite driver keeps records and attachments in
// local files.
func OpenBackends(cfg *config.Config) (*Backends, error) {
	api := httpapi.New(httpapi.Options{
		BaseURL:           cfg.Backend.BaseURL,
		AgentID:           cfg.Backend.AgentID,
		SessionType:       cfg.Backend.SessionType,
		Mode:              cfg.Backend.ChatMode,
		Timeout:           time.Duration(cfg.Backend.RequestTimeoutSecs) * time.Second,
		RequestsPerSecond: cfg.Backend.RequestsPerSecond,
		Burst:             cfg.Backend.Burst,
	})
	b := &Backends{Completion: api.Completion()}

	switch cfg.Storage.Driver {
	case "sqlite":
		db, err := storage.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		blobs, err := storage.NewBlobStore(cfg.Storage.BlobDir)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		b.Records, b.Objects = db, blobs
		b.closers = append(b.closers, db)
	default:
		b.Records, b.Objects = api.Records(), api.Objects()
	}

	logging.WithFields("component", "cli").Debug("backends ready",
		"driver", cfg.Storage.Driver, "base_url", cfg.Backend.BaseURL, "mode", cfg.Backend.ChatMode)
	return b, nil
}

// =============================================================================
// APP
// =============================================================================

// App is one logged-in command invocation.
type App struct {
	Config *config.Config
	Args   Args
	Client *chat.Client

	Out io.Writer
	Err io.Writer

	backends *Backends
}

// ResolveOwner picks the owner from the flag, the config file or $USER.
func ResolveOwner(args Args, cfg *config.Config) (string, error) {
	for _, candidate := range []string{args.Owner, cfg.Chat.Owner, os.Getenv("USER")} {
		if s := strings.TrimSpace(candidate); s != "" {
			return s, nil
		}
	}
	return "", &model.ValidationError{Field: "owner", Message: "set --owner, chat.owner or $USER"}
}

// NewApp logs in against b. The App owns b from here on.
func NewApp(cfg *config.Config, args Args, b *Backends, out, errw io.Writer) (*App, error) {
	owner, err := ResolveOwner(args, cfg)
	if err != nil {
		return nil, err
	}
	client, err := chat.Login(chat.Options{
		Owner:             owner,
		Records:           b.Records,
		Objects:           b.Objects,
		Completion:        b.Completion,
		ThinkingIndicator: cfg.Chat.ThinkingIndicator,
		FailureMessage:    cfg.Chat.FailureMessage,
		UploadConcurrency: cfg.Chat.UploadConcurrency,
	})
	if err != nil {
		return nil, err
	}
	return &App{Config: cfg, Args: args, Client: client, Out: out, Err: errw, backends: b}, nil
}

// Close logs out and releases the backends.
func (a *App) Close() error {
	a.Client.Logout()
	return a.backends.Close()
}

// readFiles loads attachments from disk.
func readFiles(paths []string) ([]backend.File, error) {
	files := make([]backend.File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read attachment: %w", err)
		}
		files = append(files, backend.File{Name: filepath.Base(p), Data: data})
	}
	return files, nil
}
