// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jeranaias/rigrun-chatsync/internal/backend"
	"github.com/jeranaias/rigrun-chatsync/internal/model"
	"github.com/jeranaias/rigrun-chatsync/internal/util"
)

// ErrOutsideStore is returned when a URL does not point into the store.
var ErrOutsideStore = errors.New("url does not belong to this blob store")

// BlobStore implements backend.ObjectStore on the local filesystem. Each
// object lives at <dir>/<owner>/<uuid>/<name>.
type BlobStore struct {
	dir string
}

// NewBlobStore creates the base directory if needed.
func NewBlobStore(dir string) (*BlobStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &BlobStore{dir: abs}, nil
}

// Put writes f atomically and returns its file:// URL.
func (b *BlobStore) Put(ctx context.Context, owner string, f backend.File) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", model.NewTransportError("store blob", 0, err)
	}
	name := safeName(filepath.Base(f.Name))
	if name == "" || name == "." {
		return "", &model.ValidationError{Field: "file name", Message: "must not be empty"}
	}

	path := filepath.Join(b.dir, safeName(owner), uuid.NewString(), name)
	if err := util.AtomicWriteFile(path, f.Data, 0o644); err != nil {
		return "", model.NewTransportError("store blob", 0, err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String(), nil
}

// Read returns the bytes behind a URL produced by Put.
func (b *BlobStore) Read(rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "file" {
		return nil, ErrOutsideStore
	}
	path := filepath.Clean(filepath.FromSlash(u.Path))
	rel, err := filepath.Rel(b.dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, ErrOutsideStore
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

// safeName keeps letters, digits, dot, dash and underscore, replacing
// everything else so a name can never escape its directory.
func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
	if strings.Trim(s, ".") == "" {
		return ""
	}
	return s
}
