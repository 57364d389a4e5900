// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package upload moves message attachments from local references to durable
// ones.
//
// A user message is rendered at once with temporary attachments. Each file
// is then uploaded; a success swaps in the durable URL, a failure leaves the
// attachment temporary. The working list sees one replacement per resolved
// file.
package upload

import (
	"context"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigrun-chatsync/internal/backend"
	"github.com/jeranaias/rigrun-chatsync/internal/logging"
	"github.com/jeranaias/rigrun-chatsync/internal/model"
	"github.com/jeranaias/rigrun-chatsync/internal/transcript"
)

// DefaultConcurrency bounds parallel uploads when none is configured.
const DefaultConcurrency = 3

// =============================================================================
// PREPARE
// =============================================================================

// Prepare validates files, fills in missing MIME types and builds the user
// message with one temporary attachment per file, in order. The returned
// files carry the resolved MIME types.
func Prepare(text string, files []backend.File) (model.Message, []backend.File, error) {
	out := make([]backend.File, len(files))
	msg := model.NewUserMessage(text)
	for i, f := range files {
		f.Name = strings.TrimSpace(f.Name)
		if f.Name == "" {
			return model.Message{}, nil, &model.ValidationError{Field: "file name", Message: "must not be empty"}
		}
		if f.MimeType == "" {
			f.MimeType = DetectMimeType(f.Name, f.Data)
		}
		out[i] = f
		msg.Attachments = append(msg.Attachments, model.NewTemporaryAttachment(f.Name, f.MimeType))
	}
	return msg, out, nil
}

// DetectMimeType guesses a MIME type from the file extension, falling back
// to content sniffing.
func DetectMimeType(name string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

// =============================================================================
// PIPELINE
// =============================================================================

// Pipeline uploads attachments for one owner.
type Pipeline struct {
	objects     backend.ObjectStore
	list        *transcript.List
	owner       string
	concurrency int
	log         *slog.Logger
}

// New creates a pipeline. concurrency <= 0 uses DefaultConcurrency.
func New(objects backend.ObjectStore, list *transcript.List, owner string, concurrency int) *Pipeline {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Pipeline{
		objects:     objects,
		list:        list,
		owner:       owner,
		concurrency: concurrency,
		log:         logging.WithFields("component", "upload"),
	}
}

// Resolve uploads files, which must line up with msg.Attachments, and
// returns msg with every attachment resolved or left temporary. Each
// resolution replaces msg's slot through view. Upload failures are logged,
// never returned.
func (p *Pipeline) Resolve(ctx context.Context, view context.Context, msg model.Message, files []backend.File) model.Message {
	current := msg.Clone()
	if len(files) == 0 {
		return current
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(p.concurrency)

	for i, f := range files {
		g.Go(func() error {
			url, err := p.objects.Put(ctx, p.owner, f)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				p.log.Warn("upload failed, keeping local reference",
					"message_id", msg.ID, "file", f.Name, "error", err)
			} else {
				current.Attachments[i].AccessURL = url
				current.Attachments[i].IsTemporary = false
			}
			p.list.Replace(view, current, transcript.KindReplace)
			return nil
		})
	}
	_ = g.Wait()

	return current
}
