// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/jeranaias/rigrun-chatsync/internal/backend"
	"github.com/jeranaias/rigrun-chatsync/internal/model"
)

// ObjectClient implements backend.ObjectStore with multipart uploads to
// POST /files.
type ObjectClient struct {
	c *Client
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Put uploads f and returns its durable URL.
func (o *ObjectClient) Put(ctx context.Context, owner string, f backend.File) (string, error) {
	const op = "upload file"

	ctx, cancel := context.WithTimeout(ctx, o.c.timeout)
	defer cancel()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := writeFilePart(mw, "file", f); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.c.endpoint("/files", owner, false), &body)
	if err != nil {
		return "", fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := o.c.do(op, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out uploadResponse
	if err := decodeJSON(resp, &out); err != nil {
		return "", model.NewTransportError(op, resp.StatusCode, err)
	}
	if out.URL == "" {
		return "", model.NewTransportError(op, resp.StatusCode, errors.New("response carried no url"))
	}
	return out.URL, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// writeFilePart adds f as a file part named field, keeping its MIME type.
func writeFilePart(mw *multipart.Writer, field string, f backend.File) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(f.Name)))
	contentType := f.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create part %s: %w", f.Name, err)
	}
	if _, err := part.Write(f.Data); err != nil {
		return fmt.Errorf("write part %s: %w", f.Name, err)
	}
	return nil
}
