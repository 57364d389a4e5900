// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/jeranaias/rigrun-chatsync/internal/backend"
	"github.com/jeranaias/rigrun-chatsync/internal/model"
)

// Run events carried by the runs endpoint.
const (
	EventRunContent = "RunContent"
	EventRunError   = "RunError"
)

// plainReadSize is the read buffer for plain-text streams.
const plainReadSize = 4096

// CompletionClient implements backend.Completion.
type CompletionClient struct {
	c *Client
}

// runEvent is one JSON payload of the runs SSE stream.
type runEvent struct {
	Event   string `json:"event"`
	Content any    `json:"content"`
	Error   string `json:"error,omitempty"`
}

type plainChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// Stream dispatches req when the sequence is ranged over and yields the
// response text as it arrives. Ranging again sends the request again.
func (cc *CompletionClient) Stream(ctx context.Context, req backend.CompletionRequest) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		const op = "stream response"

		var (
			httpReq *http.Request
			err     error
		)
		if cc.c.mode == ModePlain {
			httpReq, err = cc.plainRequest(ctx, req)
		} else {
			httpReq, err = cc.runsRequest(ctx, req)
		}
		if err != nil {
			yield(nil, model.NewTransportError(op, 0, err))
			return
		}

		resp, err := cc.c.do(op, httpReq)
		if err != nil {
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		if cc.c.mode == ModePlain {
			streamPlain(op, resp.Body, yield)
			return
		}
		streamRuns(op, resp, yield)
	}
}

// runsRequest builds the multipart agent run request.
func (cc *CompletionClient) runsRequest(ctx context.Context, req backend.CompletionRequest) (*http.Request, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := [][2]string{
		{"message", req.Text},
		{"stream", "true"},
		{"session_id", req.ConversationID},
	}
	for _, kv := range fields {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	for _, f := range req.Files {
		if err := writeFilePart(mw, "files", f); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	u := cc.c.baseURL + "/agents/" + url.PathEscape(cc.c.agentID) + "/runs"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	return httpReq, nil
}

// plainRequest builds the JSON request of the plain-text chat proxy.
// Files are not supported by that endpoint and are dropped.
func (cc *CompletionClient) plainRequest(ctx context.Context, req backend.CompletionRequest) (*http.Request, error) {
	b, err := json.Marshal(plainChatRequest{SessionID: req.ConversationID, Message: req.Text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cc.c.baseURL+"/chat", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

// streamPlain yields the body verbatim, one read at a time.
func streamPlain(op string, body io.Reader, yield func([]byte, error) bool) {
	buf := make([]byte, plainReadSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if !yield(bytes.Clone(buf[:n]), nil) {
				return
			}
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			yield(nil, model.NewTransportError(op, 0, err))
			return
		}
	}
}

// streamRuns parses the SSE run stream and yields RunContent text. Events
// whose data is not JSON are skipped.
func streamRuns(op string, resp *http.Response, yield func([]byte, error) bool) {
	reader := NewSSEReader(resp.Body)
	for {
		eventType, data, err := reader.ReadEvent()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			yield(nil, model.NewTransportError(op, resp.StatusCode, err))
			return
		}
		if bytes.Equal(data, []byte("[DONE]")) {
			return
		}

		var ev runEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		if ev.Event == "" {
			ev.Event = eventType
		}

		switch ev.Event {
		case EventRunContent:
			text, ok := ev.Content.(string)
			if !ok || text == "" {
				continue
			}
			if !yield([]byte(text), nil) {
				return
			}
		case EventRunError:
			msg := ev.Error
			if msg == "" {
				msg, _ = ev.Content.(string)
			}
			if msg == "" {
				msg = "run failed"
			}
			yield(nil, model.NewTransportError(op, resp.StatusCode, errors.New(msg)))
			return
		}
	}
}
