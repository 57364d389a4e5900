// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chatsync/internal/backend"
	"github.com/jeranaias/rigrun-chatsync/internal/model"
	"github.com/jeranaias/rigrun-chatsync/internal/normalize"
)

// =============================================================================
// FAKE SERVER
// =============================================================================

type fakeBackend struct {
	mu       sync.Mutex
	queries  []url.Values
	requests int
	created  []string
	renamed  map[string]string
	deleted  []string
	appended map[string][]map[string]any
	run      url.Values
	runFiles map[string]string
	sse      string
}

func (f *fakeBackend) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	f.queries = append(f.queries, r.URL.Query())
}

func (f *fakeBackend) lastQuery() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[len(f.queries)-1]
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newServer(t *testing.T) (*fakeBackend, *httptest.Server) {
	t.Helper()
	fb := &fakeBackend{
		renamed:  make(map[string]string),
		appended: make(map[string][]map[string]any),
		runFiles: make(map[string]string),
	}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			fb.record(req)
			next.ServeHTTP(w, req)
		})
	})

	r.Get("/sessions", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]any{"data": []map[string]any{
			{"session_id": "old", "session_name": "Old", "created_at": 1700000000},
			{"session_id": "new", "session_name": "New", "created_at": 1800000000},
		}})
	})
	r.Post("/sessions", func(w http.ResponseWriter, req *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(req.Body).Decode(&in)
		fb.mu.Lock()
		fb.created = append(fb.created, in["session_name"])
		fb.mu.Unlock()
		writeJSON(w, map[string]any{
			"session_id":   "srv-1",
			"session_name": in["session_name"],
			"created_at":   time.Now().UTC().Format(time.RFC3339),
		})
	})
	r.Patch("/sessions/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		if id == "missing" {
			http.Error(w, "no such session", http.StatusNotFound)
			return
		}
		var in map[string]string
		_ = json.NewDecoder(req.Body).Decode(&in)
		fb.mu.Lock()
		fb.renamed[id] = in["session_name"]
		fb.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	r.Delete("/sessions/{id}", func(w http.ResponseWriter, req *http.Request) {
		fb.mu.Lock()
		fb.deleted = append(fb.deleted, chi.URLParam(req, "id"))
		fb.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/sessions/{id}", func(w http.ResponseWriter, req *http.Request) {
		_, _ = io.WriteString(w, `{"chat_history":[{"role":"user","content":"hi"},null,{"role":"assistant","message":"hello"}]}`)
	})
	r.Post("/sessions/{id}/messages", func(w http.ResponseWriter, req *http.Request) {
		var in map[string]any
		_ = json.NewDecoder(req.Body).Decode(&in)
		fb.mu.Lock()
		id := chi.URLParam(req, "id")
		fb.appended[id] = append(fb.appended[id], in)
		fb.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	r.Post("/files", func(w http.ResponseWriter, req *http.Request) {
		file, hdr, err := req.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		owner := req.URL.Query().Get("user_id")
		writeJSON(w, map[string]string{
			"url": fmt.Sprintf("https://files.test/%s/%s?size=%d&type=%s", owner, hdr.Filename, len(data), url.QueryEscape(hdr.Header.Get("Content-Type"))),
		})
	})
	r.Post("/agents/{agent}/runs", func(w http.ResponseWriter, req *http.Request) {
		if err := req.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fb.mu.Lock()
		fb.run = req.MultipartForm.Value
		for _, fh := range req.MultipartForm.File["files"] {
			f, _ := fh.Open()
			data, _ := io.ReadAll(f)
			f.Close()
			fb.runFiles[fh.Filename] = string(data)
		}
		sse := fb.sse
		fb.mu.Unlock()
		if chi.URLParam(req, "agent") != "agno-agent" {
			http.Error(w, "unknown agent", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, sse)
	})
	r.Post("/chat", func(w http.ResponseWriter, req *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(req.Body).Decode(&in)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "echo "+in["session_id"]+": "+in["message"])
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return fb, srv
}

func collect(t *testing.T, seq func(func([]byte, error) bool)) (string, error) {
	t.Helper()
	var sb strings.Builder
	for chunk, err := range seq {
		if err != nil {
			return sb.String(), err
		}
		sb.Write(chunk)
	}
	return sb.String(), nil
}

// =============================================================================
// RECORD CLIENT TESTS
// =============================================================================

func TestRecords_ListSessionsNewestFirst(t *testing.T) {
	fb, srv := newServer(t)
	rc := New(Options{BaseURL: srv.URL}).Records()

	got, err := rc.ListSessions(context.Background(), "alice")
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID)
	assert.Equal(t, "Old", got[1].Name)
	assert.Equal(t, time.Unix(1800000000, 0), got[0].CreatedAt)

	q := fb.lastQuery()
	assert.Equal(t, "agent", q.Get("type"))
	assert.Equal(t, "alice", q.Get("user_id"))
}

func TestRecords_CreateRenameDelete(t *testing.T) {
	fb, srv := newServer(t)
	rc := New(Options{BaseURL: srv.URL, SessionType: "team"}).Records()
	ctx := context.Background()

	s, err := rc.CreateSession(ctx, "alice", "Trip Plan")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", s.ID)
	assert.Equal(t, "Trip Plan", s.Name)
	assert.False(t, s.CreatedAt.IsZero())
	assert.Equal(t, "team", fb.lastQuery().Get("type"))

	require.NoError(t, rc.RenameSession(ctx, "alice", "srv-1", "Holiday"))
	require.NoError(t, rc.DeleteSession(ctx, "alice", "srv-1"))

	fb.mu.Lock()
	defer fb.mu.Unlock()
	assert.Equal(t, []string{"Trip Plan"}, fb.created)
	assert.Equal(t, "Holiday", fb.renamed["srv-1"])
	assert.Equal(t, []string{"srv-1"}, fb.deleted)
}

func TestRecords_ErrorStatusBecomesTransportError(t *testing.T) {
	_, srv := newServer(t)
	rc := New(Options{BaseURL: srv.URL}).Records()

	err := rc.RenameSession(context.Background(), "alice", "missing", "X")

	var te *model.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusNotFound, te.StatusCode)
	assert.Contains(t, te.Error(), "no such session")
}

func TestRecords_UnreachableBackend(t *testing.T) {
	_, srv := newServer(t)
	srv.Close()
	rc := New(Options{BaseURL: srv.URL}).Records()

	_, err := rc.ListSessions(context.Background(), "alice")

	var te *model.TransportError
	require.ErrorAs(t, err, &te)
	assert.Zero(t, te.StatusCode)
}

func TestRecords_ListMessagesKeepsRawRecords(t *testing.T) {
	_, srv := newServer(t)
	rc := New(Options{BaseURL: srv.URL}).Records()

	recs, err := rc.ListMessages(context.Background(), "alice", "s1")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Nil(t, recs[1])

	msgs := normalize.Messages(recs)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleAgent, msgs[1].Role)
	assert.Equal(t, "hello", msgs[1].Content)
}

func TestRecords_AppendMessage(t *testing.T) {
	fb, srv := newServer(t)
	rc := New(Options{BaseURL: srv.URL}).Records()

	msg := model.NewAgentMessage("answer")
	require.NoError(t, rc.AppendMessage(context.Background(), "alice", "s1", msg))

	fb.mu.Lock()
	defer fb.mu.Unlock()
	require.Len(t, fb.appended["s1"], 1)
	assert.Equal(t, "assistant", fb.appended["s1"][0]["role"])
	assert.Equal(t, msg.ID, fb.appended["s1"][0]["id"])
}

// =============================================================================
// OBJECT CLIENT TESTS
// =============================================================================

func TestObjects_PutMultipart(t *testing.T) {
	_, srv := newServer(t)
	oc := New(Options{BaseURL: srv.URL}).Objects()

	u, err := oc.Put(context.Background(), "alice", backend.File{Name: "a.png", MimeType: "image/png", Data: []byte("12345")})
	require.NoError(t, err)
	assert.Equal(t, "https://files.test/alice/a.png?size=5&type=image%2Fpng", u)
}

func TestWriteFilePart_EscapesQuotedNames(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, writeFilePart(mw, "file", backend.File{Name: `say "hi".txt`, Data: []byte("x")}))
	require.NoError(t, mw.Close())

	part, err := multipart.NewReader(&buf, mw.Boundary()).NextPart()
	require.NoError(t, err)
	assert.Equal(t, "file", part.FormName())
	assert.Equal(t, `say "hi".txt`, part.FileName())
	assert.Equal(t, "application/octet-stream", part.Header.Get("Content-Type"))
}

// =============================================================================
// COMPLETION CLIENT TESTS
// =============================================================================

const runStream = "event: RunStarted\n" +
	"data: {\"event\":\"RunStarted\"}\n\n" +
	"data: {\"event\":\"RunContent\",\"content\":\"Hel\"}\n\n" +
	": keep-alive\n\n" +
	"data: not json\n\n" +
	"data: {\"event\":\"RunContent\",\"content\":\"\"}\n\n" +
	"data: {\"event\":\"RunContent\",\"content\":\"lo\"}\r\n\r\n" +
	"data: {\"event\":\"RunCompleted\",\"content\":\"Hello\"}\n\n"

func TestCompletion_RunsModeYieldsRunContent(t *testing.T) {
	fb, srv := newServer(t)
	fb.sse = runStream
	cc := New(Options{BaseURL: srv.URL}).Completion()

	seq := cc.Stream(context.Background(), backend.CompletionRequest{
		ConversationID: "conv-1",
		Text:           "Hi",
		Files:          []backend.File{{Name: "notes.txt", MimeType: "text/plain", Data: []byte("n")}},
	})

	var chunks []string
	for chunk, err := range seq {
		require.NoError(t, err)
		chunks = append(chunks, string(chunk))
	}
	assert.Equal(t, []string{"Hel", "lo"}, chunks)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	assert.Equal(t, "Hi", fb.run.Get("message"))
	assert.Equal(t, "true", fb.run.Get("stream"))
	assert.Equal(t, "conv-1", fb.run.Get("session_id"))
	assert.Equal(t, "n", fb.runFiles["notes.txt"])
}

func TestCompletion_IsLazy(t *testing.T) {
	fb, srv := newServer(t)
	fb.sse = runStream
	cc := New(Options{BaseURL: srv.URL}).Completion()

	seq := cc.Stream(context.Background(), backend.CompletionRequest{ConversationID: "c", Text: "x"})
	fb.mu.Lock()
	assert.Zero(t, fb.requests)
	fb.mu.Unlock()

	for range 2 {
		text, err := collect(t, seq)
		require.NoError(t, err)
		assert.Equal(t, "Hello", text)
	}
	fb.mu.Lock()
	assert.Equal(t, 2, fb.requests)
	fb.mu.Unlock()
}

func TestCompletion_RunErrorEvent(t *testing.T) {
	fb, srv := newServer(t)
	fb.sse = "data: {\"event\":\"RunContent\",\"content\":\"par\"}\n\n" +
		"data: {\"event\":\"RunError\",\"content\":\"model overloaded\"}\n\n"
	cc := New(Options{BaseURL: srv.URL}).Completion()

	text, err := collect(t, cc.Stream(context.Background(), backend.CompletionRequest{ConversationID: "c"}))

	assert.Equal(t, "par", text)
	var te *model.TransportError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Error(), "model overloaded")
}

func TestCompletion_UnknownAgent(t *testing.T) {
	_, srv := newServer(t)
	cc := New(Options{BaseURL: srv.URL, AgentID: "other"}).Completion()

	_, err := collect(t, cc.Stream(context.Background(), backend.CompletionRequest{ConversationID: "c"}))

	var te *model.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusNotFound, te.StatusCode)
}

func TestCompletion_PlainMode(t *testing.T) {
	_, srv := newServer(t)
	cc := New(Options{BaseURL: srv.URL, Mode: ModePlain}).Completion()

	text, err := collect(t, cc.Stream(context.Background(), backend.CompletionRequest{ConversationID: "s9", Text: "ping"}))
	require.NoError(t, err)
	assert.Equal(t, "echo s9: ping", text)
}

// =============================================================================
// LIMITER TESTS
// =============================================================================

func TestClient_SharedLimiter(t *testing.T) {
	_, srv := newServer(t)
	c := New(Options{BaseURL: srv.URL, RequestsPerSecond: 0.001, Burst: 1})

	_, err := c.Records().ListSessions(context.Background(), "alice")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Objects().Put(ctx, "alice", backend.File{Name: "a", Data: []byte("x")})

	var te *model.TransportError
	require.ErrorAs(t, err, &te)
}
