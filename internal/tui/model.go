// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tui is the interactive terminal chat view.
//
// The view never mutates the session store or working list itself. It runs
// client operations as commands and redraws from the SessionsMsg and
// TranscriptMsg values the bridge pushes in.
package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/rigrun-chatsync/internal/backend"
	"github.com/jeranaias/rigrun-chatsync/internal/model"
	"github.com/jeranaias/rigrun-chatsync/internal/session"
	"github.com/jeranaias/rigrun-chatsync/internal/stream"
	"github.com/jeranaias/rigrun-chatsync/internal/teabridge"
)

// Client is the part of the chat client the view drives.
type Client interface {
	Refresh(ctx context.Context) error
	CreateSession(ctx context.Context, name string) (model.Session, error)
	RenameSession(ctx context.Context, id, name string) error
	DeleteSession(ctx context.Context, id string) error
	SelectSession(ctx context.Context, id string) ([]model.Message, error)
	Send(ctx context.Context, text string, files []backend.File) (stream.Result, error)
}

// =============================================================================
// MESSAGES
// =============================================================================

// opDoneMsg reports the end of a session operation.
type opDoneMsg struct {
	action string
	err    error
}

// sendDoneMsg reports the end of a send.
type sendDoneMsg struct {
	result stream.Result
	err    error
}

// =============================================================================
// MODEL
// =============================================================================

const sidebarWidth = 26

// Model is the Bubble Tea model for the chat view.
type Model struct {
	client Client
	ctx    context.Context
	theme  *Theme

	width  int
	height int

	sessions session.Snapshot
	messages []model.Message
	boundID  string

	pending []backend.File
	sending bool
	status  string
	failed  bool

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
}

// New creates the view. ctx bounds every operation the view starts.
func New(ctx context.Context, client Client) Model {
	in := textinput.New()
	in.Placeholder = "Message, or /help"
	in.CharLimit = 8000
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		client:   client,
		ctx:      ctx,
		theme:    NewTheme(),
		viewport: viewport.New(80, 20),
		input:    in,
		spinner:  sp,
		status:   "Loading sessions...",
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.run("refresh", func(ctx context.Context) error {
		return m.client.Refresh(ctx)
	}))
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()

	case teabridge.SessionsMsg:
		m.sessions = msg.Snapshot

	case teabridge.TranscriptMsg:
		m.messages = msg.Update.Messages
		m.boundID = msg.Update.SessionID
		m.viewport.SetContent(m.renderTranscript())
		m.viewport.GotoBottom()

	case opDoneMsg:
		m.setResult(msg.action, msg.err)
		if msg.action == "refresh" && msg.err == nil && m.sessions.ActiveID == "" && len(m.sessions.Sessions) > 0 {
			cmds = append(cmds, m.selectSession(m.sessions.Sessions[0].ID))
		}

	case sendDoneMsg:
		m.sending = false
		switch {
		case msg.err != nil:
			m.setResult("send", msg.err)
		case msg.result.Err != nil:
			m.setResult("send", msg.result.Err)
		default:
			m.setResult("send", nil)
		}

	case spinner.TickMsg:
		if m.sending {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case tea.KeyMsg:
		cmd, handled := m.handleKey(msg)
		if handled {
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c":
		return tea.Quit, true
	case "ctrl+n":
		return m.cycleSession(1), true
	case "ctrl+p":
		return m.cycleSession(-1), true
	case "enter":
		line := strings.TrimSpace(m.input.Value())
		m.input.SetValue("")
		if line == "" && len(m.pending) == 0 {
			return nil, true
		}
		if strings.HasPrefix(line, "/") {
			return m.command(line), true
		}
		return m.send(line), true
	}
	return nil, false
}

// =============================================================================
// COMMANDS
// =============================================================================

const helpText = "/new NAME  /rename NAME  /delete  /attach PATH  /refresh  /quit  ctrl+n/ctrl+p switch"

func (m *Model) command(line string) tea.Cmd {
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "help", "h":
		m.status, m.failed = helpText, false
		return nil

	case "quit", "q":
		return tea.Quit

	case "refresh":
		return m.run("refresh", m.client.Refresh)

	case "new":
		if arg == "" {
			arg = "New chat"
		}
		return m.run("create", func(ctx context.Context) error {
			_, err := m.client.CreateSession(ctx, arg)
			return err
		})

	case "rename":
		id := m.sessions.ActiveID
		return m.run("rename", func(ctx context.Context) error {
			return m.client.RenameSession(ctx, id, arg)
		})

	case "delete":
		id := m.sessions.ActiveID
		return m.run("delete", func(ctx context.Context) error {
			return m.client.DeleteSession(ctx, id)
		})

	case "attach":
		data, err := os.ReadFile(arg)
		if err != nil {
			m.setResult("attach", err)
			return nil
		}
		m.pending = append(m.pending, backend.File{Name: filepath.Base(arg), Data: data})
		m.status, m.failed = fmt.Sprintf("%d file(s) attached to the next message", len(m.pending)), false
		return nil
	}

	m.status, m.failed = "unknown command: /"+name, true
	return nil
}

func (m *Model) send(text string) tea.Cmd {
	if m.sending {
		m.status, m.failed = "a response is still streaming", true
		return nil
	}
	files := m.pending
	m.pending = nil
	m.sending = true
	m.status, m.failed = "", false

	ctx := m.ctx
	client := m.client
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		res, err := client.Send(ctx, text, files)
		return sendDoneMsg{result: res, err: err}
	})
}

func (m *Model) cycleSession(step int) tea.Cmd {
	list := m.sessions.Sessions
	if len(list) == 0 {
		return nil
	}
	idx := model.IndexOfSession(list, m.sessions.ActiveID)
	next := (idx + step + len(list)) % len(list)
	if idx < 0 {
		next = 0
	}
	return m.selectSession(list[next].ID)
}

func (m *Model) selectSession(id string) tea.Cmd {
	return m.run("select", func(ctx context.Context) error {
		_, err := m.client.SelectSession(ctx, id)
		return err
	})
}

// run wraps a client call as a command reporting opDoneMsg.
func (m *Model) run(action string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return opDoneMsg{action: action, err: fn(ctx)}
	}
}

func (m *Model) setResult(action string, err error) {
	if err != nil {
		m.status, m.failed = fmt.Sprintf("%s failed: %v", action, err), true
		return
	}
	m.status, m.failed = "", false
}

func (m *Model) layout() {
	inputHeight := 2
	statusHeight := 1
	m.viewport.Width = max(m.width-sidebarWidth-3, 10)
	m.viewport.Height = max(m.height-inputHeight-statusHeight, 3)
	m.input.Width = max(m.width-4, 10)
	m.viewport.SetContent(m.renderTranscript())
}
