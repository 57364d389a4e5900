// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/peterh/liner"

	"github.com/jeranaias/rigrun-chatsync/internal/backend"
	"github.com/jeranaias/rigrun-chatsync/internal/config"
	"github.com/jeranaias/rigrun-chatsync/internal/model"
)

// =============================================================================
// LINE EDITOR
// =============================================================================

// LineEditor provides input history and line editing for the chat loop.
type LineEditor struct {
	line        *liner.State
	historyFile string
}

// NewLineEditor creates a LineEditor and loads saved history.
func NewLineEditor() *LineEditor {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	e := &LineEditor{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(e.historyFile); err == nil {
		e.line.ReadHistory(f)
		f.Close()
	}
	return e
}

// ReadLine reads a line with the given prompt.
func (e *LineEditor) ReadLine(prompt string) (string, error) {
	input, err := e.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		e.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history (0600) and restores the terminal.
func (e *LineEditor) Close() {
	if err := os.MkdirAll(filepath.Dir(e.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(e.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			e.line.WriteHistory(f)
			f.Close()
		}
	}
	e.line.Close()
}

// =============================================================================
// CHAT LOOP
// =============================================================================

// errQuit ends the chat loop.
var errQuit = errors.New("quit")

// repl holds the state of one line-oriented chat.
type repl struct {
	app     *App
	out     io.Writer
	pending []backend.File

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Chat runs the line-oriented chat until /quit, Ctrl+D or Ctrl+C at the
// prompt. Ctrl+C while a reply streams cancels only that reply.
func (a *App) Chat(ctx context.Context) error {
	r := &repl{app: a, out: a.Out}
	printer := newStreamPrinter(a.Out)
	defer a.Client.Transcript().Subscribe(printer.handle)()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			if r.interrupt() {
				fmt.Fprintln(a.Err, "\n"+WarningStyle.Render("[Cancelled]"))
			}
		}
	}()

	if err := r.start(ctx); err != nil {
		return err
	}

	editor := NewLineEditor()
	defer editor.Close()

	for {
		input, err := editor.ReadLine(r.prompt())
		if err != nil {
			// Ctrl+C, Ctrl+D or a closed terminal all end the chat.
			fmt.Fprintln(a.Out)
			return nil
		}
		if err := r.handle(ctx, input); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			DisplayError(a.Err, err, false)
		}
	}
}

// start loads the session list and activates the newest session.
func (r *repl) start(ctx context.Context) error {
	c := r.app.Client
	if err := c.Refresh(ctx); err != nil {
		return err
	}
	fmt.Fprintln(r.out, TitleStyle.Render("chatsync")+" "+DimStyle.Render("logged in as "+c.Owner()+", /help for commands"))
	sessions := c.Sessions().Sessions()
	if len(sessions) == 0 {
		fmt.Fprintln(r.out, DimStyle.Render("No sessions yet. Start one with /new NAME."))
		return nil
	}
	return r.switchTo(ctx, sessions[0].ID)
}

func (r *repl) prompt() string {
	if s, ok := r.app.Client.Sessions().Active(); ok {
		return s.Name + "> "
	}
	return "chatsync> "
}

// interrupt cancels the reply in flight. It reports whether there was one.
func (r *repl) interrupt() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return false
	}
	r.cancel()
	r.cancel = nil
	return true
}

// handle runs one line of input.
func (r *repl) handle(ctx context.Context, input string) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}
	if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
		return errQuit
	}
	if strings.HasPrefix(input, "/") {
		return r.command(ctx, input)
	}
	return r.send(ctx, input)
}

func (r *repl) command(ctx context.Context, line string) error {
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	c := r.app.Client

	switch strings.ToLower(name) {
	case "help", "?":
		fmt.Fprint(r.out, replHelp)
		return nil

	case "quit", "exit", "q":
		return errQuit

	case "sessions", "ls":
		if err := c.Refresh(ctx); err != nil {
			return err
		}
		printSessions(r.out, c.Sessions().Sessions(), c.Sessions().ActiveID())
		return nil

	case "new":
		s, err := c.CreateSession(ctx, arg)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "%s %s\n", SuccessStyle.Render("Created"), s.Name)
		return nil

	case "switch", "open":
		if arg == "" {
			return NewUsageError("usage: /switch ID")
		}
		return r.switchTo(ctx, arg)

	case "rename":
		id := c.Sessions().ActiveID()
		if id == "" {
			return &model.ValidationError{Field: "session", Message: "no session is active"}
		}
		if err := c.RenameSession(ctx, id, arg); err != nil {
			return err
		}
		fmt.Fprintln(r.out, SuccessStyle.Render("Renamed to "+strings.TrimSpace(arg)))
		return nil

	case "delete", "rm":
		id := arg
		if id == "" {
			id = c.Sessions().ActiveID()
		}
		if id == "" {
			return NewUsageError("usage: /delete [ID]")
		}
		if err := c.DeleteSession(ctx, id); err != nil {
			return err
		}
		fmt.Fprintln(r.out, SuccessStyle.Render("Deleted "+id))
		return nil

	case "history":
		msgs := c.Transcript().Messages()
		if n, err := strconv.Atoi(arg); err == nil && n > 0 && n < len(msgs) {
			msgs = msgs[len(msgs)-n:]
		}
		printMessages(r.out, msgs, ColorsEnabled())
		return nil

	case "attach":
		files, err := readFiles([]string{arg})
		if err != nil {
			return err
		}
		r.pending = append(r.pending, files...)
		fmt.Fprintf(r.out, "%s\n", DimStyle.Render(fmt.Sprintf("%d file(s) attached to the next message", len(r.pending))))
		return nil
	}
	return NewUsageError("unknown command: /" + name)
}

func (r *repl) switchTo(ctx context.Context, id string) error {
	msgs, err := r.app.Client.SelectSession(ctx, id)
	if err != nil {
		return err
	}
	s, _ := r.app.Client.Sessions().Get(id)
	fmt.Fprintf(r.out, "%s %s %s\n", LabelStyle.Render("Session"), ValueStyle.Render(s.Name),
		DimStyle.Render(fmt.Sprintf("(%d messages)", len(msgs))))
	return nil
}

func (r *repl) send(ctx context.Context, text string) error {
	sendCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer r.interrupt()

	files := r.pending
	fmt.Fprint(r.out, AgentStyle.Render(model.RoleAgent.DisplayName()+": "))
	res, err := r.app.Client.Send(sendCtx, text, files)
	if err != nil {
		fmt.Fprintln(r.out)
		return err
	}
	r.pending = nil
	if res.PersistErr != nil {
		fmt.Fprintln(r.app.Err, WarningStyle.Render("[WARN] reply was not saved: "+res.PersistErr.Error()))
	}
	return nil
}

const replHelp = `Commands:
  /sessions         List sessions
  /new NAME         Create a session
  /switch ID        Open a session
  /rename NAME      Rename the open session
  /delete [ID]      Delete a session (default: the open one)
  /history [N]      Show the open session's messages
  /attach PATH      Attach a file to the next message
  /quit             Leave

Anything else is sent to the open session. Ctrl+C cancels a reply.
`
