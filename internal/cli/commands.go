// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigrun-chatsync/internal/config"
	"github.com/jeranaias/rigrun-chatsync/internal/export"
	"github.com/jeranaias/rigrun-chatsync/internal/logging"
	"github.com/jeranaias/rigrun-chatsync/internal/model"
	"github.com/jeranaias/rigrun-chatsync/internal/stream"
	"github.com/jeranaias/rigrun-chatsync/internal/teabridge"
	"github.com/jeranaias/rigrun-chatsync/internal/transcript"
	"github.com/jeranaias/rigrun-chatsync/internal/tui"
)

// =============================================================================
// DISPATCH
// =============================================================================

// Run executes cmd. cfgPath is the file cfg was loaded from, or where it
// would live.
func Run(ctx context.Context, cmd Command, args Args, cfg *config.Config, cfgPath string, out, errw io.Writer) error {
	switch cmd {
	case CmdHelp:
		PrintUsage(out)
		return nil
	case CmdVersion:
		PrintVersion(out)
		return nil
	case CmdConfig:
		return runConfig(out, cfg, cfgPath, args)
	case CmdTUI:
		if !Interactive() {
			return NewUsageError("the interactive view needs a terminal; try 'chatsync help'")
		}
	}

	b, err := OpenBackends(cfg)
	if err != nil {
		return err
	}
	app, err := NewApp(cfg, args, b, out, errw)
	if err != nil {
		_ = b.Close()
		return err
	}
	defer app.Close()

	return app.Dispatch(ctx, cmd, cfgPath)
}

// Dispatch runs a session command against the logged-in client.
func (a *App) Dispatch(ctx context.Context, cmd Command, cfgPath string) error {
	p := NewArgParser(a.Args.Raw)

	switch cmd {
	case CmdSessions:
		return a.Sessions(ctx)
	case CmdCreate:
		if err := p.Require(1, "create NAME"); err != nil {
			return err
		}
		return a.Create(ctx, strings.Join(p.PositionalFrom(0), " "))
	case CmdRename:
		if err := p.Require(2, "rename ID NAME"); err != nil {
			return err
		}
		return a.Rename(ctx, p.Positional(0), strings.Join(p.PositionalFrom(1), " "))
	case CmdDelete:
		if err := p.Require(1, "delete ID"); err != nil {
			return err
		}
		return a.Delete(ctx, p.Positional(0))
	case CmdHistory:
		if err := p.Require(1, "history ID [--limit N]"); err != nil {
			return err
		}
		limit, err := p.FlagIntOrDefault("limit", 0)
		if err != nil {
			return err
		}
		return a.History(ctx, p.Positional(0), limit)
	case CmdSend:
		if err := p.Require(2, "send ID TEXT [FILE...]"); err != nil {
			return err
		}
		return a.Send(ctx, p.Positional(0), p.Positional(1), p.PositionalFrom(2))
	case CmdExport:
		if err := p.Require(1, "export ID [--format md|json] [--out DIR|-]"); err != nil {
			return err
		}
		return a.Export(ctx, p.Positional(0), p.FlagOrDefault("format", "md"), p.FlagOrDefault("out", "."))
	case CmdChat:
		return a.Chat(ctx)
	case CmdTUI:
		return a.TUI(ctx, cfgPath)
	}
	return NewUsageError(fmt.Sprintf("%s needs no session", cmd))
}

// =============================================================================
// SESSION COMMANDS
// =============================================================================

// Sessions lists the owner's sessions, newest first.
func (a *App) Sessions(ctx context.Context) error {
	if err := a.Client.Refresh(ctx); err != nil {
		return err
	}
	list := a.Client.Sessions().Sessions()
	if a.Args.JSON {
		return a.writeJSON(list)
	}
	if len(list) == 0 {
		if !a.Args.Quiet {
			fmt.Fprintln(a.Out, DimStyle.Render("No sessions yet. Create one with 'chatsync create NAME'."))
		}
		return nil
	}
	printSessions(a.Out, list, a.Client.Sessions().ActiveID())
	return nil
}

func printSessions(w io.Writer, list []model.Session, activeID string) {
	for _, s := range list {
		marker := " "
		if s.ID == activeID {
			marker = "*"
		}
		name := ValueStyle.Render(s.Name)
		if s.IsProvisional {
			name += " " + WarningStyle.Render("(pending)")
		}
		fmt.Fprintf(w, "%s %s  %s  %s\n", marker, LabelStyle.Render(s.ID), name,
			DimStyle.Render(s.CreatedAt.Local().Format("2006-01-02 15:04")))
	}
}

// Create creates a session.
func (a *App) Create(ctx context.Context, name string) error {
	s, err := a.Client.CreateSession(ctx, name)
	if err != nil {
		return err
	}
	if a.Args.JSON {
		return a.writeJSON(s)
	}
	if a.Args.Quiet {
		fmt.Fprintln(a.Out, s.ID)
		return nil
	}
	fmt.Fprintf(a.Out, "%s %s %s\n", SuccessStyle.Render("Created"), s.Name, DimStyle.Render(s.ID))
	return nil
}

// Rename renames an existing session.
func (a *App) Rename(ctx context.Context, id, name string) error {
	if err := a.Client.Refresh(ctx); err != nil {
		return err
	}
	if err := a.Client.RenameSession(ctx, id, name); err != nil {
		return err
	}
	return a.done(fmt.Sprintf("Renamed %s to %q", id, strings.TrimSpace(name)))
}

// Delete deletes a session and its history.
func (a *App) Delete(ctx context.Context, id string) error {
	if err := a.Client.Refresh(ctx); err != nil {
		return err
	}
	if err := a.Client.DeleteSession(ctx, id); err != nil {
		return err
	}
	return a.done("Deleted " + id)
}

// History prints a session's messages. limit > 0 keeps only the newest.
func (a *App) History(ctx context.Context, id string, limit int) error {
	if err := a.Client.Refresh(ctx); err != nil {
		return err
	}
	msgs, err := a.Client.History(ctx, id)
	if err != nil {
		return err
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	if a.Args.JSON {
		return a.writeJSON(msgs)
	}
	if len(msgs) == 0 {
		if !a.Args.Quiet {
			fmt.Fprintln(a.Out, DimStyle.Render("No messages."))
		}
		return nil
	}
	printMessages(a.Out, msgs, ColorsEnabled())
	return nil
}

// Send posts a message to a session and streams the reply to Out.
func (a *App) Send(ctx context.Context, id, text string, paths []string) error {
	files, err := readFiles(paths)
	if err != nil {
		return err
	}
	if err := a.Client.Refresh(ctx); err != nil {
		return err
	}
	if _, err := a.Client.SelectSession(ctx, id); err != nil {
		return err
	}

	var printer *streamPrinter
	if !a.Args.JSON {
		printer = newStreamPrinter(a.Out)
		unsubscribe := a.Client.Transcript().Subscribe(printer.handle)
		defer unsubscribe()
	}

	res, err := a.Client.Send(ctx, text, files)
	if err != nil {
		return err
	}
	return a.reportResult(res)
}

// Export writes a session's history to a file in outDir, or to Out when
// outDir is "-".
func (a *App) Export(ctx context.Context, id, format, outDir string) error {
	opts := export.DefaultOptions()
	opts.OutputDir = outDir
	exporter, err := export.ForFormat(format, opts)
	if err != nil {
		return err
	}

	if err := a.Client.Refresh(ctx); err != nil {
		return err
	}
	s, ok := a.Client.Sessions().Get(id)
	if !ok {
		return &model.NotFoundError{Kind: "session", ID: id}
	}
	msgs, err := a.Client.History(ctx, id)
	if err != nil {
		return err
	}
	t := &export.Transcript{Session: s, Owner: a.Client.Owner(), Messages: msgs}

	if outDir == "-" {
		data, err := exporter.Export(t)
		if err != nil {
			return err
		}
		_, err = a.Out.Write(data)
		return err
	}
	path, err := export.ToFile(t, exporter, opts)
	if err != nil {
		return err
	}
	if a.Args.JSON {
		return a.writeJSON(map[string]interface{}{"success": true, "path": path})
	}
	fmt.Fprintln(a.Out, path)
	return nil
}

func (a *App) reportResult(res stream.Result) error {
	if a.Args.JSON {
		out := map[string]interface{}{
			"message": res.Message,
			"state":   res.State.String(),
			"chunks":  res.Chunks,
			"success": res.Err == nil,
		}
		if res.Err != nil {
			out["error"] = res.Err.Error()
		}
		if err := a.writeJSON(out); err != nil {
			return err
		}
	}
	if res.Err != nil {
		return fmt.Errorf("response failed: %w", res.Err)
	}
	if res.PersistErr != nil && !a.Args.Quiet {
		fmt.Fprintln(a.Err, WarningStyle.Render("[WARN] reply was not saved: "+res.PersistErr.Error()))
	}
	return nil
}

func (a *App) done(msg string) error {
	if a.Args.JSON {
		return a.writeJSON(map[string]interface{}{"success": true, "message": msg})
	}
	if !a.Args.Quiet {
		fmt.Fprintln(a.Out, SuccessStyle.Render(msg))
	}
	return nil
}

func (a *App) writeJSON(v interface{}) error {
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// STREAM PRINTER
// =============================================================================

// streamPrinter writes the growing agent reply as it streams in. It follows
// the streaming agent message appended after the printer was subscribed and
// prints only what is new in each update.
type streamPrinter struct {
	w io.Writer

	mu    sync.Mutex
	id    string
	shown string
}

func newStreamPrinter(w io.Writer) *streamPrinter {
	return &streamPrinter{w: w}
}

func (p *streamPrinter) handle(u transcript.Update) {
	if u.Index < 0 || u.Index >= len(u.Messages) {
		return
	}
	msg := u.Messages[u.Index]

	p.mu.Lock()
	defer p.mu.Unlock()

	switch u.Kind {
	case transcript.KindAppend:
		if msg.Role == model.RoleAgent && msg.IsStreaming {
			p.id, p.shown = msg.ID, ""
		}
	case transcript.KindChunk:
		if msg.ID == p.id {
			p.catchUp(msg.Content)
		}
	case transcript.KindReplace, transcript.KindFinalized:
		if msg.ID != p.id || msg.IsStreaming {
			return
		}
		p.catchUp(msg.Content)
		fmt.Fprintln(p.w)
		p.id = ""
	}
}

// catchUp prints the part of content not yet shown. Content that does not
// extend what was shown, such as a failure message, starts a new line.
func (p *streamPrinter) catchUp(content string) {
	if strings.HasPrefix(content, p.shown) {
		io.WriteString(p.w, content[len(p.shown):])
	} else {
		if p.shown != "" {
			fmt.Fprintln(p.w)
		}
		io.WriteString(p.w, content)
	}
	p.shown = content
}

// =============================================================================
// INTERACTIVE VIEW
// =============================================================================

// TUI runs the full-screen view until the user quits or ctx is cancelled.
// While it runs, edits to the config file change the log level.
func (a *App) TUI(ctx context.Context, cfgPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(tui.New(ctx, a.Client), tea.WithAltScreen())
	bridge := teabridge.New(program, a.Client.Sessions(), a.Client.Transcript())
	defer bridge.Stop()

	if cfgPath != "" {
		if _, err := os.Stat(cfgPath); err == nil {
			if err := config.Watch(ctx, cfgPath, a.applyReload); err != nil {
				logging.WithFields("component", "cli").Warn("config watch disabled", "error", err)
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		_, err := program.Run()
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		program.Quit()
		return nil
	})
	return g.Wait()
}

// applyReload takes the settings that can change without logging in again.
func (a *App) applyReload(cfg *config.Config, err error) {
	if err != nil {
		return
	}
	logging.SetLevel(cfg.Log.Level)
}

// =============================================================================
// CONFIG COMMAND
// =============================================================================

func runConfig(w io.Writer, cfg *config.Config, path string, args Args) error {
	p := NewArgParser(args.Raw)
	sub := p.Positional(0)

	switch sub {
	case "", "show":
		if args.JSON {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		}
		return toml.NewEncoder(w).Encode(cfg)

	case "get":
		if err := p.Require(2, "config get KEY"); err != nil {
			return err
		}
		v, err := cfg.Get(p.Positional(1))
		if err != nil {
			return NewUsageError(err.Error())
		}
		fmt.Fprintln(w, v)
		return nil

	case "set":
		if err := p.Require(3, "config set KEY VALUE"); err != nil {
			return err
		}
		onDisk, err := readConfigFile(path)
		if err != nil {
			return err
		}
		if err := onDisk.Set(p.Positional(1), p.Positional(2)); err != nil {
			return NewUsageError(err.Error())
		}
		if err := onDisk.Validate(); err != nil {
			return err
		}
		if err := config.SaveTOML(onDisk, path); err != nil {
			return err
		}
		if !args.Quiet {
			fmt.Fprintf(w, "%s %s = %s\n", SuccessStyle.Render("Set"), p.Positional(1), p.Positional(2))
		}
		return nil

	case "keys":
		for _, k := range config.GetAllKeys() {
			fmt.Fprintln(w, k)
		}
		return nil

	case "path":
		fmt.Fprintln(w, path)
		return nil

	case "init":
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}
		if err := config.SaveTOML(config.Default(), path); err != nil {
			return err
		}
		if !args.Quiet {
			fmt.Fprintf(w, "%s %s\n", SuccessStyle.Render("Wrote"), path)
		}
		return nil
	}
	return NewUsageError(fmt.Sprintf("unknown config subcommand %q", sub))
}

// readConfigFile loads the file as written, without environment overrides,
// so that saving it back does not bake them in.
func readConfigFile(path string) (*config.Config, error) {
	cfg := config.Default()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}
