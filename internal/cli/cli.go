// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdTUI Command = iota
	CmdChat
	CmdSessions
	CmdCreate
	CmdRename
	CmdDelete
	CmdHistory
	CmdSend
	CmdExport
	CmdConfig
	CmdVersion
	CmdHelp
)

// String returns the command's name as typed.
func (c Command) String() string {
	switch c {
	case CmdTUI:
		return "tui"
	case CmdChat:
		return "chat"
	case CmdSessions:
		return "sessions"
	case CmdCreate:
		return "create"
	case CmdRename:
		return "rename"
	case CmdDelete:
		return "delete"
	case CmdHistory:
		return "history"
	case CmdSend:
		return "send"
	case CmdExport:
		return "export"
	case CmdConfig:
		return "config"
	case CmdVersion:
		return "version"
	default:
		return "help"
	}
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string
	Owner      string
	Storage    string
	JSON       bool
	Quiet      bool
	Verbose    bool

	// Raw holds the arguments after the command name.
	Raw []string
}

const usageText = `chatsync - keep chat sessions in sync with an agent backend

Usage:
  chatsync [flags]                     Interactive view (default on a terminal)
  chatsync chat                        Line-oriented chat
  chatsync sessions                    List sessions, newest first
  chatsync create NAME                 Create a session
  chatsync rename ID NAME              Rename a session
  chatsync delete ID                   Delete a session and its history
  chatsync history ID [--limit N]      Print a session's messages
  chatsync send ID TEXT [FILE...]      Send a message, streaming the reply
  chatsync export ID [--format md|json] [--out DIR|-]
  chatsync config [show|get|set|path|init]
  chatsync version

Global flags:
  --config PATH     Config file (default ~/.chatsync/config.toml)
  --owner NAME      Identity every call is scoped to (chat.owner)
  --storage DRIVER  http or sqlite (storage.driver)
  --json            JSON output
  -q, --quiet       Less output
  -v, --verbose     Debug logging

Environment:
  CHATSYNC_* variables override the config file; a .env file in the
  working directory is loaded first.

Version: %s
`

// PrintUsage writes the usage text.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, usageText, Version)
}

// PrintVersion writes version information.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "chatsync version %s\n", Version)
	fmt.Fprintf(w, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(w, "  Build date: %s\n", BuildDate)
}

// Parse parses command-line arguments (without the program name).
func Parse(argv []string) (Command, Args, error) {
	remaining, args, err := parseGlobalFlags(argv)
	if err != nil {
		return CmdHelp, args, err
	}

	if len(remaining) == 0 {
		return CmdTUI, args, nil
	}

	cmd := strings.ToLower(remaining[0])
	args.Raw = remaining[1:]

	switch cmd {
	case "tui":
		return CmdTUI, args, nil
	case "chat", "repl":
		return CmdChat, args, nil
	case "sessions", "ls", "list":
		return CmdSessions, args, nil
	case "create", "new":
		return CmdCreate, args, nil
	case "rename", "mv":
		return CmdRename, args, nil
	case "delete", "rm":
		return CmdDelete, args, nil
	case "history", "show":
		return CmdHistory, args, nil
	case "send":
		return CmdSend, args, nil
	case "export":
		return CmdExport, args, nil
	case "config":
		return CmdConfig, args, nil
	case "version", "--version":
		return CmdVersion, args, nil
	case "help", "-h", "--help":
		return CmdHelp, args, nil
	}
	return CmdHelp, args, NewUsageError(fmt.Sprintf("unknown command %q", cmd))
}

// parseGlobalFlags extracts global flags from args and returns remaining args.
// Global flags may appear anywhere on the line.
func parseGlobalFlags(argv []string) ([]string, Args, error) {
	var (
		remaining []string
		args      Args
	)

	value := func(i *int, name string) (string, error) {
		if *i+1 >= len(argv) {
			return "", NewUsageError(name + " requires a value")
		}
		*i++
		return argv[*i], nil
	}

	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		var err error

		switch {
		case arg == "--":
			remaining = append(remaining, argv[i:]...)
			return remaining, args, nil
		case arg == "--json":
			args.JSON = true
		case arg == "-q" || arg == "--quiet":
			args.Quiet = true
		case arg == "-v" || arg == "--verbose":
			args.Verbose = true
		case arg == "--config":
			args.ConfigPath, err = value(&i, arg)
		case arg == "--owner":
			args.Owner, err = value(&i, arg)
		case arg == "--storage":
			args.Storage, err = value(&i, arg)
		case strings.HasPrefix(arg, "--config="):
			args.ConfigPath = strings.TrimPrefix(arg, "--config=")
		case strings.HasPrefix(arg, "--owner="):
			args.Owner = strings.TrimPrefix(arg, "--owner=")
		case strings.HasPrefix(arg, "--storage="):
			args.Storage = strings.TrimPrefix(arg, "--storage=")
		default:
			remaining = append(remaining, arg)
		}
		if err != nil {
			return nil, args, err
		}
	}

	return remaining, args, nil
}
