// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the chatsync command line.
//
// Subcommands run one operation against the configured backend and exit.
// With no subcommand on a terminal the full-screen view starts; "chat"
// starts a line-oriented session with history and slash commands.
//
// Every command logs in as one owner, taken from --owner, chat.owner in the
// config file, or $USER, in that order. Any failure exits with status 1.
package cli
