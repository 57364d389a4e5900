// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes a session's history to a file.
//
// # Supported Formats
//
//   - Markdown: human-readable, with a YAML front matter header
//   - JSON: the session and its normalized messages
//
// # Usage
//
//	exporter, err := export.ForFormat("md", nil)
//	path, err := export.ToFile(transcript, exporter, nil)
package export
