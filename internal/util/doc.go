// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared by the storage, config and
// display code.
//
//	// Write files atomically to prevent torn reads
//	err := util.AtomicWriteFile(path, data, 0644)
//
//	// Truncate previews without splitting characters
//	line := util.TruncateRunes(msg.Content, 60)
package util
