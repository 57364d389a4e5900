// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for sessions and messages.
//
// # Key Types
//
//   - Session: one conversation, possibly provisional until the backend confirms it
//   - Message: one turn with role, content, attachments and streaming state
//   - Attachment: a file reference, temporary until uploaded
//   - Role: user or agent
//
// # Errors
//
// TransportError, ValidationError and NotFoundError form the error taxonomy
// shared by every component. Use errors.As to inspect them:
//
//	var terr *model.TransportError
//	if errors.As(err, &terr) {
//	    // backend unreachable or non-2xx
//	}
package model
