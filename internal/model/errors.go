// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "fmt"

// =============================================================================
// ERRORS
// =============================================================================

// TransportError reports that a backend was unreachable or answered with a
// non-success response.
type TransportError struct {
	Op         string // e.g. "list sessions"
	StatusCode int    // 0 when no response was received
	Err        error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: backend returned status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ValidationError reports invalid caller input, such as an empty required
// field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotFoundError reports an operation targeting an id no longer present
// locally.
type NotFoundError struct {
	Kind string // "session", "message"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// Is implements errors.Is support: any two NotFoundErrors of the same kind
// match when the target leaves ID empty.
func (e *NotFoundError) Is(target error) bool {
	t, ok := target.(*NotFoundError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.ID == "" || t.ID == e.ID)
}

// ErrSessionNotFound matches any session NotFoundError via errors.Is.
var ErrSessionNotFound = &NotFoundError{Kind: "session"}

// NewTransportError wraps err as a TransportError for op.
func NewTransportError(op string, status int, err error) *TransportError {
	return &TransportError{Op: op, StatusCode: status, Err: err}
}
