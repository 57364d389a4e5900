// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/rigrun-chatsync/internal/chat"
	"github.com/jeranaias/rigrun-chatsync/internal/config"
	"github.com/jeranaias/rigrun-chatsync/internal/model"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitError indicates any failure
	ExitError = 1
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError reports a malformed command line.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string { return e.Message }

// NewUsageError creates a UsageError.
func NewUsageError(msg string) error {
	return &UsageError{Message: msg}
}

// IsUsageError reports whether err is a UsageError.
func IsUsageError(err error) bool {
	var ue *UsageError
	return errors.As(err, &ue)
}

// =============================================================================
// ERROR DISPLAY
// =============================================================================

// GetExitCode determines the exit code for err.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	return ExitError
}

// errorKind classifies err for JSON output.
func errorKind(err error) string {
	var (
		te  *model.TransportError
		ve  *model.ValidationError
		nf  *model.NotFoundError
		ue  *UsageError
		cve config.ValidateErrors
	)
	switch {
	case errors.As(err, &ue):
		return "usage_error"
	case errors.As(err, &cve):
		return "config_error"
	case errors.As(err, &ve):
		return "validation_error"
	case errors.As(err, &nf):
		return "not_found_error"
	case errors.As(err, &te):
		return "transport_error"
	case errors.Is(err, chat.ErrLoggedOut):
		return "logged_out"
	default:
		return "generic_error"
	}
}

// DisplayError writes err in a consistent format.
func DisplayError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}

	if jsonMode {
		output := map[string]interface{}{
			"error":      err.Error(),
			"error_type": errorKind(err),
			"success":    false,
		}
		var te *model.TransportError
		if errors.As(err, &te) && te.StatusCode != 0 {
			output["status"] = te.StatusCode
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(output)
		return
	}

	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
	if IsUsageError(err) {
		fmt.Fprintln(w, DimStyle.Render("Run 'chatsync help' for usage."))
	}
}
