// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package httpapi

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// MaxEventSize is the largest single SSE line accepted (1MB).
const MaxEventSize = 1024 * 1024

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	scanner *bufio.Scanner
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxEventSize)
	return &SSEReader{scanner: sc}
}

// ReadEvent reads the next event. It returns the event type ("" when the
// event carried none) and the data lines joined by newlines. Returns io.EOF
// when the stream ends.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var (
		eventType string
		dataLines [][]byte
	)

	for s.scanner.Scan() {
		line := bytes.TrimRight(s.scanner.Bytes(), "\r")

		// Empty line ends the event.
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			eventType = ""
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			data := bytes.TrimPrefix(line[len("data:"):], []byte(" "))
			dataLines = append(dataLines, bytes.Clone(data))
		}
		// id:, retry: and comment lines are ignored.
	}

	if err := s.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return "", nil, errors.New("sse event exceeds maximum size")
		}
		return "", nil, err
	}
	if len(dataLines) > 0 {
		return eventType, bytes.Join(dataLines, []byte("\n")), nil
	}
	return "", nil, io.EOF
}
