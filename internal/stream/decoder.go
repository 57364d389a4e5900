// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"errors"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// =============================================================================
// INCREMENTAL DECODER
// =============================================================================

// Decoder turns a sequence of byte chunks into text. A multi-byte character
// split across chunks is held back until its last byte arrives. Invalid
// sequences decode to U+FFFD.
type Decoder struct {
	t       transform.Transformer
	pending []byte
}

// NewDecoder creates a UTF-8 decoder for one stream.
func NewDecoder() *Decoder {
	return &Decoder{t: unicode.UTF8.NewDecoder()}
}

// Write decodes p together with any bytes held back from earlier chunks.
func (d *Decoder) Write(p []byte) string {
	return d.decode(p, false)
}

// Flush decodes whatever is still held back. An incomplete trailing
// character becomes U+FFFD.
func (d *Decoder) Flush() string {
	return d.decode(nil, true)
}

func (d *Decoder) decode(p []byte, atEOF bool) string {
	src := append(d.pending, p...)
	if len(src) == 0 {
		return ""
	}

	// Worst case every byte is invalid and expands to a 3-byte U+FFFD.
	dst := make([]byte, 3*len(src)+utf8.UTFMax)
	var out bytes.Buffer
	for {
		nDst, nSrc, err := d.t.Transform(dst, src, atEOF)
		out.Write(dst[:nDst])
		src = src[nSrc:]
		if errors.Is(err, transform.ErrShortDst) && (nDst > 0 || nSrc > 0) {
			continue
		}
		break
	}

	d.pending = bytes.Clone(src)
	return out.String()
}
