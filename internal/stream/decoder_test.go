// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecoder_ASCIIPassesThrough(t *testing.T) {
	d := NewDecoder()
	assert.Equal(t, "Hel", d.Write([]byte("Hel")))
	assert.Equal(t, "lo", d.Write([]byte("lo")))
	assert.Equal(t, "", d.Flush())
}

func TestDecoder_SplitMultiByteCharacter(t *testing.T) {
	euro := []byte("€") // e2 82 ac
	d := NewDecoder()

	assert.Equal(t, "a", d.Write(append([]byte("a"), euro[0])))
	assert.Equal(t, "", d.Write(euro[1:2]))
	assert.Equal(t, "€b", d.Write(append(euro[2:], 'b')))
	assert.Equal(t, "", d.Flush())
}

func TestDecoder_DanglingPartialAtEOF(t *testing.T) {
	d := NewDecoder()
	assert.Equal(t, "ok", d.Write([]byte{'o', 'k', 0xe2, 0x82}))
	assert.Equal(t, "�", d.Flush())
}

func TestDecoder_InvalidByteReplaced(t *testing.T) {
	d := NewDecoder()
	assert.Equal(t, "a�b", d.Write([]byte{'a', 0xff, 'b'}))
}
