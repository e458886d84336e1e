// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package oxhash

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesAndFileAgree(t *testing.T) {
	content := []byte("hello\n")
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	fromFile, err := File(path)
	require.NoError(t, err)
	assert.Equal(t, Bytes(content), fromFile)
}

func TestParseRoundTrip(t *testing.T) {
	h := Bytes([]byte("some content"))
	s := h.String()
	require.Len(t, s, HexSize)

	parsed, err := Parse(s)
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
}

func TestParseRejectsBadInput(t *testing.T) {
	_, err := Parse("abc")
	assert.Error(t, err)
	_, err = Parse(strings.Repeat("zz", Size))
	assert.Error(t, err)
}

func TestPrefixRestSplit(t *testing.T) {
	h := Bytes([]byte("x"))
	assert.Equal(t, h.String()[:2], h.Prefix())
	assert.Equal(t, h.String()[2:], h.Rest())
	assert.Equal(t, h.String(), h.Prefix()+h.Rest())
}

func TestZero(t *testing.T) {
	assert.True(t, Zero.IsZero())
	assert.False(t, Bytes([]byte("x")).IsZero())
}

func TestDistinctContentDistinctHash(t *testing.T) {
	assert.NotEqual(t, Bytes([]byte("one")), Bytes([]byte("two")))
}
