// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTarGzipRoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "index.db"), []byte("db contents"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "extra"), []byte("nested"), 0o644))

	data, err := TarGzipDir(src)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	dst := filepath.Join(t.TempDir(), "out")
	require.NoError(t, UntarGzipTo(bytes.NewReader(data), dst))

	got, err := os.ReadFile(filepath.Join(dst, "index.db"))
	require.NoError(t, err)
	assert.Equal(t, "db contents", string(got))
	got, err = os.ReadFile(filepath.Join(dst, "sub", "extra"))
	require.NoError(t, err)
	assert.Equal(t, "nested", string(got))
}

func TestUntarRejectsGarbage(t *testing.T) {
	err := UntarGzipTo(bytes.NewReader([]byte("not a gzip stream")), t.TempDir())
	assert.Error(t, err)
}

func TestChunkMath(t *testing.T) {
	// 200 MiB splits into 50 chunks of 4 MiB.
	size := int64(200 << 20)
	numChunks := int((size + AvgChunkSize - 1) / AvgChunkSize)
	assert.Equal(t, 50, numChunks)

	// Anything at or below one chunk stays whole.
	assert.Equal(t, 1, int((int64(AvgChunkSize)+AvgChunkSize-1)/AvgChunkSize))
}
