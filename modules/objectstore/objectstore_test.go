// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/oxen-ai/oxen-go/modules/oxhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "versions")
	return New(NewFSBackend(root)), root
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPutAndOpenRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	path := writeTemp(t, "col\nval\n")

	h, err := store.Put(ctx, path, "commit-1", "csv")
	require.NoError(t, err)
	assert.Equal(t, oxhash.Bytes([]byte("col\nval\n")), h)

	rc, err := store.Open(ctx, h, "commit-1")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "col\nval\n", string(data))
}

func TestPutIsIdempotentAndDeduplicates(t *testing.T) {
	store, root := newTestStore(t)
	ctx := context.Background()
	path := writeTemp(t, "same content")

	h1, err := store.Put(ctx, path, "commit-1", "txt")
	require.NoError(t, err)
	h2, err := store.Put(ctx, path, "commit-2", "txt")
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	// Dedup: the second Put must not create a second blob file.
	dir := filepath.Join(root, h1.Prefix(), h1.Rest())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestExtensionPreserved(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	path := writeTemp(t, "a,b\n1,2\n")

	h, err := store.Put(ctx, path, "commit-1", "csv")
	require.NoError(t, err)
	ext, err := store.Ext(ctx, h, "commit-1")
	require.NoError(t, err)
	assert.Equal(t, "csv", ext)
}

func TestExistsAndSize(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	missing := oxhash.Bytes([]byte("never stored"))
	exists, err := store.Exists(ctx, missing)
	require.NoError(t, err)
	assert.False(t, exists)

	h, err := store.PutBytes(ctx, []byte("12345"), "commit-1", "bin")
	require.NoError(t, err)
	exists, err = store.Exists(ctx, h)
	require.NoError(t, err)
	assert.True(t, exists)

	size, err := store.Size(ctx, h, "commit-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
}

func TestWriteKnownHashSkipsExisting(t *testing.T) {
	store, root := newTestStore(t)
	ctx := context.Background()
	content := []byte("known content")
	h := oxhash.Bytes(content)

	require.NoError(t, store.WriteKnownHash(ctx, h, "commit-1", "txt", bytes.NewReader(content)))
	require.NoError(t, store.WriteKnownHash(ctx, h, "commit-2", "txt", bytes.NewReader(content)))

	dir := filepath.Join(root, h.Prefix(), h.Rest())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestOpenFallsBackAcrossCommitIDs(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	h, err := store.PutBytes(ctx, []byte("shared"), "commit-1", "txt")
	require.NoError(t, err)

	// Any commit id resolves: content is identical by construction.
	rc, err := store.Open(ctx, h, "commit-other")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "shared", string(data))
}
