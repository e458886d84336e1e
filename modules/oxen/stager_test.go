// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package oxen

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/oxen-ai/oxen-go/modules/oxhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Init(t.TempDir(), "test-repo")
	require.NoError(t, err)
	return repo
}

func writeFile(t *testing.T, repo *Repository, rel, content string) {
	t.Helper()
	abs := filepath.Join(repo.Root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func addAndCommit(t *testing.T, repo *Repository, msg string, paths ...string) *Commit {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.Stage.Add(ctx, paths))
	c, err := repo.Stage.Commit(ctx, msg, "Alice", "alice@example.com")
	require.NoError(t, err)
	return c
}

func TestInitAddCommitLog(t *testing.T) {
	repo := newTestRepo(t)
	writeFile(t, repo, "a.txt", "hello\n")
	c := addAndCommit(t, repo, "first", "a.txt")

	head, err := repo.Refs.ReadHEAD()
	require.NoError(t, err)
	assert.Equal(t, "main", head.Branch)
	assert.Equal(t, c.ID, head.CommitID)

	commits, err := repo.Log.Walk(head.CommitID)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "first", commits[0].Message)

	idx, err := repo.Log.OpenIndex(c.ID, true)
	require.NoError(t, err)
	defer idx.Close()
	n, err := idx.NumEntries()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	entry, err := idx.Get("a.txt")
	require.NoError(t, err)
	assert.Equal(t, oxhash.Bytes([]byte("hello\n")).String(), entry.Hash)

	exists, err := repo.Objects.Exists(context.Background(), oxhash.Bytes([]byte("hello\n")))
	require.NoError(t, err)
	assert.True(t, exists)

	ext, err := repo.Objects.Ext(context.Background(), oxhash.Bytes([]byte("hello\n")), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "txt", ext)
}

func TestAddUnchangedIsNoOpWithoutRehash(t *testing.T) {
	repo := newTestRepo(t)
	writeFile(t, repo, "a.txt", "hello\n")
	addAndCommit(t, repo, "first", "a.txt")

	before := repo.Stage.HashCalls()
	require.NoError(t, repo.Stage.Add(context.Background(), []string{"a.txt"}))
	assert.Equal(t, before, repo.Stage.HashCalls(), "unchanged file must hit the mtime fast path")

	data, err := repo.Stage.Status(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, data.Added)
	assert.Empty(t, data.Modified)
	assert.Empty(t, data.Removed)
}

func TestAddIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	writeFile(t, repo, "a.txt", "one\n")
	ctx := context.Background()
	require.NoError(t, repo.Stage.Add(ctx, []string{"a.txt"}))
	require.NoError(t, repo.Stage.Add(ctx, []string{"a.txt"}))

	data, err := repo.Stage.Status(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, data.Added)
}

func TestAddDirectoryRecursive(t *testing.T) {
	repo := newTestRepo(t)
	writeFile(t, repo, "data/one.txt", "1\n")
	writeFile(t, repo, "data/sub/two.txt", "2\n")
	c := addAndCommit(t, repo, "tree", "data")

	idx, err := repo.Log.OpenIndex(c.ID, true)
	require.NoError(t, err)
	defer idx.Close()
	n, err := idx.NumEntries()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	entries, err := idx.ListDir("data/sub")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "data/sub/two.txt", entries[0].Path)
}

func TestModifyThenCommit(t *testing.T) {
	repo := newTestRepo(t)
	writeFile(t, repo, "a.txt", "one\n")
	addAndCommit(t, repo, "first", "a.txt")

	writeFile(t, repo, "a.txt", "two\n")
	ctx := context.Background()
	require.NoError(t, repo.Stage.Add(ctx, []string{"a.txt"}))
	data, err := repo.Stage.Status(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, data.Modified)

	c2, err := repo.Stage.Commit(ctx, "second", "Alice", "alice@example.com")
	require.NoError(t, err)
	idx, err := repo.Log.OpenIndex(c2.ID, true)
	require.NoError(t, err)
	defer idx.Close()
	entry, err := idx.Get("a.txt")
	require.NoError(t, err)
	assert.Equal(t, oxhash.Bytes([]byte("two\n")).String(), entry.Hash)
}

func TestCommitWithNothingStaged(t *testing.T) {
	repo := newTestRepo(t)
	writeFile(t, repo, "a.txt", "hello\n")
	addAndCommit(t, repo, "first", "a.txt")

	_, err := repo.Stage.Commit(context.Background(), "empty", "Alice", "alice@example.com")
	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.InvalidArgument))
}

func TestRmUntrackedFails(t *testing.T) {
	repo := newTestRepo(t)
	writeFile(t, repo, "a.txt", "hello\n")
	err := repo.Stage.Rm([]string{"a.txt"})
	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.NotFound))
}

func TestRmThenCommitRemovesEntry(t *testing.T) {
	repo := newTestRepo(t)
	writeFile(t, repo, "a.txt", "hello\n")
	writeFile(t, repo, "b.txt", "world\n")
	addAndCommit(t, repo, "first", "a.txt", "b.txt")

	ctx := context.Background()
	require.NoError(t, repo.Stage.Rm([]string{"a.txt"}))
	c2, err := repo.Stage.Commit(ctx, "drop a", "Alice", "alice@example.com")
	require.NoError(t, err)

	idx, err := repo.Log.OpenIndex(c2.ID, true)
	require.NoError(t, err)
	defer idx.Close()
	ok, err := idx.Contains("a.txt")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = idx.Contains("b.txt")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRestoreStagedUnstages(t *testing.T) {
	repo := newTestRepo(t)
	writeFile(t, repo, "a.txt", "hello\n")
	ctx := context.Background()
	require.NoError(t, repo.Stage.Add(ctx, []string{"a.txt"}))
	require.NoError(t, repo.Stage.Restore(ctx, []string{"a.txt"}, RestoreOptions{Staged: true}))

	data, err := repo.Stage.Status(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, data.Added)
	assert.Equal(t, []string{"a.txt"}, data.Untracked)
}

func TestRestoreRewritesFromObjectStore(t *testing.T) {
	repo := newTestRepo(t)
	writeFile(t, repo, "a.txt", "committed\n")
	addAndCommit(t, repo, "first", "a.txt")

	writeFile(t, repo, "a.txt", "scribbled\n")
	require.NoError(t, repo.Stage.Restore(context.Background(), []string{"a.txt"}, RestoreOptions{}))

	data, err := os.ReadFile(filepath.Join(repo.Root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "committed\n", string(data))
}

func TestStatusUntrackedAndLimit(t *testing.T) {
	repo := newTestRepo(t)
	writeFile(t, repo, "a.txt", "a\n")
	writeFile(t, repo, "b.txt", "b\n")
	writeFile(t, repo, "c.txt", "c\n")

	data, err := repo.Stage.Status(context.Background(), 0, 2)
	require.NoError(t, err)
	assert.Len(t, data.Untracked, 2)

	data, err = repo.Stage.Status(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Len(t, data.Untracked, 3)
}

func TestStatusOnFreshRepo(t *testing.T) {
	repo := newTestRepo(t)
	data, err := repo.Stage.Status(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, data.Added)
	assert.Empty(t, data.Conflicts)
}
