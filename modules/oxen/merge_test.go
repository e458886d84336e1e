// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package oxen

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeCleanTwoSidedAdd(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	writeFile(t, repo, "a.txt", "hello\n")
	addAndCommit(t, repo, "first", "a.txt")

	require.NoError(t, repo.CreateBranch("feature"))
	require.NoError(t, repo.Checkout(ctx, "feature", CheckoutOptions{}))
	writeFile(t, repo, "b.txt", "world\n")
	addAndCommit(t, repo, "b", "b.txt")

	require.NoError(t, repo.Checkout(ctx, "main", CheckoutOptions{}))
	writeFile(t, repo, "c.txt", "extra\n")
	addAndCommit(t, repo, "c", "c.txt")

	result, err := repo.Merge(ctx, "feature", "Alice", "alice@example.com")
	require.NoError(t, err)
	require.False(t, result.Conflicted)
	require.NotNil(t, result.Commit)
	assert.Len(t, result.Commit.Parents, 2)

	idx, err := repo.Log.OpenIndex(result.Commit.ID, true)
	require.NoError(t, err)
	defer idx.Close()
	for _, p := range []string{"a.txt", "b.txt", "c.txt"} {
		ok, err := idx.Contains(p)
		require.NoError(t, err)
		assert.True(t, ok, p)
		_, err = os.Stat(filepath.Join(repo.Root, p))
		assert.NoError(t, err, p)
	}

	head, err := repo.Refs.ReadHEAD()
	require.NoError(t, err)
	assert.Equal(t, result.Commit.ID, head.CommitID)
}

func setupConflict(t *testing.T, repo *Repository) {
	t.Helper()
	ctx := context.Background()
	writeFile(t, repo, "a.txt", "base\n")
	addAndCommit(t, repo, "first", "a.txt")

	require.NoError(t, repo.CreateBranch("other"))
	require.NoError(t, repo.Checkout(ctx, "other", CheckoutOptions{}))
	writeFile(t, repo, "a.txt", "one\n")
	addAndCommit(t, repo, "theirs", "a.txt")

	require.NoError(t, repo.Checkout(ctx, "main", CheckoutOptions{Theirs: true}))
	writeFile(t, repo, "a.txt", "two\n")
	addAndCommit(t, repo, "ours", "a.txt")
}

func TestMergeConflictWritesState(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	setupConflict(t, repo)

	result, err := repo.Merge(ctx, "other", "Alice", "alice@example.com")
	require.NoError(t, err)
	assert.True(t, result.Conflicted)

	_, err = os.Stat(filepath.Join(repo.Control, "MERGE_HEAD"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(repo.Control, "ORIG_HEAD"))
	assert.NoError(t, err)

	data, err := repo.Stage.Status(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, data.Conflicts, 1)
	assert.Equal(t, "a.txt", data.Conflicts[0].Path)
	require.NotNil(t, data.Conflicts[0].HeadEntry)
	require.NotNil(t, data.Conflicts[0].MergeEntry)
	assert.NotEqual(t, data.Conflicts[0].HeadEntry.Hash, data.Conflicts[0].MergeEntry.Hash)
}

func TestMergeRefusedWhileConflictsPending(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	setupConflict(t, repo)

	result, err := repo.Merge(ctx, "other", "Alice", "alice@example.com")
	require.NoError(t, err)
	require.True(t, result.Conflicted)

	_, err = repo.Merge(ctx, "other", "Alice", "alice@example.com")
	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.InvalidArgument))
}

func TestCommitRefusedUntilConflictResolved(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	setupConflict(t, repo)

	result, err := repo.Merge(ctx, "other", "Alice", "alice@example.com")
	require.NoError(t, err)
	require.True(t, result.Conflicted)

	// Staging an unrelated file does not resolve a.txt.
	writeFile(t, repo, "unrelated.txt", "x\n")
	require.NoError(t, repo.Stage.Add(ctx, []string{"unrelated.txt"}))
	_, err = repo.Stage.Commit(ctx, "try", "Alice", "alice@example.com")
	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.MergeConflict))

	// Resolving and staging the conflicted path unblocks the commit,
	// which becomes a two-parent merge commit and clears merge state.
	writeFile(t, repo, "a.txt", "resolved\n")
	require.NoError(t, repo.Stage.Add(ctx, []string{"a.txt"}))
	c, err := repo.Stage.Commit(ctx, "resolve", "Alice", "alice@example.com")
	require.NoError(t, err)
	assert.Len(t, c.Parents, 2)

	_, err = os.Stat(filepath.Join(repo.Control, "MERGE_HEAD"))
	assert.True(t, os.IsNotExist(err))

	data, err := repo.Stage.Status(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, data.Conflicts)
}

func TestMergeSymmetricConflictSet(t *testing.T) {
	build := func() (*Repository, string) {
		repo := newTestRepo(t)
		setupConflict(t, repo)
		return repo, "other"
	}

	repoA, source := build()
	resA, err := repoA.Merge(context.Background(), source, "Alice", "alice@example.com")
	require.NoError(t, err)

	// The mirror: merge main into other instead.
	repoB := newTestRepo(t)
	setupConflict(t, repoB)
	require.NoError(t, repoB.Checkout(context.Background(), "other", CheckoutOptions{Theirs: true}))
	resB, err := repoB.Merge(context.Background(), "main", "Alice", "alice@example.com")
	require.NoError(t, err)

	assert.Equal(t, resA.Conflicted, resB.Conflicted)
}

func TestMergeRemovedVsModifiedConflicts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	writeFile(t, repo, "a.txt", "base\n")
	addAndCommit(t, repo, "first", "a.txt")

	require.NoError(t, repo.CreateBranch("other"))
	require.NoError(t, repo.Checkout(ctx, "other", CheckoutOptions{}))
	writeFile(t, repo, "a.txt", "changed\n")
	addAndCommit(t, repo, "modify", "a.txt")

	require.NoError(t, repo.Checkout(ctx, "main", CheckoutOptions{Theirs: true}))
	require.NoError(t, repo.Stage.Rm([]string{"a.txt"}))
	_, err := repo.Stage.Commit(ctx, "remove", "Alice", "alice@example.com")
	require.NoError(t, err)

	result, err := repo.Merge(ctx, "other", "Alice", "alice@example.com")
	require.NoError(t, err)
	assert.True(t, result.Conflicted)
}

func TestMergeBothSidesSameChange(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	writeFile(t, repo, "a.txt", "base\n")
	addAndCommit(t, repo, "first", "a.txt")

	require.NoError(t, repo.CreateBranch("other"))
	require.NoError(t, repo.Checkout(ctx, "other", CheckoutOptions{}))
	writeFile(t, repo, "a.txt", "same\n")
	addAndCommit(t, repo, "theirs", "a.txt")

	require.NoError(t, repo.Checkout(ctx, "main", CheckoutOptions{Theirs: true}))
	writeFile(t, repo, "a.txt", "same\n")
	addAndCommit(t, repo, "ours", "a.txt")

	result, err := repo.Merge(ctx, "other", "Alice", "alice@example.com")
	require.NoError(t, err)
	assert.False(t, result.Conflicted)
}
