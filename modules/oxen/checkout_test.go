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

func TestCheckoutSwitchesContent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	writeFile(t, repo, "a.txt", "v1\n")
	c1 := addAndCommit(t, repo, "first", "a.txt")

	writeFile(t, repo, "a.txt", "v2\n")
	addAndCommit(t, repo, "second", "a.txt")

	require.NoError(t, repo.Checkout(ctx, c1.ID, CheckoutOptions{}))
	data, err := os.ReadFile(filepath.Join(repo.Root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v1\n", string(data))

	head, err := repo.Refs.ReadHEAD()
	require.NoError(t, err)
	assert.True(t, head.Detached)
	assert.Equal(t, c1.ID, head.CommitID)
}

func TestCheckoutBranchUpdatesHEAD(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	writeFile(t, repo, "a.txt", "hello\n")
	addAndCommit(t, repo, "first", "a.txt")

	require.NoError(t, repo.CreateBranch("feature"))
	require.NoError(t, repo.Checkout(ctx, "feature", CheckoutOptions{}))

	head, err := repo.Refs.ReadHEAD()
	require.NoError(t, err)
	assert.Equal(t, "feature", head.Branch)
	assert.False(t, head.Detached)
}

func TestCheckoutRefusesDirtyTree(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	writeFile(t, repo, "a.txt", "v1\n")
	c1 := addAndCommit(t, repo, "first", "a.txt")

	writeFile(t, repo, "a.txt", "v2\n")
	addAndCommit(t, repo, "second", "a.txt")

	// Uncommitted scribble on top of HEAD.
	writeFile(t, repo, "a.txt", "dirty\n")
	err := repo.Checkout(ctx, c1.ID, CheckoutOptions{})
	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.InvalidArgument))

	// --theirs overrides.
	require.NoError(t, repo.Checkout(ctx, c1.ID, CheckoutOptions{Theirs: true}))
	data, err := os.ReadFile(filepath.Join(repo.Root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v1\n", string(data))
}

func TestCheckoutUnknownRef(t *testing.T) {
	repo := newTestRepo(t)
	writeFile(t, repo, "a.txt", "hello\n")
	addAndCommit(t, repo, "first", "a.txt")

	err := repo.Checkout(context.Background(), "no-such-thing", CheckoutOptions{})
	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.NotFound))
}

func TestCheckoutRefusesFileOverNonEmptyDir(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	writeFile(t, repo, "thing", "i am a file\n")
	c1 := addAndCommit(t, repo, "file", "thing")

	// Replace the file with a non-empty directory of the same name.
	require.NoError(t, os.Remove(filepath.Join(repo.Root, "thing")))
	writeFile(t, repo, "thing/nested.txt", "content\n")

	err := repo.Checkout(ctx, c1.ID, CheckoutOptions{Force: true})
	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.InvalidArgument))
}

func TestBranchLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	writeFile(t, repo, "a.txt", "hello\n")
	addAndCommit(t, repo, "first", "a.txt")

	require.NoError(t, repo.CreateBranch("feature"))
	err := repo.CreateBranch("feature")
	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.AlreadyExists))

	branches, err := repo.ListBranches()
	require.NoError(t, err)
	assert.Len(t, branches, 2)

	// Deleting the checked-out branch needs force.
	err = repo.DeleteBranch("main", false)
	require.Error(t, err)
	require.NoError(t, repo.DeleteBranch("feature", false))

	require.NoError(t, repo.RenameBranch("main", "trunk"))
	current, err := repo.ShowCurrent()
	require.NoError(t, err)
	assert.Equal(t, "trunk", current)
}
