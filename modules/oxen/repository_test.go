// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package oxen

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRefusesDoubleInit(t *testing.T) {
	dir := t.TempDir()
	_, err := Init(dir, "repo")
	require.NoError(t, err)
	_, err = Init(dir, "repo")
	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.AlreadyExists))
}

func TestOpenRejectsNonRepo(t *testing.T) {
	_, err := Open(t.TempDir())
	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.NotFound))
}

func TestFindRootWalksUp(t *testing.T) {
	repo := newTestRepo(t)
	nested := filepath.Join(repo.Root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	root, err := FindRoot(nested)
	require.NoError(t, err)
	// Resolve symlinks on both sides; macOS tempdirs live behind one.
	wantRoot, err := filepath.EvalSymlinks(repo.Root)
	require.NoError(t, err)
	gotRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	assert.Equal(t, wantRoot, gotRoot)

	_, err = FindRoot(t.TempDir())
	require.Error(t, err)
}

func TestAdvisoryLockExcludes(t *testing.T) {
	repo := newTestRepo(t)
	errCh := make(chan error, 1)
	require.NoError(t, repo.WithLock(func() error {
		other, err := Open(repo.Root)
		require.NoError(t, err)
		errCh <- other.WithLock(func() error { return nil })
		return nil
	}))
	assert.Error(t, <-errCh, "second writer must not acquire the lock")

	// Released on exit: the lock can be taken again.
	require.NoError(t, repo.WithLock(func() error { return nil }))
}

func TestCommitLogWalkAndAncestors(t *testing.T) {
	repo := newTestRepo(t)
	writeFile(t, repo, "a.txt", "1\n")
	c1 := addAndCommit(t, repo, "one", "a.txt")
	writeFile(t, repo, "a.txt", "2\n")
	c2 := addAndCommit(t, repo, "two", "a.txt")

	chain, err := repo.Log.Walk(c2.ID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, c2.ID, chain[0].ID)
	assert.Equal(t, c1.ID, chain[1].ID)

	ancestors, err := repo.Log.AncestorSet(c2.ID)
	require.NoError(t, err)
	assert.Len(t, ancestors, 2)

	// Commit records are immutable: appending the same id again fails.
	err = repo.Log.Append(c1)
	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.AlreadyExists))
}

func TestDetachedHEAD(t *testing.T) {
	repo := newTestRepo(t)
	writeFile(t, repo, "a.txt", "1\n")
	c1 := addAndCommit(t, repo, "one", "a.txt")

	require.NoError(t, repo.Refs.SetHEADDetached(c1.ID))
	head, err := repo.Refs.ReadHEAD()
	require.NoError(t, err)
	assert.True(t, head.Detached)
	assert.Equal(t, c1.ID, head.CommitID)

	current, err := repo.ShowCurrent()
	require.NoError(t, err)
	assert.Empty(t, current)
}

func TestBackendSelection(t *testing.T) {
	repo := newTestRepo(t)

	// The default is the filesystem pool: blobs land under versions/.
	writeFile(t, repo, "a.txt", "hello\n")
	addAndCommit(t, repo, "first", "a.txt")
	entries, err := os.ReadDir(filepath.Join(repo.Control, "versions"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)

	// An s3 backend without a bucket, or an unknown type, refuses to open.
	repo.Config.Backend = BackendConfig{Type: "s3"}
	require.NoError(t, repo.SaveConfig())
	_, err = Open(repo.Root)
	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.InvalidArgument))

	repo.Config.Backend = BackendConfig{Type: "tape"}
	require.NoError(t, repo.SaveConfig())
	_, err = Open(repo.Root)
	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.InvalidArgument))
}

func TestRepoConfigRemotes(t *testing.T) {
	repo := newTestRepo(t)
	repo.Config.SetRemote("origin", "http://hub.example.com/repositories/acme/data")
	require.NoError(t, repo.SaveConfig())

	again, err := Open(repo.Root)
	require.NoError(t, err)
	remote, ok := again.Config.Remote("")
	require.True(t, ok)
	assert.Equal(t, "http://hub.example.com/repositories/acme/data", remote.URL)

	_, ok = again.Config.Remote("upstream")
	assert.False(t, ok)
}
