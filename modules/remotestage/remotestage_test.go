// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package remotestage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/oxen-ai/oxen-go/modules/oxen"
	"github.com/oxen-ai/oxen-go/modules/tabular"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const trainCSV = "file,label\nimages/0001.jpg,cat\nimages/0002.jpg,dog\n"

// newRepoWithTable builds a repository whose main branch tracks
// annotations/train/bounding_box.csv.
func newRepoWithTable(t *testing.T) *oxen.Repository {
	t.Helper()
	repo, err := oxen.Init(t.TempDir(), "annotated")
	require.NoError(t, err)
	ctx := context.Background()

	abs := filepath.Join(repo.Root, "annotations", "train", "bounding_box.csv")
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(trainCSV), 0o644))
	require.NoError(t, repo.Stage.Add(ctx, []string{"annotations"}))
	_, err = repo.Stage.Commit(ctx, "initial annotations", "Alice", "alice@example.com")
	require.NoError(t, err)
	return repo
}

func TestStageModificationAppend(t *testing.T) {
	repo := newRepoWithTable(t)
	stager := New(repo, "main", "user-1")
	ctx := context.Background()

	mod, err := stager.StageModification(ctx, "annotations/train/bounding_box.csv",
		[]byte(`{"file":"images/0003.jpg","label":"cat"}`), tabular.ContentTypeJSON, ModAppend)
	require.NoError(t, err)
	assert.NotEmpty(t, mod.UUID)
	assert.Equal(t, []string{"images/0003.jpg", "cat"}, mod.Row)

	diff, err := stager.DiffStaged(ctx, "annotations/train/bounding_box.csv")
	require.NoError(t, err)
	require.Equal(t, 1, diff.NumRows())
	assert.Equal(t, "images/0003.jpg", diff.Rows[0][0])
}

func TestStageModificationSchemaMismatch(t *testing.T) {
	repo := newRepoWithTable(t)
	stager := New(repo, "main", "user-1")

	_, err := stager.StageModification(context.Background(), "annotations/train/bounding_box.csv",
		[]byte(`{"file":"x.jpg","breed":"siamese"}`), tabular.ContentTypeJSON, ModAppend)
	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.SchemaMismatch))
}

func TestDeleteAndRestoreMods(t *testing.T) {
	repo := newRepoWithTable(t)
	stager := New(repo, "main", "user-1")
	ctx := context.Background()
	path := "annotations/train/bounding_box.csv"

	m1, err := stager.StageModification(ctx, path, []byte(`{"file":"a.jpg","label":"cat"}`), tabular.ContentTypeJSON, ModAppend)
	require.NoError(t, err)
	_, err = stager.StageModification(ctx, path, []byte(`{"file":"b.jpg","label":"dog"}`), tabular.ContentTypeJSON, ModAppend)
	require.NoError(t, err)

	require.NoError(t, stager.DeleteMod(path, m1.UUID))
	diff, err := stager.DiffStaged(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, diff.NumRows())

	require.NoError(t, stager.RestoreDF(path))
	diff, err = stager.DiffStaged(ctx, path)
	require.NoError(t, err)
	assert.Zero(t, diff.NumRows())

	err = stager.DeleteMod(path, m1.UUID)
	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.NotFound))
}

func TestCommitStagedAppendsExactlyOneRow(t *testing.T) {
	repo := newRepoWithTable(t)
	stager := New(repo, "main", "user-1")
	ctx := context.Background()
	path := "annotations/train/bounding_box.csv"

	_, err := stager.StageModification(ctx, path, []byte(`{"file":"images/0003.jpg","label":"cat"}`), tabular.ContentTypeJSON, ModAppend)
	require.NoError(t, err)

	commit, err := stager.CommitStaged(ctx, &CommitBody{Message: "append one row", User: "Bob", Email: "bob@example.com"})
	require.NoError(t, err)
	require.Len(t, commit.Parents, 1)

	tip, err := repo.Refs.Get("main")
	require.NoError(t, err)
	assert.Equal(t, commit.ID, tip)

	idx, err := repo.Log.OpenIndex(commit.ID, true)
	require.NoError(t, err)
	defer idx.Close()
	entry, err := idx.Get(path)
	require.NoError(t, err)

	h, err := entry.HashValue()
	require.NoError(t, err)
	rc, err := repo.Objects.Open(ctx, h, commit.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	tbl, err := tabular.ReadCSV(strings.NewReader(string(data)))
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.NumRows(), "committed table gains exactly the appended row")

	// Staging area is cleared: a second commit has nothing to do.
	_, err = stager.CommitStaged(ctx, &CommitBody{Message: "again", User: "Bob"})
	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.InvalidArgument))
}

func TestAddFileAndCommit(t *testing.T) {
	repo := newRepoWithTable(t)
	stager := New(repo, "main", "user-1")
	ctx := context.Background()

	sf, err := stager.AddFile("images", "0003.jpg", strings.NewReader("fake jpeg bytes"))
	require.NoError(t, err)
	assert.Equal(t, "images/0003.jpg", sf.Path)

	data, err := stager.Status("", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"images/0003.jpg"}, data.Added)

	commit, err := stager.CommitStaged(ctx, &CommitBody{Message: "add image", User: "Bob"})
	require.NoError(t, err)

	idx, err := repo.Log.OpenIndex(commit.ID, true)
	require.NoError(t, err)
	defer idx.Close()
	ok, err := idx.Contains("images/0003.jpg")
	require.NoError(t, err)
	assert.True(t, ok)
	// Parent entries carry over untouched.
	ok, err = idx.Contains("annotations/train/bounding_box.csv")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRmStagedFile(t *testing.T) {
	repo := newRepoWithTable(t)
	stager := New(repo, "main", "user-1")

	_, err := stager.AddFile("images", "0004.jpg", strings.NewReader("bytes"))
	require.NoError(t, err)
	require.NoError(t, stager.RmStagedFile("images/0004.jpg"))

	err = stager.RmStagedFile("images/0004.jpg")
	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.NotFound))
}

func TestStagingAreasAreIsolatedPerUser(t *testing.T) {
	repo := newRepoWithTable(t)
	ctx := context.Background()
	path := "annotations/train/bounding_box.csv"

	one := New(repo, "main", "user-1")
	two := New(repo, "main", "user-2")
	_, err := one.StageModification(ctx, path, []byte(`{"file":"a.jpg","label":"cat"}`), tabular.ContentTypeJSON, ModAppend)
	require.NoError(t, err)

	diff, err := two.DiffStaged(ctx, path)
	require.NoError(t, err)
	assert.Zero(t, diff.NumRows())
}
