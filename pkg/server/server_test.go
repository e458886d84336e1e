// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oxen-ai/oxen-go/modules/oxen"
	"github.com/oxen-ai/oxen-go/modules/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, signingKey string) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := NewServer(Config{Root: t.TempDir(), SigningKey: signingKey})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func newLocalRepo(t *testing.T) *oxen.Repository {
	t.Helper()
	repo, err := oxen.Init(t.TempDir(), "local")
	require.NoError(t, err)
	return repo
}

func commitFile(t *testing.T, repo *oxen.Repository, rel, content string) *oxen.Commit {
	t.Helper()
	ctx := context.Background()
	abs := filepath.Join(repo.Root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	require.NoError(t, repo.Stage.Add(ctx, []string{rel}))
	c, err := repo.Stage.Commit(ctx, "commit "+rel, "Alice", "alice@example.com")
	require.NoError(t, err)
	return c
}

func TestPushThenCloneRoundTrip(t *testing.T) {
	_, ts := newTestServer(t, "")
	base := ts.URL + "/repositories/acme/data"
	client := transfer.NewClient(base, "")
	ctx := context.Background()

	local := newLocalRepo(t)
	commitFile(t, local, "a.txt", "hello\n")
	tip := commitFile(t, local, "dir/b.csv", "col\nval\n")

	require.NoError(t, transfer.Push(ctx, local, client, "main", transfer.NoProgress))

	remoteTip, err := client.GetBranch(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, tip.ID, remoteTip.CommitID)

	dest := filepath.Join(t.TempDir(), "clone")
	cloned, err := transfer.Clone(ctx, base, dest, client, transfer.CloneOptions{})
	require.NoError(t, err)

	for rel, want := range map[string]string{"a.txt": "hello\n", "dir/b.csv": "col\nval\n"} {
		got, err := os.ReadFile(filepath.Join(cloned.Root, filepath.FromSlash(rel)))
		require.NoError(t, err)
		assert.Equal(t, want, string(got), rel)
	}

	head, err := cloned.Refs.ReadHEAD()
	require.NoError(t, err)
	assert.Equal(t, tip.ID, head.CommitID)
}

func TestPushChunkedBlobAndRepush(t *testing.T) {
	_, ts := newTestServer(t, "")
	client := transfer.NewClient(ts.URL+"/repositories/acme/big", "")
	ctx := context.Background()

	local := newLocalRepo(t)
	// Spans three chunks so the parallel chunk path and reassembly run.
	payload := make([]byte, transfer.AvgChunkSize*2+512)
	_, err := rand.Read(payload)
	require.NoError(t, err)
	abs := filepath.Join(local.Root, "big.bin")
	require.NoError(t, os.WriteFile(abs, payload, 0o644))
	require.NoError(t, local.Stage.Add(ctx, []string{"big.bin"}))
	tip, err := local.Stage.Commit(ctx, "big", "Alice", "alice@example.com")
	require.NoError(t, err)

	require.NoError(t, transfer.Push(ctx, local, client, "main", transfer.NoProgress))

	// A second push is a cheap no-op: negotiation reports the commit
	// synced, so only the branch update fires.
	require.NoError(t, transfer.Push(ctx, local, client, "main", transfer.NoProgress))

	remoteTip, err := client.GetBranch(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, tip.ID, remoteTip.CommitID)

	dest := filepath.Join(t.TempDir(), "clone")
	cloned, err := transfer.Clone(ctx, ts.URL+"/repositories/acme/big", dest, client, transfer.CloneOptions{})
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(cloned.Root, "big.bin"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestShallowCloneSkipsBlobs(t *testing.T) {
	_, ts := newTestServer(t, "")
	base := ts.URL + "/repositories/acme/shallow"
	client := transfer.NewClient(base, "")
	ctx := context.Background()

	local := newLocalRepo(t)
	commitFile(t, local, "a.txt", "hello\n")
	require.NoError(t, transfer.Push(ctx, local, client, "main", transfer.NoProgress))

	dest := filepath.Join(t.TempDir(), "clone")
	cloned, err := transfer.Clone(ctx, base, dest, client, transfer.CloneOptions{Shallow: true})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(cloned.Control, "SHALLOW"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(cloned.Root, "a.txt"))
	assert.True(t, os.IsNotExist(err), "shallow clone materializes no blobs")
}

func TestBranchUpdateRefusesUnknownCommit(t *testing.T) {
	_, ts := newTestServer(t, "")
	body := `{"branch":"main","commit_id":"11111111-2222-3333-4444-555555555555"}`
	req, err := http.NewRequest("POST", ts.URL+"/repositories/acme/data/branches", strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestStagingOverHTTP(t *testing.T) {
	_, ts := newTestServer(t, "")
	base := ts.URL + "/repositories/acme/tab"
	ctx := context.Background()

	// Seed the remote by pushing a repo with a tracked table.
	local := newLocalRepo(t)
	commitFile(t, local, "annotations/train/bounding_box.csv", "file,label\na.jpg,cat\n")
	client := transfer.NewClient(base, "")
	require.NoError(t, transfer.Push(ctx, local, client, "main", transfer.NoProgress))

	stagingBase := base + "/staging/anonymous"
	post := func(url, contentType, body string) *http.Response {
		resp, err := http.Post(url, contentType, strings.NewReader(body))
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	// Well-formed row appends.
	resp := post(stagingBase+"/df/main/annotations/train/bounding_box.csv",
		"application/json", `{"file":"b.jpg","label":"dog"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Mismatched schema is rejected.
	resp = post(stagingBase+"/df/main/annotations/train/bounding_box.csv",
		"application/json", `{"file":"c.jpg","breed":"lab"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// The staged row is visible in the diff.
	diffResp, err := http.Get(stagingBase + "/diff/main/annotations/train/bounding_box.csv")
	require.NoError(t, err)
	defer diffResp.Body.Close()
	assert.Equal(t, http.StatusOK, diffResp.StatusCode)
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(diffResp.Body)
	assert.Contains(t, buf.String(), "b.jpg")

	// Committing the staged row advances the branch.
	resp = post(stagingBase+"/commit/main", "application/json", `{"message":"append row","user":"Bob"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	tipAfter, err := client.GetBranch(ctx, "main")
	require.NoError(t, err)
	tipBefore, err := local.Refs.Get("main")
	require.NoError(t, err)
	assert.NotEqual(t, tipBefore, tipAfter.CommitID)
}

func TestAuthRequiredWhenKeyConfigured(t *testing.T) {
	_, ts := newTestServer(t, "super-secret")

	resp, err := http.Get(ts.URL + "/repositories/acme/data/branches")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := GenerateJWT("super-secret", "user-1", BearerMD{})
	require.NoError(t, err)
	req, err := http.NewRequest("GET", ts.URL+"/repositories/acme/data/branches", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.NotEqual(t, http.StatusUnauthorized, resp2.StatusCode)

	// The staging surface refuses a mismatched user segment.
	req, err = http.NewRequest("GET", ts.URL+"/repositories/acme/data/staging/someone-else/status/main", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp3, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp3.StatusCode)
}
