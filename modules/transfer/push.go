// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/oxen-ai/oxen-go/modules/oxen"
	"github.com/oxen-ai/oxen-go/modules/oxhash"
)

// Push walks repo's branch tip back toward the root until it hits a
// commit the remote already reports synced, then uploads the missing
// commits — each one's entry database as a tarball, then its missing
// blobs chunked — in parent-first order. The branch tip is advanced
// on the remote only after every blob of every uploaded commit acks.
func Push(ctx context.Context, repo *oxen.Repository, client *Client, branch string, prog Progress) error {
	tip, err := repo.Refs.Get(branch)
	if err != nil {
		return err
	}
	commits, err := repo.Log.Walk(tip)
	if err != nil {
		return err
	}

	ids := make([]string, len(commits))
	for i, c := range commits {
		ids[i] = c.ID
	}
	var resp NegotiateResponse
	if err := client.doJSON(ctx, "POST", "/commits/negotiate", &NegotiateRequest{Tip: tip, CandidateCommits: ids}, &resp); err != nil {
		return err
	}
	statusByID := map[string]CommitSyncStatus{}
	for _, s := range resp.Statuses {
		statusByID[s.CommitID] = s
	}

	// Stop at the first commit (tip-first) the remote reports synced.
	stop := len(commits)
	for i, c := range commits {
		if statusByID[c.ID].Synced {
			stop = i
			break
		}
	}

	// Walk parent-first: commits is tip-first, so reverse it.
	for i := stop - 1; i >= 0; i-- {
		c := commits[i]
		st := statusByID[c.ID]
		if st.Synced {
			continue
		}
		if err := client.doJSON(ctx, "POST", "/commits", c, nil); err != nil {
			return ekind.Wrap(ekind.Network, err, "push commit record %s", c.ID)
		}
		if err := pushCommit(ctx, repo, client, c.ID, st, prog); err != nil {
			return ekind.Wrap(ekind.Network, err, "push commit %s", c.ID)
		}
	}

	return client.doJSON(ctx, "POST", "/branches", &UpdateBranchRequest{Branch: branch, CommitID: tip}, nil)
}

func pushCommit(ctx context.Context, repo *oxen.Repository, client *Client, commitID string, st CommitSyncStatus, prog Progress) error {
	if !st.HasIndex {
		data, err := TarGzipDir(repo.HistoryDir(commitID))
		if err != nil {
			return err
		}
		rc, err := client.doRaw(ctx, "PUT", fmt.Sprintf("/commits/%s/index/tarball", commitID), "application/gzip", nil, data)
		if err != nil {
			return err
		}
		var resp UploadIndexResponse
		if err := json.NewDecoder(rc).Decode(&resp); err != nil {
			rc.Close()
			return ekind.Wrap(ekind.Corrupt, err, "decode index upload response for %s", commitID)
		}
		rc.Close()
		if !resp.Synced {
			return ekind.New(ekind.Network, "remote did not accept index for commit %s", commitID)
		}
	}

	idx, err := repo.Log.OpenIndex(commitID, true)
	if err != nil {
		return err
	}
	defer idx.Close()
	entries, err := idx.ListAll()
	if err != nil {
		return err
	}

	missing := map[string]bool{}
	for _, p := range st.MissingPaths {
		missing[p] = true
	}
	firstVisit := len(st.MissingPaths) == 0 && !st.HasIndex

	for _, e := range entries {
		if !firstVisit && !missing[e.Path] {
			continue
		}
		h, err := e.HashValue()
		if err != nil {
			return ekind.Wrap(ekind.Corrupt, err, "entry hash for %s", e.Path)
		}
		if exists, err := remoteHasBlob(ctx, client, h); err != nil {
			return err
		} else if exists {
			continue
		}
		if err := uploadEntryBlob(ctx, repo, client, e, h, prog); err != nil {
			return err
		}
	}
	return nil
}

func remoteHasBlob(ctx context.Context, client *Client, h oxhash.Hash) (bool, error) {
	var out struct {
		Exists bool `json:"exists"`
	}
	if err := client.doJSON(ctx, "GET", "/blobs/"+h.String(), nil, &out); err != nil {
		if ekind.Is(err, ekind.RemoteRepoNotFound) {
			return false, nil
		}
		return false, err
	}
	return out.Exists, nil
}

func uploadEntryBlob(ctx context.Context, repo *oxen.Repository, client *Client, e *oxen.CommitEntry, h oxhash.Hash, prog Progress) error {
	ext := filepath.Ext(e.Path)
	rc, err := repo.Objects.Open(ctx, h, e.CommitID)
	if err != nil {
		return err
	}
	defer rc.Close()

	tmpPath, cleanup, err := spoolToTemp(rc)
	if err != nil {
		return err
	}
	defer cleanup()
	return client.UploadBlob(ctx, h.String(), e.CommitID, trimDot(ext), tmpPath, prog)
}
