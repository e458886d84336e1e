// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/oxen-ai/oxen-go/modules/oxen"
	"github.com/oxen-ai/oxen-go/modules/oxhash"
)

// Pull fetches the remote branch's first-parent chain from its tip
// back to repo's local tip (or to the root when the local branch is
// absent or not on that chain); commits reachable only through a
// merge's second parent are not fetched. For each fetched commit,
// parent-first, it downloads the entry database and, unless shallow,
// whichever blobs the local Object Store is still missing. No synced
// flag or record is written for a pulled commit. It then sets the
// branch ref and HEAD and, unless shallow, checks out branch.
func Pull(ctx context.Context, repo *oxen.Repository, client *Client, branch string, shallow bool, prog Progress) error {
	var remoteBranch BranchInfo
	if err := client.doJSON(ctx, "GET", "/branches/"+branch, nil, &remoteBranch); err != nil {
		return err
	}
	if remoteBranch.CommitID == "" {
		return ekind.New(ekind.RemoteBranchNotFound, "branch %q", branch)
	}

	localTip, _ := repo.Refs.Get(branch)

	remoteCommits, err := fetchCommitChain(ctx, client, remoteBranch.CommitID, localTip)
	if err != nil {
		return err
	}

	// parent-first order
	for i := len(remoteCommits) - 1; i >= 0; i-- {
		c := remoteCommits[i]
		if err := repo.Log.Append(c); err != nil && !ekind.Is(err, ekind.AlreadyExists) {
			return err
		}
		if err := pullCommitIndex(ctx, repo, client, c.ID); err != nil {
			return err
		}
		if !shallow {
			if err := pullCommitBlobs(ctx, repo, client, c.ID, prog); err != nil {
				return err
			}
		}
	}

	if shallow {
		if err := os.WriteFile(filepath.Join(repo.Control, "SHALLOW"), nil, 0o644); err != nil {
			return ekind.Wrap(ekind.Io, err, "write SHALLOW marker")
		}
	}

	if err := repo.Refs.Set(branch, remoteBranch.CommitID); err != nil {
		return err
	}
	if err := repo.Refs.SetHEADBranch(branch); err != nil {
		return err
	}
	if shallow {
		return nil
	}
	return repo.Checkout(ctx, branch, oxen.CheckoutOptions{Force: true})
}

func fetchCommitChain(ctx context.Context, client *Client, tip, stopAt string) ([]*oxen.Commit, error) {
	var out []*oxen.Commit
	id := tip
	for id != "" && id != stopAt {
		var c oxen.Commit
		if err := client.doJSON(ctx, "GET", "/commits/"+id, nil, &c); err != nil {
			return nil, err
		}
		out = append(out, &c)
		if len(c.Parents) == 0 {
			break
		}
		id = c.Parents[0]
	}
	return out, nil
}

func pullCommitIndex(ctx context.Context, repo *oxen.Repository, client *Client, commitID string) error {
	rc, err := client.doRaw(ctx, "GET", fmt.Sprintf("/commits/%s/index/tarball", commitID), "", nil, nil)
	if err != nil {
		return err
	}
	defer rc.Close()
	return UntarGzipTo(rc, repo.HistoryDir(commitID))
}

func pullCommitBlobs(ctx context.Context, repo *oxen.Repository, client *Client, commitID string, prog Progress) error {
	idx, err := repo.Log.OpenIndex(commitID, true)
	if err != nil {
		return err
	}
	defer idx.Close()
	entries, err := idx.ListAll()
	if err != nil {
		return err
	}
	for _, e := range entries {
		h, err := e.HashValue()
		if err != nil {
			return ekind.Wrap(ekind.Corrupt, err, "entry hash for %s", e.Path)
		}
		if exists, err := repo.Objects.Exists(ctx, h); err != nil {
			return err
		} else if exists {
			continue
		}
		if err := downloadEntryBlob(ctx, repo, client, e, h, prog); err != nil {
			return err
		}
	}
	return nil
}

func downloadEntryBlob(ctx context.Context, repo *oxen.Repository, client *Client, e *oxen.CommitEntry, h oxhash.Hash, prog Progress) error {
	var meta EntryResource
	if err := client.doJSON(ctx, "GET", "/entries/"+h.String(), nil, &meta); err != nil {
		return err
	}
	tmp, err := os.CreateTemp("", "oxen-dl-*")
	if err != nil {
		return ekind.Wrap(ekind.Io, err, "create temp download file")
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := client.DownloadBlob(ctx, h.String(), trimDot(meta.DataType), meta.Size, tmp, prog); err != nil {
		return err
	}
	if _, err := tmp.Seek(0, 0); err != nil {
		return ekind.Wrap(ekind.Io, err, "rewind downloaded blob")
	}
	ext := trimDot(meta.DataType)
	return repo.Objects.WriteKnownHash(ctx, h, e.CommitID, ext, tmp)
}
