// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"context"
	"path/filepath"

	"github.com/oxen-ai/oxen-go/modules/oxen"
)

// CloneOptions controls Clone.
type CloneOptions struct {
	Branch  string // defaults to the remote's default branch ("main")
	Shallow bool   // history metadata only, no blobs
}

// Clone initializes an empty repository at dest, then fetches the
// requested branch's entire commit history and performs a pull (full
// or shallow).
func Clone(ctx context.Context, url, dest string, client *Client, opts CloneOptions) (*oxen.Repository, error) {
	branch := opts.Branch
	if branch == "" {
		branch = "main"
	}
	name := filepath.Base(dest)
	repo, err := oxen.Init(dest, name)
	if err != nil {
		return nil, err
	}
	repo.Config.SetRemote("origin", url)
	if err := repo.SaveConfig(); err != nil {
		return nil, err
	}
	if err := Pull(ctx, repo, client, branch, opts.Shallow, NoProgress); err != nil {
		return nil, err
	}
	return repo, nil
}
