// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/oxen-ai/oxen-go/modules/oxen"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"
)

func newDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <ref-or-file> [path]",
		Short: "Show changes between a commit and the working tree",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			ref, path := resolveDiffArgs(repo, args)
			if path == "" {
				return ekind.New(ekind.InvalidArgument, "a file path is required")
			}
			commitID, err := resolveRef(repo, ref)
			if err != nil {
				return err
			}
			old, err := readCommittedFile(cmd, repo, commitID, path)
			if err != nil {
				return err
			}
			current, err := os.ReadFile(filepath.Join(repo.Root, path))
			if err != nil {
				if os.IsNotExist(err) {
					current = nil
				} else {
					return ekind.Wrap(ekind.Io, err, "read %s", path)
				}
			}
			dmp := diffmatchpatch.New()
			diffs := dmp.DiffMain(string(old), string(current), true)
			dmp.DiffCleanupSemantic(diffs)
			fmt.Fprint(cmd.OutOrStdout(), dmp.DiffPrettyText(diffs))
			return nil
		},
	}
}

// resolveDiffArgs distinguishes `diff <ref> <path>` from `diff <file>`:
// a single argument that exists in the working tree is a file against
// HEAD.
func resolveDiffArgs(repo *oxen.Repository, args []string) (ref, path string) {
	if len(args) == 2 {
		return args[0], args[1]
	}
	if _, err := os.Stat(filepath.Join(repo.Root, args[0])); err == nil {
		return "", args[0]
	}
	return args[0], ""
}

// resolveRef maps a branch name or commit id to a commit id; empty
// means HEAD.
func resolveRef(repo *oxen.Repository, ref string) (string, error) {
	if ref == "" {
		head, err := repo.Refs.ReadHEAD()
		if err != nil {
			return "", err
		}
		if head.CommitID == "" {
			return "", ekind.New(ekind.NotFound, "no commits yet")
		}
		return head.CommitID, nil
	}
	if exists, err := repo.Refs.Exists(ref); err != nil {
		return "", err
	} else if exists {
		return repo.Refs.Get(ref)
	}
	if _, err := repo.Log.Get(ref); err != nil {
		return "", ekind.New(ekind.NotFound, "unresolvable ref %q", ref)
	}
	return ref, nil
}

func readCommittedFile(cmd *cobra.Command, repo *oxen.Repository, commitID, path string) ([]byte, error) {
	idx, err := repo.Log.OpenIndex(commitID, true)
	if err != nil {
		return nil, err
	}
	defer idx.Close()
	entry, err := idx.Get(filepath.ToSlash(path))
	if err != nil {
		return nil, err
	}
	h, err := entry.HashValue()
	if err != nil {
		return nil, ekind.Wrap(ekind.Corrupt, err, "entry hash for %s", path)
	}
	rc, err := repo.Objects.Open(cmd.Context(), h, commitID)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, ekind.Wrap(ekind.Io, err, "read blob for %s", path)
	}
	return data, nil
}
