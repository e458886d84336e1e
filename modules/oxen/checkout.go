// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package oxen

import (
	"context"
	"os"
	"path/filepath"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/oxen-ai/oxen-go/modules/oxhash"
)

// CheckoutOptions controls conflict resolution during Checkout.
type CheckoutOptions struct {
	Force  bool // overwrite uncommitted modifications
	Theirs bool // on a path conflict, prefer the target commit's version
	Ours   bool // on a path conflict, keep the current working-tree version
}

// Checkout resolves nameOrID to a commit (branch name first, then a
// raw commit id), compares its Commit Index to the current working
// tree, and materializes every differing path from the Object Store.
// It refuses if doing so would discard uncommitted modifications,
// unless Force/Theirs/Ours is given.
func (r *Repository) Checkout(ctx context.Context, nameOrID string, opts CheckoutOptions) error {
	targetID := nameOrID
	isBranch := false
	if exists, err := r.Refs.Exists(nameOrID); err != nil {
		return err
	} else if exists {
		targetID, err = r.Refs.Get(nameOrID)
		if err != nil {
			return err
		}
		isBranch = true
	} else if _, err := r.Log.Get(nameOrID); err != nil {
		return ekind.New(ekind.NotFound, "no branch or commit named %q", nameOrID)
	}

	targetIdx, err := r.Log.OpenIndex(targetID, true)
	if err != nil {
		return err
	}
	defer targetIdx.Close()

	head, err := r.Refs.ReadHEAD()
	if err != nil {
		return err
	}
	var headIdx *CommitIndex
	if head.CommitID != "" {
		headIdx, err = r.Log.OpenIndex(head.CommitID, true)
		if err != nil {
			return err
		}
		defer headIdx.Close()
	}

	targetEntries, err := targetIdx.ListAll()
	if err != nil {
		return err
	}
	targetByPath := map[string]*CommitEntry{}
	for _, e := range targetEntries {
		targetByPath[e.Path] = e
	}

	for path, e := range targetByPath {
		abs := filepath.Join(r.Root, path)
		if err := refuseIfShadowed(abs); err != nil {
			return err
		}
		if !opts.Force && headIdx != nil {
			if dirty, err := r.isDirty(abs, headIdx, path); err != nil {
				return err
			} else if dirty && opts.Ours {
				continue // keep the working-tree version
			} else if dirty && !opts.Theirs {
				return ekind.New(ekind.InvalidArgument, "uncommitted changes to %q would be overwritten; use --theirs or commit first", path)
			}
		}
		if err := r.Stage.materialize(ctx, e, targetID); err != nil {
			return err
		}
	}

	// Remove working-tree files tracked by HEAD but absent from the
	// target commit.
	if headIdx != nil {
		headEntries, err := headIdx.ListAll()
		if err != nil {
			return err
		}
		for _, e := range headEntries {
			if _, stillPresent := targetByPath[e.Path]; stillPresent {
				continue
			}
			abs := filepath.Join(r.Root, e.Path)
			if !opts.Force && !opts.Theirs {
				if dirty, err := r.isDirty(abs, headIdx, e.Path); err != nil && !os.IsNotExist(err) {
					return err
				} else if dirty {
					return ekind.New(ekind.InvalidArgument, "uncommitted changes to %q would be discarded by checkout", e.Path)
				}
			}
			_ = os.Remove(abs)
		}
	}

	if isBranch {
		return r.Refs.SetHEADBranch(nameOrID)
	}
	return r.Refs.SetHEADDetached(targetID)
}

// isDirty reports whether the working-tree file differs from what
// HEAD recorded, using the mtime fast path and falling back to a hash
// comparison only on a miss.
func (r *Repository) isDirty(abs string, headIdx *CommitIndex, path string) (bool, error) {
	entry, err := r.CachedEntry(headIdx, path)
	if err != nil {
		if ekind.Is(err, ekind.NotFound) {
			_, statErr := os.Stat(abs)
			return statErr == nil, nil // untracked-but-present counts as dirty for safety
		}
		return false, err
	}
	sec, nsec, err := Mtime(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil // deleted locally: would be resurrected by checkout
		}
		return false, err
	}
	if entry.MtimeEqual(sec, nsec) {
		return false, nil
	}
	h, err := oxhash.File(abs)
	if err != nil {
		return false, err
	}
	return h.String() != entry.Hash, nil
}

// refuseIfShadowed implements open question (c): checkout refuses when
// materializing target would require removing a working-tree
// directory (or vice versa) that still holds tracked/untracked
// content.
func refuseIfShadowed(abs string) error {
	// A regular file standing where a parent directory of abs is
	// needed: the nearest existing ancestor must be a directory.
	for dir := filepath.Dir(abs); dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		pfi, err := os.Stat(dir)
		if err != nil {
			continue // missing parent: created on materialize
		}
		if !pfi.IsDir() {
			return ekind.New(ekind.InvalidArgument, "refusing to replace file %q with a directory", dir)
		}
		break
	}
	fi, err := os.Lstat(abs)
	if err != nil {
		return nil // nothing there yet, no shadow possible
	}
	if fi.IsDir() {
		entries, err := os.ReadDir(abs)
		if err != nil {
			return ekind.Wrap(ekind.Io, err, "read dir %s", abs)
		}
		if len(entries) > 0 {
			return ekind.New(ekind.InvalidArgument, "refusing to replace non-empty directory %q with a file", abs)
		}
	}
	return nil
}
