// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package oxen

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/oxen-ai/oxen-go/modules/kvstore"
)

// MergeResult reports the outcome of a three-way merge.
type MergeResult struct {
	Conflicted bool
	Commit     *Commit // set only when Conflicted is false
}

// Merge performs a three-way merge of sourceBranch into the current
// HEAD. On a clean merge it synthesizes a two-parent commit and
// advances the branch. On conflicts it writes the merge/ conflict
// database plus MERGE_HEAD/ORIG_HEAD and leaves HEAD untouched; the
// caller resolves by editing files and committing.
func (r *Repository) Merge(ctx context.Context, sourceBranch, author, email string) (*MergeResult, error) {
	if inProgress, err := r.Stage.mergeInProgress(); err != nil {
		return nil, err
	} else if inProgress {
		return nil, ekind.New(ekind.InvalidArgument, "a merge is already in progress")
	}

	head, err := r.Refs.ReadHEAD()
	if err != nil {
		return nil, err
	}
	if head.Branch == "" {
		return nil, ekind.New(ekind.NotOnBranch, "cannot merge while HEAD is detached")
	}
	sourceID, err := r.Refs.Get(sourceBranch)
	if err != nil {
		return nil, err
	}

	lcaID, err := r.lowestCommonAncestor(head.CommitID, sourceID)
	if err != nil {
		return nil, err
	}

	baseIdx, headIdx, sourceIdx, err := r.openThreeIndices(lcaID, head.CommitID, sourceID)
	if err != nil {
		return nil, err
	}
	defer baseIdx.close()
	defer headIdx.Close()
	defer sourceIdx.Close()

	paths, err := unionPaths(baseIdx.idx, headIdx, sourceIdx)
	if err != nil {
		return nil, err
	}

	newID := uuid.NewString()
	newIdx, err := r.Log.OpenIndex(newID, false)
	if err != nil {
		return nil, err
	}

	var conflicts []MergeConflict
	for _, path := range paths {
		baseE, _ := getOrNil(baseIdx.idx, path)
		headE, err := getOrNil(headIdx, path)
		if err != nil {
			newIdx.Close()
			return nil, err
		}
		sourceE, err := getOrNil(sourceIdx, path)
		if err != nil {
			newIdx.Close()
			return nil, err
		}

		result, conflict := classify(baseE, headE, sourceE)
		if conflict {
			conflicts = append(conflicts, MergeConflict{Path: path, BaseEntry: baseE, HeadEntry: headE, MergeEntry: sourceE})
			continue
		}
		if result == nil {
			continue // removed on both/one side
		}
		entry := *result
		entry.CommitID = newID
		if err := newIdx.Put(&entry); err != nil {
			newIdx.Close()
			return nil, err
		}
	}

	if len(conflicts) > 0 {
		newIdx.Close()
		_ = os.RemoveAll(r.HistoryDir(newID))
		if err := r.writeConflicts(conflicts); err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(r.Control, "MERGE_HEAD"), []byte(sourceID+"\n"), 0o644); err != nil {
			return nil, ekind.Wrap(ekind.Io, err, "write MERGE_HEAD")
		}
		if err := os.WriteFile(filepath.Join(r.Control, "ORIG_HEAD"), []byte(head.CommitID+"\n"), 0o644); err != nil {
			return nil, ekind.Wrap(ekind.Io, err, "write ORIG_HEAD")
		}
		return &MergeResult{Conflicted: true}, nil
	}

	if err := newIdx.Close(); err != nil {
		return nil, ekind.Wrap(ekind.Io, err, "flush merge commit index")
	}
	commit := &Commit{
		ID:        newID,
		Parents:   []string{head.CommitID, sourceID},
		Message:   "Merge branch '" + sourceBranch + "'",
		Author:    author,
		Email:     email,
		Timestamp: time.Now().UTC(),
	}
	if err := r.Log.Append(commit); err != nil {
		return nil, err
	}
	if err := r.Refs.Set(head.Branch, newID); err != nil {
		return nil, err
	}
	if err := r.materializeMergeResult(ctx, newID, headIdx); err != nil {
		return nil, err
	}
	return &MergeResult{Commit: commit}, nil
}

// materializeMergeResult brings the working tree up to the merge
// commit: every entry whose content differs from what HEAD had (or
// that HEAD lacked entirely) is rewritten from the Object Store.
func (r *Repository) materializeMergeResult(ctx context.Context, mergeID string, headIdx *CommitIndex) error {
	mergedIdx, err := r.Log.OpenIndex(mergeID, true)
	if err != nil {
		return err
	}
	defer mergedIdx.Close()
	entries, err := mergedIdx.ListAll()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if prev, err := getOrNil(headIdx, e.Path); err != nil {
			return err
		} else if prev != nil && prev.Hash == e.Hash {
			continue
		}
		if err := r.Stage.materialize(ctx, e, mergeID); err != nil {
			return err
		}
	}
	return nil
}

// lowestCommonAncestor intersects both ancestor sets and picks the
// shared commit with the most recent timestamp; identical timestamps
// break on the lexicographically smallest id (open question (b)).
// Depth in the commit graph is not computed.
func (r *Repository) lowestCommonAncestor(a, b string) (string, error) {
	ancA, err := r.Log.AncestorSet(a)
	if err != nil {
		return "", err
	}
	ancB, err := r.Log.AncestorSet(b)
	if err != nil {
		return "", err
	}
	var candidates []*Commit
	for id, c := range ancA {
		if _, ok := ancB[id]; ok {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return "", ekind.New(ekind.InvalidArgument, "no common ancestor between %s and %s", a, b)
	}
	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if !ci.Timestamp.Equal(cj.Timestamp) {
			return ci.Timestamp.After(cj.Timestamp) // most recent first
		}
		return ci.ID < cj.ID
	})
	return candidates[0].ID, nil
}

// nullableIndex lets the LCA's Commit Index be genuinely absent (a
// merge against the repository's very first commit has no ancestor).
type nullableIndex struct{ idx *CommitIndex }

func (n *nullableIndex) close() {
	if n.idx != nil {
		n.idx.Close()
	}
}

func (r *Repository) openThreeIndices(lcaID, headID, sourceID string) (*nullableIndex, *CommitIndex, *CommitIndex, error) {
	var base nullableIndex
	if lcaID != "" {
		idx, err := r.Log.OpenIndex(lcaID, true)
		if err != nil {
			return nil, nil, nil, err
		}
		base.idx = idx
	}
	headIdx, err := r.Log.OpenIndex(headID, true)
	if err != nil {
		base.close()
		return nil, nil, nil, err
	}
	sourceIdx, err := r.Log.OpenIndex(sourceID, true)
	if err != nil {
		base.close()
		headIdx.Close()
		return nil, nil, nil, err
	}
	return &base, headIdx, sourceIdx, nil
}

func getOrNil(idx *CommitIndex, path string) (*CommitEntry, error) {
	if idx == nil {
		return nil, nil
	}
	e, err := idx.Get(path)
	if err != nil {
		if ekind.Is(err, ekind.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

func unionPaths(base *CommitIndex, head, source *CommitIndex) ([]string, error) {
	seen := map[string]bool{}
	var order []string
	add := func(idx *CommitIndex) error {
		if idx == nil {
			return nil
		}
		entries, err := idx.ListAll()
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !seen[e.Path] {
				seen[e.Path] = true
				order = append(order, e.Path)
			}
		}
		return nil
	}
	if err := add(base); err != nil {
		return nil, err
	}
	if err := add(head); err != nil {
		return nil, err
	}
	if err := add(source); err != nil {
		return nil, err
	}
	sort.Strings(order)
	return order, nil
}

// classify decides one path's merge outcome from its three sides. It
// returns the winning entry (nil meaning "removed"), and whether the
// path is a conflict.
func classify(base, head, source *CommitEntry) (winner *CommitEntry, conflict bool) {
	sameHash := func(a, b *CommitEntry) bool {
		if a == nil || b == nil {
			return a == b
		}
		return a.Hash == b.Hash
	}
	headChanged := !sameHash(base, head)
	sourceChanged := !sameHash(base, source)

	switch {
	case !headChanged && !sourceChanged:
		return base, false // unchanged on both sides -> keep (possibly nil, i.e. never existed)
	case headChanged && !sourceChanged:
		return head, false // changed on exactly one side (add/modify/remove) -> take it
	case !headChanged && sourceChanged:
		return source, false
	case sameHash(head, source):
		return head, false // changed on both sides to the same content -> keep
	default:
		// Changed on both sides to different results: a removal paired
		// with any change on the other side is a conflict, and so is a
		// concurrent add/modify to different content.
		return nil, true
	}
}

func (r *Repository) writeConflicts(conflicts []MergeConflict) error {
	db, err := kvstore.Open(filepath.Join(r.MergeDir(), "conflicts.db"), false)
	if err != nil {
		return err
	}
	defer db.Close()
	for _, c := range conflicts {
		if err := db.Put(c.Path, &c); err != nil {
			return err
		}
	}
	return nil
}
