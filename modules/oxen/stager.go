// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package oxen

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/oxen-ai/oxen-go/modules/kvstore"
	"github.com/oxen-ai/oxen-go/modules/oxhash"
	"golang.org/x/sync/errgroup"
)

// errStopWalk is a sentinel used to break out of filepath.Walk early
// once a paginated listing has enough results.
var errStopWalk = errors.New("oxen: stop walk")

// Stager maintains the diff between HEAD's Commit Index and the
// intended next commit, backed by staged/staged.db.
type Stager struct {
	repo   *Repository
	dbPath string

	// hashCalls counts re-hash operations performed by Add, an
	// injectable counter the fast-path tests assert against ("no
	// rehash" on an unchanged file). Updated from the worker pool, so
	// reads and writes go through atomics.
	hashCalls atomic.Int64
}

// HashCalls reports how many times Add has actually hashed file
// content on this stager.
func (s *Stager) HashCalls() int64 { return s.hashCalls.Load() }

func newStager(repo *Repository, dbPath string) *Stager {
	return &Stager{repo: repo, dbPath: dbPath}
}

func (s *Stager) open(readOnly bool) (*kvstore.Store, error) {
	return kvstore.Open(s.dbPath, readOnly)
}

func (s *Stager) headIndex() (*CommitIndex, string, error) {
	head, err := s.repo.Refs.ReadHEAD()
	if err != nil {
		return nil, "", err
	}
	if head.CommitID == "" {
		return nil, "", nil // no commits yet
	}
	idx, err := s.repo.Log.OpenIndex(head.CommitID, true)
	if err != nil {
		return nil, "", err
	}
	return idx, head.CommitID, nil
}

// walkFiles recursively expands paths (files pass through, directories
// are walked) into a flat list of working-tree-relative file paths.
func (s *Stager) walkFiles(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(s.repo.Root, p)
		}
		fi, err := os.Stat(abs)
		if err != nil {
			return nil, ekind.Wrap(ekind.Io, err, "stat %s", p)
		}
		if !fi.IsDir() {
			rel, err := filepath.Rel(s.repo.Root, abs)
			if err != nil {
				return nil, ekind.Wrap(ekind.Io, err, "relativize %s", p)
			}
			out = append(out, filepath.ToSlash(rel))
			continue
		}
		err = filepath.Walk(abs, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				if info.Name() == ControlDir {
					return filepath.SkipDir
				}
				return nil
			}
			rel, err := filepath.Rel(s.repo.Root, path)
			if err != nil {
				return err
			}
			out = append(out, filepath.ToSlash(rel))
			return nil
		})
		if err != nil {
			return nil, ekind.Wrap(ekind.Io, err, "walk %s", p)
		}
	}
	return out, nil
}

// Add stages each path (recursively expanded for directories). For
// each, it compares the working-tree mtime against HEAD's recorded
// entry; only on a miss (or no HEAD entry) does it re-hash. Unchanged
// paths are a no-op, making Add idempotent by construction. File
// hashing fans out across a bounded worker pool sized to the host's
// core count.
func (s *Stager) Add(ctx context.Context, paths []string) error {
	files, err := s.walkFiles(paths)
	if err != nil {
		return err
	}
	headIdx, _, err := s.headIndex()
	if err != nil {
		return err
	}
	if headIdx != nil {
		defer headIdx.Close()
	}

	type result struct {
		path    string
		status  Status
		hash    string
		skip    bool
		mtimeS  int64
		mtimeNs int32
	}

	results := make([]result, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, rel := range files {
		i, rel := i, rel
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			abs := filepath.Join(s.repo.Root, rel)
			msec, mnsec, err := Mtime(abs)
			if err != nil {
				return ekind.Wrap(ekind.Io, err, "stat %s", rel)
			}
			var existing *CommitEntry
			if headIdx != nil {
				existing, err = headIdx.Get(rel)
				if err != nil && !ekind.Is(err, ekind.NotFound) {
					return err
				}
			}
			if existing != nil && existing.MtimeEqual(msec, mnsec) {
				results[i] = result{path: rel, skip: true}
				return nil
			}
			h, err := hashPath(s, abs)
			if err != nil {
				return err
			}
			if existing != nil && existing.Hash == h.String() {
				// Content unchanged despite mtime drift: still a no-op.
				results[i] = result{path: rel, skip: true}
				return nil
			}
			status := StatusAdded
			if existing != nil {
				status = StatusModified
			}
			results[i] = result{path: rel, status: status, hash: h.String(), mtimeS: msec, mtimeNs: mnsec}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	db, err := s.open(false)
	if err != nil {
		return err
	}
	defer db.Close()
	for _, r := range results {
		if r.skip {
			continue
		}
		if err := db.Put(r.path, &StagedEntry{Path: r.path, Status: r.status, Hash: r.hash}); err != nil {
			return err
		}
	}
	return nil
}

func hashPath(s *Stager, abs string) (oxhash.Hash, error) {
	s.hashCalls.Add(1)
	return oxhash.File(abs)
}

// copyAndSync writes src to dst and is a named seam so Restore's write
// path is easy to find when reasoning about the "rewrite the
// working-tree file from the Object Store" contract.
func copyAndSync(dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, src)
}

// Rm records a Removed staged entry for each path that is currently
// tracked in HEAD; errors if a path is untracked.
func (s *Stager) Rm(paths []string) error {
	headIdx, _, err := s.headIndex()
	if err != nil {
		return err
	}
	if headIdx != nil {
		defer headIdx.Close()
	}
	db, err := s.open(false)
	if err != nil {
		return err
	}
	defer db.Close()
	for _, p := range paths {
		rel := filepath.ToSlash(p)
		tracked := false
		if headIdx != nil {
			tracked, err = headIdx.Contains(rel)
			if err != nil {
				return err
			}
		}
		if !tracked {
			return ekind.New(ekind.NotFound, "path %q is not tracked", rel)
		}
		if err := db.Put(rel, &StagedEntry{Path: rel, Status: StatusRemoved}); err != nil {
			return err
		}
	}
	return nil
}

// RestoreOptions controls Restore.
type RestoreOptions struct {
	Staged bool // unstage only, leave the working tree alone
}

// Restore either clears a path's staged entry (Staged: true) or
// rewrites the working-tree file from the Object Store using HEAD's
// recorded hash.
func (s *Stager) Restore(ctx context.Context, paths []string, opts RestoreOptions) error {
	db, err := s.open(false)
	if err != nil {
		return err
	}
	defer db.Close()
	if opts.Staged {
		for _, p := range paths {
			if err := db.Delete(filepath.ToSlash(p)); err != nil {
				return err
			}
		}
		return nil
	}
	headIdx, headID, err := s.headIndex()
	if err != nil {
		return err
	}
	if headIdx == nil {
		return ekind.New(ekind.NotOnBranch, "no commits yet")
	}
	defer headIdx.Close()
	for _, p := range paths {
		rel := filepath.ToSlash(p)
		e, err := headIdx.Get(rel)
		if err != nil {
			return err
		}
		if err := s.materialize(ctx, e, headID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stager) materialize(ctx context.Context, e *CommitEntry, commitID string) error {
	h, err := e.HashValue()
	if err != nil {
		return ekind.Wrap(ekind.Corrupt, err, "entry hash for %s", e.Path)
	}
	rc, err := s.repo.Objects.Open(ctx, h, commitID)
	if err != nil {
		return err
	}
	defer rc.Close()
	abs := filepath.Join(s.repo.Root, e.Path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return ekind.Wrap(ekind.Io, err, "create parent for %s", e.Path)
	}
	f, err := os.Create(abs)
	if err != nil {
		return ekind.Wrap(ekind.Io, err, "create %s", e.Path)
	}
	defer f.Close()
	if _, err := copyAndSync(f, rc); err != nil {
		return ekind.Wrap(ekind.Io, err, "write %s", e.Path)
	}
	sec, nsec, err := Mtime(abs)
	if err == nil {
		e.MtimeSec, e.MtimeNs = sec, nsec
	}
	return nil
}

// Status computes the joined view of the working tree against HEAD's
// Commit Index and the staged table. It paginates the underlying
// iterators rather than building the full result set, so a small
// limit never forces a full working-tree walk to complete first.
func (s *Stager) Status(ctx context.Context, skip, limit int) (*StagedData, error) {
	headIdx, _, err := s.headIndex()
	if err != nil {
		return nil, err
	}
	if headIdx != nil {
		defer headIdx.Close()
	}
	stagedDB, err := s.open(true)
	if err != nil {
		return nil, err
	}
	defer stagedDB.Close()

	out := &StagedData{}
	seen := map[string]bool{}
	count := 0
	err = stagedDB.ForEach(func(key string, value []byte) (bool, error) {
		if limit > 0 && len(out.Added)+len(out.Modified)+len(out.Removed) >= limit {
			return false, nil
		}
		count++
		if count <= skip {
			return true, nil
		}
		var se StagedEntry
		if e := json.Unmarshal(value, &se); e != nil {
			return false, ekind.Wrap(ekind.Corrupt, e, "decode staged entry %q", key)
		}
		seen[key] = true
		switch se.Status {
		case StatusAdded:
			out.Added = append(out.Added, se.Path)
		case StatusModified:
			out.Modified = append(out.Modified, se.Path)
		case StatusRemoved:
			out.Removed = append(out.Removed, se.Path)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	conflicts, err := s.loadConflicts()
	if err != nil {
		return nil, err
	}
	out.Conflicts = conflicts

	// Untracked: walk the working tree and report files absent from
	// both HEAD and the staged table. Bounded by limit to honor the
	// "never materialize the full list" requirement.
	untracked, err := s.untrackedFiles(headIdx, seen, limit)
	if err != nil {
		return nil, err
	}
	out.Untracked = untracked
	return out, nil
}

func (s *Stager) untrackedFiles(headIdx *CommitIndex, staged map[string]bool, limit int) ([]string, error) {
	var out []string
	err := filepath.Walk(s.repo.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ControlDir {
				return filepath.SkipDir
			}
			return nil
		}
		if limit > 0 && len(out) >= limit {
			return errStopWalk
		}
		rel, err := filepath.Rel(s.repo.Root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if staged[rel] {
			return nil
		}
		if headIdx != nil {
			tracked, err := headIdx.Contains(rel)
			if err != nil {
				return err
			}
			if tracked {
				return nil
			}
		}
		out = append(out, rel)
		return nil
	})
	if err != nil && err != errStopWalk {
		return nil, ekind.Wrap(ekind.Io, err, "walk working tree")
	}
	return out, nil
}

func (s *Stager) loadConflicts() ([]MergeConflict, error) {
	db, err := kvstore.Open(filepath.Join(s.repo.MergeDir(), "conflicts.db"), true)
	if err != nil {
		if ekind.Is(err, ekind.Io) {
			return nil, nil
		}
		return nil, err
	}
	defer db.Close()
	var out []MergeConflict
	err = db.ForEach(func(key string, value []byte) (bool, error) {
		var mc MergeConflict
		if e := json.Unmarshal(value, &mc); e != nil {
			return false, ekind.Wrap(ekind.Corrupt, e, "decode conflict %q", key)
		}
		out = append(out, mc)
		return true, nil
	})
	return out, err
}

// Commit allocates a new commit, transactionally building its entry
// database from the parent's index overlaid with staged changes, then
// advancing the current branch ref only once the database is fully
// flushed. A branch ref never points at a commit whose entry database
// is not durable.
func (s *Stager) Commit(ctx context.Context, message, author, email string) (*Commit, error) {
	stagedDB, err := s.open(true)
	if err != nil {
		return nil, err
	}
	var staged []StagedEntry
	err = stagedDB.ForEach(func(key string, value []byte) (bool, error) {
		var se StagedEntry
		if e := json.Unmarshal(value, &se); e != nil {
			return false, ekind.Wrap(ekind.Corrupt, e, "decode staged entry %q", key)
		}
		staged = append(staged, se)
		return true, nil
	})
	stagedDB.Close()
	if err != nil {
		return nil, err
	}
	if len(staged) == 0 {
		return nil, ekind.New(ekind.InvalidArgument, "nothing to commit")
	}

	// A merge left pending conflicts: the resolving commit is the way
	// out of the conflicts-pending state, but only once every
	// conflicted path has been re-staged with a chosen version.
	conflicts, err := s.loadConflicts()
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		stagedPaths := map[string]bool{}
		for _, se := range staged {
			stagedPaths[se.Path] = true
		}
		for _, c := range conflicts {
			if !stagedPaths[c.Path] {
				return nil, ekind.New(ekind.MergeConflict, "unresolved conflict in %q; stage a resolution first", c.Path)
			}
		}
	}

	head, err := s.repo.Refs.ReadHEAD()
	if err != nil {
		return nil, err
	}
	var parents []string
	if head.CommitID != "" {
		parents = []string{head.CommitID}
	}
	if mergeParent, ok, err := s.readMergeHead(); err != nil {
		return nil, err
	} else if ok {
		parents = append(parents, mergeParent)
	}

	newID := uuid.NewString()
	newIdx, err := s.repo.Log.OpenIndex(newID, false)
	if err != nil {
		return nil, err
	}

	if head.CommitID != "" {
		parentIdx, err := s.repo.Log.OpenIndex(head.CommitID, true)
		if err != nil {
			newIdx.Close()
			return nil, err
		}
		entries, err := parentIdx.ListAll()
		parentIdx.Close()
		if err != nil {
			newIdx.Close()
			return nil, err
		}
		for _, e := range entries {
			e.CommitID = newID
			if err := newIdx.Put(e); err != nil {
				newIdx.Close()
				return nil, err
			}
		}
	}

	now := time.Now().UTC()
	for _, se := range staged {
		switch se.Status {
		case StatusRemoved:
			if err := newIdx.Remove(se.Path); err != nil {
				newIdx.Close()
				return nil, err
			}
		case StatusAdded, StatusModified:
			abs := filepath.Join(s.repo.Root, se.Path)
			ext := strings.TrimPrefix(filepath.Ext(se.Path), ".")
			if _, err := s.repo.Objects.Put(ctx, abs, newID, ext); err != nil {
				newIdx.Close()
				return nil, err
			}
			sec, nsec, _ := Mtime(abs)
			entry := &CommitEntry{CommitID: newID, Path: se.Path, Hash: se.Hash, MtimeSec: sec, MtimeNs: nsec, Synced: false}
			if err := newIdx.Put(entry); err != nil {
				newIdx.Close()
				return nil, err
			}
		}
	}

	if err := newIdx.Close(); err != nil {
		return nil, ekind.Wrap(ekind.Io, err, "flush commit index %s", newID)
	}

	commit := &Commit{ID: newID, Parents: parents, Message: message, Author: author, Email: email, Timestamp: now}
	if err := s.repo.Log.Append(commit); err != nil {
		return nil, err
	}

	branch, err := s.repo.Refs.CurrentBranch()
	if err != nil {
		return nil, err
	}
	if branch == "" {
		branch = "main"
		if err := s.repo.Refs.SetHEADBranch(branch); err != nil {
			return nil, err
		}
	}
	// Branch ref advances only now: the entry database above is fully
	// flushed and the Commit record is durably logged.
	if err := s.repo.Refs.Set(branch, newID); err != nil {
		return nil, err
	}

	if err := s.clearStaged(); err != nil {
		return nil, err
	}
	if err := s.clearMergeState(); err != nil {
		return nil, err
	}
	return commit, nil
}

func (s *Stager) clearStaged() error {
	db, err := s.open(false)
	if err != nil {
		return err
	}
	defer db.Close()
	var keys []string
	err = db.ForEach(func(key string, _ []byte) (bool, error) {
		keys = append(keys, key)
		return true, nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := db.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stager) mergeInProgress() (bool, error) {
	_, ok, err := s.readMergeHead()
	return ok, err
}

func (s *Stager) mergeHeadPath() string { return filepath.Join(s.repo.Control, "MERGE_HEAD") }
func (s *Stager) origHeadPath() string  { return filepath.Join(s.repo.Control, "ORIG_HEAD") }

func (s *Stager) readMergeHead() (string, bool, error) {
	data, err := os.ReadFile(s.mergeHeadPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, ekind.Wrap(ekind.Io, err, "read MERGE_HEAD")
	}
	return strings.TrimSpace(string(data)), true, nil
}

func (s *Stager) clearMergeState() error {
	_ = os.Remove(s.mergeHeadPath())
	_ = os.Remove(s.origHeadPath())
	db, err := kvstore.Open(filepath.Join(s.repo.MergeDir(), "conflicts.db"), false)
	if err != nil {
		return err
	}
	defer db.Close()
	var keys []string
	err = db.ForEach(func(key string, _ []byte) (bool, error) {
		keys = append(keys, key)
		return true, nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := db.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
