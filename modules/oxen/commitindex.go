// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package oxen

import (
	"encoding/json"
	"strings"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/oxen-ai/oxen-go/modules/kvstore"
	"github.com/oxen-ai/oxen-go/modules/oxhash"
)

// CommitIndex is the per-commit embedded entry database: path ->
// CommitEntry, ordered by path, for exactly one commit id. Readers open
// it read-only; only the committer building a new commit opens it
// read-write, and only once.
type CommitIndex struct {
	db       *kvstore.Store
	commitID string
}

func (ci *CommitIndex) Close() error { return ci.db.Close() }

func (ci *CommitIndex) CommitID() string { return ci.commitID }

// NumEntries returns the total number of tracked paths.
func (ci *CommitIndex) NumEntries() (uint64, error) { return ci.db.Count() }

// Get returns the entry for path, or a NotFound ekind.Error.
func (ci *CommitIndex) Get(path string) (*CommitEntry, error) {
	var e CommitEntry
	if err := ci.db.Get(path, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// PathHash is the direct lookup the Stager uses: path's content hash,
// parsed from its decoded entry.
func (ci *CommitIndex) PathHash(path string) (oxhash.Hash, bool, error) {
	e, err := ci.Get(path)
	if err != nil {
		if ekind.Is(err, ekind.NotFound) {
			return oxhash.Zero, false, nil
		}
		return oxhash.Zero, false, err
	}
	h, err := e.HashValue()
	if err != nil {
		return oxhash.Zero, false, ekind.Wrap(ekind.Corrupt, err, "entry hash for %s", path)
	}
	return h, true, nil
}

// Contains reports whether path is tracked in this commit.
func (ci *CommitIndex) Contains(path string) (bool, error) { return ci.db.Contains(path) }

// Put writes (or overwrites, during commit construction) an entry.
func (ci *CommitIndex) Put(e *CommitEntry) error { return ci.db.Put(e.Path, e) }

// Remove deletes an entry, used while copying the parent's entries
// minus anything the stager marked Removed.
func (ci *CommitIndex) Remove(path string) error { return ci.db.Delete(path) }

// ListAll returns every entry, in path order. Callers that want
// pagination should use ListPage instead — this materializes the
// full set and is meant for small repositories / tests.
func (ci *CommitIndex) ListAll() ([]*CommitEntry, error) {
	var out []*CommitEntry
	err := ci.db.ForEach(func(key string, value []byte) (bool, error) {
		var e CommitEntry
		if err := json.Unmarshal(value, &e); err != nil {
			return false, ekind.Wrap(ekind.Corrupt, err, "decode entry %q", key)
		}
		out = append(out, &e)
		return true, nil
	})
	return out, err
}

// ListPage returns the 1-based pageNum'th page of pageSize entries, in
// path order. list_page(1, n) returns the first n entries.
func (ci *CommitIndex) ListPage(pageNum, pageSize int) ([]*CommitEntry, error) {
	raw, err := ci.db.Page(pageNum, pageSize)
	if err != nil {
		return nil, err
	}
	out := make([]*CommitEntry, 0, len(raw))
	for _, r := range raw {
		var e CommitEntry
		if err := json.Unmarshal(r.Value, &e); err != nil {
			return nil, ekind.Wrap(ekind.Corrupt, err, "decode entry %q", r.Key)
		}
		out = append(out, &e)
	}
	return out, nil
}

// ListDir returns every entry under the directory prefix. A trailing
// separator is appended to a non-empty prefix, so "data/sub" matches
// "data/sub/x" but not "data/subway".
func (ci *CommitIndex) ListDir(prefix string) ([]*CommitEntry, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	raw, err := ci.db.Prefix(prefix)
	if err != nil {
		return nil, err
	}
	out := make([]*CommitEntry, 0, len(raw))
	for _, r := range raw {
		var e CommitEntry
		if err := json.Unmarshal(r.Value, &e); err != nil {
			return nil, ekind.Wrap(ekind.Corrupt, err, "decode entry %q", r.Key)
		}
		out = append(out, &e)
	}
	return out, nil
}

// HasAnyWithPrefix reports whether any path starts with prefix,
// without materializing the matches.
func (ci *CommitIndex) HasAnyWithPrefix(prefix string) (bool, error) {
	return ci.db.HasPrefix(prefix)
}
