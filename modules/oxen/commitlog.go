// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package oxen

import (
	"path/filepath"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/oxen-ai/oxen-go/modules/kvstore"
)

// CommitLog owns commits/ (commit id -> Commit) and opens the
// per-commit entry database (history/<id>/) for any given commit.
type CommitLog struct {
	dbPath     string
	historyDir string
}

func newCommitLog(dbPath, historyDir string) *CommitLog {
	return &CommitLog{dbPath: dbPath, historyDir: historyDir}
}

func (l *CommitLog) open(readOnly bool) (*kvstore.Store, error) {
	return kvstore.Open(l.dbPath, readOnly)
}

// Append writes an immutable Commit record. It never overwrites an
// existing id — commits/ values never change after being written.
func (l *CommitLog) Append(c *Commit) error {
	db, err := l.open(false)
	if err != nil {
		return err
	}
	defer db.Close()
	if ok, _ := db.Contains(c.ID); ok {
		return ekind.New(ekind.AlreadyExists, "commit %s", c.ID)
	}
	return db.Put(c.ID, c)
}

// Get looks up a commit by id. A commit id listed in refs with no
// record here is an invariant violation; see MustGet.
func (l *CommitLog) Get(id string) (*Commit, error) {
	db, err := l.open(true)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	var c Commit
	if err := db.Get(id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// MustGet is Get, but treats NotFound as the invariant violation it
// is when the caller already trusts id came from a ref.
func (l *CommitLog) MustGet(id string) *Commit {
	c, err := l.Get(id)
	if err != nil {
		panic(ekind.Wrap(ekind.Corrupt, err, "ref points at commit %s with no log record", id))
	}
	return c
}

// Walk returns c and every ancestor reachable through Parents[0]
// (first-parent history), nearest first.
func (l *CommitLog) Walk(id string) ([]*Commit, error) {
	var out []*Commit
	for id != "" {
		c, err := l.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
		if len(c.Parents) == 0 {
			break
		}
		id = c.Parents[0]
	}
	return out, nil
}

// AncestorSet returns the set of ids reachable from id via any parent
// edge (both parents of a merge commit), used by LCA computation.
func (l *CommitLog) AncestorSet(id string) (map[string]*Commit, error) {
	seen := map[string]*Commit{}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, ok := seen[cur]; ok {
			continue
		}
		c, err := l.Get(cur)
		if err != nil {
			return nil, err
		}
		seen[cur] = c
		queue = append(queue, c.Parents...)
	}
	return seen, nil
}

// HistoryDBPath returns the path to a commit's entry database file.
func (l *CommitLog) HistoryDBPath(commitID string) string {
	return filepath.Join(l.historyDir, commitID, "index.db")
}

// OpenIndex opens the Commit Index for commitID. readOnly must be true
// for every caller except the committer building a brand-new commit.
func (l *CommitLog) OpenIndex(commitID string, readOnly bool) (*CommitIndex, error) {
	db, err := kvstore.Open(l.HistoryDBPath(commitID), readOnly)
	if err != nil {
		return nil, err
	}
	return &CommitIndex{db: db, commitID: commitID}, nil
}
