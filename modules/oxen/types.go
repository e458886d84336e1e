// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package oxen

import (
	"time"

	"github.com/oxen-ai/oxen-go/modules/oxhash"
)

// Status is the lifecycle state of a StagedEntry.
type Status string

const (
	StatusAdded    Status = "added"
	StatusModified Status = "modified"
	StatusRemoved  Status = "removed"
	StatusConflict Status = "conflict"
)

// Commit is an immutable DAG node. Equality and hashing are by ID
// alone — two Commits with the same ID are the same commit regardless
// of in-memory representation.
type Commit struct {
	ID        string    `json:"id"`
	Parents   []string  `json:"parents"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
}

// IsMerge reports whether this commit has two parents.
func (c *Commit) IsMerge() bool { return len(c.Parents) == 2 }

// CommitEntry binds a working-tree path, within one commit, to a blob
// hash and the file metadata used by the mtime fast path.
type CommitEntry struct {
	CommitID string `json:"commit_id"`
	Path     string `json:"path"`
	Hash     string `json:"hash"`
	MtimeSec int64  `json:"mtime_sec"`
	MtimeNs  int32  `json:"mtime_ns"`
	Synced   bool   `json:"synced"`
}

// HashValue parses the stored hex hash.
func (e *CommitEntry) HashValue() (oxhash.Hash, error) {
	return oxhash.Parse(e.Hash)
}

// MtimeEqual reports whether (sec, ns) matches this entry's recorded
// mtime, the fast-path comparison that lets add/status skip rehashing.
func (e *CommitEntry) MtimeEqual(sec int64, ns int32) bool {
	return e.MtimeSec == sec && e.MtimeNs == ns
}

// Branch is a named pointer at a commit id.
type Branch struct {
	Name     string `json:"name"`
	CommitID string `json:"commit_id"`
}

// StagedEntry is a pending mutation recorded between `add`/`rm` and the
// next `commit`.
type StagedEntry struct {
	Path   string `json:"path"`
	Status Status `json:"status"`
	Hash   string `json:"hash,omitempty"`
}

// MergeConflict is the three sides of a path that diverged during a
// three-way merge: the common ancestor, HEAD's version, and the
// incoming branch's version. A nil pointer means the path did not
// exist on that side.
type MergeConflict struct {
	Path       string       `json:"path"`
	BaseEntry  *CommitEntry `json:"base_entry,omitempty"`
	HeadEntry  *CommitEntry `json:"head_entry,omitempty"`
	MergeEntry *CommitEntry `json:"merge_entry,omitempty"`
}

// StagedData is the joined view `status` returns: the working tree
// compared against HEAD's Commit Index and the staged table.
type StagedData struct {
	Added     []string        `json:"added_files"`
	Modified  []string        `json:"modified_files"`
	Removed   []string        `json:"removed_files"`
	Untracked []string        `json:"untracked_files"`
	Conflicts []MergeConflict `json:"conflicts"`
}
