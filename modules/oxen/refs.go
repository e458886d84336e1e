// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package oxen

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/oxen-ai/oxen-go/modules/kvstore"
)

const headFileName = "HEAD"

// RefStore owns refs/ (branch name -> commit id) and the HEAD file
// (current branch, or a detached commit id).
type RefStore struct {
	dbPath  string
	control string
}

func newRefStore(dbPath, control string) *RefStore {
	return &RefStore{dbPath: dbPath, control: control}
}

func (rs *RefStore) open(readOnly bool) (*kvstore.Store, error) {
	return kvstore.Open(rs.dbPath, readOnly)
}

// Get resolves a branch name to its commit id.
func (rs *RefStore) Get(name string) (string, error) {
	db, err := rs.open(true)
	if err != nil {
		return "", err
	}
	defer db.Close()
	var commitID string
	if err := db.Get(name, &commitID); err != nil {
		return "", err
	}
	return commitID, nil
}

// Set creates or updates a branch to point at commitID. This is a
// pure ref write; it never validates that the branch is "new" vs
// "moving" — CreateBranch and the committer distinguish those.
func (rs *RefStore) Set(name, commitID string) error {
	db, err := rs.open(false)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Put(name, commitID)
}

// Exists reports whether a branch with this name exists.
func (rs *RefStore) Exists(name string) (bool, error) {
	db, err := rs.open(true)
	if err != nil {
		return false, err
	}
	defer db.Close()
	return db.Contains(name)
}

// Delete removes a branch ref unconditionally; callers enforce the
// "refuse to delete checked-out branch" rule before calling this.
func (rs *RefStore) Delete(name string) error {
	db, err := rs.open(false)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Delete(name)
}

// Rename moves a branch ref from oldName to newName.
func (rs *RefStore) Rename(oldName, newName string) error {
	db, err := rs.open(false)
	if err != nil {
		return err
	}
	defer db.Close()
	var commitID string
	if err := db.Get(oldName, &commitID); err != nil {
		return err
	}
	if err := db.Put(newName, commitID); err != nil {
		return err
	}
	return db.Delete(oldName)
}

// List returns every branch, in name order.
func (rs *RefStore) List() ([]Branch, error) {
	db, err := rs.open(true)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	var out []Branch
	err = db.ForEach(func(key string, value []byte) (bool, error) {
		var commitID string
		if e := json.Unmarshal(value, &commitID); e != nil {
			return false, ekind.Wrap(ekind.Corrupt, e, "decode ref %q", key)
		}
		out = append(out, Branch{Name: key, CommitID: commitID})
		return true, nil
	})
	return out, err
}

// HEAD describes what HEAD currently points at.
type HEAD struct {
	Branch   string // set when HEAD is a ref to a branch
	CommitID string // set when HEAD is detached, or resolved from Branch
	Detached bool
}

func headPath(control string) string { return filepath.Join(control, headFileName) }

// writeHEAD writes either "ref: <branch>" or a bare commit id.
func writeHEAD(control, branch, commitID string) error {
	var content string
	if branch != "" {
		content = "ref: " + branch + "\n"
	} else {
		content = commitID + "\n"
	}
	if err := os.WriteFile(headPath(control), []byte(content), 0o644); err != nil {
		return ekind.Wrap(ekind.Io, err, "write HEAD")
	}
	return nil
}

// ReadHEAD reads and parses the HEAD file, resolving a branch ref to
// its current commit id via refs.
func (rs *RefStore) ReadHEAD() (*HEAD, error) {
	data, err := os.ReadFile(headPath(rs.control))
	if err != nil {
		return nil, ekind.Wrap(ekind.Io, err, "read HEAD")
	}
	line := strings.TrimSpace(string(data))
	if strings.HasPrefix(line, "ref: ") {
		branch := strings.TrimPrefix(line, "ref: ")
		commitID, err := rs.Get(branch)
		if err != nil && !ekind.Is(err, ekind.NotFound) {
			return nil, err
		}
		return &HEAD{Branch: branch, CommitID: commitID}, nil
	}
	return &HEAD{CommitID: line, Detached: true}, nil
}

// SetHEADBranch points HEAD at a branch (attached state).
func (rs *RefStore) SetHEADBranch(branch string) error {
	return writeHEAD(rs.control, branch, "")
}

// SetHEADDetached points HEAD directly at a commit id.
func (rs *RefStore) SetHEADDetached(commitID string) error {
	return writeHEAD(rs.control, "", commitID)
}

// CurrentBranch returns the attached branch name, or "" if detached.
func (rs *RefStore) CurrentBranch() (string, error) {
	h, err := rs.ReadHEAD()
	if err != nil {
		return "", err
	}
	return h.Branch, nil
}
