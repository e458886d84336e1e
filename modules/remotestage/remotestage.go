// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package remotestage is the server-side staging area keyed by
// (branch, user identifier): it accumulates uploaded files and
// row-level modifications against tabular files, then composes them
// into a normal commit atomically. Nothing is visible on the branch
// until CommitStaged succeeds; on failure nothing is advanced.
package remotestage

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/oxen-ai/oxen-go/modules/kvstore"
	"github.com/oxen-ai/oxen-go/modules/oxen"
	"github.com/oxen-ai/oxen-go/modules/oxhash"
	"github.com/oxen-ai/oxen-go/modules/tabular"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "oxen.remote-stager")

// ModType is the kind of row-level modification. Only Append is
// supported; the field exists so the wire shape doesn't change when
// more arrive.
type ModType string

const ModAppend ModType = "append"

// RowMod is one staged row modification against a tabular file.
type RowMod struct {
	UUID      string    `json:"uuid"`
	Path      string    `json:"path"`
	Type      ModType   `json:"type"`
	Row       []string  `json:"row"`
	Timestamp time.Time `json:"timestamp"`
}

// StagedFile records one uploaded-but-uncommitted file.
type StagedFile struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// CommitBody is the payload of commit_staged.
type CommitBody struct {
	Message string `json:"message"`
	User    string `json:"user"`
	Email   string `json:"email"`
}

// Stager is the staging area for one (repository, branch, user) triple.
type Stager struct {
	repo   *oxen.Repository
	branch string
	userID string
}

// New binds a staging area. The identifier is an opaque per-user key
// (the server derives it from the bearer token subject).
func New(repo *oxen.Repository, branch, userID string) *Stager {
	return &Stager{repo: repo, branch: branch, userID: userID}
}

func (s *Stager) stagingDir() string {
	return filepath.Join(s.repo.Control, "staging", s.branch, s.userID)
}

func (s *Stager) filesDir() string { return filepath.Join(s.stagingDir(), "files") }

func (s *Stager) filesDBPath() string { return filepath.Join(s.stagingDir(), "staged.db") }

func (s *Stager) modsDBPath() string {
	return filepath.Join(s.repo.ModsDir(), s.branch, s.userID+".db")
}

// branchIndex opens the branch tip's commit index read-only; both
// returns are nil when the branch has no commits yet.
func (s *Stager) branchIndex() (*oxen.CommitIndex, string, error) {
	tip, err := s.repo.Refs.Get(s.branch)
	if err != nil {
		if ekind.Is(err, ekind.NotFound) {
			return nil, "", nil
		}
		return nil, "", err
	}
	idx, err := s.repo.Log.OpenIndex(tip, true)
	if err != nil {
		return nil, "", err
	}
	return idx, tip, nil
}

// AddFile stores an uploaded file under the per-user staging
// directory, hashes it, and records it as pending. dir is the
// repo-relative destination directory; name the file's base name.
func (s *Stager) AddFile(dir, name string, r io.Reader) (*StagedFile, error) {
	rel := filepath.ToSlash(filepath.Join(dir, name))
	dst := filepath.Join(s.filesDir(), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, ekind.Wrap(ekind.Io, err, "create staging dir for %s", rel)
	}
	f, err := os.Create(dst)
	if err != nil {
		return nil, ekind.Wrap(ekind.Io, err, "create staged file %s", rel)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return nil, ekind.Wrap(ekind.Io, err, "write staged file %s", rel)
	}
	if err := f.Close(); err != nil {
		return nil, ekind.Wrap(ekind.Io, err, "close staged file %s", rel)
	}
	h, err := oxhash.File(dst)
	if err != nil {
		return nil, ekind.Wrap(ekind.Io, err, "hash staged file %s", rel)
	}
	sf := &StagedFile{Path: rel, Hash: h.String()}
	db, err := kvstore.Open(s.filesDBPath(), false)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	if err := db.Put(rel, sf); err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"branch": s.branch, "user": s.userID, "path": rel}).Debug("staged file upload")
	return sf, nil
}

// RmStagedFile removes one pending file upload.
func (s *Stager) RmStagedFile(path string) error {
	rel := filepath.ToSlash(path)
	db, err := kvstore.Open(s.filesDBPath(), false)
	if err != nil {
		return err
	}
	defer db.Close()
	if ok, err := db.Contains(rel); err != nil {
		return err
	} else if !ok {
		return ekind.New(ekind.NotFound, "no staged file %q", rel)
	}
	if err := db.Delete(rel); err != nil {
		return err
	}
	_ = os.Remove(filepath.Join(s.filesDir(), filepath.FromSlash(rel)))
	return nil
}

// loadTable reads the branch-tip version of a tracked tabular file.
func (s *Stager) loadTable(ctx context.Context, path string) (*tabular.Table, *oxen.CommitEntry, error) {
	idx, tip, err := s.branchIndex()
	if err != nil {
		return nil, nil, err
	}
	if idx == nil {
		return nil, nil, ekind.New(ekind.RemoteBranchNotFound, "branch %q has no commits", s.branch)
	}
	defer idx.Close()
	entry, err := idx.Get(filepath.ToSlash(path))
	if err != nil {
		return nil, nil, err
	}
	h, err := entry.HashValue()
	if err != nil {
		return nil, nil, ekind.Wrap(ekind.Corrupt, err, "entry hash for %s", path)
	}
	rc, err := s.repo.Objects.Open(ctx, h, tip)
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()
	t, err := tabular.ReadCSV(rc)
	if err != nil {
		return nil, nil, err
	}
	return t, entry, nil
}

// StageModification appends one row to a tracked tabular file. The
// row is parsed according to contentType and must match the file's
// schema exactly, else SchemaMismatch. Each accepted row gets a UUID
// and lives in mods/ until committed or deleted.
func (s *Stager) StageModification(ctx context.Context, path string, data []byte, contentType string, modType ModType) (*RowMod, error) {
	if modType != "" && modType != ModAppend {
		return nil, ekind.New(ekind.InvalidArgument, "unsupported modification type %q", modType)
	}
	t, _, err := s.loadTable(ctx, path)
	if err != nil {
		return nil, err
	}
	row, err := t.ParseRow(data, contentType)
	if err != nil {
		return nil, err
	}
	mod := &RowMod{
		UUID:      uuid.NewString(),
		Path:      filepath.ToSlash(path),
		Type:      ModAppend,
		Row:       row,
		Timestamp: time.Now().UTC(),
	}
	db, err := kvstore.Open(s.modsDBPath(), false)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	if err := db.Put(modKey(mod.Path, mod.UUID), mod); err != nil {
		return nil, err
	}
	return mod, nil
}

// modKey orders mods by path first so DiffStaged/RestoreDF are a
// prefix scan, then by UUID for uniqueness.
func modKey(path, id string) string { return path + "\x00" + id }

// listMods returns the staged mods for one path, insertion order not
// guaranteed (UUID order within the path prefix).
func (s *Stager) listMods(path string) ([]*RowMod, error) {
	db, err := kvstore.Open(s.modsDBPath(), true)
	if err != nil {
		if ekind.Is(err, ekind.Io) {
			return nil, nil // no mods database yet
		}
		return nil, err
	}
	defer db.Close()
	raw, err := db.Prefix(filepath.ToSlash(path) + "\x00")
	if err != nil {
		return nil, err
	}
	out := make([]*RowMod, 0, len(raw))
	for _, r := range raw {
		var m RowMod
		if err := json.Unmarshal(r.Value, &m); err != nil {
			return nil, ekind.Wrap(ekind.Corrupt, err, "decode staged mod %q", r.Key)
		}
		out = append(out, &m)
	}
	return out, nil
}

// DiffStaged returns the appended rows for path as a table in the
// file's schema.
func (s *Stager) DiffStaged(ctx context.Context, path string) (*tabular.Table, error) {
	t, _, err := s.loadTable(ctx, path)
	if err != nil {
		return nil, err
	}
	mods, err := s.listMods(path)
	if err != nil {
		return nil, err
	}
	diff := &tabular.Table{Schema: t.Schema}
	for _, m := range mods {
		diff.Append(m.Row)
	}
	return diff, nil
}

// DeleteMod removes one appended row by UUID.
func (s *Stager) DeleteMod(path, id string) error {
	db, err := kvstore.Open(s.modsDBPath(), false)
	if err != nil {
		return err
	}
	defer db.Close()
	key := modKey(filepath.ToSlash(path), id)
	if ok, err := db.Contains(key); err != nil {
		return err
	} else if !ok {
		return ekind.New(ekind.NotFound, "no staged modification %s for %s", id, path)
	}
	return db.Delete(key)
}

// RestoreDF removes every appended row for path.
func (s *Stager) RestoreDF(path string) error {
	db, err := kvstore.Open(s.modsDBPath(), false)
	if err != nil {
		return err
	}
	defer db.Close()
	raw, err := db.Prefix(filepath.ToSlash(path) + "\x00")
	if err != nil {
		return err
	}
	for _, r := range raw {
		if err := db.Delete(r.Key); err != nil {
			return err
		}
	}
	return nil
}

// Status summarizes the staging area, paginated over the staged-file
// table; dir narrows to a path prefix.
func (s *Stager) Status(dir string, page, size int) (*oxen.StagedData, error) {
	out := &oxen.StagedData{}
	db, err := kvstore.Open(s.filesDBPath(), true)
	if err == nil {
		defer db.Close()
		if page < 1 {
			page = 1
		}
		if size <= 0 {
			size = 100
		}
		raw, err := db.Page(page, size)
		if err != nil {
			return nil, err
		}
		prefix := filepath.ToSlash(dir)
		for _, r := range raw {
			if prefix != "" && prefix != "." && !strings.HasPrefix(r.Key, prefix) {
				continue
			}
			out.Added = append(out.Added, r.Key)
		}
	} else if !ekind.Is(err, ekind.Io) {
		return nil, err
	}
	mods, err := s.allMods()
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for _, m := range mods {
		if !seen[m.Path] {
			seen[m.Path] = true
			out.Modified = append(out.Modified, m.Path)
		}
	}
	return out, nil
}

func (s *Stager) allMods() ([]*RowMod, error) {
	db, err := kvstore.Open(s.modsDBPath(), true)
	if err != nil {
		if ekind.Is(err, ekind.Io) {
			return nil, nil
		}
		return nil, err
	}
	defer db.Close()
	var out []*RowMod
	err = db.ForEach(func(key string, value []byte) (bool, error) {
		var m RowMod
		if e := json.Unmarshal(value, &m); e != nil {
			return false, ekind.Wrap(ekind.Corrupt, e, "decode staged mod %q", key)
		}
		out = append(out, &m)
		return true, nil
	})
	return out, err
}

// CommitStaged atomically merges the per-user staging area into the
// branch: tabular files with pending row mods are re-read,
// concatenated and stored as new versions, uploaded files become
// Added/Modified entries, and the result is composed into a normal
// commit. The branch ref advances only after the new entry database
// is fully flushed; the staging area is cleared on success only.
func (s *Stager) CommitStaged(ctx context.Context, body *CommitBody) (*oxen.Commit, error) {
	if body == nil || body.Message == "" {
		return nil, ekind.New(ekind.InvalidArgument, "commit message is required")
	}
	mods, err := s.allMods()
	if err != nil {
		return nil, err
	}
	stagedFiles, err := s.listStagedFiles()
	if err != nil {
		return nil, err
	}
	if len(mods) == 0 && len(stagedFiles) == 0 {
		return nil, ekind.New(ekind.InvalidArgument, "nothing to commit")
	}

	parentIdx, parentID, err := s.branchIndex()
	if err != nil {
		return nil, err
	}
	if parentIdx != nil {
		defer parentIdx.Close()
	}

	newID := uuid.NewString()
	newIdx, err := s.repo.Log.OpenIndex(newID, false)
	if err != nil {
		return nil, err
	}
	abortIdx := func() {
		newIdx.Close()
		_ = os.RemoveAll(s.repo.HistoryDir(newID))
	}

	if parentIdx != nil {
		entries, err := parentIdx.ListAll()
		if err != nil {
			abortIdx()
			return nil, err
		}
		for _, e := range entries {
			e.CommitID = newID
			if err := newIdx.Put(e); err != nil {
				abortIdx()
				return nil, err
			}
		}
	}

	now := time.Now().UTC()

	// Rewrite each tabular file that has pending rows.
	byPath := map[string][]*RowMod{}
	for _, m := range mods {
		byPath[m.Path] = append(byPath[m.Path], m)
	}
	for path, pathMods := range byPath {
		t, _, err := s.loadTable(ctx, path)
		if err != nil {
			abortIdx()
			return nil, err
		}
		for _, m := range pathMods {
			t.Append(m.Row)
		}
		var buf bytes.Buffer
		if err := t.WriteCSV(&buf); err != nil {
			abortIdx()
			return nil, err
		}
		ext := strings.TrimPrefix(filepath.Ext(path), ".")
		h, err := s.repo.Objects.PutBytes(ctx, buf.Bytes(), newID, ext)
		if err != nil {
			abortIdx()
			return nil, err
		}
		entry := &oxen.CommitEntry{CommitID: newID, Path: path, Hash: h.String(), MtimeSec: now.Unix(), MtimeNs: int32(now.Nanosecond())}
		if err := newIdx.Put(entry); err != nil {
			abortIdx()
			return nil, err
		}
	}

	// Promote uploaded files.
	for _, sf := range stagedFiles {
		src := filepath.Join(s.filesDir(), filepath.FromSlash(sf.Path))
		ext := strings.TrimPrefix(filepath.Ext(sf.Path), ".")
		h, err := s.repo.Objects.Put(ctx, src, newID, ext)
		if err != nil {
			abortIdx()
			return nil, err
		}
		entry := &oxen.CommitEntry{CommitID: newID, Path: sf.Path, Hash: h.String(), MtimeSec: now.Unix(), MtimeNs: int32(now.Nanosecond())}
		if err := newIdx.Put(entry); err != nil {
			abortIdx()
			return nil, err
		}
	}

	if err := newIdx.Close(); err != nil {
		return nil, ekind.Wrap(ekind.Io, err, "flush commit index %s", newID)
	}

	var parents []string
	if parentID != "" {
		parents = []string{parentID}
	}
	commit := &oxen.Commit{ID: newID, Parents: parents, Message: body.Message, Author: body.User, Email: body.Email, Timestamp: now}
	if err := s.repo.Log.Append(commit); err != nil {
		return nil, err
	}
	if err := s.repo.Refs.Set(s.branch, newID); err != nil {
		return nil, err
	}

	if err := s.clear(); err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"branch": s.branch, "user": s.userID, "commit": newID}).Info("committed staged changes")
	return commit, nil
}

func (s *Stager) listStagedFiles() ([]*StagedFile, error) {
	db, err := kvstore.Open(s.filesDBPath(), true)
	if err != nil {
		if ekind.Is(err, ekind.Io) {
			return nil, nil
		}
		return nil, err
	}
	defer db.Close()
	var out []*StagedFile
	err = db.ForEach(func(key string, value []byte) (bool, error) {
		var sf StagedFile
		if e := json.Unmarshal(value, &sf); e != nil {
			return false, ekind.Wrap(ekind.Corrupt, e, "decode staged file %q", key)
		}
		out = append(out, &sf)
		return true, nil
	})
	return out, err
}

func (s *Stager) clear() error {
	if err := os.RemoveAll(s.stagingDir()); err != nil {
		return ekind.Wrap(ekind.Io, err, "clear staging dir")
	}
	if err := os.Remove(s.modsDBPath()); err != nil && !os.IsNotExist(err) {
		return ekind.Wrap(ekind.Io, err, "clear mods db")
	}
	return nil
}
