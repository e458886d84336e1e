// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package oxen implements the local commit index and content-addressed
// object store at the heart of Oxen: the on-disk layout mapping a
// working-tree path, at a given commit, to an immutable blob, and the
// stage/commit/checkout/merge algorithms over that map.
package oxen

import (
	"context"
	"os"
	"path/filepath"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/oxen-ai/oxen-go/modules/objectstore"
	"github.com/sirupsen/logrus"
)

// ControlDir is the hidden directory name every Repository owns
// exclusively, analogous to .git.
const ControlDir = ".oxen"

var log = logrus.WithField("component", "oxen.repository")

// Repository is the root value owning all on-disk state under
// <root>/.oxen — refs, commit log, per-commit entry databases, the
// object store, staged mutations and merge state. All mutating local
// operations on one Repository are serialized by WithLock.
type Repository struct {
	Root    string // working tree root
	Control string // <root>/.oxen
	Config  *RepoConfig

	Objects *objectstore.Store
	Refs    *RefStore
	Log     *CommitLog
	Stage   *Stager

	lock  *lockFile
	cache *entryCache
}

// CachedEntry fetches idx.Get(path), transparently serving repeated
// lookups of hot paths (e.g. during checkout/merge over large trees)
// from the in-process LRU instead of re-reading the commit index.
func (r *Repository) CachedEntry(idx *CommitIndex, path string) (*CommitEntry, error) {
	if r.cache == nil {
		c, err := newEntryCache()
		if err == nil {
			r.cache = c
		}
	}
	if e, ok := r.cache.Get(idx.CommitID(), path); ok {
		return e, nil
	}
	e, err := idx.Get(path)
	if err != nil {
		return nil, err
	}
	r.cache.Set(idx.CommitID(), path, e)
	return e, nil
}

func controlPaths(control string) (refs, commits, history, versions, staged, merge, cache, mods, config string) {
	return filepath.Join(control, "refs"),
		filepath.Join(control, "commits"),
		filepath.Join(control, "history"),
		filepath.Join(control, "versions"),
		filepath.Join(control, "staged"),
		filepath.Join(control, "merge"),
		filepath.Join(control, "cache"),
		filepath.Join(control, "mods"),
		filepath.Join(control, "config.toml")
}

// Init creates a brand-new repository rooted at root. It refuses if
// root already contains a control directory.
func Init(root, name string) (*Repository, error) {
	control := filepath.Join(root, ControlDir)
	if _, err := os.Stat(control); err == nil {
		return nil, ekind.New(ekind.AlreadyExists, "repository already initialized at %s", root)
	}
	refsDir, commitsDir, historyDir, versionsDir, stagedDir, mergeDir, cacheDir, modsDir, cfgPath := controlPaths(control)
	for _, d := range []string{control, refsDir, commitsDir, historyDir, versionsDir, stagedDir, mergeDir, cacheDir, modsDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, ekind.Wrap(ekind.Io, err, "create %s", d)
		}
	}
	cfg := newRepoConfig(name)
	if err := saveRepoConfig(cfgPath, cfg); err != nil {
		return nil, err
	}
	if err := writeHEAD(control, "main", ""); err != nil {
		return nil, err
	}
	log.WithField("root", root).Info("initialized repository")
	return Open(root)
}

// Open opens an existing repository rooted exactly at root; it does
// not search parent directories (callers that need that discovery
// call FindRoot first).
func Open(root string) (*Repository, error) {
	control := filepath.Join(root, ControlDir)
	if fi, err := os.Stat(control); err != nil || !fi.IsDir() {
		return nil, ekind.New(ekind.NotFound, "not an oxen repository: %s", root)
	}
	_, commitsDir, historyDir, versionsDir, stagedDir, mergeDir, _, _, cfgPath := controlPaths(control)
	cfg, err := loadRepoConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	backend, err := openBackend(cfg, versionsDir)
	if err != nil {
		return nil, err
	}
	repo := &Repository{
		Root:    root,
		Control: control,
		Config:  cfg,
		Objects: objectstore.New(backend),
		lock:    newLockFile(filepath.Join(control, "oxen.lock")),
	}
	repo.Refs = newRefStore(filepath.Join(control, "refs", "refs.db"), control)
	repo.Log = newCommitLog(filepath.Join(commitsDir, "commits.db"), historyDir)
	repo.Stage = newStager(repo, filepath.Join(stagedDir, "staged.db"))
	_ = mergeDir
	return repo, nil
}

// openBackend resolves the [backend] table of config.toml to a blob
// backend. The default (absent or "fs") is the local versions/ pool.
func openBackend(cfg *RepoConfig, versionsDir string) (objectstore.Backend, error) {
	switch cfg.Backend.Type {
	case "", "fs":
		return objectstore.NewFSBackend(versionsDir), nil
	case "s3":
		if cfg.Backend.Bucket == "" {
			return nil, ekind.New(ekind.InvalidArgument, "backend type s3 requires a bucket")
		}
		return objectstore.NewS3Backend(context.Background(), cfg.Backend.Bucket, cfg.Backend.Prefix, cfg.Backend.Region)
	default:
		return nil, ekind.New(ekind.InvalidArgument, "unknown object-store backend %q", cfg.Backend.Type)
	}
}

// SaveConfig persists the repository's config.toml, used after
// mutations such as adding a remote (`config --set-remote`, clone).
func (r *Repository) SaveConfig() error {
	return saveRepoConfig(filepath.Join(r.Control, "config.toml"), r.Config)
}

// FindRoot walks up from start looking for a .oxen control directory,
// the same discovery algorithm git uses for its own .git directory.
func FindRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", ekind.Wrap(ekind.Io, err, "resolve %s", start)
	}
	for {
		if fi, err := os.Stat(filepath.Join(dir, ControlDir)); err == nil && fi.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ekind.New(ekind.NotFound, "not an oxen repository (or any parent up to /)")
		}
		dir = parent
	}
}

// HistoryDir is the per-commit entry database directory for id.
func (r *Repository) HistoryDir(id string) string {
	return filepath.Join(r.Control, "history", id)
}

// MergeDir is the conflict database directory.
func (r *Repository) MergeDir() string {
	return filepath.Join(r.Control, "merge")
}

// ModsDir is the per-path row-modification pool for the remote stager.
func (r *Repository) ModsDir() string {
	return filepath.Join(r.Control, "mods")
}

// WithLock runs fn while holding the repository's advisory lock,
// serializing it against every other local mutating operation
// (concurrent commit/push/pull/add). Read-only operations across
// processes never need this.
func (r *Repository) WithLock(fn func() error) error {
	if err := r.lock.Acquire(); err != nil {
		return err
	}
	defer r.lock.Release()
	return fn()
}
