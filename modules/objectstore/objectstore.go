// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package objectstore is the content-addressed blob pool backing
// Oxen's versions/ directory: it turns a working-tree file into an
// immutable, deduplicated blob keyed by its oxhash, and retrieves it
// later by (hash, commit id). It is intentionally backend-agnostic —
// the filesystem backend is the default, and an S3 backend can be
// swapped in via config.toml for repositories whose versions/ pool
// lives in object storage.
package objectstore

import (
	"context"
	"io"

	"github.com/oxen-ai/oxen-go/modules/oxhash"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "oxen.object-store")

// Backend is the minimal contract the Object Store needs from wherever
// blobs physically live.
type Backend interface {
	// Exists reports whether any version of hash has been stored.
	Exists(ctx context.Context, hash oxhash.Hash) (bool, error)
	// Write stores the content read from r under (hash, commitID),
	// preserving ext so readers can dispatch on file type without
	// re-reading the index. Write does not check for an existing
	// version of hash; Store calls it only after Exists has reported
	// the hash absent, which is where deduplication happens.
	Write(ctx context.Context, hash oxhash.Hash, commitID, ext string, r io.Reader) error
	// Open returns a readable for the blob stored under (hash, commitID).
	Open(ctx context.Context, hash oxhash.Hash, commitID string) (io.ReadCloser, error)
	// Size returns the stored blob's length in bytes.
	Size(ctx context.Context, hash oxhash.Hash, commitID string) (int64, error)
	// Ext returns the stored blob's preserved file extension (without
	// the leading dot), the type-dispatch hint baked into the on-disk
	// format.
	Ext(ctx context.Context, hash oxhash.Hash, commitID string) (string, error)
}

// Store is the Object Store proper: it owns the hashing pipeline in
// front of a Backend.
type Store struct {
	backend Backend
}

func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// Put streams path through the hasher and, iff no blob with the
// resulting hash exists yet, stores it via the backend. Idempotent:
// calling Put twice with identical content performs the hash but
// skips the store.
func (s *Store) Put(ctx context.Context, path, commitID, ext string) (oxhash.Hash, error) {
	h, err := oxhash.File(path)
	if err != nil {
		return oxhash.Zero, err
	}
	exists, err := s.backend.Exists(ctx, h)
	if err != nil {
		return oxhash.Zero, err
	}
	if exists {
		return h, nil
	}
	f, err := openFile(path)
	if err != nil {
		return oxhash.Zero, err
	}
	defer f.Close()
	if err := s.backend.Write(ctx, h, commitID, ext, f); err != nil {
		return oxhash.Zero, err
	}
	log.WithFields(logrus.Fields{"hash": h.String(), "commit": commitID}).Debug("stored new blob version")
	return h, nil
}

// PutBytes stores an in-memory buffer directly, used by the Remote
// Stager when it rewrites a tabular file after appending staged rows.
func (s *Store) PutBytes(ctx context.Context, data []byte, commitID, ext string) (oxhash.Hash, error) {
	h := oxhash.Bytes(data)
	exists, err := s.backend.Exists(ctx, h)
	if err != nil {
		return oxhash.Zero, err
	}
	if exists {
		return h, nil
	}
	if err := s.backend.Write(ctx, h, commitID, ext, newByteReader(data)); err != nil {
		return oxhash.Zero, err
	}
	return h, nil
}

// WriteKnownHash stores r under an already-known hash — used when a
// transfer has already verified the content's identity against the
// remote (downloaded blobs) and re-hashing on arrival would be pure
// overhead.
func (s *Store) WriteKnownHash(ctx context.Context, h oxhash.Hash, commitID, ext string, r io.Reader) error {
	exists, err := s.backend.Exists(ctx, h)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.backend.Write(ctx, h, commitID, ext, r)
}

func (s *Store) Exists(ctx context.Context, h oxhash.Hash) (bool, error) {
	return s.backend.Exists(ctx, h)
}

func (s *Store) Open(ctx context.Context, h oxhash.Hash, commitID string) (io.ReadCloser, error) {
	return s.backend.Open(ctx, h, commitID)
}

func (s *Store) Size(ctx context.Context, h oxhash.Hash, commitID string) (int64, error) {
	return s.backend.Size(ctx, h, commitID)
}

func (s *Store) Ext(ctx context.Context, h oxhash.Hash, commitID string) (string, error) {
	return s.backend.Ext(ctx, h, commitID)
}
