// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package kvstore is the single embedded-database façade used by every
// keyspace in the repository: per-commit entry databases, the ref
// store, the commit log, the staged-mutation table, the merge-conflict
// table and the remote row-modification pool. It wraps bbolt with
// exactly one bucket per file, so each keyspace maps to one *Store.
package kvstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	bolt "go.etcd.io/bbolt"
)

var defaultBucket = []byte("default")

// Store is a single-bucket, JSON-valued, UTF-8-keyed ordered KV
// database backed by one bbolt file. Readers may open as many
// read-only handles as they like from other processes; exactly one
// writer handle may be open at a time per file, which is how the
// Commit Index's "committer holds the sole writer handle" rule is
// enforced for free by the backing store.
type Store struct {
	db       *bolt.DB
	path     string
	readOnly bool
}

// Open opens (creating if necessary) the bbolt file at path. When
// readOnly is true the handle never creates the bucket and bolt.Open
// is given the ReadOnly option, matching "read-only handles are opened
// by readers; the committer holds the sole writer handle".
func Open(path string, readOnly bool) (*Store, error) {
	if !readOnly {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, ekind.Wrap(ekind.Io, err, "create parent dir for %s", path)
		}
	} else if _, err := os.Stat(path); os.IsNotExist(err) {
		// A keyspace nobody has written yet (fresh staged/ or merge/
		// table) still needs to be readable as empty: bootstrap the
		// file with a writer handle, then fall through to the
		// read-only open.
		w, err := Open(path, false)
		if err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, ekind.Wrap(ekind.Io, err, "bootstrap %s", path)
		}
	}
	opts := &bolt.Options{Timeout: 2 * time.Second, ReadOnly: readOnly}
	db, err := bolt.Open(path, 0o644, opts)
	if err != nil {
		return nil, ekind.Wrap(ekind.Io, err, "open kvstore %s", path)
	}
	s := &Store{db: db, path: path, readOnly: readOnly}
	if !readOnly {
		if err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(defaultBucket)
			return err
		}); err != nil {
			_ = db.Close()
			return nil, ekind.Wrap(ekind.Io, err, "create bucket in %s", path)
		}
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Path() string { return s.path }

// Put JSON-encodes value and stores it under key.
func (s *Store) Put(key string, value any) error {
	if s.readOnly {
		return ekind.New(ekind.Io, "kvstore %s is read-only", s.path)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return ekind.Wrap(ekind.Corrupt, err, "marshal value for key %q", key)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(defaultBucket)
		return b.Put([]byte(key), data)
	})
}

// Get decodes the value stored under key into out. Returns a NotFound
// ekind.Error when the key is absent.
func (s *Store) Get(key string, out any) error {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(defaultBucket)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return ekind.Wrap(ekind.Io, err, "read key %q", key)
	}
	if data == nil {
		return ekind.New(ekind.NotFound, "key %q", key)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return ekind.Wrap(ekind.Corrupt, err, "decode key %q", key)
	}
	return nil
}

// Contains reports whether key has a value, without decoding it.
func (s *Store) Contains(key string) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(defaultBucket)
		if b == nil {
			return nil
		}
		ok = b.Get([]byte(key)) != nil
		return nil
	})
	return ok, err
}

// Delete removes key. It is not an error for key to be absent.
func (s *Store) Delete(key string) error {
	if s.readOnly {
		return ekind.New(ekind.Io, "kvstore %s is read-only", s.path)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(defaultBucket)
		return b.Delete([]byte(key))
	})
}

// Count returns the number of keys in the bucket.
func (s *Store) Count() (uint64, error) {
	var n uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(defaultBucket)
		if b == nil {
			return nil
		}
		n = uint64(b.Stats().KeyN)
		return nil
	})
	return n, err
}

// RawEntry is a decoded-later key/value pair, used by the paginated
// iteration helpers so callers pick the destination type.
type RawEntry struct {
	Key   string
	Value []byte
}

// ForEach walks every key in ascending order, stopping early if fn
// returns false. Matches "ordered iteration ... deterministic, stable
// across processes" from the Commit Index contract.
func (s *Store) ForEach(fn func(key string, value []byte) (more bool, err error)) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(defaultBucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			more, err := fn(string(k), v)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
		return nil
	})
}

// Page returns the 1-based page `pageNum` of up to `pageSize` entries
// in key order: Page(1, n) returns keys 0..n.
func (s *Store) Page(pageNum, pageSize int) ([]RawEntry, error) {
	if pageNum < 1 {
		return nil, ekind.New(ekind.InvalidArgument, "page number must be >= 1, got %d", pageNum)
	}
	if pageSize <= 0 {
		return nil, ekind.New(ekind.InvalidArgument, "page size must be > 0, got %d", pageSize)
	}
	skip := (pageNum - 1) * pageSize
	var out []RawEntry
	idx := 0
	err := s.ForEach(func(key string, value []byte) (bool, error) {
		if idx < skip {
			idx++
			return true, nil
		}
		out = append(out, RawEntry{Key: key, Value: append([]byte(nil), value...)})
		idx++
		return len(out) < pageSize, nil
	})
	return out, err
}

// Prefix returns every entry whose key has the given byte prefix, in
// key order, using bbolt's cursor Seek rather than a full scan.
func (s *Store) Prefix(prefix string) ([]RawEntry, error) {
	var out []RawEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(defaultBucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			out = append(out, RawEntry{Key: string(k), Value: append([]byte(nil), v...)})
		}
		return nil
	})
	return out, err
}

// HasPrefix reports whether any key starts with prefix, without
// materializing matches — backs has_any_with_prefix.
func (s *Store) HasPrefix(prefix string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(defaultBucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		k, _ := c.Seek([]byte(prefix))
		found = k != nil && bytes.HasPrefix(k, []byte(prefix))
		return nil
	})
	return found, err
}

func (s *Store) String() string {
	return fmt.Sprintf("kvstore(%s)", s.path)
}
