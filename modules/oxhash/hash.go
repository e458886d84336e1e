// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package oxhash provides the single strong content-hash algorithm used
// everywhere in the repository: blob identity, commit-entry identity,
// and the input material for commit ids. Changing the algorithm is a
// breaking on-disk format change, so it lives in exactly one place.
package oxhash

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

const (
	// Size is the digest length in bytes (256-bit truncation of BLAKE3).
	Size = 32
	// HexSize is the length of the hex-encoded string form.
	HexSize = Size * 2
)

// Hash is a fixed-size BLAKE3-256 digest, hex-encoded wherever it
// crosses a serialization boundary (CommitEntry.Hash, Commit ids are a
// separate UUID space, never confusable by shape).
type Hash [Size]byte

// Zero is the well-known zero value, used to mean "no content".
var Zero Hash

func (h Hash) IsZero() bool { return h == Zero }

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Parse decodes a hex string into a Hash, validating its length.
func Parse(s string) (Hash, error) {
	if len(s) != HexSize {
		return Zero, fmt.Errorf("oxhash: %q is not a valid content hash", s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Zero, fmt.Errorf("oxhash: %q is not valid hex: %w", s, err)
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// MustParse is Parse that panics on malformed input; reserved for
// constants and tests.
func MustParse(s string) Hash {
	h, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return h
}

// Hasher wraps the BLAKE3 streaming hasher.
type Hasher struct {
	hash.Hash
}

// New returns a fresh streaming hasher.
func New() Hasher {
	return Hasher{Hash: blake3.New()}
}

func (h Hasher) Sum() (out Hash) {
	copy(out[:], h.Hash.Sum(nil))
	return
}

// Bytes hashes an in-memory buffer in one shot.
func Bytes(b []byte) Hash {
	h := New()
	_, _ = h.Write(b)
	return h.Sum()
}

// File streams path through the hasher without loading it into memory,
// the fast path used by the Object Store and the Stager when the mtime
// comparison misses.
func File(path string) (Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return Zero, err
	}
	defer f.Close()
	return Reader(f)
}

// Reader streams r through the hasher.
func Reader(r io.Reader) (Hash, error) {
	h := New()
	br := bufio.NewReaderSize(r, 256*1024)
	if _, err := io.Copy(h, br); err != nil {
		return Zero, err
	}
	return h.Sum(), nil
}

// Prefix returns the two-hex-digit fan-out directory used by
// versions/<prefix>/<rest>/... on-disk layout.
func (h Hash) Prefix() string { return h.String()[:2] }

// Rest returns the remainder of the hex digest after the fan-out prefix.
func (h Hash) Rest() string { return h.String()[2:] }
