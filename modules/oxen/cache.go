// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package oxen

import (
	"github.com/dgraph-io/ristretto/v2"
)

// entryCache is an LRU over (commit_id, path) -> *CommitEntry. The
// cache is process-local and rebuilt on first use; it never needs to
// survive a restart.
type entryCache struct {
	c *ristretto.Cache[string, *CommitEntry]
}

func newEntryCache() (*entryCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, *CommitEntry]{
		NumCounters: 100_000,
		MaxCost:     100_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &entryCache{c: c}, nil
}

func cacheKey(commitID, path string) string { return commitID + "\x00" + path }

func (e *entryCache) Get(commitID, path string) (*CommitEntry, bool) {
	if e == nil || e.c == nil {
		return nil, false
	}
	return e.c.Get(cacheKey(commitID, path))
}

func (e *entryCache) Set(commitID, path string, entry *CommitEntry) {
	if e == nil || e.c == nil {
		return
	}
	e.c.Set(cacheKey(commitID, path), entry, 1)
}

func (e *entryCache) Close() {
	if e != nil && e.c != nil {
		e.c.Close()
	}
}
