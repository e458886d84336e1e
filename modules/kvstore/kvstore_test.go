// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package kvstore

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Put("k", "v"))

	var got string
	require.NoError(t, s.Get("k", &got))
	assert.Equal(t, "v", got)

	ok, err := s.Contains("k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete("k"))
	err = s.Get("k", &got)
	assert.Error(t, err)
}

func TestOrderedIteration(t *testing.T) {
	s := openTemp(t)
	for _, k := range []string{"b", "a", "c"} {
		require.NoError(t, s.Put(k, k))
	}
	var keys []string
	require.NoError(t, s.ForEach(func(key string, _ []byte) (bool, error) {
		keys = append(keys, key)
		return true, nil
	}))
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestPageIsOneBased(t *testing.T) {
	s := openTemp(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Put(fmt.Sprintf("k%02d", i), i))
	}
	page, err := s.Page(1, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "k00", page[0].Key)

	page, err = s.Page(2, 3)
	require.NoError(t, err)
	assert.Equal(t, "k03", page[0].Key)

	_, err = s.Page(0, 3)
	assert.Error(t, err)
}

func TestPrefixScan(t *testing.T) {
	s := openTemp(t)
	for _, k := range []string{"dir/a", "dir/b", "other/c"} {
		require.NoError(t, s.Put(k, k))
	}
	raw, err := s.Prefix("dir/")
	require.NoError(t, err)
	require.Len(t, raw, 2)

	ok, err := s.HasPrefix("dir/")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.HasPrefix("nope/")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadOnlyBootstrapsMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.db")
	s, err := Open(path, true)
	require.NoError(t, err)
	defer s.Close()

	n, err := s.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Error(t, s.Put("k", "v"))
}

func TestCount(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Put("a", 1))
	require.NoError(t, s.Put("b", 2))
	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}
