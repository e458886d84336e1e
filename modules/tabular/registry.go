// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package tabular

import (
	"encoding/json"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/oxen-ai/oxen-go/modules/kvstore"
)

// RegisteredSchema is one schema known to the repository, keyed by its
// shape hash; Name is assigned by `schemas name` and Indices by
// `schemas create_index`.
type RegisteredSchema struct {
	Hash    string   `json:"hash"`
	Name    string   `json:"name,omitempty"`
	Schema  Schema   `json:"schema"`
	Indices []string `json:"indices,omitempty"`
}

// Registry persists every schema seen by commits of tabular files, in
// its own keyspace under the control directory.
type Registry struct {
	dbPath string
}

// NewRegistry opens the registry stored at dbPath
// (<control>/schemas/schemas.db).
func NewRegistry(dbPath string) *Registry {
	return &Registry{dbPath: dbPath}
}

func (r *Registry) open(readOnly bool) (*kvstore.Store, error) {
	return kvstore.Open(r.dbPath, readOnly)
}

// Record upserts a schema by shape hash, preserving any name and
// indices already assigned to it.
func (r *Registry) Record(s *Schema) (*RegisteredSchema, error) {
	db, err := r.open(false)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	key := s.Hash()
	var existing RegisteredSchema
	if err := db.Get(key, &existing); err == nil {
		return &existing, nil
	} else if !ekind.Is(err, ekind.NotFound) {
		return nil, err
	}
	reg := &RegisteredSchema{Hash: key, Name: s.Name, Schema: *s}
	if err := db.Put(key, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// List returns every registered schema in hash order.
func (r *Registry) List() ([]*RegisteredSchema, error) {
	db, err := r.open(true)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	var out []*RegisteredSchema
	err = db.ForEach(func(key string, value []byte) (bool, error) {
		var reg RegisteredSchema
		if e := json.Unmarshal(value, &reg); e != nil {
			return false, ekind.Wrap(ekind.Corrupt, e, "decode schema %q", key)
		}
		out = append(out, &reg)
		return true, nil
	})
	return out, err
}

// Get resolves a schema by name or shape-hash prefix.
func (r *Registry) Get(nameOrHash string) (*RegisteredSchema, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}
	for _, reg := range all {
		if reg.Name == nameOrHash || reg.Hash == nameOrHash {
			return reg, nil
		}
	}
	for _, reg := range all {
		if len(nameOrHash) >= 8 && len(reg.Hash) >= len(nameOrHash) && reg.Hash[:len(nameOrHash)] == nameOrHash {
			return reg, nil
		}
	}
	return nil, ekind.New(ekind.NotFound, "no schema named %q", nameOrHash)
}

// SetName assigns a human name to a schema.
func (r *Registry) SetName(nameOrHash, name string) (*RegisteredSchema, error) {
	reg, err := r.Get(nameOrHash)
	if err != nil {
		return nil, err
	}
	reg.Name = name
	db, err := r.open(false)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	if err := db.Put(reg.Hash, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// CreateIndex marks a column of the schema as indexed; Query only
// accepts indexed columns.
func (r *Registry) CreateIndex(nameOrHash, column string) (*RegisteredSchema, error) {
	reg, err := r.Get(nameOrHash)
	if err != nil {
		return nil, err
	}
	if reg.Schema.FieldIndex(column) < 0 {
		return nil, ekind.New(ekind.InvalidArgument, "no column %q in schema %s", column, reg.Schema.String())
	}
	for _, c := range reg.Indices {
		if c == column {
			return reg, nil
		}
	}
	reg.Indices = append(reg.Indices, column)
	db, err := r.open(false)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	if err := db.Put(reg.Hash, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// Query filters t down to rows whose indexed column equals value.
func (r *Registry) Query(nameOrHash string, t *Table, column, value string) (*Table, error) {
	reg, err := r.Get(nameOrHash)
	if err != nil {
		return nil, err
	}
	indexed := false
	for _, c := range reg.Indices {
		if c == column {
			indexed = true
			break
		}
	}
	if !indexed {
		return nil, ekind.New(ekind.InvalidArgument, "column %q has no index; run create_index first", column)
	}
	return filterRows(t, column+"=="+value)
}
