// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package tabular is the stable schema contract between the core and
// the tabular-data collaborator: loading delimited files, validating
// appended rows against a schema, and the small set of frame
// transforms the df command exposes. The query/aggregation engine
// behind richer transforms is an external collaborator; this package
// only owns the contract it is consumed through.
package tabular

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/oxen-ai/oxen-go/modules/oxhash"
)

// Dtype is the inferred column type.
type Dtype string

const (
	DtypeStr   Dtype = "str"
	DtypeInt   Dtype = "i64"
	DtypeFloat Dtype = "f64"
	DtypeBool  Dtype = "bool"
)

// Field is one named, typed column.
type Field struct {
	Name  string `json:"name"`
	Dtype Dtype  `json:"dtype"`
}

// Schema is an ordered list of fields. Two schemas are equal iff their
// field names, order and dtypes all match.
type Schema struct {
	Name   string  `json:"name,omitempty"`
	Fields []Field `json:"fields"`
}

// Hash returns a stable identity for the schema's shape (names +
// dtypes, order-sensitive), used as the registry key for every
// schema, named or not.
func (s *Schema) Hash() string {
	var sb strings.Builder
	for _, f := range s.Fields {
		sb.WriteString(f.Name)
		sb.WriteByte(':')
		sb.WriteString(string(f.Dtype))
		sb.WriteByte('\n')
	}
	return oxhash.Bytes([]byte(sb.String())).String()
}

// Equal reports field-for-field equality, ignoring the registry name.
func (s *Schema) Equal(other *Schema) bool {
	if other == nil || len(s.Fields) != len(other.Fields) {
		return false
	}
	for i, f := range s.Fields {
		if other.Fields[i].Name != f.Name || other.Fields[i].Dtype != f.Dtype {
			return false
		}
	}
	return true
}

// FieldNames returns the column names in order.
func (s *Schema) FieldNames() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// FieldIndex returns the position of a named column, or -1.
func (s *Schema) FieldIndex(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func (s *Schema) String() string {
	parts := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		parts[i] = fmt.Sprintf("%s:%s", f.Name, f.Dtype)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// inferDtype picks the narrowest dtype that can hold every sample.
func inferDtype(samples []string) Dtype {
	isInt, isFloat, isBool := true, true, true
	seen := false
	for _, v := range samples {
		if v == "" {
			continue
		}
		seen = true
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			isInt = false
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			isFloat = false
		}
		if v != "true" && v != "false" {
			isBool = false
		}
	}
	switch {
	case !seen:
		return DtypeStr
	case isBool:
		return DtypeBool
	case isInt:
		return DtypeInt
	case isFloat:
		return DtypeFloat
	default:
		return DtypeStr
	}
}

// RowFromJSON parses one JSON object into a row ordered by schema. The
// object's key set must equal the schema's field set exactly — extra
// or missing keys fail with SchemaMismatch, the contract the remote
// stager's stage_modification enforces.
func (s *Schema) RowFromJSON(data []byte) ([]string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, ekind.Wrap(ekind.InvalidArgument, err, "parse row as JSON object")
	}
	if len(obj) != len(s.Fields) {
		return nil, schemaMismatch(s, keysOf(obj))
	}
	row := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		raw, ok := obj[f.Name]
		if !ok {
			return nil, schemaMismatch(s, keysOf(obj))
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, ekind.Wrap(ekind.InvalidArgument, err, "decode field %q", f.Name)
		}
		row[i] = cellString(v)
	}
	return row, nil
}

// RowFromDelimited parses one comma-separated line into a row; the
// arity must equal the schema's.
func (s *Schema) RowFromDelimited(line string) ([]string, error) {
	cells := strings.Split(strings.TrimRight(line, "\r\n"), ",")
	if len(cells) != len(s.Fields) {
		return nil, ekind.New(ekind.SchemaMismatch,
			"row has %d columns, schema %s has %d", len(cells), s.String(), len(s.Fields))
	}
	return cells, nil
}

func schemaMismatch(s *Schema, got []string) error {
	sort.Strings(got)
	return ekind.New(ekind.SchemaMismatch,
		"row fields %v do not match schema %s", got, s.String())
}

func keysOf(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}
