// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package tabular

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const boundingBoxCSV = "file,label,min_x,min_y,width,height\n" +
	"images/0001.jpg,cat,13,17,130,210\n" +
	"images/0002.jpg,dog,22,8,90,110\n"

func readBoundingBox(t *testing.T) *Table {
	t.Helper()
	tbl, err := ReadCSV(strings.NewReader(boundingBoxCSV))
	require.NoError(t, err)
	return tbl
}

func TestReadCSVInfersSchema(t *testing.T) {
	tbl := readBoundingBox(t)
	require.Len(t, tbl.Schema.Fields, 6)
	assert.Equal(t, Field{Name: "file", Dtype: DtypeStr}, tbl.Schema.Fields[0])
	assert.Equal(t, Field{Name: "min_x", Dtype: DtypeInt}, tbl.Schema.Fields[2])
	assert.Equal(t, 2, tbl.NumRows())
}

func TestWriteCSVRoundTrip(t *testing.T) {
	tbl := readBoundingBox(t)
	var buf bytes.Buffer
	require.NoError(t, tbl.WriteCSV(&buf))
	again, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.True(t, tbl.Schema.Equal(&again.Schema))
	assert.Equal(t, tbl.Rows, again.Rows)
}

func TestRowFromJSONMatchingSchema(t *testing.T) {
	tbl := readBoundingBox(t)
	row, err := tbl.ParseRow([]byte(`{"file":"images/0003.jpg","label":"cat","min_x":1,"min_y":2,"width":3,"height":4}`), ContentTypeJSON)
	require.NoError(t, err)
	assert.Equal(t, []string{"images/0003.jpg", "cat", "1", "2", "3", "4"}, row)
}

func TestRowFromJSONSchemaMismatch(t *testing.T) {
	tbl := readBoundingBox(t)
	_, err := tbl.ParseRow([]byte(`{"file":"x.jpg","wrong_field":"cat"}`), ContentTypeJSON)
	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.SchemaMismatch))

	// Right arity, wrong key set.
	_, err = tbl.ParseRow([]byte(`{"file":"x","label":"y","min_x":1,"min_y":2,"width":3,"depth":4}`), ContentTypeJSON)
	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.SchemaMismatch))
}

func TestRowFromDelimited(t *testing.T) {
	tbl := readBoundingBox(t)
	row, err := tbl.ParseRow([]byte("x.jpg,dog,5,6,7,8\n"), ContentTypeCSV)
	require.NoError(t, err)
	assert.Equal(t, []string{"x.jpg", "dog", "5", "6", "7", "8"}, row)

	_, err = tbl.ParseRow([]byte("x.jpg,dog\n"), ContentTypeCSV)
	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.SchemaMismatch))
}

func TestSchemaEqualAndHash(t *testing.T) {
	a := readBoundingBox(t).Schema
	b := readBoundingBox(t).Schema
	assert.True(t, a.Equal(&b))
	assert.Equal(t, a.Hash(), b.Hash())

	c := Schema{Fields: []Field{{Name: "other", Dtype: DtypeStr}}}
	assert.False(t, a.Equal(&c))
	assert.NotEqual(t, a.Hash(), c.Hash())
}

func TestTransformSliceTakeColumns(t *testing.T) {
	tbl := readBoundingBox(t)
	out, err := Apply(tbl, TransformOpts{Slice: "0..1"})
	require.NoError(t, err)
	assert.Equal(t, 1, out.NumRows())

	out, err = Apply(tbl, TransformOpts{Take: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, out.NumRows())

	out, err = Apply(tbl, TransformOpts{Columns: "label,file"})
	require.NoError(t, err)
	assert.Equal(t, []string{"label", "file"}, out.Schema.FieldNames())
	assert.Equal(t, "cat", out.Rows[0][0])
}

func TestTransformFilter(t *testing.T) {
	tbl := readBoundingBox(t)
	out, err := Apply(tbl, TransformOpts{Filter: "label == cat"})
	require.NoError(t, err)
	require.Equal(t, 1, out.NumRows())
	assert.Equal(t, "images/0001.jpg", out.Rows[0][0])

	out, err = Apply(tbl, TransformOpts{Filter: "width > 100"})
	require.NoError(t, err)
	assert.Equal(t, 1, out.NumRows())

	_, err = Apply(tbl, TransformOpts{Filter: "nope == 1"})
	assert.Error(t, err)
}

func TestTransformAggregate(t *testing.T) {
	tbl := readBoundingBox(t)
	out, err := Apply(tbl, TransformOpts{Aggregate: "count(label)"})
	require.NoError(t, err)
	assert.Equal(t, "2", out.Rows[0][0])

	out, err = Apply(tbl, TransformOpts{Aggregate: "sum(width)"})
	require.NoError(t, err)
	assert.Equal(t, "220", out.Rows[0][0])

	out, err = Apply(tbl, TransformOpts{Aggregate: "mean(min_x)"})
	require.NoError(t, err)
	assert.Equal(t, "17.5", out.Rows[0][0])

	_, err = Apply(tbl, TransformOpts{Aggregate: "median(width)"})
	assert.Error(t, err)
}

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "schemas.db"))
	schema := readBoundingBox(t).Schema

	rec, err := reg.Record(&schema)
	require.NoError(t, err)
	assert.Equal(t, schema.Hash(), rec.Hash)

	// Recording again is a no-op returning the same record.
	again, err := reg.Record(&schema)
	require.NoError(t, err)
	assert.Equal(t, rec.Hash, again.Hash)

	named, err := reg.SetName(rec.Hash, "bounding_box")
	require.NoError(t, err)
	assert.Equal(t, "bounding_box", named.Name)

	byName, err := reg.Get("bounding_box")
	require.NoError(t, err)
	assert.Equal(t, rec.Hash, byName.Hash)

	_, err = reg.Get("missing")
	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.NotFound))
}

func TestRegistryQueryRequiresIndex(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "schemas.db"))
	tbl := readBoundingBox(t)
	rec, err := reg.Record(&tbl.Schema)
	require.NoError(t, err)

	_, err = reg.Query(rec.Hash, tbl, "label", "cat")
	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.InvalidArgument))

	_, err = reg.CreateIndex(rec.Hash, "label")
	require.NoError(t, err)
	out, err := reg.Query(rec.Hash, tbl, "label", "cat")
	require.NoError(t, err)
	assert.Equal(t, 1, out.NumRows())

	indices, err := reg.Get(rec.Hash)
	require.NoError(t, err)
	assert.Equal(t, []string{"label"}, indices.Indices)
}
