// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package tabular

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/oxen-ai/oxen-go/modules/ekind"
)

// TransformOpts mirrors the df command's flags; zero values mean "no
// transform". Operations apply in the order slice, filter, columns,
// take, aggregate — the same pipeline order the query collaborator
// documents for its own option struct.
type TransformOpts struct {
	Slice     string // "start..end", row range
	Take      int    // first N rows (after slice/filter)
	Columns   string // comma-separated column projection
	Filter    string // "col op value", op in == != > < >= <=
	Aggregate string // "agg(col)", agg in count min max sum mean
}

// IsZero reports whether no transform was requested.
func (o *TransformOpts) IsZero() bool {
	return o.Slice == "" && o.Take == 0 && o.Columns == "" && o.Filter == "" && o.Aggregate == ""
}

// Apply runs the requested transforms over t and returns the result
// as a new Table; t is never mutated.
func Apply(t *Table, opts TransformOpts) (*Table, error) {
	out := &Table{Schema: t.Schema, Rows: t.Rows}
	var err error
	if opts.Slice != "" {
		if out, err = sliceRows(out, opts.Slice); err != nil {
			return nil, err
		}
	}
	if opts.Filter != "" {
		if out, err = filterRows(out, opts.Filter); err != nil {
			return nil, err
		}
	}
	if opts.Columns != "" {
		if out, err = projectColumns(out, opts.Columns); err != nil {
			return nil, err
		}
	}
	if opts.Take > 0 && opts.Take < len(out.Rows) {
		out = &Table{Schema: out.Schema, Rows: out.Rows[:opts.Take]}
	}
	if opts.Aggregate != "" {
		if out, err = aggregate(out, opts.Aggregate); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func sliceRows(t *Table, spec string) (*Table, error) {
	start, end, ok := strings.Cut(spec, "..")
	if !ok {
		return nil, ekind.New(ekind.InvalidArgument, "slice %q is not start..end", spec)
	}
	lo, err := strconv.Atoi(start)
	if err != nil {
		return nil, ekind.New(ekind.InvalidArgument, "slice start %q", start)
	}
	hi, err := strconv.Atoi(end)
	if err != nil {
		return nil, ekind.New(ekind.InvalidArgument, "slice end %q", end)
	}
	if lo < 0 || hi < lo {
		return nil, ekind.New(ekind.InvalidArgument, "slice %q out of order", spec)
	}
	if lo > len(t.Rows) {
		lo = len(t.Rows)
	}
	if hi > len(t.Rows) {
		hi = len(t.Rows)
	}
	return &Table{Schema: t.Schema, Rows: t.Rows[lo:hi]}, nil
}

func projectColumns(t *Table, spec string) (*Table, error) {
	names := strings.Split(spec, ",")
	idxs := make([]int, len(names))
	fields := make([]Field, len(names))
	for i, raw := range names {
		name := strings.TrimSpace(raw)
		j := t.Schema.FieldIndex(name)
		if j < 0 {
			return nil, ekind.New(ekind.InvalidArgument, "no column %q in schema %s", name, t.Schema.String())
		}
		idxs[i] = j
		fields[i] = t.Schema.Fields[j]
	}
	out := &Table{Schema: Schema{Fields: fields}}
	for _, row := range t.Rows {
		pr := make([]string, len(idxs))
		for i, j := range idxs {
			pr[i] = row[j]
		}
		out.Rows = append(out.Rows, pr)
	}
	return out, nil
}

var filterOps = []string{"==", "!=", ">=", "<=", ">", "<"}

func filterRows(t *Table, spec string) (*Table, error) {
	var col, op, val string
	for _, candidate := range filterOps {
		if c, v, ok := strings.Cut(spec, candidate); ok {
			col, op, val = strings.TrimSpace(c), candidate, strings.TrimSpace(v)
			break
		}
	}
	if op == "" {
		return nil, ekind.New(ekind.InvalidArgument, "filter %q is not `col op value`", spec)
	}
	j := t.Schema.FieldIndex(col)
	if j < 0 {
		return nil, ekind.New(ekind.InvalidArgument, "no column %q in schema %s", col, t.Schema.String())
	}
	numeric := t.Schema.Fields[j].Dtype == DtypeInt || t.Schema.Fields[j].Dtype == DtypeFloat
	out := &Table{Schema: t.Schema}
	for _, row := range t.Rows {
		keep, err := compareCell(row[j], op, val, numeric)
		if err != nil {
			return nil, err
		}
		if keep {
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

func compareCell(cell, op, val string, numeric bool) (bool, error) {
	if numeric {
		a, err1 := strconv.ParseFloat(cell, 64)
		b, err2 := strconv.ParseFloat(val, 64)
		if err1 == nil && err2 == nil {
			switch op {
			case "==":
				return a == b, nil
			case "!=":
				return a != b, nil
			case ">":
				return a > b, nil
			case "<":
				return a < b, nil
			case ">=":
				return a >= b, nil
			case "<=":
				return a <= b, nil
			}
		}
	}
	switch op {
	case "==":
		return cell == val, nil
	case "!=":
		return cell != val, nil
	case ">":
		return cell > val, nil
	case "<":
		return cell < val, nil
	case ">=":
		return cell >= val, nil
	case "<=":
		return cell <= val, nil
	}
	return false, ekind.New(ekind.InvalidArgument, "unsupported filter op %q", op)
}

func aggregate(t *Table, spec string) (*Table, error) {
	open := strings.IndexByte(spec, '(')
	if open < 0 || !strings.HasSuffix(spec, ")") {
		return nil, ekind.New(ekind.InvalidArgument, "aggregate %q is not agg(col)", spec)
	}
	fn := spec[:open]
	col := spec[open+1 : len(spec)-1]
	j := t.Schema.FieldIndex(col)
	if j < 0 {
		return nil, ekind.New(ekind.InvalidArgument, "no column %q in schema %s", col, t.Schema.String())
	}

	name := fmt.Sprintf("%s(%s)", fn, col)
	if fn == "count" {
		return singleCell(name, DtypeInt, strconv.Itoa(len(t.Rows))), nil
	}

	values := make([]float64, 0, len(t.Rows))
	for _, row := range t.Rows {
		v, err := strconv.ParseFloat(row[j], 64)
		if err != nil {
			return nil, ekind.New(ekind.InvalidArgument, "column %q is not numeric for %s", col, fn)
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return singleCell(name, DtypeFloat, ""), nil
	}
	var result float64
	switch fn {
	case "min":
		sort.Float64s(values)
		result = values[0]
	case "max":
		sort.Float64s(values)
		result = values[len(values)-1]
	case "sum", "mean":
		for _, v := range values {
			result += v
		}
		if fn == "mean" {
			result /= float64(len(values))
		}
	default:
		return nil, ekind.New(ekind.InvalidArgument, "unsupported aggregate %q", fn)
	}
	return singleCell(name, DtypeFloat, strconv.FormatFloat(result, 'f', -1, 64)), nil
}

func singleCell(name string, dtype Dtype, value string) *Table {
	return &Table{
		Schema: Schema{Fields: []Field{{Name: name, Dtype: dtype}}},
		Rows:   [][]string{{value}},
	}
}
