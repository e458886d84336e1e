// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package tabular

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/oxen-ai/oxen-go/modules/ekind"
)

// Table is an in-memory frame: a schema plus rows of string cells.
// Cells keep their textual form; dtypes describe how to interpret
// them, which is all the df transforms need.
type Table struct {
	Schema Schema
	Rows   [][]string
}

// ContentType selects how an appended row payload is parsed.
const (
	ContentTypeJSON = "application/json"
	ContentTypeCSV  = "text/csv"
)

// ReadCSV loads a delimited file with a header row, inferring a dtype
// per column from the data rows.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, ekind.Wrap(ekind.Corrupt, err, "parse csv")
	}
	if len(records) == 0 {
		return nil, ekind.New(ekind.Corrupt, "csv has no header row")
	}
	header := records[0]
	rows := records[1:]
	t := &Table{Rows: rows}
	t.Schema.Fields = make([]Field, len(header))
	for i, name := range header {
		samples := make([]string, 0, len(rows))
		for _, row := range rows {
			if i < len(row) {
				samples = append(samples, row[i])
			}
		}
		t.Schema.Fields[i] = Field{Name: name, Dtype: inferDtype(samples)}
	}
	for n, row := range rows {
		if len(row) != len(header) {
			return nil, ekind.New(ekind.Corrupt, "csv row %d has %d cells, header has %d", n+1, len(row), len(header))
		}
	}
	return t, nil
}

// WriteCSV writes the table back out with its header row.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Schema.FieldNames()); err != nil {
		return ekind.Wrap(ekind.Io, err, "write csv header")
	}
	for _, row := range t.Rows {
		if err := cw.Write(row); err != nil {
			return ekind.Wrap(ekind.Io, err, "write csv row")
		}
	}
	cw.Flush()
	return cw.Error()
}

// ParseRow decodes one appended-row payload against the table's
// schema, dispatching on contentType.
func (t *Table) ParseRow(data []byte, contentType string) ([]string, error) {
	switch {
	case strings.HasPrefix(contentType, ContentTypeJSON):
		return t.Schema.RowFromJSON(data)
	case strings.HasPrefix(contentType, ContentTypeCSV), contentType == "text/plain":
		return t.Schema.RowFromDelimited(string(data))
	default:
		return nil, ekind.New(ekind.InvalidArgument, "unsupported content type %q", contentType)
	}
}

// Append adds a pre-validated row.
func (t *Table) Append(row []string) {
	t.Rows = append(t.Rows, row)
}

// NumRows returns the data row count (header excluded).
func (t *Table) NumRows() int { return len(t.Rows) }

// String renders a compact fixed-width preview, the format the df and
// schemas query commands print.
func (t *Table) String() string {
	widths := make([]int, len(t.Schema.Fields))
	for i, f := range t.Schema.Fields {
		widths[i] = len(f.Name)
	}
	for _, row := range t.Rows {
		for i, c := range row {
			if i < len(widths) && len(c) > widths[i] {
				widths[i] = len(c)
			}
		}
	}
	var sb strings.Builder
	writeRow := func(cells []string) {
		for i, c := range cells {
			if i > 0 {
				sb.WriteString("  ")
			}
			fmt.Fprintf(&sb, "%-*s", widths[i], c)
		}
		sb.WriteByte('\n')
	}
	writeRow(t.Schema.FieldNames())
	for _, row := range t.Rows {
		writeRow(row)
	}
	fmt.Fprintf(&sb, "shape: (%d, %d)\n", len(t.Rows), len(t.Schema.Fields))
	return sb.String()
}
