package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/tidwall/gjson"
)

var ErrRecordNotObject = errors.New("record is not a json object")

// Table is a loosely-typed result set. Columns hold the union of record keys
// in the order they were first seen; every row has len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// FromRecords flattens JSON objects into a Table. Keys missing from a record
// become empty cells. Nested objects and arrays are kept as raw JSON.
func FromRecords(records []gjson.Result) (*Table, error) {
	index := make(map[string]int)
	var columns []string
	cells := make([]map[int]string, 0, len(records))

	for i, rec := range records {
		if !rec.IsObject() {
			return nil, fmt.Errorf("%w: row %d is %s", ErrRecordNotObject, i, kind(rec))
		}
		row := make(map[int]string)
		rec.ForEach(func(key, value gjson.Result) bool {
			name := key.String()
			pos, ok := index[name]
			if !ok {
				pos = len(columns)
				index[name] = pos
				columns = append(columns, name)
			}
			row[pos] = cell(value)
			return true
		})
		cells = append(cells, row)
	}

	t := &Table{Columns: columns, Rows: make([][]string, len(cells))}
	for i, row := range cells {
		out := make([]string, len(columns))
		for pos, v := range row {
			out[pos] = v
		}
		t.Rows[i] = out
	}
	return t, nil
}

// Len reports the number of data rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// WriteCSV writes a header line followed by one line per row.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	return nil
}

func cell(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.String:
		return v.String()
	default:
		return v.Raw
	}
}

func kind(v gjson.Result) string {
	switch {
	case v.IsArray():
		return "an array"
	case v.Type == gjson.Null:
		return "null"
	case v.Type == gjson.String:
		return "a string"
	case v.Type == gjson.Number:
		return "a number"
	default:
		return "a boolean"
	}
}
