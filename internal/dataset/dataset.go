package dataset

import (
	"fmt"
	"strconv"
)

type DType string

const (
	DTypeInt64    DType = "int64"
	DTypeFloat64  DType = "float64"
	DTypeBool     DType = "bool"
	DTypeDatetime DType = "datetime64[ns]"
	DTypeObject   DType = "object"
)

type Column struct {
	Name  string `json:"name"`
	DType DType  `json:"dtype"`
}

// Dataset is an immutable in-memory table. Cells hold int64, float64, bool,
// time.Time, string or nil for missing values.
type Dataset struct {
	Columns []Column
	Rows    [][]any
}

func New(columns []Column, rows [][]any) (*Dataset, error) {
	seen := make(map[string]struct{}, len(columns))
	for _, column := range columns {
		if _, ok := seen[column.Name]; ok {
			return nil, fmt.Errorf("duplicate column name %q", column.Name)
		}
		seen[column.Name] = struct{}{}
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d values, want %d", i, len(row), len(columns))
		}
	}
	return &Dataset{Columns: columns, Rows: rows}, nil
}

func FromRows(names []string, rows [][]any) (*Dataset, error) {
	names = dedupeNames(names)
	normalized := make([][]any, len(rows))
	for i, row := range rows {
		if len(row) != len(names) {
			return nil, fmt.Errorf("row %d has %d values, want %d", i, len(row), len(names))
		}
		normalized[i] = normalizeValues(row)
	}
	columns := make([]Column, len(names))
	for col, name := range names {
		dtype := inferColumn(normalized, col)
		columns[col] = Column{Name: name, DType: dtype}
	}
	return &Dataset{Columns: columns, Rows: normalized}, nil
}

func (d *Dataset) NumRows() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

func (d *Dataset) NumCols() int {
	if d == nil {
		return 0
	}
	return len(d.Columns)
}

func (d *Dataset) Shape() (int, int) {
	return d.NumRows(), d.NumCols()
}

func (d *Dataset) ColumnNames() []string {
	if d == nil {
		return nil
	}
	names := make([]string, len(d.Columns))
	for i, column := range d.Columns {
		names[i] = column.Name
	}
	return names
}

func (d *Dataset) Head(n int) *Dataset {
	if d == nil {
		return nil
	}
	if n < 0 {
		n = 0
	}
	if n > len(d.Rows) {
		n = len(d.Rows)
	}
	columns := make([]Column, len(d.Columns))
	copy(columns, d.Columns)
	return &Dataset{Columns: columns, Rows: d.Rows[:n:n]}
}

func dedupeNames(names []string) []string {
	out := make([]string, len(names))
	used := make(map[string]int, len(names))
	for i, name := range names {
		candidate := name
		if candidate == "" {
			candidate = "Unnamed: " + strconv.Itoa(i)
		}
		for {
			count, ok := used[candidate]
			if !ok {
				break
			}
			used[candidate] = count + 1
			candidate = candidate + "." + strconv.Itoa(count+1)
		}
		used[candidate] = 0
		out[i] = candidate
	}
	return out
}
