// Package results provides the column-oriented table returned by every
// analysis path. Columns map names to equal-length value lists; the column
// name order is significant and preserved across JSON round-trips.
package results

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Table is a small column-oriented result set. All columns have equal length.
type Table struct {
	names []string
	data  map[string][]any
}

// New constructs an empty table with the given column order.
func New(names ...string) *Table {
	t := &Table{data: make(map[string][]any, len(names))}
	for _, name := range names {
		t.AddColumn(name)
	}
	return t
}

// Columns returns the ordered column names.
func (t *Table) Columns() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if len(t.names) == 0 {
		return 0
	}
	return len(t.data[t.names[0]])
}

// AddColumn appends a new empty column. Adding to a non-empty table backfills
// the column with nils so lengths stay equal.
func (t *Table) AddColumn(name string) {
	if _, ok := t.data[name]; ok {
		return
	}
	if t.data == nil {
		t.data = make(map[string][]any)
	}
	n := t.Len()
	col := make([]any, n)
	t.names = append(t.names, name)
	t.data[name] = col
}

// PrependConstant inserts a column at the front filled with the same value in
// every row. Used to stamp aoi_id/aoi_type onto per-AOI partial results.
func (t *Table) PrependConstant(name string, value any) {
	if _, ok := t.data[name]; ok {
		return
	}
	n := t.Len()
	col := make([]any, n)
	for i := range col {
		col[i] = value
	}
	t.names = append([]string{name}, t.names...)
	t.data[name] = col
}

// Column returns the values for name, or nil if absent.
func (t *Table) Column(name string) []any { return t.data[name] }

// AppendRow adds one row. Missing columns are filled with nil; unknown keys
// are rejected so schema drift fails loudly.
func (t *Table) AppendRow(row map[string]any) error {
	for key := range row {
		if _, ok := t.data[key]; !ok {
			return fmt.Errorf("results: unknown column %q", key)
		}
	}
	for _, name := range t.names {
		t.data[name] = append(t.data[name], row[name])
	}
	return nil
}

// Row returns the i-th row as a name→value map.
func (t *Table) Row(i int) map[string]any {
	row := make(map[string]any, len(t.names))
	for _, name := range t.names {
		row[name] = t.data[name][i]
	}
	return row
}

// Concat appends all rows of other. Column sets must match exactly; ordering
// follows the receiver.
func (t *Table) Concat(other *Table) error {
	if other == nil || other.Len() == 0 {
		if other != nil && len(other.names) != 0 && !sameColumns(t.names, other.names) {
			return fmt.Errorf("results: column mismatch %v vs %v", t.names, other.names)
		}
		return nil
	}
	if !sameColumns(t.names, other.names) {
		return fmt.Errorf("results: column mismatch %v vs %v", t.names, other.names)
	}
	for _, name := range t.names {
		t.data[name] = append(t.data[name], other.data[name]...)
	}
	return nil
}

// SortBy orders rows by the given columns ascending. Numeric values compare
// numerically, strings lexically; nil sorts first.
func (t *Table) SortBy(names ...string) {
	n := t.Len()
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		for _, name := range names {
			col := t.data[name]
			if col == nil {
				continue
			}
			if c := compareValues(col[idx[a]], col[idx[b]]); c != 0 {
				return c < 0
			}
		}
		return false
	})
	for _, name := range t.names {
		col := t.data[name]
		out := make([]any, n)
		for i, j := range idx {
			out[i] = col[j]
		}
		t.data[name] = out
	}
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, name := range a {
		set[name] = struct{}{}
	}
	for _, name := range b {
		if _, ok := set[name]; !ok {
			return false
		}
	}
	return true
}

func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	fa, aNum := asFloat(a)
	fb, bNum := asFloat(b)
	if aNum && bNum {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	sa := fmt.Sprint(a)
	sb := fmt.Sprint(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

type tableJSON struct {
	Columns []string         `json:"columns"`
	Data    map[string][]any `json:"data"`
}

// MarshalJSON encodes the table with explicit column ordering.
func (t *Table) MarshalJSON() ([]byte, error) {
	return json.Marshal(tableJSON{Columns: t.names, Data: t.data})
}

// UnmarshalJSON restores a table; numeric values decode as float64.
func (t *Table) UnmarshalJSON(b []byte) error {
	var raw tableJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	t.names = raw.Columns
	t.data = raw.Data
	if t.data == nil {
		t.data = make(map[string][]any)
	}
	for _, name := range t.names {
		if _, ok := t.data[name]; !ok {
			t.data[name] = make([]any, t.Len())
		}
	}
	n := -1
	for _, name := range t.names {
		if n == -1 {
			n = len(t.data[name])
			continue
		}
		if len(t.data[name]) != n {
			return fmt.Errorf("results: ragged column %q", name)
		}
	}
	return nil
}
