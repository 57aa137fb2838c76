package sqlitebind

import (
	"slices"
	"unsafe"
)

// TablePolicy selects how much of a result GetTable materializes.
// A positive value N keeps the counts, the column names and the first N
// rows. Values below TableCountsAndNames behave like TableAll.
type TablePolicy int

const (
	TableAll            TablePolicy = 0
	TableCountsOnly     TablePolicy = -1
	TableCountsAndNames TablePolicy = -2
)

// TableFirstRows is the policy keeping the first n rows.
func TableFirstRows(n int) TablePolicy {
	if n <= 0 {
		return TableAll
	}
	return TablePolicy(n)
}

// ResultTable is a materialized query result. Every value is text; SQL NULL
// is "". It holds no engine resources and stays valid after the connection
// that produced it is closed.
type ResultTable struct {
	columnCount int
	rowCount    int
	columns     []string
	rows        [][]string
	pos         int
}

// newResultTable copies what policy asks for out of a sqlite3_get_table
// result: nrow+1 rows of ncol char*, the first row holding the names.
func newResultTable(result unsafe.Pointer, nrow, ncol int, policy TablePolicy, codec *TextCodec) *ResultTable {
	t := &ResultTable{columnCount: ncol, rowCount: nrow}
	if policy < TableCountsAndNames {
		policy = TableAll
	}
	if policy == TableCountsOnly || ncol == 0 {
		return t
	}
	cells := cStringArray(result, (nrow+1)*ncol)
	text := func(p unsafe.Pointer) string {
		if p == nil {
			return ""
		}
		return codec.Decode(copyCString(p))
	}

	t.columns = make([]string, ncol)
	for i := range t.columns {
		t.columns[i] = text(cells[i])
	}
	if policy == TableCountsAndNames {
		return t
	}
	keep := nrow
	if policy > 0 {
		keep = min(nrow, int(policy))
	}
	t.rows = make([][]string, keep)
	for r := range t.rows {
		row := make([]string, ncol)
		base := (r + 1) * ncol
		for i := range row {
			row[i] = text(cells[base+i])
		}
		t.rows[r] = row
	}
	return t
}

func (t *ResultTable) ColumnCount() int { return t.columnCount }

// RowCount is the number of rows the query produced, whether or not they
// were materialized.
func (t *ResultTable) RowCount() int { return t.rowCount }

// HasNames reports whether column names were materialized.
func (t *ResultTable) HasNames() bool { return t.columns != nil }

// HasRows reports whether at least one row was materialized.
func (t *ResultTable) HasRows() bool { return len(t.rows) > 0 }

func (t *ResultTable) Columns() []string {
	return slices.Clone(t.columns)
}

// Rows returns a copy of the materialized rows.
func (t *ResultTable) Rows() [][]string {
	out := make([][]string, len(t.rows))
	for i, r := range t.rows {
		out[i] = slices.Clone(r)
	}
	return out
}

// GetRow returns materialized row i.
func (t *ResultTable) GetRow(i int) ([]string, error) {
	if i < 0 || i >= len(t.rows) {
		return nil, bindingError(SQLITE_RANGE, "ResultTable.GetRow", ErrRowRange)
	}
	return slices.Clone(t.rows[i]), nil
}

// Next returns the row at the current position and advances it.
func (t *ResultTable) Next() ([]string, bool) {
	if t.pos >= len(t.rows) {
		return nil, false
	}
	row := slices.Clone(t.rows[t.pos])
	t.pos++
	return row, true
}

// Reset moves the position back to the first row.
func (t *ResultTable) Reset() {
	t.pos = 0
}

// Position is the index of the row the next call to Next returns.
func (t *ResultTable) Position() int {
	return t.pos
}
