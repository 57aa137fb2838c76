package sqlitebind

import (
	"slices"
	"weak"
)

// ResultCursor is a forward-only view over the rows of a live statement.
// Values are decoded per column type: BLOBs as copied bytes, everything
// else as text. A cursor must be released with Free; Close on its
// connection finalizes it otherwise, after which every operation but Free
// fails with ErrInvalidHandle.
type ResultCursor struct {
	lastError
	noCopy noCopy

	stmt    *nativeStmt
	conn    weak.Pointer[Connection]
	codec   *TextCodec
	columns []string
	hasRows bool
	index   int
	values  []Value
	done    bool
	failed  error // sticky step failure, cleared by Reset
}

func (r *ResultCursor) check(loc string) error {
	if !r.stmt.valid() {
		return r.record(bindingError(SQLITE_MISUSE, loc, ErrInvalidHandle))
	}
	return nil
}

// Next steps to the next row. It returns true with the row decoded, false
// and a nil error at the end of the rows, or false and the failure.
// After the end, or after a failure, Next keeps returning the same result
// until Reset; the engine would otherwise restart the statement from the
// first row.
func (r *ResultCursor) Next() (bool, error) {
	const loc = "Cursor.Next"
	if err := r.check(loc); err != nil {
		return false, err
	}
	if r.failed != nil {
		return false, r.record(r.failed)
	}
	if r.done {
		return false, r.record(nil)
	}
	switch rc := r.stmt.step(); rc {
	case SQLITE_ROW:
		r.values = decodeRow(r.stmt.ptr, len(r.columns), r.codec)
		r.index++
		return true, r.record(nil)
	case SQLITE_DONE:
		r.values, r.done = nil, true
		return false, r.record(nil)
	default:
		r.values = nil
		r.failed = statusToError(rc, loc, stmtErrmsg(r.conn, rc))
		return false, r.record(r.failed)
	}
}

// Values returns the current row. It is nil before the first Next and after
// the end of the rows.
func (r *ResultCursor) Values() []Value {
	return slices.Clone(r.values)
}

// Row returns the current row as text, the way ResultTable renders it.
func (r *ResultCursor) Row() []string {
	if r.values == nil {
		return nil
	}
	return rowStrings(r.values)
}

// Reset rewinds the cursor; the next call to Next returns the first row.
func (r *ResultCursor) Reset() error {
	const loc = "Cursor.Reset"
	if err := r.check(loc); err != nil {
		return err
	}
	r.index, r.values, r.done, r.failed = 0, nil, false, nil
	if rc := r.stmt.reset(); rc != SQLITE_OK {
		return r.record(statusToError(rc, loc, stmtErrmsg(r.conn, rc)))
	}
	return r.record(nil)
}

// Free finalizes the statement. It is safe to call more than once and after
// the connection was closed.
func (r *ResultCursor) Free() error {
	if !r.stmt.valid() {
		return r.record(nil)
	}
	r.values = nil
	if rc := r.stmt.release(); rc != SQLITE_OK {
		return r.record(statusToError(rc, "Cursor.Free", stmtErrmsg(r.conn, rc)))
	}
	return r.record(nil)
}

func (r *ResultCursor) Columns() []string {
	return slices.Clone(r.columns)
}

func (r *ResultCursor) ColumnCount() int {
	return len(r.columns)
}

// HasRows reports whether the query had a row when the cursor was created.
// It is not updated afterwards.
func (r *ResultCursor) HasRows() bool {
	return r.hasRows
}

// Index is the number of rows delivered since creation or the last Reset.
func (r *ResultCursor) Index() int {
	return r.index
}
