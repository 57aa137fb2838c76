package sqlitebind

import (
	"fmt"
	"math"
	"slices"
	"weak"
)

// BindType is the declared type of a bound parameter.
type BindType int

const (
	BindBlob BindType = iota
	BindDouble
	BindInteger
	BindText
)

func (t BindType) String() string {
	switch t {
	case BindBlob:
		return "blob"
	case BindDouble:
		return "double"
	case BindInteger:
		return "integer"
	case BindText:
		return "text"
	default:
		return fmt.Sprintf("BindType(%d)", int(t))
	}
}

// PreparedStatement is a compiled statement run through Bind, Step and
// Reset cycles. It must be released with Free.
type PreparedStatement struct {
	lastError
	noCopy noCopy

	stmt    *nativeStmt
	conn    weak.Pointer[Connection]
	codec   *TextCodec
	params  int
	columns []string
	values  []Value
}

func (s *PreparedStatement) check(loc string) error {
	if !s.stmt.valid() {
		return s.record(bindingError(SQLITE_MISUSE, loc, ErrInvalidHandle))
	}
	return nil
}

func (s *PreparedStatement) ParameterCount() int {
	return s.params
}

func (s *PreparedStatement) ColumnCount() int {
	return len(s.columns)
}

func (s *PreparedStatement) Columns() []string {
	return slices.Clone(s.columns)
}

// Bind binds value to the 1-based parameter index. The dynamic type of
// value must fit typ:
//
//	BindBlob     []byte
//	BindDouble   float32, float64
//	BindInteger  any signed or unsigned integer up to math.MaxInt64, bool
//	BindText     string
//
// Blobs and texts are copied by the engine before Bind returns.
func (s *PreparedStatement) Bind(index int, typ BindType, value any) error {
	const loc = "Stmt.Bind"
	if err := s.check(loc); err != nil {
		return err
	}
	if index < 1 || index > s.params {
		return s.record(bindingError(SQLITE_RANGE, loc,
			fmt.Errorf("%w: %d not in [1, %d]", ErrBindRange, index, s.params)))
	}
	mismatch := func() error {
		return s.record(bindingError(SQLITE_MISMATCH, loc,
			fmt.Errorf("%w: %T bound as %s", ErrTypeMismatch, value, typ)))
	}

	var rc Code
	switch typ {
	case BindBlob:
		b, ok := value.([]byte)
		if !ok {
			return mismatch()
		}
		rc = sqlite3_bind_blob(s.stmt.ptr, index, b)
	case BindDouble:
		var f float64
		switch x := value.(type) {
		case float64:
			f = x
		case float32:
			f = float64(x)
		default:
			return mismatch()
		}
		rc = sqlite3_bind_double(s.stmt.ptr, index, f)
	case BindInteger:
		n, ok := toInt64(value)
		if !ok {
			return mismatch()
		}
		rc = sqlite3_bind_int64(s.stmt.ptr, index, n)
	case BindText:
		str, ok := value.(string)
		if !ok {
			return mismatch()
		}
		text, err := s.codec.Encode(str)
		if err != nil {
			return s.record(err)
		}
		rc = sqlite3_bind_text(s.stmt.ptr, index, text)
	default:
		return mismatch()
	}
	if rc != SQLITE_OK {
		return s.record(statusToError(rc, loc, stmtErrmsg(s.conn, rc)))
	}
	return s.record(nil)
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), uint64(x) <= math.MaxInt64
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), x <= math.MaxInt64
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// BindNull binds SQL NULL to the 1-based parameter index.
func (s *PreparedStatement) BindNull(index int) error {
	const loc = "Stmt.BindNull"
	if err := s.check(loc); err != nil {
		return err
	}
	if index < 1 || index > s.params {
		return s.record(bindingError(SQLITE_RANGE, loc,
			fmt.Errorf("%w: %d not in [1, %d]", ErrBindRange, index, s.params)))
	}
	if rc := sqlite3_bind_null(s.stmt.ptr, index); rc != SQLITE_OK {
		return s.record(statusToError(rc, loc, stmtErrmsg(s.conn, rc)))
	}
	return s.record(nil)
}

// Step runs the statement to its next row. It returns true when a row is
// available through Values and false once execution has finished.
func (s *PreparedStatement) Step() (bool, error) {
	const loc = "Stmt.Step"
	if err := s.check(loc); err != nil {
		return false, err
	}
	switch rc := s.stmt.step(); rc {
	case SQLITE_ROW:
		s.values = decodeRow(s.stmt.ptr, len(s.columns), s.codec)
		return true, s.record(nil)
	case SQLITE_DONE:
		s.values = nil
		return false, s.record(nil)
	default:
		s.values = nil
		return false, s.record(statusToError(rc, loc, stmtErrmsg(s.conn, rc)))
	}
}

// Values returns the row produced by the last Step.
func (s *PreparedStatement) Values() []Value {
	return slices.Clone(s.values)
}

// Reset makes the statement ready to Step again. With clearBindings every
// parameter goes back to NULL.
func (s *PreparedStatement) Reset(clearBindings bool) error {
	const loc = "Stmt.Reset"
	if err := s.check(loc); err != nil {
		return err
	}
	s.values = nil
	if rc := s.stmt.reset(); rc != SQLITE_OK {
		return s.record(statusToError(rc, loc, stmtErrmsg(s.conn, rc)))
	}
	if clearBindings {
		if rc := sqlite3_clear_bindings(s.stmt.ptr); rc != SQLITE_OK {
			return s.record(statusToError(rc, loc, stmtErrmsg(s.conn, rc)))
		}
	}
	return s.record(nil)
}

// Free finalizes the statement. It is safe to call more than once and after
// the connection was closed.
func (s *PreparedStatement) Free() error {
	if !s.stmt.valid() {
		return s.record(nil)
	}
	s.values = nil
	if rc := s.stmt.release(); rc != SQLITE_OK {
		return s.record(statusToError(rc, "Stmt.Free", stmtErrmsg(s.conn, rc)))
	}
	return s.record(nil)
}
