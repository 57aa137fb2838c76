package sqlitebind

import (
	"strconv"
	"unsafe"
)

// ColumnType are constants for each of the engine datatypes.
// https://www.sqlite.org/c3ref/c_blob.html
type ColumnType int32

const (
	SQLITE_INTEGER ColumnType = 1
	SQLITE_FLOAT   ColumnType = 2
	SQLITE_TEXT    ColumnType = 3
	SQLITE_BLOB    ColumnType = 4
	SQLITE_NULL    ColumnType = 5
)

func (t ColumnType) String() string {
	switch t {
	case SQLITE_INTEGER:
		return "SQLITE_INTEGER"
	case SQLITE_FLOAT:
		return "SQLITE_FLOAT"
	case SQLITE_TEXT:
		return "SQLITE_TEXT"
	case SQLITE_BLOB:
		return "SQLITE_BLOB"
	case SQLITE_NULL:
		return "SQLITE_NULL"
	default:
		return "UNKNOWN_SQLITE_DATATYPE"
	}
}

// Value is one decoded column or function argument. NULL has an empty Text
// and a nil Blob. A BLOB is a private copy in Blob. Every other type,
// numbers included, is the engine's UTF-8 rendering in Text.
type Value struct {
	Type ColumnType
	Text string
	Blob []byte
}

func (v Value) IsNull() bool {
	return v.Type == SQLITE_NULL
}

// String returns Text, or the raw bytes of a BLOB.
func (v Value) String() string {
	if v.Type == SQLITE_BLOB {
		return string(v.Blob)
	}
	return v.Text
}

// Int64 parses an INTEGER (or integral text) value.
func (v Value) Int64() (int64, error) {
	return strconv.ParseInt(v.Text, 10, 64)
}

// Float64 parses a FLOAT, INTEGER or numeric text value.
func (v Value) Float64() (float64, error) {
	return strconv.ParseFloat(v.Text, 64)
}

// decodeColumn reads column i of the current row of stmt.
func decodeColumn(stmt sqliteStmt, i int, codec *TextCodec) Value {
	switch t := sqlite3_column_type(stmt, i); t {
	case SQLITE_NULL:
		return Value{Type: t}
	case SQLITE_BLOB:
		b := sqlite3_column_blob(stmt, i)
		if b == nil {
			b = []byte{}
		}
		return Value{Type: t, Blob: b}
	default:
		return Value{Type: t, Text: codec.Decode(sqlite3_column_text(stmt, i))}
	}
}

// decodeRow reads every column of the current row of stmt.
func decodeRow(stmt sqliteStmt, n int, codec *TextCodec) []Value {
	row := make([]Value, n)
	for i := range row {
		row[i] = decodeColumn(stmt, i, codec)
	}
	return row
}

// decodeArgs reads the argc sqlite3_value* of a function call.
func decodeArgs(argv unsafe.Pointer, argc int, codec *TextCodec) []Value {
	if argv == nil || argc <= 0 {
		return nil
	}
	ptrs := unsafe.Slice((*uintptr)(argv), argc)
	args := make([]Value, argc)
	for i, p := range ptrs {
		switch t := sqlite3_value_type(p); t {
		case SQLITE_NULL:
			args[i] = Value{Type: t}
		case SQLITE_BLOB:
			b := sqlite3_value_blob(p)
			if b == nil {
				b = []byte{}
			}
			args[i] = Value{Type: t, Blob: b}
		default:
			args[i] = Value{Type: t, Text: codec.Decode(sqlite3_value_text(p))}
		}
	}
	return args
}

// rowStrings renders a decoded row with the all-text contract of
// ResultTable.
func rowStrings(row []Value) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = v.String()
	}
	return out
}
