package sqlitebind

import (
	"errors"
	"fmt"
	"strconv"
)

// Code is an engine result code, possibly extended.
//
// SQLITE_OK, SQLITE_ROW and SQLITE_DONE are statuses, not errors.
// https://sqlite.org/rescode.html
type Code int32

const (
	SQLITE_OK         Code = 0
	SQLITE_ERROR      Code = 1
	SQLITE_INTERNAL   Code = 2
	SQLITE_PERM       Code = 3
	SQLITE_ABORT      Code = 4
	SQLITE_BUSY       Code = 5
	SQLITE_LOCKED     Code = 6
	SQLITE_NOMEM      Code = 7
	SQLITE_READONLY   Code = 8
	SQLITE_INTERRUPT  Code = 9
	SQLITE_IOERR      Code = 10
	SQLITE_CORRUPT    Code = 11
	SQLITE_NOTFOUND   Code = 12
	SQLITE_FULL       Code = 13
	SQLITE_CANTOPEN   Code = 14
	SQLITE_PROTOCOL   Code = 15
	SQLITE_EMPTY      Code = 16
	SQLITE_SCHEMA     Code = 17
	SQLITE_TOOBIG     Code = 18
	SQLITE_CONSTRAINT Code = 19
	SQLITE_MISMATCH   Code = 20
	SQLITE_MISUSE     Code = 21
	SQLITE_NOLFS      Code = 22
	SQLITE_AUTH       Code = 23
	SQLITE_FORMAT     Code = 24
	SQLITE_RANGE      Code = 25
	SQLITE_NOTADB     Code = 26
	SQLITE_NOTICE     Code = 27
	SQLITE_WARNING    Code = 28
	SQLITE_ROW        Code = 100
	SQLITE_DONE       Code = 101
)

var codeNames = map[Code]string{
	SQLITE_OK:         "SQLITE_OK",
	SQLITE_ERROR:      "SQLITE_ERROR",
	SQLITE_INTERNAL:   "SQLITE_INTERNAL",
	SQLITE_PERM:       "SQLITE_PERM",
	SQLITE_ABORT:      "SQLITE_ABORT",
	SQLITE_BUSY:       "SQLITE_BUSY",
	SQLITE_LOCKED:     "SQLITE_LOCKED",
	SQLITE_NOMEM:      "SQLITE_NOMEM",
	SQLITE_READONLY:   "SQLITE_READONLY",
	SQLITE_INTERRUPT:  "SQLITE_INTERRUPT",
	SQLITE_IOERR:      "SQLITE_IOERR",
	SQLITE_CORRUPT:    "SQLITE_CORRUPT",
	SQLITE_NOTFOUND:   "SQLITE_NOTFOUND",
	SQLITE_FULL:       "SQLITE_FULL",
	SQLITE_CANTOPEN:   "SQLITE_CANTOPEN",
	SQLITE_PROTOCOL:   "SQLITE_PROTOCOL",
	SQLITE_EMPTY:      "SQLITE_EMPTY",
	SQLITE_SCHEMA:     "SQLITE_SCHEMA",
	SQLITE_TOOBIG:     "SQLITE_TOOBIG",
	SQLITE_CONSTRAINT: "SQLITE_CONSTRAINT",
	SQLITE_MISMATCH:   "SQLITE_MISMATCH",
	SQLITE_MISUSE:     "SQLITE_MISUSE",
	SQLITE_NOLFS:      "SQLITE_NOLFS",
	SQLITE_AUTH:       "SQLITE_AUTH",
	SQLITE_FORMAT:     "SQLITE_FORMAT",
	SQLITE_RANGE:      "SQLITE_RANGE",
	SQLITE_NOTADB:     "SQLITE_NOTADB",
	SQLITE_NOTICE:     "SQLITE_NOTICE",
	SQLITE_WARNING:    "SQLITE_WARNING",
	SQLITE_ROW:        "SQLITE_ROW",
	SQLITE_DONE:       "SQLITE_DONE",
}

// Primary strips the extended part of an extended result code.
func (c Code) Primary() Code {
	return c & 0xff
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	if s, ok := codeNames[c.Primary()]; ok {
		return s + "(" + strconv.Itoa(int(c)) + ")"
	}
	return "SQLITE_UNKNOWN_ERR(" + strconv.Itoa(int(c)) + ")"
}

// define all package level errors here

// engine errors, matched by primary code through errors.Is
var (
	ErrGeneric    = errors.New("sqlitebind: generic error")
	ErrAbort      = errors.New("sqlitebind: operation aborted")
	ErrBusy       = errors.New("sqlitebind: database is busy")
	ErrLocked     = errors.New("sqlitebind: database table is locked")
	ErrReadonly   = errors.New("sqlitebind: database is read-only")
	ErrInterrupt  = errors.New("sqlitebind: operation interrupted")
	ErrCorrupt    = errors.New("sqlitebind: database is corrupt")
	ErrFull       = errors.New("sqlitebind: database or disk is full")
	ErrCantOpen   = errors.New("sqlitebind: unable to open database file")
	ErrConstraint = errors.New("sqlitebind: constraint failed")
	ErrMismatch   = errors.New("sqlitebind: datatype mismatch")
	ErrMisuse     = errors.New("sqlitebind: API misuse")
	ErrRange      = errors.New("sqlitebind: index out of range")
	ErrNotADb     = errors.New("sqlitebind: not a database")
)

// binding errors, reported before the engine is reached
var (
	ErrInvalidHandle       = errors.New("sqlitebind: invalid handle")
	ErrAlreadyOpen         = errors.New("sqlitebind: connection already open on a different path")
	ErrNoColumns           = errors.New("sqlitebind: statement returns no columns")
	ErrEmptyStatement      = errors.New("sqlitebind: sql contains no statement")
	ErrBindRange           = errors.New("sqlitebind: bind index out of range")
	ErrTypeMismatch        = errors.New("sqlitebind: value does not match bind type")
	ErrNotWriteStatement   = errors.New("sqlitebind: statement is not INSERT, UPDATE or REPLACE")
	ErrInCallback          = errors.New("sqlitebind: connection is inside a callback")
	ErrRowRange            = errors.New("sqlitebind: row index out of range")
	ErrEncoding            = errors.New("sqlitebind: text encoding failed")
	ErrLibraryNotFound     = errors.New("sqlitebind: sqlite library not found")
	ErrIncompatibleVersion = errors.New("sqlitebind: sqlite library version too old")
)

var codeErrors = map[Code]error{
	SQLITE_ERROR:      ErrGeneric,
	SQLITE_ABORT:      ErrAbort,
	SQLITE_BUSY:       ErrBusy,
	SQLITE_LOCKED:     ErrLocked,
	SQLITE_READONLY:   ErrReadonly,
	SQLITE_INTERRUPT:  ErrInterrupt,
	SQLITE_CORRUPT:    ErrCorrupt,
	SQLITE_FULL:       ErrFull,
	SQLITE_CANTOPEN:   ErrCantOpen,
	SQLITE_CONSTRAINT: ErrConstraint,
	SQLITE_MISMATCH:   ErrMismatch,
	SQLITE_MISUSE:     ErrMisuse,
	SQLITE_RANGE:      ErrRange,
	SQLITE_NOTADB:     ErrNotADb,
}

// Error is a failed operation: the engine (or binding) code, the message, and
// the operation that produced it.
type Error struct {
	Code  Code
	Msg   string
	Loc   string // operation, e.g. "Open" or "Cursor.Next"
	Cause error  // binding sentinel or row callback error, if any
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Loc == "" {
		return fmt.Sprintf("sqlitebind: %s: %s", e.Code, msg)
	}
	return fmt.Sprintf("sqlitebind: %s: %s: %s", e.Loc, e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the engine sentinel of the primary code, so
// errors.Is(err, ErrBusy) holds for SQLITE_BUSY_SNAPSHOT too.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	return codeErrors[e.Code.Primary()] == target
}

// Helpers

// statusToError maps a result code to an error; statuses map to nil.
func statusToError(code Code, loc, msg string) error {
	switch code {
	case SQLITE_OK, SQLITE_ROW, SQLITE_DONE:
		return nil
	}
	if msg == "" {
		if sentinel, ok := codeErrors[code.Primary()]; ok {
			msg = sentinel.Error()
		} else {
			msg = code.String()
		}
	}
	return &Error{Code: code, Msg: msg, Loc: loc}
}

// bindingError wraps a binding sentinel with the code the engine would
// have used for the same condition.
func bindingError(code Code, loc string, cause error) *Error {
	return &Error{Code: code, Msg: cause.Error(), Loc: loc, Cause: cause}
}

// lastError is the (code, message) pair kept by every object that performs
// operations.
type lastError struct {
	code Code
	msg  string
}

// LastError returns the code and message of the most recent failure, or
// SQLITE_OK and "" after a success.
func (l *lastError) LastError() (Code, string) {
	return l.code, l.msg
}

func (l *lastError) clear() {
	l.code, l.msg = SQLITE_OK, ""
}

// record stores err as the last error and returns it unchanged.
func (l *lastError) record(err error) error {
	if err == nil {
		l.clear()
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		l.code, l.msg = e.Code, e.Msg
	} else {
		l.code, l.msg = SQLITE_ERROR, err.Error()
	}
	return err
}
