package sqlitebind

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"go.uber.org/zap"
)

// RowCallback receives each result row of Exec. Values and names are text;
// SQL NULL arrives as "". Returning a non-nil error aborts the remaining
// statements and Exec fails with SQLITE_ABORT wrapping that error.
type RowCallback func(columnCount int, values, names []string) error

// ScalarFunc implements an SQL function. It reports its result through ctx;
// a function that sets nothing returns NULL.
type ScalarFunc func(ctx *FuncContext, args []Value)

// FuncFlags is the eTextRep argument of sqlite3_create_function_v2.
// https://www.sqlite.org/c3ref/c_deterministic.html
type FuncFlags int32

const (
	FuncUTF8          FuncFlags = FuncFlags(sqliteUTF8)
	FuncDeterministic FuncFlags = 0x000000800
	FuncDirectOnly    FuncFlags = 0x000080000
	FuncInnocuous     FuncFlags = 0x000200000
)

// callbackEntry is what a registry id passed to the engine as void* resolves
// to. Exactly one of row and fn is set.
type callbackEntry struct {
	conn     *Connection
	row      RowCallback
	fn       ScalarFunc
	name     string
	userData any
	err      error // first error returned by row
}

var callbacks = newHandleTable[*callbackEntry]()

// The engine only ever sees these three function pointers. purego callbacks
// are a finite process resource, so they are created once and dispatch on
// the registry id found in the engine's user-data argument.
var bridge struct {
	once    sync.Once
	exec    uintptr
	fn      uintptr
	destroy uintptr
}

func initBridge() {
	bridge.once.Do(func() {
		bridge.exec = purego.NewCallback(execTrampoline)
		bridge.fn = purego.NewCallback(funcTrampoline)
		bridge.destroy = purego.NewCallback(destroyTrampoline)
	})
}

// ptrOf converts an address the engine handed us back into a pointer.
func ptrOf(p uintptr) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&p))
}

// execTrampoline is the sqlite3_exec callback:
// int (*)(void *arg, int n, char **values, char **names)
func execTrampoline(arg, n, values, names uintptr) (rc uintptr) {
	entry, ok := callbacks.get(handleID(arg))
	if !ok || entry.row == nil {
		return 1
	}
	conn := entry.conn
	conn.callbackDepth++
	defer func() {
		conn.callbackDepth--
		if r := recover(); r != nil {
			entry.err = fmt.Errorf("row callback panic: %v", r)
			conn.log.Warn("recovered panic in row callback", zap.Any("panic", r))
			rc = 1
		}
	}()

	count := int(int32(n))
	vals := make([]string, count)
	cols := make([]string, count)
	for i, p := range cStringArray(ptrOf(values), count) {
		if p != nil {
			vals[i] = conn.codec.Decode(copyCString(p))
		}
	}
	for i, p := range cStringArray(ptrOf(names), count) {
		if p != nil {
			cols[i] = conn.codec.Decode(copyCString(p))
		}
	}
	if err := entry.row(count, vals, cols); err != nil {
		entry.err = err
		return 1
	}
	return 0
}

// funcTrampoline is the xFunc of every registered scalar function:
// void (*)(sqlite3_context*, int argc, sqlite3_value **argv)
func funcTrampoline(ctx, argc, argv uintptr) uintptr {
	entry, ok := callbacks.get(handleID(sqlite3_user_data(ctx)))
	if !ok || entry.fn == nil {
		sqlite3_result_error(ctx, []byte("function is no longer registered\x00"))
		return 0
	}
	conn := entry.conn
	fc := &FuncContext{ctx: ctx, entry: entry}
	conn.callbackDepth++
	defer func() {
		conn.callbackDepth--
		if r := recover(); r != nil {
			conn.log.Warn("recovered panic in scalar function",
				zap.String("function", entry.name), zap.Any("panic", r))
			fc.ResultError(fmt.Sprintf("%s: panic: %v", entry.name, r))
		}
	}()
	entry.fn(fc, decodeArgs(ptrOf(argv), int(int32(argc)), conn.codec))
	return 0
}

// destroyTrampoline is the xDestroy of every registered scalar function.
// The engine calls it when the function is replaced, when the connection
// closes, and when registration fails.
func destroyTrampoline(p uintptr) uintptr {
	callbacks.remove(handleID(p))
	return 0
}

// FuncContext is the sqlite3_context of one scalar function invocation.
// It is only valid until the function returns.
type FuncContext struct {
	ctx   uintptr
	entry *callbackEntry
}

// UserData returns the value given to CreateScalarFunction.
func (c *FuncContext) UserData() any {
	return c.entry.userData
}

// Conn returns the connection evaluating the function. Closing it from
// inside the function fails.
func (c *FuncContext) Conn() *Connection {
	return c.entry.conn
}

func (c *FuncContext) ResultText(s string) {
	b, err := c.entry.conn.codec.Encode(s)
	if err != nil {
		c.ResultError(err.Error())
		return
	}
	sqlite3_result_text(c.ctx, b)
}

// ResultBlob sets a BLOB result; the engine copies b.
func (c *FuncContext) ResultBlob(b []byte) {
	sqlite3_result_blob(c.ctx, b)
}

func (c *FuncContext) ResultInt64(v int64) {
	sqlite3_result_int64(c.ctx, v)
}

func (c *FuncContext) ResultDouble(v float64) {
	sqlite3_result_double(c.ctx, v)
}

func (c *FuncContext) ResultNull() {
	sqlite3_result_null(c.ctx)
}

// ResultError makes the statement evaluating the function fail with msg.
func (c *FuncContext) ResultError(msg string) {
	b, err := c.entry.conn.codec.Encode(msg)
	if err != nil {
		b = []byte("function failed\x00")
	}
	sqlite3_result_error(c.ctx, b)
}

// CreateScalarFunction registers fn as the SQL function name taking arity
// arguments (-1 for any number). FuncUTF8 is always added to flags.
// Registering the same name and arity again replaces the previous function.
func (c *Connection) CreateScalarFunction(name string, arity int, fn ScalarFunc, flags FuncFlags, userData any) error {
	const loc = "CreateScalarFunction"
	if err := c.checkOpen(loc); err != nil {
		return err
	}
	if fn == nil {
		return c.record(bindingError(SQLITE_MISUSE, loc, fmt.Errorf("%w: nil function", ErrInvalidHandle)))
	}
	cname, err := c.codec.Encode(name)
	if err != nil {
		return c.record(err)
	}
	id := callbacks.insert(&callbackEntry{conn: c, fn: fn, name: name, userData: userData})
	rc := sqlite3_create_function_v2(c.handle, cname, arity, int32(flags|FuncUTF8), uintptr(id), bridge.fn, bridge.destroy)
	if rc != SQLITE_OK {
		callbacks.remove(id)
		return c.record(statusToError(rc, loc, c.errmsg()))
	}
	c.log.Debug("scalar function registered", zap.String("function", name), zap.Int("arity", arity))
	return c.record(nil)
}
