package sqlitebind

import (
	"fmt"
	"unsafe"

	"github.com/ebitengine/purego"
)

// define opaque pointers as-is and accept them as exact arguments
type c_sqlite3 struct{}
type c_sqlite3_stmt struct{}

type sqliteConn *c_sqlite3
type sqliteStmt *c_sqlite3_stmt

// sqliteTransient is SQLITE_TRANSIENT: the engine copies the buffer before the
// bind or result call returns.
const sqliteTransient = ^uintptr(0)

// open flags used by Open
const (
	sqliteOpenReadOnly  int32 = 0x00000001
	sqliteOpenReadWrite int32 = 0x00000002
	sqliteOpenCreate    int32 = 0x00000004
)

// SQLITE_UTF8 text representation for sqlite3_create_function_v2
const sqliteUTF8 int32 = 1

// then, define C extern methods
var (
	// engine-side strings are always returned as raw pointers and copied
	// through the codec, never with purego's implicit string conversion
	c_sqlite3_libversion_number func() int32
	c_sqlite3_libversion        func() unsafe.Pointer // const char*

	c_sqlite3_open_v2 func(
		filename unsafe.Pointer, // const char*
		ppDb unsafe.Pointer, // sqlite3**
		flags int32,
		zVfs unsafe.Pointer, // const char* | NULL
	) int32

	c_sqlite3_close_v2 func(
		db unsafe.Pointer, // sqlite3*
	) int32

	c_sqlite3_errmsg          func(db unsafe.Pointer) unsafe.Pointer // const char*
	c_sqlite3_extended_errcode func(db unsafe.Pointer) int32
	c_sqlite3_errstr          func(rc int32) unsafe.Pointer // const char*

	c_sqlite3_exec func(
		db unsafe.Pointer, // sqlite3*
		sql unsafe.Pointer, // const char*
		callback uintptr, // int (*)(void*, int, char**, char**)
		arg uintptr, // void*
		errmsg unsafe.Pointer, // char**
	) int32

	c_sqlite3_free func(p unsafe.Pointer)

	c_sqlite3_get_table func(
		db unsafe.Pointer, // sqlite3*
		sql unsafe.Pointer, // const char*
		pazResult unsafe.Pointer, // char***
		pnRow unsafe.Pointer, // int*
		pnColumn unsafe.Pointer, // int*
		pzErrmsg unsafe.Pointer, // char**
	) int32

	c_sqlite3_free_table func(result unsafe.Pointer) // char**

	c_sqlite3_prepare_v2 func(
		db unsafe.Pointer, // sqlite3*
		sql unsafe.Pointer, // const char*
		nByte int32,
		ppStmt unsafe.Pointer, // sqlite3_stmt**
		pzTail unsafe.Pointer, // const char**
	) int32

	c_sqlite3_step           func(stmt unsafe.Pointer) int32
	c_sqlite3_reset          func(stmt unsafe.Pointer) int32
	c_sqlite3_finalize       func(stmt unsafe.Pointer) int32
	c_sqlite3_clear_bindings func(stmt unsafe.Pointer) int32

	c_sqlite3_bind_parameter_count func(stmt unsafe.Pointer) int32
	c_sqlite3_bind_parameter_index func(stmt unsafe.Pointer, name unsafe.Pointer) int32

	c_sqlite3_bind_blob func(
		stmt unsafe.Pointer,
		index int32,
		data unsafe.Pointer, // const void*
		n int32,
		destructor uintptr, // void (*)(void*)
	) int32

	c_sqlite3_bind_double func(stmt unsafe.Pointer, index int32, value float64) int32
	c_sqlite3_bind_int64  func(stmt unsafe.Pointer, index int32, value int64) int32

	c_sqlite3_bind_text func(
		stmt unsafe.Pointer,
		index int32,
		data unsafe.Pointer, // const char*
		n int32,
		destructor uintptr, // void (*)(void*)
	) int32

	c_sqlite3_bind_null func(stmt unsafe.Pointer, index int32) int32

	c_sqlite3_column_count func(stmt unsafe.Pointer) int32
	c_sqlite3_column_name  func(stmt unsafe.Pointer, index int32) unsafe.Pointer // const char*
	c_sqlite3_column_type  func(stmt unsafe.Pointer, index int32) int32
	c_sqlite3_column_blob  func(stmt unsafe.Pointer, index int32) unsafe.Pointer // const void*
	c_sqlite3_column_bytes func(stmt unsafe.Pointer, index int32) int32
	c_sqlite3_column_text  func(stmt unsafe.Pointer, index int32) unsafe.Pointer // const unsigned char*

	c_sqlite3_column_int64  func(stmt unsafe.Pointer, index int32) int64
	c_sqlite3_column_double func(stmt unsafe.Pointer, index int32) float64

	c_sqlite3_column_decltype func(stmt unsafe.Pointer, index int32) unsafe.Pointer // const char* | NULL

	c_sqlite3_last_insert_rowid func(db unsafe.Pointer) int64
	c_sqlite3_changes           func(db unsafe.Pointer) int32
	c_sqlite3_total_changes     func(db unsafe.Pointer) int32
	c_sqlite3_busy_timeout      func(db unsafe.Pointer, ms int32) int32

	c_sqlite3_create_function_v2 func(
		db unsafe.Pointer, // sqlite3*
		name unsafe.Pointer, // const char*
		nArg int32,
		eTextRep int32,
		pApp uintptr, // void*
		xFunc uintptr, // void (*)(sqlite3_context*, int, sqlite3_value**)
		xStep uintptr,
		xFinal uintptr,
		xDestroy uintptr, // void (*)(void*)
	) int32

	c_sqlite3_user_data func(ctx uintptr) uintptr // void*

	c_sqlite3_value_type  func(value uintptr) int32
	c_sqlite3_value_bytes func(value uintptr) int32
	c_sqlite3_value_text  func(value uintptr) unsafe.Pointer
	c_sqlite3_value_blob  func(value uintptr) unsafe.Pointer

	c_sqlite3_result_text   func(ctx uintptr, data unsafe.Pointer, n int32, destructor uintptr)
	c_sqlite3_result_blob   func(ctx uintptr, data unsafe.Pointer, n int32, destructor uintptr)
	c_sqlite3_result_int64  func(ctx uintptr, value int64)
	c_sqlite3_result_double func(ctx uintptr, value float64)
	c_sqlite3_result_null   func(ctx uintptr)
	c_sqlite3_result_error  func(ctx uintptr, msg unsafe.Pointer, n int32)
)

// register_sqlite_version binds only the version entry points, so the
// version gate runs before anything newer is looked up.
func register_sqlite_version(handle uintptr) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sqlitebind: %v", r)
		}
	}()
	purego.RegisterLibFunc(&c_sqlite3_libversion_number, handle, "sqlite3_libversion_number")
	purego.RegisterLibFunc(&c_sqlite3_libversion, handle, "sqlite3_libversion")
	return nil
}

// register_sqlite binds the rest of the C-ABI set from a loaded library.
// purego panics on a missing symbol; that is reported as an error instead.
// DO NOT load lib - as it will be done by the runtime
func register_sqlite(handle uintptr) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sqlitebind: %v", r)
		}
	}()
	purego.RegisterLibFunc(&c_sqlite3_open_v2, handle, "sqlite3_open_v2")
	purego.RegisterLibFunc(&c_sqlite3_close_v2, handle, "sqlite3_close_v2")
	purego.RegisterLibFunc(&c_sqlite3_errmsg, handle, "sqlite3_errmsg")
	purego.RegisterLibFunc(&c_sqlite3_extended_errcode, handle, "sqlite3_extended_errcode")
	purego.RegisterLibFunc(&c_sqlite3_errstr, handle, "sqlite3_errstr")
	purego.RegisterLibFunc(&c_sqlite3_exec, handle, "sqlite3_exec")
	purego.RegisterLibFunc(&c_sqlite3_free, handle, "sqlite3_free")
	purego.RegisterLibFunc(&c_sqlite3_get_table, handle, "sqlite3_get_table")
	purego.RegisterLibFunc(&c_sqlite3_free_table, handle, "sqlite3_free_table")
	purego.RegisterLibFunc(&c_sqlite3_prepare_v2, handle, "sqlite3_prepare_v2")
	purego.RegisterLibFunc(&c_sqlite3_step, handle, "sqlite3_step")
	purego.RegisterLibFunc(&c_sqlite3_reset, handle, "sqlite3_reset")
	purego.RegisterLibFunc(&c_sqlite3_finalize, handle, "sqlite3_finalize")
	purego.RegisterLibFunc(&c_sqlite3_clear_bindings, handle, "sqlite3_clear_bindings")
	purego.RegisterLibFunc(&c_sqlite3_bind_parameter_count, handle, "sqlite3_bind_parameter_count")
	purego.RegisterLibFunc(&c_sqlite3_bind_parameter_index, handle, "sqlite3_bind_parameter_index")
	purego.RegisterLibFunc(&c_sqlite3_bind_blob, handle, "sqlite3_bind_blob")
	purego.RegisterLibFunc(&c_sqlite3_bind_double, handle, "sqlite3_bind_double")
	purego.RegisterLibFunc(&c_sqlite3_bind_int64, handle, "sqlite3_bind_int64")
	purego.RegisterLibFunc(&c_sqlite3_bind_text, handle, "sqlite3_bind_text")
	purego.RegisterLibFunc(&c_sqlite3_bind_null, handle, "sqlite3_bind_null")
	purego.RegisterLibFunc(&c_sqlite3_column_count, handle, "sqlite3_column_count")
	purego.RegisterLibFunc(&c_sqlite3_column_name, handle, "sqlite3_column_name")
	purego.RegisterLibFunc(&c_sqlite3_column_type, handle, "sqlite3_column_type")
	purego.RegisterLibFunc(&c_sqlite3_column_blob, handle, "sqlite3_column_blob")
	purego.RegisterLibFunc(&c_sqlite3_column_bytes, handle, "sqlite3_column_bytes")
	purego.RegisterLibFunc(&c_sqlite3_column_text, handle, "sqlite3_column_text")
	purego.RegisterLibFunc(&c_sqlite3_column_int64, handle, "sqlite3_column_int64")
	purego.RegisterLibFunc(&c_sqlite3_column_double, handle, "sqlite3_column_double")
	purego.RegisterLibFunc(&c_sqlite3_column_decltype, handle, "sqlite3_column_decltype")
	purego.RegisterLibFunc(&c_sqlite3_last_insert_rowid, handle, "sqlite3_last_insert_rowid")
	purego.RegisterLibFunc(&c_sqlite3_changes, handle, "sqlite3_changes")
	purego.RegisterLibFunc(&c_sqlite3_total_changes, handle, "sqlite3_total_changes")
	purego.RegisterLibFunc(&c_sqlite3_busy_timeout, handle, "sqlite3_busy_timeout")
	purego.RegisterLibFunc(&c_sqlite3_create_function_v2, handle, "sqlite3_create_function_v2")
	purego.RegisterLibFunc(&c_sqlite3_user_data, handle, "sqlite3_user_data")
	purego.RegisterLibFunc(&c_sqlite3_value_type, handle, "sqlite3_value_type")
	purego.RegisterLibFunc(&c_sqlite3_value_bytes, handle, "sqlite3_value_bytes")
	purego.RegisterLibFunc(&c_sqlite3_value_text, handle, "sqlite3_value_text")
	purego.RegisterLibFunc(&c_sqlite3_value_blob, handle, "sqlite3_value_blob")
	purego.RegisterLibFunc(&c_sqlite3_result_text, handle, "sqlite3_result_text")
	purego.RegisterLibFunc(&c_sqlite3_result_blob, handle, "sqlite3_result_blob")
	purego.RegisterLibFunc(&c_sqlite3_result_int64, handle, "sqlite3_result_int64")
	purego.RegisterLibFunc(&c_sqlite3_result_double, handle, "sqlite3_result_double")
	purego.RegisterLibFunc(&c_sqlite3_result_null, handle, "sqlite3_result_null")
	purego.RegisterLibFunc(&c_sqlite3_result_error, handle, "sqlite3_result_error")
	return nil
}

// Go wrappers over imported C bindings
// strings go in as codec-encoded, NUL-terminated buffers and come out as
// copied bytes; decoding back to host text is the caller's job

/** Open a database connection. An error can still return a non-nil handle which must be closed */
func sqlite3_open_v2(filename []byte, flags int32) (sqliteConn, Code) {
	var db sqliteConn
	rc := c_sqlite3_open_v2(bufPtr(filename), unsafe.Pointer(&db), flags, nil)
	keepAlive(filename)
	return db, Code(rc)
}

/** Close a connection; unfinalized statements turn it into a zombie that closes with them */
func sqlite3_close_v2(db sqliteConn) Code {
	if db == nil {
		return SQLITE_OK
	}
	return Code(c_sqlite3_close_v2(unsafe.Pointer(db)))
}

/** Most recent error message of the connection, copied */
func sqlite3_errmsg(db sqliteConn) []byte {
	if db == nil {
		return nil
	}
	return copyCString(c_sqlite3_errmsg(unsafe.Pointer(db)))
}

/** Most recent extended error code of the connection */
func sqlite3_extended_errcode(db sqliteConn) Code {
	if db == nil {
		return SQLITE_MISUSE
	}
	return Code(c_sqlite3_extended_errcode(unsafe.Pointer(db)))
}

/** English description of a result code, copied */
func sqlite3_errstr(rc Code) []byte {
	return copyCString(c_sqlite3_errstr(int32(rc)))
}

/** Run one or more statements; errmsg is copied and released with sqlite3_free */
func sqlite3_exec(db sqliteConn, sql []byte, callback, arg uintptr) (Code, []byte) {
	var cerr unsafe.Pointer
	rc := c_sqlite3_exec(unsafe.Pointer(db), bufPtr(sql), callback, arg, unsafe.Pointer(&cerr))
	keepAlive(sql)
	return Code(rc), readErrorAndFree(cerr)
}

/** Materialize a result table; result must be released with sqlite3_free_table */
func sqlite3_get_table(db sqliteConn, sql []byte) (result unsafe.Pointer, rows, cols int, rc Code, errmsg []byte) {
	var nrow, ncol int32
	var cerr unsafe.Pointer
	code := c_sqlite3_get_table(
		unsafe.Pointer(db),
		bufPtr(sql),
		unsafe.Pointer(&result),
		unsafe.Pointer(&nrow),
		unsafe.Pointer(&ncol),
		unsafe.Pointer(&cerr),
	)
	keepAlive(sql)
	return result, int(nrow), int(ncol), Code(code), readErrorAndFree(cerr)
}

/** Release a table returned by sqlite3_get_table */
func sqlite3_free_table(result unsafe.Pointer) {
	if result == nil {
		return
	}
	c_sqlite3_free_table(result)
}

/** Compile the first statement of sql. A nil statement with SQLITE_OK means sql held no statement */
func sqlite3_prepare_v2(db sqliteConn, sql []byte) (sqliteStmt, Code) {
	var stmt sqliteStmt
	// nByte includes the terminator so the engine can skip a copy
	rc := c_sqlite3_prepare_v2(unsafe.Pointer(db), bufPtr(sql), int32(len(sql)), unsafe.Pointer(&stmt), nil)
	keepAlive(sql)
	return stmt, Code(rc)
}

/** Step statement execution once
 * Returns SQLITE_ROW if a row is available
 * Returns SQLITE_DONE if execution finished
 */
func sqlite3_step(stmt sqliteStmt) Code {
	return Code(c_sqlite3_step(unsafe.Pointer(stmt)))
}

/** Reset a statement; replays the error code of the last failed step */
func sqlite3_reset(stmt sqliteStmt) Code {
	return Code(c_sqlite3_reset(unsafe.Pointer(stmt)))
}

/** Finalize a statement
 * SAFETY: caller must ensure that no other code can later call methods over the finalized statement
 */
func sqlite3_finalize(stmt sqliteStmt) Code {
	if stmt == nil {
		return SQLITE_OK
	}
	return Code(c_sqlite3_finalize(unsafe.Pointer(stmt)))
}

/** Reset all bound parameters to NULL */
func sqlite3_clear_bindings(stmt sqliteStmt) Code {
	return Code(c_sqlite3_clear_bindings(unsafe.Pointer(stmt)))
}

/** Largest parameter index of the statement */
func sqlite3_bind_parameter_count(stmt sqliteStmt) int {
	return int(c_sqlite3_bind_parameter_count(unsafe.Pointer(stmt)))
}

/** Index of a named parameter such as ":name", zero if there is none */
func sqlite3_bind_parameter_index(stmt sqliteStmt, name []byte) int {
	idx := c_sqlite3_bind_parameter_index(unsafe.Pointer(stmt), bufPtr(name))
	keepAlive(name)
	return int(idx)
}

/** Bind a positional argument to a statement: BLOB (copied by the engine) */
func sqlite3_bind_blob(stmt sqliteStmt, index int, value []byte) Code {
	ptr := bufPtr(value)
	if ptr == nil {
		// a NULL pointer would bind NULL instead of an empty blob
		ptr = unsafe.Pointer(&emptyBuf[0])
	}
	rc := c_sqlite3_bind_blob(unsafe.Pointer(stmt), int32(index), ptr, int32(len(value)), sqliteTransient)
	keepAlive(value)
	return Code(rc)
}

/** Bind a positional argument to a statement: DOUBLE */
func sqlite3_bind_double(stmt sqliteStmt, index int, value float64) Code {
	return Code(c_sqlite3_bind_double(unsafe.Pointer(stmt), int32(index), value))
}

/** Bind a positional argument to a statement: INTEGER */
func sqlite3_bind_int64(stmt sqliteStmt, index int, value int64) Code {
	return Code(c_sqlite3_bind_int64(unsafe.Pointer(stmt), int32(index), value))
}

/** Bind a positional argument to a statement: TEXT (encoded, NUL-terminated, copied by the engine) */
func sqlite3_bind_text(stmt sqliteStmt, index int, text []byte) Code {
	n := len(text) - 1
	rc := c_sqlite3_bind_text(unsafe.Pointer(stmt), int32(index), bufPtr(text), int32(n), sqliteTransient)
	keepAlive(text)
	return Code(rc)
}

/** Bind a positional argument to a statement: NULL */
func sqlite3_bind_null(stmt sqliteStmt, index int) Code {
	return Code(c_sqlite3_bind_null(unsafe.Pointer(stmt), int32(index)))
}

/** Get column count; zero for statements that produce no rows */
func sqlite3_column_count(stmt sqliteStmt) int {
	return int(c_sqlite3_column_count(unsafe.Pointer(stmt)))
}

/** Column name at the index, copied */
func sqlite3_column_name(stmt sqliteStmt, index int) []byte {
	return copyCString(c_sqlite3_column_name(unsafe.Pointer(stmt), int32(index)))
}

/** Runtime type of the column value in the current row */
func sqlite3_column_type(stmt sqliteStmt, index int) ColumnType {
	return ColumnType(c_sqlite3_column_type(unsafe.Pointer(stmt), int32(index)))
}

/** BLOB value copied out of engine memory, which is invalidated on the next step */
func sqlite3_column_blob(stmt sqliteStmt, index int) []byte {
	ptr := c_sqlite3_column_blob(unsafe.Pointer(stmt), int32(index))
	n := c_sqlite3_column_bytes(unsafe.Pointer(stmt), int32(index))
	return copyBytes(ptr, int(n))
}

/** Value converted to UTF-8 text by the engine, copied */
func sqlite3_column_text(stmt sqliteStmt, index int) []byte {
	ptr := c_sqlite3_column_text(unsafe.Pointer(stmt), int32(index))
	n := c_sqlite3_column_bytes(unsafe.Pointer(stmt), int32(index))
	return copyBytes(ptr, int(n))
}

/** INTEGER value of a column */
func sqlite3_column_int64(stmt sqliteStmt, index int) int64 {
	return c_sqlite3_column_int64(unsafe.Pointer(stmt), int32(index))
}

/** FLOAT value of a column */
func sqlite3_column_double(stmt sqliteStmt, index int) float64 {
	return c_sqlite3_column_double(unsafe.Pointer(stmt), int32(index))
}

/** Declared type of a result column, copied; nil for expressions */
func sqlite3_column_decltype(stmt sqliteStmt, index int) []byte {
	return copyCString(c_sqlite3_column_decltype(unsafe.Pointer(stmt), int32(index)))
}

/** Rowid of the most recent successful INSERT */
func sqlite3_last_insert_rowid(db sqliteConn) int64 {
	return c_sqlite3_last_insert_rowid(unsafe.Pointer(db))
}

/** Rows changed by the most recent INSERT, UPDATE or DELETE */
func sqlite3_changes(db sqliteConn) int {
	return int(c_sqlite3_changes(unsafe.Pointer(db)))
}

/** Rows changed since the connection was opened */
func sqlite3_total_changes(db sqliteConn) int {
	return int(c_sqlite3_total_changes(unsafe.Pointer(db)))
}

/** Set the busy handler timeout; zero or negative disables it */
func sqlite3_busy_timeout(db sqliteConn, ms int) Code {
	return Code(c_sqlite3_busy_timeout(unsafe.Pointer(db), int32(ms)))
}

/** Register a scalar function whose pApp is a callback registry id */
func sqlite3_create_function_v2(db sqliteConn, name []byte, nArg int, textRep int32, pApp, xFunc, xDestroy uintptr) Code {
	rc := c_sqlite3_create_function_v2(unsafe.Pointer(db), bufPtr(name), int32(nArg), textRep, pApp, xFunc, 0, 0, xDestroy)
	keepAlive(name)
	return Code(rc)
}

/** pApp of the function being evaluated */
func sqlite3_user_data(ctx uintptr) uintptr {
	return c_sqlite3_user_data(ctx)
}

/** Datatype of a function argument */
func sqlite3_value_type(value uintptr) ColumnType {
	return ColumnType(c_sqlite3_value_type(value))
}

/** Function argument as UTF-8 text, copied */
func sqlite3_value_text(value uintptr) []byte {
	ptr := c_sqlite3_value_text(value)
	n := c_sqlite3_value_bytes(value)
	return copyBytes(ptr, int(n))
}

/** Function argument as BLOB, copied */
func sqlite3_value_blob(value uintptr) []byte {
	ptr := c_sqlite3_value_blob(value)
	n := c_sqlite3_value_bytes(value)
	return copyBytes(ptr, int(n))
}

/** Set the function result: TEXT (encoded, NUL-terminated) */
func sqlite3_result_text(ctx uintptr, text []byte) {
	c_sqlite3_result_text(ctx, bufPtr(text), int32(len(text)-1), sqliteTransient)
	keepAlive(text)
}

/** Set the function result: BLOB */
func sqlite3_result_blob(ctx uintptr, value []byte) {
	ptr := bufPtr(value)
	if ptr == nil {
		ptr = unsafe.Pointer(&emptyBuf[0])
	}
	c_sqlite3_result_blob(ctx, ptr, int32(len(value)), sqliteTransient)
	keepAlive(value)
}

func sqlite3_result_int64(ctx uintptr, value int64) {
	c_sqlite3_result_int64(ctx, value)
}

func sqlite3_result_double(ctx uintptr, value float64) {
	c_sqlite3_result_double(ctx, value)
}

func sqlite3_result_null(ctx uintptr) {
	c_sqlite3_result_null(ctx)
}

/** Make the function raise an error with the given (encoded) message */
func sqlite3_result_error(ctx uintptr, msg []byte) {
	c_sqlite3_result_error(ctx, bufPtr(msg), int32(len(msg)-1))
	keepAlive(msg)
}

// Helpers

func readErrorAndFree(errPtr unsafe.Pointer) []byte {
	if errPtr == nil {
		return nil
	}
	defer c_sqlite3_free(errPtr)
	return copyCString(errPtr)
}
