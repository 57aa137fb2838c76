package sqlitebind

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"weak"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AccessMode selects how Open opens the database file.
type AccessMode int

const (
	ReadMode AccessMode = iota
	WriteMode
)

func (m AccessMode) String() string {
	switch m {
	case ReadMode:
		return "read"
	case WriteMode:
		return "write"
	default:
		return "AccessMode(" + strconv.Itoa(int(m)) + ")"
	}
}

// MemoryPath is the path of a transient in-memory database. Open maps an
// empty path to it.
const MemoryPath = ":memory:"

// Connection owns one native sqlite3 connection. The zero value is not
// usable; create connections with NewConnection and release them with
// Release.
//
// A Connection is not safe for concurrent use. Cursors and statements it
// creates may be interleaved but belong to the same goroutine discipline.
type Connection struct {
	lastError
	noCopy noCopy

	handle  sqliteConn // nil iff closed
	path    string
	id      uuid.UUID
	log     *zap.Logger
	codec   *TextCodec
	changes int

	busyTimeout int // -1 = default, 0 = disabled, >0 = custom

	// live children, finalized by Close if still registered
	cursors *handleTable[*nativeStmt]
	stmts   *handleTable[*nativeStmt]

	callbackDepth int
	released      bool
}

// NewConnection returns a closed connection and takes a reference on the
// shared sqlite library, loading it on first use. It panics if the library
// cannot be found or is older than MinEngineVersion; use LoadRuntime to
// check beforehand.
func NewConnection(opts ...Option) *Connection {
	mustAcquireRuntime()
	return newConnection(opts)
}

// newConnection builds a Connection for a runtime reference the caller
// already holds.
func newConnection(opts []Option) *Connection {
	c := &Connection{
		id:          uuid.New(),
		log:         Logger(),
		codec:       NewTextCodec(nil),
		busyTimeout: -1,
		cursors:     newHandleTable[*nativeStmt](),
		stmts:       newHandleTable[*nativeStmt](),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.Stringer("conn", c.id))
	return c
}

// Release closes the connection and drops its reference on the shared
// library. The connection cannot be reopened afterwards. Release is
// idempotent; if Close fails the reference is kept and the error returned.
func (c *Connection) Release() error {
	if c.released {
		return nil
	}
	if err := c.Close(); err != nil {
		return err
	}
	c.released = true
	releaseRuntime()
	return nil
}

// ID identifies the connection in log output.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

// Path returns the path the connection is open on, or "" when closed.
func (c *Connection) Path() string {
	return c.path
}

func (c *Connection) IsOpen() bool {
	return c.handle != nil
}

// LiveHandles reports the cursors and prepared statements created by this
// connection that have not been freed yet.
func (c *Connection) LiveHandles() (cursors, statements int) {
	return c.cursors.len(), c.stmts.len()
}

// Changes returns the number of rows changed by the last successful Exec or
// StoreBLOB.
func (c *Connection) Changes() int {
	return c.changes
}

// Open opens the database at path. An empty path opens a transient
// in-memory database. In WriteMode the file is created only when
// createIfMissing is set; ReadMode never creates.
//
// Opening the path the connection is already open on is a no-op; opening a
// different one fails with ErrAlreadyOpen.
func (c *Connection) Open(path string, mode AccessMode, createIfMissing bool) error {
	const loc = "Open"
	if c.released {
		return c.record(bindingError(SQLITE_MISUSE, loc, ErrInvalidHandle))
	}
	if c.callbackDepth > 0 {
		return c.record(bindingError(SQLITE_MISUSE, loc, ErrInCallback))
	}
	if path == "" {
		path = MemoryPath
	}
	if c.handle != nil {
		if path == c.path {
			return c.record(nil)
		}
		return c.record(bindingError(SQLITE_MISUSE, loc, fmt.Errorf("%w: %s", ErrAlreadyOpen, c.path)))
	}

	var flags int32
	switch mode {
	case ReadMode:
		flags = sqliteOpenReadOnly
	case WriteMode:
		flags = sqliteOpenReadWrite
		if createIfMissing {
			flags |= sqliteOpenCreate
		}
	default:
		return c.record(bindingError(SQLITE_MISUSE, loc, fmt.Errorf("invalid access mode %d", int(mode))))
	}

	cpath, err := c.codec.Encode(path)
	if err != nil {
		return c.record(err)
	}
	db, rc := sqlite3_open_v2(cpath, flags)
	if rc != SQLITE_OK {
		msg := ""
		if db != nil {
			// the engine hands back a handle even on failure; it holds the message
			msg = c.codec.Decode(sqlite3_errmsg(db))
			sqlite3_close_v2(db)
		}
		c.log.Debug("open failed", zap.String("path", path), zap.Stringer("code", rc))
		return c.record(statusToError(rc, loc, msg))
	}
	c.handle, c.path = db, path

	timeout := c.busyTimeout
	if timeout < 0 {
		timeout = DefaultBusyTimeout
	}
	if timeout > 0 {
		if rc := sqlite3_busy_timeout(db, timeout); rc != SQLITE_OK {
			c.log.Warn("busy timeout not applied", zap.Int("ms", timeout), zap.Stringer("code", rc))
		}
	}
	c.log.Debug("database opened",
		zap.String("path", path),
		zap.Stringer("mode", mode),
		zap.Bool("create", createIfMissing))
	return c.record(nil)
}

// OpenDSN opens a database described as path[?mode=ro|rw|rwc|memory&_busy_timeout=ms].
// The default mode is rwc. A _busy_timeout of 0 disables the busy handler.
func (c *Connection) OpenDSN(dsn string) error {
	config, err := parseDSN(dsn)
	if err != nil {
		return c.record(&Error{Code: SQLITE_MISUSE, Msg: err.Error(), Loc: "OpenDSN", Cause: err})
	}
	if config.BusyTimeout != 0 {
		c.busyTimeout = max(config.BusyTimeout, 0)
	}
	return c.Open(config.Path, config.Mode, config.Create)
}

// Close finalizes every cursor and statement still registered on the
// connection, then closes the native connection. Closing a closed
// connection succeeds. Close fails with SQLITE_MISUSE when called from a
// row callback or scalar function running on this connection.
func (c *Connection) Close() error {
	const loc = "Close"
	if c.handle == nil {
		return c.record(nil)
	}
	if c.callbackDepth > 0 {
		return c.record(bindingError(SQLITE_MISUSE, loc, ErrInCallback))
	}
	c.finalizeAll("cursor", c.cursors)
	c.finalizeAll("statement", c.stmts)

	if rc := sqlite3_close_v2(c.handle); rc != SQLITE_OK {
		return c.record(statusToError(rc, loc, c.errmsg()))
	}
	c.log.Debug("database closed", zap.String("path", c.path))
	c.handle, c.path, c.changes = nil, "", 0
	return c.record(nil)
}

// finalizeAll force-finalizes leftovers; their errors are only logged.
func (c *Connection) finalizeAll(kind string, table *handleTable[*nativeStmt]) {
	for _, ns := range table.drain() {
		ns.owner = nil
		if rc := ns.finalize(); rc != SQLITE_OK {
			c.log.Warn("finalize failed during close", zap.String("kind", kind), zap.Stringer("code", rc))
			continue
		}
		c.log.Warn("finalized unreleased "+kind, zap.String("path", c.path))
	}
}

// checkOpen fails with ErrInvalidHandle when the connection is closed.
func (c *Connection) checkOpen(loc string) error {
	if c.handle == nil {
		return c.record(bindingError(SQLITE_MISUSE, loc, ErrInvalidHandle))
	}
	return nil
}

// errmsg returns the engine's message for the most recent failure.
func (c *Connection) errmsg() string {
	if c.handle == nil {
		return ""
	}
	return c.codec.Decode(sqlite3_errmsg(c.handle))
}

// Exec runs every statement in sql. When fn is not nil it is called for
// each result row; a non-nil return stops execution and Exec fails with
// SQLITE_ABORT wrapping the returned error.
func (c *Connection) Exec(sql string, fn RowCallback) error {
	const loc = "Exec"
	if err := c.checkOpen(loc); err != nil {
		return err
	}
	csql, err := c.codec.Encode(sql)
	if err != nil {
		return c.record(err)
	}
	var callback, arg uintptr
	var entry *callbackEntry
	if fn != nil {
		entry = &callbackEntry{conn: c, row: fn}
		id := callbacks.insert(entry)
		defer callbacks.remove(id)
		callback, arg = bridge.exec, uintptr(id)
	}
	c.log.Debug("exec", zap.String("sql", sql))
	rc, msg := sqlite3_exec(c.handle, csql, callback, arg)
	if rc != SQLITE_OK {
		if entry != nil && entry.err != nil && rc.Primary() == SQLITE_ABORT {
			return c.record(&Error{Code: rc, Msg: c.codec.Decode(msg), Loc: loc, Cause: entry.err})
		}
		text := c.codec.Decode(msg)
		if text == "" {
			text = c.errmsg()
		}
		return c.record(statusToError(rc, loc, text))
	}
	c.changes = sqlite3_changes(c.handle)
	return c.record(nil)
}

// GetTable runs sql and materializes the result according to policy.
func (c *Connection) GetTable(sql string, policy TablePolicy) (*ResultTable, error) {
	const loc = "GetTable"
	if err := c.checkOpen(loc); err != nil {
		return nil, err
	}
	csql, err := c.codec.Encode(sql)
	if err != nil {
		return nil, c.record(err)
	}
	result, nrow, ncol, rc, msg := sqlite3_get_table(c.handle, csql)
	defer sqlite3_free_table(result)
	if rc != SQLITE_OK {
		text := c.codec.Decode(msg)
		if text == "" {
			text = c.errmsg()
		}
		return nil, c.record(statusToError(rc, loc, text))
	}
	return newResultTable(result, nrow, ncol, policy, c.codec), c.record(nil)
}

// prepare compiles the first statement of sql and registers it in table.
func (c *Connection) prepare(loc, sql string, table *handleTable[*nativeStmt]) (*nativeStmt, error) {
	if err := c.checkOpen(loc); err != nil {
		return nil, err
	}
	csql, err := c.codec.Encode(sql)
	if err != nil {
		return nil, c.record(err)
	}
	stmt, rc := sqlite3_prepare_v2(c.handle, csql)
	if rc != SQLITE_OK {
		return nil, c.record(statusToError(rc, loc, c.errmsg()))
	}
	if stmt == nil {
		return nil, c.record(bindingError(SQLITE_MISUSE, loc, ErrEmptyStatement))
	}
	c.log.Debug("statement prepared", zap.String("sql", sql))
	return track(table, stmt), nil
}

func (c *Connection) columnNames(stmt sqliteStmt) []string {
	n := sqlite3_column_count(stmt)
	names := make([]string, n)
	for i := range names {
		names[i] = c.codec.Decode(sqlite3_column_name(stmt, i))
	}
	return names
}

// Query compiles sql into a cursor. The statement is stepped once and reset
// so HasRows can tell whether the query produces anything. Statements
// without result columns fail with ErrNoColumns.
func (c *Connection) Query(sql string) (*ResultCursor, error) {
	const loc = "Query"
	ns, err := c.prepare(loc, sql, c.cursors)
	if err != nil {
		return nil, err
	}
	columns := c.columnNames(ns.ptr)
	if len(columns) == 0 {
		ns.finalize()
		return nil, c.record(bindingError(SQLITE_MISUSE, loc, ErrNoColumns))
	}
	rc := sqlite3_step(ns.ptr)
	if rc != SQLITE_ROW && rc != SQLITE_DONE {
		err := statusToError(rc, loc, c.errmsg())
		ns.finalize()
		return nil, c.record(err)
	}
	sqlite3_reset(ns.ptr)
	return &ResultCursor{
		stmt:    ns,
		conn:    weak.Make(c),
		codec:   c.codec,
		columns: columns,
		hasRows: rc == SQLITE_ROW,
	}, c.record(nil)
}

// Prepare compiles the first statement of sql for repeated execution.
func (c *Connection) Prepare(sql string) (*PreparedStatement, error) {
	ns, err := c.prepare("Prepare", sql, c.stmts)
	if err != nil {
		return nil, err
	}
	return &PreparedStatement{
		stmt:    ns,
		conn:    weak.Make(c),
		codec:   c.codec,
		params:  sqlite3_bind_parameter_count(ns.ptr),
		columns: c.columnNames(ns.ptr),
	}, c.record(nil)
}

// StoreBLOB executes an INSERT, UPDATE or REPLACE once, binding blobs to
// ?1..?n in order. The engine copies every blob before StoreBLOB returns.
// The statement is always finalized; the first error encountered wins.
func (c *Connection) StoreBLOB(sql string, blobs ...[]byte) error {
	const loc = "StoreBLOB"
	if err := c.checkOpen(loc); err != nil {
		return err
	}
	if !isWriteStatement(sql) {
		return c.record(bindingError(SQLITE_MISUSE, loc, ErrNotWriteStatement))
	}
	csql, err := c.codec.Encode(sql)
	if err != nil {
		return c.record(err)
	}
	stmt, rc := sqlite3_prepare_v2(c.handle, csql)
	if rc != SQLITE_OK {
		return c.record(statusToError(rc, loc, c.errmsg()))
	}
	if stmt == nil {
		return c.record(bindingError(SQLITE_MISUSE, loc, ErrEmptyStatement))
	}

	var first error
	for i, b := range blobs {
		if rc := sqlite3_bind_blob(stmt, i+1, b); rc != SQLITE_OK {
			first = statusToError(rc, loc, c.errmsg())
			break
		}
	}
	if first == nil {
		if rc := sqlite3_step(stmt); rc != SQLITE_DONE && rc != SQLITE_ROW {
			first = statusToError(rc, loc, c.errmsg())
		} else {
			c.changes = sqlite3_changes(c.handle)
		}
	}
	if rc := sqlite3_finalize(stmt); rc != SQLITE_OK && first == nil {
		first = statusToError(rc, loc, c.errmsg())
	}
	return c.record(first)
}

// isWriteStatement reports whether sql starts with INSERT, UPDATE or
// REPLACE once leading whitespace and comments are skipped.
func isWriteStatement(sql string) bool {
	s := sql
	for {
		s = strings.TrimLeft(s, " \t\r\n\f\v")
		switch {
		case strings.HasPrefix(s, "--"):
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				return false
			}
			s = s[i+1:]
		case strings.HasPrefix(s, "/*"):
			i := strings.Index(s[2:], "*/")
			if i < 0 {
				return false
			}
			s = s[i+4:]
		default:
			for _, kw := range []string{"INSERT", "UPDATE", "REPLACE"} {
				if len(s) >= len(kw) && strings.EqualFold(s[:len(kw)], kw) &&
					(len(s) == len(kw) || !isIdentByte(s[len(kw)])) {
					return true
				}
			}
			return false
		}
	}
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '$' || b >= 0x80 ||
		('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

// quoteIdent renders name as an SQL identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// AttachDB attaches the database file at path under alias.
func (c *Connection) AttachDB(path, alias string) error {
	lit, err := c.EscapeStr(path, true)
	if err != nil {
		return err
	}
	return c.Exec("ATTACH DATABASE "+lit+" AS "+quoteIdent(alias), nil)
}

// DetachDB detaches the database attached under alias.
func (c *Connection) DetachDB(alias string) error {
	return c.Exec("DETACH DATABASE "+quoteIdent(alias), nil)
}

// EscapeStr renders v for inclusion in SQL text. Values of numeric kind,
// named types such as time.Duration included, are formatted as they are and
// bools become 1 or 0. Everything else is escaped as a string by the
// engine's quote() function: strings and []byte as they are, fmt.Stringer
// through String, other values through fmt.Sprint. With quote unset the
// surrounding single quotes are dropped. A nil v renders as NULL.
//
// Text containing a NUL byte fails with ErrEncoding, since the engine would
// cut the literal short at the NUL.
func (c *Connection) EscapeStr(v any, quote bool) (string, error) {
	const loc = "EscapeStr"
	if v == nil {
		return "NULL", c.record(nil)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), c.record(nil)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), c.record(nil)
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 32), c.record(nil)
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64), c.record(nil)
	case reflect.Bool:
		if rv.Bool() {
			return "1", c.record(nil)
		}
		return "0", c.record(nil)
	case reflect.String:
		return c.quoteString(loc, rv.String(), quote)
	}
	switch x := v.(type) {
	case []byte:
		return c.quoteString(loc, string(x), quote)
	case fmt.Stringer:
		return c.quoteString(loc, x.String(), quote)
	default:
		return c.quoteString(loc, fmt.Sprint(v), quote)
	}
}

func (c *Connection) quoteString(loc, s string, quote bool) (string, error) {
	if err := c.checkOpen(loc); err != nil {
		return "", err
	}
	if strings.IndexByte(s, 0) >= 0 {
		return "", c.record(bindingError(SQLITE_MISMATCH, loc, fmt.Errorf("%w: text contains a NUL byte", ErrEncoding)))
	}
	csql, err := c.codec.Encode("SELECT quote(?1)")
	if err != nil {
		return "", c.record(err)
	}
	text, err := c.codec.Encode(s)
	if err != nil {
		return "", c.record(err)
	}
	stmt, rc := sqlite3_prepare_v2(c.handle, csql)
	if rc != SQLITE_OK {
		return "", c.record(statusToError(rc, loc, c.errmsg()))
	}
	defer sqlite3_finalize(stmt)
	if rc := sqlite3_bind_text(stmt, 1, text); rc != SQLITE_OK {
		return "", c.record(statusToError(rc, loc, c.errmsg()))
	}
	if rc := sqlite3_step(stmt); rc != SQLITE_ROW {
		return "", c.record(statusToError(rc, loc, c.errmsg()))
	}
	out := c.codec.Decode(sqlite3_column_text(stmt, 0))
	if !quote && len(out) >= 2 {
		out = out[1 : len(out)-1]
	}
	return out, c.record(nil)
}

// SetTimeout sets the busy timeout in milliseconds; zero or a negative
// value disables the busy handler. The value is kept for later Opens.
func (c *Connection) SetTimeout(ms int) error {
	const loc = "SetTimeout"
	if err := c.checkOpen(loc); err != nil {
		return err
	}
	ms = max(ms, 0)
	if rc := sqlite3_busy_timeout(c.handle, ms); rc != SQLITE_OK {
		return c.record(statusToError(rc, loc, c.errmsg()))
	}
	c.busyTimeout = ms
	return c.record(nil)
}

// LastInsertRowID returns the rowid of the most recent successful INSERT.
func (c *Connection) LastInsertRowID() (int64, error) {
	if err := c.checkOpen("LastInsertRowID"); err != nil {
		return 0, err
	}
	return sqlite3_last_insert_rowid(c.handle), c.record(nil)
}

// TotalChanges returns the rows changed since the connection was opened.
func (c *Connection) TotalChanges() (int, error) {
	if err := c.checkOpen("TotalChanges"); err != nil {
		return 0, err
	}
	return sqlite3_total_changes(c.handle), c.record(nil)
}
