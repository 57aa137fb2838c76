package sqlitebind

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"
)

// DriverName is the name the database/sql driver is registered under.
const DriverName = "sqlitebind"

// define all package level errors here
var (
	ErrDriverStmtClosed = errors.New("sqlitebind: statement closed")
	ErrDriverConnClosed = errors.New("sqlitebind: connection closed")
	ErrDriverTxDone     = errors.New("sqlitebind: transaction done")
)

// define all package level structs here

type sqlDriver struct{}

type sqlConn struct {
	mu     sync.Mutex
	conn   *Connection
	closed bool
}

type sqlStmt struct {
	conn      *sqlConn
	sql       string
	numInputs int
	closed    bool
}

type sqlRows struct {
	conn      *sqlConn
	stmt      *PreparedStatement
	decltypes []string
	closed    bool
}

type sqlResult struct {
	lastInsertId int64
	rowsAffected int64
}

type sqlTx struct {
	conn *sqlConn
	done bool
}

// register driver
func init() {
	sql.Register(DriverName, &sqlDriver{})
}

// Implement sql.Driver methods
func (d *sqlDriver) Open(dsn string) (driver.Conn, error) {
	c, err := NewConnector(dsn)
	if err != nil {
		return nil, err
	}
	return c.Connect(context.Background())
}

// --- driver.Conn and friends ---

// Ensure sqlConn implements required interfaces.
var (
	_ driver.Conn               = (*sqlConn)(nil)
	_ driver.ConnPrepareContext = (*sqlConn)(nil)
	_ driver.ExecerContext      = (*sqlConn)(nil)
	_ driver.QueryerContext     = (*sqlConn)(nil)
	_ driver.Pinger             = (*sqlConn)(nil)
	_ driver.ConnBeginTx        = (*sqlConn)(nil)
)

func (c *sqlConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *sqlConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	// PREPARE in Prepare - do not delay that
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	ps, err := c.conn.Prepare(query)
	if err != nil {
		return nil, err
	}
	// record the number of inputs and free immediately to avoid keeping state
	num := ps.ParameterCount()
	_ = ps.Free()

	return &sqlStmt{
		conn:      c,
		sql:       query,
		numInputs: num,
	}, nil
}

func (c *sqlConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if err := c.conn.Release(); err != nil {
		return err
	}
	c.closed = true
	return nil
}

func (c *sqlConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *sqlConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	begin := "BEGIN"
	if opts.ReadOnly {
		begin = "BEGIN DEFERRED"
	} else if driver.IsolationLevel(sql.LevelSerializable) == opts.Isolation {
		begin = "BEGIN IMMEDIATE"
	}
	if _, err := c.ExecContext(ctx, begin, nil); err != nil {
		return nil, err
	}
	return &sqlTx{conn: c}, nil
}

func (c *sqlConn) Ping(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	// trivial ping: simple select constant
	_, err := c.ExecContext(ctx, "SELECT 1", nil)
	return err
}

// ExecContext runs every statement of query when there are no args. With
// args only the first statement is run.
func (c *sqlConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if len(args) == 0 {
		if err := c.conn.Exec(query, nil); err != nil {
			return nil, err
		}
		lastInsert, err := c.conn.LastInsertRowID()
		if err != nil {
			return nil, err
		}
		return &sqlResult{lastInsertId: lastInsert, rowsAffected: int64(c.conn.Changes())}, nil
	}

	ps, err := c.conn.Prepare(query)
	if err != nil {
		return nil, err
	}
	// free regardless of status
	defer ps.Free()
	if err := bindArgs(ps, args); err != nil {
		return nil, err
	}
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		more, err := ps.Step()
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}
	}
	return &sqlResult{
		lastInsertId: sqlite3_last_insert_rowid(c.conn.handle),
		rowsAffected: int64(sqlite3_changes(c.conn.handle)),
	}, nil
}

func (c *sqlConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	// Only single-statement queries supported here
	ps, err := c.conn.Prepare(query)
	if err != nil {
		return nil, err
	}
	if len(args) > 0 {
		if err := bindArgs(ps, args); err != nil {
			_ = ps.Free()
			return nil, err
		}
	}
	// Return rows wrapper; do not step yet, leave cursor before first row
	decltypes := make([]string, ps.ColumnCount())
	for i := range decltypes {
		decltypes[i] = string(sqlite3_column_decltype(ps.stmt.ptr, i))
	}
	return &sqlRows{conn: c, stmt: ps, decltypes: decltypes}, nil
}

func (c *sqlConn) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.conn.IsOpen() {
		return ErrDriverConnClosed
	}
	return nil
}

// SetBusyTimeout sets the busy timeout for this connection in milliseconds.
// Pass 0 to disable the busy handler (immediate SQLITE_BUSY on contention).
func (c *sqlConn) SetBusyTimeout(timeoutMs int) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.SetTimeout(timeoutMs)
}

// --- driver.Stmt and friends ---

// Ensure sqlStmt implements required interfaces.
var (
	_ driver.Stmt             = (*sqlStmt)(nil)
	_ driver.StmtExecContext  = (*sqlStmt)(nil)
	_ driver.StmtQueryContext = (*sqlStmt)(nil)
)

func (s *sqlStmt) Close() error {
	s.closed = true
	return nil
}

func (s *sqlStmt) NumInput() int {
	return s.numInputs
}

func (s *sqlStmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), toNamed(args))
}

func (s *sqlStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	if s.closed {
		return nil, ErrDriverStmtClosed
	}
	return s.conn.ExecContext(ctx, s.sql, args)
}

func (s *sqlStmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), toNamed(args))
}

func (s *sqlStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	if s.closed {
		return nil, ErrDriverStmtClosed
	}
	return s.conn.QueryContext(ctx, s.sql, args)
}

func toNamed(args []driver.Value) []driver.NamedValue {
	named := make([]driver.NamedValue, len(args))
	for i, v := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return named
}

// --- driver.Rows ---

// Ensure sqlRows implements the required interface.
var _ driver.Rows = (*sqlRows)(nil)

func (r *sqlRows) Columns() []string {
	return r.stmt.Columns()
}

func (r *sqlRows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	return r.stmt.Free()
}

func (r *sqlRows) Next(dest []driver.Value) error {
	if r.closed {
		return io.EOF
	}
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	more, err := r.stmt.Step()
	if err != nil {
		return err
	}
	if !more {
		return io.EOF
	}
	n := r.stmt.ColumnCount()
	if len(dest) != n {
		return fmt.Errorf("sqlitebind: expected %d dests, got %d", n, len(dest))
	}
	ptr := r.stmt.stmt.ptr
	for i, v := range r.stmt.values {
		switch v.Type {
		case SQLITE_NULL:
			dest[i] = nil
		case SQLITE_INTEGER:
			dest[i] = sqlite3_column_int64(ptr, i)
		case SQLITE_FLOAT:
			dest[i] = sqlite3_column_double(ptr, i)
		case SQLITE_TEXT:
			// Check if column type indicates a time value
			if isTimeColumn(r.decltypes[i]) {
				if t, err := parseTimeString(v.Text); err == nil {
					dest[i] = t
					continue
				}
			}
			dest[i] = v.Text
		case SQLITE_BLOB:
			dest[i] = v.Blob
		default:
			dest[i] = nil
		}
	}
	return nil
}

// --- driver.Result ---

var _ driver.Result = (*sqlResult)(nil)

func (r *sqlResult) LastInsertId() (int64, error) {
	return r.lastInsertId, nil
}

func (r *sqlResult) RowsAffected() (int64, error) {
	return r.rowsAffected, nil
}

// --- driver.Tx ---

var _ driver.Tx = (*sqlTx)(nil)

func (tx *sqlTx) Commit() error {
	if tx.done {
		return ErrDriverTxDone
	}
	_, err := tx.conn.ExecContext(context.Background(), "COMMIT", nil)
	tx.done = true
	return err
}

func (tx *sqlTx) Rollback() error {
	if tx.done {
		return ErrDriverTxDone
	}
	_, err := tx.conn.ExecContext(context.Background(), "ROLLBACK", nil)
	tx.done = true
	return err
}

// --- Connector Pattern ---

// Connector implements driver.Connector for programmatic configuration:
//
//	connector, err := sqlitebind.NewConnector("app.db?_busy_timeout=1000", sqlitebind.WithLogger(l))
//	...
//	db := sql.OpenDB(connector)
type Connector struct {
	dsn  string
	opts []Option
}

// NewConnector creates a Connector for dsn; opts apply to every Connection
// it opens. The DSN format is that of Connection.OpenDSN.
func NewConnector(dsn string, opts ...Option) (*Connector, error) {
	if _, err := parseDSN(dsn); err != nil {
		return nil, err
	}
	return &Connector{dsn: dsn, opts: opts}, nil
}

// Connect implements driver.Connector. Unlike NewConnection it reports a
// missing or outdated sqlite library as an error.
func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := acquireRuntime(); err != nil {
		return nil, err
	}
	conn := newConnection(c.opts)
	if err := conn.OpenDSN(c.dsn); err != nil {
		_ = conn.Release()
		return nil, err
	}
	return &sqlConn{conn: conn}, nil
}

// Driver implements driver.Connector.
func (c *Connector) Driver() driver.Driver {
	return &sqlDriver{}
}

// Ensure Connector implements driver.Connector
var _ driver.Connector = (*Connector)(nil)

// Helpers

// bindArgs binds ordered and named values to a statement.
// Named values are resolved with the :name, @name and $name spellings,
// otherwise ordinal positions are used (1-based).
func bindArgs(ps *PreparedStatement, args []driver.NamedValue) error {
	hasNamed := false
	for _, nv := range args {
		if nv.Name != "" {
			hasNamed = true
			break
		}
	}
	if !hasNamed && len(args) != ps.ParameterCount() {
		return fmt.Errorf("sqlitebind: got %d args, want %d", len(args), ps.ParameterCount())
	}
	for idx, nv := range args {
		pos := idx + 1
		if nv.Name != "" {
			pos = namedPosition(ps, nv.Name)
			if pos <= 0 {
				return fmt.Errorf("sqlitebind: unknown named parameter %q", nv.Name)
			}
		} else if nv.Ordinal > 0 {
			pos = nv.Ordinal
		}
		if err := bindOne(ps, pos, nv.Value); err != nil {
			return err
		}
	}
	return nil
}

func namedPosition(ps *PreparedStatement, name string) int {
	for _, prefix := range []string{":", "@", "$"} {
		cname, err := ps.codec.Encode(prefix + name)
		if err != nil {
			return 0
		}
		if pos := sqlite3_bind_parameter_index(ps.stmt.ptr, cname); pos > 0 {
			return pos
		}
	}
	return 0
}

func bindOne(ps *PreparedStatement, position int, v any) error {
	if v == nil {
		return ps.BindNull(position)
	}
	switch x := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, bool:
		return ps.Bind(position, BindInteger, x)
	case uint64:
		// cap at MaxInt64 to avoid overflow
		if x > uint64(math.MaxInt64) {
			x = math.MaxInt64
		}
		return ps.Bind(position, BindInteger, x)
	case float32, float64:
		return ps.Bind(position, BindDouble, x)
	case []byte:
		return ps.Bind(position, BindBlob, x)
	case string:
		return ps.Bind(position, BindText, x)
	case time.Time:
		// encode as RFC3339Nano string
		return ps.Bind(position, BindText, x.Format(time.RFC3339Nano))
	default:
		// Fallback to fmt to string
		return ps.Bind(position, BindText, fmt.Sprint(v))
	}
}

// isTimeColumn checks if the column declared type indicates a time/date column.
// This matches the behavior of github.com/mattn/go-sqlite3.
func isTimeColumn(decltype string) bool {
	if decltype == "" {
		return false
	}
	upper := strings.ToUpper(decltype)
	return upper == "TIMESTAMP" || upper == "DATETIME" || upper == "DATE"
}

// SQLiteTimestampFormats are the timestamp formats supported by go-sqlite3.
// https://github.com/mattn/go-sqlite3/blob/master/sqlite3.go
var SQLiteTimestampFormats = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseTimeString attempts to parse a string as a time.Time value.
// This matches the behavior of github.com/mattn/go-sqlite3.
func parseTimeString(s string) (time.Time, error) {
	// Strip trailing "Z" suffix before parsing (go-sqlite3 behavior)
	s = strings.TrimSuffix(s, "Z")
	for _, format := range SQLiteTimestampFormats {
		if t, err := time.ParseInLocation(format, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as time", s)
}
