package sqlitebind

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// openConn returns an in-memory connection released on cleanup.
func openConn(t *testing.T, opts ...Option) *Connection {
	t.Helper()
	requireLib(t)
	c := NewConnection(opts...)
	require.NoError(t, c.Open("", WriteMode, true))
	t.Cleanup(func() { require.NoError(t, c.Release()) })
	return c
}

func scalarText(t *testing.T, c *Connection, sql string) string {
	t.Helper()
	table, err := c.GetTable(sql, TableAll)
	require.NoError(t, err)
	row, err := table.GetRow(0)
	require.NoError(t, err)
	return row[0]
}

func TestOpenMemoryAndClose(t *testing.T) {
	requireLib(t)
	refs := runtimeRefs()
	c := NewConnection()
	require.Equal(t, refs+1, runtimeRefs())
	require.False(t, c.IsOpen())

	require.NoError(t, c.Open("", WriteMode, true))
	require.True(t, c.IsOpen())
	require.Equal(t, MemoryPath, c.Path())

	// same path is a no-op, another path is refused
	require.NoError(t, c.Open(MemoryPath, WriteMode, true))
	err := c.Open(filepath.Join(t.TempDir(), "other.db"), WriteMode, true)
	require.ErrorIs(t, err, ErrAlreadyOpen)
	code, msg := c.LastError()
	require.Equal(t, SQLITE_MISUSE, code)
	require.Contains(t, msg, "already open")
	require.Equal(t, MemoryPath, c.Path())

	require.NoError(t, c.Close())
	require.False(t, c.IsOpen())
	require.Empty(t, c.Path())
	require.NoError(t, c.Close())
	code, _ = c.LastError()
	require.Equal(t, SQLITE_OK, code)

	require.NoError(t, c.Release())
	require.NoError(t, c.Release())
	require.Equal(t, refs, runtimeRefs())
	require.ErrorIs(t, c.Open("", WriteMode, true), ErrInvalidHandle)
}

func TestOpenModes(t *testing.T) {
	requireLib(t)
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.db")

	c := NewConnection()
	defer c.Release()

	require.ErrorIs(t, c.Open(missing, ReadMode, true), ErrCantOpen)
	require.False(t, c.IsOpen())
	require.ErrorIs(t, c.Open(missing, WriteMode, false), ErrCantOpen)
	code, msg := c.LastError()
	require.Equal(t, SQLITE_CANTOPEN, code.Primary())
	require.NotEmpty(t, msg)

	require.NoError(t, c.Open(missing, WriteMode, true))
	require.NoError(t, c.Exec("CREATE TABLE t(x); INSERT INTO t VALUES (1)", nil))
	require.NoError(t, c.Close())

	require.NoError(t, c.Open(missing, ReadMode, false))
	require.ErrorIs(t, c.Exec("INSERT INTO t VALUES (2)", nil), ErrReadonly)
	require.Equal(t, "1", scalarText(t, c, "SELECT count(*) FROM t"))
	require.NoError(t, c.Close())

	require.NoError(t, c.OpenDSN(missing+"?mode=rw&_busy_timeout=10"))
	require.NoError(t, c.Exec("INSERT INTO t VALUES (2)", nil))
	require.Equal(t, 10, c.busyTimeout)
	require.NoError(t, c.Close())

	require.Error(t, c.OpenDSN(missing+"?mode=bogus"))
	require.False(t, c.IsOpen())
}

func TestClosedConnectionOperations(t *testing.T) {
	requireLib(t)
	c := NewConnection()
	defer c.Release()

	_, err := c.Query("SELECT 1")
	require.ErrorIs(t, err, ErrInvalidHandle)
	_, err = c.Prepare("SELECT 1")
	require.ErrorIs(t, err, ErrInvalidHandle)
	_, err = c.GetTable("SELECT 1", TableAll)
	require.ErrorIs(t, err, ErrInvalidHandle)
	_, err = c.LastInsertRowID()
	require.ErrorIs(t, err, ErrInvalidHandle)
	_, err = c.TotalChanges()
	require.ErrorIs(t, err, ErrInvalidHandle)
	_, err = c.EscapeStr("x", true)
	require.ErrorIs(t, err, ErrInvalidHandle)
	require.ErrorIs(t, c.Exec("SELECT 1", nil), ErrInvalidHandle)
	require.ErrorIs(t, c.StoreBLOB("INSERT INTO t VALUES (?)", []byte{1}), ErrInvalidHandle)
	require.ErrorIs(t, c.AttachDB("x.db", "x"), ErrInvalidHandle)
	require.ErrorIs(t, c.DetachDB("x"), ErrInvalidHandle)
	require.ErrorIs(t, c.SetTimeout(10), ErrInvalidHandle)
	require.ErrorIs(t, c.CreateScalarFunction("f", 0, func(*FuncContext, []Value) {}, 0, nil), ErrInvalidHandle)

	code, msg := c.LastError()
	require.Equal(t, SQLITE_MISUSE, code)
	require.Equal(t, ErrInvalidHandle.Error(), msg)
}

func TestBasicScenario(t *testing.T) {
	c := openConn(t)
	require.NoError(t, c.Exec("CREATE TABLE t(a INT, b TEXT)", nil))
	require.NoError(t, c.Exec("INSERT INTO t VALUES (1,'x')", nil))
	require.Equal(t, 1, c.Changes())

	cur, err := c.Query("SELECT a,b FROM t")
	require.NoError(t, err)
	defer cur.Free()

	ok, err := cur.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"1", "x"}, cur.Row())

	ok, err = cur.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestExecRowCallback(t *testing.T) {
	c := openConn(t)
	require.NoError(t, c.Exec("CREATE TABLE t(a INT, b TEXT); INSERT INTO t VALUES (1, NULL), (2, 'two')", nil))

	var rows [][]string
	var names []string
	err := c.Exec("SELECT a, b FROM t ORDER BY a", func(n int, values, cols []string) error {
		require.Equal(t, 2, n)
		rows = append(rows, values)
		names = cols
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, [][]string{{"1", ""}, {"2", "two"}}, rows)
	require.Equal(t, []string{"a", "b"}, names)
	require.Zero(t, callbacks.len())
}

func TestExecAbortStopsRemainingStatements(t *testing.T) {
	c := openConn(t)
	stop := errors.New("stop")
	calls := 0
	err := c.Exec(`
		CREATE TABLE t(x);
		INSERT INTO t VALUES (1);
		INSERT INTO t VALUES (2);
		SELECT x FROM t;
		INSERT INTO t VALUES (3);`,
		func(int, []string, []string) error {
			calls++
			return stop
		})
	require.ErrorIs(t, err, ErrAbort)
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, calls)
	code, _ := c.LastError()
	require.Equal(t, SQLITE_ABORT, code.Primary())

	total, err := c.TotalChanges()
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Equal(t, "2", scalarText(t, c, "SELECT count(*) FROM t"))
}

func TestExecCallbackPanicAborts(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	c := openConn(t, WithLogger(zap.New(core)))
	err := c.Exec("SELECT 1", func(int, []string, []string) error {
		panic("boom")
	})
	require.ErrorIs(t, err, ErrAbort)
	require.ErrorContains(t, errors.Unwrap(err), "boom")
	require.Equal(t, 1, logs.FilterMessage("recovered panic in row callback").Len())
	require.True(t, c.IsOpen())
}

func TestExecError(t *testing.T) {
	c := openConn(t)
	err := c.Exec("SELEKT 1", nil)
	require.ErrorIs(t, err, ErrGeneric)
	code, msg := c.LastError()
	require.Equal(t, SQLITE_ERROR, code)
	require.Contains(t, msg, "syntax error")

	require.NoError(t, c.Exec("SELECT 1", nil))
	code, msg = c.LastError()
	require.Equal(t, SQLITE_OK, code)
	require.Empty(t, msg)
}

func TestCloseFinalizesLeftovers(t *testing.T) {
	requireLib(t)
	core, logs := observer.New(zap.WarnLevel)
	c := NewConnection(WithLogger(zap.New(core)))
	defer c.Release()
	require.NoError(t, c.Open("", WriteMode, true))
	require.NoError(t, c.Exec("CREATE TABLE t(a, b); INSERT INTO t VALUES (1, 2)", nil))

	cur, err := c.Query("SELECT a FROM t")
	require.NoError(t, err)
	stmt, err := c.Prepare("INSERT INTO t VALUES (?, ?)")
	require.NoError(t, err)
	freed, err := c.Query("SELECT b FROM t")
	require.NoError(t, err)
	require.NoError(t, freed.Free())

	cursors, statements := c.LiveHandles()
	require.Equal(t, 1, cursors)
	require.Equal(t, 1, statements)

	require.NoError(t, c.Close())
	cursors, statements = c.LiveHandles()
	require.Zero(t, cursors)
	require.Zero(t, statements)
	require.Equal(t, 2, logs.Len())

	// nothing obtained before Close can be used any more
	_, err = cur.Next()
	require.ErrorIs(t, err, ErrInvalidHandle)
	require.ErrorIs(t, cur.Reset(), ErrInvalidHandle)
	require.ErrorIs(t, stmt.Bind(1, BindInteger, 1), ErrInvalidHandle)
	_, err = stmt.Step()
	require.ErrorIs(t, err, ErrInvalidHandle)
	require.ErrorIs(t, stmt.Reset(true), ErrInvalidHandle)

	// Free stays a success
	require.NoError(t, cur.Free())
	require.NoError(t, stmt.Free())

	// reopening does not revive them
	require.NoError(t, c.Open("", WriteMode, true))
	_, err = cur.Next()
	require.ErrorIs(t, err, ErrInvalidHandle)
}

func TestStoreBLOB(t *testing.T) {
	c := openConn(t)
	require.NoError(t, c.Exec("CREATE TABLE files(name TEXT, a BLOB, b BLOB)", nil))

	err := c.StoreBLOB("SELECT ?", []byte{1})
	require.ErrorIs(t, err, ErrNotWriteStatement)

	a := []byte{0, 1, 2, 3, 0, 255}
	b := []byte{}
	require.NoError(t, c.StoreBLOB("/* files */ INSERT INTO files VALUES ('one', ?, ?)", a, b))
	require.Equal(t, 1, c.Changes())
	// the engine took copies
	a[0] = 42

	cur, err := c.Query("SELECT a, b, typeof(b) FROM files")
	require.NoError(t, err)
	defer cur.Free()
	ok, err := cur.Next()
	require.NoError(t, err)
	require.True(t, ok)
	values := cur.Values()
	require.Equal(t, SQLITE_BLOB, values[0].Type)
	require.Equal(t, []byte{0, 1, 2, 3, 0, 255}, values[0].Blob)
	require.Equal(t, SQLITE_BLOB, values[1].Type)
	require.Equal(t, []byte{}, values[1].Blob)
	require.Equal(t, "blob", values[2].Text)

	require.NoError(t, c.StoreBLOB("UPDATE files SET a = ?1 WHERE name = 'one'", []byte("new")))
	require.Equal(t, "new", scalarText(t, c, "SELECT a FROM files"))

	// bind errors are reported and the statement is still finalized
	err = c.StoreBLOB("INSERT INTO files VALUES ('two', ?, NULL)", []byte{1}, []byte{2})
	require.ErrorIs(t, err, ErrRange)
	err = c.StoreBLOB("INSERT INTO nowhere VALUES (?)", []byte{1})
	require.ErrorIs(t, err, ErrGeneric)
	cursors, statements := c.LiveHandles()
	require.Zero(t, cursors+statements)
}

func TestEscapeStr(t *testing.T) {
	c := openConn(t)

	s, err := c.EscapeStr(42, true)
	require.NoError(t, err)
	require.Equal(t, "42", s)
	s, err = c.EscapeStr(uint8(7), false)
	require.NoError(t, err)
	require.Equal(t, "7", s)
	s, err = c.EscapeStr(2.5, true)
	require.NoError(t, err)
	require.Equal(t, "2.5", s)

	s, err = c.EscapeStr("it's", true)
	require.NoError(t, err)
	require.Equal(t, "'it''s'", s)
	s, err = c.EscapeStr("it's", false)
	require.NoError(t, err)
	require.Equal(t, "it''s", s)
	s, err = c.EscapeStr("", false)
	require.NoError(t, err)
	require.Equal(t, "", s)

	// numeric kinds stay untouched, named types included
	s, err = c.EscapeStr(1500*time.Millisecond, true)
	require.NoError(t, err)
	require.Equal(t, "1500000000", s)
	s, err = c.EscapeStr(true, true)
	require.NoError(t, err)
	require.Equal(t, "1", s)
	s, err = c.EscapeStr(nil, true)
	require.NoError(t, err)
	require.Equal(t, "NULL", s)

	// everything else is escaped as text
	s, err = c.EscapeStr([]byte("a'b"), true)
	require.NoError(t, err)
	require.Equal(t, "'a''b'", s)
	s, err = c.EscapeStr([]int{1}, true)
	require.NoError(t, err)
	require.Equal(t, "'[1]'", s)

	// the engine would stop at the NUL and drop the rest
	_, err = c.EscapeStr("it's\x00x", true)
	require.ErrorIs(t, err, ErrEncoding)
	require.ErrorIs(t, err, ErrMismatch)
	code, _ := c.LastError()
	require.Equal(t, SQLITE_MISMATCH, code)
	_, err = c.EscapeStr([]byte{'a', 0}, false)
	require.ErrorIs(t, err, ErrEncoding)

	// the escaped form is usable as a literal
	lit, err := c.EscapeStr("O'Brien; DROP TABLE x", true)
	require.NoError(t, err)
	require.Equal(t, "O'Brien; DROP TABLE x", scalarText(t, c, "SELECT "+lit))
}

func TestAttachDetach(t *testing.T) {
	c := openConn(t)
	path := filepath.Join(t.TempDir(), "it's aux.db")

	require.NoError(t, c.AttachDB(path, "aux db"))
	require.NoError(t, c.Exec(`CREATE TABLE "aux db".t(x); INSERT INTO "aux db".t VALUES (5)`, nil))
	require.Equal(t, "5", scalarText(t, c, `SELECT x FROM "aux db".t`))
	require.NoError(t, c.DetachDB("aux db"))
	require.ErrorIs(t, c.Exec(`SELECT x FROM "aux db".t`, nil), ErrGeneric)
	require.ErrorIs(t, c.DetachDB("aux db"), ErrGeneric)
}

func TestTimeoutAndCounters(t *testing.T) {
	c := openConn(t, WithBusyTimeout(0))
	require.NoError(t, c.SetTimeout(250))
	require.Equal(t, 250, c.busyTimeout)
	require.NoError(t, c.SetTimeout(-1))
	require.Equal(t, 0, c.busyTimeout)

	require.NoError(t, c.Exec("CREATE TABLE t(id INTEGER PRIMARY KEY, v)", nil))
	require.NoError(t, c.Exec("INSERT INTO t(v) VALUES ('a'), ('b'), ('c')", nil))
	require.Equal(t, 3, c.Changes())
	id, err := c.LastInsertRowID()
	require.NoError(t, err)
	require.Equal(t, int64(3), id)
	total, err := c.TotalChanges()
	require.NoError(t, err)
	require.Equal(t, 3, total)
}

func TestBusyTimeoutSurfacesBusy(t *testing.T) {
	requireLib(t)
	path := filepath.Join(t.TempDir(), "busy.db")
	a := NewConnection(WithBusyTimeout(0))
	defer a.Release()
	b := NewConnection(WithBusyTimeout(0))
	defer b.Release()

	require.NoError(t, a.Open(path, WriteMode, true))
	require.NoError(t, b.Open(path, WriteMode, true))
	require.NoError(t, a.Exec("CREATE TABLE t(x)", nil))
	require.NoError(t, a.Exec("BEGIN EXCLUSIVE", nil))

	require.ErrorIs(t, b.Exec("INSERT INTO t VALUES (1)", nil), ErrBusy)
	require.NoError(t, a.Exec("COMMIT", nil))
	require.NoError(t, b.Exec("INSERT INTO t VALUES (1)", nil))
}

func TestConnectionLogsWithID(t *testing.T) {
	requireLib(t)
	core, logs := observer.New(zap.DebugLevel)
	c := NewConnection(WithLogger(zap.New(core)))
	require.NoError(t, c.Open("", WriteMode, true))
	require.NoError(t, c.Release())

	opened := logs.FilterMessage("database opened").All()
	require.Len(t, opened, 1)
	require.Equal(t, c.ID().String(), opened[0].ContextMap()["conn"])
	require.Equal(t, 1, logs.FilterMessage("database closed").Len())
}
