package sqlitebind

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, cur *ResultCursor) [][]string {
	t.Helper()
	var rows [][]string
	for {
		ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			return rows
		}
		rows = append(rows, cur.Row())
	}
}

func TestCursorIteration(t *testing.T) {
	c := openConn(t)
	require.NoError(t, c.Exec("CREATE TABLE t(a INT, b TEXT); INSERT INTO t VALUES (1, 'x'), (2, NULL)", nil))

	cur, err := c.Query("SELECT a, b FROM t ORDER BY a")
	require.NoError(t, err)
	defer cur.Free()

	require.True(t, cur.HasRows())
	require.Equal(t, 2, cur.ColumnCount())
	require.Equal(t, []string{"a", "b"}, cur.Columns())
	require.Nil(t, cur.Values())
	require.Zero(t, cur.Index())

	ok, err := cur.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, cur.Index())
	values := cur.Values()
	require.Equal(t, SQLITE_INTEGER, values[0].Type)
	n, err := values[0].Int64()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Equal(t, Value{Type: SQLITE_TEXT, Text: "x"}, values[1])

	ok, err = cur.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, cur.Values()[1].IsNull())
	require.Equal(t, []string{"2", ""}, cur.Row())

	ok, err = cur.Next()
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, cur.Values())

	// end of rows is sticky
	ok, err = cur.Next()
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 2, cur.Index())
}

func TestCursorReset(t *testing.T) {
	c := openConn(t)
	require.NoError(t, c.Exec("CREATE TABLE t(a); INSERT INTO t VALUES (1), (2), (3)", nil))

	cur, err := c.Query("SELECT a FROM t ORDER BY a")
	require.NoError(t, err)
	defer cur.Free()

	first := drain(t, cur)
	require.Equal(t, [][]string{{"1"}, {"2"}, {"3"}}, first)
	require.NoError(t, cur.Reset())
	require.Zero(t, cur.Index())
	require.Equal(t, first, drain(t, cur))

	// reset halfway through
	require.NoError(t, cur.Reset())
	ok, err := cur.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, cur.Reset())
	require.Equal(t, first, drain(t, cur))
}

func TestCursorNoRows(t *testing.T) {
	c := openConn(t)
	require.NoError(t, c.Exec("CREATE TABLE t(a)", nil))

	cur, err := c.Query("SELECT a FROM t")
	require.NoError(t, err)
	defer cur.Free()
	require.False(t, cur.HasRows())
	require.Empty(t, drain(t, cur))

	// HasRows is a snapshot taken at creation
	require.NoError(t, c.Exec("INSERT INTO t VALUES (1)", nil))
	require.False(t, cur.HasRows())
	require.NoError(t, cur.Reset())
	require.Equal(t, [][]string{{"1"}}, drain(t, cur))
}

func TestCursorBlobRoundTrip(t *testing.T) {
	c := openConn(t)
	require.NoError(t, c.Exec("CREATE TABLE files(id INTEGER PRIMARY KEY, data BLOB)", nil))

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	require.NoError(t, c.StoreBLOB("INSERT INTO files(data) VALUES (?)", payload))

	stmt, err := c.Prepare("INSERT INTO files(data) VALUES (?1)")
	require.NoError(t, err)
	require.NoError(t, stmt.Bind(1, BindBlob, []byte{0, 0, 'a', 0}))
	_, err = stmt.Step()
	require.NoError(t, err)
	require.NoError(t, stmt.Free())

	cur, err := c.Query("SELECT data, length(data) FROM files ORDER BY id")
	require.NoError(t, err)
	defer cur.Free()

	ok, err := cur.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, payload, cur.Values()[0].Blob)
	require.Equal(t, "4096", cur.Values()[1].Text)

	ok, err = cur.Next()
	require.NoError(t, err)
	require.True(t, ok)
	got := cur.Values()[0]
	require.Equal(t, SQLITE_BLOB, got.Type)
	require.Equal(t, []byte{0, 0, 'a', 0}, got.Blob)

	// the returned bytes are a private copy
	got.Blob[2] = 'b'
	require.Equal(t, []byte{0, 0, 'a', 0}, cur.Values()[0].Blob)
}

func TestCursorFree(t *testing.T) {
	c := openConn(t)
	cur, err := c.Query("SELECT 1")
	require.NoError(t, err)
	cursors, _ := c.LiveHandles()
	require.Equal(t, 1, cursors)

	require.NoError(t, cur.Free())
	require.NoError(t, cur.Free())
	cursors, _ = c.LiveHandles()
	require.Zero(t, cursors)

	_, err = cur.Next()
	require.ErrorIs(t, err, ErrInvalidHandle)
	code, _ := cur.LastError()
	require.Equal(t, SQLITE_MISUSE, code)
	require.ErrorIs(t, cur.Reset(), ErrInvalidHandle)
}

func TestQueryErrors(t *testing.T) {
	c := openConn(t)
	require.NoError(t, c.Exec("CREATE TABLE t(a)", nil))

	_, err := c.Query("INSERT INTO t VALUES (1)")
	require.ErrorIs(t, err, ErrNoColumns)
	require.ErrorIs(t, err, ErrMisuse)
	// the statement was not executed
	require.Equal(t, "0", scalarText(t, c, "SELECT count(*) FROM t"))

	_, err = c.Query("   ")
	require.ErrorIs(t, err, ErrEmptyStatement)

	_, err = c.Query("SELECT * FROM missing")
	require.ErrorIs(t, err, ErrGeneric)
	_, msg := c.LastError()
	require.Contains(t, msg, "missing")

	cursors, statements := c.LiveHandles()
	require.Zero(t, cursors+statements)
}

func TestCursorStepError(t *testing.T) {
	c := openConn(t)
	require.NoError(t, c.CreateScalarFunction("explode", 1, func(ctx *FuncContext, args []Value) {
		if args[0].Text == "2" {
			ctx.ResultError("exploded")
			return
		}
		ctx.ResultText(args[0].Text)
	}, 0, nil))
	require.NoError(t, c.Exec("CREATE TABLE t(a); INSERT INTO t VALUES (1), (2), (3)", nil))

	cur, err := c.Query("SELECT a, explode(a) FROM t ORDER BY a")
	require.NoError(t, err)

	ok, err := cur.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"1", "1"}, cur.Row())

	_, err = cur.Next()
	require.ErrorIs(t, err, ErrGeneric)
	code, msg := cur.LastError()
	require.Equal(t, SQLITE_ERROR, code)
	require.Equal(t, "exploded", msg)

	// the failure sticks instead of replaying rows from the start
	for range 3 {
		ok, err = cur.Next()
		require.ErrorIs(t, err, ErrGeneric)
		require.False(t, ok)
		require.Nil(t, cur.Row())
		require.Equal(t, 1, cur.Index())
	}

	// Reset starts over; the failure is not reported a second time
	require.NoError(t, cur.Reset())
	ok, err = cur.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, cur.Index())
	require.Equal(t, []string{"1", "1"}, cur.Row())
	require.NoError(t, cur.Free())
}

func TestInterleavedCursors(t *testing.T) {
	c := openConn(t)
	require.NoError(t, c.Exec("CREATE TABLE t(a); INSERT INTO t VALUES (1), (2)", nil))

	outer, err := c.Query("SELECT a FROM t ORDER BY a")
	require.NoError(t, err)
	defer outer.Free()
	inner, err := c.Query("SELECT a * 10 FROM t ORDER BY a")
	require.NoError(t, err)
	defer inner.Free()

	var got []string
	for {
		ok, err := outer.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		ok, err = inner.Next()
		require.NoError(t, err)
		require.True(t, ok)
		got = append(got, outer.Row()[0]+"/"+inner.Row()[0])
	}
	require.Equal(t, []string{"1/10", "2/20"}, got)
}
