package sqlitebind

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPreparedStatementCycle(t *testing.T) {
	c := openConn(t)
	require.NoError(t, c.Exec("CREATE TABLE kv(k TEXT, v INTEGER, f REAL, b BLOB)", nil))

	stmt, err := c.Prepare("INSERT INTO kv VALUES (?, ?, ?, ?)")
	require.NoError(t, err)
	defer stmt.Free()
	require.Equal(t, 4, stmt.ParameterCount())
	require.Zero(t, stmt.ColumnCount())

	for i := range 3 {
		require.NoError(t, stmt.Bind(1, BindText, "key"))
		require.NoError(t, stmt.Bind(2, BindInteger, i))
		require.NoError(t, stmt.Bind(3, BindDouble, float64(i)/2))
		require.NoError(t, stmt.Bind(4, BindBlob, []byte{byte(i)}))
		ok, err := stmt.Step()
		require.NoError(t, err)
		require.False(t, ok)
		require.NoError(t, stmt.Reset(true))
	}

	table, err := c.GetTable("SELECT k, v, f, hex(b) FROM kv ORDER BY v", TableAll)
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{"key", "0", "0.0", "00"},
		{"key", "1", "0.5", "01"},
		{"key", "2", "1.0", "02"},
	}, table.Rows())
}

func TestPreparedStatementQuery(t *testing.T) {
	c := openConn(t)
	require.NoError(t, c.Exec("CREATE TABLE t(a, b); INSERT INTO t VALUES (1, 'one'), (2, 'two'), (3, 'three')", nil))

	stmt, err := c.Prepare("SELECT b FROM t WHERE a >= ?1 ORDER BY a")
	require.NoError(t, err)
	defer stmt.Free()
	require.Equal(t, []string{"b"}, stmt.Columns())

	collect := func(from int) []string {
		require.NoError(t, stmt.Reset(false))
		require.NoError(t, stmt.Bind(1, BindInteger, from))
		var out []string
		for {
			ok, err := stmt.Step()
			require.NoError(t, err)
			if !ok {
				return out
			}
			out = append(out, stmt.Values()[0].Text)
		}
	}
	require.Equal(t, []string{"two", "three"}, collect(2))
	require.Equal(t, []string{"one", "two", "three"}, collect(1))
	require.Nil(t, stmt.Values())
}

func TestResetKeepsOrClearsBindings(t *testing.T) {
	c := openConn(t)
	stmt, err := c.Prepare("SELECT ?1")
	require.NoError(t, err)
	defer stmt.Free()

	require.NoError(t, stmt.Bind(1, BindText, "kept"))
	ok, err := stmt.Step()
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, stmt.Reset(false))
	ok, err = stmt.Step()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "kept", stmt.Values()[0].Text)

	require.NoError(t, stmt.Reset(true))
	ok, err = stmt.Step()
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, stmt.Values()[0].IsNull())
}

// Stepping after a clearing Reset without binding again runs the statement
// with NULL parameters.
func TestStepWithoutRebind(t *testing.T) {
	c := openConn(t)
	require.NoError(t, c.Exec("CREATE TABLE loose(x); CREATE TABLE strict(x NOT NULL)", nil))

	loose, err := c.Prepare("INSERT INTO loose VALUES (?)")
	require.NoError(t, err)
	defer loose.Free()
	require.NoError(t, loose.Bind(1, BindInteger, 1))
	_, err = loose.Step()
	require.NoError(t, err)
	require.NoError(t, loose.Reset(true))
	_, err = loose.Step()
	require.NoError(t, err)
	require.Equal(t, "1", scalarText(t, c, "SELECT count(*) FROM loose WHERE x IS NULL"))

	strict, err := c.Prepare("INSERT INTO strict VALUES (?)")
	require.NoError(t, err)
	defer strict.Free()
	require.NoError(t, strict.Bind(1, BindInteger, 1))
	_, err = strict.Step()
	require.NoError(t, err)
	require.NoError(t, strict.Reset(true))
	_, err = strict.Step()
	require.ErrorIs(t, err, ErrConstraint)
	code, msg := strict.LastError()
	require.Equal(t, SQLITE_CONSTRAINT, code.Primary())
	require.Contains(t, msg, "NOT NULL")
	require.NoError(t, strict.Reset(true))
}

func TestBindValidation(t *testing.T) {
	c := openConn(t)
	stmt, err := c.Prepare("SELECT ?1, ?2")
	require.NoError(t, err)
	defer stmt.Free()

	for _, index := range []int{0, 3, -1} {
		err := stmt.Bind(index, BindInteger, 1)
		require.ErrorIs(t, err, ErrBindRange)
		require.ErrorIs(t, err, ErrRange)
		code, _ := stmt.LastError()
		require.Equal(t, SQLITE_RANGE, code)
	}
	require.ErrorIs(t, stmt.BindNull(3), ErrBindRange)

	// the index is checked before the type
	require.ErrorIs(t, stmt.Bind(9, BindBlob, "not bytes"), ErrBindRange)

	mismatches := []struct {
		typ   BindType
		value any
	}{
		{BindBlob, "text"},
		{BindDouble, 1},
		{BindInteger, 1.5},
		{BindInteger, uint64(math.MaxUint64)},
		{BindInteger, uint64(math.MaxInt64) + 1},
		{BindText, []byte("x")},
		{BindType(42), 1},
	}
	for _, tt := range mismatches {
		err := stmt.Bind(1, tt.typ, tt.value)
		require.ErrorIs(t, err, ErrTypeMismatch, "%s %T", tt.typ, tt.value)
		require.ErrorIs(t, err, ErrMismatch)
	}

	require.NoError(t, stmt.Bind(1, BindInteger, true))
	require.NoError(t, stmt.Bind(2, BindInteger, uint64(math.MaxInt64)))
	ok, err := stmt.Step()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"1", "9223372036854775807"}, rowStrings(stmt.Values()))

	require.NoError(t, stmt.Reset(false))
	require.NoError(t, stmt.BindNull(2))
	require.NoError(t, stmt.Bind(1, BindDouble, float32(0.25)))
	ok, err = stmt.Step()
	require.NoError(t, err)
	require.True(t, ok)
	values := stmt.Values()
	require.Equal(t, SQLITE_FLOAT, values[0].Type)
	f, err := values[0].Float64()
	require.NoError(t, err)
	require.Equal(t, 0.25, f)
	require.True(t, values[1].IsNull())
}

func TestStatementFree(t *testing.T) {
	c := openConn(t)
	stmt, err := c.Prepare("SELECT 1")
	require.NoError(t, err)
	_, statements := c.LiveHandles()
	require.Equal(t, 1, statements)

	require.NoError(t, stmt.Free())
	require.NoError(t, stmt.Free())
	_, statements = c.LiveHandles()
	require.Zero(t, statements)

	require.ErrorIs(t, stmt.Bind(1, BindInteger, 1), ErrInvalidHandle)
	require.ErrorIs(t, stmt.BindNull(1), ErrInvalidHandle)
	_, err = stmt.Step()
	require.ErrorIs(t, err, ErrInvalidHandle)
	require.ErrorIs(t, stmt.Reset(true), ErrInvalidHandle)
}

func TestPrepareOnlyFirstStatement(t *testing.T) {
	c := openConn(t)
	require.NoError(t, c.Exec("CREATE TABLE t(a)", nil))

	stmt, err := c.Prepare("INSERT INTO t VALUES (1); INSERT INTO t VALUES (2)")
	require.NoError(t, err)
	defer stmt.Free()
	_, err = stmt.Step()
	require.NoError(t, err)
	require.Equal(t, "1", scalarText(t, c, "SELECT group_concat(a) FROM t"))
}
