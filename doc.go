// Package sqlitebind drives a system SQLite library (libsqlite3) from Go
// without cgo. The library is loaded at runtime with purego when the first
// Connection is created and unloaded when the last one is released.
//
// A Connection owns one native connection. Results are consumed either
// eagerly through GetTable, which copies everything into a ResultTable, or
// lazily through Query, which returns a ResultCursor over a live statement.
// Prepare returns a PreparedStatement for bind, step and reset cycles.
// Cursors and statements must be released with Free; Close finalizes any
// that are left and invalidates them.
//
// Go code can run inside the engine as Exec row callbacks and as scalar SQL
// functions registered with CreateScalarFunction.
//
// The package also registers a database/sql driver named "sqlitebind":
//
//	db, err := sql.Open("sqlitebind", "app.db?_busy_timeout=5000")
//
// The library is looked up in SQLITEBIND_LIB_PATH, then the path given to
// SetLibraryPath, then the usual platform names.
package sqlitebind
