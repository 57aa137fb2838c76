package sqlitebind

import "weak"

// noCopy may be added to structs which must not be copied after first use.
// go vet's copylocks check reports copies of any struct holding one.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// nativeStmt is the single owner of one sqlite3_stmt*. A cursor or prepared
// statement holds it by pointer and so does its Connection's registry, which
// is how Close reaches statements the caller forgot to free.
type nativeStmt struct {
	noCopy noCopy

	ptr    sqliteStmt
	id     handleID
	owner  *handleTable[*nativeStmt]
	failed Code // code of the last failed step, echoed by reset and finalize
}

func (s *nativeStmt) valid() bool {
	return s != nil && s.ptr != nil
}

// finalize releases the statement and unregisters it; later calls are
// no-ops. The returned code replays the last failed step, if any.
func (s *nativeStmt) finalize() Code {
	if s.ptr == nil {
		return SQLITE_OK
	}
	rc := sqlite3_finalize(s.ptr)
	s.ptr = nil
	if s.owner != nil {
		s.owner.remove(s.id)
		s.owner = nil
	}
	return rc
}

// step advances the statement and remembers a failure.
func (s *nativeStmt) step() Code {
	rc := sqlite3_step(s.ptr)
	if rc != SQLITE_ROW && rc != SQLITE_DONE {
		s.failed = rc
	}
	return rc
}

// reset rewinds the statement. The echo of an earlier step failure is not
// an error of the reset itself.
func (s *nativeStmt) reset() Code {
	rc := sqlite3_reset(s.ptr)
	if rc == s.failed {
		rc = SQLITE_OK
	}
	s.failed = SQLITE_OK
	return rc
}

// release finalizes for Free: like reset, a replayed step failure is not
// reported again.
func (s *nativeStmt) release() Code {
	failed := s.failed
	rc := s.finalize()
	if rc == failed {
		return SQLITE_OK
	}
	return rc
}

// stmtErrmsg fetches the engine message for rc through the owning
// connection, falling back to the generic text once it is gone.
func stmtErrmsg(conn weak.Pointer[Connection], rc Code) string {
	if c := conn.Value(); c != nil && c.handle != nil {
		return c.errmsg()
	}
	return string(sqlite3_errstr(rc))
}

// track registers a freshly compiled statement in table.
func track(table *handleTable[*nativeStmt], stmt sqliteStmt) *nativeStmt {
	ns := &nativeStmt{ptr: stmt, owner: table}
	ns.id = table.insert(ns)
	return ns
}
