package sqlitebind

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
)

// LibraryPathEnv names the environment variable that overrides the location
// of the sqlite shared library.
const LibraryPathEnv = "SQLITEBIND_LIB_PATH"

var (
	libraryPath   string
	libraryPathMu sync.Mutex
)

// SetLibraryPath sets the shared library used on the next load of the
// runtime. It has no effect on an already loaded library. The
// SQLITEBIND_LIB_PATH environment variable takes precedence.
func SetLibraryPath(path string) {
	libraryPathMu.Lock()
	libraryPath = path
	libraryPathMu.Unlock()
}

// libraryCandidates lists the names tried, in order, for the current
// platform.
func libraryCandidates() []string {
	var out []string
	if p := os.Getenv(LibraryPathEnv); p != "" {
		out = append(out, p)
	}
	libraryPathMu.Lock()
	if libraryPath != "" {
		out = append(out, libraryPath)
	}
	libraryPathMu.Unlock()

	switch runtime.GOOS {
	case "darwin":
		out = append(out, "libsqlite3.dylib", "/usr/lib/libsqlite3.dylib", "/opt/homebrew/opt/sqlite/lib/libsqlite3.dylib")
	case "windows":
		out = append(out, "sqlite3.dll", "winsqlite3.dll")
	default:
		out = append(out, "libsqlite3.so.0", "libsqlite3.so")
	}
	return out
}

// loadLibrary opens the first candidate that the dynamic loader accepts.
func loadLibrary() (uintptr, string, error) {
	var errs []error
	for _, name := range libraryCandidates() {
		handle, err := openLibrary(name)
		if err == nil {
			return handle, name, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return 0, "", fmt.Errorf("%w: %w", ErrLibraryNotFound, errors.Join(errs...))
}
