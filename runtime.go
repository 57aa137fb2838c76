package sqlitebind

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// MinEngineVersion is the oldest sqlite3_libversion_number accepted (3.8.0).
const MinEngineVersion = 3008000

// engine is the process-wide state of the loaded shared library. The library
// is loaded on the transition from zero to one reference and unloaded when
// the last reference is released.
var engine struct {
	mu      sync.Mutex
	refs    int
	lib     uintptr
	path    string
	version int
}

// acquireRuntime takes a reference on the shared library, loading it and
// checking its version when no reference is held yet.
func acquireRuntime() error {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	if engine.refs > 0 {
		engine.refs++
		return nil
	}
	lib, path, err := loadLibrary()
	if err != nil {
		return err
	}
	if err := register_sqlite_version(lib); err != nil {
		_ = closeLibrary(lib)
		return err
	}
	version := int(c_sqlite3_libversion_number())
	if version < MinEngineVersion {
		_ = closeLibrary(lib)
		return fmt.Errorf("%w: %s has %d, need %d", ErrIncompatibleVersion, path, version, MinEngineVersion)
	}
	if err := register_sqlite(lib); err != nil {
		_ = closeLibrary(lib)
		return err
	}
	initBridge()
	engine.lib, engine.path, engine.version = lib, path, version
	engine.refs = 1
	Logger().Debug("sqlite library loaded",
		zap.String("path", path),
		zap.String("version", string(copyCString(c_sqlite3_libversion()))))
	return nil
}

// releaseRuntime drops a reference and unloads the library with the last one.
func releaseRuntime() {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	if engine.refs == 0 {
		return
	}
	engine.refs--
	if engine.refs > 0 {
		return
	}
	if err := closeLibrary(engine.lib); err != nil {
		Logger().Warn("sqlite library unload failed", zap.String("path", engine.path), zap.Error(err))
	} else {
		Logger().Debug("sqlite library unloaded", zap.String("path", engine.path))
	}
	engine.lib, engine.path, engine.version = 0, "", 0
}

// mustAcquireRuntime is acquireRuntime for constructors: without a usable
// engine nothing in this package can work, so failure is fatal.
func mustAcquireRuntime() {
	if err := acquireRuntime(); err != nil {
		panic(fmt.Errorf("unable to load sqlite library: %w", err))
	}
}

// LoadRuntime checks that the shared library can be loaded and is recent
// enough, without keeping it loaded. It lets callers probe for the engine
// before NewConnection, which panics instead.
func LoadRuntime() error {
	if err := acquireRuntime(); err != nil {
		return err
	}
	releaseRuntime()
	return nil
}

// EngineVersion returns sqlite3_libversion_number of the loaded library, or
// zero when no Connection holds the runtime.
func EngineVersion() int {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.version
}

func runtimeRefs() int {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.refs
}
