package sqlitebind

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"
)

// DefaultBusyTimeout is the busy timeout in milliseconds applied on Open
// unless WithBusyTimeout or the DSN says otherwise.
const DefaultBusyTimeout = 5000

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the connection's logger. By default the package Logger is
// used.
func WithLogger(l *zap.Logger) Option {
	return func(c *Connection) {
		if l != nil {
			c.log = l
		}
	}
}

// WithBusyTimeout sets the busy timeout in milliseconds applied on every
// Open. Use 0 to disable the busy handler, -1 to use the default (5000ms).
func WithBusyTimeout(ms int) Option {
	return func(c *Connection) {
		c.busyTimeout = ms
	}
}

// WithHostEncoding makes the connection treat Go strings as text in enc
// instead of UTF-8 when encoding SQL and parameters and when decoding
// results.
func WithHostEncoding(enc encoding.Encoding) Option {
	return func(c *Connection) {
		c.codec = NewTextCodec(enc)
	}
}

// dsnConfig is a parsed "path?mode=ro|rw|rwc|memory&_busy_timeout=ms".
type dsnConfig struct {
	Path        string
	Mode        AccessMode
	Create      bool
	BusyTimeout int // 0 = not given, -1 = disabled
}

func parseDSN(dsn string) (dsnConfig, error) {
	config := dsnConfig{Path: dsn, Mode: WriteMode, Create: true}
	qMark := strings.IndexByte(dsn, '?')
	if qMark < 0 {
		return config, nil
	}
	config.Path = dsn[:qMark]
	vals, err := url.ParseQuery(dsn[qMark+1:])
	if err != nil {
		return dsnConfig{}, err
	}
	switch v := vals.Get("mode"); v {
	case "", "rwc":
	case "rw":
		config.Create = false
	case "ro":
		config.Mode, config.Create = ReadMode, false
	case "memory":
		config.Path = MemoryPath
	default:
		return dsnConfig{}, fmt.Errorf("sqlitebind: invalid mode %q in DSN", v)
	}
	if v := vals.Get("_busy_timeout"); v != "" {
		timeout, err := strconv.Atoi(v)
		if err != nil || timeout < 0 {
			return dsnConfig{}, fmt.Errorf("sqlitebind: invalid _busy_timeout %q in DSN", v)
		}
		if timeout == 0 {
			timeout = -1
		}
		config.BusyTimeout = timeout
	}
	return config, nil
}
