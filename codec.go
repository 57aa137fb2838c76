package sqlitebind

import (
	"runtime"
	"unicode/utf8"
	"unsafe"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// TextCodec converts between host strings and the NUL-terminated UTF-8
// buffers the engine expects. Host strings are interpreted in the codec's
// encoding (UTF-8 unless configured otherwise with WithHostEncoding).
// Nothing is cached: every call produces a fresh buffer.
type TextCodec struct {
	host encoding.Encoding
}

// NewTextCodec returns a codec for host strings in enc. A nil enc means UTF-8.
func NewTextCodec(enc encoding.Encoding) *TextCodec {
	if enc == nil {
		enc = unicode.UTF8
	}
	return &TextCodec{host: enc}
}

func (c *TextCodec) isUTF8() bool {
	return c.host == unicode.UTF8
}

// Encode returns s as UTF-8 with a trailing NUL. Sequences that are invalid
// in the host encoding are replaced with U+FFFD rather than passed through.
func (c *TextCodec) Encode(s string) ([]byte, error) {
	if c.isUTF8() && utf8.ValidString(s) {
		b := make([]byte, len(s)+1)
		copy(b, s)
		return b, nil
	}
	// x/text decoders turn host bytes into UTF-8
	out, err := c.host.NewDecoder().String(s)
	if err != nil {
		return nil, &Error{Code: SQLITE_MISMATCH, Msg: err.Error(), Loc: "Encode", Cause: ErrEncoding}
	}
	b := make([]byte, len(out)+1)
	copy(b, out)
	return b, nil
}

// Decode converts an engine UTF-8 buffer (without terminator) into a host
// string. Characters the host encoding cannot represent are replaced.
func (c *TextCodec) Decode(b []byte) string {
	if c.isUTF8() {
		if utf8.Valid(b) {
			return string(b)
		}
		out, err := c.host.NewDecoder().Bytes(b)
		if err != nil {
			return string(b)
		}
		return string(out)
	}
	out, err := encoding.ReplaceUnsupported(c.host.NewEncoder()).Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

// emptyBuf backs zero-length blobs and texts, since a NULL pointer would
// bind SQL NULL instead.
var emptyBuf = [1]byte{0}

// bufPtr returns a pointer to the first byte of b, nil for an empty slice.
// The caller must keep b alive for the duration of the foreign call.
func bufPtr(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}

func keepAlive(b []byte) {
	runtime.KeepAlive(b)
}

// copyCString copies a NUL-terminated engine string into Go memory.
func copyCString(p unsafe.Pointer) []byte {
	if p == nil {
		return nil
	}
	// Determine length
	n := 0
	for *(*byte)(unsafe.Add(p, n)) != 0 {
		n++
	}
	return copyBytes(p, n)
}

// copyBytes copies n bytes of engine memory. Engine buffers are only valid
// until the next call on the same statement, so nothing may alias them.
func copyBytes(p unsafe.Pointer, n int) []byte {
	if p == nil || n <= 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, unsafe.Slice((*byte)(p), n))
	return out
}

// cStringArray views a C array of n char* as Go pointers.
func cStringArray(p unsafe.Pointer, n int) []unsafe.Pointer {
	if p == nil || n <= 0 {
		return nil
	}
	return unsafe.Slice((*unsafe.Pointer)(p), n)
}
