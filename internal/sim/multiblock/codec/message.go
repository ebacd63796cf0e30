package codec

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/sandertv/gophertunnel/minecraft/protocol"
)

// MessageVersion is the first byte of every sync message.
const MessageVersion uint8 = 1

// headerSize is the fixed width of the base fields:
// version(1) + origin(3*4) + controller(8) + state(1) + active(1).
const headerSize = 1 + 12 + 8 + 1 + 1

// ErrProtocolVersion is returned when a message lacks the base fields or
// carries a version this build does not understand.
var ErrProtocolVersion = errors.New("sync message: protocol version mismatch")

// Header holds the base fields of a sync message: the originating part and
// the controller state it reports.
type Header struct {
	Origin     [3]int32
	Controller uint64
	State      uint8
	Active     bool
}

// Fields is handed to kind-specific marshalers after the header. Kinds call
// the same methods in the same order for both directions; when reading, a
// field that does not fit in the remaining payload is skipped and keeps its
// current value.
type Fields struct {
	io        protocol.IO
	remaining func() int
}

// Reading reports whether the fields are being decoded.
func (f *Fields) Reading() bool { return f.remaining != nil }

// Has reports whether n more bytes can be marshaled.
func (f *Fields) Has(n int) bool {
	if f.remaining == nil {
		return true
	}
	return f.remaining() >= n
}

func (f *Fields) Uint8(x *uint8) {
	if f.Has(1) {
		f.io.Uint8(x)
	}
}

func (f *Fields) Bool(x *bool) {
	if f.Has(1) {
		f.io.Bool(x)
	}
}

func (f *Fields) Int32(x *int32) {
	if f.Has(4) {
		f.io.Int32(x)
	}
}

func (f *Fields) Int64(x *int64) {
	if f.Has(8) {
		f.io.Int64(x)
	}
}

// Marshaler appends kind-specific fields after the header.
type Marshaler interface {
	MarshalFields(f *Fields)
}

// EncodeMessage writes h followed by the fields of body (which may be nil).
// The returned slice is owned by the caller and safe to hand to another
// goroutine.
func EncodeMessage(h Header, body Marshaler) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, headerSize+16))
	w := protocol.NewWriter(buf, 0)

	v := MessageVersion
	w.Uint8(&v)
	w.Int32(&h.Origin[0])
	w.Int32(&h.Origin[1])
	w.Int32(&h.Origin[2])
	w.Uint64(&h.Controller)
	w.Uint8(&h.State)
	w.Bool(&h.Active)

	if body != nil {
		body.MarshalFields(&Fields{io: w})
	}
	return buf.Bytes()
}

// DecodeMessage reads the header of b and hands the remainder to body (which
// may be nil). Unread trailing bytes are ignored.
func DecodeMessage(b []byte, body Marshaler) (h Header, err error) {
	if len(b) < headerSize {
		return h, fmt.Errorf("%w: %d bytes, need %d", ErrProtocolVersion, len(b), headerSize)
	}
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("%w: %v", ErrProtocolVersion, v)
		}
	}()

	buf := bytes.NewBuffer(b)
	r := protocol.NewReader(buf, 0, false)

	var v uint8
	r.Uint8(&v)
	if v != MessageVersion {
		return h, fmt.Errorf("%w: got version %d", ErrProtocolVersion, v)
	}
	r.Int32(&h.Origin[0])
	r.Int32(&h.Origin[1])
	r.Int32(&h.Origin[2])
	r.Uint64(&h.Controller)
	r.Uint8(&h.State)
	r.Bool(&h.Active)

	if body != nil {
		body.MarshalFields(&Fields{io: r, remaining: buf.Len})
	}
	return h, nil
}
