package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrRunOverflow = errors.New("rle: runs exceed expected length")

// EncodeRLE packs a chunk's palette ids as (id, run) uvarint pairs. Air-heavy
// chunks collapse to a handful of bytes.
func EncodeRLE(ids []uint16) []byte {
	out := make([]byte, 0, 16)
	for i := 0; i < len(ids); {
		id := ids[i]
		run := 1
		for i+run < len(ids) && ids[i+run] == id {
			run++
		}
		out = binary.AppendUvarint(out, uint64(id))
		out = binary.AppendUvarint(out, uint64(run))
		i += run
	}
	return out
}

// DecodeRLE expands raw into exactly n ids.
func DecodeRLE(raw []byte, n int) ([]uint16, error) {
	out := make([]uint16, 0, n)
	for i := 0; i < len(raw); {
		id, k := binary.Uvarint(raw[i:])
		if k <= 0 {
			return nil, fmt.Errorf("rle: bad varint at %d", i)
		}
		i += k
		run, k := binary.Uvarint(raw[i:])
		if k <= 0 {
			return nil, fmt.Errorf("rle: bad varint at %d", i)
		}
		i += k
		if id > 0xFFFF {
			return nil, fmt.Errorf("rle: block id too large: %d", id)
		}
		if run == 0 || uint64(len(out))+run > uint64(n) {
			return nil, ErrRunOverflow
		}
		for ; run > 0; run-- {
			out = append(out, uint16(id))
		}
	}
	if len(out) != n {
		return nil, fmt.Errorf("rle: decoded %d ids, want %d", len(out), n)
	}
	return out, nil
}
