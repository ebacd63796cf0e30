package codec

import (
	"fmt"

	"github.com/sandertv/gophertunnel/minecraft/nbt"
)

// Record is the flat key/value form a controller persists through its save
// delegate part. Values are kept in NBT-native Go types (uint8, int32, int64,
// string) so a record survives an encode/decode cycle unchanged.
type Record map[string]any

func (r Record) SetBool(key string, v bool) {
	var b uint8
	if v {
		b = 1
	}
	r[key] = b
}

func (r Record) SetUint8(key string, v uint8)   { r[key] = v }
func (r Record) SetInt32(key string, v int32)   { r[key] = v }
func (r Record) SetInt64(key string, v int64)   { r[key] = v }
func (r Record) SetString(key string, v string) { r[key] = v }

func (r Record) Has(key string) bool {
	_, ok := r[key]
	return ok
}

func (r Record) Bool(key string) (bool, bool) {
	switch v := r[key].(type) {
	case bool:
		return v, true
	case uint8:
		return v != 0, true
	case int8:
		return v != 0, true
	case int32:
		return v != 0, true
	default:
		return false, false
	}
}

func (r Record) Uint8(key string) (uint8, bool) {
	switch v := r[key].(type) {
	case uint8:
		return v, true
	case int8:
		return uint8(v), true
	case int32:
		return uint8(v), true
	default:
		return 0, false
	}
}

func (r Record) Int32(key string) (int32, bool) {
	switch v := r[key].(type) {
	case int32:
		return v, true
	case int16:
		return int32(v), true
	case uint8:
		return int32(v), true
	case int64:
		return int32(v), true
	default:
		return 0, false
	}
}

func (r Record) Int64(key string) (int64, bool) {
	switch v := r[key].(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	default:
		return 0, false
	}
}

func (r Record) String(key string) (string, bool) {
	v, ok := r[key].(string)
	return v, ok
}

// EncodeRecord writes r as a little-endian NBT compound.
func EncodeRecord(r Record) ([]byte, error) {
	if r == nil {
		r = Record{}
	}
	b, err := nbt.MarshalEncoding(map[string]any(r), nbt.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return b, nil
}

// DecodeRecord reads a compound written by EncodeRecord. An empty input
// decodes to an empty record so records from older saves default cleanly.
func DecodeRecord(b []byte) (Record, error) {
	if len(b) == 0 {
		return Record{}, nil
	}
	m := map[string]any{}
	if err := nbt.UnmarshalEncoding(b, &m, nbt.LittleEndian); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return Record(m), nil
}
