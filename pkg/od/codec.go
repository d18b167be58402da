package od

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeError is returned by Encode when a value cannot be represented as
// the Variable's data type (spec.md §4.1).
type EncodeError struct {
	Entry  *Variable
	Reason string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("cannot encode value for x%x:x%x: %s", e.Entry.Index, e.Entry.SubIndex, e.Reason)
}

// DecodeError is returned by Decode when the supplied bytes cannot be
// interpreted as the Variable's data type.
type DecodeError struct {
	Entry  *Variable
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode value for x%x:x%x: %s", e.Entry.Index, e.Entry.SubIndex, e.Reason)
}

// Encode converts value into the little-endian wire representation of
// entry. clamp controls whether out-of-range integers are silently
// clamped to [Min, Max] (explicit callers only, per spec.md §4.1) or left
// to overflow via normal Go integer conversion.
//
// Supported value types: bool, the sized int/uint/float Go kinds matching
// entry's DataType width, and string/[]byte for the string/octet/domain
// types.
func Encode(entry *Variable, value any, clamp bool) ([]byte, error) {
	switch entry.DataType {
	case BOOLEAN:
		b, ok := value.(bool)
		if !ok {
			return nil, &EncodeError{entry, "expected bool"}
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil

	case INTEGER8, INTEGER16, INTEGER32, INTEGER64:
		i, ok := toInt64(value)
		if !ok {
			return nil, &EncodeError{entry, "expected signed integer"}
		}
		if clamp {
			i = clampInt(i, entry)
		}
		return encodeSigned(entry.DataType, i), nil

	case UNSIGNED8, UNSIGNED16, UNSIGNED32, UNSIGNED64:
		u, ok := toUint64(value)
		if !ok {
			return nil, &EncodeError{entry, "expected unsigned integer"}
		}
		if clamp {
			u = clampUint(u, entry)
		}
		return encodeUnsigned(entry.DataType, u), nil

	case REAL32:
		f, ok := toFloat64(value)
		if !ok {
			return nil, &EncodeError{entry, "expected float"}
		}
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, math.Float32bits(float32(f)))
		return out, nil

	case REAL64:
		f, ok := toFloat64(value)
		if !ok {
			return nil, &EncodeError{entry, "expected float"}
		}
		out := make([]byte, 8)
		binary.LittleEndian.PutUint64(out, math.Float64bits(f))
		return out, nil

	case VISIBLE_STRING, UNICODE_STRING:
		s, ok := value.(string)
		if !ok {
			return nil, &EncodeError{entry, "expected string"}
		}
		width := int(entry.ByteLength())
		out := make([]byte, width)
		copy(out, s)
		return out, nil

	case OCTET_STRING, DOMAIN:
		switch v := value.(type) {
		case []byte:
			return append([]byte(nil), v...), nil
		case string:
			return []byte(v), nil
		default:
			return nil, &EncodeError{entry, "expected []byte"}
		}

	default:
		return nil, &EncodeError{entry, "unsupported data type"}
	}
}

// Decode converts the little-endian wire bytes of entry back into a Go
// value. Out-of-range integers are returned as-is; Decode never fails on
// range, only on width mismatch.
func Decode(entry *Variable, raw []byte) (any, error) {
	switch entry.DataType {
	case BOOLEAN:
		if len(raw) < 1 {
			return nil, &DecodeError{entry, "need 1 byte"}
		}
		return raw[0] != 0, nil

	case INTEGER8:
		if len(raw) < 1 {
			return nil, &DecodeError{entry, "need 1 byte"}
		}
		return int8(raw[0]), nil
	case INTEGER16:
		if len(raw) < 2 {
			return nil, &DecodeError{entry, "need 2 bytes"}
		}
		return int16(binary.LittleEndian.Uint16(raw)), nil
	case INTEGER32:
		if len(raw) < 4 {
			return nil, &DecodeError{entry, "need 4 bytes"}
		}
		return int32(binary.LittleEndian.Uint32(raw)), nil
	case INTEGER64:
		if len(raw) < 8 {
			return nil, &DecodeError{entry, "need 8 bytes"}
		}
		return int64(binary.LittleEndian.Uint64(raw)), nil

	case UNSIGNED8:
		if len(raw) < 1 {
			return nil, &DecodeError{entry, "need 1 byte"}
		}
		return raw[0], nil
	case UNSIGNED16:
		if len(raw) < 2 {
			return nil, &DecodeError{entry, "need 2 bytes"}
		}
		return binary.LittleEndian.Uint16(raw), nil
	case UNSIGNED32:
		if len(raw) < 4 {
			return nil, &DecodeError{entry, "need 4 bytes"}
		}
		return binary.LittleEndian.Uint32(raw), nil
	case UNSIGNED64:
		if len(raw) < 8 {
			return nil, &DecodeError{entry, "need 8 bytes"}
		}
		return binary.LittleEndian.Uint64(raw), nil

	case REAL32:
		if len(raw) < 4 {
			return nil, &DecodeError{entry, "need 4 bytes"}
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(raw)), nil
	case REAL64:
		if len(raw) < 8 {
			return nil, &DecodeError{entry, "need 8 bytes"}
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(raw)), nil

	case VISIBLE_STRING, UNICODE_STRING:
		end := len(raw)
		for end > 0 && raw[end-1] == 0 {
			end--
		}
		return string(raw[:end]), nil

	case OCTET_STRING, DOMAIN:
		return append([]byte(nil), raw...), nil

	default:
		return nil, &DecodeError{entry, "unsupported data type"}
	}
}

// ToPhysical applies entry's scaling factor to a raw integer/float value
// read from the wire: phys = raw * factor. The wire value itself is always
// the unscaled raw integer (spec.md §4.1).
func ToPhysical(entry *Variable, raw any) float64 {
	factor := entry.EffectiveFactor()
	switch v := raw.(type) {
	case int8:
		return float64(v) * factor
	case int16:
		return float64(v) * factor
	case int32:
		return float64(v) * factor
	case int64:
		return float64(v) * factor
	case uint8:
		return float64(v) * factor
	case uint16:
		return float64(v) * factor
	case uint32:
		return float64(v) * factor
	case uint64:
		return float64(v) * factor
	case float32:
		return float64(v) * factor
	case float64:
		return v * factor
	default:
		return 0
	}
}

func encodeSigned(dt DataType, v int64) []byte {
	switch dt {
	case INTEGER8:
		return []byte{byte(int8(v))}
	case INTEGER16:
		out := make([]byte, 2)
		binary.LittleEndian.PutUint16(out, uint16(int16(v)))
		return out
	case INTEGER32:
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, uint32(int32(v)))
		return out
	default: // INTEGER64
		out := make([]byte, 8)
		binary.LittleEndian.PutUint64(out, uint64(v))
		return out
	}
}

func encodeUnsigned(dt DataType, v uint64) []byte {
	switch dt {
	case UNSIGNED8:
		return []byte{byte(v)}
	case UNSIGNED16:
		out := make([]byte, 2)
		binary.LittleEndian.PutUint16(out, uint16(v))
		return out
	case UNSIGNED32:
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, uint32(v))
		return out
	default: // UNSIGNED64
		out := make([]byte, 8)
		binary.LittleEndian.PutUint64(out, v)
		return out
	}
}

func clampInt(v int64, entry *Variable) int64 {
	if entry.Min != nil && v < *entry.Min {
		return *entry.Min
	}
	if entry.Max != nil && v > *entry.Max {
		return *entry.Max
	}
	return v
}

func clampUint(v uint64, entry *Variable) uint64 {
	if entry.Min != nil && *entry.Min >= 0 && v < uint64(*entry.Min) {
		return uint64(*entry.Min)
	}
	if entry.Max != nil && *entry.Max >= 0 && v > uint64(*entry.Max) {
		return uint64(*entry.Max)
	}
	return v
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), true
	default:
		return 0, false
	}
}

func toUint64(value any) (uint64, bool) {
	switch v := value.(type) {
	case int:
		return uint64(v), true
	case int8:
		return uint64(v), true
	case int16:
		return uint64(v), true
	case int32:
		return uint64(v), true
	case int64:
		return uint64(v), true
	case uint8:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	default:
		return 0, false
	}
}

func toFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
