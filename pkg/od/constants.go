package od

import "fmt"

// DataType identifies one of the CiA 301 basic data types a Variable can
// hold. Widths are fixed by the type except for VISIBLE_STRING,
// OCTET_STRING, UNICODE_STRING and DOMAIN, whose length is carried by the
// Variable's BitLength.
type DataType uint8

const (
	BOOLEAN DataType = 0x01
	INTEGER8 DataType = 0x02
	INTEGER16 DataType = 0x03
	INTEGER32 DataType = 0x04
	UNSIGNED8 DataType = 0x05
	UNSIGNED16 DataType = 0x06
	UNSIGNED32 DataType = 0x07
	REAL32 DataType = 0x08
	VISIBLE_STRING DataType = 0x09
	OCTET_STRING DataType = 0x0A
	UNICODE_STRING DataType = 0x0B
	DOMAIN DataType = 0x0F
	INTEGER64 DataType = 0x15
	UNSIGNED64 DataType = 0x1B
	REAL64 DataType = 0x11
)

var dataTypeNames = map[DataType]string{
	BOOLEAN:        "BOOLEAN",
	INTEGER8:       "INTEGER8",
	INTEGER16:      "INTEGER16",
	INTEGER32:      "INTEGER32",
	UNSIGNED8:      "UNSIGNED8",
	UNSIGNED16:     "UNSIGNED16",
	UNSIGNED32:     "UNSIGNED32",
	REAL32:         "REAL32",
	VISIBLE_STRING: "VISIBLE_STRING",
	OCTET_STRING:   "OCTET_STRING",
	UNICODE_STRING: "UNICODE_STRING",
	DOMAIN:         "DOMAIN",
	INTEGER64:      "INTEGER64",
	UNSIGNED64:     "UNSIGNED64",
	REAL64:         "REAL64",
}

func (d DataType) String() string {
	if name, ok := dataTypeNames[d]; ok {
		return name
	}
	return fmt.Sprintf("DataType(x%x)", uint8(d))
}

// DefaultBitLength returns the fixed wire width in bits for data types that
// have one. Variable-length types (strings, domain) return 0 and rely on
// the Variable's own BitLength.
func (d DataType) DefaultBitLength() uint32 {
	switch d {
	case BOOLEAN, INTEGER8, UNSIGNED8:
		return 8
	case INTEGER16, UNSIGNED16:
		return 16
	case INTEGER32, UNSIGNED32, REAL32:
		return 32
	case INTEGER64, UNSIGNED64, REAL64:
		return 64
	default:
		return 0
	}
}

// Access describes who may read or write a Variable over SDO.
type Access uint8

const (
	AccessRO    Access = iota // read-only
	AccessWO                  // write-only
	AccessRW                  // read-write
	AccessConst               // read-only, never changes at runtime
)

func (a Access) Readable() bool {
	return a == AccessRO || a == AccessRW || a == AccessConst
}

func (a Access) Writable() bool {
	return a == AccessWO || a == AccessRW
}

// ObjectType distinguishes the three OD entry variants (spec.md §3).
type ObjectType uint8

const (
	ObjectVariable ObjectType = iota
	ObjectRecord
	ObjectArray
)

// ODR is an internal Object Dictionary error, raised by lookup/access
// helpers before they ever reach the SDO server. The SDO server translates
// each of these into the CANopen abort code named in spec.md §4.2.
type ODR int8

const (
	ErrNo           ODR = 0
	ErrIdxNotExist  ODR = 1
	ErrSubNotExist  ODR = 2
	ErrReadonly     ODR = 3
	ErrWriteOnly    ODR = 4
	ErrTypeMismatch ODR = 5
	ErrNoMap        ODR = 6
	ErrDataLong     ODR = 7
	ErrDataShort    ODR = 8
	ErrNoResource   ODR = 9
	ErrGeneral      ODR = 10
)

var odrDescriptions = map[ODR]string{
	ErrNo:           "no error",
	ErrIdxNotExist:  "object does not exist in the object dictionary",
	ErrSubNotExist:  "sub-index does not exist",
	ErrReadonly:     "attempt to write a read-only object",
	ErrWriteOnly:    "attempt to read a write-only object",
	ErrTypeMismatch: "data type/length does not match",
	ErrNoMap:        "object cannot be mapped to a PDO",
	ErrDataLong:     "data type does not match, length too high",
	ErrDataShort:    "data type does not match, length too short",
	ErrNoResource:   "resource not available",
	ErrGeneral:      "general error",
}

func (e ODR) Error() string {
	if desc, ok := odrDescriptions[e]; ok {
		return desc
	}
	return fmt.Sprintf("od error %d", int8(e))
}

// MaxMappedEntriesPdo is the maximum number of MappedVariable entries a
// single PDO mapping record may hold (subindex 1..0x40).
const MaxMappedEntriesPdo = 0x40
