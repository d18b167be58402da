package od

// Variable is a leaf entry of the Object Dictionary: either a standalone
// object (SubIndex == 0, Parent == nil) or one sub-entry of a Record/Array
// (spec.md §3). The OD only ever holds metadata and the EDS-loaded initial
// value for a Variable — the authoritative current value lives in the
// owning Node's data store, never here.
type Variable struct {
	Index    uint16
	SubIndex uint8
	Name     string

	DataType    DataType
	BitLength   uint32
	Access      Access
	PDOMappable bool

	// Default is the value a reset restores; Value is the EDS
	// ParameterValue, if the EDS specified one (nil otherwise). Both are
	// raw encoded bytes, matching the wire representation.
	Default []byte
	Value   []byte

	// Min/Max bound the raw integer value; nil means unbounded. Never set
	// for non-integer types.
	Min *int64
	Max *int64

	// Factor scales a raw integer to its physical value: phys = raw *
	// Factor. Defaults to 1 when zero.
	Factor float64
	Unit   string

	// ValueDescriptions maps raw integer values to human labels, e.g. for
	// enumerations.
	ValueDescriptions map[int64]string

	// Parent is the Record/Array this Variable belongs to, or nil for a
	// standalone Variable.
	Parent *Entry
}

// ByteLength returns ceil(BitLength/8), the wire width of the Variable.
func (v *Variable) ByteLength() uint32 {
	return (v.BitLength + 7) / 8
}

// EffectiveFactor returns Factor, defaulting to 1 when unset.
func (v *Variable) EffectiveFactor() float64 {
	if v.Factor == 0 {
		return 1
	}
	return v.Factor
}

// NewVariable builds a standalone Variable with the given metadata.
// BitLength defaults to the data type's fixed width when the type has one
// (pass 0 for fixed-width types); for variable-width types (strings,
// domain) bitLength must be supplied explicitly.
func NewVariable(index uint16, subIndex uint8, name string, dataType DataType, bitLength uint32, access Access) *Variable {
	if bitLength == 0 {
		bitLength = dataType.DefaultBitLength()
	}
	return &Variable{
		Index:     index,
		SubIndex:  subIndex,
		Name:      name,
		DataType:  dataType,
		BitLength: bitLength,
		Access:    access,
		Factor:    1,
	}
}

// WithDefault sets Default (and, if no EDS ParameterValue has been set,
// Value) to the given encoded bytes. Returns the Variable for chaining.
func (v *Variable) WithDefault(raw []byte) *Variable {
	v.Default = append([]byte(nil), raw...)
	if v.Value == nil {
		v.Value = append([]byte(nil), raw...)
	}
	return v
}

// WithRange sets Min/Max, the raw-integer bounds enforced by Encode when
// clamp=true.
func (v *Variable) WithRange(min, max int64) *Variable {
	v.Min = &min
	v.Max = &max
	return v
}

// WithPDOMappable marks the Variable mappable into a PDO. Per spec.md §3
// this is only legal for bit lengths the PDO engine can splice:
// {1,8,16,24,32,64}; a mismatched bit length is caught when the Variable
// is actually resolved into a PDO map (pdo.PdoMap.read), not here, so that
// a permissive caller (e.g. pkg/eds, parsing a third-party EDS file) never
// panics on an unusual-but-otherwise-valid Variable that simply never ends
// up mapped.
func (v *Variable) WithPDOMappable() *Variable {
	v.PDOMappable = true
	return v
}

// ValidPDOBitLength reports whether bits is one of the widths the PDO
// engine can splice into a frame (spec.md §3's invariant on
// pdo_mappable Variables).
func ValidPDOBitLength(bits uint32) bool {
	switch bits {
	case 1, 8, 16, 24, 32, 64:
		return true
	default:
		return false
	}
}
