package od

import (
	"fmt"
	"log/slog"
)

// ObjectDictionary is an ordered mapping from 16-bit index to Entry
// (spec.md §3). It is built once, at node creation, and is immutable in
// structure thereafter: no entries are added or removed once the node
// starts running. Current values live elsewhere (the owning Node's data
// store) — the OD only ever holds metadata and EDS defaults.
type ObjectDictionary struct {
	logger  *slog.Logger
	byIndex map[uint16]*Entry
	order   []uint16
}

// NewObjectDictionary creates an empty OD. Use the Add* builder methods to
// populate it before handing it to node.NewLocalNode; an OD that has
// already been given to a node must not be mutated further.
func NewObjectDictionary(logger *slog.Logger) *ObjectDictionary {
	if logger == nil {
		logger = slog.Default()
	}
	return &ObjectDictionary{
		logger:  logger.With("component", "od"),
		byIndex: map[uint16]*Entry{},
	}
}

func (od *ObjectDictionary) add(entry *Entry) *Entry {
	if _, exists := od.byIndex[entry.Index]; !exists {
		od.order = append(od.order, entry.Index)
	}
	od.byIndex[entry.Index] = entry
	od.logger.Debug("added entry", "index", fmt.Sprintf("x%x", entry.Index), "name", entry.Name)
	return entry
}

// AddVariable adds a standalone Variable entry to the OD.
func (od *ObjectDictionary) AddVariable(v *Variable) *Entry {
	return od.add(NewVariableEntry(v))
}

// AddRecord adds a Record entry (heterogeneous sub-Variables) built by fn,
// which should call Entry.AddSub for each sub-object in subindex order.
func (od *ObjectDictionary) AddRecord(index uint16, name string, fn func(*Entry)) *Entry {
	entry := NewRecordEntry(index, name)
	fn(entry)
	return od.add(entry)
}

// AddArray adds an Array entry (homogeneous sub-Variables) built by fn.
func (od *ObjectDictionary) AddArray(index uint16, name string, fn func(*Entry)) *Entry {
	entry := NewArrayEntry(index, name)
	fn(entry)
	return od.add(entry)
}

// Index looks up an Entry by its 16-bit index. Returns nil if absent —
// callers needing an error (e.g. the SDO server) should use Entry().
func (od *ObjectDictionary) Index(index uint16) *Entry {
	return od.byIndex[index]
}

// Entry looks up an Entry, returning ErrIdxNotExist if it does not exist.
func (od *ObjectDictionary) Entry(index uint16) (*Entry, error) {
	e, ok := od.byIndex[index]
	if !ok {
		return nil, ErrIdxNotExist
	}
	return e, nil
}

// Variable resolves (index, subindex) straight to a *Variable, returning
// ErrIdxNotExist / ErrSubNotExist as appropriate. This is the lookup used
// throughout SDO and PDO processing.
func (od *ObjectDictionary) Variable(index uint16, subIndex uint8) (*Variable, error) {
	entry, err := od.Entry(index)
	if err != nil {
		return nil, err
	}
	return entry.SubIndex(subIndex)
}

// Entries returns every Entry in insertion order.
func (od *ObjectDictionary) Entries() []*Entry {
	out := make([]*Entry, 0, len(od.order))
	for _, idx := range od.order {
		out = append(out, od.byIndex[idx])
	}
	return out
}

// AddStandardObjects populates the mandatory CiA 301 identity objects: 0x1000
// (Device type), 0x1001 (Error register), 0x1003 (Pre-defined error field,
// 8 entries), 0x1017 (Producer heartbeat time), 0x1018 (Identity). This gives the NMT heartbeat producer and EMCY
// producer somewhere to read/write without requiring an EDS (§12 of
// SPEC_FULL.md).
func (od *ObjectDictionary) AddStandardObjects() {
	od.AddVariable(NewVariable(0x1000, 0, "device type", UNSIGNED32, 0, AccessRO).WithDefault([]byte{0, 0, 0, 0}))
	od.AddVariable(NewVariable(0x1001, 0, "error register", UNSIGNED8, 0, AccessRO).WithDefault([]byte{0}))
	od.AddRecord(0x1003, "pre-defined error field", func(e *Entry) {
		for i := uint8(1); i <= 8; i++ {
			v := NewVariable(0x1003, i, fmt.Sprintf("standard error field %d", i), UNSIGNED32, 0, AccessRO).WithDefault([]byte{0, 0, 0, 0})
			_ = e.AddSub(v)
		}
		e.SetDefaultCount(0)
	})
	od.AddVariable(NewVariable(0x1017, 0, "producer heartbeat time", UNSIGNED16, 0, AccessRW).WithDefault([]byte{0, 0}))
	od.AddRecord(0x1018, "identity object", func(e *Entry) {
		_ = e.AddSub(NewVariable(0x1018, 1, "vendor id", UNSIGNED32, 0, AccessRO).WithDefault([]byte{0, 0, 0, 0}))
		_ = e.AddSub(NewVariable(0x1018, 2, "product code", UNSIGNED32, 0, AccessRO).WithDefault([]byte{0, 0, 0, 0}))
		_ = e.AddSub(NewVariable(0x1018, 3, "revision number", UNSIGNED32, 0, AccessRO).WithDefault([]byte{0, 0, 0, 0}))
		_ = e.AddSub(NewVariable(0x1018, 4, "serial number", UNSIGNED32, 0, AccessRO).WithDefault([]byte{0, 0, 0, 0}))
		e.SetDefaultCount(4)
	})
}

// PDO communication/mapping index bases, per spec.md §3.
const (
	RPDOCommStart uint16 = 0x1400
	RPDOMapStart  uint16 = 0x1600
	TPDOCommStart uint16 = 0x1800
	TPDOMapStart  uint16 = 0x1A00
)

// AddPDOSlot pre-populates an empty communication/mapping record pair for
// PDO number n (1-based), at the standard 0x1400+/0x1600+ (RX) or
// 0x1800+/0x1A00+ (TX) offsets. This is a builder convenience (§12 of
// SPEC_FULL.md): the PDO engine itself only ever reads these records back
// through the OD, exactly as an EDS-loaded OD would present them.
func (od *ObjectDictionary) AddPDOSlot(n uint16, isRPDO bool, nodeID uint8) {
	offset := n - 1
	commBase, mapBase := TPDOCommStart, TPDOMapStart
	kind := "TPDO"
	predefined := uint32(0x180)
	if isRPDO {
		commBase, mapBase = RPDOCommStart, RPDOMapStart
		kind = "RPDO"
		predefined = 0x200
	}
	commIndex := commBase + offset
	mapIndex := mapBase + offset
	cobID := predefined + uint32(nodeID) + uint32(offset)*0x100

	od.AddRecord(commIndex, fmt.Sprintf("%s communication parameter", kind), func(e *Entry) {
		_ = e.AddSub(NewVariable(commIndex, 1, "COB-ID", UNSIGNED32, 0, AccessRW).WithDefault(encodeU32(cobID | 0x80000000)))
		_ = e.AddSub(NewVariable(commIndex, 2, "transmission type", UNSIGNED8, 0, AccessRW).WithDefault([]byte{0xFF}))
		_ = e.AddSub(NewVariable(commIndex, 3, "inhibit time", UNSIGNED16, 0, AccessRW).WithDefault([]byte{0, 0}))
		_ = e.AddSub(NewVariable(commIndex, 4, "reserved", UNSIGNED8, 0, AccessRW).WithDefault([]byte{0}))
		_ = e.AddSub(NewVariable(commIndex, 5, "event timer", UNSIGNED16, 0, AccessRW).WithDefault([]byte{0, 0}))
		e.SetDefaultCount(5)
	})
	od.AddRecord(mapIndex, fmt.Sprintf("%s mapping parameter", kind), func(e *Entry) {
		for i := uint8(1); i <= MaxMappedEntriesPdo; i++ {
			v := NewVariable(mapIndex, i, fmt.Sprintf("mapped object %d", i), UNSIGNED32, 0, AccessRW).WithDefault([]byte{0, 0, 0, 0})
			_ = e.AddSub(v)
		}
		e.SetDefaultCount(0)
	})
}

func encodeU32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}
