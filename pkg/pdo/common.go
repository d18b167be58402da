// Package pdo implements the RPDO/TPDO halves of the CiA 301 PDO engine
// (spec.md §4.3): bit-packed process data mapped from/to OD variables and
// exchanged on a fixed COB-ID, independent of the SDO server.
package pdo

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/samsamfire/conode/pkg/od"
)

// Transmission types, CiA 301 table 71.
const (
	TransmissionTypeSyncAcyclic = 0
	TransmissionTypeSync240     = 0xF0
	TransmissionTypeEventLo     = 0xFE
	TransmissionTypeEventHi     = 0xFF
)

// DataStore is the data-path a PdoMap reads current values from and, for
// RPDOs, writes received values into. A LocalNode satisfies this.
type DataStore interface {
	GetData(index uint16, subIndex uint8) ([]byte, error)
	SetData(index uint16, subIndex uint8, data []byte) error
}

// Sender transmits a frame on a given COB-ID.
type Sender interface {
	Send(cobID uint32, data []byte) error
}

// MappedVariable is one resolved entry of a PDO mapping: the OD variable it
// refers to and where its bytes sit inside the PDO payload.
type MappedVariable struct {
	Index     uint16
	SubIndex  uint8
	BitLength uint32
	BitOffset uint32
}

func (m MappedVariable) byteOffset() int { return int(m.BitOffset / 8) }
func (m MappedVariable) byteLength() int { return int((m.BitLength + 7) / 8) }

// PdoMap holds the configuration and current payload shared by RPDO and
// TPDO: the communication record (COB-ID, transmission type, event timer)
// and the mapping record (up to MaxMappedEntriesPdo MappedVariables),
// resolved from the OD per spec.md §4.3.
type PdoMap struct {
	od     *od.ObjectDictionary
	store  DataStore
	logger *slog.Logger

	commIndex uint16
	mapIndex  uint16

	CobID       uint32
	Enabled     bool
	TransType   uint8
	EventTimeMs uint16
	InhibitUs   uint16
	Mapped      []MappedVariable
	Data        []byte
}

// CommIndex returns the communication record index (0x1400+/0x1800+) this
// PdoMap is bound to.
func (p *PdoMap) CommIndex() uint16 { return p.commIndex }

// MapIndex returns the mapping record index (0x1600+/0x1A00+) this PdoMap
// is bound to.
func (p *PdoMap) MapIndex() uint16 { return p.mapIndex }

func newPdoMap(dict *od.ObjectDictionary, store DataStore, logger *slog.Logger, commIndex, mapIndex uint16) *PdoMap {
	return &PdoMap{
		od:        dict,
		store:     store,
		logger:    logger,
		commIndex: commIndex,
		mapIndex:  mapIndex,
	}
}

// read resolves the communication and mapping records from the OD/data
// store, verifying each mapped bit length against OD metadata (spec.md
// §4.3). It fails hard (returns an error) on a bit-length mismatch.
func (p *PdoMap) read() error {
	commCOBRaw, err := p.store.GetData(p.commIndex, 1)
	if err != nil {
		return fmt.Errorf("pdo: comm record x%x sub1: %w", p.commIndex, err)
	}
	raw := binary.LittleEndian.Uint32(commCOBRaw)
	p.CobID = raw & 0x7FF
	p.Enabled = raw&0x80000000 == 0

	transTypeRaw, err := p.store.GetData(p.commIndex, 2)
	if err != nil {
		return fmt.Errorf("pdo: comm record x%x sub2: %w", p.commIndex, err)
	}
	p.TransType = transTypeRaw[0]

	if inhibitRaw, err := p.store.GetData(p.commIndex, 3); err == nil && len(inhibitRaw) >= 2 {
		p.InhibitUs = binary.LittleEndian.Uint16(inhibitRaw)
	}
	if eventRaw, err := p.store.GetData(p.commIndex, 5); err == nil && len(eventRaw) >= 2 {
		p.EventTimeMs = binary.LittleEndian.Uint16(eventRaw)
	}

	countRaw, err := p.store.GetData(p.mapIndex, 0)
	if err != nil {
		return fmt.Errorf("pdo: mapping record x%x sub0: %w", p.mapIndex, err)
	}
	count := countRaw[0]

	mapped := make([]MappedVariable, 0, count)
	var bitOffset uint32
	for i := uint8(1); i <= count; i++ {
		descRaw, err := p.store.GetData(p.mapIndex, i)
		if err != nil {
			return fmt.Errorf("pdo: mapping record x%x sub%d: %w", p.mapIndex, i, err)
		}
		desc := binary.LittleEndian.Uint32(descRaw)
		index := uint16(desc >> 16)
		subIndex := uint8(desc >> 8)
		bitLength := desc & 0xFF

		v, err := p.od.Variable(index, subIndex)
		if err != nil {
			return fmt.Errorf("pdo: mapped object x%x:x%x: %w", index, subIndex, err)
		}
		if v.BitLength != bitLength {
			return fmt.Errorf("pdo: mapped object x%x:x%x bit length mismatch: od has %d, mapping says %d",
				index, subIndex, v.BitLength, bitLength)
		}
		if !od.ValidPDOBitLength(bitLength) {
			return fmt.Errorf("pdo: mapped object x%x:x%x has unmappable bit length %d (must be one of 1,8,16,24,32,64)",
				index, subIndex, bitLength)
		}

		mapped = append(mapped, MappedVariable{
			Index:     index,
			SubIndex:  subIndex,
			BitLength: bitLength,
			BitOffset: bitOffset,
		})
		bitOffset += bitLength
	}

	p.Mapped = mapped
	p.Data = make([]byte, (bitOffset+7)/8)
	return nil
}

// save writes a new mapping back to the OD in the order prescribed by
// spec.md §4.3: disable, new transmission type, clear mapping count, write
// new mapping entries, set mapping count, re-enable. Intermediate disabling
// avoids illegal reconfiguration of an active PDO.
func (p *PdoMap) save(cobID uint32, transType uint8, mapped []MappedVariable) error {
	disabledCOB := make([]byte, 4)
	binary.LittleEndian.PutUint32(disabledCOB, cobID|0x80000000)
	if err := p.store.SetData(p.commIndex, 1, disabledCOB); err != nil {
		return err
	}
	if err := p.store.SetData(p.commIndex, 2, []byte{transType}); err != nil {
		return err
	}
	if err := p.store.SetData(p.mapIndex, 0, []byte{0}); err != nil {
		return err
	}
	for i, m := range mapped {
		desc := make([]byte, 4)
		binary.LittleEndian.PutUint32(desc, uint32(m.Index)<<16|uint32(m.SubIndex)<<8|m.BitLength)
		if err := p.store.SetData(p.mapIndex, uint8(i+1), desc); err != nil {
			return err
		}
	}
	if err := p.store.SetData(p.mapIndex, 0, []byte{uint8(len(mapped))}); err != nil {
		return err
	}
	enabledCOB := make([]byte, 4)
	binary.LittleEndian.PutUint32(enabledCOB, cobID)
	return p.store.SetData(p.commIndex, 1, enabledCOB)
}

// refreshFromOD re-reads the current values of every mapped variable into
// Data, at their configured bit offsets. Offsets are always byte-aligned in
// practice since OD variables are whole bytes.
func (p *PdoMap) refreshFromOD() error {
	for _, m := range p.Mapped {
		raw, err := p.store.GetData(m.Index, m.SubIndex)
		if err != nil {
			return err
		}
		off := m.byteOffset()
		n := m.byteLength()
		if off+n > len(p.Data) {
			continue
		}
		copy(p.Data[off:off+n], raw)
	}
	return nil
}

// propagateToOD writes each mapped variable's slice of Data back into the
// data store, firing write-callbacks. Used by RPDO on frame reception.
func (p *PdoMap) propagateToOD() error {
	for _, m := range p.Mapped {
		off := m.byteOffset()
		n := m.byteLength()
		if off+n > len(p.Data) {
			continue
		}
		if err := p.store.SetData(m.Index, m.SubIndex, p.Data[off:off+n]); err != nil {
			return err
		}
	}
	return nil
}
