package pdo

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsamfire/conode/pkg/od"
)

type memStore struct {
	values map[uint16]map[uint8][]byte
}

func newMemStore() *memStore {
	return &memStore{values: map[uint16]map[uint8][]byte{}}
}

func (m *memStore) GetData(index uint16, subIndex uint8) ([]byte, error) {
	sub, ok := m.values[index]
	if !ok {
		return nil, od.ErrIdxNotExist
	}
	v, ok := sub[subIndex]
	if !ok {
		return nil, od.ErrSubNotExist
	}
	return append([]byte(nil), v...), nil
}

func (m *memStore) SetData(index uint16, subIndex uint8, data []byte) error {
	sub, ok := m.values[index]
	if !ok {
		sub = map[uint8][]byte{}
		m.values[index] = sub
	}
	sub[subIndex] = append([]byte(nil), data...)
	return nil
}

func encodeU32(v uint32) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, v)
	return out
}

func encodeMappingDesc(index uint16, subIndex uint8, bitLength uint32) []byte {
	return encodeU32(uint32(index)<<16 | uint32(subIndex)<<8 | bitLength)
}

type memBus struct {
	sent []struct {
		cobID uint32
		data  []byte
	}
}

func (b *memBus) Send(cobID uint32, data []byte) error {
	b.sent = append(b.sent, struct {
		cobID uint32
		data  []byte
	}{cobID, append([]byte(nil), data...)})
	return nil
}

func baseDict() *od.ObjectDictionary {
	dict := od.NewObjectDictionary(nil)
	dict.AddVariable(od.NewVariable(0x2013, 0, "var1", od.UNSIGNED32, 0, od.AccessRW))
	dict.AddVariable(od.NewVariable(0x2010, 0, "var2", od.UNSIGNED32, 0, od.AccessRW))
	dict.AddVariable(od.NewVariable(0x2033, 0, "var3", od.UNSIGNED32, 0, od.AccessRW))
	dict.AddVariable(od.NewVariable(0x2030, 0, "var4", od.UNSIGNED32, 0, od.AccessRW))
	return dict
}

func seedPdoRecord(store *memStore, commIndex, mapIndex uint16, cobID uint32, transType uint8, eventMs uint16, mapping [][2]interface{}) {
	store.SetData(commIndex, 1, encodeU32(cobID))
	store.SetData(commIndex, 2, []byte{transType})
	store.SetData(commIndex, 3, encodeU32(0)[:2])
	store.SetData(commIndex, 5, []byte{uint8(eventMs), uint8(eventMs >> 8)})
	store.SetData(mapIndex, 0, []byte{uint8(len(mapping))})
	for i, m := range mapping {
		idx := m[0].(uint16)
		store.SetData(mapIndex, uint8(i+1), encodeMappingDesc(idx, 0, 32))
	}
}

// S6: configure RPDO1 mapping to {0x2013:0 (u32), 0x2010:0 (u32)}; receive
// payload 67 00 00 00 89 00 00 00; 0x2013 == 0x67, 0x2010 == 0x89.
func TestRPDOScenarioS6(t *testing.T) {
	dict := baseDict()
	store := newMemStore()
	seedPdoRecord(store, 0x1400, 0x1600, 0x200, 0xFF, 0, [][2]interface{}{
		{uint16(0x2013)}, {uint16(0x2010)},
	})

	rpdo, err := NewRPDO(dict, store, nil, 0x1400, 0x1600)
	require.NoError(t, err)

	payload := []byte{0x67, 0, 0, 0, 0x89, 0, 0, 0}
	rpdo.HandleFrame(0x200, payload, 0)

	got1, err := store.GetData(0x2013, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x67), binary.LittleEndian.Uint32(got1))

	got2, err := store.GetData(0x2010, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x89), binary.LittleEndian.Uint32(got2))
}

// S7: configure TPDO2 mapping to {0x2033:0, 0x2030:0}; write 0x1234 to
// 0x2033, 0xABCD to 0x2030; trans_type=0xFF, event_timer=100ms, NMT
// operational; after 500ms tpdo.Data == 34 12 00 00 CD AB 00 00.
func TestTPDOScenarioS7(t *testing.T) {
	dict := baseDict()
	store := newMemStore()
	seedPdoRecord(store, 0x1800, 0x1A00, 0x280, 0xFF, 100, [][2]interface{}{
		{uint16(0x2033)}, {uint16(0x2030)},
	})
	require.NoError(t, store.SetData(0x2033, 0, encodeU32(0x1234)))
	require.NoError(t, store.SetData(0x2030, 0, encodeU32(0xABCD)))

	bus := &memBus{}
	tpdo, err := NewTPDO(dict, store, bus, nil, 0x1800, 0x1A00)
	require.NoError(t, err)

	tpdo.Start(true)
	defer tpdo.Stop()

	time.Sleep(500 * time.Millisecond)

	tpdo.mu.Lock()
	data := append([]byte(nil), tpdo.Data...)
	tpdo.mu.Unlock()
	assert.Equal(t, []byte{0x34, 0x12, 0, 0, 0xCD, 0xAB, 0, 0}, data)
	assert.NotEmpty(t, bus.sent)
}

func TestTPDOStopCancelsTimer(t *testing.T) {
	dict := baseDict()
	store := newMemStore()
	seedPdoRecord(store, 0x1801, 0x1A01, 0x281, 0xFF, 20, [][2]interface{}{
		{uint16(0x2033)},
	})
	bus := &memBus{}
	tpdo, err := NewTPDO(dict, store, bus, nil, 0x1801, 0x1A01)
	require.NoError(t, err)

	tpdo.Start(true)
	tpdo.Stop()
	before := len(bus.sent)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, len(bus.sent))
}

func TestBitLengthMismatchFailsRead(t *testing.T) {
	dict := baseDict()
	store := newMemStore()
	store.SetData(0x1400, 1, encodeU32(0x200))
	store.SetData(0x1400, 2, []byte{0xFF})
	store.SetData(0x1600, 0, []byte{1})
	store.SetData(0x1600, 1, encodeMappingDesc(0x2013, 0, 16)) // wrong: OD says 32

	_, err := NewRPDO(dict, store, nil, 0x1400, 0x1600)
	assert.Error(t, err)
}

// A Variable whose bit length agrees between the OD and the mapping
// descriptor but isn't one of the widths the PDO engine can splice
// (spec.md §3's pdo_mappable invariant) must still fail construction.
func TestUnmappableBitLengthFailsRead(t *testing.T) {
	dict := od.NewObjectDictionary(nil)
	dict.AddVariable(od.NewVariable(0x2040, 0, "odd", od.UNSIGNED16, 12, od.AccessRW).WithPDOMappable())

	store := newMemStore()
	store.SetData(0x1400, 1, encodeU32(0x200))
	store.SetData(0x1400, 2, []byte{0xFF})
	store.SetData(0x1600, 0, []byte{1})
	store.SetData(0x1600, 1, encodeMappingDesc(0x2040, 0, 12))

	_, err := NewRPDO(dict, store, nil, 0x1400, 0x1600)
	assert.Error(t, err)
}
