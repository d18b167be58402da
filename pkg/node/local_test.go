package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	canopen "github.com/samsamfire/conode"
	"github.com/samsamfire/conode/pkg/od"
)

type fakeBus struct {
	sent []canopen.Frame
}

func (b *fakeBus) Send(frame canopen.Frame) error {
	b.sent = append(b.sent, frame)
	return nil
}

func (b *fakeBus) Subscribe(listener canopen.FrameListener) error { return nil }
func (b *fakeBus) Connect(...any) error                           { return nil }
func (b *fakeBus) Disconnect() error                              { return nil }

func testNode(t *testing.T) (*LocalNode, *fakeBus) {
	t.Helper()
	dict := od.NewObjectDictionary(nil)
	dict.AddStandardObjects()
	dict.AddVariable(od.NewVariable(0x2000, 0, "counter", od.UNSIGNED16, 0, od.AccessRW).WithDefault([]byte{5, 0}))
	dict.AddVariable(od.NewVariable(0x2001, 0, "plain", od.UNSIGNED8, 0, od.AccessRW))
	bus := &fakeBus{}
	n, err := NewLocalNode(dict, 1, bus, nil)
	require.NoError(t, err)
	return n, bus
}

func TestGetDataFallsBackToDefault(t *testing.T) {
	n, _ := testNode(t)
	data, err := n.GetData(0x2000, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 0}, data)
}

func TestGetDataFallsBackToZeroWithNoDefault(t *testing.T) {
	n, _ := testNode(t)
	data, err := n.GetData(0x2001, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, data)
}

func TestGetDataUnknownIndexErrors(t *testing.T) {
	n, _ := testNode(t)
	_, err := n.GetData(0x3000, 0)
	assert.Equal(t, od.ErrIdxNotExist, err)
}

func TestSetDataThenGetDataRoundTrips(t *testing.T) {
	n, _ := testNode(t)
	require.NoError(t, n.SetData(0x2000, 0, []byte{9, 9}))
	data, err := n.GetData(0x2000, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9}, data)
}

func TestSetDataUnknownIndexErrors(t *testing.T) {
	n, _ := testNode(t)
	err := n.SetData(0x3000, 0, []byte{1})
	assert.Equal(t, od.ErrIdxNotExist, err)
}

func TestReadCallbackOverridesDataStore(t *testing.T) {
	n, _ := testNode(t)
	require.NoError(t, n.SetData(0x2000, 0, []byte{9, 9}))
	n.AddReadCallback(func(index uint16, subIndex uint8) ([]byte, bool) {
		if index == 0x2000 {
			return []byte{0x42, 0x42}, true
		}
		return nil, false
	})

	data, err := n.GetData(0x2000, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x42, 0x42}, data)
}

func TestWriteCallbackFiresOnSetData(t *testing.T) {
	n, _ := testNode(t)
	var seen []uint16
	n.AddWriteCallback(func(index uint16, subIndex uint8, data []byte) {
		seen = append(seen, index)
	})

	require.NoError(t, n.SetData(0x2000, 0, []byte{1, 0}))
	require.NoError(t, n.SetData(0x2001, 0, []byte{1}))
	assert.Equal(t, []uint16{0x2000, 0x2001}, seen)
}

func TestWritingHeartbeatPeriodStartsProducer(t *testing.T) {
	n, bus := testNode(t)
	require.NoError(t, n.SetData(0x1017, 0, []byte{100, 0}))

	require.NotEmpty(t, bus.sent)
	last := bus.sent[len(bus.sent)-1]
	assert.Equal(t, uint32(0x700+1), last.ID)
}
