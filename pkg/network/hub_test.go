package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	canopen "github.com/samsamfire/conode"
)

type fakeBus struct {
	sent []canopen.Frame
}

func (b *fakeBus) Send(frame canopen.Frame) error {
	b.sent = append(b.sent, frame)
	return nil
}
func (b *fakeBus) Subscribe(canopen.FrameListener) error { return nil }
func (b *fakeBus) Connect(...any) error                  { return nil }
func (b *fakeBus) Disconnect() error                     { return nil }

func TestSubscribeDispatchesByCobID(t *testing.T) {
	bus := &fakeBus{}
	h := NewHub(bus, nil, func() float64 { return 1.5 })

	var got []byte
	h.Subscribe(0x601, func(cobID uint32, data []byte, ts float64) {
		got = data
		assert.Equal(t, uint32(0x601), cobID)
		assert.Equal(t, 1.5, ts)
	})

	frame := canopen.NewFrame(0x601, 2)
	frame.Data[0], frame.Data[1] = 0xAA, 0xBB
	h.Handle(frame)

	assert.Equal(t, []byte{0xAA, 0xBB}, got)
}

func TestHandleMasksExtendedFlagBits(t *testing.T) {
	bus := &fakeBus{}
	h := NewHub(bus, nil, nil)

	var seen uint32
	h.Subscribe(0x601, func(cobID uint32, data []byte, ts float64) {
		seen = cobID
	})

	// EFF + RTR flag bits set above the 11-bit SFF range; only the
	// low 11 bits identify the COB-ID.
	frame := canopen.NewFrame(0x601|0x80000000|0x40000000, 0)
	h.Handle(frame)

	assert.Equal(t, uint32(0x601), seen)
}

func TestNonNMTFrameAlsoReachesNMTSubscriber(t *testing.T) {
	bus := &fakeBus{}
	h := NewHub(bus, nil, nil)

	var nmtCount, otherCount int
	h.Subscribe(canopen.NMTServiceID, func(uint32, []byte, float64) { nmtCount++ })
	h.Subscribe(0x601, func(uint32, []byte, float64) { otherCount++ })

	// A frame addressed to the NMT COB-ID only reaches NMT subscribers;
	// broadcast fan-out is skipped to avoid delivering it twice.
	h.Handle(canopen.NewFrame(canopen.NMTServiceID, 2))
	assert.Equal(t, 1, nmtCount)
	assert.Equal(t, 0, otherCount)

	// A frame on any other COB-ID also reaches NMT subscribers, since
	// NMT state transitions (e.g. heartbeat producer hooks) don't
	// depend on which service woke the bus.
	h.Handle(canopen.NewFrame(0x601, 1))
	assert.Equal(t, 2, nmtCount)
	assert.Equal(t, 1, otherCount)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := &fakeBus{}
	h := NewHub(bus, nil, nil)

	var calls int
	unsubscribe := h.Subscribe(0x601, func(uint32, []byte, float64) { calls++ })
	h.Handle(canopen.NewFrame(0x601, 0))
	unsubscribe()
	h.Handle(canopen.NewFrame(0x601, 0))

	assert.Equal(t, 1, calls)
}

func TestSendWrapsBusSend(t *testing.T) {
	bus := &fakeBus{}
	h := NewHub(bus, nil, nil)

	require.NoError(t, h.Send(0x182, []byte{1, 2, 3}))
	require.Len(t, bus.sent, 1)
	assert.Equal(t, uint32(0x182), bus.sent[0].ID)
	assert.Equal(t, uint8(3), bus.sent[0].DLC)
}

func TestShutdownClearsListeners(t *testing.T) {
	bus := &fakeBus{}
	h := NewHub(bus, nil, nil)

	var calls int
	h.Subscribe(0x601, func(uint32, []byte, float64) { calls++ })
	h.Shutdown()
	h.Handle(canopen.NewFrame(0x601, 0))

	assert.Equal(t, 0, calls)
}
