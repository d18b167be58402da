package virtual

import (
	"sync"
	"testing"
	"time"

	canopen "github.com/samsamfire/conode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frameRecorder struct {
	mu     sync.Mutex
	frames []canopen.Frame
}

func (r *frameRecorder) Handle(frame canopen.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
}

func (r *frameRecorder) snapshot() []canopen.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]canopen.Frame(nil), r.frames...)
}

func newBus(t *testing.T, channel string) *Bus {
	t.Helper()
	raw, err := NewVirtualBus(channel)
	require.NoError(t, err)
	return raw.(*Bus)
}

func TestSendDeliversToOtherMember(t *testing.T) {
	channel := t.Name()
	bus1 := newBus(t, channel)
	bus2 := newBus(t, channel)
	require.NoError(t, bus1.Connect())
	require.NoError(t, bus2.Connect())
	defer bus1.Disconnect()
	defer bus2.Disconnect()

	recv := &frameRecorder{}
	require.NoError(t, bus2.Subscribe(recv))

	frame := canopen.NewFrame(0x111, 8)
	frame.Data = [8]byte{0, 1, 2, 3, 4, 5, 6, 7}
	require.NoError(t, bus1.Send(frame))

	got := recv.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, frame, got[0])
}

func TestReceiveOwnDefaultFalse(t *testing.T) {
	channel := t.Name()
	bus1 := newBus(t, channel)
	require.NoError(t, bus1.Connect())
	defer bus1.Disconnect()

	recv := &frameRecorder{}
	require.NoError(t, bus1.Subscribe(recv))
	require.NoError(t, bus1.Send(canopen.NewFrame(0x111, 0)))
	assert.Empty(t, recv.snapshot())

	bus1.SetReceiveOwn(true)
	require.NoError(t, bus1.Send(canopen.NewFrame(0x111, 0)))
	assert.Len(t, recv.snapshot(), 1)
}

func TestDisconnectStopsDelivery(t *testing.T) {
	channel := t.Name()
	bus1 := newBus(t, channel)
	bus2 := newBus(t, channel)
	require.NoError(t, bus1.Connect())
	require.NoError(t, bus2.Connect())
	defer bus1.Disconnect()

	recv := &frameRecorder{}
	require.NoError(t, bus2.Subscribe(recv))
	require.NoError(t, bus2.Disconnect())

	require.NoError(t, bus1.Send(canopen.NewFrame(0x111, 0)))
	time.Sleep(time.Millisecond)
	assert.Empty(t, recv.snapshot())
}
