package nmt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBus struct {
	sent []struct {
		cobID uint32
		data  []byte
	}
}

func newRecordingBus() *recordingBus {
	return &recordingBus{}
}

func (b *recordingBus) Send(cobID uint32, data []byte) error {
	b.sent = append(b.sent, struct {
		cobID uint32
		data  []byte
	}{cobID, append([]byte(nil), data...)})
	return nil
}

func (b *recordingBus) last() (uint32, []byte) {
	if len(b.sent) == 0 {
		return 0, nil
	}
	last := b.sent[len(b.sent)-1]
	return last.cobID, last.data
}

func TestStartTransitionsToPreOperational(t *testing.T) {
	bus := newRecordingBus()
	n := NewNMT(bus, 5, nil)
	assert.Equal(t, StateInitializing, n.State())

	n.Start()
	assert.Equal(t, StatePreOperational, n.State())

	cobID, data := bus.last()
	assert.Equal(t, uint32(0x700+5), cobID)
	assert.Equal(t, []byte{byte(StatePreOperational)}, data)
}

// S5: broadcast [2, 0] (NMT stop, target_id=0) to two nodes; both end up
// STOPPED.
func TestBroadcastStopAffectsAllNodes(t *testing.T) {
	busA := newRecordingBus()
	busB := newRecordingBus()
	nodeA := NewNMT(busA, 1, nil)
	nodeB := NewNMT(busB, 2, nil)
	nodeA.Start()
	nodeB.Start()

	frame := []byte{byte(CommandEnterStopped), 0}
	nodeA.HandleFrame(0, frame, 0)
	nodeB.HandleFrame(0, frame, 0)

	assert.Equal(t, StateStopped, nodeA.State())
	assert.Equal(t, StateStopped, nodeB.State())
}

func TestTargetedCommandIgnoresOtherNodes(t *testing.T) {
	bus := newRecordingBus()
	n := NewNMT(bus, 5, nil)
	n.Start()

	n.HandleFrame(0, []byte{byte(CommandEnterOperational), 9}, 0)
	assert.Equal(t, StatePreOperational, n.State())

	n.HandleFrame(0, []byte{byte(CommandEnterOperational), 5}, 0)
	assert.Equal(t, StateOperational, n.State())
}

func TestResetNodePassesThroughInitialising(t *testing.T) {
	bus := newRecordingBus()
	n := NewNMT(bus, 1, nil)
	n.Start()
	n.HandleFrame(0, []byte{byte(CommandEnterOperational), 0}, 0)
	require.Equal(t, StateOperational, n.State())

	n.HandleFrame(0, []byte{byte(CommandResetNode), 0}, 0)
	assert.Equal(t, StatePreOperational, n.State())
}

// S4: writing a nonzero heartbeat period starts the producer and emits a
// heartbeat immediately; the next one follows within roughly the period.
func TestHeartbeatPeriodStartsProducer(t *testing.T) {
	bus := newRecordingBus()
	n := NewNMT(bus, 3, nil)
	n.Start()

	before := len(bus.sent)
	n.SetHeartbeatPeriod(50)
	assert.Greater(t, len(bus.sent), before)

	time.Sleep(120 * time.Millisecond)
	assert.GreaterOrEqual(t, len(bus.sent), before+2)

	cobID, data := bus.last()
	assert.Equal(t, uint32(0x700+3), cobID)
	assert.Equal(t, []byte{byte(StatePreOperational)}, data)

	n.Stop()
}

func TestHeartbeatPeriodZeroStopsProducer(t *testing.T) {
	bus := newRecordingBus()
	n := NewNMT(bus, 4, nil)
	n.Start()
	n.SetHeartbeatPeriod(20)
	n.SetHeartbeatPeriod(0)

	before := len(bus.sent)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, before, len(bus.sent))
}

func TestStateChangeCallback(t *testing.T) {
	bus := newRecordingBus()
	n := NewNMT(bus, 1, nil)
	var seen []State
	cancel := n.AddStateChangeCallback(func(s State) { seen = append(seen, s) })
	defer cancel()

	n.Start()
	n.HandleFrame(0, []byte{byte(CommandEnterOperational), 0}, 0)

	require.Len(t, seen, 2)
	assert.Equal(t, StatePreOperational, seen[0])
	assert.Equal(t, StateOperational, seen[1])
}
