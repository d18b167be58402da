// Package canopen holds the wire-level types shared by every subsystem of
// this CiA 301 node: the CAN frame representation and the duplex transport
// contract each subsystem is built against.
package canopen

import "fmt"

// COB-ID ranges reserved by CiA 301 for the predefined connection set.
const (
	NMTServiceID       uint32 = 0x000
	SyncServiceID      uint32 = 0x080
	EmergencyServiceID uint32 = 0x080
	TPDO1ServiceID     uint32 = 0x180
	RPDO1ServiceID     uint32 = 0x200
	TPDO2ServiceID     uint32 = 0x280
	RPDO2ServiceID     uint32 = 0x300
	TPDO3ServiceID     uint32 = 0x380
	RPDO3ServiceID     uint32 = 0x400
	TPDO4ServiceID     uint32 = 0x480
	RPDO4ServiceID     uint32 = 0x500
	SDOServerServiceID uint32 = 0x580
	SDOClientServiceID uint32 = 0x600
	HeartbeatServiceID uint32 = 0x700
)

// MaxNodeID is the highest CANopen node-id in the predefined connection set.
const MaxNodeID uint8 = 127

// Frame is a single CAN frame. CANopen only uses the classic 11-bit
// identifier and up to 8 data bytes; there is no CAN-FD support (spec
// non-goal).
type Frame struct {
	ID   uint32
	DLC  uint8
	Data [8]byte
}

// NewFrame builds a zeroed frame of the given identifier and length.
func NewFrame(id uint32, dlc uint8) Frame {
	return Frame{ID: id, DLC: dlc}
}

func (f Frame) String() string {
	return fmt.Sprintf("id=x%03X dlc=%d data=% 02X", f.ID, f.DLC, f.Data[:f.DLC])
}

// FrameListener receives CAN frames delivered by a Bus. Handle must not
// block: it runs on the bus's delivery goroutine.
type FrameListener interface {
	Handle(frame Frame)
}

// Bus is the external CAN transport contract (spec §6). It is a duplex,
// best-effort frame channel; the underlying network, arbitration and bus
// recovery are outside the scope of this module.
type Bus interface {
	// Send transmits a frame. It is synchronous but non-blocking in the
	// sense that it must not wait for bus arbitration to complete; it may
	// silently drop frames while the bus is off.
	Send(frame Frame) error
	// Subscribe registers a listener for every frame received on the bus.
	// Demultiplexing by COB-ID is the caller's responsibility (see
	// pkg/network).
	Subscribe(listener FrameListener) error
	// Connect opens the underlying transport.
	Connect(...any) error
	// Disconnect closes the underlying transport.
	Disconnect() error
}
