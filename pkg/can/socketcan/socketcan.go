// Package socketcan adapts github.com/brutella/can's Linux SocketCAN
// binding to the [canopen.Bus] contract.
package socketcan

import (
	sockcan "github.com/brutella/can"
	canopen "github.com/samsamfire/conode"
	"github.com/samsamfire/conode/pkg/can"
)

func init() {
	can.RegisterInterface("socketcan", NewSocketcanBus)
}

// SocketcanBus is a [canopen.Bus] backed by a real SocketCAN interface
// (e.g. "can0", "vcan0").
type SocketcanBus struct {
	bus      *sockcan.Bus
	listener canopen.FrameListener
}

// Connect starts the brutella/can receive loop.
func (b *SocketcanBus) Connect(...any) error {
	go b.bus.ConnectAndPublish()
	return nil
}

// Disconnect closes the underlying SocketCAN socket.
func (b *SocketcanBus) Disconnect() error {
	return b.bus.Disconnect()
}

// Send transmits frame on the SocketCAN interface.
func (b *SocketcanBus) Send(frame canopen.Frame) error {
	return b.bus.Publish(sockcan.Frame{
		ID:     frame.ID,
		Length: frame.DLC,
		Data:   frame.Data,
	})
}

// Subscribe registers listener as the bus's sole frame sink. brutella/can
// only supports a single Handle callback per bus; fan-out to multiple
// CANopen services happens one layer up, in pkg/network.Hub.
func (b *SocketcanBus) Subscribe(listener canopen.FrameListener) error {
	b.listener = listener
	b.bus.Subscribe(b)
	return nil
}

// Handle satisfies brutella/can's frame-handler interface and forwards to
// the subscribed [canopen.FrameListener].
func (b *SocketcanBus) Handle(frame sockcan.Frame) {
	if b.listener == nil {
		return
	}
	b.listener.Handle(canopen.Frame{ID: frame.ID, DLC: frame.Length, Data: frame.Data})
}

// NewSocketcanBus opens the named SocketCAN interface.
func NewSocketcanBus(name string) (canopen.Bus, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(name)
	if err != nil {
		return nil, err
	}
	return &SocketcanBus{bus: bus}, nil
}
