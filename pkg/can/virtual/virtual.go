// Package virtual implements an in-process [canopen.Bus] used to wire two
// or more nodes together for tests without a real CAN interface. Every Bus
// opened on the same channel name joins that channel's broadcast group;
// Send fans a frame out to every other member synchronously.
package virtual

import (
	"sync"

	canopen "github.com/samsamfire/conode"
	"github.com/samsamfire/conode/pkg/can"
)

func init() {
	can.RegisterInterface("virtual", NewVirtualBus)
	can.RegisterInterface("virtualcan", NewVirtualBus)
}

var (
	registryMu sync.Mutex
	registry   = map[string][]*Bus{}
)

// Bus is a member of an in-process virtual CAN network. Frames sent by one
// member are delivered synchronously, on the sender's goroutine, to every
// other member subscribed on the same channel.
type Bus struct {
	mu         sync.Mutex
	channel    string
	listener   canopen.FrameListener
	receiveOwn bool
	connected  bool
}

// NewVirtualBus creates a Bus bound to channel. Channel is just a name:
// any Bus opened with the same name joins the same broadcast group.
func NewVirtualBus(channel string) (canopen.Bus, error) {
	return &Bus{channel: channel}, nil
}

// Connect joins the channel's broadcast group.
func (b *Bus) Connect(...any) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	b.connected = true
	registry[b.channel] = append(registry[b.channel], b)
	return nil
}

// Disconnect leaves the channel's broadcast group.
func (b *Bus) Disconnect() error {
	registryMu.Lock()
	defer registryMu.Unlock()
	b.connected = false
	members := registry[b.channel]
	for i, m := range members {
		if m == b {
			registry[b.channel] = append(members[:i:i], members[i+1:]...)
			break
		}
	}
	return nil
}

// Subscribe registers listener to receive frames sent by other members of
// the channel (and, when SetReceiveOwn is set, this bus's own sends).
func (b *Bus) Subscribe(listener canopen.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = listener
	return nil
}

// SetReceiveOwn controls whether frames this bus sends are also delivered
// back to its own listener, matching real CAN controllers with loopback
// enabled.
func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiveOwn = receiveOwn
}

// Send delivers frame to every other member of the channel synchronously.
func (b *Bus) Send(frame canopen.Frame) error {
	registryMu.Lock()
	members := append([]*Bus(nil), registry[b.channel]...)
	registryMu.Unlock()

	for _, m := range members {
		if m == b {
			m.mu.Lock()
			self := m.receiveOwn
			listener := m.listener
			m.mu.Unlock()
			if self && listener != nil {
				listener.Handle(frame)
			}
			continue
		}
		m.mu.Lock()
		listener := m.listener
		m.mu.Unlock()
		if listener != nil {
			listener.Handle(frame)
		}
	}
	return nil
}
