// Package network implements the demultiplexing hub that sits between a
// CAN [canopen.Bus] and every CANopen service on a node (spec.md §4.6).
package network

import (
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"

	canopen "github.com/samsamfire/conode"
)

// HandlerFunc receives a frame addressed to the COB-ID it was subscribed
// under, along with the monotonic timestamp (seconds) it arrived at.
type HandlerFunc func(cobID uint32, data []byte, timestamp float64)

// Hub demultiplexes inbound CAN frames by COB-ID to subscribed handlers
// and provides the single Send path out to the bus. Incoming frame IDs
// are masked with CAN_SFF_MASK before lookup, since a real SocketCAN
// receive path can carry the EFF/RTR/ERR flag bits alongside the
// 11-bit COB-ID. COB-ID 0 (NMT) is delivered to every subscriber
// regardless of the frame's target-id byte — per spec.md §4.6,
// filtering on target-id is the NMT slave's own responsibility, not
// the hub's.
type Hub struct {
	logger *slog.Logger
	bus    canopen.Bus
	now    func() float64

	mu        sync.Mutex
	listeners map[uint32][]subscription
	nextID    uint64
}

type subscription struct {
	id uint64
	fn HandlerFunc
}

// NewHub creates a Hub bound to bus. now supplies the monotonic timestamp
// handed to handlers; pass nil to use a real wall-clock source.
func NewHub(bus canopen.Bus, logger *slog.Logger, now func() float64) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = monotonicSeconds
	}
	return &Hub{
		logger:    logger.With("component", "network"),
		bus:       bus,
		now:       now,
		listeners: map[uint32][]subscription{},
	}
}

// Handle implements canopen.FrameListener: it is the single entry point
// fed by the Bus's delivery goroutine.
func (h *Hub) Handle(frame canopen.Frame) {
	cobID := frame.ID & unix.CAN_SFF_MASK

	h.mu.Lock()
	var targeted, broadcast []subscription
	targeted = append(targeted, h.listeners[cobID]...)
	if cobID != canopen.NMTServiceID {
		broadcast = append(broadcast, h.listeners[canopen.NMTServiceID]...)
	}
	h.mu.Unlock()

	ts := h.now()
	data := frame.Data[:frame.DLC]
	for _, sub := range targeted {
		sub.fn(cobID, data, ts)
	}
	for _, sub := range broadcast {
		sub.fn(cobID, data, ts)
	}
}

// Subscribe registers fn for every frame received with the given COB-ID.
// Returns an unsubscribe function. Subscribers for the same COB-ID are
// invoked in registration order.
func (h *Hub) Subscribe(cobID uint32, fn HandlerFunc) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.listeners[cobID] = append(h.listeners[cobID], subscription{id: id, fn: fn})
	return func() { h.unsubscribe(cobID, id) }
}

func (h *Hub) unsubscribe(cobID uint32, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.listeners[cobID]
	for i, sub := range subs {
		if sub.id == id {
			h.listeners[cobID] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Send transmits data (up to 8 bytes) on cobID.
func (h *Hub) Send(cobID uint32, data []byte) error {
	frame := canopen.NewFrame(cobID, uint8(len(data)))
	copy(frame.Data[:], data)
	err := h.bus.Send(frame)
	if err != nil {
		h.logger.Warn("send failed", "cobId", cobID, "error", err)
	}
	return err
}

// Shutdown unsubscribes every handler, per spec.md §5's graceful-shutdown
// requirement that remove_network stop all timers and unsubscribe all
// handlers before returning. Timers themselves are owned by their
// components (TPDO, NMT heartbeat); this only clears the hub's routing
// table.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = map[uint32][]subscription{}
}
