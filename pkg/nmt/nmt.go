// Package nmt implements the CiA 301 NMT slave state machine and heartbeat
// producer (spec.md §4.4).
package nmt

import (
	"log/slog"
	"sync"
	"time"
)

// State is one of the four CiA 301 NMT states. The numeric values match the
// heartbeat/bootup state byte, not the position in an enum.
type State uint8

const (
	StateInitializing   State = 0
	StateStopped        State = 4
	StateOperational    State = 5
	StatePreOperational State = 127
)

var stateNames = map[State]string{
	StateInitializing:   "INITIALISING",
	StateStopped:        "STOPPED",
	StateOperational:    "OPERATIONAL",
	StatePreOperational: "PRE-OPERATIONAL",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Command is an NMT service command, byte 0 of a COB-ID-0 frame.
type Command uint8

const (
	CommandEnterOperational    Command = 1
	CommandEnterStopped        Command = 2
	CommandEnterPreOperational Command = 128
	CommandResetNode           Command = 129
	CommandResetCommunication  Command = 130
)

// Sender transmits a frame on a given COB-ID.
type Sender interface {
	Send(cobID uint32, data []byte) error
}

// NMT is the per-node NMT slave state machine plus heartbeat producer.
type NMT struct {
	logger *slog.Logger
	bus    Sender
	nodeID uint8
	hbCOB  uint32

	mu        sync.Mutex
	state     State
	period    time.Duration
	timer     *time.Timer
	callbacks map[uint64]func(State)
	nextID    uint64
}

// NewNMT creates an NMT slave for nodeID, initially in StateInitializing.
// Call Start once the node has finished constructing its OD/services, per
// spec.md §4.4's "auto-transition to PRE-OPERATIONAL once setup completes".
func NewNMT(bus Sender, nodeID uint8, logger *slog.Logger) *NMT {
	if logger == nil {
		logger = slog.Default()
	}
	return &NMT{
		logger:    logger.With("component", "nmt", "nodeId", nodeID),
		bus:       bus,
		nodeID:    nodeID,
		hbCOB:     0x700 + uint32(nodeID),
		state:     StateInitializing,
		callbacks: map[uint64]func(State){},
	}
}

// Start transitions INITIALISING → PRE-OPERATIONAL and emits the initial
// heartbeat/bootup frame.
func (n *NMT) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.setStateLocked(StatePreOperational)
}

// State returns the current NMT state.
func (n *NMT) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// HandleFrame processes an incoming NMT command frame, a network.HandlerFunc
// registered on COB-ID 0 (spec.md §4.4: `[cs, target_id]`, target_id == 0
// is broadcast, otherwise must match this node).
func (n *NMT) HandleFrame(cobID uint32, data []byte, timestamp float64) {
	if cobID != 0 || len(data) != 2 {
		return
	}
	targetID := data[1]
	if targetID != 0 && targetID != n.nodeID {
		return
	}
	n.processCommand(Command(data[0]))
}

func (n *NMT) processCommand(cmd Command) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch cmd {
	case CommandEnterOperational:
		n.setStateLocked(StateOperational)
	case CommandEnterStopped:
		n.setStateLocked(StateStopped)
	case CommandEnterPreOperational:
		n.setStateLocked(StatePreOperational)
	case CommandResetNode, CommandResetCommunication:
		n.setStateLocked(StateInitializing)
		n.setStateLocked(StatePreOperational)
	default:
		n.logger.Warn("unknown nmt command", "cs", uint8(cmd))
	}
}

func (n *NMT) setStateLocked(newState State) {
	if newState == n.state {
		return
	}
	n.logger.Info("nmt state changed", "previous", n.state, "new", newState)
	n.state = newState

	var callbacks []func(State)
	for _, cb := range n.callbacks {
		callbacks = append(callbacks, cb)
	}
	n.sendHeartbeatLocked()

	n.mu.Unlock()
	for _, cb := range callbacks {
		cb(newState)
	}
	n.mu.Lock()
}

// sendHeartbeatLocked emits the 1-byte heartbeat frame and, if a periodic
// cycle is active, reschedules it. Must be called with mu held.
func (n *NMT) sendHeartbeatLocked() {
	if err := n.bus.Send(n.hbCOB, []byte{byte(n.state)}); err != nil {
		n.logger.Warn("failed to send heartbeat", "error", err)
	}
	if n.period > 0 {
		if n.timer != nil {
			n.timer.Stop()
		}
		n.timer = time.AfterFunc(n.period, n.heartbeatTick)
	}
}

func (n *NMT) heartbeatTick() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.period <= 0 {
		return
	}
	n.sendHeartbeatLocked()
}

// SetHeartbeatPeriod is called by the owning node when OD entry 0x1017
// (Producer heartbeat time) is written. A nonzero value (milliseconds)
// starts the periodic producer task and emits an immediate heartbeat;
// zero stops it (spec.md §4.4).
func (n *NMT) SetHeartbeatPeriod(ms uint16) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.period = time.Duration(ms) * time.Millisecond
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	if n.period > 0 {
		n.sendHeartbeatLocked()
	}
}

// AddStateChangeCallback registers fn to be invoked (with the lock
// released) on every NMT state transition. Returns a function to remove it.
func (n *NMT) AddStateChangeCallback(fn func(State)) (cancel func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.callbacks[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.callbacks, id)
	}
}

// Stop cancels the heartbeat timer and clears all callbacks, per spec.md
// §5's graceful-shutdown requirement.
func (n *NMT) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.callbacks = map[uint64]func(State){}
}
