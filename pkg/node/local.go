// Package node implements the Local Node (spec.md §2): the object that
// owns the Object Dictionary's runtime data store and wires together the
// SDO server, PDO engine, NMT slave, EMCY producer and network hub.
package node

import (
	"fmt"
	"log/slog"
	"sync"

	canopen "github.com/samsamfire/conode"
	"github.com/samsamfire/conode/pkg/emergency"
	"github.com/samsamfire/conode/pkg/network"
	"github.com/samsamfire/conode/pkg/nmt"
	"github.com/samsamfire/conode/pkg/od"
	"github.com/samsamfire/conode/pkg/pdo"
	"github.com/samsamfire/conode/pkg/sdo"
)

// ReadCallback may intercept a read of (index, subIndex) before the data
// store is consulted. Returning ok=false falls through to the next
// callback, then to the data store, then to OD defaults (spec.md §3).
type ReadCallback func(index uint16, subIndex uint8) (data []byte, ok bool)

// WriteCallback observes every successful SetData call, after the value
// has been stored. Used to trigger PDO reconfiguration and heartbeat
// start/stop without coupling those components to the SDO server
// directly (spec.md §2's "callback fabric").
type WriteCallback func(index uint16, subIndex uint8, data []byte)

const (
	maxPDOSlots  = 4
	emcyHistSize = 8
)

// LocalNode is a single CANopen slave device: the Object Dictionary,
// its backing data store, and every service (SDO, PDO, NMT, EMCY) bound
// to a CAN bus through a shared Hub.
type LocalNode struct {
	logger *slog.Logger
	nodeID uint8
	od     *od.ObjectDictionary
	hub    *network.Hub

	mu             sync.Mutex
	store          map[uint16]map[uint8][]byte
	readCallbacks  []ReadCallback
	writeCallbacks []WriteCallback

	nmt  *nmt.NMT
	emcy *emergency.Producer
	sdo  *sdo.Server

	rpdos    []*pdo.RPDO
	rpdoSubs []func()
	tpdos    []*pdo.TPDO
}

// NewLocalNode builds a node bound to dict (already built, e.g. via
// od.NewObjectDictionary + AddStandardObjects/AddPDOSlot, or pkg/eds.Parse)
// and nodeID, transporting over bus. It wires the SDO server on
// 0x600+id/0x580+id, the NMT handler on COB-ID 0, an EMCY producer on
// 0x80+id, and one RPDO/TPDO per standard PDO slot (0x1400.. / 0x1800..)
// present in dict.
func NewLocalNode(dict *od.ObjectDictionary, nodeID uint8, bus canopen.Bus, logger *slog.Logger) (*LocalNode, error) {
	if nodeID == 0 || nodeID > canopen.MaxNodeID {
		return nil, fmt.Errorf("node: invalid node id %d", nodeID)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "node", "nodeId", nodeID)

	hub := network.NewHub(bus, logger, nil)
	if err := bus.Subscribe(hub); err != nil {
		return nil, fmt.Errorf("node: subscribing hub to bus: %w", err)
	}

	n := &LocalNode{
		logger: logger,
		nodeID: nodeID,
		od:     dict,
		hub:    hub,
		store:  map[uint16]map[uint8][]byte{},
	}

	n.sdo = sdo.NewServer(dict, n, hub, 0x580+uint32(nodeID), logger)
	hub.Subscribe(0x600+uint32(nodeID), n.sdo.HandleFrame)

	n.emcy = emergency.NewProducer(hub, n, nodeID, emcyHistSize, logger)

	n.nmt = nmt.NewNMT(hub, nodeID, logger)
	hub.Subscribe(canopen.NMTServiceID, n.nmt.HandleFrame)
	n.nmt.AddStateChangeCallback(n.onNMTStateChange)

	n.AddWriteCallback(n.observeHeartbeatWrite)

	if err := n.buildPDOs(); err != nil {
		return nil, err
	}
	n.AddWriteCallback(n.observePDOConfigWrite)

	return n, nil
}

// buildPDOs constructs one RPDO/TPDO per standard slot (0x1400+n/0x1600+n,
// 0x1800+n/0x1A00+n for n in 0..maxPDOSlots-1) whose communication record
// is actually present in the OD; slots the caller never populated are
// silently skipped.
func (n *LocalNode) buildPDOs() error {
	for i := uint16(0); i < maxPDOSlots; i++ {
		commIndex := od.RPDOCommStart + i
		mapIndex := od.RPDOMapStart + i
		if n.od.Index(commIndex) == nil {
			continue
		}
		rpdo, err := pdo.NewRPDO(n.od, n, n.logger, commIndex, mapIndex)
		if err != nil {
			return fmt.Errorf("node: building rpdo x%x: %w", commIndex, err)
		}
		unsubscribe := n.hub.Subscribe(rpdo.CobID, rpdo.HandleFrame)
		n.rpdos = append(n.rpdos, rpdo)
		n.rpdoSubs = append(n.rpdoSubs, unsubscribe)
	}

	for i := uint16(0); i < maxPDOSlots; i++ {
		commIndex := od.TPDOCommStart + i
		mapIndex := od.TPDOMapStart + i
		if n.od.Index(commIndex) == nil {
			continue
		}
		tpdo, err := pdo.NewTPDO(n.od, n, n.hub, n.logger, commIndex, mapIndex)
		if err != nil {
			return fmt.Errorf("node: building tpdo x%x: %w", commIndex, err)
		}
		n.tpdos = append(n.tpdos, tpdo)
	}
	return nil
}

// Start transitions the NMT state machine out of INITIALISING. Call once
// the node is fully wired and ready to participate on the bus.
func (n *LocalNode) Start() {
	n.nmt.Start()
}

// Shutdown stops every timer-driven component and tears down the hub's
// routing table, per spec.md §5's graceful-shutdown requirement.
func (n *LocalNode) Shutdown() {
	n.nmt.Stop()
	for _, t := range n.tpdos {
		t.Stop()
	}
	n.hub.Shutdown()
}

// NMT exposes the node's NMT slave, e.g. for test assertions or a CLI's
// `local.nmt.state` style introspection.
func (n *LocalNode) NMT() *nmt.NMT { return n.nmt }

// EMCY exposes the node's EMCY producer so application code can report
// device-specific error conditions.
func (n *LocalNode) EMCY() *emergency.Producer { return n.emcy }

// AddReadCallback registers fn, tried before the data store on every
// GetData call. Callbacks run in registration order; the first to return
// ok=true wins.
func (n *LocalNode) AddReadCallback(fn ReadCallback) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.readCallbacks = append(n.readCallbacks, fn)
}

// AddWriteCallback registers fn to be invoked, lock released, after every
// successful SetData.
func (n *LocalNode) AddWriteCallback(fn WriteCallback) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.writeCallbacks = append(n.writeCallbacks, fn)
}

// GetData resolves the current value of (index, subIndex): read-callbacks
// in registration order (first non-null wins), then the data store, then
// the OD entry's EDS value, then its default, then a zero of the correct
// width (spec.md §3).
func (n *LocalNode) GetData(index uint16, subIndex uint8) ([]byte, error) {
	n.mu.Lock()
	callbacks := append([]ReadCallback(nil), n.readCallbacks...)
	n.mu.Unlock()

	for _, cb := range callbacks {
		if data, ok := cb(index, subIndex); ok {
			return data, nil
		}
	}

	v, err := n.od.Variable(index, subIndex)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if sub, ok := n.store[index]; ok {
		if data, ok := sub[subIndex]; ok {
			return append([]byte(nil), data...), nil
		}
	}
	if v.Value != nil {
		return append([]byte(nil), v.Value...), nil
	}
	if v.Default != nil {
		return append([]byte(nil), v.Default...), nil
	}
	return make([]byte, v.ByteLength()), nil
}

// SetData stores data as the current value of (index, subIndex) and fires
// every registered write callback, lock released, in registration order
// (spec.md §3). Access control (read-only/write-only) is the SDO server's
// concern, not the data store's: SetData itself never rejects a write on
// those grounds, so PDO reception can write objects an SDO client
// couldn't.
func (n *LocalNode) SetData(index uint16, subIndex uint8, data []byte) error {
	if _, err := n.od.Variable(index, subIndex); err != nil {
		return err
	}

	n.mu.Lock()
	sub, ok := n.store[index]
	if !ok {
		sub = map[uint8][]byte{}
		n.store[index] = sub
	}
	sub[subIndex] = append([]byte(nil), data...)
	callbacks := append([]WriteCallback(nil), n.writeCallbacks...)
	n.mu.Unlock()

	for _, cb := range callbacks {
		cb(index, subIndex, data)
	}
	return nil
}

func (n *LocalNode) observeHeartbeatWrite(index uint16, subIndex uint8, data []byte) {
	if index != 0x1017 || subIndex != 0 || len(data) < 2 {
		return
	}
	ms := uint16(data[0]) | uint16(data[1])<<8
	n.nmt.SetHeartbeatPeriod(ms)
}

// observePDOConfigWrite re-reads and restarts/reconfigures any RPDO/TPDO
// whose communication or mapping record was just written to, per spec.md
// §4.3's runtime-reconfiguration rule.
func (n *LocalNode) observePDOConfigWrite(index uint16, subIndex uint8, data []byte) {
	for i, r := range n.rpdos {
		if !isPdoRecord(index, r) {
			continue
		}
		oldCOB := r.CobID
		if err := r.Reconfigure(); err != nil {
			n.logger.Warn("rpdo reconfiguration failed", "index", index, "error", err)
			continue
		}
		if r.CobID != oldCOB {
			n.rpdoSubs[i]()
			n.rpdoSubs[i] = n.hub.Subscribe(r.CobID, r.HandleFrame)
		}
	}

	operational := n.nmt.State() == nmt.StateOperational
	for _, t := range n.tpdos {
		if !isPdoRecordTPDO(index, t) {
			continue
		}
		if err := t.Reconfigure(operational); err != nil {
			n.logger.Warn("tpdo reconfiguration failed", "index", index, "error", err)
		}
	}
}

func isPdoRecord(index uint16, r *pdo.RPDO) bool {
	return index == r.CommIndex() || index == r.MapIndex()
}

func isPdoRecordTPDO(index uint16, t *pdo.TPDO) bool {
	return index == t.CommIndex() || index == t.MapIndex()
}

func (n *LocalNode) onNMTStateChange(state nmt.State) {
	operational := state == nmt.StateOperational
	for _, t := range n.tpdos {
		if operational {
			t.Start(true)
		} else {
			t.Stop()
		}
	}
}
