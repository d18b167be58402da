package pdo

import (
	"log/slog"
	"sync"
	"time"

	"github.com/samsamfire/conode/pkg/od"
)

// TPDO is the transmit half of the PDO engine: a periodic task reads the
// current value of every mapped variable, splices it into Data and sends
// the frame (spec.md §4.3 transmit path).
type TPDO struct {
	*PdoMap
	bus Sender

	mu      sync.Mutex
	timer   *time.Timer
	running bool
	period  time.Duration
}

// NewTPDO builds a TPDO bound to the communication/mapping records at
// commIndex/mapIndex, sending on bus, and loads its current configuration
// from store.
func NewTPDO(dict *od.ObjectDictionary, store DataStore, bus Sender, logger *slog.Logger, commIndex, mapIndex uint16) (*TPDO, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t := &TPDO{
		PdoMap: newPdoMap(dict, store, logger.With("component", "tpdo", "index", commIndex), commIndex, mapIndex),
		bus:    bus,
	}
	if err := t.read(); err != nil {
		return nil, err
	}
	return t, nil
}

// update refreshes Data from the OD.
func (t *TPDO) update() error {
	return t.refreshFromOD()
}

// transmit sends Data exactly once on CobID.
func (t *TPDO) transmit() error {
	return t.bus.Send(t.CobID, t.Data)
}

// Start begins the periodic update()+transmit() cycle if the transmission
// type is event-driven ({254,255}), period > 0, the PDO is enabled, and
// nmtOperational is true; otherwise it only stops any cycle already running
// (spec.md §4.3). period is derived from EventTimeMs.
func (t *TPDO) Start(nmtOperational bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startLocked(nmtOperational)
}

func (t *TPDO) startLocked(nmtOperational bool) {
	if t.running {
		t.stopLocked()
	}
	eventDriven := t.TransType == TransmissionTypeEventLo || t.TransType == TransmissionTypeEventHi
	if !eventDriven || t.EventTimeMs == 0 || !nmtOperational || !t.Enabled {
		return
	}
	t.period = time.Duration(t.EventTimeMs) * time.Millisecond
	t.running = true
	t.scheduleLocked()
}

func (t *TPDO) scheduleLocked() {
	t.timer = time.AfterFunc(t.period, t.tick)
}

func (t *TPDO) tick() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	period := t.period
	t.mu.Unlock()

	t0 := time.Now()
	if err := t.update(); err != nil {
		t.logger.Warn("tpdo update failed", "error", err)
	} else if err := t.transmit(); err != nil {
		t.logger.Warn("tpdo transmit failed", "error", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	sleep := period - time.Since(t0)
	if sleep < 0 {
		sleep = 0
	}
	t.timer = time.AfterFunc(sleep, t.tick)
}

// Stop cancels the periodic task. A no-op if no timer is active.
func (t *TPDO) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *TPDO) stopLocked() {
	t.running = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Reconfigure re-reads the communication/mapping records (e.g. after an SDO
// write to commIndex or mapIndex) and restarts the periodic task with the
// new period, per spec.md §4.3's runtime-reconfiguration rule.
func (t *TPDO) Reconfigure(nmtOperational bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	if err := t.read(); err != nil {
		return err
	}
	t.startLocked(nmtOperational)
	return nil
}
