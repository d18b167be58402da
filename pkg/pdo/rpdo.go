package pdo

import (
	"log/slog"
	"sync"

	"github.com/samsamfire/conode/pkg/od"
)

// RPDO is the receive half of the PDO engine: on each matching frame it
// stores the payload and splices every mapped variable back into the data
// store (spec.md §4.3 receive path).
type RPDO struct {
	*PdoMap
	mu sync.Mutex
}

// NewRPDO builds an RPDO bound to the communication/mapping records at
// commIndex/mapIndex and loads its current configuration from store.
func NewRPDO(dict *od.ObjectDictionary, store DataStore, logger *slog.Logger, commIndex, mapIndex uint16) (*RPDO, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &RPDO{PdoMap: newPdoMap(dict, store, logger.With("component", "rpdo", "index", commIndex), commIndex, mapIndex)}
	if err := r.read(); err != nil {
		return nil, err
	}
	return r, nil
}

// HandleFrame is a network.HandlerFunc: it is registered against the
// RPDO's configured COB-ID.
func (r *RPDO) HandleFrame(cobID uint32, data []byte, timestamp float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.Enabled {
		return
	}
	n := len(r.Data)
	if n > len(data) {
		n = len(data)
	}
	copy(r.Data, data[:n])
	if err := r.propagateToOD(); err != nil {
		r.logger.Warn("failed to propagate rpdo payload to object dictionary", "error", err)
	}
}

// Reconfigure re-reads the communication/mapping records (e.g. after an SDO
// write to commIndex or mapIndex) and re-seeds Data from the OD, per
// spec.md §4.3's runtime-reconfiguration rule.
func (r *RPDO) Reconfigure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.read(); err != nil {
		return err
	}
	return r.refreshFromOD()
}
