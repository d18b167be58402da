// Package emergency implements the EMCY producer (spec.md §4.5): 8-byte
// emergency frames on COB-ID 0x80+node_id, plus an OD-visible error history
// (0x1003, "Pre-defined error field") as a small, additive convenience.
package emergency

import (
	"encoding/binary"
	"log/slog"
	"sync"
)

const ServiceID = 0x80

// Error register bits, CiA 301 object 0x1001.
const (
	ErrRegGeneric       = 0x01
	ErrRegCurrent       = 0x02
	ErrRegVoltage       = 0x04
	ErrRegTemperature   = 0x08
	ErrRegCommunication = 0x10
	ErrRegDevProfile    = 0x20
	ErrRegManufacturer  = 0x80
)

// A subset of the standard CiA 301 error codes.
const (
	ErrNoError       uint16 = 0x0000
	ErrGeneric       uint16 = 0x1000
	ErrCurrent       uint16 = 0x2000
	ErrVoltage       uint16 = 0x3000
	ErrTemperature   uint16 = 0x4000
	ErrHardware      uint16 = 0x5000
	ErrSoftware      uint16 = 0x6000
	ErrDataSet       uint16 = 0x6300
	ErrMonitoring    uint16 = 0x8000
	ErrCommunication uint16 = 0x8100
	ErrProtocolError uint16 = 0x8200
	ErrExternalError uint16 = 0x9000
)

var errorCodeDescriptions = map[uint16]string{
	ErrNoError:       "Reset or No Error",
	ErrGeneric:       "Generic Error",
	ErrCurrent:       "Current",
	ErrVoltage:       "Voltage",
	ErrTemperature:   "Temperature",
	ErrHardware:      "Device Hardware",
	ErrSoftware:      "Device Software",
	ErrDataSet:       "Data Set",
	ErrMonitoring:    "Monitoring",
	ErrCommunication: "Communication",
	ErrProtocolError: "Protocol Error",
	ErrExternalError: "External Error",
}

func describe(errorCode uint16) string {
	if desc, ok := errorCodeDescriptions[errorCode]; ok {
		return desc
	}
	return "Unknown"
}

// Sender transmits a frame on a given COB-ID.
type Sender interface {
	Send(cobID uint32, data []byte) error
}

// HistoryStore is the OD-visible pre-defined error field (0x1003): sub0
// holds the current count, sub1..subN the most recent error values, newest
// first.
type HistoryStore interface {
	SetData(index uint16, subIndex uint8, data []byte) error
}

// Producer emits 8-byte EMCY frames on COB-ID 0x80+nodeID. Its state is the
// last-emitted error code, used to de-duplicate repeated reports of the same
// condition (spec.md §4.5), and the bounded error history.
type Producer struct {
	logger *slog.Logger
	bus    Sender
	store  HistoryStore
	cobID  uint32

	mu          sync.Mutex
	lastCode    uint16
	history     []uint32
	historySize int
}

// NewProducer builds an EMCY producer for nodeID. historySize bounds the
// in-memory/OD-visible error history (0 disables history tracking).
func NewProducer(bus Sender, store HistoryStore, nodeID uint8, historySize int, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		logger:      logger.With("component", "emcy", "nodeId", nodeID),
		bus:         bus,
		store:       store,
		cobID:       0x80 + uint32(nodeID),
		historySize: historySize,
	}
}

// Report emits an emergency frame `[err_code_lo, err_code_hi, err_register,
// mfr_specific x5]`. A repeat of the same errorCode as the last report is
// suppressed. Use ErrNoError to signal a cleared condition (CiA 301 always
// clears de-duplication).
func (p *Producer) Report(errorCode uint16, errorRegister byte, mfrSpecific [5]byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if errorCode != ErrNoError && errorCode == p.lastCode {
		return nil
	}
	p.lastCode = errorCode

	data := make([]byte, 8)
	binary.LittleEndian.PutUint16(data[0:2], errorCode)
	data[2] = errorRegister
	copy(data[3:8], mfrSpecific[:])

	p.logger.Info("emergency reported",
		"errorCode", errorCode, "description", describe(errorCode), "errorRegister", errorRegister)

	p.recordHistoryLocked(errorCode, errorRegister)

	if err := p.bus.Send(p.cobID, data); err != nil {
		p.logger.Warn("failed to send emergency frame", "error", err)
		return err
	}
	return nil
}

func (p *Producer) recordHistoryLocked(errorCode uint16, errorRegister byte) {
	if p.historySize <= 0 || p.store == nil {
		return
	}
	value := uint32(errorRegister)<<16 | uint32(errorCode)
	p.history = append([]uint32{value}, p.history...)
	if len(p.history) > p.historySize {
		p.history = p.history[:p.historySize]
	}

	_ = p.store.SetData(0x1003, 0, []byte{uint8(len(p.history))})
	for i, v := range p.history {
		raw := make([]byte, 4)
		binary.LittleEndian.PutUint32(raw, v)
		_ = p.store.SetData(0x1003, uint8(i+1), raw)
	}
}
