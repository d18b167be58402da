package sdo

import (
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/samsamfire/conode/pkg/od"
)

// DataStore is the data-path a Server reads and writes through. A LocalNode
// satisfies this: GetData resolves the read-callback/data-store/OD-default
// chain, SetData stores and fires write-callbacks (spec.md §3).
type DataStore interface {
	GetData(index uint16, subIndex uint8) ([]byte, error)
	SetData(index uint16, subIndex uint8, data []byte) error
}

// Sender is the narrow transport surface a Server needs: one COB-ID to
// transmit responses on.
type Sender interface {
	Send(cobID uint32, data []byte) error
}

type sessionDirection uint8

const (
	dirNone sessionDirection = iota
	dirUp
	dirDown
)

// Server is the per-node SDO server (spec.md §4.2). It serializes one
// session at a time: any initiate request supersedes whatever transfer was
// in flight.
type Server struct {
	logger *slog.Logger
	od     *od.ObjectDictionary
	store  DataStore
	bus    Sender
	txCOB  uint32

	mu        sync.Mutex
	dir       sessionDirection
	index     uint16
	subIndex  uint8
	toggle    uint8
	buf       []byte
	pos       int
	sizeKnown bool
	size      uint32
}

// NewServer creates a Server that reads/writes through store, answers on
// txCOBID (0x580+nodeId), and resolves OD metadata (access rights) via
// dict.
func NewServer(dict *od.ObjectDictionary, store DataStore, bus Sender, txCOBID uint32, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger: logger.With("component", "sdo-server"),
		od:     dict,
		store:  store,
		bus:    bus,
		txCOB:  txCOBID,
	}
}

// HandleFrame processes one incoming SDO request frame and emits exactly
// one response frame, except an unsolicited abort which ends the session
// silently (spec.md §4.2).
func (s *Server) HandleFrame(cobID uint32, data []byte, timestamp float64) {
	if len(data) != 8 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := data[0]
	switch {
	case cs == csInitiateUpload:
		s.handleInitiateUpload(data)
	case cs&0xEF == csSegmentUploadReq:
		s.handleSegmentUpload(data)
	case cs == csAbort:
		s.logger.Debug("peer aborted sdo session",
			"code", binary.LittleEndian.Uint32(data[4:8]))
		s.resetSession()
	case cs&0xE0 == csInitiateDownload:
		s.handleInitiateDownload(data)
	case cs&0xE0 == csBlockDownload || cs&0xE0 == csBlockUpload:
		index, subIndex := indexSub(data)
		s.abort(index, subIndex, AbortCmdUnknown)
	case cs&0xE0 == csSegmentDownload:
		s.handleSegmentDownload(data)
	default:
		index, subIndex := indexSub(data)
		s.abort(index, subIndex, AbortCmdUnknown)
	}
}

func indexSub(data []byte) (uint16, uint8) {
	return binary.LittleEndian.Uint16(data[1:3]), data[3]
}

func (s *Server) resetSession() {
	s.dir = dirNone
	s.buf = nil
	s.pos = 0
	s.toggle = 0
	s.sizeKnown = false
	s.size = 0
}

func (s *Server) abort(index uint16, subIndex uint8, code uint32) {
	frame := make([]byte, 8)
	frame[0] = csAbort
	binary.LittleEndian.PutUint16(frame[1:3], index)
	frame[3] = subIndex
	binary.LittleEndian.PutUint32(frame[4:8], code)
	if err := s.bus.Send(s.txCOB, frame); err != nil {
		s.logger.Warn("failed to send sdo abort", "error", err)
	}
	s.resetSession()
}

// checkAccess returns the abort code for reading/writing (index, subIndex),
// or 0 if access is allowed.
func (s *Server) checkAccess(index uint16, subIndex uint8, forWrite bool) uint32 {
	v, err := s.od.Variable(index, subIndex)
	if err != nil {
		return odrToAbort(err)
	}
	if forWrite && !v.Access.Writable() {
		return AbortWriteOnly
	}
	if !forWrite && !v.Access.Readable() {
		return AbortReadOnly
	}
	return 0
}

func (s *Server) handleInitiateUpload(data []byte) {
	s.resetSession()
	index, subIndex := indexSub(data)
	if code := s.checkAccess(index, subIndex, false); code != 0 {
		s.abort(index, subIndex, code)
		return
	}
	raw, err := s.store.GetData(index, subIndex)
	if err != nil {
		s.abort(index, subIndex, odrToAbort(err))
		return
	}

	resp := make([]byte, 8)
	binary.LittleEndian.PutUint16(resp[1:3], index)
	resp[3] = subIndex

	if len(raw) <= 4 {
		n := 4 - len(raw)
		resp[0] = 0x43 | byte(n<<2)
		copy(resp[4:], raw)
		s.send(resp)
		return
	}

	resp[0] = 0x41
	binary.LittleEndian.PutUint32(resp[4:8], uint32(len(raw)))
	s.send(resp)

	s.dir = dirUp
	s.index, s.subIndex = index, subIndex
	s.buf = raw
	s.pos = 0
	s.toggle = 0
}

func (s *Server) handleSegmentUpload(data []byte) {
	if s.dir != dirUp {
		index, subIndex := indexSub(data)
		s.abort(index, subIndex, AbortCmdUnknown)
		return
	}
	toggle := (data[0] >> 4) & 1
	if toggle != s.toggle {
		s.abort(s.index, s.subIndex, AbortToggleNotAlt)
		return
	}

	remaining := len(s.buf) - s.pos
	n := remaining
	if n > 7 {
		n = 7
	}
	last := remaining <= 7

	resp := make([]byte, 8)
	resp[0] = (s.toggle << 4) | byte((7-n)<<1)
	if last {
		resp[0] |= 1
	}
	copy(resp[1:1+n], s.buf[s.pos:s.pos+n])
	s.pos += n
	s.toggle ^= 1
	s.send(resp)

	if last {
		s.resetSession()
	}
}

func (s *Server) handleInitiateDownload(data []byte) {
	s.resetSession()
	index, subIndex := indexSub(data)
	if code := s.checkAccess(index, subIndex, true); code != 0 {
		s.abort(index, subIndex, code)
		return
	}

	cs := data[0]
	expedited := cs&0x02 != 0
	sizeIndicated := cs&0x01 != 0
	n := int((cs >> 2) & 0x03)

	resp := make([]byte, 8)
	resp[0] = 0x60
	binary.LittleEndian.PutUint16(resp[1:3], index)
	resp[3] = subIndex

	if expedited {
		size := 4
		if sizeIndicated {
			size = 4 - n
		}
		if err := s.store.SetData(index, subIndex, append([]byte(nil), data[4:4+size]...)); err != nil {
			s.abort(index, subIndex, odrToAbort(err))
			return
		}
		s.send(resp)
		return
	}

	s.dir = dirDown
	s.index, s.subIndex = index, subIndex
	s.buf = nil
	s.toggle = 0
	s.sizeKnown = sizeIndicated
	if sizeIndicated {
		s.size = binary.LittleEndian.Uint32(data[4:8])
	}
	s.send(resp)
}

func (s *Server) handleSegmentDownload(data []byte) {
	if s.dir != dirDown {
		index, subIndex := indexSub(data)
		s.abort(index, subIndex, AbortCmdUnknown)
		return
	}
	cs := data[0]
	toggle := (cs >> 4) & 1
	if toggle != s.toggle {
		s.abort(s.index, s.subIndex, AbortToggleNotAlt)
		return
	}
	n := 7 - int((cs>>1)&0x07)
	last := cs&0x01 != 0
	s.buf = append(s.buf, data[1:1+n]...)

	resp := make([]byte, 8)
	resp[0] = 0x20 | (s.toggle << 4)
	binary.LittleEndian.PutUint16(resp[1:3], s.index)
	resp[3] = s.subIndex
	s.toggle ^= 1

	if last {
		if err := s.store.SetData(s.index, s.subIndex, s.buf); err != nil {
			s.abort(s.index, s.subIndex, odrToAbort(err))
			return
		}
		s.send(resp)
		s.resetSession()
		return
	}
	s.send(resp)
}

func (s *Server) send(data []byte) {
	if err := s.bus.Send(s.txCOB, data); err != nil {
		s.logger.Warn("failed to send sdo response", "error", err)
	}
}
