// Package sdo implements the CiA 301 SDO server: the single per-node
// service that answers expedited and segmented upload/download requests
// against an [od.ObjectDictionary]-backed data store.
package sdo

import (
	"fmt"

	"github.com/samsamfire/conode/pkg/od"
)

// Abort codes this server can emit. Block transfer is always rejected with
// AbortCmdUnknown; the rest cover the expedited/segmented paths.
const (
	AbortWriteOnly    uint32 = 0x06010001 // write to read-only object
	AbortReadOnly     uint32 = 0x06010002 // read from write-only object
	AbortNotExist     uint32 = 0x06020000 // object does not exist
	AbortSubNotExist  uint32 = 0x06090011 // subindex does not exist
	AbortNoResource   uint32 = 0x060A0023 // resource not available
	AbortCmdUnknown   uint32 = 0x05040001 // command specifier invalid / unsupported
	AbortToggleNotAlt uint32 = 0x05040003 // toggle bit not alternated
	AbortDataTransfer uint32 = 0x08000020 // data cannot be transferred
)

var abortDescriptions = map[uint32]string{
	AbortWriteOnly:    "attempt to write a read-only object",
	AbortReadOnly:     "attempt to read a write-only object",
	AbortNotExist:     "object does not exist in the object dictionary",
	AbortSubNotExist:  "sub-index does not exist",
	AbortNoResource:   "resource not available: SDO connection",
	AbortCmdUnknown:   "command specifier not valid or unknown",
	AbortToggleNotAlt: "toggle bit not alternated",
	AbortDataTransfer: "data cannot be transferred or stored to the application",
}

// SdoAbortedError carries the CANopen abort code of a request that is
// syntactically valid but semantically refused. The Server does not return
// it: it reports such refusals only as abort frames on the bus.
type SdoAbortedError struct {
	Code uint32
}

func (e *SdoAbortedError) Error() string {
	if desc, ok := abortDescriptions[e.Code]; ok {
		return fmt.Sprintf("sdo abort x%08X: %s", e.Code, desc)
	}
	return fmt.Sprintf("sdo abort x%08X", e.Code)
}

// SdoCommunicationError describes a protocol-level failure: unexpected
// command specifier, toggle mismatch, malformed frame. The Server does not
// construct it; it answers such failures with an abort frame and resets the
// session.
type SdoCommunicationError struct {
	Reason string
}

func (e *SdoCommunicationError) Error() string {
	return fmt.Sprintf("sdo communication error: %s", e.Reason)
}

// odrToAbort maps an internal OD lookup failure to the CANopen abort code
// surfaced on the wire.
func odrToAbort(err error) uint32 {
	odr, ok := err.(od.ODR)
	if !ok {
		return AbortDataTransfer
	}
	switch odr {
	case od.ErrIdxNotExist:
		return AbortNotExist
	case od.ErrSubNotExist:
		return AbortSubNotExist
	case od.ErrReadonly:
		return AbortWriteOnly
	case od.ErrWriteOnly:
		return AbortReadOnly
	case od.ErrNoResource:
		return AbortNoResource
	default:
		return AbortDataTransfer
	}
}

// Command specifier bytes/masks, CiA 301 table 15-19.
const (
	csInitiateUpload   = 0x40
	csSegmentUploadReq = 0x60 // & 0xEF, ignoring the toggle bit
	csAbort            = 0x80
	csInitiateDownload = 0x20 // & 0xE0
	csSegmentDownload  = 0x00 // & 0xE0
	csBlockDownload    = 0xC0 // & 0xE0
	csBlockUpload      = 0xA0 // & 0xE0
)
