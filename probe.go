package csm

import (
	"bytes"
	"errors"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// ProbeStatus is the outcome of examining a byte prefix for one complete
// CBOR item.
type ProbeStatus uint8

const (
	// ProbeNeedMore means the prefix is a valid CBOR head but the item
	// is not complete yet
	ProbeNeedMore ProbeStatus = iota
	// ProbeInvalid means the prefix cannot be the start of a
	// well-formed CBOR item
	ProbeInvalid
	// ProbeComplete means an entire CBOR item is present
	ProbeComplete
)

func (s ProbeStatus) String() string {
	switch s {
	case ProbeNeedMore:
		return "NEED_MORE"
	case ProbeInvalid:
		return "INVALID"
	case ProbeComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// ProbeCBOR examines data for one complete CBOR item. On ProbeComplete,
// n is the item's size in bytes: data[0:n] is exactly one item and any
// following bytes belong to the next message. On ProbeNeedMore and
// ProbeInvalid, n is 0.
//
// The probe is stateless; callers re-run it as more bytes arrive.
func ProbeCBOR(data []byte) (n int, status ProbeStatus) {
	if len(data) == 0 {
		return 0, ProbeNeedMore
	}
	dec := cbor.NewDecoder(bytes.NewReader(data))
	var raw cbor.RawMessage
	err := dec.Decode(&raw)
	switch {
	case err == nil:
		return dec.NumBytesRead(), ProbeComplete
	case errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF):
		return 0, ProbeNeedMore
	default:
		return 0, ProbeInvalid
	}
}
