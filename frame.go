// Package csm implements a CBOR-framed simple multiplexer: many typed
// mini-protocol message streams share a single bidirectional byte stream
// behind a fixed 8-byte framing header. Each mini-protocol is a small
// finite-state machine whose messages are CBOR tag-variant arrays.
package csm

import (
	"encoding/binary"
	"fmt"
	"time"
)

// HeaderSize is the wire size of a CSM frame header
const HeaderSize = 8

// idMask extracts the 15-bit channel id from the direction|id u16
const idMask uint16 = 0x7fff

// Time is the header timestamp: microseconds since the Unix epoch
// truncated to 32 bits. It wraps roughly every 71 minutes and is purely
// observational - receivers must not base correctness decisions on it.
type Time uint32

// TimeNow returns the current time truncated to the header representation
func TimeNow() Time {
	return Time(time.Now().UnixMicro())
}

// Id is a mini-protocol channel id (15-bit unsigned integer)
type Id uint16

// IdZero is reserved for the mandatory handshake channel
const IdZero Id = 0

// NewId creates an Id from a raw integer.
// Panics if the value does not fit in 15 bits.
func NewId(v uint16) Id {
	if v >= 0x8000 {
		panic(fmt.Sprintf("channel id %d out of range (must be < 2^15)", v))
	}
	return Id(v)
}

// Int returns the raw integer value of the id
func (id Id) Int() uint16 {
	return uint16(id)
}

func (id Id) String() string {
	return fmt.Sprintf("%d", uint16(id))
}

// Direction identifies which side of the connection a channel endpoint
// belongs to: the side that opened the transport (Initiator) or the side
// that accepted it (Responder). The role is stable for the life of the
// connection.
type Direction uint8

const (
	Initiator Direction = iota
	Responder
)

// Flip returns the opposite direction
func (d Direction) Flip() Direction {
	if d == Initiator {
		return Responder
	}
	return Initiator
}

func (d Direction) String() string {
	if d == Initiator {
		return "initiator"
	}
	return "responder"
}

// Header is a packed CSM frame header:
//
//	time:u32 | responder:1 | id:15 | payload_length:u16
//
// stored big-endian on the wire.
type Header uint64

// NewHeader packs a frame header from its fields
func NewHeader(t Time, id Id, direction Direction, payloadLength uint16) Header {
	var r uint64
	if direction == Responder {
		r = 1 << 31
	}
	return Header(uint64(t)<<32 | uint64(id)<<16 | r | uint64(payloadLength))
}

// HeaderFromBytes parses 8 big-endian bytes into a Header
func HeaderFromBytes(b [HeaderSize]byte) Header {
	return Header(binary.BigEndian.Uint64(b[:]))
}

// Bytes serializes the header into its 8-byte wire form
func (h Header) Bytes() [HeaderSize]byte {
	var b [HeaderSize]byte
	binary.BigEndian.PutUint64(b[:], uint64(h))
	return b
}

// Time returns the sender timestamp field
func (h Header) Time() Time {
	return Time(h >> 32)
}

// Id returns the mini-protocol channel id
func (h Header) Id() Id {
	return Id(uint16(h>>16) & idMask)
}

// Direction returns the sender's role
func (h Header) Direction() Direction {
	if h.IsResponder() {
		return Responder
	}
	return Initiator
}

// IsInitiator reports whether the frame was sent by the initiator side
func (h Header) IsInitiator() bool {
	return (h>>31)&0x1 == 0
}

// IsResponder reports whether the frame was sent by the responder side
func (h Header) IsResponder() bool {
	return (h>>31)&0x1 == 1
}

// PayloadLength returns the number of payload bytes following the header
func (h Header) PayloadLength() uint16 {
	return uint16(h)
}

func (h Header) String() string {
	d := 'S'
	if h.IsResponder() {
		d = 'R'
	}
	return fmt.Sprintf("time=%d,id=%s,d=%c,len=%d", h.Time(), h.Id(), d, h.PayloadLength())
}
