package csm

import (
	"errors"
	"fmt"
)

// Errors surfaced by channels and the connection handle. The runtime
// never retries: every failure is reported to the calling layer.
var (
	// ErrStreamTerminated is returned from a pending read when the
	// transport closed before a complete message arrived
	ErrStreamTerminated = errors.New("stream terminated")

	// ErrInternal indicates a mismatch between a transition table and a
	// derived message filter. It is a bug in a protocol declaration,
	// not a peer fault.
	ErrInternal = errors.New("internal error: filter rejected a message accepted by the transition table")

	// ErrInvalidCBOR is returned when a channel's received bytes cannot
	// be the encoding of any CBOR item
	ErrInvalidCBOR = errors.New("invalid CBOR data")

	// ErrMuxFull is returned by Mux.Egress when the outbound buffer
	// cannot hold the frame; the caller retries after the transport
	// drains some bytes
	ErrMuxFull = errors.New("mux buffer full")

	// ErrPayloadTooLarge is returned by Mux.Egress for payloads over
	// the 16-bit frame length limit; larger messages are split across
	// frames by the writer task before reaching Egress
	ErrPayloadTooLarge = errors.New("payload exceeds frame length limit")
)

// MessageTooBigError reports a message that cannot fit the channel's
// receive buffer: the buffer is full and still holds no complete CBOR
// item. The channel is poisoned.
type MessageTooBigError struct {
	BufferSize int
}

func (e *MessageTooBigError) Error() string {
	return fmt.Sprintf("message too big (buffer size: %d bytes)", e.BufferSize)
}

// DecodeError reports a syntactically valid CBOR item that does not
// decode to the channel's message type. The channel is poisoned.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode message: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// InvalidStateError reports a protocol violation by the peer: the
// received message is not permitted by the state machine in its current
// state. The state is not advanced and the channel is poisoned.
type InvalidStateError struct {
	Current any
	Msg     any
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state: message %v not permitted in state %v", e.Msg, e.Current)
}

// DuplicateChannelError reports two channel registrations with the same
// protocol id. This is a configuration error.
type DuplicateChannelError struct {
	Id Id
}

func (e *DuplicateChannelError) Error() string {
	return fmt.Sprintf("duplicated channel %s", e.Id)
}

// InvalidChannelError reports an inbound frame addressed to a channel
// endpoint that was never registered. Connection-level fatal.
type InvalidChannelError struct {
	Id        Id
	Direction Direction
}

func (e *InvalidChannelError) Error() string {
	return fmt.Sprintf("invalid channel %s (%s)", e.Id, e.Direction)
}

// FullChannelError reports a receive buffer that cannot absorb a payload
// fragment. Connection-level fatal.
//
// TODO back-pressure: stall the reader task instead of failing until the
// affected channel's buffer drains.
type FullChannelError struct {
	Id        Id
	Direction Direction
}

func (e *FullChannelError) Error() string {
	return fmt.Sprintf("full channel %s (%s)", e.Id, e.Direction)
}
