// Package blockfetch implements the block-fetch mini-protocol on
// channel 3: a client requests a point range and the producer streams
// the matching block bodies as opaque encoded CBOR.
package blockfetch

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	csm "github.com/machinefabric/csm-go"
	"github.com/machinefabric/csm-go/protocol/chainsync"
)

// Number is the block-fetch channel id
const Number csm.Id = 3

// MaxMessageSize bounds one block-fetch message. Sized for large block
// bodies; a single Block message legitimately spans many frames.
const MaxMessageSize = 2_560_000

// Point references a chain position; block-fetch shares the chainsync
// representation
type Point = chainsync.Point

// State is the block-fetch protocol state
type State uint8

const (
	StateIdle State = iota
	StateBusy
	StateStreaming
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateBusy:
		return "Busy"
	case StateStreaming:
		return "Streaming"
	case StateDone:
		return "Done"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Wire tags, in declaration order
const (
	TagRequestRange uint64 = iota
	TagClientDone
	TagStartBatch
	TagNoBlocks
	TagBlock
	TagBatchDone
)

// Message is the block-fetch message sum
type Message interface {
	csm.Message
	isBlockFetchMessage()
}

// RequestRange asks for the blocks between two points, inclusive
type RequestRange struct {
	Start Point
	End   Point
}

// ClientDone ends the protocol
type ClientDone struct{}

// StartBatch announces that blocks for the requested range follow
type StartBatch struct{}

// NoBlocks reports that the requested range is not on the producer's
// chain
type NoBlocks struct{}

// Block carries one block body as opaque encoded CBOR
type Block struct {
	Body csm.WrappedCBOR
}

// BatchDone closes a block batch
type BatchDone struct{}

func (RequestRange) Tag() uint64 { return TagRequestRange }
func (ClientDone) Tag() uint64   { return TagClientDone }
func (StartBatch) Tag() uint64   { return TagStartBatch }
func (NoBlocks) Tag() uint64     { return TagNoBlocks }
func (Block) Tag() uint64        { return TagBlock }
func (BatchDone) Tag() uint64    { return TagBatchDone }

func (RequestRange) isBlockFetchMessage() {}
func (ClientDone) isBlockFetchMessage()   {}
func (StartBatch) isBlockFetchMessage()   {}
func (NoBlocks) isBlockFetchMessage()     {}
func (Block) isBlockFetchMessage()        {}
func (BatchDone) isBlockFetchMessage()    {}

var roles = map[uint64]csm.Direction{
	TagRequestRange: csm.Initiator,
	TagClientDone:   csm.Initiator,
	TagStartBatch:   csm.Responder,
	TagNoBlocks:     csm.Responder,
	TagBlock:        csm.Responder,
	TagBatchDone:    csm.Responder,
}

var machine = csm.NewMachine([]csm.Rule[State]{
	{From: StateIdle, Tag: TagRequestRange, To: StateBusy},
	{From: StateIdle, Tag: TagClientDone, To: StateDone},
	{From: StateBusy, Tag: TagNoBlocks, To: StateIdle},
	{From: StateBusy, Tag: TagStartBatch, To: StateStreaming},
	{From: StateStreaming, Tag: TagBlock, To: StateStreaming},
	{From: StateStreaming, Tag: TagBatchDone, To: StateIdle},
}, roles)

// Machine exposes the transition relation for tests
func Machine() *csm.Machine[State] {
	return machine
}

// Spec returns the block-fetch protocol descriptor
func Spec() csm.ProtocolSpec[State, Message] {
	return csm.ProtocolSpec[State, Message]{
		Name:           "blockfetch",
		Number:         Number,
		MaxMessageSize: MaxMessageSize,
		Initial:        StateIdle,
		Machine:        machine,
		Encode:         EncodeMessage,
		Decode:         DecodeMessage,
	}
}

// EncodeMessage serializes one block-fetch message to its tag-variant
// wire form
func EncodeMessage(m Message) ([]byte, error) {
	switch v := m.(type) {
	case RequestRange:
		return csm.EncodeTagVariant(TagRequestRange, v.Start, v.End)
	case ClientDone:
		return csm.EncodeTagVariant(TagClientDone)
	case StartBatch:
		return csm.EncodeTagVariant(TagStartBatch)
	case NoBlocks:
		return csm.EncodeTagVariant(TagNoBlocks)
	case Block:
		return csm.EncodeTagVariant(TagBlock, v.Body)
	case BatchDone:
		return csm.EncodeTagVariant(TagBatchDone)
	default:
		return nil, fmt.Errorf("unknown blockfetch message %T", m)
	}
}

// DecodeMessage parses one CBOR item into a block-fetch message
func DecodeMessage(data []byte) (Message, error) {
	tag, args, err := csm.DecodeTagVariant(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagRequestRange:
		if err := csm.ExpectArgs("RequestRange", args, 2); err != nil {
			return nil, err
		}
		var m RequestRange
		if err := cbor.Unmarshal(args[0], &m.Start); err != nil {
			return nil, fmt.Errorf("RequestRange start: %w", err)
		}
		if err := cbor.Unmarshal(args[1], &m.End); err != nil {
			return nil, fmt.Errorf("RequestRange end: %w", err)
		}
		return m, nil
	case TagClientDone:
		if err := csm.ExpectArgs("ClientDone", args, 0); err != nil {
			return nil, err
		}
		return ClientDone{}, nil
	case TagStartBatch:
		if err := csm.ExpectArgs("StartBatch", args, 0); err != nil {
			return nil, err
		}
		return StartBatch{}, nil
	case TagNoBlocks:
		if err := csm.ExpectArgs("NoBlocks", args, 0); err != nil {
			return nil, err
		}
		return NoBlocks{}, nil
	case TagBlock:
		if err := csm.ExpectArgs("Block", args, 1); err != nil {
			return nil, err
		}
		var m Block
		if err := cbor.Unmarshal(args[0], &m.Body); err != nil {
			return nil, fmt.Errorf("Block body: %w", err)
		}
		return m, nil
	case TagBatchDone:
		if err := csm.ExpectArgs("BatchDone", args, 0); err != nil {
			return nil, err
		}
		return BatchDone{}, nil
	default:
		return nil, fmt.Errorf("unknown blockfetch message tag %d", tag)
	}
}

// RequestRangeRet is the reply sum for a RequestRange exchange
type RequestRangeRet interface {
	Message
	isRequestRangeRet()
}

func (NoBlocks) isRequestRangeRet()   {}
func (StartBatch) isRequestRangeRet() {}

// ClientRequestRangeRet narrows an incoming message to the replies a
// producer may send after RequestRange
func ClientRequestRangeRet(m Message) (RequestRangeRet, bool) {
	switch v := m.(type) {
	case NoBlocks:
		return v, true
	case StartBatch:
		return v, true
	default:
		return nil, false
	}
}

// IdleRequest is the sum of client messages valid in the Idle state
type IdleRequest interface {
	Message
	isIdleRequest()
}

func (RequestRange) isIdleRequest() {}
func (ClientDone) isIdleRequest()   {}

// ServerIdleFilter narrows an incoming message to the requests a client
// may send from Idle
func ServerIdleFilter(m Message) (IdleRequest, bool) {
	switch v := m.(type) {
	case RequestRange:
		return v, true
	case ClientDone:
		return v, true
	default:
		return nil, false
	}
}
