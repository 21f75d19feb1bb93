// Package localstatequery implements the local state query
// mini-protocol on channel 7: a trusted local client acquires a point
// on the chain and runs ledger queries against the acquired state.
// Query and result payloads are opaque CBOR.
//
// Acquire, Acquire2 and Acquire3 (and the matching ReAcquire variants)
// are interchangeable wire tags kept for forward-compatible acquire
// semantics.
package localstatequery

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	csm "github.com/machinefabric/csm-go"
	"github.com/machinefabric/csm-go/protocol/chainsync"
)

// Number is the local state query channel id
const Number csm.Id = 7

// MaxMessageSize bounds one local state query message
const MaxMessageSize = 8192

// Point references a chain position; shared with chainsync
type Point = chainsync.Point

// State is the local state query protocol state
type State uint8

const (
	StateIdle State = iota
	StateAcquiring
	StateAcquired
	StateQuerying
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAcquiring:
		return "Acquiring"
	case StateAcquired:
		return "Acquired"
	case StateQuerying:
		return "Querying"
	case StateDone:
		return "Done"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Wire tags, in declaration order
const (
	TagAcquire uint64 = iota
	TagAcquired
	TagFailure
	TagQuery
	TagResult
	TagRelease
	TagReAcquire
	TagDone
	TagAcquire2
	TagReAcquire2
	TagAcquire3
	TagReAcquire3
)

// Failure is the reason an acquire failed, wire-encoded as a bare
// integer
type Failure uint8

const (
	FailurePointTooOld Failure = iota
	FailurePointNotOnChain
)

func (f Failure) String() string {
	switch f {
	case FailurePointTooOld:
		return "PointTooOld"
	case FailurePointNotOnChain:
		return "PointNotOnChain"
	default:
		return fmt.Sprintf("Failure(%d)", uint8(f))
	}
}

// Message is the local state query message sum
type Message interface {
	csm.Message
	isLocalStateQueryMessage()
}

// Acquire locks the state at Point for querying
type Acquire struct {
	Point Point
}

// Acquired confirms the acquire
type Acquired struct{}

// AcquireFailed reports why the acquire failed
type AcquireFailed struct {
	Failure Failure
}

// Query runs one opaque ledger query against the acquired state
type Query struct {
	Query cbor.RawMessage
}

// Result carries an opaque query result
type Result struct {
	Result cbor.RawMessage
}

// Release gives the acquired state back
type Release struct{}

// ReAcquire moves the lock to a new point
type ReAcquire struct {
	Point Point
}

// Done ends the protocol
type Done struct{}

// Acquire2 is the second-generation acquire tag
type Acquire2 struct{}

// ReAcquire2 is the second-generation re-acquire tag
type ReAcquire2 struct{}

// Acquire3 is the third-generation acquire tag
type Acquire3 struct{}

// ReAcquire3 is the third-generation re-acquire tag
type ReAcquire3 struct{}

func (Acquire) Tag() uint64       { return TagAcquire }
func (Acquired) Tag() uint64      { return TagAcquired }
func (AcquireFailed) Tag() uint64 { return TagFailure }
func (Query) Tag() uint64         { return TagQuery }
func (Result) Tag() uint64        { return TagResult }
func (Release) Tag() uint64       { return TagRelease }
func (ReAcquire) Tag() uint64     { return TagReAcquire }
func (Done) Tag() uint64          { return TagDone }
func (Acquire2) Tag() uint64      { return TagAcquire2 }
func (ReAcquire2) Tag() uint64    { return TagReAcquire2 }
func (Acquire3) Tag() uint64      { return TagAcquire3 }
func (ReAcquire3) Tag() uint64    { return TagReAcquire3 }

func (Acquire) isLocalStateQueryMessage()       {}
func (Acquired) isLocalStateQueryMessage()      {}
func (AcquireFailed) isLocalStateQueryMessage() {}
func (Query) isLocalStateQueryMessage()         {}
func (Result) isLocalStateQueryMessage()        {}
func (Release) isLocalStateQueryMessage()       {}
func (ReAcquire) isLocalStateQueryMessage()     {}
func (Done) isLocalStateQueryMessage()          {}
func (Acquire2) isLocalStateQueryMessage()      {}
func (ReAcquire2) isLocalStateQueryMessage()    {}
func (Acquire3) isLocalStateQueryMessage()      {}
func (ReAcquire3) isLocalStateQueryMessage()    {}

var roles = map[uint64]csm.Direction{
	TagAcquire:    csm.Initiator,
	TagAcquired:   csm.Responder,
	TagFailure:    csm.Responder,
	TagQuery:      csm.Initiator,
	TagResult:     csm.Responder,
	TagRelease:    csm.Initiator,
	TagReAcquire:  csm.Initiator,
	TagDone:       csm.Initiator,
	TagAcquire2:   csm.Responder,
	TagReAcquire2: csm.Initiator,
	TagAcquire3:   csm.Responder,
	TagReAcquire3: csm.Initiator,
}

var machine = csm.NewMachine([]csm.Rule[State]{
	{From: StateIdle, Tag: TagAcquire, To: StateAcquiring},
	{From: StateAcquiring, Tag: TagAcquired, To: StateAcquired},
	{From: StateAcquiring, Tag: TagAcquire2, To: StateAcquired},
	{From: StateAcquiring, Tag: TagAcquire3, To: StateAcquired},
	{From: StateAcquired, Tag: TagQuery, To: StateQuerying},
	{From: StateQuerying, Tag: TagResult, To: StateAcquired},
	{From: StateAcquired, Tag: TagReAcquire, To: StateAcquiring},
	{From: StateAcquired, Tag: TagReAcquire2, To: StateAcquiring},
	{From: StateAcquired, Tag: TagReAcquire3, To: StateAcquiring},
	{From: StateAcquiring, Tag: TagFailure, To: StateIdle},
	{From: StateAcquired, Tag: TagRelease, To: StateIdle},
	{From: StateIdle, Tag: TagDone, To: StateDone},
}, roles)

// Machine exposes the transition relation for tests
func Machine() *csm.Machine[State] {
	return machine
}

// Spec returns the local state query protocol descriptor
func Spec() csm.ProtocolSpec[State, Message] {
	return csm.ProtocolSpec[State, Message]{
		Name:           "localstatequery",
		Number:         Number,
		MaxMessageSize: MaxMessageSize,
		Initial:        StateIdle,
		Machine:        machine,
		Encode:         EncodeMessage,
		Decode:         DecodeMessage,
	}
}

// EncodeMessage serializes one local state query message to its
// tag-variant wire form
func EncodeMessage(m Message) ([]byte, error) {
	switch v := m.(type) {
	case Acquire:
		return csm.EncodeTagVariant(TagAcquire, v.Point)
	case Acquired:
		return csm.EncodeTagVariant(TagAcquired)
	case AcquireFailed:
		return csm.EncodeTagVariant(TagFailure, uint64(v.Failure))
	case Query:
		return csm.EncodeTagVariant(TagQuery, v.Query)
	case Result:
		return csm.EncodeTagVariant(TagResult, v.Result)
	case Release:
		return csm.EncodeTagVariant(TagRelease)
	case ReAcquire:
		return csm.EncodeTagVariant(TagReAcquire, v.Point)
	case Done:
		return csm.EncodeTagVariant(TagDone)
	case Acquire2:
		return csm.EncodeTagVariant(TagAcquire2)
	case ReAcquire2:
		return csm.EncodeTagVariant(TagReAcquire2)
	case Acquire3:
		return csm.EncodeTagVariant(TagAcquire3)
	case ReAcquire3:
		return csm.EncodeTagVariant(TagReAcquire3)
	default:
		return nil, fmt.Errorf("unknown localstatequery message %T", m)
	}
}

// DecodeMessage parses one CBOR item into a local state query message
func DecodeMessage(data []byte) (Message, error) {
	tag, args, err := csm.DecodeTagVariant(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagAcquire:
		if err := csm.ExpectArgs("Acquire", args, 1); err != nil {
			return nil, err
		}
		var m Acquire
		if err := cbor.Unmarshal(args[0], &m.Point); err != nil {
			return nil, fmt.Errorf("Acquire point: %w", err)
		}
		return m, nil
	case TagAcquired:
		if err := csm.ExpectArgs("Acquired", args, 0); err != nil {
			return nil, err
		}
		return Acquired{}, nil
	case TagFailure:
		if err := csm.ExpectArgs("Failure", args, 1); err != nil {
			return nil, err
		}
		var raw uint64
		if err := cbor.Unmarshal(args[0], &raw); err != nil {
			return nil, fmt.Errorf("Failure reason: %w", err)
		}
		if raw > uint64(FailurePointNotOnChain) {
			return nil, fmt.Errorf("unknown acquire failure %d", raw)
		}
		return AcquireFailed{Failure: Failure(raw)}, nil
	case TagQuery:
		if err := csm.ExpectArgs("Query", args, 1); err != nil {
			return nil, err
		}
		return Query{Query: args[0]}, nil
	case TagResult:
		if err := csm.ExpectArgs("Result", args, 1); err != nil {
			return nil, err
		}
		return Result{Result: args[0]}, nil
	case TagRelease:
		if err := csm.ExpectArgs("Release", args, 0); err != nil {
			return nil, err
		}
		return Release{}, nil
	case TagReAcquire:
		if err := csm.ExpectArgs("ReAcquire", args, 1); err != nil {
			return nil, err
		}
		var m ReAcquire
		if err := cbor.Unmarshal(args[0], &m.Point); err != nil {
			return nil, fmt.Errorf("ReAcquire point: %w", err)
		}
		return m, nil
	case TagDone:
		if err := csm.ExpectArgs("Done", args, 0); err != nil {
			return nil, err
		}
		return Done{}, nil
	case TagAcquire2:
		if err := csm.ExpectArgs("Acquire2", args, 0); err != nil {
			return nil, err
		}
		return Acquire2{}, nil
	case TagReAcquire2:
		if err := csm.ExpectArgs("ReAcquire2", args, 0); err != nil {
			return nil, err
		}
		return ReAcquire2{}, nil
	case TagAcquire3:
		if err := csm.ExpectArgs("Acquire3", args, 0); err != nil {
			return nil, err
		}
		return Acquire3{}, nil
	case TagReAcquire3:
		if err := csm.ExpectArgs("ReAcquire3", args, 0); err != nil {
			return nil, err
		}
		return ReAcquire3{}, nil
	default:
		return nil, fmt.Errorf("unknown localstatequery message tag %d", tag)
	}
}

// AcquireRet is the reply sum for an Acquire exchange
type AcquireRet interface {
	Message
	isAcquireRet()
}

func (Acquired) isAcquireRet()      {}
func (Acquire2) isAcquireRet()      {}
func (Acquire3) isAcquireRet()      {}
func (AcquireFailed) isAcquireRet() {}

// ClientAcquireRet narrows an incoming message to the replies the node
// may send while Acquiring
func ClientAcquireRet(m Message) (AcquireRet, bool) {
	switch v := m.(type) {
	case Acquired:
		return v, true
	case Acquire2:
		return v, true
	case Acquire3:
		return v, true
	case AcquireFailed:
		return v, true
	default:
		return nil, false
	}
}

// ClientQueryRet narrows an incoming message to the reply the node may
// send while Querying
func ClientQueryRet(m Message) (Result, bool) {
	if v, ok := m.(Result); ok {
		return v, true
	}
	return Result{}, false
}
