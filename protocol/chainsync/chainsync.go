// Package chainsync implements the chain synchronisation mini-protocol:
// a client follows a producer's chain through roll-forward and
// roll-backward instructions after locating an intersection point. The
// same message grammar runs node-to-node (channel 2) and node-to-client
// (channel 5).
package chainsync

import (
	"fmt"

	csm "github.com/machinefabric/csm-go"
)

// Channel ids for the two profiles
const (
	NumberN2N csm.Id = 2
	NumberN2C csm.Id = 5
)

// MaxMessageSize bounds one chainsync message; headers travel as
// opaque encoded CBOR inside it
const MaxMessageSize = 8192

// State is the chainsync protocol state
type State uint8

const (
	StateIdle State = iota
	StateIntersect
	StateCanAwait
	StateMustReply
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateIntersect:
		return "Intersect"
	case StateCanAwait:
		return "CanAwait"
	case StateMustReply:
		return "MustReply"
	case StateDone:
		return "Done"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Wire tags, in declaration order
const (
	TagRequestNext uint64 = iota
	TagAwaitReply
	TagRollForward
	TagRollBackward
	TagFindIntersect
	TagIntersectionFound
	TagIntersectionNotFound
	TagSyncDone
)

// Message is the chainsync message sum
type Message interface {
	csm.Message
	isChainSyncMessage()
}

// RequestNext asks the producer for the next chain instruction
type RequestNext struct{}

// AwaitReply tells the client the producer has nothing yet and will
// reply when the chain advances
type AwaitReply struct{}

// RollForward carries the next block header (opaque encoded CBOR) and
// the producer's current tip
type RollForward struct {
	Header csm.WrappedCBOR
	Tip    Tip
}

// RollBackward instructs the client to rewind to Point
type RollBackward struct {
	Point Point
	Tip   Tip
}

// FindIntersect asks the producer for the most recent of Points that is
// on its chain
type FindIntersect struct {
	Points []Point
}

// IntersectionFound reports the located point and the current tip
type IntersectionFound struct {
	Point Point
	Tip   Tip
}

// IntersectionNotFound reports that none of the proposed points is on
// the producer's chain
type IntersectionNotFound struct {
	Tip Tip
}

// SyncDone ends the protocol
type SyncDone struct{}

func (RequestNext) Tag() uint64          { return TagRequestNext }
func (AwaitReply) Tag() uint64           { return TagAwaitReply }
func (RollForward) Tag() uint64          { return TagRollForward }
func (RollBackward) Tag() uint64         { return TagRollBackward }
func (FindIntersect) Tag() uint64        { return TagFindIntersect }
func (IntersectionFound) Tag() uint64    { return TagIntersectionFound }
func (IntersectionNotFound) Tag() uint64 { return TagIntersectionNotFound }
func (SyncDone) Tag() uint64             { return TagSyncDone }

func (RequestNext) isChainSyncMessage()          {}
func (AwaitReply) isChainSyncMessage()           {}
func (RollForward) isChainSyncMessage()          {}
func (RollBackward) isChainSyncMessage()         {}
func (FindIntersect) isChainSyncMessage()        {}
func (IntersectionFound) isChainSyncMessage()    {}
func (IntersectionNotFound) isChainSyncMessage() {}
func (SyncDone) isChainSyncMessage()             {}

var roles = map[uint64]csm.Direction{
	TagRequestNext:          csm.Initiator,
	TagAwaitReply:           csm.Responder,
	TagRollForward:          csm.Responder,
	TagRollBackward:         csm.Responder,
	TagFindIntersect:        csm.Initiator,
	TagIntersectionFound:    csm.Responder,
	TagIntersectionNotFound: csm.Responder,
	TagSyncDone:             csm.Initiator,
}

// The transition relation. Done is terminal: restarting a finished
// chainsync channel goes through Chan.ReplaceState explicitly.
var machine = csm.NewMachine([]csm.Rule[State]{
	{From: StateIdle, Tag: TagRequestNext, To: StateCanAwait},
	{From: StateCanAwait, Tag: TagAwaitReply, To: StateMustReply},
	{From: StateCanAwait, Tag: TagRollForward, To: StateIdle},
	{From: StateMustReply, Tag: TagRollForward, To: StateIdle},
	{From: StateCanAwait, Tag: TagRollBackward, To: StateIdle},
	{From: StateMustReply, Tag: TagRollBackward, To: StateIdle},
	{From: StateIdle, Tag: TagFindIntersect, To: StateIntersect},
	{From: StateIntersect, Tag: TagIntersectionFound, To: StateIdle},
	{From: StateIntersect, Tag: TagIntersectionNotFound, To: StateIdle},
	{From: StateIdle, Tag: TagSyncDone, To: StateDone},
}, roles)

// Machine exposes the transition relation for tests
func Machine() *csm.Machine[State] {
	return machine
}

// Spec returns the node-to-node protocol descriptor (channel 2)
func Spec() csm.ProtocolSpec[State, Message] {
	return spec("chainsync-n2n", NumberN2N)
}

// SpecN2C returns the node-to-client protocol descriptor (channel 5);
// the message grammar is identical
func SpecN2C() csm.ProtocolSpec[State, Message] {
	return spec("chainsync-n2c", NumberN2C)
}

func spec(name string, number csm.Id) csm.ProtocolSpec[State, Message] {
	return csm.ProtocolSpec[State, Message]{
		Name:           name,
		Number:         number,
		MaxMessageSize: MaxMessageSize,
		Initial:        StateIdle,
		Machine:        machine,
		Encode:         EncodeMessage,
		Decode:         DecodeMessage,
	}
}
