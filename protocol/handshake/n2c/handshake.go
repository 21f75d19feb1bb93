// Package n2c implements the node-to-client handshake mini-protocol on
// channel 0. The grammar matches the node-to-node handshake; the
// version numbers and the per-version payload differ.
package n2c

import (
	"fmt"

	csm "github.com/machinefabric/csm-go"
)

// Number is the handshake channel id, reserved as zero
const Number = csm.IdZero

// MaxMessageSize bounds one handshake message
const MaxMessageSize = 2048

// State is the handshake protocol state
type State uint8

const (
	StatePropose State = iota
	StateConfirm
	StateDone
)

func (s State) String() string {
	switch s {
	case StatePropose:
		return "Propose"
	case StateConfirm:
		return "Confirm"
	case StateDone:
		return "Done"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Wire tags, in declaration order
const (
	TagProposeVersions uint64 = iota
	TagAcceptVersion
	TagRefuse
	TagQueryReply
)

// Version is a node-to-client protocol version number
type Version uint64

// Known node-to-client versions
const (
	V16 Version = 32784
	V17 Version = 32785
	V18 Version = 32786
	V19 Version = 32787
	V20 Version = 32788
)

// KnownVersions lists every version this implementation understands
var KnownVersions = []Version{V16, V17, V18, V19, V20}

// VersionFromInt validates a raw version number against the known set
func VersionFromInt(v uint64) (Version, bool) {
	for _, k := range KnownVersions {
		if uint64(k) == v {
			return k, true
		}
	}
	return 0, false
}

// NodeData is the per-version negotiation payload: [magic, query]
type NodeData struct {
	Magic uint64
	Query bool
}

// ProposedVersion is one entry of a version proposal table
type ProposedVersion struct {
	Version Version
	Data    NodeData
}

// VersionProposal is the table offered by ProposeVersions and returned
// by QueryReply, wire-encoded as a CBOR map from version to node data
type VersionProposal []ProposedVersion

// Message is the handshake message sum
type Message interface {
	csm.Message
	isHandshakeMessage()
}

// ProposeVersions opens the negotiation with the initiator's table
type ProposeVersions struct {
	Proposal VersionProposal
}

// AcceptVersion confirms one proposed version
type AcceptVersion struct {
	Version Version
	Data    NodeData
}

// Refuse rejects the proposal
type Refuse struct {
	Reason RefuseReason
}

// QueryReply answers a query=true proposal with the responder's table
type QueryReply struct {
	Proposal VersionProposal
}

func (ProposeVersions) Tag() uint64 { return TagProposeVersions }
func (AcceptVersion) Tag() uint64   { return TagAcceptVersion }
func (Refuse) Tag() uint64          { return TagRefuse }
func (QueryReply) Tag() uint64      { return TagQueryReply }

func (ProposeVersions) isHandshakeMessage() {}
func (AcceptVersion) isHandshakeMessage()   {}
func (Refuse) isHandshakeMessage()          {}
func (QueryReply) isHandshakeMessage()      {}

var roles = map[uint64]csm.Direction{
	TagProposeVersions: csm.Initiator,
	TagAcceptVersion:   csm.Responder,
	TagRefuse:          csm.Responder,
	TagQueryReply:      csm.Responder,
}

var machine = csm.NewMachine([]csm.Rule[State]{
	{From: StatePropose, Tag: TagProposeVersions, To: StateConfirm},
	{From: StateConfirm, Tag: TagAcceptVersion, To: StateDone},
	{From: StateConfirm, Tag: TagRefuse, To: StateDone},
	{From: StateConfirm, Tag: TagQueryReply, To: StateDone},
}, roles)

// Machine exposes the transition relation for tests
func Machine() *csm.Machine[State] {
	return machine
}

// Spec returns the node-to-client handshake protocol descriptor
func Spec() csm.ProtocolSpec[State, Message] {
	return csm.ProtocolSpec[State, Message]{
		Name:           "handshake-n2c",
		Number:         Number,
		MaxMessageSize: MaxMessageSize,
		Initial:        StatePropose,
		Machine:        machine,
		Encode:         EncodeMessage,
		Decode:         DecodeMessage,
	}
}

// ProposeVersionsRet is the reply sum for a ProposeVersions exchange
type ProposeVersionsRet interface {
	Message
	isProposeVersionsRet()
}

func (AcceptVersion) isProposeVersionsRet() {}
func (Refuse) isProposeVersionsRet()        {}
func (QueryReply) isProposeVersionsRet()    {}

// ClientProposeVersionsRet narrows an incoming message to the replies a
// responder may send after ProposeVersions
func ClientProposeVersionsRet(m Message) (ProposeVersionsRet, bool) {
	switch v := m.(type) {
	case AcceptVersion:
		return v, true
	case Refuse:
		return v, true
	case QueryReply:
		return v, true
	default:
		return nil, false
	}
}

// ServerProposeFilter narrows an incoming message to what an initiator
// may send from Propose
func ServerProposeFilter(m Message) (ProposeVersions, bool) {
	if v, ok := m.(ProposeVersions); ok {
		return v, true
	}
	return ProposeVersions{}, false
}
