// Package n2n implements the node-to-node handshake mini-protocol:
// unencrypted protocol-version negotiation on the mandatory channel 0.
// The initiator proposes a version table; the responder accepts one
// entry, refuses, or answers a query with its own table.
package n2n

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

// Version is a node-to-node protocol version number
type Version uint64

// The versions this implementation knows. 12 was never released.
const (
	V6  Version = 6
	V7  Version = 7
	V8  Version = 8
	V9  Version = 9
	V10 Version = 10
	V11 Version = 11
	V13 Version = 13
	V14 Version = 14
)

// KnownVersions lists every version this implementation understands
var KnownVersions = []Version{V6, V7, V8, V9, V10, V11, V13, V14}

// VersionFromInt validates a raw version number against the known set
func VersionFromInt(v uint64) (Version, bool) {
	for _, k := range KnownVersions {
		if uint64(k) == v {
			return k, true
		}
	}
	return 0, false
}

// DiffusionMode states whether the proposer also accepts inbound
// connections. Wire form is a CBOR boolean.
type DiffusionMode bool

const (
	InitiatorOnly         DiffusionMode = false
	InitiatorAndResponder DiffusionMode = true
)

// PeerSharingMode states whether the proposer participates in the
// peer-sharing mini-protocol. Wire form is the CBOR integer 0 or 1.
type PeerSharingMode uint8

const (
	PeerSharingDisabled PeerSharingMode = 0
	PeerSharingEnabled  PeerSharingMode = 1
)

// NodeData is the per-version negotiation payload:
// [magic, diffusion, peer_sharing, query]
type NodeData struct {
	Magic       uint64
	Diffusion   DiffusionMode
	PeerSharing PeerSharingMode
	Query       bool
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

// Spec returns the node-to-node handshake protocol descriptor
func Spec() csm.ProtocolSpec[State, Message] {
	return csm.ProtocolSpec[State, Message]{
		Name:           "handshake-n2n",
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
