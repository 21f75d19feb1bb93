// Package peersharing implements the peer-sharing mini-protocol on
// channel 10: a client asks a peer for addresses of other peers it
// knows. Ranking and selection of the returned addresses is the
// caller's concern.
package peersharing

import (
	"fmt"
	"net/netip"

	"github.com/fxamacker/cbor/v2"

	csm "github.com/machinefabric/csm-go"
)

// Number is the peer-sharing channel id
const Number csm.Id = 10

// MaxMessageSize bounds one peer-sharing message
const MaxMessageSize = 8192

// State is the peer-sharing protocol state
type State uint8

const (
	StateIdle State = iota
	StateBusy
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateBusy:
		return "Busy"
	case StateDone:
		return "Done"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Wire tags, in declaration order
const (
	TagShareRequest uint64 = iota
	TagSharePeers
	TagDone
)

// Peer wire tags
const (
	tagPeerV4 uint64 = iota
	tagPeerV6
)

// Peer is one shared peer address. The wire form is a tag-variant
// array: [0, ipv4:u32, port] or [1, u32, u32, u32, u32, port], with the
// address words big-endian relative to the standard text representation.
type Peer struct {
	addr netip.Addr
	Port uint16
}

// NewPeer creates a peer from an address and port
func NewPeer(addr netip.Addr, port uint16) Peer {
	return Peer{addr: addr, Port: port}
}

// AddrPort returns the peer as a standard address-port pair
func (p Peer) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(p.addr, p.Port)
}

func (p Peer) String() string {
	return p.AddrPort().String()
}

// MarshalCBOR implements cbor.Marshaler
func (p Peer) MarshalCBOR() ([]byte, error) {
	if p.addr.Is4() {
		b := p.addr.As4()
		w := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
		return csm.EncodeTagVariant(tagPeerV4, w, p.Port)
	}
	b := p.addr.As16()
	var ws [4]uint32
	for i := range ws {
		ws[i] = uint32(b[i*4])<<24 | uint32(b[i*4+1])<<16 | uint32(b[i*4+2])<<8 | uint32(b[i*4+3])
	}
	return csm.EncodeTagVariant(tagPeerV6, ws[0], ws[1], ws[2], ws[3], p.Port)
}

// UnmarshalCBOR implements cbor.Unmarshaler
func (p *Peer) UnmarshalCBOR(data []byte) error {
	tag, args, err := csm.DecodeTagVariant(data)
	if err != nil {
		return err
	}
	switch tag {
	case tagPeerV4:
		if err := csm.ExpectArgs("peer v4", args, 2); err != nil {
			return err
		}
		var w uint32
		if err := cbor.Unmarshal(args[0], &w); err != nil {
			return fmt.Errorf("peer v4 address: %w", err)
		}
		if err := cbor.Unmarshal(args[1], &p.Port); err != nil {
			return fmt.Errorf("peer v4 port: %w", err)
		}
		p.addr = netip.AddrFrom4([4]byte{byte(w >> 24), byte(w >> 16), byte(w >> 8), byte(w)})
		return nil
	case tagPeerV6:
		if err := csm.ExpectArgs("peer v6", args, 5); err != nil {
			return err
		}
		var b [16]byte
		for i := 0; i < 4; i++ {
			var w uint32
			if err := cbor.Unmarshal(args[i], &w); err != nil {
				return fmt.Errorf("peer v6 address word %d: %w", i, err)
			}
			b[i*4] = byte(w >> 24)
			b[i*4+1] = byte(w >> 16)
			b[i*4+2] = byte(w >> 8)
			b[i*4+3] = byte(w)
		}
		if err := cbor.Unmarshal(args[4], &p.Port); err != nil {
			return fmt.Errorf("peer v6 port: %w", err)
		}
		p.addr = netip.AddrFrom16(b)
		return nil
	default:
		return fmt.Errorf("unknown peer tag %d", tag)
	}
}

// Message is the peer-sharing message sum
type Message interface {
	csm.Message
	isPeerSharingMessage()
}

// ShareRequest asks for up to Count peer addresses
type ShareRequest struct {
	Count uint8
}

// SharePeers answers with the peer's known addresses
type SharePeers struct {
	Peers []Peer
}

// Done ends the protocol
type Done struct{}

func (ShareRequest) Tag() uint64 { return TagShareRequest }
func (SharePeers) Tag() uint64   { return TagSharePeers }
func (Done) Tag() uint64         { return TagDone }

func (ShareRequest) isPeerSharingMessage() {}
func (SharePeers) isPeerSharingMessage()   {}
func (Done) isPeerSharingMessage()         {}

var roles = map[uint64]csm.Direction{
	TagShareRequest: csm.Initiator,
	TagSharePeers:   csm.Responder,
	TagDone:         csm.Initiator,
}

var machine = csm.NewMachine([]csm.Rule[State]{
	{From: StateIdle, Tag: TagShareRequest, To: StateBusy},
	{From: StateBusy, Tag: TagSharePeers, To: StateIdle},
	{From: StateIdle, Tag: TagDone, To: StateDone},
}, roles)

// Machine exposes the transition relation for tests
func Machine() *csm.Machine[State] {
	return machine
}

// Spec returns the peer-sharing protocol descriptor
func Spec() csm.ProtocolSpec[State, Message] {
	return csm.ProtocolSpec[State, Message]{
		Name:           "peersharing",
		Number:         Number,
		MaxMessageSize: MaxMessageSize,
		Initial:        StateIdle,
		Machine:        machine,
		Encode:         EncodeMessage,
		Decode:         DecodeMessage,
	}
}

// EncodeMessage serializes one peer-sharing message to its tag-variant
// wire form
func EncodeMessage(m Message) ([]byte, error) {
	switch v := m.(type) {
	case ShareRequest:
		return csm.EncodeTagVariant(TagShareRequest, v.Count)
	case SharePeers:
		return csm.EncodeTagVariant(TagSharePeers, v.Peers)
	case Done:
		return csm.EncodeTagVariant(TagDone)
	default:
		return nil, fmt.Errorf("unknown peersharing message %T", m)
	}
}

// DecodeMessage parses one CBOR item into a peer-sharing message
func DecodeMessage(data []byte) (Message, error) {
	tag, args, err := csm.DecodeTagVariant(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagShareRequest:
		if err := csm.ExpectArgs("ShareRequest", args, 1); err != nil {
			return nil, err
		}
		var m ShareRequest
		if err := cbor.Unmarshal(args[0], &m.Count); err != nil {
			return nil, fmt.Errorf("ShareRequest count: %w", err)
		}
		return m, nil
	case TagSharePeers:
		if err := csm.ExpectArgs("SharePeers", args, 1); err != nil {
			return nil, err
		}
		var m SharePeers
		if err := cbor.Unmarshal(args[0], &m.Peers); err != nil {
			return nil, fmt.Errorf("SharePeers peers: %w", err)
		}
		return m, nil
	case TagDone:
		if err := csm.ExpectArgs("Done", args, 0); err != nil {
			return nil, err
		}
		return Done{}, nil
	default:
		return nil, fmt.Errorf("unknown peersharing message tag %d", tag)
	}
}

// ClientShareRequestRet narrows an incoming message to the reply a peer
// may send after ShareRequest. Busy admits exactly one variant, so the
// return type is the variant itself.
func ClientShareRequestRet(m Message) (SharePeers, bool) {
	if v, ok := m.(SharePeers); ok {
		return v, true
	}
	return SharePeers{}, false
}

// IdleRequest is the sum of client messages valid in the Idle state
type IdleRequest interface {
	Message
	isIdleRequest()
}

func (ShareRequest) isIdleRequest() {}
func (Done) isIdleRequest()         {}

// ServerIdleFilter narrows an incoming message to the requests a client
// may send from Idle
func ServerIdleFilter(m Message) (IdleRequest, bool) {
	switch v := m.(type) {
	case ShareRequest:
		return v, true
	case Done:
		return v, true
	default:
		return nil, false
	}
}
