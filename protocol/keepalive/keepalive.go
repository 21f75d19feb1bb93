// Package keepalive implements the keep-alive mini-protocol on
// channel 8: a client-initiated ping/pong carrying a 16-bit cookie the
// server echoes back.
package keepalive

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	csm "github.com/machinefabric/csm-go"
)

// Number is the keep-alive channel id
const Number csm.Id = 8

// MaxMessageSize bounds one keep-alive message
const MaxMessageSize = 64

// State is the keep-alive protocol state
type State uint8

const (
	StateClient State = iota
	StateServer
	StateDone
)

func (s State) String() string {
	switch s {
	case StateClient:
		return "Client"
	case StateServer:
		return "Server"
	case StateDone:
		return "Done"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Wire tags, in declaration order
const (
	TagKeepAlive uint64 = iota
	TagKeepAliveResponse
	TagDone
)

// Message is the keep-alive message sum
type Message interface {
	csm.Message
	isKeepAliveMessage()
}

// KeepAlive pings the server with a cookie
type KeepAlive struct {
	Cookie uint16
}

// KeepAliveResponse echoes the cookie back
type KeepAliveResponse struct {
	Cookie uint16
}

// Done ends the protocol
type Done struct{}

func (KeepAlive) Tag() uint64         { return TagKeepAlive }
func (KeepAliveResponse) Tag() uint64 { return TagKeepAliveResponse }
func (Done) Tag() uint64              { return TagDone }

func (KeepAlive) isKeepAliveMessage()         {}
func (KeepAliveResponse) isKeepAliveMessage() {}
func (Done) isKeepAliveMessage()              {}

var roles = map[uint64]csm.Direction{
	TagKeepAlive:         csm.Initiator,
	TagKeepAliveResponse: csm.Responder,
	TagDone:              csm.Initiator,
}

var machine = csm.NewMachine([]csm.Rule[State]{
	{From: StateClient, Tag: TagKeepAlive, To: StateServer},
	{From: StateClient, Tag: TagDone, To: StateDone},
	{From: StateServer, Tag: TagKeepAliveResponse, To: StateDone},
}, roles)

// Machine exposes the transition relation for tests
func Machine() *csm.Machine[State] {
	return machine
}

// Spec returns the keep-alive protocol descriptor
func Spec() csm.ProtocolSpec[State, Message] {
	return csm.ProtocolSpec[State, Message]{
		Name:           "keepalive",
		Number:         Number,
		MaxMessageSize: MaxMessageSize,
		Initial:        StateClient,
		Machine:        machine,
		Encode:         EncodeMessage,
		Decode:         DecodeMessage,
	}
}

// EncodeMessage serializes one keep-alive message to its tag-variant
// wire form
func EncodeMessage(m Message) ([]byte, error) {
	switch v := m.(type) {
	case KeepAlive:
		return csm.EncodeTagVariant(TagKeepAlive, v.Cookie)
	case KeepAliveResponse:
		return csm.EncodeTagVariant(TagKeepAliveResponse, v.Cookie)
	case Done:
		return csm.EncodeTagVariant(TagDone)
	default:
		return nil, fmt.Errorf("unknown keepalive message %T", m)
	}
}

// DecodeMessage parses one CBOR item into a keep-alive message
func DecodeMessage(data []byte) (Message, error) {
	tag, args, err := csm.DecodeTagVariant(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagKeepAlive:
		if err := csm.ExpectArgs("KeepAlive", args, 1); err != nil {
			return nil, err
		}
		var m KeepAlive
		if err := cbor.Unmarshal(args[0], &m.Cookie); err != nil {
			return nil, fmt.Errorf("KeepAlive cookie: %w", err)
		}
		return m, nil
	case TagKeepAliveResponse:
		if err := csm.ExpectArgs("KeepAliveResponse", args, 1); err != nil {
			return nil, err
		}
		var m KeepAliveResponse
		if err := cbor.Unmarshal(args[0], &m.Cookie); err != nil {
			return nil, fmt.Errorf("KeepAliveResponse cookie: %w", err)
		}
		return m, nil
	case TagDone:
		if err := csm.ExpectArgs("Done", args, 0); err != nil {
			return nil, err
		}
		return Done{}, nil
	default:
		return nil, fmt.Errorf("unknown keepalive message tag %d", tag)
	}
}

// ClientKeepAliveRet narrows an incoming message to the reply a server
// may send after KeepAlive
func ClientKeepAliveRet(m Message) (KeepAliveResponse, bool) {
	if v, ok := m.(KeepAliveResponse); ok {
		return v, true
	}
	return KeepAliveResponse{}, false
}
