// Package localtxsubmission implements the local transaction submission
// mini-protocol on channel 6: a trusted local client submits one
// transaction at a time and learns whether the node accepted it.
package localtxsubmission

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	csm "github.com/machinefabric/csm-go"
	"github.com/machinefabric/csm-go/protocol/txsubmission"
)

// Number is the local tx-submission channel id
const Number csm.Id = 6

// MaxMessageSize bounds one local tx-submission message
const MaxMessageSize = 8192

// Tx is an opaque transaction body, shared with the node-to-node
// tx-submission protocol
type Tx = txsubmission.Tx

// State is the local tx-submission protocol state
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
	TagSubmitTx uint64 = iota
	TagAcceptTx
	TagRejectTx
	TagDone
)

// Message is the local tx-submission message sum
type Message interface {
	csm.Message
	isLocalTxSubmissionMessage()
}

// SubmitTx submits one transaction
type SubmitTx struct {
	Tx Tx
}

// AcceptTx acknowledges the submitted transaction
type AcceptTx struct{}

// RejectTx rejects the submitted transaction with a reason code
type RejectTx struct {
	Reason uint64
}

// Done ends the protocol
type Done struct{}

func (SubmitTx) Tag() uint64 { return TagSubmitTx }
func (AcceptTx) Tag() uint64 { return TagAcceptTx }
func (RejectTx) Tag() uint64 { return TagRejectTx }
func (Done) Tag() uint64     { return TagDone }

func (SubmitTx) isLocalTxSubmissionMessage() {}
func (AcceptTx) isLocalTxSubmissionMessage() {}
func (RejectTx) isLocalTxSubmissionMessage() {}
func (Done) isLocalTxSubmissionMessage()     {}

var roles = map[uint64]csm.Direction{
	TagSubmitTx: csm.Initiator,
	TagAcceptTx: csm.Responder,
	TagRejectTx: csm.Responder,
	TagDone:     csm.Initiator,
}

var machine = csm.NewMachine([]csm.Rule[State]{
	{From: StateIdle, Tag: TagSubmitTx, To: StateBusy},
	{From: StateBusy, Tag: TagAcceptTx, To: StateIdle},
	{From: StateBusy, Tag: TagRejectTx, To: StateIdle},
	{From: StateIdle, Tag: TagDone, To: StateDone},
}, roles)

// Machine exposes the transition relation for tests
func Machine() *csm.Machine[State] {
	return machine
}

// Spec returns the local tx-submission protocol descriptor
func Spec() csm.ProtocolSpec[State, Message] {
	return csm.ProtocolSpec[State, Message]{
		Name:           "localtxsubmission",
		Number:         Number,
		MaxMessageSize: MaxMessageSize,
		Initial:        StateIdle,
		Machine:        machine,
		Encode:         EncodeMessage,
		Decode:         DecodeMessage,
	}
}

// EncodeMessage serializes one local tx-submission message to its
// tag-variant wire form
func EncodeMessage(m Message) ([]byte, error) {
	switch v := m.(type) {
	case SubmitTx:
		return csm.EncodeTagVariant(TagSubmitTx, []byte(v.Tx))
	case AcceptTx:
		return csm.EncodeTagVariant(TagAcceptTx)
	case RejectTx:
		return csm.EncodeTagVariant(TagRejectTx, v.Reason)
	case Done:
		return csm.EncodeTagVariant(TagDone)
	default:
		return nil, fmt.Errorf("unknown localtxsubmission message %T", m)
	}
}

// DecodeMessage parses one CBOR item into a local tx-submission message
func DecodeMessage(data []byte) (Message, error) {
	tag, args, err := csm.DecodeTagVariant(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagSubmitTx:
		if err := csm.ExpectArgs("SubmitTx", args, 1); err != nil {
			return nil, err
		}
		var tx []byte
		if err := cbor.Unmarshal(args[0], &tx); err != nil {
			return nil, fmt.Errorf("SubmitTx tx: %w", err)
		}
		return SubmitTx{Tx: Tx(tx)}, nil
	case TagAcceptTx:
		if err := csm.ExpectArgs("AcceptTx", args, 0); err != nil {
			return nil, err
		}
		return AcceptTx{}, nil
	case TagRejectTx:
		if err := csm.ExpectArgs("RejectTx", args, 1); err != nil {
			return nil, err
		}
		var m RejectTx
		if err := cbor.Unmarshal(args[0], &m.Reason); err != nil {
			return nil, fmt.Errorf("RejectTx reason: %w", err)
		}
		return m, nil
	case TagDone:
		if err := csm.ExpectArgs("Done", args, 0); err != nil {
			return nil, err
		}
		return Done{}, nil
	default:
		return nil, fmt.Errorf("unknown localtxsubmission message tag %d", tag)
	}
}

// SubmitTxRet is the reply sum for a SubmitTx exchange
type SubmitTxRet interface {
	Message
	isSubmitTxRet()
}

func (AcceptTx) isSubmitTxRet() {}
func (RejectTx) isSubmitTxRet() {}

// ClientSubmitTxRet narrows an incoming message to the replies the node
// may send after SubmitTx
func ClientSubmitTxRet(m Message) (SubmitTxRet, bool) {
	switch v := m.(type) {
	case AcceptTx:
		return v, true
	case RejectTx:
		return v, true
	default:
		return nil, false
	}
}
