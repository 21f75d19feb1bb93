// Package txsubmission implements the node-to-node transaction
// submission mini-protocol on channel 4. Direction is inverted relative
// to the other protocols: after the client's Init, the responder pulls
// transaction ids and bodies from the client's mempool.
package txsubmission

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	csm "github.com/machinefabric/csm-go"
)

// Number is the tx-submission channel id
const Number csm.Id = 4

// MaxMessageSize bounds one tx-submission message
const MaxMessageSize = 8192

// TxId is an opaque transaction id, wire-encoded as a byte string
type TxId []byte

// Tx is an opaque transaction body, wire-encoded as a byte string
type Tx []byte

// TxIdAndSize pairs a transaction id with its body size, wire-encoded
// as the array [id, size]
type TxIdAndSize struct {
	Id   TxId
	Size uint32
}

// MarshalCBOR implements cbor.Marshaler
func (t TxIdAndSize) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]any{[]byte(t.Id), t.Size})
}

// UnmarshalCBOR implements cbor.Unmarshaler
func (t *TxIdAndSize) UnmarshalCBOR(data []byte) error {
	var arr []cbor.RawMessage
	if err := cbor.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("tx id and size is not a CBOR array: %w", err)
	}
	if len(arr) != 2 {
		return fmt.Errorf("tx id and size array length must be 2, got %d", len(arr))
	}
	var id []byte
	if err := cbor.Unmarshal(arr[0], &id); err != nil {
		return fmt.Errorf("tx id: %w", err)
	}
	t.Id = id
	if err := cbor.Unmarshal(arr[1], &t.Size); err != nil {
		return fmt.Errorf("tx size: %w", err)
	}
	return nil
}

// State is the tx-submission protocol state
type State uint8

const (
	StateInit State = iota
	StateIdle
	StateTxs
	StateTxIdsBlocking
	StateTxIdsNonBlocking
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateIdle:
		return "Idle"
	case StateTxs:
		return "Txs"
	case StateTxIdsBlocking:
		return "TxIdsBlocking"
	case StateTxIdsNonBlocking:
		return "TxIdsNonBlocking"
	case StateDone:
		return "Done"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Wire tags, in declaration order
const (
	TagInit uint64 = iota
	TagRequestTxIds
	TagReplyTxIds
	TagRequestTxs
	TagReplyTxs
	TagDone
)

// Message is the tx-submission message sum
type Message interface {
	csm.Message
	isTxSubmissionMessage()
}

// Init opens the protocol
type Init struct{}

// RequestTxIds pulls up to Req more transaction ids, acknowledging Ack
// previously delivered ones. Blocking selects whether the client may
// wait for new transactions.
type RequestTxIds struct {
	Blocking bool
	Ack      uint16
	Req      uint16
}

// ReplyTxIds delivers transaction ids with their sizes
type ReplyTxIds struct {
	Ids []TxIdAndSize
}

// RequestTxs pulls the bodies of previously announced transactions
type RequestTxs struct {
	Ids []TxId
}

// ReplyTxs delivers transaction bodies
type ReplyTxs struct {
	Txs []Tx
}

// Done ends the protocol
type Done struct{}

func (Init) Tag() uint64         { return TagInit }
func (RequestTxIds) Tag() uint64 { return TagRequestTxIds }
func (ReplyTxIds) Tag() uint64   { return TagReplyTxIds }
func (RequestTxs) Tag() uint64   { return TagRequestTxs }
func (ReplyTxs) Tag() uint64     { return TagReplyTxs }
func (Done) Tag() uint64         { return TagDone }

func (Init) isTxSubmissionMessage()         {}
func (RequestTxIds) isTxSubmissionMessage() {}
func (ReplyTxIds) isTxSubmissionMessage()   {}
func (RequestTxs) isTxSubmissionMessage()   {}
func (ReplyTxs) isTxSubmissionMessage()     {}
func (Done) isTxSubmissionMessage()         {}

var roles = map[uint64]csm.Direction{
	TagInit:         csm.Initiator,
	TagRequestTxIds: csm.Responder,
	TagReplyTxIds:   csm.Initiator,
	TagRequestTxs:   csm.Responder,
	TagReplyTxs:     csm.Initiator,
	TagDone:         csm.Initiator,
}

var machine = csm.NewMachine([]csm.Rule[State]{
	{From: StateInit, Tag: TagInit, To: StateIdle},
	{From: StateIdle, Tag: TagRequestTxIds, To: StateTxIdsBlocking},
	{From: StateIdle, Tag: TagRequestTxs, To: StateTxs},
	{From: StateTxs, Tag: TagReplyTxs, To: StateIdle},
	{From: StateTxIdsNonBlocking, Tag: TagReplyTxIds, To: StateIdle},
	{From: StateTxIdsBlocking, Tag: TagDone, To: StateDone},
	{From: StateTxIdsBlocking, Tag: TagReplyTxIds, To: StateIdle},
}, roles)

// Machine exposes the transition relation for tests
func Machine() *csm.Machine[State] {
	return machine
}

// Spec returns the tx-submission protocol descriptor
func Spec() csm.ProtocolSpec[State, Message] {
	return csm.ProtocolSpec[State, Message]{
		Name:           "txsubmission",
		Number:         Number,
		MaxMessageSize: MaxMessageSize,
		Initial:        StateInit,
		Machine:        machine,
		Encode:         EncodeMessage,
		Decode:         DecodeMessage,
	}
}

// EncodeMessage serializes one tx-submission message to its tag-variant
// wire form
func EncodeMessage(m Message) ([]byte, error) {
	switch v := m.(type) {
	case Init:
		return csm.EncodeTagVariant(TagInit)
	case RequestTxIds:
		return csm.EncodeTagVariant(TagRequestTxIds, v.Blocking, v.Ack, v.Req)
	case ReplyTxIds:
		return csm.EncodeTagVariant(TagReplyTxIds, v.Ids)
	case RequestTxs:
		ids := make([][]byte, len(v.Ids))
		for i, id := range v.Ids {
			ids[i] = []byte(id)
		}
		return csm.EncodeTagVariant(TagRequestTxs, ids)
	case ReplyTxs:
		txs := make([][]byte, len(v.Txs))
		for i, tx := range v.Txs {
			txs[i] = []byte(tx)
		}
		return csm.EncodeTagVariant(TagReplyTxs, txs)
	case Done:
		return csm.EncodeTagVariant(TagDone)
	default:
		return nil, fmt.Errorf("unknown txsubmission message %T", m)
	}
}

// DecodeMessage parses one CBOR item into a tx-submission message
func DecodeMessage(data []byte) (Message, error) {
	tag, args, err := csm.DecodeTagVariant(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagInit:
		if err := csm.ExpectArgs("Init", args, 0); err != nil {
			return nil, err
		}
		return Init{}, nil
	case TagRequestTxIds:
		if err := csm.ExpectArgs("RequestTxIds", args, 3); err != nil {
			return nil, err
		}
		var m RequestTxIds
		if err := cbor.Unmarshal(args[0], &m.Blocking); err != nil {
			return nil, fmt.Errorf("RequestTxIds blocking: %w", err)
		}
		if err := cbor.Unmarshal(args[1], &m.Ack); err != nil {
			return nil, fmt.Errorf("RequestTxIds ack: %w", err)
		}
		if err := cbor.Unmarshal(args[2], &m.Req); err != nil {
			return nil, fmt.Errorf("RequestTxIds req: %w", err)
		}
		return m, nil
	case TagReplyTxIds:
		if err := csm.ExpectArgs("ReplyTxIds", args, 1); err != nil {
			return nil, err
		}
		var m ReplyTxIds
		if err := cbor.Unmarshal(args[0], &m.Ids); err != nil {
			return nil, fmt.Errorf("ReplyTxIds ids: %w", err)
		}
		return m, nil
	case TagRequestTxs:
		if err := csm.ExpectArgs("RequestTxs", args, 1); err != nil {
			return nil, err
		}
		var ids [][]byte
		if err := cbor.Unmarshal(args[0], &ids); err != nil {
			return nil, fmt.Errorf("RequestTxs ids: %w", err)
		}
		m := RequestTxs{Ids: make([]TxId, len(ids))}
		for i, id := range ids {
			m.Ids[i] = TxId(id)
		}
		return m, nil
	case TagReplyTxs:
		if err := csm.ExpectArgs("ReplyTxs", args, 1); err != nil {
			return nil, err
		}
		var txs [][]byte
		if err := cbor.Unmarshal(args[0], &txs); err != nil {
			return nil, fmt.Errorf("ReplyTxs txs: %w", err)
		}
		m := ReplyTxs{Txs: make([]Tx, len(txs))}
		for i, tx := range txs {
			m.Txs[i] = Tx(tx)
		}
		return m, nil
	case TagDone:
		if err := csm.ExpectArgs("Done", args, 0); err != nil {
			return nil, err
		}
		return Done{}, nil
	default:
		return nil, fmt.Errorf("unknown txsubmission message tag %d", tag)
	}
}
