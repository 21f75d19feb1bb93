// Package localtxmonitor implements the local mempool monitoring
// mini-protocol on channel 9: a trusted local client acquires a mempool
// snapshot and walks its transactions. Wire tag 4 is unused, a gap kept
// by the protocol's numbering.
package localtxmonitor

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"

	csm "github.com/machinefabric/csm-go"
	"github.com/machinefabric/csm-go/protocol/txsubmission"
)

// Number is the local tx-monitor channel id
const Number csm.Id = 9

// MaxMessageSize bounds one local tx-monitor message
const MaxMessageSize = 8192

// Tx and TxId are shared with the node-to-node tx-submission protocol
type (
	Tx   = txsubmission.Tx
	TxId = txsubmission.TxId
)

// State is the local tx-monitor protocol state
type State uint8

const (
	StateIdle State = iota
	StateAcquiring
	StateAcquired
	StateBusyNextTx
	StateBusyHasTx
	StateBusyGetSizes
	StateBusyGetMeasures
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
	case StateBusyNextTx:
		return "BusyNextTx"
	case StateBusyHasTx:
		return "BusyHasTx"
	case StateBusyGetSizes:
		return "BusyGetSizes"
	case StateBusyGetMeasures:
		return "BusyGetMeasures"
	case StateDone:
		return "Done"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Wire tags. 4 is skipped.
const (
	TagDone     uint64 = 0
	TagAcquire  uint64 = 1
	TagAcquired uint64 = 2
	TagRelease  uint64 = 3

	TagNextTx           uint64 = 5
	TagReplyNextTx      uint64 = 6
	TagHasTx            uint64 = 7
	TagReplyHasTx       uint64 = 8
	TagGetSizes         uint64 = 9
	TagReplyGetSizes    uint64 = 10
	TagGetMeasures      uint64 = 11
	TagReplyGetMeasures uint64 = 12
)

// Sizes reports mempool capacity and usage, wire-encoded as the array
// [capacity, size, number_of_txs]
type Sizes struct {
	Capacity    uint32
	Size        uint32
	NumberOfTxs uint32
}

// MarshalCBOR implements cbor.Marshaler
func (s Sizes) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([]any{s.Capacity, s.Size, s.NumberOfTxs})
}

// UnmarshalCBOR implements cbor.Unmarshaler
func (s *Sizes) UnmarshalCBOR(data []byte) error {
	var arr []uint32
	if err := cbor.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("sizes is not a CBOR array: %w", err)
	}
	if len(arr) != 3 {
		return fmt.Errorf("sizes array length must be 3, got %d", len(arr))
	}
	s.Capacity, s.Size, s.NumberOfTxs = arr[0], arr[1], arr[2]
	return nil
}

// Measure is one named mempool measure with its usage and capacity
type Measure struct {
	Name     string
	Usage    uint64
	Capacity uint64
}

// Measures is a table of named mempool measures, wire-encoded as a map
// from name to the array [usage, capacity]
type Measures []Measure

// MarshalCBOR implements cbor.Marshaler
func (ms Measures) MarshalCBOR() ([]byte, error) {
	m := make(map[string][2]uint64, len(ms))
	for _, e := range ms {
		m[e.Name] = [2]uint64{e.Usage, e.Capacity}
	}
	return cbor.Marshal(m)
}

// UnmarshalCBOR implements cbor.Unmarshaler; entries come out sorted by
// name
func (ms *Measures) UnmarshalCBOR(data []byte) error {
	var m map[string][2]uint64
	if err := cbor.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("measures is not a CBOR map: %w", err)
	}
	out := make(Measures, 0, len(m))
	for name, v := range m {
		out = append(out, Measure{Name: name, Usage: v[0], Capacity: v[1]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	*ms = out
	return nil
}

// Message is the local tx-monitor message sum
type Message interface {
	csm.Message
	isLocalTxMonitorMessage()
}

// Done ends the protocol
type Done struct{}

// Acquire asks for a mempool snapshot
type Acquire struct{}

// Acquired confirms the snapshot, reporting its slot
type Acquired struct {
	Slot uint64
}

// Release gives the snapshot back
type Release struct{}

// NextTx asks for the next transaction of the snapshot
type NextTx struct{}

// ReplyNextTx carries the next transaction; an empty body means the
// snapshot is exhausted
type ReplyNextTx struct {
	Tx Tx
}

// HasTx asks whether the snapshot contains a transaction id
type HasTx struct {
	Id TxId
}

// ReplyHasTx answers a HasTx
type ReplyHasTx struct {
	Present bool
}

// GetSizes asks for the snapshot's size measures
type GetSizes struct{}

// ReplyGetSizes answers a GetSizes
type ReplyGetSizes struct {
	Sizes Sizes
}

// GetMeasures asks for the snapshot's extended measure table
type GetMeasures struct{}

// ReplyGetMeasures answers a GetMeasures
type ReplyGetMeasures struct {
	TxCount  uint32
	Measures Measures
}

func (Done) Tag() uint64             { return TagDone }
func (Acquire) Tag() uint64          { return TagAcquire }
func (Acquired) Tag() uint64         { return TagAcquired }
func (Release) Tag() uint64          { return TagRelease }
func (NextTx) Tag() uint64           { return TagNextTx }
func (ReplyNextTx) Tag() uint64      { return TagReplyNextTx }
func (HasTx) Tag() uint64            { return TagHasTx }
func (ReplyHasTx) Tag() uint64       { return TagReplyHasTx }
func (GetSizes) Tag() uint64         { return TagGetSizes }
func (ReplyGetSizes) Tag() uint64    { return TagReplyGetSizes }
func (GetMeasures) Tag() uint64      { return TagGetMeasures }
func (ReplyGetMeasures) Tag() uint64 { return TagReplyGetMeasures }

func (Done) isLocalTxMonitorMessage()             {}
func (Acquire) isLocalTxMonitorMessage()          {}
func (Acquired) isLocalTxMonitorMessage()         {}
func (Release) isLocalTxMonitorMessage()          {}
func (NextTx) isLocalTxMonitorMessage()           {}
func (ReplyNextTx) isLocalTxMonitorMessage()      {}
func (HasTx) isLocalTxMonitorMessage()            {}
func (ReplyHasTx) isLocalTxMonitorMessage()       {}
func (GetSizes) isLocalTxMonitorMessage()         {}
func (ReplyGetSizes) isLocalTxMonitorMessage()    {}
func (GetMeasures) isLocalTxMonitorMessage()      {}
func (ReplyGetMeasures) isLocalTxMonitorMessage() {}

var roles = map[uint64]csm.Direction{
	TagDone:             csm.Initiator,
	TagAcquire:          csm.Initiator,
	TagAcquired:         csm.Responder,
	TagRelease:          csm.Initiator,
	TagNextTx:           csm.Initiator,
	TagReplyNextTx:      csm.Responder,
	TagHasTx:            csm.Initiator,
	TagReplyHasTx:       csm.Responder,
	TagGetSizes:         csm.Initiator,
	TagReplyGetSizes:    csm.Responder,
	TagGetMeasures:      csm.Initiator,
	TagReplyGetMeasures: csm.Responder,
}

var machine = csm.NewMachine([]csm.Rule[State]{
	{From: StateIdle, Tag: TagAcquire, To: StateAcquiring},
	{From: StateAcquiring, Tag: TagAcquired, To: StateAcquired},
	{From: StateAcquired, Tag: TagRelease, To: StateIdle},
	{From: StateAcquired, Tag: TagNextTx, To: StateBusyNextTx},
	{From: StateBusyNextTx, Tag: TagReplyNextTx, To: StateAcquired},
	{From: StateAcquired, Tag: TagHasTx, To: StateBusyHasTx},
	{From: StateBusyHasTx, Tag: TagReplyHasTx, To: StateAcquired},
	{From: StateAcquired, Tag: TagGetSizes, To: StateBusyGetSizes},
	{From: StateBusyGetSizes, Tag: TagReplyGetSizes, To: StateAcquired},
	{From: StateAcquired, Tag: TagGetMeasures, To: StateBusyGetMeasures},
	{From: StateBusyGetMeasures, Tag: TagReplyGetMeasures, To: StateAcquired},
	{From: StateIdle, Tag: TagDone, To: StateDone},
}, roles)

// Machine exposes the transition relation for tests
func Machine() *csm.Machine[State] {
	return machine
}

// Spec returns the local tx-monitor protocol descriptor
func Spec() csm.ProtocolSpec[State, Message] {
	return csm.ProtocolSpec[State, Message]{
		Name:           "localtxmonitor",
		Number:         Number,
		MaxMessageSize: MaxMessageSize,
		Initial:        StateIdle,
		Machine:        machine,
		Encode:         EncodeMessage,
		Decode:         DecodeMessage,
	}
}

// EncodeMessage serializes one local tx-monitor message to its
// tag-variant wire form
func EncodeMessage(m Message) ([]byte, error) {
	switch v := m.(type) {
	case Done:
		return csm.EncodeTagVariant(TagDone)
	case Acquire:
		return csm.EncodeTagVariant(TagAcquire)
	case Acquired:
		return csm.EncodeTagVariant(TagAcquired, v.Slot)
	case Release:
		return csm.EncodeTagVariant(TagRelease)
	case NextTx:
		return csm.EncodeTagVariant(TagNextTx)
	case ReplyNextTx:
		return csm.EncodeTagVariant(TagReplyNextTx, []byte(v.Tx))
	case HasTx:
		return csm.EncodeTagVariant(TagHasTx, []byte(v.Id))
	case ReplyHasTx:
		return csm.EncodeTagVariant(TagReplyHasTx, v.Present)
	case GetSizes:
		return csm.EncodeTagVariant(TagGetSizes)
	case ReplyGetSizes:
		return csm.EncodeTagVariant(TagReplyGetSizes, v.Sizes)
	case GetMeasures:
		return csm.EncodeTagVariant(TagGetMeasures)
	case ReplyGetMeasures:
		return csm.EncodeTagVariant(TagReplyGetMeasures, v.TxCount, v.Measures)
	default:
		return nil, fmt.Errorf("unknown localtxmonitor message %T", m)
	}
}

// DecodeMessage parses one CBOR item into a local tx-monitor message
func DecodeMessage(data []byte) (Message, error) {
	tag, args, err := csm.DecodeTagVariant(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagDone:
		if err := csm.ExpectArgs("Done", args, 0); err != nil {
			return nil, err
		}
		return Done{}, nil
	case TagAcquire:
		if err := csm.ExpectArgs("Acquire", args, 0); err != nil {
			return nil, err
		}
		return Acquire{}, nil
	case TagAcquired:
		if err := csm.ExpectArgs("Acquired", args, 1); err != nil {
			return nil, err
		}
		var m Acquired
		if err := cbor.Unmarshal(args[0], &m.Slot); err != nil {
			return nil, fmt.Errorf("Acquired slot: %w", err)
		}
		return m, nil
	case TagRelease:
		if err := csm.ExpectArgs("Release", args, 0); err != nil {
			return nil, err
		}
		return Release{}, nil
	case TagNextTx:
		if err := csm.ExpectArgs("NextTx", args, 0); err != nil {
			return nil, err
		}
		return NextTx{}, nil
	case TagReplyNextTx:
		if err := csm.ExpectArgs("ReplyNextTx", args, 1); err != nil {
			return nil, err
		}
		var tx []byte
		if err := cbor.Unmarshal(args[0], &tx); err != nil {
			return nil, fmt.Errorf("ReplyNextTx tx: %w", err)
		}
		return ReplyNextTx{Tx: Tx(tx)}, nil
	case TagHasTx:
		if err := csm.ExpectArgs("HasTx", args, 1); err != nil {
			return nil, err
		}
		var id []byte
		if err := cbor.Unmarshal(args[0], &id); err != nil {
			return nil, fmt.Errorf("HasTx id: %w", err)
		}
		return HasTx{Id: TxId(id)}, nil
	case TagReplyHasTx:
		if err := csm.ExpectArgs("ReplyHasTx", args, 1); err != nil {
			return nil, err
		}
		var m ReplyHasTx
		if err := cbor.Unmarshal(args[0], &m.Present); err != nil {
			return nil, fmt.Errorf("ReplyHasTx present: %w", err)
		}
		return m, nil
	case TagGetSizes:
		if err := csm.ExpectArgs("GetSizes", args, 0); err != nil {
			return nil, err
		}
		return GetSizes{}, nil
	case TagReplyGetSizes:
		if err := csm.ExpectArgs("ReplyGetSizes", args, 1); err != nil {
			return nil, err
		}
		var m ReplyGetSizes
		if err := cbor.Unmarshal(args[0], &m.Sizes); err != nil {
			return nil, fmt.Errorf("ReplyGetSizes sizes: %w", err)
		}
		return m, nil
	case TagGetMeasures:
		if err := csm.ExpectArgs("GetMeasures", args, 0); err != nil {
			return nil, err
		}
		return GetMeasures{}, nil
	case TagReplyGetMeasures:
		if err := csm.ExpectArgs("ReplyGetMeasures", args, 2); err != nil {
			return nil, err
		}
		var m ReplyGetMeasures
		if err := cbor.Unmarshal(args[0], &m.TxCount); err != nil {
			return nil, fmt.Errorf("ReplyGetMeasures tx count: %w", err)
		}
		if err := cbor.Unmarshal(args[1], &m.Measures); err != nil {
			return nil, fmt.Errorf("ReplyGetMeasures measures: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown localtxmonitor message tag %d", tag)
	}
}

// ClientAcquireRet narrows an incoming message to the reply the node
// may send while Acquiring
func ClientAcquireRet(m Message) (Acquired, bool) {
	if v, ok := m.(Acquired); ok {
		return v, true
	}
	return Acquired{}, false
}
