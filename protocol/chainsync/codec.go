package chainsync

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	csm "github.com/machinefabric/csm-go"
)

// EncodeMessage serializes one chainsync message to its tag-variant
// wire form
func EncodeMessage(m Message) ([]byte, error) {
	switch v := m.(type) {
	case RequestNext:
		return csm.EncodeTagVariant(TagRequestNext)
	case AwaitReply:
		return csm.EncodeTagVariant(TagAwaitReply)
	case RollForward:
		return csm.EncodeTagVariant(TagRollForward, v.Header, v.Tip)
	case RollBackward:
		return csm.EncodeTagVariant(TagRollBackward, v.Point, v.Tip)
	case FindIntersect:
		return csm.EncodeTagVariant(TagFindIntersect, v.Points)
	case IntersectionFound:
		return csm.EncodeTagVariant(TagIntersectionFound, v.Point, v.Tip)
	case IntersectionNotFound:
		return csm.EncodeTagVariant(TagIntersectionNotFound, v.Tip)
	case SyncDone:
		return csm.EncodeTagVariant(TagSyncDone)
	default:
		return nil, fmt.Errorf("unknown chainsync message %T", m)
	}
}

// DecodeMessage parses one CBOR item into a chainsync message
func DecodeMessage(data []byte) (Message, error) {
	tag, args, err := csm.DecodeTagVariant(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagRequestNext:
		if err := csm.ExpectArgs("RequestNext", args, 0); err != nil {
			return nil, err
		}
		return RequestNext{}, nil
	case TagAwaitReply:
		if err := csm.ExpectArgs("AwaitReply", args, 0); err != nil {
			return nil, err
		}
		return AwaitReply{}, nil
	case TagRollForward:
		if err := csm.ExpectArgs("RollForward", args, 2); err != nil {
			return nil, err
		}
		var m RollForward
		if err := cbor.Unmarshal(args[0], &m.Header); err != nil {
			return nil, fmt.Errorf("RollForward header: %w", err)
		}
		if err := cbor.Unmarshal(args[1], &m.Tip); err != nil {
			return nil, fmt.Errorf("RollForward tip: %w", err)
		}
		return m, nil
	case TagRollBackward:
		if err := csm.ExpectArgs("RollBackward", args, 2); err != nil {
			return nil, err
		}
		var m RollBackward
		if err := cbor.Unmarshal(args[0], &m.Point); err != nil {
			return nil, fmt.Errorf("RollBackward point: %w", err)
		}
		if err := cbor.Unmarshal(args[1], &m.Tip); err != nil {
			return nil, fmt.Errorf("RollBackward tip: %w", err)
		}
		return m, nil
	case TagFindIntersect:
		if err := csm.ExpectArgs("FindIntersect", args, 1); err != nil {
			return nil, err
		}
		var m FindIntersect
		if err := cbor.Unmarshal(args[0], &m.Points); err != nil {
			return nil, fmt.Errorf("FindIntersect points: %w", err)
		}
		return m, nil
	case TagIntersectionFound:
		if err := csm.ExpectArgs("IntersectionFound", args, 2); err != nil {
			return nil, err
		}
		var m IntersectionFound
		if err := cbor.Unmarshal(args[0], &m.Point); err != nil {
			return nil, fmt.Errorf("IntersectionFound point: %w", err)
		}
		if err := cbor.Unmarshal(args[1], &m.Tip); err != nil {
			return nil, fmt.Errorf("IntersectionFound tip: %w", err)
		}
		return m, nil
	case TagIntersectionNotFound:
		if err := csm.ExpectArgs("IntersectionNotFound", args, 1); err != nil {
			return nil, err
		}
		var m IntersectionNotFound
		if err := cbor.Unmarshal(args[0], &m.Tip); err != nil {
			return nil, fmt.Errorf("IntersectionNotFound tip: %w", err)
		}
		return m, nil
	case TagSyncDone:
		if err := csm.ExpectArgs("SyncDone", args, 0); err != nil {
			return nil, err
		}
		return SyncDone{}, nil
	default:
		return nil, fmt.Errorf("unknown chainsync message tag %d", tag)
	}
}

// RequestNextRet is the reply sum for a RequestNext exchange
type RequestNextRet interface {
	Message
	isRequestNextRet()
}

func (AwaitReply) isRequestNextRet()   {}
func (RollForward) isRequestNextRet()  {}
func (RollBackward) isRequestNextRet() {}

// ClientRequestNextRet narrows an incoming message to the replies a
// producer may send after RequestNext
func ClientRequestNextRet(m Message) (RequestNextRet, bool) {
	switch v := m.(type) {
	case AwaitReply:
		return v, true
	case RollForward:
		return v, true
	case RollBackward:
		return v, true
	default:
		return nil, false
	}
}

// FindIntersectRet is the reply sum for a FindIntersect exchange
type FindIntersectRet interface {
	Message
	isFindIntersectRet()
}

func (IntersectionFound) isFindIntersectRet()    {}
func (IntersectionNotFound) isFindIntersectRet() {}

// ClientFindIntersectRet narrows an incoming message to the replies a
// producer may send after FindIntersect
func ClientFindIntersectRet(m Message) (FindIntersectRet, bool) {
	switch v := m.(type) {
	case IntersectionFound:
		return v, true
	case IntersectionNotFound:
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

func (RequestNext) isIdleRequest()   {}
func (FindIntersect) isIdleRequest() {}
func (SyncDone) isIdleRequest()      {}

// ServerIdleFilter narrows an incoming message to the requests a client
// may send from Idle
func ServerIdleFilter(m Message) (IdleRequest, bool) {
	switch v := m.(type) {
	case RequestNext:
		return v, true
	case FindIntersect:
		return v, true
	case SyncDone:
		return v, true
	default:
		return nil, false
	}
}
