package csm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// A minimal request/reply protocol used by the channel and handle
// tests: the initiator sends Ask, the responder answers Tell, and the
// initiator may Stop from idle.

const (
	tagAsk uint64 = iota
	tagTell
	tagStop
)

type testMessage interface {
	Message
	isTestMessage()
}

type askMsg struct{ N uint64 }

type tellMsg struct{ Body []byte }

type stopMsg struct{}

func (askMsg) Tag() uint64  { return tagAsk }
func (tellMsg) Tag() uint64 { return tagTell }
func (stopMsg) Tag() uint64 { return tagStop }

func (askMsg) isTestMessage()  {}
func (tellMsg) isTestMessage() {}
func (stopMsg) isTestMessage() {}

func encodeTestMessage(m testMessage) ([]byte, error) {
	switch v := m.(type) {
	case askMsg:
		return EncodeTagVariant(tagAsk, v.N)
	case tellMsg:
		return EncodeTagVariant(tagTell, v.Body)
	case stopMsg:
		return EncodeTagVariant(tagStop)
	default:
		return nil, fmt.Errorf("unknown test message %T", m)
	}
}

func decodeTestMessage(data []byte) (testMessage, error) {
	tag, args, err := DecodeTagVariant(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagAsk:
		var m askMsg
		if err := cbor.Unmarshal(args[0], &m.N); err != nil {
			return nil, err
		}
		return m, nil
	case tagTell:
		var m tellMsg
		if err := cbor.Unmarshal(args[0], &m.Body); err != nil {
			return nil, err
		}
		return m, nil
	case tagStop:
		return stopMsg{}, nil
	default:
		return nil, fmt.Errorf("unknown test message tag %d", tag)
	}
}

func toySpecSized(id Id, maxSize int) ProtocolSpec[toyState, testMessage] {
	return ProtocolSpec[toyState, testMessage]{
		Name:           "test-proto",
		Number:         id,
		MaxMessageSize: maxSize,
		Initial:        toyIdle,
		Machine: NewMachine([]Rule[toyState]{
			{From: toyIdle, Tag: tagAsk, To: toyBusy},
			{From: toyBusy, Tag: tagTell, To: toyIdle},
			{From: toyIdle, Tag: tagStop, To: toyDone},
		}, map[uint64]Direction{
			tagAsk:  Initiator,
			tagTell: Responder,
			tagStop: Initiator,
		}),
		Encode: encodeTestMessage,
		Decode: decodeTestMessage,
	}
}

func toySpec(id Id) ProtocolSpec[toyState, testMessage] {
	return toySpecSized(id, 1<<20)
}
