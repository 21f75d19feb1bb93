package chainsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	csm "github.com/machinefabric/csm-go"
)

var allStates = []State{StateIdle, StateIntersect, StateCanAwait, StateMustReply, StateDone}

func sampleMessages() []Message {
	tip := Tip{Point: NewPoint(42, Hash{1}), BlockNumber: 7}
	return []Message{
		RequestNext{},
		AwaitReply{},
		RollForward{Header: csm.WrappedCBOR{0x80}, Tip: tip},
		RollBackward{Point: PointOrigin, Tip: tip},
		FindIntersect{Points: []Point{PointOrigin, NewPoint(1, Hash{2})}},
		IntersectionFound{Point: NewPoint(1, Hash{2}), Tip: tip},
		IntersectionNotFound{Tip: tip},
		SyncDone{},
	}
}

// The full (state x message) matrix agrees with the declared relation
func TestTransitionMatrix(t *testing.T) {
	legal := map[State]map[uint64]State{
		StateIdle: {
			TagRequestNext:   StateCanAwait,
			TagFindIntersect: StateIntersect,
			TagSyncDone:      StateDone,
		},
		StateCanAwait: {
			TagAwaitReply:   StateMustReply,
			TagRollForward:  StateIdle,
			TagRollBackward: StateIdle,
		},
		StateMustReply: {
			TagRollForward:  StateIdle,
			TagRollBackward: StateIdle,
		},
		StateIntersect: {
			TagIntersectionFound:    StateIdle,
			TagIntersectionNotFound: StateIdle,
		},
		StateDone: {},
	}

	for _, s := range allStates {
		for _, m := range sampleMessages() {
			next, ok := Machine().Transition(s, m.Tag())
			want, legalPair := legal[s][m.Tag()]
			require.Equal(t, legalPair, ok, "state %s tag %d", s, m.Tag())
			if legalPair {
				assert.Equal(t, want, next)
			}
		}
	}
}

// Whenever a transition exists, the state's speaking side matches the
// message's sender role
func TestSenderRoles(t *testing.T) {
	for _, s := range allStates {
		for _, m := range sampleMessages() {
			if _, ok := Machine().Transition(s, m.Tag()); !ok {
				continue
			}
			d, ok := Machine().Sender(s)
			require.True(t, ok)
			assert.Equal(t, roles[m.Tag()], d, "state %s tag %d", s, m.Tag())
		}
	}
}

func TestDoneIsTerminal(t *testing.T) {
	_, ok := Machine().Sender(StateDone)
	assert.False(t, ok)
}

func TestMessageCodecRoundTrip(t *testing.T) {
	for _, m := range sampleMessages() {
		data, err := EncodeMessage(m)
		require.NoError(t, err)
		back, err := DecodeMessage(data)
		require.NoError(t, err)
		assert.Equal(t, m, back, "%T", m)
	}
}

func TestRequestNextWireForm(t *testing.T) {
	data, err := EncodeMessage(RequestNext{})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x81, 0x00}, data)
}

func TestPointWireForms(t *testing.T) {
	origin, err := PointOrigin.MarshalCBOR()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x80}, origin)

	p := NewPoint(5, Hash{0xaa})
	data, err := p.MarshalCBOR()
	require.NoError(t, err)
	// [5, h'aa00...'(32 bytes)]
	assert.Equal(t, byte(0x82), data[0])
	assert.Equal(t, byte(0x05), data[1])
	assert.Equal(t, byte(0x58), data[2]) // bstr, 1-byte length
	assert.Equal(t, byte(32), data[3])
	assert.Equal(t, byte(0xaa), data[4])

	var back Point
	require.NoError(t, back.UnmarshalCBOR(data))
	assert.Equal(t, p, back)
	assert.False(t, back.IsOrigin())
}

func TestPointRejectsBadLengths(t *testing.T) {
	var p Point
	// array of length 1
	assert.Error(t, p.UnmarshalCBOR([]byte{0x81, 0x00}))
	// hash of the wrong size
	assert.Error(t, p.UnmarshalCBOR([]byte{0x82, 0x00, 0x41, 0xaa}))
}

func TestTipRoundTrip(t *testing.T) {
	tip := Tip{Point: NewPoint(9, Hash{3}), BlockNumber: 1000}
	data, err := tip.MarshalCBOR()
	require.NoError(t, err)
	var back Tip
	require.NoError(t, back.UnmarshalCBOR(data))
	assert.Equal(t, tip, back)
}

func TestRollForwardCarriesOpaqueHeader(t *testing.T) {
	hdr := csm.WrappedCBOR{0x83, 0x01, 0x02, 0x03}
	data, err := EncodeMessage(RollForward{Header: hdr, Tip: TipOrigin})
	require.NoError(t, err)
	back, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, hdr, back.(RollForward).Header)
}

func TestFilters(t *testing.T) {
	_, ok := ClientFindIntersectRet(IntersectionFound{})
	assert.True(t, ok)
	_, ok = ClientFindIntersectRet(RollForward{})
	assert.False(t, ok)

	_, ok = ClientRequestNextRet(AwaitReply{})
	assert.True(t, ok)
	_, ok = ClientRequestNextRet(IntersectionFound{})
	assert.False(t, ok)

	_, ok = ServerIdleFilter(FindIntersect{})
	assert.True(t, ok)
	_, ok = ServerIdleFilter(AwaitReply{})
	assert.False(t, ok)
}

func TestSpecNumbers(t *testing.T) {
	assert.Equal(t, csm.Id(2), Spec().Number)
	assert.Equal(t, csm.Id(5), SpecN2C().Number)
	assert.Equal(t, MaxMessageSize, Spec().MaxMessageSize)
}
