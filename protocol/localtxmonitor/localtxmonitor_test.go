package localtxmonitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	csm "github.com/machinefabric/csm-go"
)

var allStates = []State{
	StateIdle, StateAcquiring, StateAcquired,
	StateBusyNextTx, StateBusyHasTx, StateBusyGetSizes, StateBusyGetMeasures,
	StateDone,
}

func sampleMessages() []Message {
	return []Message{
		Done{},
		Acquire{},
		Acquired{Slot: 1234},
		Release{},
		NextTx{},
		ReplyNextTx{Tx: Tx{0x01}},
		HasTx{Id: TxId{0x02}},
		ReplyHasTx{Present: true},
		GetSizes{},
		ReplyGetSizes{Sizes: Sizes{Capacity: 100, Size: 10, NumberOfTxs: 3}},
		GetMeasures{},
		ReplyGetMeasures{TxCount: 3, Measures: Measures{{Name: "bytes", Usage: 10, Capacity: 100}}},
	}
}

func TestWireTagsSkipFour(t *testing.T) {
	assert.Equal(t, uint64(3), TagRelease)
	assert.Equal(t, uint64(5), TagNextTx)
	for _, m := range sampleMessages() {
		assert.NotEqual(t, uint64(4), m.Tag(), "%T", m)
	}
}

func TestTransitionMatrix(t *testing.T) {
	legal := map[State]map[uint64]State{
		StateIdle: {
			TagAcquire: StateAcquiring,
			TagDone:    StateDone,
		},
		StateAcquiring: {TagAcquired: StateAcquired},
		StateAcquired: {
			TagRelease:     StateIdle,
			TagNextTx:      StateBusyNextTx,
			TagHasTx:       StateBusyHasTx,
			TagGetSizes:    StateBusyGetSizes,
			TagGetMeasures: StateBusyGetMeasures,
		},
		StateBusyNextTx:      {TagReplyNextTx: StateAcquired},
		StateBusyHasTx:       {TagReplyHasTx: StateAcquired},
		StateBusyGetSizes:    {TagReplyGetSizes: StateAcquired},
		StateBusyGetMeasures: {TagReplyGetMeasures: StateAcquired},
		StateDone:            {},
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

func TestSenderRoles(t *testing.T) {
	initiatorStates := []State{StateIdle, StateAcquired}
	for _, s := range initiatorStates {
		d, ok := Machine().Sender(s)
		require.True(t, ok)
		assert.Equal(t, csm.Initiator, d, "state %s", s)
	}
	responderStates := []State{StateAcquiring, StateBusyNextTx, StateBusyHasTx, StateBusyGetSizes, StateBusyGetMeasures}
	for _, s := range responderStates {
		d, ok := Machine().Sender(s)
		require.True(t, ok)
		assert.Equal(t, csm.Responder, d, "state %s", s)
	}
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

func TestUnknownTagFourRejected(t *testing.T) {
	_, err := DecodeMessage([]byte{0x81, 0x04})
	assert.Error(t, err)
}

func TestSizesWireForm(t *testing.T) {
	s := Sizes{Capacity: 1, Size: 2, NumberOfTxs: 3}
	data, err := s.MarshalCBOR()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x83, 0x01, 0x02, 0x03}, data)
}

func TestMeasuresRoundTrip(t *testing.T) {
	ms := Measures{
		{Name: "bytes", Usage: 10, Capacity: 100},
		{Name: "count", Usage: 2, Capacity: 5},
	}
	data, err := ms.MarshalCBOR()
	require.NoError(t, err)
	var back Measures
	require.NoError(t, back.UnmarshalCBOR(data))
	assert.Equal(t, ms, back)
}

func TestSpecShape(t *testing.T) {
	s := Spec()
	assert.Equal(t, csm.Id(9), s.Number)
	assert.Equal(t, StateIdle, s.Initial)
}
