package localtxsubmission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	csm "github.com/machinefabric/csm-go"
)

var allStates = []State{StateIdle, StateBusy, StateDone}

func sampleMessages() []Message {
	return []Message{
		SubmitTx{Tx: Tx{0xaa, 0xbb}},
		AcceptTx{},
		RejectTx{Reason: 42},
		Done{},
	}
}

func TestTransitionMatrix(t *testing.T) {
	legal := map[State]map[uint64]State{
		StateIdle: {
			TagSubmitTx: StateBusy,
			TagDone:     StateDone,
		},
		StateBusy: {
			TagAcceptTx: StateIdle,
			TagRejectTx: StateIdle,
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

func TestSenderRoles(t *testing.T) {
	d, ok := Machine().Sender(StateIdle)
	require.True(t, ok)
	assert.Equal(t, csm.Initiator, d)
	d, ok = Machine().Sender(StateBusy)
	require.True(t, ok)
	assert.Equal(t, csm.Responder, d)
	_, ok = Machine().Sender(StateDone)
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

func TestSubmitTxWireForm(t *testing.T) {
	data, err := EncodeMessage(SubmitTx{Tx: Tx{0x01, 0x02}})
	require.NoError(t, err)
	// [0, h'0102']
	assert.Equal(t, []byte{0x82, 0x00, 0x42, 0x01, 0x02}, data)
}

func TestFilters(t *testing.T) {
	_, ok := ClientSubmitTxRet(AcceptTx{})
	assert.True(t, ok)
	_, ok = ClientSubmitTxRet(RejectTx{})
	assert.True(t, ok)
	_, ok = ClientSubmitTxRet(SubmitTx{})
	assert.False(t, ok)
}

func TestSpecShape(t *testing.T) {
	s := Spec()
	assert.Equal(t, csm.Id(6), s.Number)
	assert.Equal(t, StateIdle, s.Initial)
}
