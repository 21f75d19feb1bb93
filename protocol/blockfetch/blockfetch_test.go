package blockfetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	csm "github.com/machinefabric/csm-go"
	"github.com/machinefabric/csm-go/protocol/chainsync"
)

var allStates = []State{StateIdle, StateBusy, StateStreaming, StateDone}

func sampleMessages() []Message {
	return []Message{
		RequestRange{Start: chainsync.PointOrigin, End: chainsync.NewPoint(5, chainsync.Hash{1})},
		ClientDone{},
		StartBatch{},
		NoBlocks{},
		Block{Body: csm.WrappedCBOR{0x82, 0x01, 0x02}},
		BatchDone{},
	}
}

func TestTransitionMatrix(t *testing.T) {
	legal := map[State]map[uint64]State{
		StateIdle: {
			TagRequestRange: StateBusy,
			TagClientDone:   StateDone,
		},
		StateBusy: {
			TagNoBlocks:   StateIdle,
			TagStartBatch: StateStreaming,
		},
		StateStreaming: {
			TagBlock:     StateStreaming,
			TagBatchDone: StateIdle,
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

func TestStreamingLoopsOnBlock(t *testing.T) {
	s := StateStreaming
	for i := 0; i < 5; i++ {
		next, ok := Machine().Transition(s, TagBlock)
		require.True(t, ok)
		s = next
	}
	assert.Equal(t, StateStreaming, s)
	next, ok := Machine().Transition(s, TagBatchDone)
	require.True(t, ok)
	assert.Equal(t, StateIdle, next)
}

func TestSenderRoles(t *testing.T) {
	d, ok := Machine().Sender(StateIdle)
	require.True(t, ok)
	assert.Equal(t, csm.Initiator, d)

	for _, s := range []State{StateBusy, StateStreaming} {
		d, ok := Machine().Sender(s)
		require.True(t, ok)
		assert.Equal(t, csm.Responder, d)
	}
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

func TestBlockBodyIsTagged(t *testing.T) {
	data, err := EncodeMessage(Block{Body: csm.WrappedCBOR{0x80}})
	require.NoError(t, err)
	// [4, 24(h'80')]
	assert.Equal(t, []byte{0x82, 0x04, 0xd8, 0x18, 0x41, 0x80}, data)
}

func TestFilters(t *testing.T) {
	_, ok := ClientRequestRangeRet(NoBlocks{})
	assert.True(t, ok)
	_, ok = ClientRequestRangeRet(StartBatch{})
	assert.True(t, ok)
	_, ok = ClientRequestRangeRet(Block{})
	assert.False(t, ok)

	_, ok = ServerIdleFilter(RequestRange{})
	assert.True(t, ok)
	_, ok = ServerIdleFilter(StartBatch{})
	assert.False(t, ok)
}

func TestSpecShape(t *testing.T) {
	s := Spec()
	assert.Equal(t, csm.Id(3), s.Number)
	assert.Equal(t, 2_560_000, s.MaxMessageSize)
	assert.Equal(t, StateIdle, s.Initial)
}
