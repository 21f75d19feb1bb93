package n2c

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	csm "github.com/machinefabric/csm-go"
)

func TestVersionCatalogue(t *testing.T) {
	for v := uint64(32784); v <= 32788; v++ {
		_, ok := VersionFromInt(v)
		assert.True(t, ok, "version %d", v)
	}
	_, ok := VersionFromInt(32783)
	assert.False(t, ok)
	_, ok = VersionFromInt(32789)
	assert.False(t, ok)
	// node-to-node numbers are not valid here
	_, ok = VersionFromInt(14)
	assert.False(t, ok)
}

func TestNodeDataShape(t *testing.T) {
	d := NodeData{Magic: 1, Query: true}
	data, err := d.MarshalCBOR()
	require.NoError(t, err)
	// [1, true]
	assert.Equal(t, []byte{0x82, 0x01, 0xf5}, data)

	var back NodeData
	require.NoError(t, back.UnmarshalCBOR(data))
	assert.Equal(t, d, back)
}

func TestMessagesRoundTrip(t *testing.T) {
	preprod := NodeData{Magic: 1}
	msgs := []Message{
		ProposeVersions{Proposal: VersionProposal{{Version: V20, Data: preprod}}},
		AcceptVersion{Version: V20, Data: preprod},
		Refuse{Reason: VersionMismatch{Versions: []Version{V16, V17}}},
		Refuse{Reason: Refused{Version: V18, Message: "no"}},
		QueryReply{Proposal: VersionProposal{{Version: V16, Data: preprod}, {Version: V17, Data: preprod}}},
	}
	for _, m := range msgs {
		data, err := EncodeMessage(m)
		require.NoError(t, err)
		back, err := DecodeMessage(data)
		require.NoError(t, err)
		assert.Equal(t, m, back, "%T", m)
	}
}

func TestTransitionsMirrorN2N(t *testing.T) {
	next, ok := Machine().Transition(StatePropose, TagProposeVersions)
	require.True(t, ok)
	assert.Equal(t, StateConfirm, next)

	_, ok = Machine().Transition(StateDone, TagRefuse)
	assert.False(t, ok)

	d, ok := Machine().Sender(StateConfirm)
	require.True(t, ok)
	assert.Equal(t, csm.Responder, d)
}
