package csm

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawChannelPopMessage(t *testing.T) {
	rc := newRawChannel(NewId(1), Initiator, 64, make(chan struct{}, 1))

	// nothing buffered
	data, err := rc.popBytes()
	require.NoError(t, err)
	assert.Nil(t, data)

	item, err := cbor.Marshal([]any{uint64(0), "hi"})
	require.NoError(t, err)

	// partial item: still nothing
	rc.pushBytes(item[:2])
	data, err = rc.popBytes()
	require.NoError(t, err)
	assert.Nil(t, data)

	// complete item plus the start of the next
	rc.pushBytes(item[2:])
	rc.pushBytes(item[:3])
	data, err = rc.popBytes()
	require.NoError(t, err)
	assert.Equal(t, item, data)

	// the tail stays buffered for the next message
	rc.pushBytes(item[3:])
	data, err = rc.popBytes()
	require.NoError(t, err)
	assert.Equal(t, item, data)
}

func TestRawChannelInvalidCBOR(t *testing.T) {
	rc := newRawChannel(NewId(1), Initiator, 64, make(chan struct{}, 1))
	rc.pushBytes([]byte{0xff})
	_, err := rc.popBytes()
	assert.ErrorIs(t, err, ErrInvalidCBOR)
}

func TestRawChannelMessageTooBig(t *testing.T) {
	rc := newRawChannel(NewId(1), Initiator, 8, make(chan struct{}, 1))
	// an 8-byte buffer full of an unfinished 20-byte string
	rc.pushBytes([]byte{0x54, 1, 2, 3, 4, 5, 6, 7})
	_, err := rc.popBytes()
	var tooBig *MessageTooBigError
	require.ErrorAs(t, err, &tooBig)
	assert.Equal(t, 8, tooBig.BufferSize)
}

func TestRawChannelPushOverflowReportsShortCount(t *testing.T) {
	rc := newRawChannel(NewId(1), Initiator, 4, make(chan struct{}, 1))
	n := rc.pushBytes([]byte{1, 2, 3, 4, 5})
	assert.Equal(t, 4, n)
}

func TestChannelsBuilderDuplicate(t *testing.T) {
	b := NewChannels()
	_, err := AddInitiator(b, toySpec(NewId(1)))
	require.NoError(t, err)
	_, err = AddResponder(b, toySpec(NewId(1)))
	var dup *DuplicateChannelError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, Id(1), dup.Id)
}

func TestChannelsBuilderFinalizeEmptyPanics(t *testing.T) {
	b := NewChannels()
	assert.Panics(t, func() { b.finalize() })
}

func TestChannelsBuilderDuplex(t *testing.T) {
	b := NewChannels()
	ini, res, err := AddDuplex(b, toySpec(NewId(2)))
	require.NoError(t, err)
	assert.Equal(t, Initiator, ini.Direction())
	assert.Equal(t, Responder, res.Direction())

	chans := b.finalize()
	e := chans.lookup(Id(2))
	require.NotNil(t, e)
	assert.NotNil(t, e.get(Initiator))
	assert.NotNil(t, e.get(Responder))
}
