package csm

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagVariantRoundTrip(t *testing.T) {
	data, err := EncodeTagVariant(3, uint64(7), "x")
	require.NoError(t, err)

	tag, args, err := DecodeTagVariant(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), tag)
	require.Len(t, args, 2)

	var n uint64
	require.NoError(t, cbor.Unmarshal(args[0], &n))
	assert.Equal(t, uint64(7), n)
	var s string
	require.NoError(t, cbor.Unmarshal(args[1], &s))
	assert.Equal(t, "x", s)
}

func TestTagVariantNoArgsWireForm(t *testing.T) {
	data, err := EncodeTagVariant(0)
	require.NoError(t, err)
	// [0] encodes as 81 00
	assert.Equal(t, []byte{0x81, 0x00}, data)
}

func TestDecodeTagVariantRejectsNonArray(t *testing.T) {
	data, err := cbor.Marshal("not an array")
	require.NoError(t, err)
	_, _, err = DecodeTagVariant(data)
	assert.Error(t, err)

	empty, err := cbor.Marshal([]any{})
	require.NoError(t, err)
	_, _, err = DecodeTagVariant(empty)
	assert.Error(t, err)
}

func TestWrappedCBORRoundTrip(t *testing.T) {
	inner, err := cbor.Marshal([]any{uint64(1), "block"})
	require.NoError(t, err)

	wrapped, err := cbor.Marshal(WrappedCBOR(inner))
	require.NoError(t, err)
	// tag 24 head
	assert.Equal(t, byte(0xd8), wrapped[0])
	assert.Equal(t, byte(24), wrapped[1])

	var back WrappedCBOR
	require.NoError(t, cbor.Unmarshal(wrapped, &back))
	assert.Equal(t, inner, []byte(back))
}

func TestWrappedCBORRejectsWrongTag(t *testing.T) {
	data, err := cbor.Marshal(cbor.Tag{Number: 30, Content: []byte{1}})
	require.NoError(t, err)
	var w WrappedCBOR
	assert.Error(t, cbor.Unmarshal(data, &w))
}
