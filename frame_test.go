package csm

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		tm := Time(rng.Uint32())
		id := NewId(uint16(rng.Intn(0x8000)))
		dir := Initiator
		if rng.Intn(2) == 1 {
			dir = Responder
		}
		length := uint16(rng.Intn(0x10000))

		h := NewHeader(tm, id, dir, length)
		back := HeaderFromBytes(h.Bytes())

		require.Equal(t, tm, back.Time())
		require.Equal(t, id, back.Id())
		require.Equal(t, dir, back.Direction())
		require.Equal(t, length, back.PayloadLength())
	}
}

func TestHeaderDirectionBits(t *testing.T) {
	h := NewHeader(0, NewId(3), Initiator, 10)
	assert.True(t, h.IsInitiator())
	assert.False(t, h.IsResponder())

	h = NewHeader(0, NewId(3), Responder, 10)
	assert.False(t, h.IsInitiator())
	assert.True(t, h.IsResponder())
}

func TestHeaderWireLayout(t *testing.T) {
	// time=1, id=2, responder, len=3:
	// 00000001 | 8002 | 0003
	h := NewHeader(1, NewId(2), Responder, 3)
	b := h.Bytes()
	assert.Equal(t, [HeaderSize]byte{0, 0, 0, 1, 0x80, 0x02, 0, 3}, b)

	h = NewHeader(1, NewId(2), Initiator, 3)
	b = h.Bytes()
	assert.Equal(t, [HeaderSize]byte{0, 0, 0, 1, 0x00, 0x02, 0, 3}, b)
}

func TestHeaderMaxValues(t *testing.T) {
	h := NewHeader(Time(0xffffffff), NewId(0x7fff), Responder, 0xffff)
	back := HeaderFromBytes(h.Bytes())
	assert.Equal(t, Time(0xffffffff), back.Time())
	assert.Equal(t, Id(0x7fff), back.Id())
	assert.Equal(t, Responder, back.Direction())
	assert.Equal(t, uint16(0xffff), back.PayloadLength())
}

func TestNewIdPanicsOutOfRange(t *testing.T) {
	assert.Panics(t, func() { NewId(0x8000) })
	assert.NotPanics(t, func() { NewId(0x7fff) })
}

func TestDirectionFlip(t *testing.T) {
	assert.Equal(t, Responder, Initiator.Flip())
	assert.Equal(t, Initiator, Responder.Flip())
}
