package csm

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// connectPair builds two handles over an in-memory duplex transport,
// one channel per side for the toy protocol
func connectPair(t *testing.T, id Id) (ini, res *Chan[toyState, testMessage], hi, hr *Handle) {
	t.Helper()
	cConn, sConn := net.Pipe()

	ib := NewChannels()
	ini, err := AddInitiator(ib, toySpec(id))
	require.NoError(t, err)
	hi = NewHandle(cConn, cConn, ib, DefaultHandleConfig())

	rb := NewChannels()
	res, err = AddResponder(rb, toySpec(id))
	require.NoError(t, err)
	hr = NewHandle(sConn, sConn, rb, DefaultHandleConfig())

	t.Cleanup(func() {
		hi.Close()
		hr.Close()
	})
	return ini, res, hi, hr
}

func TestHandleRequestReply(t *testing.T) {
	ctx := testContext(t)
	ini, res, _, _ := connectPair(t, NewId(7))

	done := make(chan error, 1)
	go func() {
		msg, err := res.ReadOne(ctx)
		if err != nil {
			done <- err
			return
		}
		ask := msg.(askMsg)
		done <- res.WriteOne(ctx, tellMsg{Body: []byte{byte(ask.N)}})
	}()

	require.NoError(t, ini.WriteOne(ctx, askMsg{N: 42}))
	reply, err := ini.ReadOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, tellMsg{Body: []byte{42}}, reply)
	require.NoError(t, <-done)

	assert.Equal(t, toyIdle, ini.State())
	assert.Equal(t, toyIdle, res.State())
}

// A message larger than the 16-bit frame payload limit is split into
// many frames and reassembled by the receiver's CBOR boundary probe
func TestHandleLargeMessageSpansFrames(t *testing.T) {
	ctx := testContext(t)
	ini, res, _, _ := connectPair(t, NewId(3))

	body := make([]byte, 200_000)
	rand.New(rand.NewSource(5)).Read(body)

	go func() {
		msg, err := res.ReadOne(ctx)
		if err != nil {
			return
		}
		_ = msg
		_ = res.WriteOne(ctx, tellMsg{Body: body})
	}()

	require.NoError(t, ini.WriteOne(ctx, askMsg{N: 1}))
	reply, err := ini.ReadOne(ctx)
	require.NoError(t, err)
	require.True(t, bytes.Equal(body, reply.(tellMsg).Body))
}

// Sending a message illegal in the current state drops it locally
// without touching the wire or the state
func TestHandleIllegalSendIsDropped(t *testing.T) {
	ctx := testContext(t)
	ini, _, _, _ := connectPair(t, NewId(7))

	require.NoError(t, ini.WriteOne(ctx, tellMsg{Body: []byte{1}}))
	assert.Equal(t, toyIdle, ini.State())
}

// An illegal message from the peer surfaces InvalidStateError without
// advancing the local state
func TestHandleIllegalPeerMessage(t *testing.T) {
	ctx := testContext(t)
	ini, res, _, _ := connectPair(t, NewId(7))

	// force the responder into a state from which Tell is legal for
	// it, while the initiator still sits in idle
	res.ReplaceState(toyBusy)
	require.NoError(t, res.WriteOne(ctx, tellMsg{Body: []byte{9}}))

	_, err := ini.ReadOne(ctx)
	var invalid *InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, toyIdle, invalid.Current)
	assert.Equal(t, toyIdle, ini.State())
}

func TestHandleTerminationUnblocksReaders(t *testing.T) {
	ctx := testContext(t)
	ini, _, _, hr := connectPair(t, NewId(7))

	errCh := make(chan error, 1)
	go func() {
		_, err := ini.ReadOne(ctx)
		errCh <- err
	}()

	// dropping the peer handle closes the transport; the pending read
	// must surface the termination
	hr.Close()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrStreamTerminated)
	case <-time.After(5 * time.Second):
		t.Fatal("pending read did not unblock")
	}
}

func TestHandleInvalidChannelIsFatal(t *testing.T) {
	cConn, sConn := net.Pipe()

	ib := NewChannels()
	_, err := AddInitiator(ib, toySpec(NewId(1)))
	require.NoError(t, err)
	hi := NewHandle(cConn, cConn, ib, DefaultHandleConfig())
	defer hi.Close()

	// peer speaks on a channel the receiver never registered
	rb := NewChannels()
	stray, err := AddInitiator(rb, toySpec(NewId(5)))
	require.NoError(t, err)
	hr := NewHandle(sConn, sConn, rb, DefaultHandleConfig())
	defer hr.Close()

	ctx := testContext(t)
	require.NoError(t, stray.WriteOne(ctx, askMsg{N: 1}))

	require.Eventually(t, func() bool {
		var invalid *InvalidChannelError
		return errors.As(hi.Err(), &invalid)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHandleStatsCount(t *testing.T) {
	ctx := testContext(t)
	ini, res, hi, hr := connectPair(t, NewId(7))

	go func() {
		if _, err := res.ReadOne(ctx); err == nil {
			_ = res.WriteOne(ctx, tellMsg{Body: []byte{1}})
		}
	}()
	require.NoError(t, ini.WriteOne(ctx, askMsg{N: 2}))
	_, err := ini.ReadOne(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, wrote := hi.Stats()
		read, _ := hr.Stats()
		return wrote > 0 && read > 0
	}, 5*time.Second, 10*time.Millisecond)
}

// Two protocols on one connection interleave without crossing over
func TestHandleTwoChannels(t *testing.T) {
	ctx := testContext(t)
	cConn, sConn := net.Pipe()

	ib := NewChannels()
	iniA, err := AddInitiator(ib, toySpec(NewId(2)))
	require.NoError(t, err)
	iniB, err := AddInitiator(ib, toySpec(NewId(4)))
	require.NoError(t, err)
	hi := NewHandle(cConn, cConn, ib, DefaultHandleConfig())
	defer hi.Close()

	rb := NewChannels()
	resA, err := AddResponder(rb, toySpec(NewId(2)))
	require.NoError(t, err)
	resB, err := AddResponder(rb, toySpec(NewId(4)))
	require.NoError(t, err)
	hr := NewHandle(sConn, sConn, rb, DefaultHandleConfig())
	defer hr.Close()

	serve := func(res *Chan[toyState, testMessage], mark byte) {
		for {
			msg, err := res.ReadOne(ctx)
			if err != nil {
				return
			}
			if _, ok := msg.(askMsg); ok {
				if res.WriteOne(ctx, tellMsg{Body: []byte{mark}}) != nil {
					return
				}
			}
		}
	}
	go serve(resA, 0xa)
	go serve(resB, 0xb)

	for i := 0; i < 10; i++ {
		require.NoError(t, iniA.WriteOne(ctx, askMsg{N: uint64(i)}))
		require.NoError(t, iniB.WriteOne(ctx, askMsg{N: uint64(i)}))
		ra, err := iniA.ReadOne(ctx)
		require.NoError(t, err)
		rb, err := iniB.ReadOne(ctx)
		require.NoError(t, err)
		assert.Equal(t, byte(0xa), ra.(tellMsg).Body[0])
		assert.Equal(t, byte(0xb), rb.(tellMsg).Body[0])
	}
}
