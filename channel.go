package csm

import "sync"

// sending is the single-slot egress staging area of a channel: the CBOR
// bytes of one message, partially drained into frames by the writer
// task.
type sending struct {
	data []byte
	pos  int
}

// left returns the bytes not yet framed
func (s *sending) left() []byte {
	return s.data[s.pos:]
}

// advance marks n more bytes as framed
func (s *sending) advance(n int) {
	s.pos += n
}

// rawChannel is one directional channel endpoint: the receive buffer fed
// by the demux task and the egress slot drained by the mux task. The
// typed Chan wrapper owns the protocol state; rawChannel only moves
// bytes.
//
// mu guards recv, pending and terminated. readable and slotFree are
// capacity-1 signal channels; done is closed exactly once on
// termination and unblocks every pending reader and writer.
type rawChannel struct {
	id        Id
	direction Direction

	mu         sync.Mutex
	recv       *Buf
	pending    *sending
	terminated bool

	readable  chan struct{}
	slotFree  chan struct{}
	done      chan struct{}
	muxNotify chan struct{}
}

func newRawChannel(id Id, direction Direction, maxMessageSize int, muxNotify chan struct{}) *rawChannel {
	return &rawChannel{
		id:        id,
		direction: direction,
		recv:      NewBuf(maxMessageSize),
		readable:  make(chan struct{}, 1),
		slotFree:  make(chan struct{}, 1),
		done:      make(chan struct{}),
		muxNotify: muxNotify,
	}
}

// signal posts a non-blocking wakeup on a capacity-1 channel
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// terminate flips the channel's terminated flag and unblocks all
// waiters. Safe to call more than once.
func (rc *rawChannel) terminate() {
	rc.mu.Lock()
	already := rc.terminated
	rc.terminated = true
	rc.mu.Unlock()
	if !already {
		close(rc.done)
	}
}

func (rc *rawChannel) isTerminated() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.terminated
}

// pushBytes appends a payload fragment from the demux task, returning
// how much fit. A short count means the receive buffer overflowed.
func (rc *rawChannel) pushBytes(data []byte) int {
	rc.mu.Lock()
	n := rc.recv.Append(data)
	rc.mu.Unlock()
	signal(rc.readable)
	return n
}

// popBytes extracts the bytes of one complete CBOR message from the
// receive buffer. Returns (nil, nil) when no complete item is buffered
// yet. Returns ErrInvalidCBOR for garbage and MessageTooBigError when
// the buffer is full without containing a complete item.
func (rc *rawChannel) popBytes() ([]byte, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	n, status := ProbeCBOR(rc.recv.Available())
	switch status {
	case ProbeInvalid:
		return nil, ErrInvalidCBOR
	case ProbeNeedMore:
		if rc.recv.Free() == 0 {
			return nil, &MessageTooBigError{BufferSize: rc.recv.Capacity()}
		}
		return nil, nil
	default:
		data := make([]byte, n)
		copy(data, rc.recv.Available()[:n])
		rc.recv.Consume(n)
		return data, nil
	}
}

// lockPending hands the egress slot to the mux task under the channel
// lock. The returned release func either keeps the slot occupied
// (stillPending) or clears it and wakes a blocked writer.
func (rc *rawChannel) lockPending() (*sending, func(stillPending bool)) {
	rc.mu.Lock()
	snd := rc.pending
	return snd, func(stillPending bool) {
		if !stillPending {
			rc.pending = nil
		}
		rc.mu.Unlock()
		if !stillPending && snd != nil {
			signal(rc.slotFree)
		}
	}
}
