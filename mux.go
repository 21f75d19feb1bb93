package csm

import "sync/atomic"

// DefaultMuxBufferSize is the default capacity of the outbound frame
// buffer (16 KiB)
const DefaultMuxBufferSize = 16_384

// Mux serializes egress frames from many channels into one outbound
// byte window. It is owned by the connection's writer task and is not
// safe for concurrent use.
type Mux struct {
	buffer *Buf

	bytesWritten atomic.Uint64
}

// NewMux creates a Mux with the given outbound buffer capacity
func NewMux(size int) *Mux {
	return &Mux{buffer: NewBuf(size)}
}

// Egress appends one frame (header plus payload) to the outbound
// buffer, all or nothing. Returns ErrMuxFull when the buffer has no room
// for the whole frame (the caller retries after Consume), and
// ErrPayloadTooLarge when the payload exceeds the 16-bit frame length.
func (m *Mux) Egress(id Id, direction Direction, payload []byte) error {
	if len(payload) > 0xffff {
		return ErrPayloadTooLarge
	}
	header := NewHeader(TimeNow(), id, direction, uint16(len(payload)))
	hb := header.Bytes()
	if !m.buffer.AppendAtomic2(hb[:], payload) {
		return ErrMuxFull
	}
	m.bytesWritten.Add(uint64(HeaderSize + len(payload)))
	return nil
}

// Work returns the outbound bytes pending transport write
func (m *Mux) Work() []byte {
	return m.buffer.Available()
}

// Free returns how many more bytes the outbound buffer can take
func (m *Mux) Free() int {
	return m.buffer.Free()
}

// Consume drops the first n outbound bytes after the transport reported
// them written
func (m *Mux) Consume(n int) {
	m.buffer.Consume(n)
}

// BytesWritten returns the total bytes accepted by Egress, headers
// included
func (m *Mux) BytesWritten() uint64 {
	return m.bytesWritten.Load()
}
