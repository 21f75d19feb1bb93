package csm

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultReadChunk is how many bytes the reader task pulls from the
// transport per read (16 KiB)
const DefaultReadChunk = 16_384

// payloadMinimum is the smallest payload worth framing; below
// HeaderSize+payloadMinimum of mux space the writer flushes first
const payloadMinimum = 4

// HandleConfig tunes a connection handle. The zero value selects the
// defaults.
type HandleConfig struct {
	// MuxBufferSize is the outbound frame buffer capacity
	// (default 16 KiB)
	MuxBufferSize int
	// ReadChunk is the transport read size (default 16 KiB)
	ReadChunk int
	// Logger receives the handle's records; nil means the channels
	// builder's logger
	Logger *slog.Logger
}

// DefaultHandleConfig returns the default tuning
func DefaultHandleConfig() HandleConfig {
	return HandleConfig{
		MuxBufferSize: DefaultMuxBufferSize,
		ReadChunk:     DefaultReadChunk,
	}
}

// Handle owns a connection's two I/O tasks and its finalized channel
// directory. It is created over any bidirectional byte-stream pair; the
// transport itself (TCP, Unix socket, WebSocket tunnel) is the caller's
// concern.
//
// The writer task drains per-channel egress slots into the mux buffer
// and pushes it to the transport; the reader task feeds transport bytes
// through the demux into per-channel receive buffers. Either task
// failing terminates every channel, surfacing ErrStreamTerminated to
// pending readers.
type Handle struct {
	id       uuid.UUID
	channels *Channels
	mux      *Mux
	demux    *Demux
	logger   *slog.Logger

	r io.Reader
	w io.Writer

	muxNotify chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	errMu sync.Mutex
	err   error

	framesRead    atomic.Uint64
	framesWritten atomic.Uint64
}

// NewHandle finalizes the channel directory and spawns the reader and
// writer tasks over the given stream halves. The builder must not be
// reused afterwards.
func NewHandle(r io.Reader, w io.Writer, b *ChannelsBuilder, cfg HandleConfig) *Handle {
	if cfg.MuxBufferSize <= 0 {
		cfg.MuxBufferSize = DefaultMuxBufferSize
	}
	if cfg.ReadChunk <= 0 {
		cfg.ReadChunk = DefaultReadChunk
	}
	logger := cfg.Logger
	if logger == nil {
		logger = b.logger
	}
	h := &Handle{
		id:        uuid.New(),
		channels:  b.finalize(),
		mux:       NewMux(cfg.MuxBufferSize),
		demux:     NewDemux(),
		r:         r,
		w:         w,
		muxNotify: b.muxNotify,
		closed:    make(chan struct{}),
	}
	h.logger = logger.With("conn", h.id.String())

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		h.writeLoop()
	}()
	go func() {
		defer h.wg.Done()
		h.readLoop(cfg.ReadChunk)
	}()
	return h
}

// Stats returns the total bytes read from and written to the transport
// framing layer, in that order
func (h *Handle) Stats() (bytesRead, bytesWritten uint64) {
	return h.demux.BytesRead(), h.mux.BytesWritten()
}

// Err returns the first fatal error recorded by either task, or nil
func (h *Handle) Err() error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return h.err
}

// Close tears the handle down: both tasks stop, every channel is
// terminated, and the stream halves are closed when they implement
// io.Closer. Pending reads surface ErrStreamTerminated.
func (h *Handle) Close() {
	h.fail(nil)
	h.wg.Wait()
}

// fail stops both tasks and terminates every channel. Only the error
// that caused the teardown is recorded; transport errors provoked by
// the teardown itself are not.
func (h *Handle) fail(err error) {
	h.closeOnce.Do(func() {
		if err != nil {
			h.errMu.Lock()
			h.err = err
			h.errMu.Unlock()
		}
		close(h.closed)
		if c, ok := h.r.(io.Closer); ok {
			c.Close()
		}
		if c, ok := h.w.(io.Closer); ok && any(h.w) != any(h.r) {
			c.Close()
		}
		h.channels.terminateAll()
	})
}

type muxResult uint8

const (
	muxIdle muxResult = iota
	muxWritten
	muxFull
)

// muxChannel pulls at most one frame's worth of bytes from the
// channel's egress slot into the mux buffer
func (h *Handle) muxChannel(id Id, rc *rawChannel) muxResult {
	writable := h.mux.Free()
	// not worth framing into a sliver of space
	if writable < HeaderSize+payloadMinimum {
		return muxFull
	}
	snd, release := rc.lockPending()
	if snd == nil {
		release(true)
		return muxIdle
	}
	maxPayload := writable - HeaderSize
	if maxPayload > 0xffff {
		maxPayload = 0xffff
	}
	chunk := snd.left()
	if len(chunk) > maxPayload {
		chunk = chunk[:maxPayload]
	}
	if err := h.mux.Egress(id, rc.direction, chunk); err == nil {
		snd.advance(len(chunk))
		h.framesWritten.Add(1)
	}
	release(len(snd.left()) > 0)
	return muxWritten
}

// writeLoop is the writer task: fill the mux from the channels, flush
// it to the transport, sleep when nothing is pending. Channels are
// visited round-robin with a cursor advancing every tick so no protocol
// id gets preferential access to the outbound window.
func (h *Handle) writeLoop() {
	cursor := 0
	ids := h.channels.ids
	for {
		full := false
		for i := 0; i < len(ids) && !full; i++ {
			id := ids[(cursor+i)%len(ids)]
			e := h.channels.lookup(id)
			for _, rc := range [2]*rawChannel{e.initiator, e.responder} {
				if rc == nil {
					continue
				}
				if h.muxChannel(id, rc) == muxFull {
					full = true
					break
				}
			}
		}
		if len(ids) > 0 {
			cursor = (cursor + 1) % len(ids)
		}

		work := h.mux.Work()
		if len(work) > 0 {
			n, err := h.w.Write(work)
			if n > 0 {
				h.mux.Consume(n)
			}
			if err != nil {
				h.logger.Debug("writer task stopping", "error", err)
				h.fail(fmt.Errorf("transport write: %w", err))
				return
			}
		} else {
			select {
			case <-h.muxNotify:
			case <-h.closed:
				return
			}
		}
	}
}

// readLoop is the reader task: read transport bytes, run them through
// the demux, dispatch payload fragments to the channel named by the
// header's id and the opposite of the header's direction, and wake
// that channel's reader
func (h *Handle) readLoop(chunk int) {
	buf := make([]byte, chunk)
	for {
		select {
		case <-h.closed:
			return
		default:
		}
		n, err := h.r.Read(buf)
		if n > 0 {
			if derr := h.dispatch(buf[:n]); derr != nil {
				h.logger.Debug("reader task stopping", "error", derr)
				h.fail(derr)
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				// clean close: terminate channels with no fatal error
				h.fail(nil)
				return
			}
			h.logger.Debug("reader task stopping", "error", err)
			h.fail(fmt.Errorf("transport read: %w", err))
			return
		}
	}
}

// dispatch feeds one transport read through the demux
func (h *Handle) dispatch(data []byte) error {
	for len(data) > 0 {
		consumed, ev := h.demux.Ingress(data)
		switch ev.Kind {
		case EventContinue:
		case EventHeader:
			dir := ev.Header.Direction().Flip()
			e := h.channels.lookup(ev.Header.Id())
			if e == nil || e.get(dir) == nil {
				return &InvalidChannelError{Id: ev.Header.Id(), Direction: dir}
			}
			h.framesRead.Add(1)
		case EventData:
			// header dispatch guaranteed the endpoint exists
			dir := ev.Header.Direction().Flip()
			rc := h.channels.lookup(ev.Header.Id()).get(dir)
			if appended := rc.pushBytes(ev.Data); appended < len(ev.Data) {
				// TODO back-pressure: stall this loop until the
				// channel drains instead of tearing the connection
				return &FullChannelError{Id: ev.Header.Id(), Direction: dir}
			}
		}
		data = data[consumed:]
	}
	return nil
}
