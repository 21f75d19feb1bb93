package csm

import "sync/atomic"

// DemuxEventKind discriminates the events produced by Demux.Ingress
type DemuxEventKind uint8

const (
	// EventContinue means bytes were absorbed with nothing to report
	EventContinue DemuxEventKind = iota
	// EventHeader means a full frame header has been parsed
	EventHeader
	// EventData carries a payload fragment to append to the
	// destination channel
	EventData
)

// DemuxEvent is one parsing event. For EventHeader and EventData the
// Header field identifies the sending channel endpoint; the receiving
// endpoint is (Header.Id(), Header.Direction().Flip()). For EventData,
// Data is a sub-slice of the Ingress input and Finished reports whether
// this fragment completes the frame's payload.
type DemuxEvent struct {
	Kind     DemuxEventKind
	Header   Header
	Finished bool
	Data     []byte
}

// Demux parses the inbound byte stream into frame events. It holds at
// most one partial header or one partial payload of state; payload bytes
// are handed back to the caller rather than buffered.
type Demux struct {
	// parsing state: collecting header bytes, or draining a payload
	header    [HeaderSize]byte
	headerLen int
	inPayload bool
	current   Header
	remaining int

	bytesRead atomic.Uint64
}

// NewDemux creates a Demux awaiting its first header
func NewDemux() *Demux {
	return &Demux{}
}

// Ingress consumes a prefix of data and returns the number of bytes
// consumed together with at most one event. Callers feed the same data
// repeatedly, advancing by the consumed count, until nothing is left.
func (d *Demux) Ingress(data []byte) (int, DemuxEvent) {
	n, ev := d.process(data)
	d.bytesRead.Add(uint64(n))
	return n, ev
}

// BytesRead returns the total bytes consumed by Ingress
func (d *Demux) BytesRead() uint64 {
	return d.bytesRead.Load()
}

func (d *Demux) process(data []byte) (int, DemuxEvent) {
	if len(data) == 0 {
		return 0, DemuxEvent{Kind: EventContinue}
	}

	if !d.inPayload {
		take := copy(d.header[d.headerLen:], data)
		d.headerLen += take
		if d.headerLen < HeaderSize {
			return take, DemuxEvent{Kind: EventContinue}
		}
		header := HeaderFromBytes(d.header)
		d.headerLen = 0
		if header.PayloadLength() == 0 {
			// frame with no content, go straight back to header parsing
			return take, DemuxEvent{Kind: EventHeader, Header: header}
		}
		d.inPayload = true
		d.current = header
		d.remaining = int(header.PayloadLength())
		return take, DemuxEvent{Kind: EventHeader, Header: header}
	}

	take := len(data)
	if take > d.remaining {
		take = d.remaining
	}
	finished := take == d.remaining
	ev := DemuxEvent{Kind: EventData, Header: d.current, Finished: finished, Data: data[:take]}
	if finished {
		d.inPayload = false
		d.remaining = 0
	} else {
		d.remaining -= take
	}
	return take, ev
}
