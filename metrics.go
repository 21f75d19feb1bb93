package csm

import "github.com/prometheus/client_golang/prometheus"

// HandleCollector exports a connection handle's byte and frame counters
// as prometheus metrics, labelled by the handle's connection id.
// Register one per live Handle:
//
//	prometheus.MustRegister(csm.NewHandleCollector(handle))
type HandleCollector struct {
	handle *Handle

	bytesRead     *prometheus.Desc
	bytesWritten  *prometheus.Desc
	framesRead    *prometheus.Desc
	framesWritten *prometheus.Desc
}

// NewHandleCollector creates a collector over h
func NewHandleCollector(h *Handle) *HandleCollector {
	labels := prometheus.Labels{"conn": h.id.String()}
	return &HandleCollector{
		handle: h,
		bytesRead: prometheus.NewDesc("csm_bytes_read_total",
			"Bytes consumed from the transport by the demuxer", nil, labels),
		bytesWritten: prometheus.NewDesc("csm_bytes_written_total",
			"Bytes framed into the muxer, headers included", nil, labels),
		framesRead: prometheus.NewDesc("csm_frames_read_total",
			"Frame headers parsed from the transport", nil, labels),
		framesWritten: prometheus.NewDesc("csm_frames_written_total",
			"Frames emitted to the outbound buffer", nil, labels),
	}
}

// Describe implements prometheus.Collector
func (c *HandleCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytesRead
	ch <- c.bytesWritten
	ch <- c.framesRead
	ch <- c.framesWritten
}

// Collect implements prometheus.Collector
func (c *HandleCollector) Collect(ch chan<- prometheus.Metric) {
	read, written := c.handle.Stats()
	ch <- prometheus.MustNewConstMetric(c.bytesRead, prometheus.CounterValue, float64(read))
	ch <- prometheus.MustNewConstMetric(c.bytesWritten, prometheus.CounterValue, float64(written))
	ch <- prometheus.MustNewConstMetric(c.framesRead, prometheus.CounterValue, float64(c.handle.framesRead.Load()))
	ch <- prometheus.MustNewConstMetric(c.framesWritten, prometheus.CounterValue, float64(c.handle.framesWritten.Load()))
}
