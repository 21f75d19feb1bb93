package csm

import (
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleCollectorExportsCounters(t *testing.T) {
	cConn, sConn := net.Pipe()
	defer sConn.Close()

	b := NewChannels()
	_, err := AddInitiator(b, toySpec(NewId(1)))
	require.NoError(t, err)
	h := NewHandle(cConn, cConn, b, DefaultHandleConfig())
	defer h.Close()

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewHandleCollector(h)))

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["csm_bytes_read_total"])
	assert.True(t, names["csm_bytes_written_total"])
	assert.True(t, names["csm_frames_read_total"])
	assert.True(t, names["csm_frames_written_total"])
}
