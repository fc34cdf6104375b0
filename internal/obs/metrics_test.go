package obs

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMeter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMeter(reg, "test")

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.RequestServed(200, 10*time.Millisecond)
	m.RequestServed(200, time.Millisecond)
	m.RequestServed(500, time.Millisecond)
	m.ProtocolError("bad_request")
	m.ResponderFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.accepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.active))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("500")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.protocolErrors.WithLabelValues("bad_request")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.responderErrors))

	n, err := testutil.GatherAndCount(reg, "test_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPrometheusMeter_NilRegistry(t *testing.T) {
	m := NewPrometheusMeter(nil, "")
	m.ConnectionOpened()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.accepted))
}

func TestNopMeter(t *testing.T) {
	var m Meter = NopMeter{}
	m.ConnectionOpened()
	m.RequestServed(200, time.Second)
}
