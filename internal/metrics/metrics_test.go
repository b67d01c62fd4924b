package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSessionMetrics(t *testing.T) {
	before := testutil.ToFloat64(sessionsActive)
	SessionOpened()
	SessionOpened()
	assert.Equal(t, before+2, testutil.ToFloat64(sessionsActive))
	SessionClosed(12)
	assert.Equal(t, before+1, testutil.ToFloat64(sessionsActive))
	SessionClosed(1)

	rejected := testutil.ToFloat64(connectionsTotal.WithLabelValues("rejected_acl"))
	ConnectionRejected("acl")
	assert.Equal(t, rejected+1, testutil.ToFloat64(connectionsTotal.WithLabelValues("rejected_acl")))
}

func TestObserveRequest(t *testing.T) {
	ObserveRequest(20, 0)
	ObserveRequest(20, 998)

	assert.GreaterOrEqual(t, testutil.ToFloat64(requestsTotal.WithLabelValues("20")), 2.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(responsesTotal.WithLabelValues("998")), 1.0)
}

func TestStreamPacketSeriesRemoved(t *testing.T) {
	AddStreamPacket("test-channel", 188)
	AddStreamPacket("test-channel", 376)
	assert.Equal(t, 564.0, testutil.ToFloat64(streamBytesTotal.WithLabelValues("test-channel")))
	assert.Equal(t, 2.0, testutil.ToFloat64(streamPacketsTotal.WithLabelValues("test-channel")))

	RemoveStream("test-channel")
	assert.Equal(t, 0.0, testutil.ToFloat64(streamBytesTotal.WithLabelValues("test-channel")))
}

func TestRingMetrics(t *testing.T) {
	SetRingFill("rb-1", 4096)
	AddRingOverflow("rb-1", 100)
	assert.Equal(t, 4096.0, testutil.ToFloat64(ringFillBytes.WithLabelValues("rb-1")))
	assert.Equal(t, 100.0, testutil.ToFloat64(ringOverflowBytesTotal.WithLabelValues("rb-1")))
	RemoveRing("rb-1")

	SetIOThrottle(2)
	assert.Equal(t, 2.0, testutil.ToFloat64(ioThrottleActive))
	SetIOThrottle(0)
}
