package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vnsid_sessions_active",
		Help: "Number of connected VNSI clients",
	})

	connectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vnsid_connections_total",
		Help: "Accepted and rejected client connections",
	}, []string{"result"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vnsid_session_duration_seconds",
		Help:    "Client session duration in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 16), // 1s to ~9h
	})

	// Protocol metrics
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vnsid_requests_total",
		Help: "Requests handled per opcode",
	}, []string{"opcode"})

	responsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vnsid_responses_total",
		Help: "Responses sent per return code",
	}, []string{"code"})

	writeRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vnsid_write_retries_total",
		Help: "Socket writes retried after a timeout",
	})

	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vnsid_notifications_total",
		Help: "Status channel notifications pushed to clients",
	}, []string{"type"})

	// Live stream metrics
	streamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vnsid_streams_active",
		Help: "Number of running live streamers",
	})

	streamBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vnsid_stream_bytes_total",
		Help: "Payload bytes sent on the stream channel",
	}, []string{"channel"})

	streamPacketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vnsid_stream_packets_total",
		Help: "Mux packets sent on the stream channel",
	}, []string{"channel"})

	demuxErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vnsid_demux_errors_total",
		Help: "Demultiplexer errors by kind",
	}, []string{"kind"})

	tsResyncBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vnsid_ts_resync_bytes_total",
		Help: "Bytes skipped to regain transport stream sync",
	})

	seeksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vnsid_seeks_total",
		Help: "Time based seeks by result",
	}, []string{"result"})

	// Ring buffer metrics
	ringFillBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vnsid_ringbuffer_fill_bytes",
		Help: "Unread bytes held by a ring buffer",
	}, []string{"buffer"})

	ringOverflowBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vnsid_ringbuffer_overflow_bytes_total",
		Help: "Bytes dropped because a ring buffer was full",
	}, []string{"buffer"})

	ioThrottleActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vnsid_io_throttle_active",
		Help: "Ring buffers currently requesting the global I/O throttle",
	})

	// Input metrics
	inputsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vnsid_inputs_active",
		Help: "Open device inputs by scheme",
	}, []string{"scheme"})

	inputBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vnsid_input_bytes_total",
		Help: "Bytes read from device inputs",
	}, []string{"scheme"})
)

// SessionOpened records an accepted client.
func SessionOpened() {
	sessionsActive.Inc()
	connectionsTotal.WithLabelValues("accepted").Inc()
}

// SessionClosed records the end of a client session.
func SessionClosed(seconds float64) {
	sessionsActive.Dec()
	sessionDuration.Observe(seconds)
}

// ConnectionRejected records a connection refused by the host allow-list.
func ConnectionRejected(reason string) {
	connectionsTotal.WithLabelValues("rejected_" + reason).Inc()
}

// ObserveRequest counts one handled request and its return code.
func ObserveRequest(opcode uint32, code uint32) {
	requestsTotal.WithLabelValues(strconv.FormatUint(uint64(opcode), 10)).Inc()
	responsesTotal.WithLabelValues(strconv.FormatUint(uint64(code), 10)).Inc()
}

// IncrementWriteRetries counts a retried socket write.
func IncrementWriteRetries() {
	writeRetriesTotal.Inc()
}

// IncrementNotification counts a pushed status notification.
func IncrementNotification(kind string) {
	notificationsTotal.WithLabelValues(kind).Inc()
}

// StreamStarted / StreamStopped track running live streamers.
func StreamStarted() { streamsActive.Inc() }
func StreamStopped() { streamsActive.Dec() }

// AddStreamPacket accounts a mux packet sent for a channel.
func AddStreamPacket(channel string, bytes int) {
	streamBytesTotal.WithLabelValues(channel).Add(float64(bytes))
	streamPacketsTotal.WithLabelValues(channel).Inc()
}

// RemoveStream drops the per-channel series of a closed stream.
func RemoveStream(channel string) {
	streamBytesTotal.DeleteLabelValues(channel)
	streamPacketsTotal.DeleteLabelValues(channel)
}

// IncrementDemuxError counts a demultiplexer error of the given kind.
func IncrementDemuxError(kind string) {
	demuxErrorsTotal.WithLabelValues(kind).Inc()
}

// AddResyncBytes counts bytes skipped while hunting for a sync byte.
func AddResyncBytes(n int) {
	tsResyncBytesTotal.Add(float64(n))
}

// ObserveSeek counts a seek attempt.
func ObserveSeek(ok bool) {
	if ok {
		seeksTotal.WithLabelValues("ok").Inc()
		return
	}
	seeksTotal.WithLabelValues("failed").Inc()
}

// SetRingFill publishes the fill level of a ring buffer.
func SetRingFill(buffer string, bytes int) {
	ringFillBytes.WithLabelValues(buffer).Set(float64(bytes))
}

// AddRingOverflow counts bytes a ring buffer had to drop.
func AddRingOverflow(buffer string, bytes int) {
	ringOverflowBytesTotal.WithLabelValues(buffer).Add(float64(bytes))
}

// RemoveRing drops the series of a closed ring buffer.
func RemoveRing(buffer string) {
	ringFillBytes.DeleteLabelValues(buffer)
	ringOverflowBytesTotal.DeleteLabelValues(buffer)
}

// SetIOThrottle publishes the throttle reference count.
func SetIOThrottle(n int) {
	ioThrottleActive.Set(float64(n))
}

// InputOpened / InputClosed track device inputs per URL scheme.
func InputOpened(scheme string) { inputsActive.WithLabelValues(scheme).Inc() }
func InputClosed(scheme string) { inputsActive.WithLabelValues(scheme).Dec() }

// AddInputBytes counts bytes read from an input.
func AddInputBytes(scheme string, n int) {
	inputBytesTotal.WithLabelValues(scheme).Add(float64(n))
}
