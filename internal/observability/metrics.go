package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "smfaaa"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	aaaRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aaa",
			Name:      "requests_total",
			Help:      "AAA requests by kind and send result.",
		},
		[]string{"kind", "result"},
	)
	aaaCompletions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aaa",
			Name:      "completions_total",
			Help:      "Exchange completions delivered by the peer.",
		},
		[]string{"kind"},
	)
	aaaOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aaa",
			Name:      "outcomes_total",
			Help:      "Authorization outcomes emitted to the session manager.",
		},
		[]string{"outcome"},
	)
	aaaDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aaa",
			Name:      "dropped_completions_total",
			Help:      "Completions that produced no event, by reason.",
		},
		[]string{"reason"},
	)
	storeExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "correlation",
			Name:      "store_exhausted_total",
			Help:      "Auth requests sent without a correlation record.",
		},
	)
	storeInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "correlation",
			Name:      "records_in_use",
			Help:      "Correlation records currently allocated.",
		},
	)
	storeExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "correlation",
			Name:      "records_expired_total",
			Help:      "Correlation records reclaimed by the sweeper.",
		},
	)
	peerConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "diameter",
			Name:      "peer_connected",
			Help:      "1 when the AAA peer connection is up.",
		},
	)
	peerDials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "diameter",
			Name:      "dials_total",
			Help:      "Peer dial attempts by result.",
		},
		[]string{"result"},
	)
	peerAnswerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "diameter",
			Name:      "answer_latency_seconds",
			Help:      "Time from request write to answer receipt.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"command"},
	)
	sessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "smf",
			Name:      "session_transitions_total",
			Help:      "Session state transitions.",
		},
		[]string{"from", "to"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			aaaRequests, aaaCompletions, aaaOutcomes, aaaDropped,
			storeExhausted, storeInUse, storeExpired,
			peerConnected, peerDials, peerAnswerLatency,
			sessionTransitions,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordAAARequest(kind, result string) {
	RegisterMetrics()
	aaaRequests.WithLabelValues(kind, result).Inc()
}

func RecordCompletion(kind string) {
	RegisterMetrics()
	aaaCompletions.WithLabelValues(kind).Inc()
}

func RecordOutcome(success bool) {
	RegisterMetrics()
	label := "failure"
	if success {
		label = "success"
	}
	aaaOutcomes.WithLabelValues(label).Inc()
}

func RecordDroppedCompletion(reason string) {
	RegisterMetrics()
	aaaDropped.WithLabelValues(reason).Inc()
}

func RecordStoreExhausted() {
	RegisterMetrics()
	storeExhausted.Inc()
}

func SetStoreInUse(n int) {
	RegisterMetrics()
	storeInUse.Set(float64(n))
}

func RecordStoreExpired(n int) {
	RegisterMetrics()
	storeExpired.Add(float64(n))
}

func SetPeerConnected(up bool) {
	RegisterMetrics()
	if up {
		peerConnected.Set(1)
		return
	}
	peerConnected.Set(0)
}

func RecordPeerDial(success bool) {
	RegisterMetrics()
	peerDials.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func RecordAnswerLatency(command string, d time.Duration) {
	RegisterMetrics()
	peerAnswerLatency.WithLabelValues(command).Observe(d.Seconds())
}

func RecordSessionTransition(from, to string) {
	RegisterMetrics()
	sessionTransitions.WithLabelValues(from, to).Inc()
}
