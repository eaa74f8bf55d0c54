// Package metrics exposes Prometheus counters and histograms for a capnweb
// session, grounded on the instrumentation style of the broader example
// corpus's use of github.com/prometheus/client_golang.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the counters a Session reports so a server process can
// register them once and share the set across every accepted connection.
type Metrics struct {
	SessionsOpened prometheus.Counter
	SessionsClosed prometheus.Counter
	CallsPushed    prometheus.Counter
	CallsRejected  *prometheus.CounterVec
	CallLatency    prometheus.Histogram
}

// New constructs a Metrics bundle and registers it with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capnweb",
			Name:      "sessions_opened_total",
			Help:      "Sessions accepted or dialed by this process.",
		}),
		SessionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capnweb",
			Name:      "sessions_closed_total",
			Help:      "Sessions that have finished serving.",
		}),
		CallsPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capnweb",
			Name:      "calls_pushed_total",
			Help:      "Push frames sent to peers.",
		}),
		CallsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capnweb",
			Name:      "calls_rejected_total",
			Help:      "Reject frames received from peers, labeled by error kind.",
		}, []string{"kind"}),
		CallLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "capnweb",
			Name:      "call_latency_seconds",
			Help:      "Time from push to resolve/reject for a pipelined call.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.SessionsOpened, m.SessionsClosed, m.CallsPushed, m.CallsRejected, m.CallLatency)
	return m
}
