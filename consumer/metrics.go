package consumer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the two consumer loops: how many RPCs were dispatched
// (and how they went), dispatch latency, and event delivery/acknowledgement
// counts per listener.
type Metrics struct {
	rpcDispatched  *prometheus.CounterVec
	rpcDuration    *prometheus.HistogramVec
	eventsReceived *prometheus.CounterVec
	eventsAcked    *prometheus.CounterVec
	eventsFailed   *prometheus.CounterVec
}

// NewMetrics registers the consumer metric set with reg. Pass
// prometheus.DefaultRegisterer for the usual process-global registry, or a
// private registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		rpcDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bus_rpc_dispatched_total",
			Help: "RPC calls dispatched by the server loop, by API and outcome.",
		}, []string{"api", "procedure", "outcome"}),
		rpcDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bus_rpc_dispatch_duration_seconds",
			Help:    "Time from receiving an RPC call to producing its result.",
			Buckets: prometheus.DefBuckets,
		}, []string{"api", "procedure"}),
		eventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bus_events_received_total",
			Help: "Events delivered to a listener, by listener name and event.",
		}, []string{"listener", "event"}),
		eventsAcked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bus_events_acked_total",
			Help: "Events acknowledged after successful listener completion.",
		}, []string{"listener", "event"}),
		eventsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bus_events_failed_total",
			Help: "Listener invocations that returned an error.",
		}, []string{"listener", "event"}),
	}
}

func (m *Metrics) observeRpc(apiName, procedure string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.rpcDispatched.WithLabelValues(apiName, procedure, outcome).Inc()
	m.rpcDuration.WithLabelValues(apiName, procedure).Observe(elapsed.Seconds())
}

func (m *Metrics) observeEvent(listener, event string, err error) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(listener, event).Inc()
	if err != nil {
		m.eventsFailed.WithLabelValues(listener, event).Inc()
	} else {
		m.eventsAcked.WithLabelValues(listener, event).Inc()
	}
}
