package mux

import "github.com/prometheus/client_golang/prometheus"

// Metrics collects Prometheus counters/gauges describing a connection's
// traffic. A nil *Metrics is never passed to user code; Config.initDefaults
// substitutes NopMetrics() so the engine's instrumentation call sites never
// need a nil check.
type Metrics struct {
	framesRead    prometheus.Counter
	framesWritten prometheus.Counter
	streamsOpened prometheus.Counter
	streamsClosed prometheus.Counter
	goAwaysSent   prometheus.Counter
	liveStreams   prometheus.Gauge
}

// NewMetrics registers a connection's counters on reg under the given
// connection name label. Pass a *prometheus.Registry the caller owns;
// NewMetrics does not register against the global default registry.
func NewMetrics(reg prometheus.Registerer, name string) *Metrics {
	labels := prometheus.Labels{"connection": name}
	m := &Metrics{
		framesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mux_frames_read_total",
			Help:        "Frames read from the transport.",
			ConstLabels: labels,
		}),
		framesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mux_frames_written_total",
			Help:        "Frames written to the transport.",
			ConstLabels: labels,
		}),
		streamsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mux_streams_opened_total",
			Help:        "Streams opened, locally or by the remote.",
			ConstLabels: labels,
		}),
		streamsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mux_streams_closed_total",
			Help:        "Streams removed from the stream table.",
			ConstLabels: labels,
		}),
		goAwaysSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mux_goaways_sent_total",
			Help:        "GoAway frames emitted, including protocol-violation terminations.",
			ConstLabels: labels,
		}),
		liveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "mux_live_streams",
			Help:        "Streams currently present in the stream table.",
			ConstLabels: labels,
		}),
	}
	for _, c := range []prometheus.Collector{
		m.framesRead, m.framesWritten, m.streamsOpened,
		m.streamsClosed, m.goAwaysSent, m.liveStreams,
	} {
		_ = reg.Register(c)
	}
	return m
}

// NopMetrics returns a Metrics whose counters are never registered against
// any registry, safe to increment from a Config that doesn't care about
// observability.
func NopMetrics() *Metrics {
	return &Metrics{
		framesRead:    prometheus.NewCounter(prometheus.CounterOpts{Name: "mux_nop_frames_read"}),
		framesWritten: prometheus.NewCounter(prometheus.CounterOpts{Name: "mux_nop_frames_written"}),
		streamsOpened: prometheus.NewCounter(prometheus.CounterOpts{Name: "mux_nop_streams_opened"}),
		streamsClosed: prometheus.NewCounter(prometheus.CounterOpts{Name: "mux_nop_streams_closed"}),
		goAwaysSent:   prometheus.NewCounter(prometheus.CounterOpts{Name: "mux_nop_goaways_sent"}),
		liveStreams:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "mux_nop_live_streams"}),
	}
}
