// Package metrics holds the Prometheus collectors of a module process. All
// methods are safe on a nil *Metrics so components can run without them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/KevinKickass/OpenSimModule/internal/amm"
)

const namespace = "simmodule"

type Metrics struct {
	registry *prometheus.Registry

	EventsReceived  *prometheus.CounterVec
	EventsIgnored   *prometheus.CounterVec
	DecodeFailures  *prometheus.CounterVec
	ControlCommands *prometheus.CounterVec
	GatewayWrites   *prometheus.CounterVec
	RunFlag         prometheus.Gauge
	TickCount       prometheus.Gauge
	Phase           *prometheus.GaugeVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		EventsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "events_received_total",
				Help:      "Samples received from the gateway",
			},
			[]string{"topic"},
		),
		EventsIgnored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "module",
				Name:      "events_ignored_total",
				Help:      "Samples delivered to a handler but not applied",
			},
			[]string{"topic", "reason"},
		),
		DecodeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "decode_failures_total",
				Help:      "Samples dropped because they could not be decoded",
			},
			[]string{"topic"},
		),
		ControlCommands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "module",
				Name:      "control_commands_total",
				Help:      "Simulation control commands handled",
			},
			[]string{"type"},
		),
		GatewayWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "writes_total",
				Help:      "Writes issued to the gateway",
			},
			[]string{"topic", "result"},
		),
		RunFlag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "module",
			Name:      "running",
			Help:      "1 while the simulation is running, 0 while halted",
		}),
		TickCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "module",
			Name:      "tick_count",
			Help:      "Ticks applied since start or last reset",
		}),
		Phase: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "module",
				Name:      "phase",
				Help:      "1 for the current lifecycle phase",
			},
			[]string{"phase"},
		),
	}

	m.registry.MustRegister(
		m.EventsReceived,
		m.EventsIgnored,
		m.DecodeFailures,
		m.ControlCommands,
		m.GatewayWrites,
		m.RunFlag,
		m.TickCount,
		m.Phase,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveWrite(kind amm.TopicKind, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.GatewayWrites.WithLabelValues(string(kind), result).Inc()
}

func (m *Metrics) ObserveReceive(kind amm.TopicKind) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) ObserveDecodeFailure(kind amm.TopicKind) {
	if m == nil {
		return
	}
	m.DecodeFailures.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) ObserveIgnored(kind amm.TopicKind, reason string) {
	if m == nil {
		return
	}
	m.EventsIgnored.WithLabelValues(string(kind), reason).Inc()
}

func (m *Metrics) ObserveControl(t amm.ControlType) {
	if m == nil {
		return
	}
	m.ControlCommands.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.RunFlag.Set(1)
	} else {
		m.RunFlag.Set(0)
	}
}

func (m *Metrics) SetTickCount(n int) {
	if m == nil {
		return
	}
	m.TickCount.Set(float64(n))
}

// SetPhase marks phase as current and clears the previous one.
func (m *Metrics) SetPhase(previous, current string) {
	if m == nil {
		return
	}
	if previous != "" {
		m.Phase.WithLabelValues(previous).Set(0)
	}
	m.Phase.WithLabelValues(current).Set(1)
}
