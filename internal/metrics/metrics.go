// Package metrics exposes the audio stack's counters and gauges through
// OpenTelemetry, with a Prometheus exporter for /metrics.
//
// Event counters are recorded by the engine as events happen. Gauges are
// observed from a [Source] when a reader collects, so nothing is sampled
// between scrapes.
package metrics

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/contactlaplanque/akm-control/internal/types"
)

// meterName is the instrumentation scope for all instruments.
const meterName = "github.com/contactlaplanque/akm-control"

// Source provides the values observed by the gauges.
type Source interface {
	Performance() types.PerformanceMetrics
	ConnectionState() types.ConnectionState
	ServerState() types.ServerState
	SynthState() types.ProcessState
	ClientCount() int
	Levels() []types.ChannelLevel
}

// Metrics holds the instruments.
type Metrics struct {
	meter metric.Meter

	// LifecycleEvents counts lifecycle events by type.
	LifecycleEvents metric.Int64Counter

	// ClientEvents counts discovery events by type.
	ClientEvents metric.Int64Counter

	// WireResults counts wiring attempts by status.
	WireResults metric.Int64Counter

	// Notifications counts alert deliveries by channel and status.
	Notifications metric.Int64Counter

	xruns      metric.Int64ObservableCounter
	cpu        metric.Float64ObservableGauge
	latency    metric.Float64ObservableGauge
	connected  metric.Int64ObservableGauge
	server     metric.Int64ObservableGauge
	synth      metric.Int64ObservableGauge
	clients    metric.Int64ObservableGauge
	inputLevel metric.Float64ObservableGauge
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{meter: m}
	var err error

	if met.LifecycleEvents, err = m.Int64Counter("akm.lifecycle.events",
		metric.WithDescription("Lifecycle events by type."),
	); err != nil {
		return nil, err
	}
	if met.ClientEvents, err = m.Int64Counter("akm.client.events",
		metric.WithDescription("External client discovery events by type."),
	); err != nil {
		return nil, err
	}
	if met.WireResults, err = m.Int64Counter("akm.wire.results",
		metric.WithDescription("Port connection attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.Notifications, err = m.Int64Counter("akm.notifications",
		metric.WithDescription("Alert deliveries by channel and status."),
	); err != nil {
		return nil, err
	}

	if met.xruns, err = m.Int64ObservableCounter("akm.jack.xruns",
		metric.WithDescription("Buffer over/underruns reported by the audio server."),
	); err != nil {
		return nil, err
	}
	if met.cpu, err = m.Float64ObservableGauge("akm.jack.cpu_usage",
		metric.WithDescription("Processing time as a share of the block period."),
		metric.WithUnit("%"),
	); err != nil {
		return nil, err
	}
	if met.latency, err = m.Float64ObservableGauge("akm.jack.latency",
		metric.WithDescription("Block latency."),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if met.connected, err = m.Int64ObservableGauge("akm.jack.connected",
		metric.WithDescription("1 while the audio client is connected."),
	); err != nil {
		return nil, err
	}
	if met.server, err = m.Int64ObservableGauge("akm.server.running",
		metric.WithDescription("1 while the audio server is running."),
	); err != nil {
		return nil, err
	}
	if met.synth, err = m.Int64ObservableGauge("akm.synth.running",
		metric.WithDescription("1 while the synthesis server is running."),
	); err != nil {
		return nil, err
	}
	if met.clients, err = m.Int64ObservableGauge("akm.clients",
		metric.WithDescription("External audio clients currently known."),
	); err != nil {
		return nil, err
	}
	if met.inputLevel, err = m.Float64ObservableGauge("akm.input.level",
		metric.WithDescription("Smoothed linear RMS level per input channel."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Observe registers a callback reading gauges from src. Unregister the
// returned registration to stop observing.
func (m *Metrics) Observe(src Source) (metric.Registration, error) {
	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		perf := src.Performance()
		o.ObserveInt64(m.xruns, int64(perf.XRunCount))
		o.ObserveFloat64(m.cpu, float64(perf.CPUUsagePercent))
		o.ObserveFloat64(m.latency, perf.LatencyMs())
		o.ObserveInt64(m.connected, boolGauge(src.ConnectionState() == types.ConnConnected))
		o.ObserveInt64(m.server, boolGauge(src.ServerState() == types.ServerRunning))
		o.ObserveInt64(m.synth, boolGauge(src.SynthState() == types.ProcessRunning))
		o.ObserveInt64(m.clients, int64(src.ClientCount()))
		for _, l := range src.Levels() {
			o.ObserveFloat64(m.inputLevel, float64(l.Smoothed),
				metric.WithAttributes(attribute.String("channel", strconv.Itoa(l.Channel))))
		}
		return nil
	}, m.xruns, m.cpu, m.latency, m.connected, m.server, m.synth, m.clients, m.inputLevel)
}

func boolGauge(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// RecordLifecycle counts a lifecycle event.
func (m *Metrics) RecordLifecycle(ctx context.Context, t types.LifecycleEventType) {
	m.LifecycleEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(t))))
}

// RecordClient counts a discovery event.
func (m *Metrics) RecordClient(ctx context.Context, t types.ClientEventType) {
	m.ClientEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(t))))
}

// RecordWire counts wiring results as ok or error.
func (m *Metrics) RecordWire(ctx context.Context, results []types.WireResult) {
	var ok, failed int64
	for _, r := range results {
		if r.Error == "" {
			ok++
		} else {
			failed++
		}
	}
	if ok > 0 {
		m.WireResults.Add(ctx, ok, metric.WithAttributes(attribute.String("status", "ok")))
	}
	if failed > 0 {
		m.WireResults.Add(ctx, failed, metric.WithAttributes(attribute.String("status", "error")))
	}
}

// RecordNotification counts one alert delivery.
func (m *Metrics) RecordNotification(ctx context.Context, channel string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("status", status),
	))
}
