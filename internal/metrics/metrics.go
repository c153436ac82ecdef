// Package metrics exposes the node state as Prometheus metrics.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voidwarranties/spacestate/internal/spacestate"
)

// Output names used as the "output" label of the error counter.
const (
	OutputSensor   = "sensor"
	OutputMQTT     = "mqtt"
	OutputSpaceAPI = "spaceapi"
	OutputSink     = "sink"
	OutputScript   = "script"
)

type Metrics struct {
	registry *prometheus.Registry

	temperature prometheus.Gauge
	humidity    prometheus.Gauge
	heatIndex   prometheus.Gauge
	dewPoint    prometheus.Gauge
	open        prometheus.Gauge
	sensorOK    prometheus.Gauge
	lastReport  prometheus.Gauge
	reports     prometheus.Counter
	events      *prometheus.CounterVec
	errors      *prometheus.CounterVec

	mu   sync.RWMutex
	last time.Time
}

// New creates the metrics and registers them on a registry of their own,
// together with the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spacestate_temperature_celsius",
			Help: "Last temperature reading.",
		}),
		humidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spacestate_humidity_percent",
			Help: "Last relative humidity reading.",
		}),
		heatIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spacestate_heat_index_celsius",
			Help: "Heat index derived from the last reading.",
		}),
		dewPoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spacestate_dew_point_celsius",
			Help: "Dew point derived from the last reading.",
		}),
		open: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spacestate_open",
			Help: "1 if the space is open, 0 if closed.",
		}),
		sensorOK: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spacestate_sensor_ok",
			Help: "1 if the last sensor read succeeded.",
		}),
		lastReport: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spacestate_last_report_timestamp_seconds",
			Help: "Time of the last report (epoch seconds).",
		}),
		reports: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spacestate_reports_total",
			Help: "Number of report cycles.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spacestate_events_total",
			Help: "Number of events by kind.",
		}, []string{"kind"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spacestate_errors_total",
			Help: "Number of failed writes by output.",
		}, []string{"output"}),
	}
	m.registry.MustRegister(
		m.temperature, m.humidity, m.heatIndex, m.dewPoint,
		m.open, m.sensorOK, m.lastReport, m.reports, m.events, m.errors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe records a reading. Sensor gauges keep their last value when the
// reading is not valid.
func (m *Metrics) Observe(r spacestate.Reading) {
	if r.Valid {
		m.temperature.Set(float64(r.Temperature))
		m.humidity.Set(float64(r.Humidity))
		m.heatIndex.Set(float64(r.HeatIndex))
		m.dewPoint.Set(float64(r.DewPoint))
		m.sensorOK.Set(1)
	} else {
		m.sensorOK.Set(0)
	}
	m.open.Set(boolFloat(r.Open))
	m.lastReport.Set(float64(r.Time.Unix()))
	m.reports.Inc()

	m.mu.Lock()
	m.last = r.Time
	m.mu.Unlock()
}

func (m *Metrics) Event(e spacestate.Event) {
	m.open.Set(boolFloat(e.Open))
	m.events.WithLabelValues(string(e.Kind)).Inc()
}

// Error counts a failed write to output.
func (m *Metrics) Error(output string) {
	m.errors.WithLabelValues(output).Inc()
}

// LastReport returns the time of the last observed reading.
func (m *Metrics) LastReport() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
