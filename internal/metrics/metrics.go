package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the service exports. A nil *Collector is
// valid and records nothing, which keeps tests and tools free of wiring.
type Collector struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	BookingsTotal     *prometheus.CounterVec
	TransitionsTotal  *prometheus.CounterVec
	AdmissionsTotal   *prometheus.CounterVec
	OccupiedBeds      prometheus.Gauge
	LockSection       *prometheus.HistogramVec
	NotificationsDrop prometheus.Counter
}

func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route"}),

		InFlightGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		BookingsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking attempts by result (created, slot_taken, outside_availability, busy, error).",
		}, []string{"result"}),

		TransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "appointment_transitions_total",
			Help:      "Appointment status transitions by target status.",
		}, []string{"status"}),

		AdmissionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "occupancy",
			Name:      "admission_events_total",
			Help:      "Admission lifecycle events by kind (admit, transfer, discharge) and result.",
		}, []string{"event", "result"}),

		OccupiedBeds: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "occupancy",
			Name:      "occupied_beds_delta",
			Help:      "Net beds claimed minus released since process start.",
		}),

		LockSection: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "critical_section_seconds",
			Help:      "Time from lock request to release, by resource kind.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}, []string{"resource"}),

		NotificationsDrop: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "Notification events dropped (full buffer or open breaker). Alert if non-zero.",
		}),
	}
}

func (c *Collector) Booking(result string) {
	if c == nil {
		return
	}
	c.BookingsTotal.WithLabelValues(result).Inc()
}

func (c *Collector) Transition(status string) {
	if c == nil {
		return
	}
	c.TransitionsTotal.WithLabelValues(status).Inc()
}

func (c *Collector) Admission(event, result string) {
	if c == nil {
		return
	}
	c.AdmissionsTotal.WithLabelValues(event, result).Inc()
}

func (c *Collector) BedsClaimed(delta int) {
	if c == nil {
		return
	}
	c.OccupiedBeds.Add(float64(delta))
}

func (c *Collector) ObserveLock(resource string, start time.Time) {
	if c == nil {
		return
	}
	c.LockSection.WithLabelValues(resource).Observe(time.Since(start).Seconds())
}

func (c *Collector) NotificationDropped() {
	if c == nil {
		return
	}
	c.NotificationsDrop.Inc()
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
