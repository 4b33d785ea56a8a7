package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for slot scheduling flows.
type SchedulingMetrics struct {
	availabilityLatency prometheus.Histogram
	holdsTotal          *prometheus.CounterVec
	bookingsTotal       *prometheus.CounterVec
	transitionsTotal    *prometheus.CounterVec
	sweptHolds          prometheus.Counter
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		availabilityLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "availability_latency_seconds",
			Help:      "Latency of availability aggregation",
			Buckets:   prometheus.DefBuckets,
		}),
		holdsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "holds_total",
			Help:      "Slot hold attempts by outcome",
		}, []string{"outcome"}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "status_transitions_total",
			Help:      "Appointment status transitions by edge and outcome",
		}, []string{"from", "to", "outcome"}),
		sweptHolds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "expired_holds_purged_total",
			Help:      "Expired holds deleted by the sweeper",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.availabilityLatency, m.holdsTotal, m.bookingsTotal, m.transitionsTotal, m.sweptHolds)
	return m
}

func (m *SchedulingMetrics) ObserveAvailability(seconds float64) {
	if m == nil {
		return
	}
	m.availabilityLatency.Observe(seconds)
}

func (m *SchedulingMetrics) ObserveHold(outcome string) {
	if m == nil {
		return
	}
	m.holdsTotal.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObserveTransition(from, to, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to, outcome).Inc()
}

func (m *SchedulingMetrics) ObservePurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sweptHolds.Add(float64(n))
}
