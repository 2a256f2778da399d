package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"patrol-beat-tracker/internal/models"
)

// Metrics records duty engine activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	syncsTotal       *prometheus.CounterVec
	syncDuration     prometheus.Histogram
	teardownFailures prometheus.Counter
	dutyState        *prometheus.GaugeVec
}

// Sync result labels
const (
	SyncOK      = "ok"
	SyncError   = "error"
	SyncStale   = "stale"
	SyncDropped = "dropped"
)

// NewMetrics registers the engine metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		syncsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patrol_location_syncs_total",
				Help: "Location samples by sync result",
			},
			[]string{"result"},
		),
		syncDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "patrol_location_sync_duration_seconds",
				Help:    "Location upsert latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		teardownFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "patrol_location_teardown_failures_total",
				Help: "Failed deletions of the location record at end of duty",
			},
		),
		dutyState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "patrol_duty_state",
				Help: "1 for the current duty state, 0 otherwise",
			},
			[]string{"state"},
		),
	}
}

func (m *Metrics) observeSync(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.syncsTotal.WithLabelValues(result).Inc()
	if result == SyncOK || result == SyncError {
		m.syncDuration.Observe(took.Seconds())
	}
}

func (m *Metrics) teardownFailed() {
	if m == nil {
		return
	}
	m.teardownFailures.Inc()
}

func (m *Metrics) setState(state models.DutyState) {
	if m == nil {
		return
	}
	for _, s := range []models.DutyState{models.OffDuty, models.OnDuty, models.Break} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.dutyState.WithLabelValues(string(s)).Set(v)
	}
}
