package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	coordinations       *prometheus.CounterVec
	conflicts           prometheus.Counter
	consensusConfidence prometheus.Gauge
	overrides           *prometheus.CounterVec
	violations          *prometheus.CounterVec
	blockedOrders       prometheus.Counter
	emergencyStops      prometheus.Counter
	deadLetters         prometheus.Counter
	expiredCorrelations prometheus.Counter
	activeAgents        prometheus.Gauge
	pendingCorrelations prometheus.Gauge
	totalExposure       prometheus.Gauge
	symbolExposure      *prometheus.GaugeVec
	dailyPnL            prometheus.Gauge
	errorsTotal         *prometheus.CounterVec
	latency             *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		coordinations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meta_coordinations_total",
				Help: "Total coordination decisions made",
			},
			[]string{"method"},
		),
		conflicts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "meta_conflicting_decisions_total",
				Help: "Conflicting decisions resolved",
			},
		),
		consensusConfidence: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "meta_consensus_confidence",
				Help: "Confidence level of the last consensus decision",
			},
		),
		overrides: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meta_overrides_total",
				Help: "Risk and manual overrides applied",
			},
			[]string{"override"},
		),
		violations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meta_risk_violations_total",
				Help: "Risk violations by type",
			},
			[]string{"type"},
		),
		blockedOrders: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "meta_blocked_orders_total",
				Help: "Orders denied by the risk engine",
			},
		),
		emergencyStops: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "meta_emergency_stops_total",
				Help: "Emergency stop activations",
			},
		),
		deadLetters: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "meta_dead_letters_total",
				Help: "Malformed agent decisions dead-lettered",
			},
		),
		expiredCorrelations: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "meta_expired_correlations_total",
				Help: "Pending correlations reclaimed by the expiry worker",
			},
		),
		activeAgents: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "meta_active_agents",
				Help: "Distinct agents with buffered decisions",
			},
		),
		pendingCorrelations: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "meta_pending_correlations",
				Help: "Correlations waiting for more decisions",
			},
		),
		totalExposure: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "meta_total_exposure",
				Help: "Total portfolio exposure",
			},
		),
		symbolExposure: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "meta_symbol_exposure",
				Help: "Position value per symbol",
			},
			[]string{"symbol"},
		),
		dailyPnL: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "meta_daily_pnl",
				Help: "Daily profit and loss",
			},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meta_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meta_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordCoordination(method string) {
	r.coordinations.WithLabelValues(method).Inc()
}

func (r *Recorder) RecordConflict() {
	r.conflicts.Inc()
}

func (r *Recorder) RecordConsensusConfidence(v float64) {
	r.consensusConfidence.Set(v)
}

func (r *Recorder) RecordOverride(tag string) {
	r.overrides.WithLabelValues(tag).Inc()
}

func (r *Recorder) RecordViolation(violationType string) {
	r.violations.WithLabelValues(violationType).Inc()
}

func (r *Recorder) RecordBlockedOrder() {
	r.blockedOrders.Inc()
}

func (r *Recorder) RecordEmergencyStop() {
	r.emergencyStops.Inc()
}

func (r *Recorder) RecordDeadLetter() {
	r.deadLetters.Inc()
}

func (r *Recorder) RecordExpiredCorrelation() {
	r.expiredCorrelations.Inc()
}

func (r *Recorder) SetActiveAgents(n int) {
	r.activeAgents.Set(float64(n))
}

func (r *Recorder) SetPendingCorrelations(n int) {
	r.pendingCorrelations.Set(float64(n))
}

func (r *Recorder) SetTotalExposure(v float64) {
	r.totalExposure.Set(v)
}

func (r *Recorder) SetSymbolExposure(symbol string, v float64) {
	r.symbolExposure.WithLabelValues(symbol).Set(v)
}

func (r *Recorder) SetDailyPnL(v float64) {
	r.dailyPnL.Set(v)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
