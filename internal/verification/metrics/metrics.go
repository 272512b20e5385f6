package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the verification engine and its adapters.
type Metrics struct {
	// Step submissions by step and outcome (passed, not_passed, rejected, failed)
	StepSubmissions *prometheus.CounterVec

	AutoApprovals prometheus.Counter

	// Step resets by step
	StepResets *prometheus.CounterVec

	// Admin decisions by decision
	AdminReviews *prometheus.CounterVec

	DuplicateDocuments prometheus.Counter

	// Optimistic-concurrency conflicts by operation and whether the retry recovered
	CASConflicts *prometheus.CounterVec

	// Provider calls by endpoint and outcome
	ProviderCalls   *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec
	CircuitOpen     *prometheus.GaugeVec

	// Best-effort side effects that failed
	IdentitySyncFailures prometheus.Counter
	EventPublishFailures prometheus.Counter

	OperationLatency *prometheus.HistogramVec
}

// New registers all metrics on the default registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers all metrics on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration panics.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StepSubmissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ekyc_step_submissions_total",
			Help: "Step submissions by step and outcome",
		}, []string{"step", "outcome"}),

		AutoApprovals: f.NewCounter(prometheus.CounterOpts{
			Name: "ekyc_auto_approvals_total",
			Help: "Records approved automatically after every step completed",
		}),

		StepResets: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ekyc_step_resets_total",
			Help: "Step resets by step",
		}, []string{"step"}),

		AdminReviews: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ekyc_admin_reviews_total",
			Help: "Operator review decisions",
		}, []string{"decision"}),

		DuplicateDocuments: f.NewCounter(prometheus.CounterOpts{
			Name: "ekyc_duplicate_documents_total",
			Help: "Document submissions rejected because the number belongs to another record",
		}),

		CASConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ekyc_cas_conflicts_total",
			Help: "Optimistic-concurrency conflicts by operation and result",
		}, []string{"operation", "result"}), // result: "retried", "exhausted"

		ProviderCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ekyc_provider_calls_total",
			Help: "Provider calls by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),

		ProviderLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ekyc_provider_call_duration_seconds",
			Help:    "Duration of provider calls by endpoint",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),

		CircuitOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ekyc_provider_circuit_open",
			Help: "1 while the circuit breaker for an endpoint is open",
		}, []string{"endpoint"}),

		IdentitySyncFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "ekyc_identity_sync_failures_total",
			Help: "Identity service notifications that failed",
		}),

		EventPublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "ekyc_event_publish_failures_total",
			Help: "Status change events that could not be published",
		}),

		OperationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ekyc_operation_duration_seconds",
			Help:    "Duration of engine operations",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncrementStepSubmission(step, outcome string) {
	if m != nil {
		m.StepSubmissions.WithLabelValues(step, outcome).Inc()
	}
}

func (m *Metrics) IncrementAutoApproval() {
	if m != nil {
		m.AutoApprovals.Inc()
	}
}

func (m *Metrics) IncrementStepReset(step string) {
	if m != nil {
		m.StepResets.WithLabelValues(step).Inc()
	}
}

func (m *Metrics) IncrementAdminReview(decision string) {
	if m != nil {
		m.AdminReviews.WithLabelValues(decision).Inc()
	}
}

func (m *Metrics) IncrementDuplicateDocument() {
	if m != nil {
		m.DuplicateDocuments.Inc()
	}
}

// IncrementCASConflict records a lost version race.
func (m *Metrics) IncrementCASConflict(operation, result string) {
	if m != nil {
		m.CASConflicts.WithLabelValues(operation, result).Inc()
	}
}

// ObserveProviderCall records one provider round trip.
func (m *Metrics) ObserveProviderCall(endpoint, outcome string, d time.Duration) {
	if m != nil {
		m.ProviderCalls.WithLabelValues(endpoint, outcome).Inc()
		m.ProviderLatency.WithLabelValues(endpoint).Observe(d.Seconds())
	}
}

// SetCircuitOpen tracks breaker state for an endpoint.
func (m *Metrics) SetCircuitOpen(endpoint string, open bool) {
	if m != nil {
		v := 0.0
		if open {
			v = 1
		}
		m.CircuitOpen.WithLabelValues(endpoint).Set(v)
	}
}

func (m *Metrics) IncrementIdentitySyncFailure() {
	if m != nil {
		m.IdentitySyncFailures.Inc()
	}
}

func (m *Metrics) IncrementEventPublishFailure() {
	if m != nil {
		m.EventPublishFailures.Inc()
	}
}

// ObserveOperation records the duration of an engine operation.
func (m *Metrics) ObserveOperation(operation string, d time.Duration) {
	if m != nil {
		m.OperationLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}
