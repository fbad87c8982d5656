package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the reconciliation pipeline.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	Registry *prometheus.Registry

	stageDuration   *prometheus.HistogramVec
	bankRows        *prometheus.CounterVec
	matcherAttempts *prometheus.CounterVec
	candidates      *prometheus.CounterVec
	journalEntries  prometheus.Counter
	reviewItems     *prometheus.CounterVec
	duplicates      prometheus.Counter
	batches         *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// pipeline metrics in it. A private registry lets concurrent batches and
// tests each own their collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reconcile_stage_duration_seconds",
				Help:    "Duration of pipeline stages.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		bankRows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_bank_rows_total",
				Help: "Bank export rows by outcome.",
			},
			[]string{"result"},
		),
		matcherAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_matcher_attempts_total",
				Help: "Calls to the matching capability by outcome.",
			},
			[]string{"outcome"},
		),
		candidates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_match_candidates_total",
				Help: "Validated match candidates by status.",
			},
			[]string{"status"},
		),
		journalEntries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "reconcile_journal_entries_total",
				Help: "Journal entries produced.",
			},
		),
		reviewItems: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_review_items_total",
				Help: "Manual review items by kind.",
			},
			[]string{"kind"},
		),
		duplicates: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "reconcile_duplicate_matches_total",
				Help: "Matches skipped because their journal key was already applied.",
			},
		),
		batches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_batches_total",
				Help: "Finished batches by outcome.",
			},
			[]string{"outcome"},
		),
	}
}

// ObserveStage records how long a pipeline stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordBankRows counts normalized and skipped bank rows.
func (m *Metrics) RecordBankRows(normalized, skipped int) {
	m.bankRows.WithLabelValues("normalized").Add(float64(normalized))
	m.bankRows.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordMatcherAttempt counts one call to the matching capability.
func (m *Metrics) RecordMatcherAttempt(outcome string) {
	m.matcherAttempts.WithLabelValues(outcome).Inc()
}

// RecordCandidate counts one validated candidate.
func (m *Metrics) RecordCandidate(status string) {
	m.candidates.WithLabelValues(status).Inc()
}

// RecordJournal counts journal entries, review items by kind and duplicates.
func (m *Metrics) RecordJournal(entries int, reviewByKind map[string]int, duplicates int) {
	m.journalEntries.Add(float64(entries))
	for kind, n := range reviewByKind {
		m.reviewItems.WithLabelValues(kind).Add(float64(n))
	}
	m.duplicates.Add(float64(duplicates))
}

// RecordBatch counts a finished batch.
func (m *Metrics) RecordBatch(outcome string) {
	m.batches.WithLabelValues(outcome).Inc()
}

// WriteTextfile dumps the registry in the text exposition format, for the
// node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
