// Package telemetry exposes governance activity as Prometheus metrics.
// Metrics hook into the governance services through their handler and
// observer options; nothing in governance depends on this package.
package telemetry

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"github.com/artpar/templategov/internal/governance"
)

// Config configures the metrics.
type Config struct {
	// Namespace prefixes every metric name. Default: "templategov".
	Namespace string

	// Registry receives the collectors. Default: a fresh prometheus.Registry,
	// so several Metrics can coexist in one process (tests, embedded use).
	Registry *prometheus.Registry

	// Buckets are the migration duration histogram buckets.
	// Default: prometheus.DefBuckets
	Buckets []float64
}

// Metrics holds the governance collectors.
type Metrics struct {
	registry *prometheus.Registry

	deprecationWarnings *prometheus.CounterVec
	migrationRuns       *prometheus.CounterVec
	migrationSteps      *prometheus.CounterVec
	migrationDuration   *prometheus.HistogramVec
	transitions         *prometheus.CounterVec
}

// Migration run outcomes used as the "result" label.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDryRun  = "dry_run"
)

// New registers the governance collectors.
func New(cfg Config) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "templategov"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if len(cfg.Buckets) == 0 {
		cfg.Buckets = prometheus.DefBuckets
	}
	factory := promauto.With(cfg.Registry)

	return &Metrics{
		registry: cfg.Registry,

		deprecationWarnings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "deprecation",
			Name:      "warnings_total",
			Help:      "Deprecation warnings dispatched to handlers.",
		}, []string{"template_id", "path", "severity"}),

		migrationRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "migration",
			Name:      "runs_total",
			Help:      "Migration runs by outcome.",
		}, []string{"template_id", "result"}),

		migrationSteps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "migration",
			Name:      "steps_applied_total",
			Help:      "Migration steps applied, dry runs included.",
		}, []string{"template_id"}),

		migrationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: "migration",
			Name:      "duration_seconds",
			Help:      "Migration run duration in seconds.",
			Buckets:   cfg.Buckets,
		}, []string{"template_id"}),

		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "governance",
			Name:      "transitions_total",
			Help:      "Successful template status transitions.",
		}, []string{"from", "to"}),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// DeprecationHandler counts every dispatched deprecation warning.
func (m *Metrics) DeprecationHandler() governance.Handler {
	return func(templateID string, n governance.DeprecationNotice) {
		m.deprecationWarnings.WithLabelValues(templateID, n.Path, string(n.Severity)).Inc()
	}
}

// MigrationObserver records run outcomes, applied steps and durations.
func (m *Metrics) MigrationObserver() governance.MigrationObserver {
	return func(templateID string, res *governance.MigrationResult, elapsed time.Duration) {
		result := ResultSuccess
		switch {
		case !res.Success:
			result = ResultFailure
		case res.DryRun:
			result = ResultDryRun
		}
		m.migrationRuns.WithLabelValues(templateID, result).Inc()
		m.migrationSteps.WithLabelValues(templateID).Add(float64(len(res.MigrationsApplied)))
		m.migrationDuration.WithLabelValues(templateID).Observe(elapsed.Seconds())
	}
}

// TransitionObserver counts status transitions.
func (m *Metrics) TransitionObserver() governance.TransitionObserver {
	return func(_ string, e governance.HistoryEntry) {
		m.transitions.WithLabelValues(string(e.From), string(e.To)).Inc()
	}
}

// WriteText writes every collected metric in the Prometheus text format.
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
	}
	return nil
}
