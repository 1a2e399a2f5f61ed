package metrics

import (
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "prstats"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	registry        *prom.Registry
	gapTransitions  *prom.CounterVec
	gapDuration     *prom.HistogramVec
	pageRetries     *prom.CounterVec
	entitiesFetched *prom.CounterVec
	commitConflicts *prom.CounterVec
	runDuration     prom.Histogram
}

// NewPrometheusRecorder constructs the metrics and registers them on reg.
// A nil reg gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		registry: reg,
		gapTransitions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "gap_transitions_total",
			Help:      "Gap state transitions by repository and target state",
		}, []string{"repo", "state"}),
		gapDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "gap_duration_seconds",
			Help:      "Time from fetch start to the final state of a gap",
			Buckets:   prom.ExponentialBuckets(0.25, 2, 12),
		}, []string{"repo", "outcome"}),
		pageRetries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "page_retries_total",
			Help:      "Retried page fetches by entity kind and reason",
		}, []string{"repo", "kind", "reason"}),
		entitiesFetched: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "entities_fetched_total",
			Help:      "Entities fetched from GitHub by kind",
		}, []string{"repo", "kind"}),
		commitConflicts: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "commit_conflicts_total",
			Help:      "Coverage ledger saves rejected by a concurrent writer",
		}, []string{"repo"}),
		runDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Total sync run duration",
			Buckets:   prom.ExponentialBuckets(1, 2, 12),
		}),
	}
	reg.MustRegister(pr.gapTransitions, pr.gapDuration, pr.pageRetries, pr.entitiesFetched, pr.commitConflicts, pr.runDuration)
	return pr
}

// Registry returns the registry the metrics are registered on.
func (p *PrometheusRecorder) Registry() *prom.Registry { return p.registry }

func (p *PrometheusRecorder) IncGapTransition(repo, state string) {
	p.gapTransitions.WithLabelValues(repo, state).Inc()
}

func (p *PrometheusRecorder) ObserveGapDuration(repo, outcome string, d time.Duration) {
	p.gapDuration.WithLabelValues(repo, outcome).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncPageRetry(repo, kind, reason string) {
	p.pageRetries.WithLabelValues(repo, kind, reason).Inc()
}

func (p *PrometheusRecorder) AddEntitiesFetched(repo, kind string, n int) {
	p.entitiesFetched.WithLabelValues(repo, kind).Add(float64(n))
}

func (p *PrometheusRecorder) IncCommitConflict(repo string) {
	p.commitConflicts.WithLabelValues(repo).Inc()
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	p.runDuration.Observe(d.Seconds())
}

// WriteTextfile writes every registered metric to path in the Prometheus
// text format, for node_exporter's textfile collector.
func (p *PrometheusRecorder) WriteTextfile(path string) error {
	if err := prom.WriteToTextfile(path, p.registry); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}
