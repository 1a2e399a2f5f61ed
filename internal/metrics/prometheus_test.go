package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.IncGapTransition("org/repo", "fetching")
	pr.IncGapTransition("org/repo", "committed")
	pr.ObserveGapDuration("org/repo", "committed", 1500*time.Millisecond)
	pr.IncPageRetry("org/repo", "reviews", "rate_limited")
	pr.AddEntitiesFetched("org/repo", "pull_requests", 7)
	pr.AddEntitiesFetched("org/repo", "pull_requests", 3)
	pr.IncCommitConflict("org/repo")
	pr.ObserveRunDuration(3 * time.Second)

	assert.Equal(t, 10.0, testutil.ToFloat64(pr.entitiesFetched.WithLabelValues("org/repo", "pull_requests")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.pageRetries.WithLabelValues("org/repo", "reviews", "rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.commitConflicts.WithLabelValues("org/repo")))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, mfs, 6)
}

func TestPrometheusRecorder_WriteTextfile(t *testing.T) {
	pr := NewPrometheusRecorder(nil)
	pr.IncGapTransition("org/repo", "committed")

	path := filepath.Join(t.TempDir(), "prstats.prom")
	require.NoError(t, pr.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `prstats_gap_transitions_total{repo="org/repo",state="committed"} 1`)
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	assert.NotPanics(t, func() {
		r.IncGapTransition("org/repo", "failed")
		r.ObserveGapDuration("org/repo", "failed", time.Second)
		r.IncPageRetry("org/repo", "comments", "transient")
		r.AddEntitiesFetched("org/repo", "comments", 1)
		r.IncCommitConflict("org/repo")
		r.ObserveRunDuration(time.Second)
	})
}
