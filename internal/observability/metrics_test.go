package observability

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.RecordBankRows(8, 2)
	m.RecordMatcherAttempt("error")
	m.RecordMatcherAttempt("success")
	m.RecordCandidate("OK")
	m.RecordCandidate("REJECTED")
	m.RecordCandidate("REJECTED")
	m.RecordJournal(3, map[string]int{"low_confidence": 1, "unmatched": 2}, 1)
	m.RecordBatch("success")
	m.ObserveStage("normalize", 15*time.Millisecond)

	assert.Equal(t, 8.0, testutil.ToFloat64(m.bankRows.WithLabelValues("normalized")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.bankRows.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.matcherAttempts.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.candidates.WithLabelValues("REJECTED")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.journalEntries))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.reviewItems.WithLabelValues("unmatched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.duplicates))
	assert.Equal(t, 1, testutil.CollectAndCount(m.stageDuration))
}

func TestMetrics_PrivateRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.RecordBatch("failed")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.batches.WithLabelValues("failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.batches.WithLabelValues("failed")))
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.RecordJournal(4, nil, 0)

	path := filepath.Join(t.TempDir(), "reconcile.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "reconcile_journal_entries_total 4")
}
