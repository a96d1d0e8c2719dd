package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cruciblehq/keg/internal/build"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserve(t *testing.T) {
	m := New()

	m.Observe(&build.Result{Outcome: build.OutcomeSuccess, Duration: 3 * time.Second})
	m.Observe(&build.Result{Outcome: build.OutcomeSuccess, Skipped: true})
	m.Observe(&build.Result{Outcome: build.OutcomeChecksumMismatch, Duration: time.Second})

	if got := testutil.ToFloat64(m.executions.WithLabelValues("success")); got != 2 {
		t.Fatalf("success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.executions.WithLabelValues("checksum-mismatch")); got != 1 {
		t.Fatalf("checksum-mismatch = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.executions.WithLabelValues("timeout")); got != 0 {
		t.Fatalf("timeout = %v, want 0", got)
	}

	counts := m.Counts()
	if counts[build.OutcomeSuccess] != 2 || counts[build.OutcomeChecksumMismatch] != 1 {
		t.Fatalf("counts = %v", counts)
	}

	// Skipped executions stay out of the histogram.
	if n := testutil.CollectAndCount(m.duration); n != 2 {
		t.Fatalf("histogram series = %d, want 2", n)
	}
}

func TestAllOutcomesExported(t *testing.T) {
	m := New()
	if n := testutil.CollectAndCount(m.executions); n != len(build.Outcomes) {
		t.Fatalf("series = %d, want %d", n, len(build.Outcomes))
	}
}

func TestRetried(t *testing.T) {
	m := New()
	m.Retried()
	m.Retried()

	want := `
# HELP keg_fetch_retries_total Number of source download attempts retried after a transient failure.
# TYPE keg_fetch_retries_total counter
keg_fetch_retries_total 2
`
	if err := testutil.CollectAndCompare(m.retries, strings.NewReader(want)); err != nil {
		t.Fatal(err)
	}
}

func TestWriteFile(t *testing.T) {
	m := New()
	m.Observe(&build.Result{Outcome: build.OutcomeBuildFailed, Duration: time.Minute})

	path := filepath.Join(t.TempDir(), "keg.prom")
	if err := m.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `keg_executions_total{outcome="build-failed"} 1`) {
		t.Fatalf("textfile missing counter:\n%s", data)
	}

	if err := m.WriteFile(""); err != nil {
		t.Fatalf("WriteFile(\"\") = %v, want nil", err)
	}
}
