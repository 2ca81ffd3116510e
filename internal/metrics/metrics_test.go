package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second Register: %v", err)
	}
}

func TestCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	before := testutil.ToFloat64(updateChecks.WithLabelValues("new"))
	IncCheck("new")
	after := testutil.ToFloat64(updateChecks.WithLabelValues("new"))
	if after != before+1 {
		t.Fatalf("checks_total{new} = %v, want %v", after, before+1)
	}

	before = testutil.ToFloat64(downloads.WithLabelValues("ok"))
	IncDownload("ok")
	if got := testutil.ToFloat64(downloads.WithLabelValues("ok")); got != before+1 {
		t.Fatalf("downloads_total{ok} = %v, want %v", got, before+1)
	}

	before = testutil.ToFloat64(rollbacks.WithLabelValues("ok"))
	IncRollback("ok")
	if got := testutil.ToFloat64(rollbacks.WithLabelValues("ok")); got != before+1 {
		t.Fatalf("rollbacks_total{ok} = %v, want %v", got, before+1)
	}
}

func TestSetCurrentVersionResetsPreviousLabel(t *testing.T) {
	SetCurrentVersion("v1.0.0")
	SetCurrentVersion("v1.1.0")
	if got := testutil.ToFloat64(currentInfo.WithLabelValues("v1.1.0")); got != 1 {
		t.Fatalf("current_info{v1.1.0} = %v, want 1", got)
	}
	// Only one version label may be set at a time.
	if got := testutil.CollectAndCount(currentInfo); got != 1 {
		t.Fatalf("current_info series = %d, want 1", got)
	}
	SetCurrentVersion("")
	if got := testutil.CollectAndCount(currentInfo); got != 0 {
		t.Fatalf("current_info series after clear = %d, want 0", got)
	}
}
