package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if discoveryPagesTotal == nil || discoverySeedsTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(discoveryPagesTotal.WithLabelValues("data"))
	ObservePage("data")
	if got := testutil.ToFloat64(discoveryPagesTotal.WithLabelValues("data")); got != before+1 {
		t.Errorf("expected data pages to increase by 1, got %f -> %f", before, got)
	}

	beforeSeeds := testutil.ToFloat64(discoverySeedsTotal.WithLabelValues("processed"))
	ObserveSeed("processed")
	if got := testutil.ToFloat64(discoverySeedsTotal.WithLabelValues("processed")); got != beforeSeeds+1 {
		t.Errorf("expected processed seeds to increase by 1, got %f", got)
	}

	ObserveUpsert("error")
	if got := testutil.ToFloat64(discoveryUpsertsTotal.WithLabelValues("error")); got < 1 {
		t.Errorf("expected upsert errors to be recorded, got %f", got)
	}

	ObserveRateLimitWait(time.Minute)
	ObserveRun("completed", 3*time.Second)
	if got := testutil.ToFloat64(discoveryRunsTotal.WithLabelValues("completed")); got < 1 {
		t.Errorf("expected completed runs to be recorded, got %f", got)
	}

	SetRunInProgress(true)
	if got := testutil.ToFloat64(discoveryRunInProgress); got != 1 {
		t.Errorf("expected run gauge 1, got %f", got)
	}
	SetRunInProgress(false)
	if got := testutil.ToFloat64(discoveryRunInProgress); got != 0 {
		t.Errorf("expected run gauge 0, got %f", got)
	}
}
