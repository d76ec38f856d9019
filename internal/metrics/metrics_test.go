package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIsIdempotentAndCollectorsAreUsable(t *testing.T) {
	pagesFetchedTotal = nil
	reviewsDedupedTotal = nil
	captchaSolvesTotal = nil
	syncDurationSeconds = nil
	activeSyncs = nil
	sessionResetsTotal = nil
	pageDelaysSeconds = nil
	once = sync.Once{}

	Init()
	Init()

	if pagesFetchedTotal == nil || reviewsDedupedTotal == nil || captchaSolvesTotal == nil ||
		syncDurationSeconds == nil || activeSyncs == nil || sessionResetsTotal == nil || pageDelaysSeconds == nil {
		t.Fatal("Init() did not initialize all metrics collectors")
	}

	ObservePage("/maps/api/business/fetchReviews", "ok")
	if val := testutil.ToFloat64(pagesFetchedTotal.WithLabelValues("/maps/api/business/fetchReviews", "ok")); val != 1 {
		t.Errorf("expected pagesFetchedTotal to be 1, got %f", val)
	}

	ObserveDedupDrop("duplicate_id")
	if val := testutil.ToFloat64(reviewsDedupedTotal.WithLabelValues("duplicate_id")); val != 1 {
		t.Errorf("expected reviewsDedupedTotal to be 1, got %f", val)
	}

	ObserveCaptchaSolve("yandex", "solved")
	if val := testutil.ToFloat64(captchaSolvesTotal.WithLabelValues("yandex", "solved")); val != 1 {
		t.Errorf("expected captchaSolvesTotal to be 1, got %f", val)
	}

	ObserveSyncDuration("full", 2*time.Second)
	if val := testutil.CollectAndCount(syncDurationSeconds); val <= 0 {
		t.Errorf("expected syncDurationSeconds to be observed")
	}

	IncActiveSyncs()
	if val := testutil.ToFloat64(activeSyncs); val != 1 {
		t.Errorf("expected activeSyncs to be 1, got %f", val)
	}
	DecActiveSyncs()
	if val := testutil.ToFloat64(activeSyncs); val != 0 {
		t.Errorf("expected activeSyncs to be 0, got %f", val)
	}

	ObserveSessionReset()
	if val := testutil.ToFloat64(sessionResetsTotal); val != 1 {
		t.Errorf("expected sessionResetsTotal to be 1, got %f", val)
	}

	ObservePageDelay("page", 500*time.Millisecond)
	if val := testutil.CollectAndCount(pageDelaysSeconds); val <= 0 {
		t.Errorf("expected pageDelaysSeconds to be observed")
	}
}
