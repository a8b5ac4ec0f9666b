package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AnyUserName/tilesched/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var _ scheduler.Metrics = (*Collector)(nil)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.ObserveSubmit("preparation", "queued")
	c.ObserveSubmit("preparation", "queued")
	c.ObserveSubmit("tile_batch", "cached")
	c.ObserveFinish("preparation", "ok", 2*time.Second)
	c.ObserveFinish("tile_batch", "cancelled", 10*time.Millisecond)
	c.SetQueueDepth(7)
	c.AddTilesGenerated(12)
	c.AddTilesGenerated(3)

	if got := testutil.ToFloat64(c.submits.WithLabelValues("preparation", "queued")); got != 2 {
		t.Errorf("queued preparations = %v", got)
	}
	if got := testutil.ToFloat64(c.finished.WithLabelValues("tile_batch", "cancelled")); got != 1 {
		t.Errorf("cancelled batches = %v", got)
	}
	if got := testutil.ToFloat64(c.queueDepth); got != 7 {
		t.Errorf("queue depth = %v", got)
	}
	if got := testutil.ToFloat64(c.tilesGenerated); got != 15 {
		t.Errorf("tiles generated = %v", got)
	}
	if n := testutil.CollectAndCount(c.duration); n != 2 {
		t.Errorf("duration series = %d, want 2", n)
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.AddTilesGenerated(4)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "tilesched_tiles_generated_total 4") {
		t.Errorf("body does not expose tile counter:\n%s", body)
	}
}
