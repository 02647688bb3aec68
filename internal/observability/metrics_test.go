package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestObserveFrameRecordsModeAndFPS(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("NewEngineCollector: %v", err)
	}

	collector.ObserveFrame(0.016, 60, true)
	collector.ObserveFrame(0.016, 61, true)
	collector.ObserveFrame(0.016, 62, false)

	if got := testutil.ToFloat64(collector.FramesTotal.WithLabelValues("game")); got != 2 {
		t.Fatalf("engine_frames_total{mode=game} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.FramesTotal.WithLabelValues("edit")); got != 1 {
		t.Fatalf("engine_frames_total{mode=edit} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.FPS); got != 62 {
		t.Fatalf("engine_fps = %v, want 62", got)
	}
	if count := histogramSampleCount(t, reg, "engine_frame_delta_seconds", nil); count != 3 {
		t.Fatalf("engine_frame_delta_seconds sample_count = %d, want 3", count)
	}
}

func TestSnapshotMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("NewEngineCollector: %v", err)
	}
	collector.ObserveSnapshot("serialize", 1024)
	collector.IncSnapshotFailure("bad_magic")

	if got := testutil.ToFloat64(collector.SnapshotFailures.WithLabelValues("bad_magic")); got != 1 {
		t.Fatalf("engine_snapshot_failures_total = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "engine_snapshot_bytes", map[string]string{"op": "serialize"}); count != 1 {
		t.Fatalf("engine_snapshot_bytes sample_count = %d, want 1", count)
	}
}

func TestRegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("first NewEngineCollector: %v", err)
	}
	second, err := NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("second NewEngineCollector: %v", err)
	}
	second.IncUniverses()
	if got := testutil.ToFloat64(first.UniversesCreated); got != 1 {
		t.Fatalf("shared counter = %v, want 1", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *EngineCollector
	c.ObserveFrame(1, 1, true)
	c.SetLiveScenes(3)
	c.IncUniverses()
	c.ObserveSnapshot("serialize", 10)
	c.IncSnapshotFailure("x")
}

func TestMetricsHandlerExposesEngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("NewEngineCollector: %v", err)
	}
	collector.SetLiveScenes(4)
	collector.ObserveFrame(0.02, 50, true)
	collector.IncSnapshotFailure("unsupported_version")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"engine_frame_delta_seconds",
		"engine_frames_total",
		"engine_fps",
		"engine_live_scenes 4",
		"engine_snapshot_failures_total",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
