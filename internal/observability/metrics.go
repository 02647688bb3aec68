package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EngineCollector bundles Prometheus metrics for the frame loop, universe
// lifecycle and snapshot protocol.
type EngineCollector struct {
	gatherer prometheus.Gatherer

	FrameDelta       prometheus.Histogram
	FramesTotal      *prometheus.CounterVec
	FPS              prometheus.Gauge
	LiveScenes       prometheus.Gauge
	UniversesCreated prometheus.Counter
	SnapshotBytes    *prometheus.HistogramVec
	SnapshotFailures *prometheus.CounterVec
}

// NewEngineCollector registers engine metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewEngineCollector(reg prometheus.Registerer) (*EngineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	delta, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_frame_delta_seconds",
		Help:    "Effective simulated time step per frame, after the multiplier.",
		Buckets: []float64{0.001, 0.004, 0.008, 0.016, 0.033, 0.05, 0.1, 0.25, 0.5, 1},
	}), "engine_frame_delta_seconds")
	if err != nil {
		return nil, err
	}

	frames, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_frames_total",
		Help: "Frames updated, labeled by mode (game or edit).",
	}, []string{"mode"}), "engine_frames_total")
	if err != nil {
		return nil, err
	}

	fps, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_fps",
		Help: "Current frames-per-second estimate.",
	}), "engine_fps")
	if err != nil {
		return nil, err
	}

	scenes, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_live_scenes",
		Help: "Number of scenes bound to the live universe.",
	}), "engine_live_scenes")
	if err != nil {
		return nil, err
	}

	universes, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_universes_created_total",
		Help: "Universes created over the engine's lifetime.",
	}), "engine_universes_created_total")
	if err != nil {
		return nil, err
	}

	snapshotBytes, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_snapshot_bytes",
		Help:    "Snapshot stream size in bytes, labeled by operation.",
		Buckets: prometheus.ExponentialBuckets(256, 4, 10),
	}, []string{"op"}), "engine_snapshot_bytes")
	if err != nil {
		return nil, err
	}

	failures, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_snapshot_failures_total",
		Help: "Snapshots rejected while deserializing, labeled by reason.",
	}, []string{"reason"}), "engine_snapshot_failures_total")
	if err != nil {
		return nil, err
	}

	return &EngineCollector{
		gatherer:         gatherer,
		FrameDelta:       delta,
		FramesTotal:      frames,
		FPS:              fps,
		LiveScenes:       scenes,
		UniversesCreated: universes,
		SnapshotBytes:    snapshotBytes,
		SnapshotFailures: failures,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *EngineCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveFrame records one frame update.
func (c *EngineCollector) ObserveFrame(dt, fps float32, running bool) {
	if c == nil {
		return
	}
	mode := "edit"
	if running {
		mode = "game"
	}
	c.FrameDelta.Observe(float64(dt))
	c.FramesTotal.WithLabelValues(mode).Inc()
	c.FPS.Set(float64(fps))
}

// SetLiveScenes updates the live-scene gauge.
func (c *EngineCollector) SetLiveScenes(n int) {
	if c == nil {
		return
	}
	c.LiveScenes.Set(float64(n))
}

// IncUniverses counts a created universe.
func (c *EngineCollector) IncUniverses() {
	if c == nil {
		return
	}
	c.UniversesCreated.Inc()
}

// ObserveSnapshot records the size of a serialized or deserialized stream.
func (c *EngineCollector) ObserveSnapshot(op string, bytes int) {
	if c == nil {
		return
	}
	c.SnapshotBytes.WithLabelValues(op).Observe(float64(bytes))
}

// IncSnapshotFailure counts a rejected snapshot.
func (c *EngineCollector) IncSnapshotFailure(reason string) {
	if c == nil {
		return
	}
	c.SnapshotFailures.WithLabelValues(reason).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
