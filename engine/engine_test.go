package engine_test

import (
	"errors"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/sim-engine/engine"
	"github.com/signalsfoundry/sim-engine/internal/logging"
	"github.com/signalsfoundry/sim-engine/internal/observability"
	"github.com/signalsfoundry/sim-engine/plugin"
	"github.com/signalsfoundry/sim-engine/plugin/plugintest"
	"github.com/signalsfoundry/sim-engine/render"
	"github.com/signalsfoundry/sim-engine/timectrl"
	"github.com/signalsfoundry/sim-engine/universe"
)

type fixture struct {
	engine  *engine.Engine
	journal *plugintest.Journal
	clock   *timectrl.FakeClock
	log     *logging.Recorder
	plugins map[string]*plugintest.Plugin
}

func factoryFor(p plugin.Plugin) plugin.Factory {
	return func(plugin.Host) (plugin.Plugin, error) { return p, nil }
}

// newFixture builds an engine with recording plugins loaded in the order
// given. Names prefixed with '*' become stateful plugins.
func newFixture(t *testing.T, names []string, opts ...engine.Option) *fixture {
	t.Helper()
	f := &fixture{
		journal: &plugintest.Journal{},
		clock:   timectrl.NewFakeClock(time.Unix(1_700_000_000, 0)),
		log:     logging.NewRecorder(),
		plugins: make(map[string]*plugintest.Plugin),
	}
	opts = append([]engine.Option{
		engine.WithClock(f.clock),
		engine.WithLogger(f.log),
	}, opts...)

	var order []string
	for _, raw := range names {
		name := raw
		var p plugin.Plugin
		if raw[0] == '*' {
			name = raw[1:]
			sp := plugintest.NewStateful(name, f.journal, name+".component")
			f.plugins[name] = sp.Plugin
			p = sp
		} else {
			rp := plugintest.New(name, f.journal, name+".component")
			f.plugins[name] = rp
			p = rp
		}
		opts = append(opts, engine.WithPluginFactory(name, factoryFor(p)))
		order = append(order, name)
	}

	e, err := engine.New(engine.Config{BasePath: t.TempDir(), Workers: 2}, opts...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(e.Close)
	for _, name := range order {
		if _, err := e.LoadPlugin(name); err != nil {
			t.Fatalf("LoadPlugin(%q): %v", name, err)
		}
	}
	f.engine = e
	return f
}

func filter(calls []string, prefix string) []string {
	var out []string
	for _, c := range calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			out = append(out, c)
		}
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewRegistersRendererFirst(t *testing.T) {
	f := newFixture(t, []string{"a", "b"})
	plugins := f.engine.PluginManager().Plugins()
	if len(plugins) != 3 || plugins[0].Name() != render.Name {
		t.Fatalf("plugins = %v, want renderer first", plugins)
	}
	if f.engine.Renderer() == nil || f.engine.FileSystem() == nil || f.engine.Jobs() == nil {
		t.Fatalf("collaborators missing after New")
	}
	if f.engine.Universe() != nil || f.engine.Hierarchy() != nil {
		t.Fatalf("universe live before CreateUniverse")
	}
}

func TestNewFailsOnInvalidRendererConfig(t *testing.T) {
	cfg := render.DefaultConfig()
	cfg.ClearColor = mgl32.Vec4{-1, 0, 0, 1}
	e, err := engine.New(engine.Config{BasePath: t.TempDir()}, engine.WithRendererConfig(cfg))
	if !errors.Is(err, render.ErrInvalidConfig) {
		t.Fatalf("New error = %v, want ErrInvalidConfig", err)
	}
	if e != nil {
		t.Fatalf("New returned an engine alongside an error")
	}
}

func TestLoadPluginUnknown(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.engine.LoadPlugin("missing"); !errors.Is(err, plugin.ErrUnknownPlugin) {
		t.Fatalf("LoadPlugin error = %v, want ErrUnknownPlugin", err)
	}
}

func TestCreateUniverseCreatesScenesInOrder(t *testing.T) {
	f := newFixture(t, []string{"a", "b", "c"})
	f.plugins["b"].Decline = true

	u := f.engine.CreateUniverse()
	if u == nil || f.engine.Universe() != u || f.engine.Hierarchy() == nil {
		t.Fatalf("universe not installed")
	}
	want := []string{"create:a", "create:b", "create:c"}
	if got := filter(f.journal.Calls(), "create:"); !equalStrings(got, want) {
		t.Fatalf("create calls = %v, want %v", got, want)
	}

	scenes := f.engine.Scenes()
	if len(scenes) != 3 {
		t.Fatalf("scene count = %d, want 3 (renderer, a, c)", len(scenes))
	}
	names := []string{render.Name, "a", "c"}
	for i, s := range scenes {
		if s.Plugin().Name() != names[i] {
			t.Fatalf("scene %d plugin = %q, want %q", i, s.Plugin().Name(), names[i])
		}
	}
}

func TestCreateDestroyIsIdentity(t *testing.T) {
	f := newFixture(t, []string{"a", "b", "c"})
	f.engine.CreateUniverse()
	f.journal.Reset()

	f.engine.DestroyUniverse()
	want := []string{"destroy:c", "destroy:b", "destroy:a"}
	if got := f.journal.Calls(); !equalStrings(got, want) {
		t.Fatalf("destroy calls = %v, want %v", got, want)
	}
	if f.engine.Universe() != nil || f.engine.Hierarchy() != nil || len(f.engine.Scenes()) != 0 {
		t.Fatalf("engine still holds universe state after DestroyUniverse")
	}
	for name, p := range f.plugins {
		if len(p.Scenes) != 0 {
			t.Fatalf("plugin %q still holds %d scenes", name, len(p.Scenes))
		}
	}

	// A second cycle starts from a clean slate.
	f.engine.CreateUniverse()
	if len(f.engine.Scenes()) != 4 {
		t.Fatalf("scene count after recreate = %d, want 4", len(f.engine.Scenes()))
	}
}

func TestDestroyUniverseWithoutUniversePanics(t *testing.T) {
	f := newFixture(t, nil)
	defer func() {
		if recover() == nil {
			t.Fatalf("DestroyUniverse did not panic")
		}
	}()
	f.engine.DestroyUniverse()
}

func TestCreateUniverseTwicePanics(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.CreateUniverse()
	defer func() {
		if recover() == nil {
			t.Fatalf("second CreateUniverse did not panic")
		}
	}()
	f.engine.CreateUniverse()
}

func TestSceneLookup(t *testing.T) {
	f := newFixture(t, []string{"a", "b"})
	if f.engine.Scene(plugin.NameHash("a")) != nil {
		t.Fatalf("Scene returned a scene before CreateUniverse")
	}
	f.engine.CreateUniverse()

	s := f.engine.Scene(plugin.NameHash("b"))
	if s == nil || s.Plugin().Name() != "b" {
		t.Fatalf("Scene(b) = %v", s)
	}
	if got := f.engine.SceneByName("a"); got == nil || got.Plugin().Name() != "a" {
		t.Fatalf("SceneByName(a) = %v", got)
	}
	if f.engine.Scene(plugin.NameHash("missing")) != nil {
		t.Fatalf("Scene(missing) != nil")
	}

	got := f.engine.SceneByComponentType(universe.ComponentTypeOf("b.component"))
	if got == nil || got.Plugin().Name() != "b" {
		t.Fatalf("SceneByComponentType(b.component) = %v", got)
	}
	if got := f.engine.SceneByComponentType(render.CameraType); got == nil || got.Plugin().Name() != render.Name {
		t.Fatalf("SceneByComponentType(camera) = %v", got)
	}
	if f.engine.SceneByComponentType(universe.ComponentTypeOf("nothing")) != nil {
		t.Fatalf("SceneByComponentType(nothing) != nil")
	}
}

func TestSceneLookupReturnsFirstMatch(t *testing.T) {
	j := &plugintest.Journal{}
	first := plugintest.New("first", j, "shared")
	second := plugintest.New("second", j, "shared")
	e, err := engine.New(engine.Config{BasePath: t.TempDir()},
		engine.WithPluginFactory("first", factoryFor(first)),
		engine.WithPluginFactory("second", factoryFor(second)),
	)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	defer e.Close()
	for _, name := range []string{"first", "second"} {
		if _, err := e.LoadPlugin(name); err != nil {
			t.Fatalf("LoadPlugin: %v", err)
		}
	}
	e.CreateUniverse()

	got := e.SceneByComponentType(universe.ComponentTypeOf("shared"))
	if got == nil || got.Plugin().Name() != "first" {
		t.Fatalf("SceneByComponentType = %v, want first", got)
	}
}

func TestCloseOrder(t *testing.T) {
	j := &plugintest.Journal{}
	a := plugintest.New("a", j)
	b := plugintest.New("b", j)
	e, err := engine.New(engine.Config{BasePath: t.TempDir()},
		engine.WithPluginFactory("a", factoryFor(a)),
		engine.WithPluginFactory("b", factoryFor(b)),
	)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	for _, name := range []string{"a", "b"} {
		if _, err := e.LoadPlugin(name); err != nil {
			t.Fatalf("LoadPlugin: %v", err)
		}
	}
	e.CreateUniverse()
	j.Reset()

	e.Close()
	want := []string{"destroy:b", "destroy:a", "close:b", "close:a"}
	if got := j.Calls(); !equalStrings(got, want) {
		t.Fatalf("Close calls = %v, want %v", got, want)
	}
}

func TestMetricsRecordLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := observability.NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("NewEngineCollector: %v", err)
	}
	f := newFixture(t, []string{"a"}, engine.WithMetrics(collector))
	f.engine.CreateUniverse()
	f.engine.Update(true, 1, 0.5)
	f.engine.Update(false, 1, 0.5)

	if got := testutil.ToFloat64(collector.UniversesCreated); got != 1 {
		t.Fatalf("universes created = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.LiveScenes); got != 2 {
		t.Fatalf("live scenes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.FramesTotal.WithLabelValues("game")); got != 1 {
		t.Fatalf("game frames = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.FramesTotal.WithLabelValues("edit")); got != 1 {
		t.Fatalf("edit frames = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.FPS); got != 2 {
		t.Fatalf("fps gauge = %v, want 2", got)
	}
}
