// Package engine is the simulation orchestrator. An Engine owns at most one
// universe at a time together with its hierarchy and the scenes every
// loaded plugin contributes to it, drives those scenes once per frame in
// plugin registration order, and reads and writes the whole simulation as
// one ordered snapshot.
//
// An Engine is driven from a single goroutine. Scenes may fan work out
// through Jobs, but every call into the Engine runs to completion before
// returning.
package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/sim-engine/fs"
	"github.com/signalsfoundry/sim-engine/input"
	"github.com/signalsfoundry/sim-engine/internal/logging"
	"github.com/signalsfoundry/sim-engine/internal/observability"
	"github.com/signalsfoundry/sim-engine/jobs"
	"github.com/signalsfoundry/sim-engine/pathtable"
	"github.com/signalsfoundry/sim-engine/plugin"
	"github.com/signalsfoundry/sim-engine/render"
	"github.com/signalsfoundry/sim-engine/timectrl"
	"github.com/signalsfoundry/sim-engine/universe"
)

// Config selects the collaborators an Engine is built with. Zero values
// are replaced with engine-owned defaults.
type Config struct {
	// BasePath roots the disk device of the default file system.
	BasePath string
	// FileSystem, when set, is used as-is and not closed by the engine.
	FileSystem *fs.FileSystem
	// Paths is the process-wide path table included in every snapshot.
	Paths *pathtable.Table
	// Workers bounds the job dispatcher; zero means GOMAXPROCS.
	Workers int
}

// MetricsRecorder receives frame and snapshot measurements.
type MetricsRecorder interface {
	ObserveFrame(dt, fps float32, running bool)
	SetLiveScenes(n int)
	IncUniverses()
	ObserveSnapshot(op string, bytes int)
	IncSnapshotFailure(reason string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveFrame(float32, float32, bool) {}
func (noopMetrics) SetLiveScenes(int)                   {}
func (noopMetrics) IncUniverses()                       {}
func (noopMetrics) ObserveSnapshot(string, int)         {}
func (noopMetrics) IncSnapshotFailure(string)           {}

var _ MetricsRecorder = (*observability.EngineCollector)(nil)

// Option customises Engine construction.
type Option func(*Engine)

// WithLogger attaches a structured logger.
func WithLogger(log logging.Logger) Option {
	return func(e *Engine) { e.log = logging.OrNoop(log) }
}

// WithMetrics attaches a metrics recorder such as an
// observability.EngineCollector.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithTracer overrides the tracer used for lifecycle and snapshot spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithClock sets the clock behind the frame and FPS timers.
func WithClock(c timectrl.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithPluginFactory makes name loadable through LoadPlugin.
func WithPluginFactory(name string, f plugin.Factory) Option {
	return func(e *Engine) {
		e.factories = append(e.factories, namedFactory{name: name, factory: f})
	}
}

// WithRendererConfig overrides the renderer settings.
func WithRendererConfig(cfg render.Config) Option {
	return func(e *Engine) { e.rendererCfg = cfg }
}

type namedFactory struct {
	name    string
	factory plugin.Factory
}

// Engine is the orchestrator.
type Engine struct {
	cfg         Config
	log         logging.Logger
	metrics     MetricsRecorder
	tracer      trace.Tracer
	clock       timectrl.Clock
	factories   []namedFactory
	rendererCfg render.Config

	fileSystem    *fs.FileSystem
	ownsFS        bool
	paths         *pathtable.Table
	jobs          *jobs.Dispatcher
	pluginManager *plugin.Manager
	renderer      *render.Renderer
	input         input.System
	inputCreated  bool

	universe  *universe.Universe
	hierarchy *universe.Hierarchy
	scenes    []plugin.Scene

	timer         *timectrl.Timer
	fpsTimer      *timectrl.Timer
	fpsFrame      int
	fps           float32
	lastTimeDelta float32
}

var _ plugin.Host = (*Engine)(nil)

// New builds an engine. If the plugin manager, renderer or input system
// cannot be created, everything built so far is released and an error is
// returned.
func New(cfg Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:         cfg,
		log:         logging.Noop(),
		metrics:     noopMetrics{},
		clock:       timectrl.SystemClock{},
		rendererCfg: render.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(logging.String("component", "engine"))
	if e.tracer == nil {
		e.tracer = observability.Tracer()
	}

	e.paths = cfg.Paths
	if e.paths == nil {
		e.paths = pathtable.New()
	}

	if cfg.FileSystem != nil {
		e.fileSystem = cfg.FileSystem
	} else {
		fsys, err := newDefaultFileSystem(cfg.BasePath, e.log)
		if err != nil {
			return nil, err
		}
		e.fileSystem = fsys
		e.ownsFS = true
	}

	e.jobs = jobs.New(cfg.Workers)
	e.timer = timectrl.NewTimer(e.clock)
	e.fpsTimer = timectrl.NewTimer(e.clock)

	if err := e.create(); err != nil {
		e.log.Error(context.Background(), "engine construction failed", logging.Err(err))
		e.Close()
		return nil, err
	}
	e.log.Info(context.Background(), "engine created",
		logging.String("base_path", cfg.BasePath),
		logging.Int("workers", e.jobs.Workers()),
	)
	return e, nil
}

func newDefaultFileSystem(basePath string, log logging.Logger) (*fs.FileSystem, error) {
	fsys := fs.New(fs.WithLogger(log))
	fsys.Mount(fs.NewMemoryDevice())
	fsys.Mount(fs.NewDiskDevice(basePath))
	if err := fsys.SetDefaultDevice("memory:disk"); err != nil {
		fsys.Close()
		return nil, fmt.Errorf("default file system: %w", err)
	}
	if err := fsys.SetSaveGameDevice("memory:disk"); err != nil {
		fsys.Close()
		return nil, fmt.Errorf("default file system: %w", err)
	}
	return fsys, nil
}

func (e *Engine) create() error {
	e.pluginManager = plugin.NewManager(e, e.log)
	for _, f := range e.factories {
		e.pluginManager.RegisterFactory(f.name, f.factory)
	}

	r := render.New(e.paths, e.rendererCfg, e.log)
	if err := r.Create(); err != nil {
		r.Close()
		return fmt.Errorf("create renderer: %w", err)
	}
	e.renderer = r
	e.pluginManager.AddPlugin(r)

	if err := e.input.Create(); err != nil {
		return fmt.Errorf("create input system: %w", err)
	}
	e.inputCreated = true
	return nil
}

// Close destroys the live universe, if any, then every plugin in reverse
// registration order, then the remaining engine-owned collaborators.
func (e *Engine) Close() {
	if e.universe != nil {
		e.DestroyUniverse()
	}
	if e.pluginManager != nil {
		e.pluginManager.Close()
		e.pluginManager = nil
		e.renderer = nil
	}
	if e.inputCreated {
		e.input.Destroy()
		e.inputCreated = false
	}
	if e.jobs != nil {
		e.jobs.Close()
	}
	if e.ownsFS && e.fileSystem != nil {
		e.fileSystem.Close()
		e.fileSystem = nil
	}
}

// LoadPlugin loads the plugin registered under name. Scenes for it are
// created with the next universe.
func (e *Engine) LoadPlugin(name string) (plugin.Plugin, error) {
	return e.pluginManager.Load(name)
}

func (e *Engine) BasePath() string { return e.cfg.BasePath }
func (e *Engine) Paths() *pathtable.Table { return e.paths }
func (e *Engine) Jobs() *jobs.Dispatcher { return e.jobs }
func (e *Engine) FileSystem() *fs.FileSystem { return e.fileSystem }
func (e *Engine) Logger() logging.Logger { return e.log }
func (e *Engine) PluginManager() *plugin.Manager { return e.pluginManager }
func (e *Engine) Renderer() *render.Renderer { return e.renderer }
func (e *Engine) InputSystem() *input.System { return &e.input }
func (e *Engine) Universe() *universe.Universe { return e.universe }
func (e *Engine) Hierarchy() *universe.Hierarchy { return e.hierarchy }
