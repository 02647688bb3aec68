// Package orbit is a feature plugin that moves entities along SGP4 orbits.
// Each orbit component binds an entity to a TLE; every frame the scene
// advances its simulation clock, propagates all orbits in parallel on the
// host's job dispatcher and writes the resulting ECEF positions back into
// the universe.
package orbit

import (
	"context"
	"time"

	"github.com/signalsfoundry/sim-engine/blob"
	"github.com/signalsfoundry/sim-engine/internal/logging"
	"github.com/signalsfoundry/sim-engine/jobs"
	"github.com/signalsfoundry/sim-engine/plugin"
	"github.com/signalsfoundry/sim-engine/universe"
)

// Name is the plugin name orbit registers under.
const Name = "orbit"

// ComponentType identifies orbit components.
var ComponentType = universe.ComponentTypeOf("orbit")

// Config holds plugin settings.
type Config struct {
	// Epoch is the simulation time of scene time zero.
	Epoch time.Time
	// UnitsPerKm scales propagated kilometres into universe units.
	UnitsPerKm float32
}

// DefaultConfig starts the clock now with one universe unit per kilometre.
func DefaultConfig() Config {
	return Config{Epoch: time.Now().UTC(), UnitsPerKm: 1}
}

// Plugin owns the orbit scenes.
type Plugin struct {
	cfg  Config
	jobs *jobs.Dispatcher
	log  logging.Logger

	propagations uint64
}

var _ plugin.StatefulPlugin = (*Plugin)(nil)

// New returns an orbit plugin that fans work out on d.
func New(d *jobs.Dispatcher, cfg Config, log logging.Logger) *Plugin {
	if cfg.UnitsPerKm == 0 {
		cfg.UnitsPerKm = 1
	}
	return &Plugin{
		cfg:  cfg,
		jobs: d,
		log:  logging.OrNoop(log).With(logging.String("component", "orbit")),
	}
}

// NewFactory returns a factory that builds the plugin against its host.
func NewFactory(cfg Config) plugin.Factory {
	return func(h plugin.Host) (plugin.Plugin, error) {
		return New(h.Jobs(), cfg, h.Logger()), nil
	}
}

func (p *Plugin) Name() string { return Name }

// Epoch returns the simulation time of scene time zero.
func (p *Plugin) Epoch() time.Time { return p.cfg.Epoch }

// Propagations returns the number of orbit propagations performed.
func (p *Plugin) Propagations() uint64 { return p.propagations }

func (p *Plugin) CreateScene(u *universe.Universe) plugin.Scene {
	return &Scene{plugin: p, universe: u}
}

func (p *Plugin) DestroyScene(s plugin.Scene) {
	if sc, ok := s.(*Scene); ok {
		sc.orbits = nil
	}
}

func (p *Plugin) Update(dt float32) {}

func (p *Plugin) Close() {
	p.log.Debug(context.Background(), "orbit plugin closed")
}

// SerializeState writes the epoch and the propagation counter.
func (p *Plugin) SerializeState(w *blob.Writer) {
	w.WriteInt64(p.cfg.Epoch.UnixNano())
	w.WriteUint64(p.propagations)
}

func (p *Plugin) DeserializeState(r *blob.Reader) error {
	epoch := r.ReadInt64()
	n := r.ReadUint64()
	if err := r.Err(); err != nil {
		return err
	}
	p.cfg.Epoch = time.Unix(0, epoch).UTC()
	p.propagations = n
	return nil
}
