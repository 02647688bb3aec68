// Package plugintest provides recording plugins and scenes for tests of
// code that drives the plugin contracts.
package plugintest

import (
	"fmt"
	"sync"

	"github.com/signalsfoundry/sim-engine/blob"
	"github.com/signalsfoundry/sim-engine/plugin"
	"github.com/signalsfoundry/sim-engine/universe"
)

// Journal records calls across every plugin and scene sharing it.
type Journal struct {
	mu    sync.Mutex
	calls []string
}

// Record appends a formatted call.
func (j *Journal) Record(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, fmt.Sprintf(format, args...))
}

// Calls returns the recorded calls in order.
func (j *Journal) Calls() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.calls...)
}

// Reset forgets all recorded calls.
func (j *Journal) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = nil
}

// Plugin is a recording plugin.
type Plugin struct {
	name    string
	journal *Journal
	types   []universe.ComponentType

	// Decline makes CreateScene return nil.
	Decline bool
	// Scenes holds the scenes created and not yet destroyed.
	Scenes []*Scene
}

var _ plugin.Plugin = (*Plugin)(nil)

// New returns a plugin named name whose scenes own the given component types.
func New(name string, j *Journal, componentTypes ...string) *Plugin {
	p := &Plugin{name: name, journal: j}
	for _, t := range componentTypes {
		p.types = append(p.types, universe.ComponentTypeOf(t))
	}
	return p
}

func (p *Plugin) Name() string { return p.name }

func (p *Plugin) CreateScene(u *universe.Universe) plugin.Scene {
	p.journal.Record("create:%s", p.name)
	if p.Decline {
		return nil
	}
	s := &Scene{plugin: p, Universe: u}
	p.Scenes = append(p.Scenes, s)
	return s
}

func (p *Plugin) DestroyScene(s plugin.Scene) {
	p.journal.Record("destroy:%s", p.name)
	for i, own := range p.Scenes {
		if plugin.Scene(own) == s {
			p.Scenes = append(p.Scenes[:i], p.Scenes[i+1:]...)
			return
		}
	}
}

func (p *Plugin) Update(dt float32) { p.journal.Record("plugin-update:%s", p.name) }

func (p *Plugin) Close() { p.journal.Record("close:%s", p.name) }

// Scene is a recording scene whose state is a counter and a payload.
type Scene struct {
	plugin   *Plugin
	Universe *universe.Universe

	Ticks   uint64
	Elapsed float32
	Payload []byte
}

var _ plugin.Scene = (*Scene)(nil)

func (s *Scene) Plugin() plugin.Plugin { return s.plugin }

func (s *Scene) Update(dt float32) {
	s.plugin.journal.Record("update:%s", s.plugin.name)
	s.Ticks++
	s.Elapsed += dt
}

func (s *Scene) OwnsComponentType(t universe.ComponentType) bool {
	for _, own := range s.plugin.types {
		if own == t {
			return true
		}
	}
	return false
}

func (s *Scene) Serialize(w *blob.Writer) {
	w.WriteUint64(s.Ticks)
	w.WriteFloat32(s.Elapsed)
	w.WriteBlock(s.Payload)
}

func (s *Scene) Deserialize(r *blob.Reader) error {
	s.Ticks = r.ReadUint64()
	s.Elapsed = r.ReadFloat32()
	s.Payload = append([]byte(nil), r.ReadBlock()...)
	return r.Err()
}

// StatefulPlugin is a recording plugin with plugin-wide state.
type StatefulPlugin struct {
	*Plugin
	State uint32
}

var _ plugin.StatefulPlugin = (*StatefulPlugin)(nil)

// NewStateful returns a stateful recording plugin.
func NewStateful(name string, j *Journal, componentTypes ...string) *StatefulPlugin {
	return &StatefulPlugin{Plugin: New(name, j, componentTypes...)}
}

func (p *StatefulPlugin) SerializeState(w *blob.Writer) { w.WriteUint32(p.State) }

func (p *StatefulPlugin) DeserializeState(r *blob.Reader) error {
	p.State = r.ReadUint32()
	return r.Err()
}
