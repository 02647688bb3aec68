package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/sim-engine/blob"
	"github.com/signalsfoundry/sim-engine/internal/logging"
)

var (
	// ErrUnknownPlugin indicates Load was asked for a name with no factory.
	ErrUnknownPlugin = errors.New("unknown plugin")
	// ErrPluginSetMismatch indicates a snapshot written with a different plugin list.
	ErrPluginSetMismatch = errors.New("plugin set does not match snapshot")
)

// Manager holds the loaded plugins in registration order. That order is the
// order scenes are created, updated and serialized in.
type Manager struct {
	mu        sync.RWMutex
	host      Host
	plugins   []Plugin
	factories map[string]Factory
	log       logging.Logger
}

// NewManager returns an empty manager whose factories build against host.
func NewManager(host Host, log logging.Logger) *Manager {
	return &Manager{
		host:      host,
		factories: make(map[string]Factory),
		log:       logging.OrNoop(log).With(logging.String("component", "plugin_manager")),
	}
}

// RegisterFactory makes name loadable through Load.
func (m *Manager) RegisterFactory(name string, f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[name] = f
}

// AddPlugin appends p to the plugin list.
func (m *Manager) AddPlugin(p Plugin) {
	m.mu.Lock()
	m.plugins = append(m.plugins, p)
	m.mu.Unlock()
	m.log.Info(context.Background(), "plugin added", logging.String("plugin", p.Name()))
}

// Load builds the plugin registered under name and appends it. Loading a
// name that is already loaded returns the existing plugin.
func (m *Manager) Load(name string) (Plugin, error) {
	if p := m.Plugin(name); p != nil {
		return p, nil
	}

	m.mu.RLock()
	f, ok := m.factories[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("load %q: %w", name, ErrUnknownPlugin)
	}

	p, err := f(m.host)
	if err != nil {
		m.log.Error(context.Background(), "plugin failed to load", logging.String("plugin", name), logging.Err(err))
		return nil, fmt.Errorf("load %q: %w", name, err)
	}
	m.AddPlugin(p)
	return p, nil
}

// Plugins returns the plugin list in registration order.
func (m *Manager) Plugins() []Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Plugin(nil), m.plugins...)
}

// Plugin returns the loaded plugin called name, or nil.
func (m *Manager) Plugin(name string) Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// Update runs every plugin's per-frame update in registration order.
func (m *Manager) Update(dt float32) {
	for _, p := range m.Plugins() {
		p.Update(dt)
	}
}

// Serialize writes the plugin name hashes followed by the state of every
// StatefulPlugin, in registration order.
func (m *Manager) Serialize(w *blob.Writer) {
	plugins := m.Plugins()
	w.WriteUint32(uint32(len(plugins)))
	for _, p := range plugins {
		w.WriteUint32(NameHash(p.Name()))
	}
	for _, p := range plugins {
		if sp, ok := p.(StatefulPlugin); ok {
			sp.SerializeState(w)
		}
	}
}

// Deserialize checks that the snapshot was written with the same plugin
// list and restores plugin state.
func (m *Manager) Deserialize(r *blob.Reader) error {
	plugins := m.Plugins()
	n := int(r.ReadUint32())
	if err := r.Err(); err != nil {
		return err
	}
	if n != len(plugins) {
		return fmt.Errorf("%w: snapshot has %d plugins, %d loaded", ErrPluginSetMismatch, n, len(plugins))
	}
	for _, p := range plugins {
		h := r.ReadUint32()
		if r.Err() == nil && h != NameHash(p.Name()) {
			return fmt.Errorf("%w: expected %q", ErrPluginSetMismatch, p.Name())
		}
	}
	if err := r.Err(); err != nil {
		return err
	}
	for _, p := range plugins {
		if sp, ok := p.(StatefulPlugin); ok {
			if err := sp.DeserializeState(r); err != nil {
				return fmt.Errorf("plugin %q state: %w", p.Name(), err)
			}
		}
	}
	return nil
}

// Close closes every plugin in reverse registration order and empties the list.
func (m *Manager) Close() {
	m.mu.Lock()
	plugins := m.plugins
	m.plugins = nil
	m.mu.Unlock()

	for i := len(plugins) - 1; i >= 0; i-- {
		plugins[i].Close()
	}
}
