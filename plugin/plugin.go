// Package plugin defines the contracts feature modules implement to take
// part in a simulation, and the Manager that keeps them in registration
// order.
//
// A Plugin contributes at most one Scene per universe. The engine never
// inspects a scene's contents: it updates, serializes and routes lookups
// through the Scene interface only.
package plugin

import (
	"hash/crc32"

	"github.com/signalsfoundry/sim-engine/blob"
	"github.com/signalsfoundry/sim-engine/fs"
	"github.com/signalsfoundry/sim-engine/internal/logging"
	"github.com/signalsfoundry/sim-engine/jobs"
	"github.com/signalsfoundry/sim-engine/pathtable"
	"github.com/signalsfoundry/sim-engine/universe"
)

// Plugin is a loadable feature module.
type Plugin interface {
	// Name identifies the plugin; its hash is the key for scene lookup.
	Name() string
	// CreateScene returns the plugin's scene for u, or nil to decline.
	CreateScene(u *universe.Universe) Scene
	// DestroyScene releases a scene previously returned by CreateScene.
	DestroyScene(s Scene)
	// Update runs once per game frame after every scene has updated.
	Update(dt float32)
	// Close releases plugin-wide resources.
	Close()
}

// StatefulPlugin is implemented by plugins with state outside their scenes
// that must be part of a snapshot.
type StatefulPlugin interface {
	Plugin
	SerializeState(w *blob.Writer)
	DeserializeState(r *blob.Reader) error
}

// Scene is one plugin's component state for one universe.
type Scene interface {
	Plugin() Plugin
	Update(dt float32)
	OwnsComponentType(t universe.ComponentType) bool
	Serialize(w *blob.Writer)
	Deserialize(r *blob.Reader) error
}

// Host exposes the engine services a plugin may use.
type Host interface {
	Paths() *pathtable.Table
	Jobs() *jobs.Dispatcher
	FileSystem() *fs.FileSystem
	Logger() logging.Logger
}

// Factory builds a plugin bound to host.
type Factory func(host Host) (Plugin, error)

// NameHash returns the lookup key for a plugin name.
func NameHash(name string) uint32 {
	return crc32.ChecksumIEEE([]byte(name))
}

// ComponentUID addresses one component instance inside a scene.
type ComponentUID struct {
	Entity universe.Entity
	Type   universe.ComponentType
	Scene  Scene
	Index  int
}

// InvalidComponent is the "no component" value.
var InvalidComponent = ComponentUID{Entity: universe.InvalidEntity, Index: -1}

// IsValid reports whether c refers to a component.
func (c ComponentUID) IsValid() bool { return c.Index >= 0 }

// Equal compares type, scene and index; the entity is not part of identity.
func (c ComponentUID) Equal(o ComponentUID) bool {
	return c.Type == o.Type && c.Scene == o.Scene && c.Index == o.Index
}

// Less orders components of the same type in the same scene by index. It
// panics when the components are not comparable.
func (c ComponentUID) Less(o ComponentUID) bool {
	if c.Type != o.Type || c.Scene != o.Scene {
		panic("plugin: comparing components of different types or scenes")
	}
	return c.Index < o.Index
}
