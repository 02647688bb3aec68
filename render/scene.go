package render

import (
	"errors"
	"fmt"
	"sort"

	"github.com/signalsfoundry/sim-engine/blob"
	"github.com/signalsfoundry/sim-engine/pathtable"
	"github.com/signalsfoundry/sim-engine/plugin"
	"github.com/signalsfoundry/sim-engine/universe"
)

// ErrUnknownPath is returned when a snapshot refers to a path missing from
// the path table.
var ErrUnknownPath = errors.New("path not in table")

// Camera is a perspective camera attached to an entity.
type Camera struct {
	Entity universe.Entity
	FOV    float32
	Near   float32
	Far    float32
}

// Renderable draws a model at an entity.
type Renderable struct {
	Entity universe.Entity
	Model  pathtable.Path
}

// Scene holds the render components of one universe.
type Scene struct {
	renderer *Renderer
	universe *universe.Universe

	cameras     []Camera
	renderables []Renderable

	time     float32
	drawList []universe.Entity
}

var _ plugin.Scene = (*Scene)(nil)

func (s *Scene) Plugin() plugin.Plugin { return s.renderer }

func (s *Scene) OwnsComponentType(t universe.ComponentType) bool {
	return t == CameraType || t == RenderableType
}

// AddCamera attaches a camera to e.
func (s *Scene) AddCamera(e universe.Entity, fov, near, far float32) plugin.ComponentUID {
	s.cameras = append(s.cameras, Camera{Entity: e, FOV: fov, Near: near, Far: far})
	return plugin.ComponentUID{Entity: e, Type: CameraType, Scene: s, Index: len(s.cameras) - 1}
}

// AddRenderable attaches model to e.
func (s *Scene) AddRenderable(e universe.Entity, model string) plugin.ComponentUID {
	p := s.renderer.paths.Intern(model)
	s.renderables = append(s.renderables, Renderable{Entity: e, Model: p})
	return plugin.ComponentUID{Entity: e, Type: RenderableType, Scene: s, Index: len(s.renderables) - 1}
}

// Cameras returns the scene's cameras.
func (s *Scene) Cameras() []Camera { return append([]Camera(nil), s.cameras...) }

// Renderables returns the scene's renderables.
func (s *Scene) Renderables() []Renderable { return append([]Renderable(nil), s.renderables...) }

// DrawList returns the entities selected for drawing by the last Update.
func (s *Scene) DrawList() []universe.Entity { return append([]universe.Entity(nil), s.drawList...) }

// Time returns the accumulated scene time.
func (s *Scene) Time() float32 { return s.time }

// Update rebuilds the draw list: every live renderable, limited to the
// first camera's far distance when a camera exists.
func (s *Scene) Update(dt float32) {
	s.time += dt
	s.drawList = s.drawList[:0]

	var cam *Camera
	for i := range s.cameras {
		if s.universe.HasEntity(s.cameras[i].Entity) {
			cam = &s.cameras[i]
			break
		}
	}
	for _, rd := range s.renderables {
		if !s.universe.HasEntity(rd.Entity) {
			continue
		}
		if cam != nil {
			d := s.universe.Position(rd.Entity).Sub(s.universe.Position(cam.Entity)).Len()
			if d > cam.Far {
				continue
			}
		}
		s.drawList = append(s.drawList, rd.Entity)
	}
	sort.Slice(s.drawList, func(i, j int) bool { return s.drawList[i] < s.drawList[j] })
}

func (s *Scene) Serialize(w *blob.Writer) {
	w.WriteFloat32(s.time)
	w.WriteUint32(uint32(len(s.cameras)))
	for _, c := range s.cameras {
		w.WriteInt32(int32(c.Entity))
		w.WriteFloat32(c.FOV)
		w.WriteFloat32(c.Near)
		w.WriteFloat32(c.Far)
	}
	w.WriteUint32(uint32(len(s.renderables)))
	for _, rd := range s.renderables {
		w.WriteInt32(int32(rd.Entity))
		w.WriteUint32(rd.Model.Hash)
	}
}

// Deserialize restores components. Model paths resolve through the path
// table, which a snapshot restores before any scene.
func (s *Scene) Deserialize(r *blob.Reader) error {
	t := r.ReadFloat32()
	n := int(r.ReadUint32())
	if err := r.Err(); err != nil {
		return err
	}
	if n > r.Remaining() {
		return fmt.Errorf("camera count %d exceeds remaining data: %w", n, blob.ErrShortRead)
	}
	cameras := make([]Camera, n)
	for i := range cameras {
		cameras[i] = Camera{
			Entity: universe.Entity(r.ReadInt32()),
			FOV:    r.ReadFloat32(),
			Near:   r.ReadFloat32(),
			Far:    r.ReadFloat32(),
		}
	}
	n = int(r.ReadUint32())
	if err := r.Err(); err != nil {
		return err
	}
	if n > r.Remaining() {
		return fmt.Errorf("renderable count %d exceeds remaining data: %w", n, blob.ErrShortRead)
	}
	renderables := make([]Renderable, n)
	for i := range renderables {
		e := universe.Entity(r.ReadInt32())
		h := r.ReadUint32()
		if r.Err() != nil {
			break
		}
		p, ok := s.renderer.paths.Lookup(h)
		if !ok {
			return fmt.Errorf("renderable on entity %d: %w: %08x", e, ErrUnknownPath, h)
		}
		renderables[i] = Renderable{Entity: e, Model: p}
	}
	if err := r.Err(); err != nil {
		return err
	}

	s.time = t
	s.cameras = cameras
	s.renderables = renderables
	s.drawList = s.drawList[:0]
	return nil
}
