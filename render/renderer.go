// Package render holds the renderer collaborator. Drawing itself happens
// elsewhere; this package owns the renderer's place in the plugin list, its
// camera and renderable components, and their part of a snapshot.
package render

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/signalsfoundry/sim-engine/blob"
	"github.com/signalsfoundry/sim-engine/internal/logging"
	"github.com/signalsfoundry/sim-engine/pathtable"
	"github.com/signalsfoundry/sim-engine/plugin"
	"github.com/signalsfoundry/sim-engine/universe"
)

// Name is the renderer's plugin name.
const Name = "renderer"

var (
	CameraType     = universe.ComponentTypeOf("camera")
	RenderableType = universe.ComponentTypeOf("renderable")
)

// ErrInvalidConfig is returned by Create for an unusable Config.
var ErrInvalidConfig = errors.New("invalid renderer config")

// Config controls renderer-wide settings.
type Config struct {
	ClearColor mgl32.Vec4
}

// DefaultConfig returns an opaque black clear color.
func DefaultConfig() Config {
	return Config{ClearColor: mgl32.Vec4{0, 0, 0, 1}}
}

// Renderer is the rendering plugin.
type Renderer struct {
	cfg   Config
	paths *pathtable.Table
	log   logging.Logger

	created bool
	frames  uint64
	scenes  []*Scene
}

var _ plugin.Plugin = (*Renderer)(nil)

// New returns a renderer that resolves model paths through paths.
func New(paths *pathtable.Table, cfg Config, log logging.Logger) *Renderer {
	return &Renderer{
		cfg:   cfg,
		paths: paths,
		log:   logging.OrNoop(log).With(logging.String("component", Name)),
	}
}

// Create validates the configuration and readies the renderer.
func (r *Renderer) Create() error {
	for i, c := range r.cfg.ClearColor {
		if c < 0 || c > 1 {
			return fmt.Errorf("%w: clear color channel %d = %v", ErrInvalidConfig, i, c)
		}
	}
	if r.paths == nil {
		return fmt.Errorf("%w: no path table", ErrInvalidConfig)
	}
	r.created = true
	r.log.Info(context.Background(), "renderer created")
	return nil
}

func (r *Renderer) Name() string { return Name }

// CreateScene binds a render scene to u.
func (r *Renderer) CreateScene(u *universe.Universe) plugin.Scene {
	s := &Scene{renderer: r, universe: u}
	r.scenes = append(r.scenes, s)
	return s
}

// DestroyScene releases the scene's interned paths.
func (r *Renderer) DestroyScene(ps plugin.Scene) {
	s, ok := ps.(*Scene)
	if !ok {
		return
	}
	for _, rd := range s.renderables {
		r.paths.Release(rd.Model)
	}
	s.renderables = nil
	s.cameras = nil
	for i, own := range r.scenes {
		if own == s {
			r.scenes = append(r.scenes[:i], r.scenes[i+1:]...)
			break
		}
	}
}

// Update counts presented frames.
func (r *Renderer) Update(dt float32) { r.frames++ }

// Close releases the renderer.
func (r *Renderer) Close() {
	r.created = false
	r.log.Info(context.Background(), "renderer closed", logging.Any("frames", r.frames))
}

// ClearColor returns the current clear color.
func (r *Renderer) ClearColor() mgl32.Vec4 { return r.cfg.ClearColor }

// SetClearColor changes the clear color.
func (r *Renderer) SetClearColor(c mgl32.Vec4) { r.cfg.ClearColor = c }

// Frames returns how many game frames the renderer has seen.
func (r *Renderer) Frames() uint64 { return r.frames }

// Serialize writes renderer-wide state.
func (r *Renderer) Serialize(w *blob.Writer) {
	for _, c := range r.cfg.ClearColor {
		w.WriteFloat32(c)
	}
	w.WriteUint64(r.frames)
}

// Deserialize restores renderer-wide state.
func (r *Renderer) Deserialize(rd *blob.Reader) error {
	var c mgl32.Vec4
	for i := range c {
		c[i] = rd.ReadFloat32()
	}
	frames := rd.ReadUint64()
	if err := rd.Err(); err != nil {
		return err
	}
	r.cfg.ClearColor = c
	r.frames = frames
	return nil
}
