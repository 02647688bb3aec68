package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/sim-engine/internal/logging"
	"github.com/signalsfoundry/sim-engine/plugin"
	"github.com/signalsfoundry/sim-engine/universe"
)

// CreateUniverse creates an empty universe and its hierarchy, then asks
// every loaded plugin, in registration order, for a scene bound to it.
// Plugins that decline contribute nothing. It panics if a universe is
// already live.
func (e *Engine) CreateUniverse() *universe.Universe {
	if e.universe != nil {
		panic("engine: CreateUniverse called while a universe is live")
	}
	ctx, span := e.tracer.Start(context.Background(), "engine.CreateUniverse")
	defer span.End()

	u := universe.New()
	e.universe = u
	e.hierarchy = universe.NewHierarchy(u)
	for _, p := range e.pluginManager.Plugins() {
		if s := p.CreateScene(u); s != nil {
			e.scenes = append(e.scenes, s)
		}
	}

	span.SetAttributes(
		attribute.String("universe.id", u.ID().String()),
		attribute.Int("scenes", len(e.scenes)),
	)
	e.metrics.IncUniverses()
	e.metrics.SetLiveScenes(len(e.scenes))
	e.log.Info(ctx, "universe created",
		logging.String("universe_id", u.ID().String()),
		logging.Int("scenes", len(e.scenes)),
	)
	return u
}

// DestroyUniverse asks each scene's plugin to destroy it, last-created
// first, then destroys the hierarchy and the universe. Later scenes may
// refer to earlier ones, so the order is part of the contract. It panics
// if no universe is live.
func (e *Engine) DestroyUniverse() {
	if e.universe == nil {
		panic("engine: DestroyUniverse called without a live universe")
	}
	ctx, span := e.tracer.Start(context.Background(), "engine.DestroyUniverse")
	defer span.End()

	id := e.universe.ID().String()
	for i := len(e.scenes) - 1; i >= 0; i-- {
		e.scenes[i].Plugin().DestroyScene(e.scenes[i])
	}
	e.scenes = nil
	e.hierarchy.Destroy()
	e.hierarchy = nil
	e.universe = nil

	e.metrics.SetLiveScenes(0)
	e.log.Info(ctx, "universe destroyed", logging.String("universe_id", id))
}

// Scenes returns the live scenes in registration order.
func (e *Engine) Scenes() []plugin.Scene {
	return append([]plugin.Scene(nil), e.scenes...)
}

// Scene returns the first live scene whose plugin name hashes to nameHash
// (see plugin.NameHash), or nil.
func (e *Engine) Scene(nameHash uint32) plugin.Scene {
	for _, s := range e.scenes {
		if plugin.NameHash(s.Plugin().Name()) == nameHash {
			return s
		}
	}
	return nil
}

// SceneByName is Scene keyed by plugin name.
func (e *Engine) SceneByName(name string) plugin.Scene {
	return e.Scene(plugin.NameHash(name))
}

// SceneByComponentType returns the first live scene that owns t, or nil.
func (e *Engine) SceneByComponentType(t universe.ComponentType) plugin.Scene {
	for _, s := range e.scenes {
		if s.OwnsComponentType(t) {
			return s
		}
	}
	return nil
}
