package engine

import "github.com/signalsfoundry/sim-engine/plugin"

// FreeRunning passed as forcedDelta makes Update measure the frame delta
// from the clock.
const FreeRunning float32 = -1

// fpsWindow is the number of free-running frames averaged per FPS sample.
const fpsWindow = 30

// Update advances the simulation by one frame.
//
// With forcedDelta >= 0 the frame delta is forcedDelta*multiplier and the
// FPS estimate is its reciprocal (zero for a zero delta). Otherwise the
// delta is the clock time since the previous frame times multiplier, and
// the FPS estimate is refreshed every fpsWindow frames.
//
// When running, every scene is updated in registration order, followed by
// the plugin manager and the input system. Otherwise only the renderer's
// scenes are updated. Finished asynchronous file transactions are
// delivered in both cases.
func (e *Engine) Update(running bool, multiplier, forcedDelta float32) {
	var dt float32
	if forcedDelta >= 0 {
		dt = forcedDelta * multiplier
		e.fpsFrame = 0
		if dt == 0 {
			e.fps = 0
		} else {
			e.fps = 1 / dt
		}
		e.fpsTimer.Tick()
	} else {
		e.fpsFrame++
		if e.fpsFrame == fpsWindow {
			// A window that closes in zero clock time keeps the previous
			// estimate instead of reporting +Inf.
			if elapsed := e.fpsTimer.Tick(); elapsed > 0 {
				e.fps = fpsWindow / elapsed
			}
			e.fpsFrame = 0
		}
		dt = e.timer.Tick() * multiplier
	}
	e.lastTimeDelta = dt

	if running {
		e.updateGame(dt)
	} else {
		renderer := plugin.Plugin(e.renderer)
		for _, s := range e.scenes {
			if s.Plugin() == renderer {
				s.Update(dt)
			}
		}
	}
	e.fileSystem.UpdateAsyncTransactions()
	e.metrics.ObserveFrame(dt, e.fps, running)
}

func (e *Engine) updateGame(dt float32) {
	for _, s := range e.scenes {
		s.Update(dt)
	}
	e.pluginManager.Update(dt)
	e.input.Update(dt)
}

// FPS returns the current frames-per-second estimate.
func (e *Engine) FPS() float32 { return e.fps }

// LastTimeDelta returns the delta used by the most recent Update.
func (e *Engine) LastTimeDelta() float32 { return e.lastTimeDelta }
