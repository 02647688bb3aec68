package orbit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/sim-engine/blob"
	"github.com/signalsfoundry/sim-engine/internal/logging"
	"github.com/signalsfoundry/sim-engine/plugin"
	"github.com/signalsfoundry/sim-engine/universe"
)

type component struct {
	entity universe.Entity
	tle    TLE
	sat    satellite.Satellite
}

// Scene holds the orbit components of one universe.
type Scene struct {
	plugin   *Plugin
	universe *universe.Universe

	orbits  []component
	elapsed float64
}

var _ plugin.Scene = (*Scene)(nil)

func (s *Scene) Plugin() plugin.Plugin { return s.plugin }

func (s *Scene) OwnsComponentType(t universe.ComponentType) bool { return t == ComponentType }

// AddOrbit binds e to the orbit described by tle.
func (s *Scene) AddOrbit(e universe.Entity, tle TLE) (plugin.ComponentUID, error) {
	if !s.universe.HasEntity(e) {
		return plugin.InvalidComponent, fmt.Errorf("entity %d: %w", e, universe.ErrEntityNotFound)
	}
	if err := tle.Validate(); err != nil {
		return plugin.InvalidComponent, err
	}
	s.orbits = append(s.orbits, component{
		entity: e,
		tle:    tle,
		sat:    satellite.TLEToSat(tle.Line1, tle.Line2, satellite.GravityWGS72),
	})
	return plugin.ComponentUID{Entity: e, Type: ComponentType, Scene: s, Index: len(s.orbits) - 1}, nil
}

// Orbits returns the number of orbit components.
func (s *Scene) Orbits() int { return len(s.orbits) }

// TLE returns the element set of component i.
func (s *Scene) TLE(i int) TLE { return s.orbits[i].tle }

// Time returns the current simulation time of the scene.
func (s *Scene) Time() time.Time {
	return s.plugin.cfg.Epoch.Add(time.Duration(s.elapsed * float64(time.Second)))
}

// Update advances the scene clock by dt and moves every orbiting entity.
func (s *Scene) Update(dt float32) {
	s.elapsed += float64(dt)
	if len(s.orbits) == 0 {
		return
	}
	at := s.Time()

	positions := make([]mgl32.Vec3, len(s.orbits))
	valid := make([]bool, len(s.orbits))
	err := s.plugin.jobs.ForEach(context.Background(), len(s.orbits), func(_ context.Context, i int) error {
		positions[i], valid[i] = propagate(s.orbits[i].sat, at, s.plugin.cfg.UnitsPerKm)
		return nil
	})
	if err != nil {
		s.plugin.log.Warn(context.Background(), "orbit propagation skipped", logging.Err(err))
		return
	}

	for i, c := range s.orbits {
		if !valid[i] || !s.universe.HasEntity(c.entity) {
			continue
		}
		if err := s.universe.SetPosition(c.entity, positions[i]); err != nil {
			s.plugin.log.Debug(context.Background(), "orbit entity vanished",
				logging.Int("entity", int(c.entity)), logging.Err(err))
		}
	}
	s.plugin.propagations += uint64(len(s.orbits))
}

// propagate returns the ECEF position of sat at t, scaled from kilometres.
func propagate(sat satellite.Satellite, t time.Time, unitsPerKm float32) (mgl32.Vec3, bool) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	eci, _ := satellite.Propagate(sat, year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(satellite.JDay(year, int(month), day, hour, min, sec))
	ecef := satellite.ECIToECEF(eci, gmst)
	if math.IsNaN(ecef.X) || math.IsNaN(ecef.Y) || math.IsNaN(ecef.Z) {
		return mgl32.Vec3{}, false
	}
	return mgl32.Vec3{float32(ecef.X), float32(ecef.Y), float32(ecef.Z)}.Mul(unitsPerKm), true
}

// Serialize writes the scene clock and every component's entity and TLE.
func (s *Scene) Serialize(w *blob.Writer) {
	w.WriteFloat64(s.elapsed)
	w.WriteUint32(uint32(len(s.orbits)))
	for _, c := range s.orbits {
		w.WriteInt32(int32(c.entity))
		w.WriteString(c.tle.Name)
		w.WriteString(c.tle.Line1)
		w.WriteString(c.tle.Line2)
	}
}

// Deserialize restores the components and re-initialises their SGP4 state.
func (s *Scene) Deserialize(r *blob.Reader) error {
	elapsed := r.ReadFloat64()
	n := int(r.ReadUint32())
	if err := r.Err(); err != nil {
		return err
	}
	if n > r.Remaining() {
		return fmt.Errorf("orbit count %d exceeds remaining data: %w", n, blob.ErrShortRead)
	}
	orbits := make([]component, 0, n)
	for i := 0; i < n; i++ {
		e := universe.Entity(r.ReadInt32())
		tle := TLE{Name: r.ReadString(), Line1: r.ReadString(), Line2: r.ReadString()}
		if err := r.Err(); err != nil {
			return err
		}
		if err := tle.Validate(); err != nil {
			return fmt.Errorf("orbit %d: %w", i, err)
		}
		orbits = append(orbits, component{
			entity: e,
			tle:    tle,
			sat:    satellite.TLEToSat(tle.Line1, tle.Line2, satellite.GravityWGS72),
		})
	}
	s.elapsed = elapsed
	s.orbits = orbits
	return nil
}
