package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/sim-engine/engine"
	"github.com/signalsfoundry/sim-engine/internal/admin"
	"github.com/signalsfoundry/sim-engine/internal/logging"
	"github.com/signalsfoundry/sim-engine/internal/observability"
	"github.com/signalsfoundry/sim-engine/plugins/orbit"
	"github.com/signalsfoundry/sim-engine/render"
	"github.com/signalsfoundry/sim-engine/snapshot"
	"github.com/signalsfoundry/sim-engine/timectrl"
)

// defaultTLE is used when no -tle-file is given.
var defaultTLE = orbit.TLE{
	Name:  "ISS (ZARYA)",
	Line1: "1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9990",
	Line2: "2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257760",
}

const satelliteModel = "models/satellite.msh"

type options struct {
	frames      int
	tick        time.Duration
	accelerated bool
	forcedDelta float64
	multiplier  float64
	edit        bool
	basePath    string
	snapshot    string
	metricsAddr string
	grpcAddr    string
	workers     int
	tleFile     string
}

type summary struct {
	Frames    int
	Orbits    int
	FPS       float32
	SimTime   time.Time
	Snapshot  snapshot.Info
	Persisted bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)
	fs.IntVar(&o.frames, "frames", 60, "frames to run; 0 runs until interrupted")
	fs.DurationVar(&o.tick, "tick", time.Second, "frame interval")
	fs.BoolVar(&o.accelerated, "accelerated", true, "run frames back to back instead of in real time")
	fs.Float64Var(&o.forcedDelta, "forced-delta", -1, "fixed frame delta in seconds; negative measures the clock")
	fs.Float64Var(&o.multiplier, "multiplier", 1, "time multiplier applied to every frame delta")
	fs.BoolVar(&o.edit, "edit", false, "edit mode: only renderer scenes are updated")
	fs.StringVar(&o.basePath, "base-path", ".", "root directory of the disk device")
	fs.StringVar(&o.snapshot, "snapshot", "", "save-game path to write a snapshot to after the run")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "HTTP address for Prometheus /metrics")
	fs.StringVar(&o.grpcAddr, "grpc-addr", "", "TCP address for the gRPC health service")
	fs.IntVar(&o.workers, "workers", 0, "job dispatcher workers; 0 uses GOMAXPROCS")
	fs.StringVar(&o.tleFile, "tle-file", "", "TLE file, relative to -base-path")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if o.multiplier < 0 {
		return options{}, errors.New("-multiplier must not be negative")
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	tracing := observability.TracingConfigFromEnv()
	tracing.Attributes = append(tracing.Attributes,
		attribute.Int("engine.workers", opts.workers),
		attribute.Bool("engine.accelerated", opts.accelerated),
		attribute.Float64("engine.multiplier", opts.multiplier),
	)
	shutdownTracing, err := observability.InitTracing(ctx, tracing, log)
	if err != nil {
		log.Warn(ctx, "tracing disabled", logging.Err(err))
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	sum, err := run(ctx, opts, log, prometheus.DefaultRegisterer)
	if err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		os.Exit(1)
	}
	fmt.Printf("Simulation complete: %d frames, %d orbits, sim time %s, fps %.1f\n",
		sum.Frames, sum.Orbits, sum.SimTime.Format(time.RFC3339), sum.FPS)
	if sum.Persisted {
		fmt.Printf("Snapshot %s: %d bytes (%d stored), crc %08x\n",
			sum.Snapshot.Name, sum.Snapshot.Size, sum.Snapshot.CompressedSize, sum.Snapshot.Checksum)
	}
}

func run(ctx context.Context, opts options, log logging.Logger, reg prometheus.Registerer) (summary, error) {
	collector, err := observability.NewEngineCollector(reg)
	if err != nil {
		return summary{}, fmt.Errorf("metrics collector: %w", err)
	}

	adm := admin.New(collector.Handler(), log)
	if opts.grpcAddr != "" {
		lis, err := net.Listen("tcp", opts.grpcAddr)
		if err != nil {
			return summary{}, fmt.Errorf("listen %s: %w", opts.grpcAddr, err)
		}
		adm.ServeGRPC(lis)
	}
	if opts.metricsAddr != "" {
		adm.ServeMetrics(opts.metricsAddr)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		adm.Shutdown(shutdownCtx)
	}()

	e, err := engine.New(
		engine.Config{BasePath: opts.basePath, Workers: opts.workers},
		engine.WithLogger(log),
		engine.WithMetrics(collector),
		engine.WithPluginFactory(orbit.Name, orbit.NewFactory(orbit.Config{Epoch: time.Now().UTC(), UnitsPerKm: 1})),
	)
	if err != nil {
		return summary{}, err
	}
	defer e.Close()

	if _, err := e.LoadPlugin(orbit.Name); err != nil {
		return summary{}, err
	}
	tles, err := loadTLEs(ctx, e, opts.tleFile)
	if err != nil {
		return summary{}, err
	}

	u := e.CreateUniverse()
	adm.SetServing(true)
	defer adm.SetServing(false)

	orbits, ok := e.SceneByName(orbit.Name).(*orbit.Scene)
	if !ok {
		return summary{}, errors.New("orbit scene missing")
	}
	view := e.SceneByName(render.Name).(*render.Scene)
	view.AddCamera(u.CreateEntity(mgl32.Vec3{}), 60, 1, 50000)
	for _, tle := range tles {
		ent := u.CreateEntity(mgl32.Vec3{})
		if _, err := orbits.AddOrbit(ent, tle); err != nil {
			return summary{}, fmt.Errorf("orbit %q: %w", tle.Name, err)
		}
		view.AddRenderable(ent, satelliteModel)
	}
	log.Info(ctx, "universe populated", logging.Int("orbits", orbits.Orbits()))

	mode := timectrl.RealTime
	forced := float32(opts.forcedDelta)
	if opts.accelerated {
		mode = timectrl.Accelerated
		if forced < 0 {
			forced = float32(opts.tick.Seconds())
		}
	}
	if forced < 0 {
		forced = engine.FreeRunning
	}
	loop := timectrl.NewLoop(opts.tick, mode)
	log.Info(ctx, "starting simulation",
		logging.Int("frames", opts.frames),
		logging.Duration("tick", opts.tick),
		logging.String("mode", mode.String()),
	)
	err = loop.Run(ctx, opts.frames, func(frame int) error {
		e.Update(!opts.edit, float32(opts.multiplier), forced)
		if frame%30 == 0 {
			log.Debug(ctx, "frame",
				logging.Int("frame", frame),
				logging.Float64("dt", float64(e.LastTimeDelta())),
				logging.Float64("fps", float64(e.FPS())),
			)
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return summary{}, err
	}

	sum := summary{
		Frames:  loop.Frames(),
		Orbits:  orbits.Orbits(),
		FPS:     e.FPS(),
		SimTime: orbits.Time(),
	}
	if opts.snapshot != "" {
		store, err := snapshot.NewStore(e.FileSystem(), snapshot.WithLogger(log))
		if err != nil {
			return sum, err
		}
		defer store.Close()
		info, err := store.Save(context.WithoutCancel(ctx), e, opts.snapshot)
		if err != nil {
			return sum, err
		}
		sum.Snapshot = info
		sum.Persisted = true
	}
	return sum, nil
}

func loadTLEs(ctx context.Context, e *engine.Engine, path string) ([]orbit.TLE, error) {
	if path == "" {
		return []orbit.TLE{defaultTLE}, nil
	}
	data, err := e.FileSystem().ReadFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read TLEs: %w", err)
	}
	tles, err := orbit.ParseTLEs(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(tles) == 0 {
		return nil, fmt.Errorf("%s: no element sets", path)
	}
	return tles, nil
}
