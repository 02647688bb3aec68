// Package admin exposes process health over gRPC and Prometheus metrics
// over HTTP for a running simulator.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/sim-engine/internal/logging"
)

// ServiceName is the health service name reporting simulation state.
const ServiceName = "sim.engine"

// Server bundles the gRPC health endpoint and the metrics HTTP server.
type Server struct {
	log     logging.Logger
	grpc    *grpc.Server
	health  *health.Server
	metrics http.Handler

	mu         sync.Mutex
	httpServer *http.Server
	wg         sync.WaitGroup
}

// New builds a server. metrics may be nil to disable /metrics.
func New(metrics http.Handler, log logging.Logger) *Server {
	log = logging.OrNoop(log).With(logging.String("component", "admin"))
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(requestLoggingInterceptor(log)),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{log: log, grpc: srv, health: hs, metrics: metrics}
}

// SetServing reports whether a universe is live.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
}

// ServeGRPC serves the health service on lis in the background.
func (s *Server) ServeGRPC(lis net.Listener) {
	s.log.Info(context.Background(), "starting admin gRPC server", logging.String("addr", lis.Addr().String()))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.log.Error(context.Background(), "gRPC server exited", logging.Err(err))
		}
	}()
}

// Handler returns the HTTP handler serving /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// ServeMetrics serves Handler on addr in the background.
func (s *Server) ServeMetrics(addr string) {
	if s.metrics == nil {
		return
	}
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()
	s.log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
}

// Shutdown marks the service as not serving and stops both servers.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()
	s.grpc.GracefulStop()

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			s.log.Warn(ctx, "metrics server shutdown", logging.Err(err))
		}
	}
	s.wg.Wait()
}
