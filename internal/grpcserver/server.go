// Package grpcserver exposes the standard gRPC health service so
// orchestrators can probe the chat node next to its HTTP surface.
package grpcserver

import (
	"context"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"coachconnect-chat/internal/logging"
	"coachconnect-chat/internal/observability"
)

// ServiceName is reported alongside the overall ("") status.
const ServiceName = "coachconnect.chat.v1.Chat"

// Probe reports whether a dependency the node needs is reachable.
type Probe func(ctx context.Context) error

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    *zap.Logger
}

func New(log *zap.Logger) *Server {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	s := &Server{grpc: srv, health: hs, log: logging.OrNop(log)}
	s.SetServing(false)
	return s
}

// SetServing flips both the overall and the chat service status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Watch runs probe every interval until ctx ends and mirrors the result in
// the health status.
func (s *Server) Watch(ctx context.Context, interval time.Duration, probe Probe) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, interval)
			err := probe(pctx)
			cancel()
			if (err == nil) != healthy {
				healthy = err == nil
				if healthy {
					s.log.Info("dependency probe recovered")
				} else {
					s.log.Warn("dependency probe failed", zap.Error(err))
				}
				s.SetServing(healthy)
			}
		}
	}
}

func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

// GracefulStop reports NOT_SERVING to every watcher and waits for in-flight
// RPCs.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
