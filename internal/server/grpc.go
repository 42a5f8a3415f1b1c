package server

import (
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthService is the service name reported alongside the overall ("")
// status.
const HealthService = "relay.v1.Relay"

// NewGRPCServer creates a gRPC server with recovery and logging interceptors
// and registers the health service and reflection. Both the overall and relay
// statuses start as SERVING; callers flip them with the returned
// health.Server during shutdown.
func NewGRPCServer(logger *slog.Logger) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = slog.Default()
	}
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(UnaryRecovery(logger), UnaryLogging(logger)),
		grpc.ChainStreamInterceptor(StreamRecovery(logger), StreamLogging(logger)),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return srv, hs
}
