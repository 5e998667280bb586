package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Deps holds the services exposed over gRPC.
type Deps struct {
	// Health is the health server driven by the dependency checker. Required.
	Health *health.Server
	// Reflection registers server reflection (dev only).
	Reflection bool
}

// NewGRPCServer returns a gRPC server instrumented with the OTel stats handler. Extra options are appended.
func NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	return grpc.NewServer(opts...)
}

// RegisterServices registers the health service and, when enabled, reflection.
//
// The login step itself is served over HTTP; gRPC carries only the operational surface.
func RegisterServices(s *grpc.Server, deps Deps) {
	healthpb.RegisterHealthServer(s, deps.Health)
	if deps.Reflection {
		reflection.Register(s)
	}
}
