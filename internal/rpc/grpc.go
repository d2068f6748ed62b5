package rpc

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"chatbroker/internal/logging"
	"chatbroker/internal/rpcauth"
)

// healthCheckMethod and healthWatchMethod are exempt from the service
// token interceptor, matching api_firehose/internal/grpc/server.go's
// NewGRPCServer SkipMethods list: an orchestrator's liveness probe should
// not need a credential.
const (
	healthCheckMethod = "/grpc.health.v1.Health/Check"
	healthWatchMethod = "/grpc.health.v1.Health/Watch"
)

// ServerConfig configures NewGRPCServer.
type ServerConfig struct {
	ServiceToken string
	Logger       logging.Logger
}

// NewGRPCServer builds a grpc.Server carrying only the health-check and
// server-reflection services. The domain services (User, Credential,
// Command, Redeem, AI, EventPipeline, Plugin, Platform) are exposed as
// the plain Go interfaces in services.go; wiring them onto generated
// protobuf service stubs is a wire-transport codegen step out of scope
// for this package. Grounded on
// api_firehose/internal/grpc/server.go's NewGRPCServer: chained auth
// interceptor, health server registration, reflection enabled.
func NewGRPCServer(cfg ServerConfig) *grpc.Server {
	authCfg := rpcauth.InterceptorConfig{
		ServiceToken: cfg.ServiceToken,
		Logger:       cfg.Logger,
		SkipMethods:  []string{healthCheckMethod, healthWatchMethod},
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(rpcauth.UnaryServerInterceptor(authCfg)),
		grpc.ChainStreamInterceptor(rpcauth.StreamServerInterceptor(authCfg)),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)
	reflection.Register(server)

	return server
}
