package rpcauth

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"chatbroker/internal/logging"
)

// InterceptorConfig configures UnaryServerInterceptor/StreamServerInterceptor.
type InterceptorConfig struct {
	ServiceToken string // required Bearer token for service-to-service calls
	Logger       logging.Logger
	SkipMethods  []string // full method names exempt from auth, e.g. health checks
}

func (c InterceptorConfig) skip(fullMethod string) bool {
	for _, m := range c.SkipMethods {
		if m == fullMethod {
			return true
		}
	}
	return false
}

// authenticate extracts and validates the Bearer token from ctx's
// incoming metadata, using a constant-time comparison against
// ServiceToken so response-timing cannot leak how many prefix bytes
// matched, per pkg/middleware/grpc.go's GRPCAuthInterceptor.
func (c InterceptorConfig) authenticate(ctx context.Context) error {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return status.Error(codes.Unauthenticated, "missing authorization header")
	}
	const prefix = "Bearer "
	header := values[0]
	if !strings.HasPrefix(header, prefix) {
		return status.Error(codes.Unauthenticated, "authorization header must use Bearer scheme")
	}
	token := strings.TrimPrefix(header, prefix)

	if c.ServiceToken == "" {
		return status.Error(codes.Internal, "service token is not configured")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(c.ServiceToken)) != 1 {
		return status.Error(codes.Unauthenticated, "invalid service token")
	}
	return nil
}

// UnaryServerInterceptor enforces cfg's Bearer token on every unary RPC
// except SkipMethods.
func UnaryServerInterceptor(cfg InterceptorConfig) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if cfg.skip(info.FullMethod) {
			return handler(ctx, req)
		}
		if err := cfg.authenticate(ctx); err != nil {
			if cfg.Logger != nil {
				cfg.Logger.WithField("method", info.FullMethod).WithError(err).Warn("rpcauth: rejected unary call")
			}
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor enforces cfg's Bearer token on every streaming
// RPC except SkipMethods.
func StreamServerInterceptor(cfg InterceptorConfig) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if cfg.skip(info.FullMethod) {
			return handler(srv, ss)
		}
		if err := cfg.authenticate(ss.Context()); err != nil {
			if cfg.Logger != nil {
				cfg.Logger.WithField("method", info.FullMethod).WithError(err).Warn("rpcauth: rejected stream call")
			}
			return err
		}
		return handler(srv, ss)
	}
}
