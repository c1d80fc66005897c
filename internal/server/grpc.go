// Package server assembles the gRPC server: interceptor chain, health
// service, and reflection. Business RPC surfaces register through the
// returned *grpc.Server.
package server

import (
	"context"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	authservice "account-platform/backend/internal/auth/service"
	"account-platform/backend/internal/events"
	"account-platform/backend/internal/security"
	"account-platform/backend/internal/server/interceptors"
)

// AuthServiceName is the health-check service name for the auth surface.
const AuthServiceName = "accounts.v1.AuthService"

// Pinger is the subset of *sql.DB / *sqlx.DB used for readiness.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is the subset of the policy evaluator used for readiness.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// publicMethods do not require a Bearer token and are not emitted as events.
var publicMethods = map[string]bool{
	"/grpc.health.v1.Health/Check": true,
	"/grpc.health.v1.Health/Watch": true,
}

// Options holds dependencies for New. Tokens is required; the rest are
// optional and degrade gracefully when nil.
type Options struct {
	// Tokens verifies access tokens in the auth interceptor.
	Tokens *security.TokenProvider
	// Auth is the credential/session service behind the auth RPC surface.
	// If nil, the health service reports AuthServiceName as NOT_SERVING.
	Auth *authservice.AuthService
	// Events receives grpc_request events from the telemetry interceptor. If nil, no events are emitted.
	Events events.Publisher
	// DB is pinged by the health service for readiness. If nil, the DB check is skipped.
	DB Pinger
	// Policy is checked by the health service for readiness. If nil, the policy check is skipped.
	Policy PolicyChecker
}

// New builds the gRPC server with the auth and telemetry interceptors,
// OTel stats handler, the standard health service, and reflection.
func New(opts Options) *grpc.Server {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.AuthUnary(opts.Tokens, publicMethods),
			interceptors.TelemetryUnary(opts.Events, publicMethods),
		),
	)
	grpc_health_v1.RegisterHealthServer(s, &healthServer{db: opts.DB, policy: opts.Policy, auth: opts.Auth})
	reflection.Register(s)
	return s
}

// healthServer implements grpc.health.v1.Health. The empty service name
// reports overall readiness (DB ping plus policy compile); AuthServiceName
// reports whether the auth surface is wired.
type healthServer struct {
	grpc_health_v1.UnimplementedHealthServer

	db     Pinger
	policy PolicyChecker
	auth   *authservice.AuthService
}

func (h *healthServer) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	status := grpc_health_v1.HealthCheckResponse_SERVING
	switch req.GetService() {
	case AuthServiceName:
		if h.auth == nil {
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
	case "":
		// Overall readiness.
	default:
		return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN}, nil
	}
	if status == grpc_health_v1.HealthCheckResponse_SERVING && h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
	}
	if status == grpc_health_v1.HealthCheckResponse_SERVING && h.policy != nil {
		if err := h.policy.HealthCheck(ctx); err != nil {
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
	}
	return &grpc_health_v1.HealthCheckResponse{Status: status}, nil
}
