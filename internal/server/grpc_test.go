package server

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/health/grpc_health_v1"

	authservice "account-platform/backend/internal/auth/service"
)

type fakePinger struct{ err error }

func (f fakePinger) PingContext(ctx context.Context) error { return f.err }

type fakePolicy struct{ err error }

func (f fakePolicy) HealthCheck(ctx context.Context) error { return f.err }

func check(t *testing.T, h *healthServer, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := h.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func TestHealthServer_Overall(t *testing.T) {
	// Nil dependencies degrade to SERVING: checks are skipped, not failed.
	h := &healthServer{}
	if got := check(t, h, ""); got != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("no deps: want SERVING, got %v", got)
	}

	h = &healthServer{db: fakePinger{}, policy: fakePolicy{}}
	if got := check(t, h, ""); got != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("healthy deps: want SERVING, got %v", got)
	}

	h = &healthServer{db: fakePinger{err: errors.New("down")}}
	if got := check(t, h, ""); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Errorf("db down: want NOT_SERVING, got %v", got)
	}

	h = &healthServer{db: fakePinger{}, policy: fakePolicy{err: errors.New("bad policy")}}
	if got := check(t, h, ""); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Errorf("policy broken: want NOT_SERVING, got %v", got)
	}
}

func TestHealthServer_AuthService(t *testing.T) {
	h := &healthServer{}
	if got := check(t, h, AuthServiceName); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Errorf("auth not wired: want NOT_SERVING, got %v", got)
	}

	h = &healthServer{auth: &authservice.AuthService{}}
	if got := check(t, h, AuthServiceName); got != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("auth wired: want SERVING, got %v", got)
	}
}

func TestHealthServer_UnknownService(t *testing.T) {
	h := &healthServer{}
	if got := check(t, h, "no.such.Service"); got != grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN {
		t.Errorf("want SERVICE_UNKNOWN, got %v", got)
	}
}
