package httpapi

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"tubepilot.app/internal/obs"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// GRPCServer implements grpc.health.v1.Health on top of the readiness probe.
// The empty service name and serviceName are both recognized.
type GRPCServer struct {
	healthpb.UnimplementedHealthServer

	readiness readinessChecker
	version   string
	logger    *zap.Logger
}

// NewGRPCServer creates the gRPC health service. A nil logger uses obs.Logger.
func NewGRPCServer(r readinessChecker, version string, logger *zap.Logger) *GRPCServer {
	if logger == nil {
		logger = obs.Logger()
	}
	return &GRPCServer{
		readiness: r,
		version:   version,
		logger:    logger,
	}
}

// Check evaluates readiness. Unknown services get NotFound.
func (s *GRPCServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != serviceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	if s.readiness == nil {
		obs.SetReady(true)
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
	}
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		s.logger.Warn("grpc health check failed", zap.String("version", s.version), zap.Error(err))
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	obs.SetReady(true)
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

// List reports the status of every known service.
func (s *GRPCServer) List(ctx context.Context, _ *healthpb.HealthListRequest) (*healthpb.HealthListResponse, error) {
	resp, err := s.Check(ctx, &healthpb.HealthCheckRequest{Service: serviceName})
	if err != nil {
		return nil, err
	}
	return &healthpb.HealthListResponse{
		Statuses: map[string]*healthpb.HealthCheckResponse{
			"":          resp,
			serviceName: resp,
		},
	}, nil
}
