package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// ActuatorService is the health service name reported for the serial link.
const ActuatorService = "sensorybox.actuator"

// Health publishes actuator link health over the standard gRPC health
// protocol. It satisfies controller.HealthReporter.
type Health struct {
	srv *health.Server
}

// NewHealth returns a Health with the process and actuator marked serving.
func NewHealth() *Health {
	srv := health.NewServer()
	srv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	srv.SetServingStatus(ActuatorService, grpc_health_v1.HealthCheckResponse_SERVING)
	return &Health{srv: srv}
}

// SetServing marks the actuator service serving or not serving.
func (h *Health) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus(ActuatorService, status)
}

// ActuatorStatus returns the current actuator status name, e.g. "SERVING".
func (h *Health) ActuatorStatus() string {
	resp, err := h.srv.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: ActuatorService})
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN.String()
	}
	return resp.GetStatus().String()
}

// Register adds the health service to s.
func (h *Health) Register(s *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(s, h.srv)
}

// ServeGRPC serves the health service on lis until ctx is cancelled.
func ServeGRPC(ctx context.Context, lis net.Listener, h *Health, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := grpc.NewServer()
	h.Register(s)

	logger.Info("grpc health listening", zap.Stringer("addr", lis.Addr()))
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		h.srv.Shutdown()
		s.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}
