package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/model"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServingThreshold is the lowest transcode health reported as SERVING.
const ServingThreshold = 50

// TranscodeService is the health service name of a session's encode jobs.
func TranscodeService(sessionID model.ID) string {
	return "transcode/" + sessionID.String()
}

// Server exposes the standard gRPC health service: "" for the process and
// one entry per transcoding session.
type Server struct {
	health *health.Server
	log    *zap.Logger
}

func NewServer(log *zap.Logger) *Server {
	return &Server{health: health.NewServer(), log: log}
}

// SetTranscodeHealth publishes a session's 0-100 transcode score.
func (s *Server) SetTranscodeHealth(sessionID model.ID, score int) {
	status := healthpb.HealthCheckResponse_SERVING
	if score < ServingThreshold {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(TranscodeService(sessionID), status)
}

// ClearTranscode drops the session's entry.
func (s *Server) ClearTranscode(sessionID model.ID) {
	s.health.SetServingStatus(TranscodeService(sessionID), healthpb.HealthCheckResponse_SERVICE_UNKNOWN)
}

// Check answers a health query without going through the network.
func (s *Server) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Serve listens on addr until ctx is cancelled. Every service is marked
// NOT_SERVING before the listener closes.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc health listen: %w", err)
	}
	return s.serve(ctx, lis)
}

func (s *Server) serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, s.health)
	reflection.Register(srv)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(lis)
	}()
	s.log.Info("grpc health listening", zap.String("addr", lis.Addr().String()))

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		srv.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("grpc health serve: %w", err)
	}
}
