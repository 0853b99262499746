package healthcheck

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

func TestTranscodeHealthStatus(t *testing.T) {
	s := NewServer(zaptest.NewLogger(t))
	ctx := context.Background()

	tests := []struct {
		score int
		want  healthpb.HealthCheckResponse_ServingStatus
	}{
		{100, healthpb.HealthCheckResponse_SERVING},
		{50, healthpb.HealthCheckResponse_SERVING},
		{25, healthpb.HealthCheckResponse_NOT_SERVING},
		{0, healthpb.HealthCheckResponse_NOT_SERVING},
	}
	for _, tt := range tests {
		s.SetTranscodeHealth("42", tt.score)
		got, err := s.Check(ctx, "transcode/42")
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("score %d: Expected %s, got %s", tt.score, tt.want, got)
		}
	}

	s.ClearTranscode("42")
	if got, _ := s.Check(ctx, "transcode/42"); got != healthpb.HealthCheckResponse_SERVICE_UNKNOWN {
		t.Errorf("Expected SERVICE_UNKNOWN after clear, got %s", got)
	}
	if _, err := s.Check(ctx, "transcode/99"); status.Code(err) != codes.NotFound {
		t.Errorf("Expected NotFound for unknown session, got %v", err)
	}
}

func TestServeOverNetwork(t *testing.T) {
	s := NewServer(zaptest.NewLogger(t))
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serve(ctx, lis) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()
	resp, err := healthpb.NewHealthClient(conn).Check(callCtx, &healthpb.HealthCheckRequest{}, grpc.WaitForReady(true))
	if err != nil {
		t.Fatal(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Expected SERVING, got %s", resp.GetStatus())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
