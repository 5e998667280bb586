package handler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/goleak"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// mockPinger implements Pinger for tests.
type mockPinger struct {
	pingErr error
	calls   atomic.Int32
}

func (m *mockPinger) PingContext(context.Context) error {
	m.calls.Add(1)
	return m.pingErr
}

func serving(t *testing.T, srv *health.Server, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func TestCheck_NoPingers(t *testing.T) {
	srv := health.NewServer()
	NewChecker(srv, nil, nil).Check(context.Background())
	if got := serving(t, srv, ServiceName); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", got)
	}
}

func TestCheck_PingerSuccess(t *testing.T) {
	srv := health.NewServer()
	c := NewChecker(srv, map[string]Pinger{"db": &mockPinger{}, "skipped": nil}, nil)
	if got := c.Check(context.Background()); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Check = %v, want SERVING", got)
	}
	if got := serving(t, srv, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("overall status = %v, want SERVING", got)
	}
}

func TestCheck_PingerFailure(t *testing.T) {
	srv := health.NewServer()
	db := &mockPinger{}
	c := NewChecker(srv, map[string]Pinger{"db": db, "redis": &mockPinger{pingErr: errors.New("connection refused")}}, nil)
	c.Check(context.Background())
	if got := serving(t, srv, ServiceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status = %v, want NOT_SERVING", got)
	}

	db.pingErr = nil
	c.pingers["redis"] = &mockPinger{}
	c.Check(context.Background())
	if got := serving(t, srv, ServiceName); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("recovered status = %v, want SERVING", got)
	}
}

func TestRedisPinger(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	p := RedisPinger{Client: client}
	if err := p.PingContext(context.Background()); err != nil {
		t.Fatalf("PingContext: %v", err)
	}
	mr.Close()
	if err := p.PingContext(context.Background()); err == nil {
		t.Error("PingContext should fail once redis is gone")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := health.NewServer()
	p := &mockPinger{}
	c := NewChecker(srv, map[string]Pinger{"db": p}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for p.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
	if p.calls.Load() < 2 {
		t.Errorf("ping calls = %d, want at least 2", p.calls.Load())
	}
}
