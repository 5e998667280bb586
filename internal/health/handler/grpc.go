package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the login step.
const ServiceName = "phone-otp-mfa.SmsOtp"

const pingTimeout = 2 * time.Second

// Pinger checks a backing dependency (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RedisPinger adapts a go-redis client to Pinger.
type RedisPinger struct {
	Client redis.UniversalClient
}

// PingContext sends PING.
func (p RedisPinger) PingContext(ctx context.Context) error {
	return p.Client.Ping(ctx).Err()
}

// Checker drives the serving status of a grpc health server from dependency pings.
type Checker struct {
	srv     *health.Server
	pingers map[string]Pinger
	logger  *slog.Logger
}

// NewChecker returns a Checker updating srv. pingers are keyed by dependency name for logging; nil entries are skipped.
func NewChecker(srv *health.Server, pingers map[string]Pinger, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{srv: srv, pingers: pingers, logger: logger}
}

// Check pings every dependency and sets SERVING only when all of them answer.
// Both the overall ("") and ServiceName statuses are updated.
func (c *Checker) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for name, p := range c.pingers {
		if p == nil {
			continue
		}
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := p.PingContext(pctx)
		cancel()
		if err != nil {
			c.logger.WarnContext(ctx, "health dependency ping failed", "dependency", name, "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	c.srv.SetServingStatus("", status)
	c.srv.SetServingStatus(ServiceName, status)
	return status
}

// Run checks immediately and then every interval until ctx is done.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	c.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}
