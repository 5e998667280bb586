package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("phone-otp-mfa/ratelimit")

// incrScript increments the counter and sets the TTL only on the first write of the window.
const incrScript = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return count
`

// RedisLimiter is a Limiter shared across instances through Redis.
// Redis errors are returned to the caller, which must treat them as a denial.
type RedisLimiter struct {
	cmd    redis.Cmdable
	prefix string
}

// NewRedisLimiter returns a RedisLimiter; keys are namespaced with prefix.
func NewRedisLimiter(cmd redis.Cmdable, prefix string) *RedisLimiter {
	return &RedisLimiter{cmd: cmd, prefix: prefix}
}

// Allow implements Limiter with an atomic INCR + EXPIRE script.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	ctx, span := tracer.Start(ctx, "redis.ratelimit.allow")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "EVAL"),
	)

	seconds := int(window / time.Second)
	if seconds <= 0 {
		seconds = 1
	}
	count, err := l.cmd.Eval(ctx, incrScript, []string{l.prefix + key}, seconds).Int64()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("rate limit %q: %w", key, err)
	}
	return count <= int64(limit), nil
}
