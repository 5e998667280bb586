package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiter_WindowAndReset(t *testing.T) {
	l := NewMemoryLimiter()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.nowF = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "phone:+1", 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("request %d: Allow = %v, %v; want true", i+1, ok, err)
		}
	}
	if ok, _ := l.Allow(ctx, "phone:+1", 3, time.Minute); ok {
		t.Error("fourth request in window should be denied")
	}
	if ok, _ := l.Allow(ctx, "phone:+2", 3, time.Minute); !ok {
		t.Error("other keys are counted separately")
	}

	now = now.Add(time.Minute)
	if ok, _ := l.Allow(ctx, "phone:+1", 3, time.Minute); !ok {
		t.Error("counter should reset when the window elapses")
	}
}
