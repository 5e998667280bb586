package telemetry

import (
	"context"
	"log"
	"sync"
	"time"
)

// emitTimeout is the max time allowed for a single async emit.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration bounds how long shutdown waits for in-flight emits. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// AsyncEmitter runs emits in tracked goroutines so request handlers are not blocked and shutdown
// can wait for them before the OTel providers are closed.
type AsyncEmitter struct {
	emitter EventEmitter
	wg      sync.WaitGroup
}

// NewAsyncEmitter wraps emitter. A nil emitter makes EmitAsync a no-op.
func NewAsyncEmitter(emitter EventEmitter) *AsyncEmitter {
	return &AsyncEmitter{emitter: emitter}
}

// EmitAsync emits event in the background with emitTimeout. Request cancellation does not abort
// the emit; context values (trace) are kept. Errors are logged.
func (a *AsyncEmitter) EmitAsync(ctx context.Context, event Event) {
	if a == nil || a.emitter == nil {
		return
	}
	emitCtx := context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(emitCtx, emitTimeout)
		defer cancel()
		if err := a.emitter.Emit(ctx, event); err != nil {
			log.Printf("telemetry: async emit failed: %v", err)
		}
	}()
}

// Drain waits for in-flight emits or until ctx is done.
func (a *AsyncEmitter) Drain(ctx context.Context) error {
	if a == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
