// Package telemetry mirrors login-step audit events to an external event pipeline (OTel logs).
package telemetry

import (
	"context"
	"time"
)

// Event is one audit event as exported to telemetry.
type Event struct {
	Realm     string
	UserID    string
	Action    string
	Resource  string
	Metadata  string
	CreatedAt time.Time
}

// EventEmitter emits events (e.g. to OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event Event) error
}
