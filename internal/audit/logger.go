package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"phone-otp-mfa/internal/audit/domain"
	auditrepo "phone-otp-mfa/internal/audit/repository"
	"phone-otp-mfa/internal/telemetry"
)

// SentinelRealm is the realm recorded for events that have no realm.
const SentinelRealm = "_system"

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

type clientIPKey struct{}

// WithClientIP returns ctx carrying the client address for audit entries.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIPFromContext is the default IPExtractor; it reads the address set by WithClientIP.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// AuditLogger writes a single audit event with explicit action/resource.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, realm, userID, action, resource, metadata string)
}

// Logger implements AuditLogger using the audit repository, mirroring each event to telemetry.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	emitter     *telemetry.AsyncEmitter
	nowF        func() time.Time
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then ClientIPFromContext is used. emitter may be nil.
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, emitter *telemetry.AsyncEmitter) *Logger {
	if ipExtractor == nil {
		ipExtractor = ClientIPFromContext
	}
	return &Logger{
		repo:        repo,
		ipExtractor: ipExtractor,
		emitter:     emitter,
		nowF:        func() time.Time { return time.Now().UTC() },
	}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, realm, userID, action, resource, metadata string) {
	ip := l.ipExtractor(ctx)
	if ip == "" {
		ip = "unknown"
	}
	if realm == "" {
		realm = SentinelRealm
	}
	now := l.nowF()
	l.emitter.EmitAsync(ctx, telemetry.Event{
		Realm:     realm,
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		Metadata:  metadata,
		CreatedAt: now,
	})
	if l.repo == nil {
		return
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		Realm:     realm,
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: now,
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		log.Printf("audit: failed to log event %s/%s: %v", action, resource, err)
	}
}
