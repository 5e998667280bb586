// Package phone is the SMS delivery provider of the login step: abuse checks, code generation,
// and gateway delivery, reported as a tagged DeliveryResult instead of errors.
package phone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"phone-otp-mfa/internal/credential/domain"
	"phone-otp-mfa/internal/devotp"
	"phone-otp-mfa/internal/phone/ratelimit"
	"phone-otp-mfa/internal/phone/sms"
	"phone-otp-mfa/internal/security"
)

// TokenCodeType is the only code type this provider sends.
const TokenCodeType = "otp"

const (
	defaultCodeTTL = 5 * time.Minute
	defaultWindow  = 10 * time.Minute
)

var (
	// ErrSendLimitExceeded is carried by an Abused result when a per-phone or per-address limit is hit.
	ErrSendLimitExceeded = errors.New("phone: send limit exceeded")
	// ErrUnsupportedCodeType is carried by a Failed result for code types other than TokenCodeType.
	ErrUnsupportedCodeType = errors.New("phone: unsupported code type")
	// ErrPhoneRequired is carried by a Failed result when the phone number is blank.
	ErrPhoneRequired = errors.New("phone: phone number is required")
)

var tracer = otel.Tracer("phone-otp-mfa/phone")

var deliveriesTotal metric.Int64Counter

func init() {
	m := otel.Meter("phone-otp-mfa/phone")
	deliveriesTotal, _ = m.Int64Counter("sms_otp_deliveries_total",
		metric.WithDescription("SMS OTP send attempts by outcome"))
}

// DeliveryStatus is the outcome tag of a send attempt.
type DeliveryStatus int

const (
	DeliverySent DeliveryStatus = iota
	DeliveryAbused
	DeliveryFailed
)

func (s DeliveryStatus) String() string {
	switch s {
	case DeliverySent:
		return "sent"
	case DeliveryAbused:
		return "abused"
	case DeliveryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DeliveryResult is Sent{ExpiresIn, Challenge} | Abused{Err} | Failed{Err}.
type DeliveryResult struct {
	Status DeliveryStatus
	// ExpiresIn is the code lifetime in seconds. Set only when Status is DeliverySent.
	ExpiresIn int
	// Challenge is the outstanding state to store on the credential. Set only when Status is DeliverySent.
	Challenge *domain.Challenge
	Err       error
}

// Sent returns a successful DeliveryResult.
func Sent(expiresIn int, challenge *domain.Challenge) DeliveryResult {
	return DeliveryResult{Status: DeliverySent, ExpiresIn: expiresIn, Challenge: challenge}
}

// Abused returns a DeliveryResult for a send refused as abuse.
func Abused(err error) DeliveryResult {
	return DeliveryResult{Status: DeliveryAbused, Err: err}
}

// Failed returns a DeliveryResult for any other send failure.
func Failed(err error) DeliveryResult {
	return DeliveryResult{Status: DeliveryFailed, Err: err}
}

// Config holds the delivery policy.
type Config struct {
	CodeLength int
	CodeTTL    time.Duration
	// PerPhoneLimit and PerIPLimit cap sends per Window. Zero disables the limit.
	PerPhoneLimit int
	PerIPLimit    int
	Window        time.Duration
}

// Provider sends SMS OTP codes.
type Provider struct {
	cfg      Config
	sender   sms.Sender
	limiter  ratelimit.Limiter
	codes    *security.CodeMAC
	devStore devotp.Store
	logger   *slog.Logger
	nowF     func() time.Time
}

// NewProvider returns a Provider. limiter may be nil (no abuse checks). devStore may be nil;
// when set, every sent code is also kept there for dev retrieval.
func NewProvider(
	cfg Config,
	sender sms.Sender,
	limiter ratelimit.Limiter,
	codes *security.CodeMAC,
	devStore devotp.Store,
	logger *slog.Logger,
) *Provider {
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = security.DefaultCodeLength
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = defaultCodeTTL
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		cfg:      cfg,
		sender:   sender,
		limiter:  limiter,
		codes:    codes,
		devStore: devStore,
		logger:   logger,
		nowF:     func() time.Time { return time.Now().UTC() },
	}
}

// SendTokenCode checks send limits, generates and delivers a code to phone, and returns the
// challenge to store. clientAddr keys the per-address limit; extra is recorded on the trace only.
func (p *Provider) SendTokenCode(ctx context.Context, phone, clientAddr, codeType string, extra map[string]string) DeliveryResult {
	ctx, span := tracer.Start(ctx, "phone.send_token_code")
	defer span.End()
	for k, v := range extra {
		span.SetAttributes(attribute.String("otp.extra."+k, v))
	}

	res := p.send(ctx, phone, clientAddr, codeType)
	span.SetAttributes(attribute.String("otp.delivery", res.Status.String()))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	deliveriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", res.Status.String())))
	return res
}

func (p *Provider) send(ctx context.Context, phone, clientAddr, codeType string) DeliveryResult {
	if codeType != TokenCodeType {
		return Failed(fmt.Errorf("%w: %q", ErrUnsupportedCodeType, codeType))
	}
	if phone == "" {
		return Failed(ErrPhoneRequired)
	}
	phoneHash := security.HashPhone(phone)

	if res, ok := p.checkLimit(ctx, "phone:"+phoneHash, p.cfg.PerPhoneLimit); !ok {
		return res
	}
	if clientAddr != "" {
		if res, ok := p.checkLimit(ctx, "ip:"+clientAddr, p.cfg.PerIPLimit); !ok {
			return res
		}
	}

	code, err := security.GenerateCode(p.cfg.CodeLength)
	if err != nil {
		return Failed(err)
	}
	now := p.nowF()
	expiresAt := now.Add(p.cfg.CodeTTL).Truncate(time.Second)

	if err := p.sender.SendOTP(ctx, phone, code); err != nil {
		p.logger.ErrorContext(ctx, "sms otp send failed", "error", err, "phone_hash", phoneHash)
		if errors.Is(err, sms.ErrRateLimited) {
			return Abused(err)
		}
		return Failed(fmt.Errorf("send sms: %w", err))
	}
	if p.devStore != nil {
		p.devStore.Put(ctx, phone, code, expiresAt)
	}
	p.logger.InfoContext(ctx, "sms otp sent", "phone_hash", phoneHash)

	return Sent(int(p.cfg.CodeTTL/time.Second), &domain.Challenge{
		CodeMAC:   p.codes.Sum(code, phone, expiresAt),
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	})
}

// checkLimit fails closed: a limiter error refuses the send as Failed.
func (p *Provider) checkLimit(ctx context.Context, key string, limit int) (DeliveryResult, bool) {
	if p.limiter == nil || limit <= 0 {
		return DeliveryResult{}, true
	}
	allowed, err := p.limiter.Allow(ctx, "otp_send:"+key, limit, p.cfg.Window)
	if err != nil {
		p.logger.WarnContext(ctx, "sms otp send limit check failed", "error", err)
		return Failed(fmt.Errorf("check send limit: %w", err)), false
	}
	if !allowed {
		p.logger.WarnContext(ctx, "sms otp send limit exceeded", "limit", key)
		return Abused(ErrSendLimitExceeded), false
	}
	return DeliveryResult{}, true
}
