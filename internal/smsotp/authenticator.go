package smsotp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"phone-otp-mfa/internal/audit"
	"phone-otp-mfa/internal/credential/domain"
)

var tracer = otel.Tracer("phone-otp-mfa/smsotp")

// Audit actions.
const (
	ActionTrusted         = "sms_otp_trusted"
	ActionAlreadyVerified = "sms_otp_already_verified"
	ActionChallengeSent   = "sms_otp_challenge_sent"
	ActionSendAbused      = "sms_otp_send_abused"
	ActionSendFailed      = "sms_otp_send_failed"
	ActionVerified        = "sms_otp_verified"
	ActionNotMatched      = "sms_otp_not_matched"
	ActionInvalidInput    = "sms_otp_invalid_input"
)

// Operation names passed to Observer.
const (
	OpEvaluate = "evaluate"
	OpSubmit   = "submit"
)

// Config holds the step settings.
type Config struct {
	// TrustWindowSeconds is the remembered-device lifetime. <= 0 disables trust cookies entirely.
	TrustWindowSeconds int
}

// Deps are the collaborators of the Authenticator. Store, Sender and Codec are required.
type Deps struct {
	Store    CredentialStore
	Sender   TokenCodeSender
	Codec    *CookieCodec
	Actions  RequiredActions
	Audit    audit.AuditLogger
	Observer Observer
	Logger   *slog.Logger
}

// Authenticator is the SMS OTP login step.
type Authenticator struct {
	store    CredentialStore
	issuer   *Issuer
	verifier *Verifier
	actions  RequiredActions
	audit    audit.AuditLogger
	observer Observer
	logger   *slog.Logger
}

// NewAuthenticator wires the step.
func NewAuthenticator(deps Deps, cfg Config) (*Authenticator, error) {
	if deps.Store == nil || deps.Sender == nil || deps.Codec == nil {
		return nil, errors.New("smsotp: store, sender and cookie codec are required")
	}
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Authenticator{
		store:    deps.Store,
		issuer:   NewIssuer(deps.Store, deps.Sender, deps.Codec, cfg.TrustWindowSeconds, deps.Logger),
		verifier: NewVerifier(deps.Store, deps.Codec, cfg.TrustWindowSeconds),
		actions:  deps.Actions,
		audit:    deps.Audit,
		observer: deps.Observer,
		logger:   deps.Logger,
	}, nil
}

// RequiresUser reports that the step needs an identified user. Always true.
func (a *Authenticator) RequiresUser() bool { return true }

// ConfiguredFor reports whether the user has an SMS OTP credential.
func (a *Authenticator) ConfiguredFor(ctx context.Context, realm, userID string) (bool, error) {
	return a.store.IsConfiguredFor(ctx, realm, userID, domain.CredentialType)
}

// SetRequiredActions registers the enrollment required action for a user not ConfiguredFor this step.
func (a *Authenticator) SetRequiredActions(ctx context.Context, realm, userID string) error {
	if a.actions == nil {
		return errors.New("smsotp: no required action registry")
	}
	return a.actions.AddRequiredAction(ctx, realm, userID, domain.RequiredActionConfigureSmsOtp)
}

// Evaluate runs on flow entry. It ends the step when a trust cookie or an earlier verification
// applies, otherwise it sends a code and returns the challenge form. A failed send still returns
// StatusChallenge, with Err and Form.Error set. The only error is ErrNoCredential or a store failure.
func (a *Authenticator) Evaluate(ctx context.Context, req Request) (res Result, err error) {
	ctx, span := a.start(ctx, "smsotp.evaluate", req)
	defer func() { a.finish(ctx, span, OpEvaluate, res, err) }()

	cred, err := a.store.GetOtpCredential(ctx, req.UserID)
	if err != nil {
		return Result{}, fmt.Errorf("load otp credential: %w", err)
	}
	if cred == nil {
		return Result{}, ErrNoCredential
	}

	issued, err := a.issuer.IssueIfNeeded(ctx, req, cred)
	if err != nil {
		return Result{}, err
	}
	span.SetAttributes(attribute.String("sms_otp.trust", issued.Trust.String()))

	switch issued.Outcome {
	case OutcomeAlreadyTrusted:
		a.logEvent(ctx, req, ActionTrusted, cred.ID, nil)
		return Result{Status: StatusSuccess, State: StateTrustedExit}, nil
	case OutcomeAlreadyVerified:
		a.logEvent(ctx, req, ActionAlreadyVerified, cred.ID, nil)
		return Result{Status: StatusSuccess, State: StateAlreadyVerified}, nil
	}

	switch {
	case errors.Is(issued.Err, ErrAbused):
		a.logEvent(ctx, req, ActionSendAbused, cred.ID, nil)
	case issued.Err != nil:
		a.logEvent(ctx, req, ActionSendFailed, cred.ID, nil)
	default:
		a.logEvent(ctx, req, ActionChallengeSent, cred.ID, map[string]any{"expires_in": issued.Form.ExpiresIn})
	}
	return Result{Status: StatusChallenge, State: StateChallengeSent, Form: issued.Form, Err: issued.Err}, nil
}

// Submit runs when the user posts a code. Success ends the step and returns the trust cookies;
// any mismatch returns StatusFailureChallenge with the form re-rendered for the same phone number.
func (a *Authenticator) Submit(ctx context.Context, req Request, sub Submission) (res Result, err error) {
	ctx, span := a.start(ctx, "smsotp.submit", req)
	defer func() { a.finish(ctx, span, OpSubmit, res, err) }()

	cred, err := a.store.GetOtpCredential(ctx, req.UserID)
	if err != nil {
		return Result{}, fmt.Errorf("load otp credential: %w", err)
	}
	if cred == nil {
		return Result{}, ErrNoCredential
	}

	verified, err := a.verifier.Verify(ctx, req.Realm, req.UserID, sub.CredentialID, sub.Code)
	if err != nil {
		return Result{}, err
	}

	switch verified.Outcome {
	case VerifySuccess:
		a.logEvent(ctx, req, ActionVerified, verified.CredentialID, map[string]any{"trust_cookie": len(verified.Cookies) > 0})
		return Result{Status: StatusSuccess, State: StateSuccessExit, Cookies: verified.Cookies}, nil
	case VerifyInvalidInput:
		a.logEvent(ctx, req, ActionInvalidInput, verified.CredentialID, nil)
		return a.rechallenge(cred, verified.CredentialID, ErrInvalidInput), nil
	default:
		a.logEvent(ctx, req, ActionNotMatched, verified.CredentialID, nil)
		return a.rechallenge(cred, verified.CredentialID, ErrNotMatched), nil
	}
}

func (a *Authenticator) rechallenge(cred *domain.OtpCredential, credentialID string, kind error) Result {
	if credentialID == "" {
		credentialID = cred.ID
	}
	form := newForm(cred.PhoneNumber, credentialID)
	form.Error = formError(kind)
	return Result{Status: StatusFailureChallenge, State: StateRechallenge, Form: form, Err: kind}
}

func (a *Authenticator) start(ctx context.Context, name string, req Request) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	span.SetAttributes(
		attribute.String("realm", req.Realm),
		attribute.String("user.id", req.UserID),
	)
	return ctx, span
}

func (a *Authenticator) finish(ctx context.Context, span trace.Span, op string, res Result, err error) {
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.logger.ErrorContext(ctx, "sms otp step failed", "op", op, "error", err)
		return
	}
	span.SetAttributes(
		attribute.String("sms_otp.status", res.Status.String()),
		attribute.String("sms_otp.state", res.State.String()),
	)
	a.observer.Observe(ctx, op, res)
}

func (a *Authenticator) logEvent(ctx context.Context, req Request, action, credentialID string, meta map[string]any) {
	if a.audit == nil {
		return
	}
	var metadata string
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			metadata = string(b)
		}
	}
	a.audit.LogEvent(ctx, req.Realm, req.UserID, action, credentialID, metadata)
}
