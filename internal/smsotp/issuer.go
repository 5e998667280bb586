package smsotp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"phone-otp-mfa/internal/credential/domain"
	"phone-otp-mfa/internal/phone"
)

// ChallengeOutcome is how the issuer settled the entry of the step.
type ChallengeOutcome int

const (
	OutcomeAlreadyTrusted ChallengeOutcome = iota
	OutcomeAlreadyVerified
	OutcomeChallengeSent
)

// IssueResult is the issuer's decision. Form and Err are set only for OutcomeChallengeSent;
// Err is ErrAbused or ErrDeliveryFailure when the send did not go through.
type IssueResult struct {
	Outcome ChallengeOutcome
	Trust   TrustDecision
	Form    *ChallengeForm
	Err     error
}

// Issuer decides whether a new code must be sent and sends it.
type Issuer struct {
	store         CredentialStore
	sender        TokenCodeSender
	codec         *CookieCodec
	windowSeconds int
	logger        *slog.Logger
}

// NewIssuer returns an Issuer honoring remembered-device cookies for windowSeconds.
func NewIssuer(store CredentialStore, sender TokenCodeSender, codec *CookieCodec, windowSeconds int, logger *slog.Logger) *Issuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Issuer{store: store, sender: sender, codec: codec, windowSeconds: windowSeconds, logger: logger}
}

// IssueIfNeeded runs the entry precedence: a valid trust cookie, then a phone number this flow
// already verified, then a fresh SMS. Every send attempt resets the credential's failure count and
// replaces its outstanding challenge, also when delivery failed.
func (i *Issuer) IssueIfNeeded(ctx context.Context, req Request, cred *domain.OtpCredential) (IssueResult, error) {
	if cred == nil {
		return IssueResult{}, ErrNoCredential
	}

	trust, err := i.codec.Check(ctx, req.Realm, cred, req.Cookies, i.windowSeconds)
	if err != nil {
		return IssueResult{}, fmt.Errorf("check trust cookie: %w", err)
	}
	if trust.Trusted() {
		return IssueResult{Outcome: OutcomeAlreadyTrusted, Trust: trust}, nil
	}

	if verified := strings.TrimSpace(req.VerifiedPhone); verified != "" && strings.EqualFold(verified, cred.PhoneNumber) {
		return IssueResult{Outcome: OutcomeAlreadyVerified, Trust: trust}, nil
	}

	form := newForm(cred.PhoneNumber, cred.ID)
	res := i.sender.SendTokenCode(ctx, cred.PhoneNumber, req.ClientAddr, phone.TokenCodeType, map[string]string{"realm": req.Realm})

	var challenge *domain.Challenge
	var kind error
	switch res.Status {
	case phone.DeliverySent:
		challenge = res.Challenge
		form.CodeSent = true
		form.ExpiresIn = res.ExpiresIn
		form.InitSend = true
	case phone.DeliveryAbused:
		i.logger.WarnContext(ctx, "sms otp send refused as abuse", "user_id", req.UserID, "error", res.Err)
		kind = ErrAbused
	case phone.DeliveryFailed:
		i.logger.WarnContext(ctx, "sms otp send failed", "user_id", req.UserID, "error", res.Err)
		kind = ErrDeliveryFailure
	default:
		i.logger.WarnContext(ctx, "sms otp send returned unknown status", "status", res.Status.String())
		kind = ErrDeliveryFailure
	}
	form.Error = formError(kind)

	data := domain.CredentialData{PhoneNumber: cred.PhoneNumber, FailedAttempts: 0}
	if err := i.store.UpdateOtpCredential(ctx, req.UserID, data, challenge); err != nil {
		return IssueResult{}, fmt.Errorf("reset otp credential: %w", err)
	}
	return IssueResult{Outcome: OutcomeChallengeSent, Trust: trust, Form: form, Err: kind}, nil
}
