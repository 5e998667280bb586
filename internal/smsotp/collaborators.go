package smsotp

import (
	"context"

	"phone-otp-mfa/internal/credential/domain"
	"phone-otp-mfa/internal/phone"
)

// CredentialStore is the credential store adapter the step reads and updates.
type CredentialStore interface {
	// GetOtpCredential returns the user's credential, or nil if none.
	GetOtpCredential(ctx context.Context, userID string) (*domain.OtpCredential, error)
	// UpdateOtpCredential replaces phone, failure count and the outstanding challenge (nil clears it).
	UpdateOtpCredential(ctx context.Context, userID string, data domain.CredentialData, challenge *domain.Challenge) error
	IsValid(ctx context.Context, realm, userID string, input domain.CredentialInput) (bool, error)
	// GetDefaultCredential returns the credential used when a submission names none, or nil.
	GetDefaultCredential(ctx context.Context, realm, userID string) (*domain.OtpCredential, error)
	IsConfiguredFor(ctx context.Context, realm, userID, credType string) (bool, error)
}

// TokenCodeSender is the SMS delivery provider.
type TokenCodeSender interface {
	SendTokenCode(ctx context.Context, phoneNumber, clientAddr, codeType string, extra map[string]string) phone.DeliveryResult
}

// RequiredActions registers pending required actions for a user.
type RequiredActions interface {
	AddRequiredAction(ctx context.Context, realm, userID, action string) error
}

// Observer is notified of every Evaluate and Submit outcome.
type Observer interface {
	Observe(ctx context.Context, op string, res Result)
}

type noopObserver struct{}

func (noopObserver) Observe(context.Context, string, Result) {}
