package domain

import (
	"errors"
	"strings"
	"time"
)

// CredentialType is the credential type registered for SMS OTP second factor.
const CredentialType = "sms-otp"

// Purpose tells the credential store which secret a CredentialInput claims to be.
type Purpose int

const (
	// PurposeChallenge is a code the user typed in answer to an outstanding SMS challenge.
	PurposeChallenge Purpose = iota
	// PurposeDeviceTrust is the secret carried by a remembered-device cookie.
	PurposeDeviceTrust
)

// ErrCredentialNotFound is returned when a user has no SMS OTP credential.
var ErrCredentialNotFound = errors.New("sms otp credential not found")

// OtpCredential is the per-user SMS OTP credential record.
// SecretHash is the bcrypt hash of the last accepted code; it backs remembered-device cookies
// set at SecretSetAt until the trust window passes or SecretInvalid is set by a rotation or reset.
type OtpCredential struct {
	ID             string
	UserID         string
	Realm          string
	PhoneNumber    string
	FailedAttempts int
	SecretHash     string
	SecretInvalid  bool
	SecretSetAt    *time.Time
	// OutstandingCode is the MAC of the code sent by the last challenge; empty when none is outstanding.
	OutstandingCode string
	IssuedAt        *time.Time
	ExpiresAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasOutstandingChallenge reports whether a challenge is pending and not yet expired at now.
func (c *OtpCredential) HasOutstandingChallenge(now time.Time) bool {
	if c == nil || c.OutstandingCode == "" || c.ExpiresAt == nil {
		return false
	}
	return now.Before(*c.ExpiresAt)
}

// TrustSecretFresh reports whether the trust secret was set less than window before now.
func (c *OtpCredential) TrustSecretFresh(now time.Time, window time.Duration) bool {
	if c == nil || window <= 0 || c.SecretHash == "" || c.SecretSetAt == nil {
		return false
	}
	return now.Before(c.SecretSetAt.Add(window))
}

// Validate checks the required fields of a credential before it is persisted.
func (c *OtpCredential) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("credential id is required")
	}
	if strings.TrimSpace(c.UserID) == "" {
		return errors.New("credential user id is required")
	}
	if c.FailedAttempts < 0 {
		return errors.New("credential failed attempts must not be negative")
	}
	return nil
}

// CredentialData is the mutable part of a credential written by the challenge issuer.
type CredentialData struct {
	PhoneNumber    string
	FailedAttempts int
}

// Challenge is the outstanding code state produced by a successful SMS send.
type Challenge struct {
	CodeMAC   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// CredentialInput is a secret presented for validation against a credential.
type CredentialInput struct {
	CredentialID string
	Type         string
	Secret       string
	Purpose      Purpose
}
