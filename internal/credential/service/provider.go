// Package service implements the SMS OTP credential store used by the login step:
// credential lookup, challenge bookkeeping, and secret validation.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"phone-otp-mfa/internal/credential/domain"
	"phone-otp-mfa/internal/credential/repository"
	"phone-otp-mfa/internal/security"
)

// DefaultMaxFailedAttempts is the number of wrong answers after which an outstanding challenge is void.
const DefaultMaxFailedAttempts = 5

// ErrPhoneRequired is returned by Enroll when the phone number is blank.
var ErrPhoneRequired = errors.New("phone number is required")

// Config holds the credential policy.
type Config struct {
	// MaxFailedAttempts is the number of answers an outstanding challenge accepts. <= 0 selects
	// DefaultMaxFailedAttempts.
	MaxFailedAttempts int
	// TrustWindow bounds how long an accepted code stays valid as a device-trust secret. 0 means
	// device-trust secrets are never valid.
	TrustWindow time.Duration
}

// Provider is the credential store adapter backed by a Repository.
// Issuance writes are last-writer-wins; challenge answers go through the repository's atomic
// ReserveAttempt and ConsumeChallenge.
type Provider struct {
	repo    repository.Repository
	actions repository.RequiredActionRepository
	hasher  *security.Hasher
	codes   *security.CodeMAC
	cfg     Config
	nowF    func() time.Time
}

// NewProvider returns a Provider. actions may be nil; then AddRequiredAction is a no-op.
func NewProvider(
	repo repository.Repository,
	actions repository.RequiredActionRepository,
	hasher *security.Hasher,
	codes *security.CodeMAC,
	cfg Config,
) *Provider {
	if cfg.MaxFailedAttempts <= 0 {
		cfg.MaxFailedAttempts = DefaultMaxFailedAttempts
	}
	return &Provider{
		repo:    repo,
		actions: actions,
		hasher:  hasher,
		codes:   codes,
		cfg:     cfg,
		nowF:    func() time.Time { return time.Now().UTC() },
	}
}

// GetOtpCredential returns the user's SMS OTP credential, or nil if the user has none.
func (p *Provider) GetOtpCredential(ctx context.Context, userID string) (*domain.OtpCredential, error) {
	return p.repo.GetByUser(ctx, userID)
}

// GetDefaultCredential returns the credential used when a form submission omits credentialId, or nil.
func (p *Provider) GetDefaultCredential(ctx context.Context, realm, userID string) (*domain.OtpCredential, error) {
	return p.repo.GetByUser(ctx, userID)
}

// IsConfiguredFor reports whether the user has a usable credential of credType.
func (p *Provider) IsConfiguredFor(ctx context.Context, realm, userID, credType string) (bool, error) {
	if credType != domain.CredentialType {
		return false, nil
	}
	c, err := p.repo.GetByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return c != nil && strings.TrimSpace(c.PhoneNumber) != "", nil
}

// UpdateOtpCredential overwrites the phone number and failure count and replaces the outstanding
// challenge with challenge. A nil challenge clears any outstanding code so it cannot be replayed.
func (p *Provider) UpdateOtpCredential(ctx context.Context, userID string, data domain.CredentialData, challenge *domain.Challenge) error {
	c, err := p.repo.GetByUser(ctx, userID)
	if err != nil {
		return err
	}
	if c == nil {
		return domain.ErrCredentialNotFound
	}
	c.PhoneNumber = data.PhoneNumber
	c.FailedAttempts = data.FailedAttempts
	if challenge != nil {
		issued, expires := challenge.IssuedAt, challenge.ExpiresAt
		c.OutstandingCode = challenge.CodeMAC
		c.IssuedAt = &issued
		c.ExpiresAt = &expires
	} else {
		clearChallenge(c)
	}
	c.UpdatedAt = p.nowF()
	return p.repo.Update(ctx, c)
}

// IsValid reports whether input.Secret is currently valid for input.CredentialID.
//
// A device-trust secret is checked against the stored bcrypt hash while it is younger than the trust
// window and the credential secret has not been invalidated. A challenge answer first reserves one
// of the challenge's attempts, so concurrent guesses cannot exceed the budget; a match then
// consumes the challenge exactly once and makes the answer the credential's new trust secret.
func (p *Provider) IsValid(ctx context.Context, realm, userID string, input domain.CredentialInput) (bool, error) {
	if input.Type != domain.CredentialType || input.CredentialID == "" || input.Secret == "" {
		return false, nil
	}
	c, err := p.repo.GetByID(ctx, input.CredentialID)
	if err != nil {
		return false, err
	}
	if c == nil || c.UserID != userID {
		return false, nil
	}

	switch input.Purpose {
	case domain.PurposeDeviceTrust:
		if c.SecretInvalid || !c.TrustSecretFresh(p.nowF(), p.cfg.TrustWindow) {
			return false, nil
		}
		return p.hasher.Matches(c.SecretHash, input.Secret), nil
	case domain.PurposeChallenge:
		return p.answerChallenge(ctx, c, input.Secret)
	default:
		return false, fmt.Errorf("credential: unknown secret purpose %d", input.Purpose)
	}
}

func (p *Provider) answerChallenge(ctx context.Context, c *domain.OtpCredential, code string) (bool, error) {
	now := p.nowF()
	if !c.HasOutstandingChallenge(now) || c.FailedAttempts >= p.cfg.MaxFailedAttempts {
		return false, nil
	}
	reserved, err := p.repo.ReserveAttempt(ctx, c.ID, c.OutstandingCode, p.cfg.MaxFailedAttempts, now)
	if err != nil || !reserved {
		return false, err
	}
	if !p.codes.Equal(code, c.PhoneNumber, *c.ExpiresAt, c.OutstandingCode) {
		return false, nil
	}

	hash, err := p.hasher.Hash(code)
	if err != nil {
		return false, err
	}
	return p.repo.ConsumeChallenge(ctx, c.ID, c.OutstandingCode, hash, now)
}

// InvalidateSecret marks the user's credential secret invalid (rotation or reset) and drops any
// outstanding challenge. Remembered-device cookies stop being honored immediately.
func (p *Provider) InvalidateSecret(ctx context.Context, userID string) error {
	c, err := p.repo.GetByUser(ctx, userID)
	if err != nil {
		return err
	}
	if c == nil {
		return domain.ErrCredentialNotFound
	}
	c.SecretInvalid = true
	c.SecretHash = ""
	c.SecretSetAt = nil
	c.FailedAttempts = 0
	clearChallenge(c)
	c.UpdatedAt = p.nowF()
	return p.repo.Update(ctx, c)
}

// Enroll creates an SMS OTP credential for the user. Enrollment UI lives outside this service;
// Enroll backs the seed command and tests.
func (p *Provider) Enroll(ctx context.Context, realm, userID, phone string) (*domain.OtpCredential, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, ErrPhoneRequired
	}
	now := p.nowF()
	c := &domain.OtpCredential{
		ID:          uuid.New().String(),
		UserID:      userID,
		Realm:       realm,
		PhoneNumber: phone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// AddRequiredAction registers a pending required action for the user.
func (p *Provider) AddRequiredAction(ctx context.Context, realm, userID, action string) error {
	if p.actions == nil {
		return nil
	}
	return p.actions.Add(ctx, &domain.RequiredAction{
		UserID:    userID,
		Realm:     realm,
		Action:    action,
		CreatedAt: p.nowF(),
	})
}

func clearChallenge(c *domain.OtpCredential) {
	c.OutstandingCode = ""
	c.IssuedAt = nil
	c.ExpiresAt = nil
}
