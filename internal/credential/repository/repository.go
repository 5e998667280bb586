package repository

import (
	"context"
	"time"

	"phone-otp-mfa/internal/credential/domain"
)

// Repository defines persistence for SMS OTP credentials.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.OtpCredential, error)
	// GetByUser returns the user's most recently created credential, or nil if none.
	GetByUser(ctx context.Context, userID string) (*domain.OtpCredential, error)
	Create(ctx context.Context, c *domain.OtpCredential) error
	Update(ctx context.Context, c *domain.OtpCredential) error
	// ReserveAttempt atomically counts one answer against the outstanding challenge codeMAC.
	// It reports false when that challenge is no longer outstanding, has expired at now, or has
	// already been answered maxAttempts times.
	ReserveAttempt(ctx context.Context, id, codeMAC string, maxAttempts int, now time.Time) (bool, error)
	// ConsumeChallenge atomically clears the outstanding challenge codeMAC, resets the attempt count
	// and stores secretHash as the trust secret set at now. It reports false when codeMAC was
	// already consumed or replaced.
	ConsumeChallenge(ctx context.Context, id, codeMAC, secretHash string, now time.Time) (bool, error)
}

// RequiredActionRepository stores pending required actions per user.
type RequiredActionRepository interface {
	Add(ctx context.Context, a *domain.RequiredAction) error
	ListByUser(ctx context.Context, userID string) ([]*domain.RequiredAction, error)
}
