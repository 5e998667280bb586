package repository

import (
	"context"

	"phone-otp-mfa/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	// ListByUser returns the newest entries for the user in realm, at most limit.
	ListByUser(ctx context.Context, realm, userID string, limit int) ([]*domain.AuditLog, error)
}
