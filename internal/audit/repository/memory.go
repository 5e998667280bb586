package repository

import (
	"context"
	"sync"

	"phone-otp-mfa/internal/audit/domain"
)

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository keeps audit logs in process. Used when no database is configured and in tests.
type MemoryRepository struct {
	mu      sync.Mutex
	entries []domain.AuditLog
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Create appends a copy of a.
func (r *MemoryRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *a)
	return nil
}

// ListByUser implements Repository; entries are returned newest first.
func (r *MemoryRepository) ListByUser(ctx context.Context, realm, userID string, limit int) ([]*domain.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.AuditLog
	for i := len(r.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		e := r.entries[i]
		if e.Realm == realm && e.UserID == userID {
			out = append(out, &e)
		}
	}
	return out, nil
}
