package repository

import (
	"context"
	"sync"
	"time"

	"phone-otp-mfa/internal/credential/domain"
)

// MemoryRepository is an in-memory Repository and RequiredActionRepository.
// Used when DATABASE_URL is empty and in tests. Update is last-writer-wins per credential;
// ReserveAttempt and ConsumeChallenge compare and swap under the lock.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]*domain.OtpCredential
	actions map[string][]*domain.RequiredAction
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]*domain.OtpCredential),
		actions: make(map[string][]*domain.RequiredAction),
	}
}

// GetByID returns a copy of the credential for id, or nil if not found.
func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.OtpCredential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	c2 := *c
	return &c2, nil
}

// GetByUser returns a copy of the user's newest credential, or nil if none.
func (r *MemoryRepository) GetByUser(ctx context.Context, userID string) (*domain.OtpCredential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var newest *domain.OtpCredential
	for _, c := range r.byID {
		if c.UserID != userID {
			continue
		}
		if newest == nil || c.CreatedAt.After(newest.CreatedAt) {
			newest = c
		}
	}
	if newest == nil {
		return nil, nil
	}
	c2 := *newest
	return &c2, nil
}

// Create stores c. The credential must have ID set.
func (r *MemoryRepository) Create(ctx context.Context, c *domain.OtpCredential) error {
	if err := c.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c2 := *c
	r.byID[c.ID] = &c2
	return nil
}

// Update replaces the stored credential with c. Returns domain.ErrCredentialNotFound if c.ID is unknown.
func (r *MemoryRepository) Update(ctx context.Context, c *domain.OtpCredential) error {
	if err := c.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[c.ID]; !ok {
		return domain.ErrCredentialNotFound
	}
	c2 := *c
	r.byID[c.ID] = &c2
	return nil
}

// ReserveAttempt counts one answer against the outstanding challenge codeMAC.
func (r *MemoryRepository) ReserveAttempt(ctx context.Context, id, codeMAC string, maxAttempts int, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok || codeMAC == "" || c.OutstandingCode != codeMAC || !c.HasOutstandingChallenge(now) {
		return false, nil
	}
	if c.FailedAttempts >= maxAttempts {
		return false, nil
	}
	c.FailedAttempts++
	c.UpdatedAt = now
	return true, nil
}

// ConsumeChallenge clears the outstanding challenge codeMAC and stores secretHash as the trust secret.
func (r *MemoryRepository) ConsumeChallenge(ctx context.Context, id, codeMAC, secretHash string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok || codeMAC == "" || c.OutstandingCode != codeMAC {
		return false, nil
	}
	setAt := now
	c.OutstandingCode = ""
	c.IssuedAt = nil
	c.ExpiresAt = nil
	c.FailedAttempts = 0
	c.SecretHash = secretHash
	c.SecretInvalid = false
	c.SecretSetAt = &setAt
	c.UpdatedAt = now
	return true, nil
}

// Add records a pending required action. Adding the same action twice is a no-op.
func (r *MemoryRepository) Add(ctx context.Context, a *domain.RequiredAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.actions[a.UserID] {
		if existing.Action == a.Action {
			return nil
		}
	}
	a2 := *a
	r.actions[a.UserID] = append(r.actions[a.UserID], &a2)
	return nil
}

// ListByUser returns the pending required actions for userID.
func (r *MemoryRepository) ListByUser(ctx context.Context, userID string) ([]*domain.RequiredAction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.actions[userID]
	out := make([]*domain.RequiredAction, len(list))
	for i, a := range list {
		a2 := *a
		out[i] = &a2
	}
	return out, nil
}
