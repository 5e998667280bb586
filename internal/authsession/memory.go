package authsession

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

type flowNotes struct {
	notes     map[string]string
	expiresAt time.Time
}

// MemoryStore is an in-process Store for single-instance deployments and tests.
type MemoryStore struct {
	mu    sync.Mutex
	flows map[string]*flowNotes
	ttl   time.Duration
	nowF  func() time.Time
}

// NewMemoryStore returns an empty MemoryStore. ttl <= 0 selects DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		flows: make(map[string]*flowNotes),
		ttl:   ttl,
		nowF:  func() time.Time { return time.Now().UTC() },
	}
}

// GetNote implements Store.
func (s *MemoryStore) GetNote(ctx context.Context, flowID, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.live(flowID)
	if f == nil {
		return "", nil
	}
	return f.notes[name], nil
}

// SetNote implements Store.
func (s *MemoryStore) SetNote(ctx context.Context, flowID, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.live(flowID)
	if f == nil {
		f = &flowNotes{notes: make(map[string]string)}
		s.flows[flowID] = f
	}
	f.notes[name] = value
	f.expiresAt = s.nowF().Add(s.ttl)
	return nil
}

// RemoveNote implements Store.
func (s *MemoryStore) RemoveNote(ctx context.Context, flowID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f := s.live(flowID); f != nil {
		delete(f.notes, name)
	}
	return nil
}

// live returns the flow if it has not expired, dropping it otherwise. Caller holds s.mu.
func (s *MemoryStore) live(flowID string) *flowNotes {
	f, ok := s.flows[flowID]
	if !ok {
		return nil
	}
	if !s.nowF().Before(f.expiresAt) {
		delete(s.flows, flowID)
		return nil
	}
	return f
}
