package smsotp

import (
	"context"
	"sync"

	"phone-otp-mfa/internal/credential/domain"
	"phone-otp-mfa/internal/phone"
)

type storeUpdate struct {
	userID    string
	data      domain.CredentialData
	challenge *domain.Challenge
}

// fakeStore is an in-memory CredentialStore whose validity answers are scripted per input.
type fakeStore struct {
	cred       *domain.OtpCredential
	defaultID  string
	valid      map[domain.CredentialInput]bool
	validErr   error
	getErr     error
	updateErr  error
	configured bool

	updates    []storeUpdate
	validCalls []domain.CredentialInput
}

func newFakeStore(cred *domain.OtpCredential) *fakeStore {
	return &fakeStore{cred: cred, valid: make(map[domain.CredentialInput]bool)}
}

func (s *fakeStore) accept(credentialID, secret string, purpose domain.Purpose) {
	s.valid[domain.CredentialInput{CredentialID: credentialID, Type: domain.CredentialType, Secret: secret, Purpose: purpose}] = true
}

func (s *fakeStore) GetOtpCredential(ctx context.Context, userID string) (*domain.OtpCredential, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.cred == nil || s.cred.UserID != userID {
		return nil, nil
	}
	c := *s.cred
	return &c, nil
}

func (s *fakeStore) UpdateOtpCredential(ctx context.Context, userID string, data domain.CredentialData, challenge *domain.Challenge) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updates = append(s.updates, storeUpdate{userID: userID, data: data, challenge: challenge})
	if s.cred != nil {
		s.cred.PhoneNumber = data.PhoneNumber
		s.cred.FailedAttempts = data.FailedAttempts
	}
	return nil
}

func (s *fakeStore) IsValid(ctx context.Context, realm, userID string, input domain.CredentialInput) (bool, error) {
	s.validCalls = append(s.validCalls, input)
	if s.validErr != nil {
		return false, s.validErr
	}
	return s.valid[input], nil
}

func (s *fakeStore) GetDefaultCredential(ctx context.Context, realm, userID string) (*domain.OtpCredential, error) {
	if s.defaultID == "" {
		return nil, nil
	}
	return &domain.OtpCredential{ID: s.defaultID, UserID: userID}, nil
}

func (s *fakeStore) IsConfiguredFor(ctx context.Context, realm, userID, credType string) (bool, error) {
	return s.configured && credType == domain.CredentialType, nil
}

type sendCall struct {
	phone, clientAddr, codeType string
}

// fakeSender returns result for every send and records the calls.
type fakeSender struct {
	result phone.DeliveryResult
	calls  []sendCall
}

func (f *fakeSender) SendTokenCode(ctx context.Context, phoneNumber, clientAddr, codeType string, extra map[string]string) phone.DeliveryResult {
	f.calls = append(f.calls, sendCall{phone: phoneNumber, clientAddr: clientAddr, codeType: codeType})
	return f.result
}

type fakeActions struct {
	added []string
	err   error
}

func (f *fakeActions) AddRequiredAction(ctx context.Context, realm, userID, action string) error {
	if f.err != nil {
		return f.err
	}
	f.added = append(f.added, realm+"/"+userID+"/"+action)
	return nil
}

type auditEntry struct {
	realm, userID, action, resource, metadata string
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (f *fakeAudit) LogEvent(ctx context.Context, realm, userID, action, resource, metadata string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, auditEntry{realm, userID, action, resource, metadata})
}

func (f *fakeAudit) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.action
	}
	return out
}

type observed struct {
	op  string
	res Result
}

type fakeObserver struct {
	seen []observed
}

func (f *fakeObserver) Observe(ctx context.Context, op string, res Result) {
	f.seen = append(f.seen, observed{op, res})
}
