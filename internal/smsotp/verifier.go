package smsotp

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"phone-otp-mfa/internal/credential/domain"
)

// VerifyOutcome is the result kind of a code submission.
type VerifyOutcome int

const (
	VerifySuccess VerifyOutcome = iota
	VerifyInvalidInput
	VerifyNotMatched
)

// VerifyResult carries the credential the code was checked against and, on success, the
// remembered-device cookies to set.
type VerifyResult struct {
	Outcome      VerifyOutcome
	CredentialID string
	Cookies      []*http.Cookie
}

// Verifier validates submitted codes.
type Verifier struct {
	store         CredentialStore
	codec         *CookieCodec
	windowSeconds int
}

// NewVerifier returns a Verifier issuing trust cookies for windowSeconds.
func NewVerifier(store CredentialStore, codec *CookieCodec, windowSeconds int) *Verifier {
	return &Verifier{store: store, codec: codec, windowSeconds: windowSeconds}
}

// Verify checks code against credentialID, or against the user's default credential when
// credentialID is blank. A blank code is rejected without reaching the store. Expiry and attempt
// limits are enforced by the store; a mismatch is counted there.
func (v *Verifier) Verify(ctx context.Context, realm, userID, credentialID, code string) (VerifyResult, error) {
	credentialID = strings.TrimSpace(credentialID)
	if credentialID == "" {
		def, err := v.store.GetDefaultCredential(ctx, realm, userID)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("resolve default credential: %w", err)
		}
		if def != nil {
			credentialID = def.ID
		}
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return VerifyResult{Outcome: VerifyInvalidInput, CredentialID: credentialID}, nil
	}

	ok, err := v.store.IsValid(ctx, realm, userID, domain.CredentialInput{
		CredentialID: credentialID,
		Type:         domain.CredentialType,
		Secret:       code,
		Purpose:      domain.PurposeChallenge,
	})
	if err != nil {
		return VerifyResult{}, fmt.Errorf("validate code: %w", err)
	}
	if !ok {
		return VerifyResult{Outcome: VerifyNotMatched, CredentialID: credentialID}, nil
	}
	return VerifyResult{
		Outcome:      VerifySuccess,
		CredentialID: credentialID,
		Cookies:      v.codec.Issue(realm, credentialID, code, v.windowSeconds),
	}, nil
}
