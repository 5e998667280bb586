package smsotp

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"phone-otp-mfa/internal/credential/domain"
)

// IndexCookieName names the cookie whose value is the trusted credential id.
// The secret travels in a second cookie named by that id.
const IndexCookieName = "SMS_OTP_ANSWERED"

// DefaultBasePath is the path prefix under which realm cookies are scoped.
const DefaultBasePath = "/realms"

// TrustDecision is the named result of a remembered-device check.
type TrustDecision int

const (
	TrustDisabled TrustDecision = iota
	TrustSecretInvalidated
	TrustNoCredential
	TrustMissingIndex
	TrustMissingSecret
	TrustRejected
	TrustAccepted
)

// Trusted reports whether the decision lets the user skip the challenge.
func (d TrustDecision) Trusted() bool { return d == TrustAccepted }

func (d TrustDecision) String() string {
	switch d {
	case TrustDisabled:
		return "disabled"
	case TrustSecretInvalidated:
		return "secret_invalidated"
	case TrustNoCredential:
		return "no_credential"
	case TrustMissingIndex:
		return "missing_index"
	case TrustMissingSecret:
		return "missing_secret"
	case TrustRejected:
		return "rejected"
	case TrustAccepted:
		return "accepted"
	default:
		return "unknown"
	}
}

// SecretValidator accepts or rejects a secret for a credential; it is the only trust authority.
type SecretValidator interface {
	IsValid(ctx context.Context, realm, userID string, input domain.CredentialInput) (bool, error)
}

// CookieCodec reads and writes the remembered-device cookie pair.
type CookieCodec struct {
	validator SecretValidator
	basePath  string
	secure    bool
}

// NewCookieCodec returns a CookieCodec scoping cookies to basePath/<realm>. An empty basePath
// selects DefaultBasePath.
func NewCookieCodec(validator SecretValidator, basePath string, secure bool) *CookieCodec {
	basePath = strings.TrimRight(strings.TrimSpace(basePath), "/")
	if basePath == "" {
		basePath = DefaultBasePath
	}
	return &CookieCodec{validator: validator, basePath: basePath, secure: secure}
}

// Path returns the cookie path for realm, escaped the same way as the step URL.
func (c *CookieCodec) Path(realm string) string {
	return c.basePath + "/" + url.PathEscape(realm)
}

// Check decides whether cookies carry a valid remembered-device claim for cred.
// Server-side state is checked before the cookies are read; the cookies only name a claim that the
// validator must accept.
func (c *CookieCodec) Check(ctx context.Context, realm string, cred *domain.OtpCredential, cookies map[string]string, windowSeconds int) (TrustDecision, error) {
	if windowSeconds <= 0 {
		return TrustDisabled, nil
	}
	if cred == nil {
		return TrustNoCredential, nil
	}
	if cred.SecretInvalid {
		return TrustSecretInvalidated, nil
	}

	credentialID := strings.TrimSpace(cookies[IndexCookieName])
	if credentialID == "" {
		return TrustMissingIndex, nil
	}
	secret := strings.TrimSpace(cookies[credentialID])
	if secret == "" {
		return TrustMissingSecret, nil
	}
	if credentialID != cred.ID {
		return TrustRejected, nil
	}

	ok, err := c.validator.IsValid(ctx, realm, cred.UserID, domain.CredentialInput{
		CredentialID: credentialID,
		Type:         domain.CredentialType,
		Secret:       secret,
		Purpose:      domain.PurposeDeviceTrust,
	})
	if err != nil {
		return TrustRejected, err
	}
	if !ok {
		return TrustRejected, nil
	}
	return TrustAccepted, nil
}

// Issue returns the cookie pair binding secret to credentialID for windowSeconds.
// It returns nil when windowSeconds <= 0.
func (c *CookieCodec) Issue(realm, credentialID, secret string, windowSeconds int) []*http.Cookie {
	if windowSeconds <= 0 || credentialID == "" {
		return nil
	}
	path := c.Path(realm)
	return []*http.Cookie{
		c.cookie(IndexCookieName, credentialID, path, windowSeconds),
		c.cookie(credentialID, secret, path, windowSeconds),
	}
}

func (c *CookieCodec) cookie(name, value, path string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		MaxAge:   maxAge,
		Secure:   c.secure,
		HttpOnly: true,
	}
}
