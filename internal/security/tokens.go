package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a flow token is malformed, expired, or signed with another key.
	ErrInvalidToken = errors.New("invalid token")
	// ErrEmptyTokenSecret is returned when FlowTokens is built without a signing secret.
	ErrEmptyTokenSecret = errors.New("flow token secret must not be empty")
)

// FlowClaims identifies the login flow and the already-identified user handed to this step by the orchestrator.
type FlowClaims struct {
	jwt.RegisteredClaims
	FlowID string `json:"flow_id"`
	Realm  string `json:"realm"`
}

// FlowTokens issues and validates HS256 flow tokens shared with the login orchestrator.
type FlowTokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	nowF   func() time.Time
}

// NewFlowTokens returns FlowTokens signing with secret. issuer is set on issued tokens and required on validation.
func NewFlowTokens(secret, issuer string, ttl time.Duration) (*FlowTokens, error) {
	if secret == "" {
		return nil, ErrEmptyTokenSecret
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &FlowTokens{secret: []byte(secret), issuer: issuer, ttl: ttl, nowF: time.Now}, nil
}

// Issue signs a flow token for the given flow, user, and realm.
func (p *FlowTokens) Issue(flowID, userID, realm string) (string, time.Time, error) {
	now := p.nowF().UTC()
	expiresAt := now.Add(p.ttl)
	claims := FlowClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		FlowID: flowID,
		Realm:  realm,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Validate parses tokenString and checks signature, expiry, issuer, and required claims.
func (p *FlowTokens) Validate(tokenString string) (*FlowClaims, error) {
	claims := &FlowClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return p.secret, nil
	},
		jwt.WithIssuer(p.issuer),
		jwt.WithTimeFunc(p.nowF),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.FlowID == "" || claims.Realm == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
