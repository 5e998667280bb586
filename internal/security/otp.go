package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"
)

// DefaultCodeLength is the number of digits in an SMS code.
const DefaultCodeLength = 6

const maxCodeLength = 18

// ErrEmptyPepper is returned when a CodeMAC is created without a key.
var ErrEmptyPepper = errors.New("otp code pepper must not be empty")

// GenerateCode returns a random numeric code of the given length, zero-padded.
// Uses crypto/rand via big.Int so digits are uniform.
func GenerateCode(length int) (string, error) {
	if length > maxCodeLength {
		length = maxCodeLength
	}
	if length <= 0 {
		length = DefaultCodeLength
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate otp code: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n.Int64()), nil
}

// HashPhone returns the SHA-256 hex digest of a phone number.
func HashPhone(phone string) string {
	h := sha256.Sum256([]byte(phone))
	return hex.EncodeToString(h[:])
}

// CodeMAC binds a code to the phone number and expiry it was issued for.
// Only the MAC is stored on the credential, never the code.
type CodeMAC struct {
	pepper []byte
}

// NewCodeMAC returns a CodeMAC keyed with pepper.
func NewCodeMAC(pepper string) (*CodeMAC, error) {
	if pepper == "" {
		return nil, ErrEmptyPepper
	}
	return &CodeMAC{pepper: []byte(pepper)}, nil
}

// Sum returns HMAC-SHA256(pepper, code || phoneHash || expiresAtUnix), hex-encoded.
func (m *CodeMAC) Sum(code, phone string, expiresAt time.Time) string {
	mac := hmac.New(sha256.New, m.pepper)
	mac.Write([]byte(code))
	mac.Write([]byte(HashPhone(phone)))
	mac.Write([]byte(strconv.FormatInt(expiresAt.Unix(), 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal compares the MAC of candidate with stored in constant time.
func (m *CodeMAC) Equal(candidate, phone string, expiresAt time.Time, stored string) bool {
	if stored == "" {
		return false
	}
	sum := m.Sum(candidate, phone, expiresAt)
	return subtle.ConstantTimeCompare([]byte(sum), []byte(stored)) == 1
}
