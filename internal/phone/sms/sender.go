// Package sms delivers OTP codes to phone numbers through an SMS gateway.
package sms

import (
	"context"
	"errors"
)

// ErrRateLimited is returned by a Sender when the gateway refuses the message for the
// destination or sender (HTTP 429, throttling). Callers treat it as abuse, not a transient failure.
var ErrRateLimited = errors.New("sms: rate limited by gateway")

// Sender delivers an OTP code to a phone number.
type Sender interface {
	// SendOTP returns nil when the gateway accepted the message (not necessarily delivered).
	SendOTP(ctx context.Context, phone, otp string) error
}

// Message is the SMS body used by gateways that take free text.
func Message(otp string) string {
	return "Your verification code is: " + otp
}
