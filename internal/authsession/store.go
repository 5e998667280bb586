// Package authsession holds flow-scoped notes shared by the steps of one login flow.
package authsession

import (
	"context"
	"errors"
	"time"
)

const (
	// NoteVerifiedPhoneNumber is set by an earlier step that already confirmed the user's phone.
	NoteVerifiedPhoneNumber = "VERIFIED_PHONE_NUMBER"
	// NoteSmsOtpResult records the SMS OTP step outcome for the orchestrator.
	NoteSmsOtpResult = "SMS_OTP_RESULT"
)

// DefaultTTL is the lifetime of a flow's notes after the last write.
const DefaultTTL = 30 * time.Minute

// ErrBackend wraps failures of the underlying session store.
var ErrBackend = errors.New("auth session backend unavailable")

// Store reads and writes named notes of a login flow. Every write extends the flow's TTL.
type Store interface {
	// GetNote returns the note value, or "" if the flow or note does not exist.
	GetNote(ctx context.Context, flowID, name string) (string, error)
	SetNote(ctx context.Context, flowID, name, value string) error
	RemoveNote(ctx context.Context, flowID, name string) error
}
