// Package smsotp is the SMS OTP second-factor step of a login flow: remembered-device cookies,
// challenge issuance, code verification, and the state machine the orchestrator drives.
package smsotp

import (
	"errors"
	"net/http"
)

// Page is the template id of the challenge form.
const Page = "login-sms-otp"

// Form error codes rendered on the challenge page.
const (
	ErrorAbused     = "sms_otp_abused"
	ErrorSendFailed = "sms_otp_send_failed"
	ErrorNotMatched = "sms_otp_not_matched"
)

var (
	// ErrAbused: the delivery provider refused the send (rate limited or blocked caller). Recoverable.
	ErrAbused = errors.New("sms otp: send refused as abuse")
	// ErrDeliveryFailure: the send failed for any other reason. Recoverable.
	ErrDeliveryFailure = errors.New("sms otp: delivery failed")
	// ErrInvalidInput: the submitted code was blank. Recoverable.
	ErrInvalidInput = errors.New("sms otp: code is required")
	// ErrNotMatched: the submitted code did not validate. Recoverable.
	ErrNotMatched = errors.New("sms otp: code not matched")
	// ErrNoCredential: the user has no SMS OTP credential; the step should not have been entered.
	ErrNoCredential = errors.New("sms otp: user has no sms otp credential")
)

// Status is what the orchestrator must do with a Result.
type Status int

const (
	// StatusSuccess ends the step successfully.
	StatusSuccess Status = iota
	// StatusChallenge renders Form and waits for a submission.
	StatusChallenge
	// StatusFailureChallenge renders Form after a failed submission; the flow is not aborted.
	StatusFailureChallenge
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusChallenge:
		return "challenge"
	case StatusFailureChallenge:
		return "failure_challenge"
	default:
		return "unknown"
	}
}

// State is the step state reached by an Evaluate or Submit.
type State int

const (
	StateTrustedExit State = iota
	StateAlreadyVerified
	StateChallengeSent
	StateSuccessExit
	StateRechallenge
)

func (s State) String() string {
	switch s {
	case StateTrustedExit:
		return "trusted_exit"
	case StateAlreadyVerified:
		return "already_verified"
	case StateChallengeSent:
		return "challenge_sent"
	case StateSuccessExit:
		return "success_exit"
	case StateRechallenge:
		return "rechallenge"
	default:
		return "unknown"
	}
}

// ChallengeForm is the attribute and error bag for the challenge page.
type ChallengeForm struct {
	Page         string
	PhoneNumber  string
	CredentialID string
	// ExpiresIn, InitSend and CodeSent are set only when a code was just delivered.
	ExpiresIn    int
	InitSend     bool
	CodeSent     bool
	Error        string
	SupportPhone bool
}

// Result is the outcome of Evaluate or Submit.
type Result struct {
	Status Status
	State  State
	// Form is set for StatusChallenge and StatusFailureChallenge.
	Form *ChallengeForm
	// Cookies must be written to the response.
	Cookies []*http.Cookie
	// Err is the recoverable error kind shown on Form, if any.
	Err error
}

// Request is the flow context of one Evaluate or Submit call.
type Request struct {
	Realm  string
	UserID string
	// Cookies are the request cookies by name.
	Cookies map[string]string
	// VerifiedPhone is the phone number an earlier step of this flow already confirmed, if any.
	VerifiedPhone string
	ClientAddr    string
}

// Submission is the posted challenge form.
type Submission struct {
	Code         string
	CredentialID string
}

func newForm(phone, credentialID string) *ChallengeForm {
	return &ChallengeForm{
		Page:         Page,
		PhoneNumber:  phone,
		CredentialID: credentialID,
		SupportPhone: true,
	}
}

func formError(err error) string {
	switch {
	case errors.Is(err, ErrAbused):
		return ErrorAbused
	case errors.Is(err, ErrDeliveryFailure):
		return ErrorSendFailed
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrNotMatched):
		return ErrorNotMatched
	default:
		return ""
	}
}
