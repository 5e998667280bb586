package domain

import "time"

// RequiredActionConfigureSmsOtp asks the orchestrator to enroll an SMS OTP credential.
const RequiredActionConfigureSmsOtp = "CONFIGURE_SMS_OTP"

// RequiredAction is a pending action a user must complete before the login flow can finish.
type RequiredAction struct {
	UserID    string
	Realm     string
	Action    string
	CreatedAt time.Time
}
