package domain

import "time"

// Purpose binds a challenge to the flow that issued it. A code is only accepted by that flow.
type Purpose string

const (
	PurposeLogin         Purpose = "login"
	PurposePasswordReset Purpose = "password_reset"
	PurposeRegistration  Purpose = "registration"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeLogin, PurposePasswordReset, PurposeRegistration:
		return true
	}
	return false
}

// Challenge is an issued OTP (stored in otp_challenges). ID is the pending-id handed to callers.
// Rows are never deleted; they are retained for rate-limit lookback and audit.
type Challenge struct {
	ID           int64
	Contact      string
	Purpose      Purpose
	CodeHash     string
	AttemptCount int
	IsUsed       bool
	UsedAt       *time.Time
	// VoidedAt is set when the code could not be delivered; a voided challenge is unusable.
	VoidedAt *time.Time
	// Decoy challenges stand in for unknown accounts: their code is never sent and never verifies.
	Decoy     bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether now is past the expiry.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Voided reports whether delivery failed for this challenge.
func (c *Challenge) Voided() bool {
	return c.VoidedAt != nil
}
