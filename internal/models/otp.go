package models

import "time"

// Challenge is a short-lived OTP record tied to a subject key (username plus
// purpose plus, for reset flows, the contact address). The plaintext code is
// never stored.
type Challenge struct {
	Key        string    `json:"key"`
	CodeHash   string    `json:"code_hash"`
	Email      string    `json:"email"`
	Attempts   int       `json:"attempts"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Verified   bool      `json:"verified"`
	VerifiedAt time.Time `json:"verified_at,omitempty"`
}
