package domain

import (
	"errors"
	"time"
)

var (
	ErrOTPNotFound = errors.New("no active verification code")
	ErrOTPExpired  = errors.New("verification code expired")
	ErrOTPMismatch = errors.New("verification code does not match")
)

type OTPPurpose string

const (
	PurposeRegistration OTPPurpose = "registration"
	PurposeEmailChange  OTPPurpose = "email_change"
)

// OTPChallenge is a single-use 6-digit code issued for one
// (email, purpose) pair. At most one unconsumed challenge exists per
// pair; re-issuing supersedes the previous one.
type OTPChallenge struct {
	ID           string
	SubjectEmail string
	Code         string
	Purpose      OTPPurpose
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Consumed     bool
}

func (c *OTPChallenge) ExpiredAt(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
