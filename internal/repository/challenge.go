package repository

import (
	"context"
	"time"

	"github.com/topspeed/backend/internal/domain"
)

type ChallengeRepository interface {
	// Replace removes any unconsumed challenge for the challenge's
	// (email, purpose) pair and inserts the new one in a single
	// transaction, so exactly one challenge is ever active per pair.
	Replace(ctx context.Context, ch *domain.OTPChallenge) (*domain.OTPChallenge, error)

	// FindActive returns the unconsumed challenge for the
	// (email, purpose) pair. ErrOTPNotFound if none exists.
	FindActive(ctx context.Context, email string, purpose domain.OTPPurpose) (*domain.OTPChallenge, error)

	// Consume marks a challenge used so it can never verify again.
	Consume(ctx context.Context, id string) error

	// Delete purges a single challenge (used when one is found expired).
	Delete(ctx context.Context, id string) error

	// DeleteTerminalBefore removes consumed challenges and challenges
	// whose expiry is before now. Returns the number of rows removed.
	DeleteTerminalBefore(ctx context.Context, now time.Time) (int64, error)
}
