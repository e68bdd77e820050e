package repository

import (
	"context"
	"time"

	"github.com/topspeed/backend/internal/domain"
)

type UserRepository interface {
	// CreateUnverified inserts a new unverified user. If the email is
	// already owned by an unverified user the record is replaced (the
	// earlier signup never proved control of the address); if it is
	// owned by a verified user, ErrDuplicateEmail is returned.
	CreateUnverified(ctx context.Context, user *domain.User) (*domain.User, error)

	FindByID(ctx context.Context, id string) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByPendingEmail(ctx context.Context, email string) (*domain.User, error)

	// MarkVerified flips verified=true. Idempotent.
	MarkVerified(ctx context.Context, email string) error

	// SetPendingEmail stages an email change. ErrDuplicateEmail if the
	// target address is owned by a different verified user.
	SetPendingEmail(ctx context.Context, userID, newEmail string) error

	// CommitPendingEmail replaces email with pendingEmail and clears it.
	// ErrNoPendingChange if nothing is staged.
	CommitPendingEmail(ctx context.Context, userID string) (*domain.User, error)

	// DeleteUnverifiedBefore removes unverified users created before the
	// cutoff. Used by the sweeper and the cleanup tool.
	DeleteUnverifiedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
