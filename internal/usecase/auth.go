package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/topspeed/backend/internal/domain"
	"github.com/topspeed/backend/internal/metrics"
	"github.com/topspeed/backend/internal/repository"
	"github.com/topspeed/backend/internal/session"
	"golang.org/x/crypto/bcrypt"
)

// AuthUsecase orchestrates signup, OTP verification, login, and
// email-change flows across the user store, the OTP service, and the
// session issuer.
type AuthUsecase struct {
	users    repository.UserRepository
	otp      *OTPService
	sessions *session.Issuer
	logger   *slog.Logger
}

func NewAuthUsecase(users repository.UserRepository, otp *OTPService, sessions *session.Issuer, logger *slog.Logger) *AuthUsecase {
	return &AuthUsecase{
		users:    users,
		otp:      otp,
		sessions: sessions,
		logger:   logger.With("component", "auth"),
	}
}

// Register creates an unverified user and emails a registration code.
// The user cannot authenticate until the code is verified.
func (u *AuthUsecase) Register(ctx context.Context, name, emailAddr, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	_, err = u.users.CreateUnverified(ctx, &domain.User{
		Name:         name,
		Email:        emailAddr,
		PasswordHash: string(hash),
		Role:         domain.RoleUser,
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	if err := u.otp.Issue(ctx, emailAddr, domain.PurposeRegistration); err != nil {
		return fmt.Errorf("issue registration code: %w", err)
	}
	return nil
}

// VerifyOTP settles the active challenge for the email. A registration
// challenge marks the user verified; an email-change challenge commits
// the staged address. Either way a fresh session token is minted so the
// client's cached identity matches the store.
func (u *AuthUsecase) VerifyOTP(ctx context.Context, emailAddr, code string) (string, *domain.User, error) {
	ch, err := u.otp.Match(ctx, emailAddr, code)
	if err != nil {
		return "", nil, err
	}

	// The challenge is consumed only after the account transition
	// lands, so a failed commit leaves the code usable.
	var user *domain.User
	switch ch.Purpose {
	case domain.PurposeEmailChange:
		owner, err := u.users.FindByPendingEmail(ctx, ch.SubjectEmail)
		if err != nil {
			return "", nil, fmt.Errorf("find pending owner: %w", err)
		}
		user, err = u.users.CommitPendingEmail(ctx, owner.ID)
		if err != nil {
			return "", nil, fmt.Errorf("commit pending email: %w", err)
		}
	default:
		if err := u.users.MarkVerified(ctx, ch.SubjectEmail); err != nil {
			return "", nil, fmt.Errorf("mark verified: %w", err)
		}
		user, err = u.users.FindByEmail(ctx, ch.SubjectEmail)
		if err != nil {
			return "", nil, fmt.Errorf("find user: %w", err)
		}
	}

	if err := u.otp.Consume(ctx, ch); err != nil {
		return "", nil, err
	}

	token, err := u.sessions.Issue(user)
	if err != nil {
		return "", nil, fmt.Errorf("issue session: %w", err)
	}
	metrics.SessionsIssuedTotal.Inc()
	return token, user, nil
}

// ResendOTP re-issues the code for whatever flow is pending on the
// email, superseding the previous challenge and restarting the window.
func (u *AuthUsecase) ResendOTP(ctx context.Context, emailAddr string) error {
	if ch, err := u.otp.Active(ctx, emailAddr); err == nil {
		return u.otp.Issue(ctx, emailAddr, ch.Purpose)
	} else if !errors.Is(err, domain.ErrOTPNotFound) {
		return fmt.Errorf("find active challenge: %w", err)
	}

	// The previous challenge may have been purged after expiring; fall
	// back to whichever flow the store says is unfinished.
	if user, err := u.users.FindByEmail(ctx, emailAddr); err == nil && !user.Verified {
		return u.otp.Issue(ctx, emailAddr, domain.PurposeRegistration)
	}
	if _, err := u.users.FindByPendingEmail(ctx, emailAddr); err == nil {
		return u.otp.Issue(ctx, emailAddr, domain.PurposeEmailChange)
	}
	return domain.ErrOTPNotFound
}

// Login verifies credentials for a verified user and mints a session.
// An unverified user gets a fresh registration code instead of a token.
func (u *AuthUsecase) Login(ctx context.Context, emailAddr, password string) (string, *domain.User, error) {
	user, err := u.users.FindByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return "", nil, domain.ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("find user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, domain.ErrInvalidCredentials
	}

	if !user.Verified {
		if err := u.otp.Issue(ctx, user.Email, domain.PurposeRegistration); err != nil {
			u.logger.ErrorContext(ctx, "reissue registration code", "error", err)
		}
		return "", nil, domain.ErrNotVerified
	}

	token, err := u.sessions.Issue(user)
	if err != nil {
		return "", nil, fmt.Errorf("issue session: %w", err)
	}
	metrics.SessionsIssuedTotal.Inc()
	return token, user, nil
}

// UpdateEmail stages an email change for an authenticated user after
// re-confirming their password, and sends the code to the new address.
// The account keeps its current email until the code verifies.
func (u *AuthUsecase) UpdateEmail(ctx context.Context, userID, newEmail, password string) error {
	user, err := u.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return domain.ErrInvalidCredentials
	}

	if err := u.users.SetPendingEmail(ctx, userID, newEmail); err != nil {
		return fmt.Errorf("stage email change: %w", err)
	}

	if err := u.otp.Issue(ctx, newEmail, domain.PurposeEmailChange); err != nil {
		return fmt.Errorf("issue email change code: %w", err)
	}
	return nil
}

// Me returns the stored identity for a session subject.
func (u *AuthUsecase) Me(ctx context.Context, userID string) (*domain.User, error) {
	return u.users.FindByID(ctx, userID)
}
