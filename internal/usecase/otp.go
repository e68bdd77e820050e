package usecase

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/topspeed/backend/internal/domain"
	"github.com/topspeed/backend/internal/email"
	"github.com/topspeed/backend/internal/metrics"
	"github.com/topspeed/backend/internal/repository"
)

const defaultOTPTTL = 10 * time.Minute

var codeSpace = big.NewInt(1_000_000)

// OTPService manages single-use, time-bound 6-digit codes per
// (email, purpose) pair. A challenge is Issued, then either Verified,
// Expired, or Superseded by a fresh issue; all three are terminal.
type OTPService struct {
	challenges repository.ChallengeRepository
	email      email.Sender
	logger     *slog.Logger
	ttl        time.Duration
}

func NewOTPService(challenges repository.ChallengeRepository, emailSender email.Sender, logger *slog.Logger, ttl time.Duration) *OTPService {
	if ttl <= 0 {
		ttl = defaultOTPTTL
	}
	return &OTPService{
		challenges: challenges,
		email:      emailSender,
		logger:     logger.With("component", "otp"),
		ttl:        ttl,
	}
}

// Issue generates a fresh code, supersedes any unconsumed challenge for
// the same (email, purpose), and dispatches the code by email. A
// dispatch failure is logged but does not roll back issuance: the code
// stays valid, so a user who does receive a delayed email can still use
// it without a resend.
func (s *OTPService) Issue(ctx context.Context, emailAddr string, purpose domain.OTPPurpose) error {
	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}

	now := time.Now()
	ch := &domain.OTPChallenge{
		SubjectEmail: emailAddr,
		Code:         code,
		Purpose:      purpose,
		IssuedAt:     now,
		ExpiresAt:    now.Add(s.ttl),
	}
	if _, err := s.challenges.Replace(ctx, ch); err != nil {
		return fmt.Errorf("store challenge: %w", err)
	}
	metrics.OTPIssuedTotal.WithLabelValues(string(purpose)).Inc()

	subject, body := s.composeMail(purpose, code)
	if err := s.email.Send(ctx, emailAddr, subject, body); err != nil {
		s.logger.ErrorContext(ctx, "dispatch verification code", "purpose", purpose, "error", err)
		metrics.MailDispatchFailuresTotal.Inc()
	}
	return nil
}

// purposeOrder fixes the order challenges are tried when both flows
// are pending for the same address.
var purposeOrder = []domain.OTPPurpose{domain.PurposeRegistration, domain.PurposeEmailChange}

// Match checks the submitted code against the active challenge of each
// (email, purpose) pair, so a pending registration and a pending email
// change for the same address verify independently. Expiry is evaluated
// here, at verification time; an expired challenge is purged on sight.
// The matched challenge stays active: callers consume it once their own
// state transition succeeds.
func (s *OTPService) Match(ctx context.Context, emailAddr, submitted string) (*domain.OTPChallenge, error) {
	var sawActive, sawExpired bool

	for _, purpose := range purposeOrder {
		ch, err := s.challenges.FindActive(ctx, emailAddr, purpose)
		if errors.Is(err, domain.ErrOTPNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		if ch.ExpiredAt(time.Now()) {
			if err := s.challenges.Delete(ctx, ch.ID); err != nil {
				s.logger.ErrorContext(ctx, "purge expired challenge", "error", err)
			}
			sawExpired = true
			continue
		}

		sawActive = true
		if subtle.ConstantTimeCompare([]byte(ch.Code), []byte(submitted)) == 1 {
			return ch, nil
		}
	}

	switch {
	case sawActive:
		metrics.OTPVerificationsTotal.WithLabelValues("mismatch").Inc()
		return nil, domain.ErrOTPMismatch
	case sawExpired:
		metrics.OTPVerificationsTotal.WithLabelValues("expired").Inc()
		return nil, domain.ErrOTPExpired
	default:
		metrics.OTPVerificationsTotal.WithLabelValues("not_found").Inc()
		return nil, domain.ErrOTPNotFound
	}
}

// Consume marks a matched challenge used so it can never verify again.
func (s *OTPService) Consume(ctx context.Context, ch *domain.OTPChallenge) error {
	if err := s.challenges.Consume(ctx, ch.ID); err != nil {
		return fmt.Errorf("consume challenge: %w", err)
	}
	ch.Consumed = true
	metrics.OTPVerificationsTotal.WithLabelValues("verified").Inc()
	return nil
}

// Verify matches and consumes in one step.
func (s *OTPService) Verify(ctx context.Context, emailAddr, submitted string) (*domain.OTPChallenge, error) {
	ch, err := s.Match(ctx, emailAddr, submitted)
	if err != nil {
		return nil, err
	}
	if err := s.Consume(ctx, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// Active returns the most recently issued unconsumed challenge for the
// email, if any flow is pending.
func (s *OTPService) Active(ctx context.Context, emailAddr string) (*domain.OTPChallenge, error) {
	var newest *domain.OTPChallenge
	for _, purpose := range purposeOrder {
		ch, err := s.challenges.FindActive(ctx, emailAddr, purpose)
		if errors.Is(err, domain.ErrOTPNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if newest == nil || ch.IssuedAt.After(newest.IssuedAt) {
			newest = ch
		}
	}
	if newest == nil {
		return nil, domain.ErrOTPNotFound
	}
	return newest, nil
}

func (s *OTPService) composeMail(purpose domain.OTPPurpose, code string) (subject, body string) {
	minutes := int(s.ttl.Minutes())
	switch purpose {
	case domain.PurposeEmailChange:
		subject = "Confirm your new email address"
		body = fmt.Sprintf(
			`<p>Enter this code to confirm your new TOP SPEED email address (expires in %d minutes):</p><h2>%s</h2>`,
			minutes, code,
		)
	default:
		subject = "Verify your TOP SPEED account"
		body = fmt.Sprintf(
			`<p>Enter this code to verify your email address (expires in %d minutes):</p><h2>%s</h2>`,
			minutes, code,
		)
	}
	return subject, body
}

// generateCode draws a uniformly random value in [0, 1000000) and
// zero-pads it to six digits.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
