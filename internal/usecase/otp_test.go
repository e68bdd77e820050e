package usecase_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/topspeed/backend/internal/domain"
	"github.com/topspeed/backend/internal/usecase"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func newOTPService(repo *memChallengeRepo, sender *captureSender) *usecase.OTPService {
	return usecase.NewOTPService(repo, sender, testLogger(), 10*time.Minute)
}

// extractCode pulls the 6-digit code out of an email body of the form
// ...<h2>123456</h2>.
func extractCode(t *testing.T, body string) string {
	t.Helper()
	start := strings.Index(body, "<h2>")
	if start == -1 {
		t.Fatalf("email body %q does not contain a code", body)
	}
	code := body[start+len("<h2>"):]
	end := strings.Index(code, "</h2>")
	if end == -1 {
		t.Fatalf("email body %q does not contain a code", body)
	}
	return code[:end]
}

func TestIssue_DispatchesSixDigitCode(t *testing.T) {
	repo := newMemChallengeRepo()
	sender := &captureSender{}
	svc := newOTPService(repo, sender)

	if err := svc.Issue(context.Background(), "alice@example.com", domain.PurposeRegistration); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mail, ok := sender.last()
	if !ok {
		t.Fatal("no email dispatched")
	}
	if mail.to != "alice@example.com" {
		t.Errorf("to = %q, want alice@example.com", mail.to)
	}

	code := extractCode(t, mail.body)
	if len(code) != 6 {
		t.Fatalf("code %q is not 6 digits", code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Fatalf("code %q contains non-digit", code)
		}
	}

	ch, err := repo.FindActive(context.Background(), "alice@example.com", domain.PurposeRegistration)
	if err != nil {
		t.Fatalf("no stored challenge: %v", err)
	}
	if ch.Code != code {
		t.Errorf("stored code %q != emailed code %q", ch.Code, code)
	}
	if !ch.ExpiresAt.After(time.Now().Add(9 * time.Minute)) {
		t.Errorf("expiry %v is not ~10 minutes out", ch.ExpiresAt)
	}
}

func TestIssue_SupersedesPriorChallenge(t *testing.T) {
	repo := newMemChallengeRepo()
	sender := &captureSender{}
	svc := newOTPService(repo, sender)
	ctx := context.Background()

	if err := svc.Issue(ctx, "alice@example.com", domain.PurposeRegistration); err != nil {
		t.Fatalf("first issue: %v", err)
	}
	first, _ := sender.last()

	if err := svc.Issue(ctx, "alice@example.com", domain.PurposeRegistration); err != nil {
		t.Fatalf("second issue: %v", err)
	}
	second, _ := sender.last()

	if repo.count() != 1 {
		t.Fatalf("expected exactly one stored challenge, got %d", repo.count())
	}

	oldCode := extractCode(t, first.body)
	newCode := extractCode(t, second.body)
	if oldCode == newCode {
		t.Skip("codes collided; nothing to assert")
	}

	if _, err := svc.Verify(ctx, "alice@example.com", oldCode); !errors.Is(err, domain.ErrOTPMismatch) {
		t.Errorf("old code after reissue: got %v, want ErrOTPMismatch", err)
	}
	if _, err := svc.Verify(ctx, "alice@example.com", newCode); err != nil {
		t.Errorf("new code: unexpected error %v", err)
	}
}

func TestIssue_DispatchFailureKeepsCodeValid(t *testing.T) {
	repo := newMemChallengeRepo()
	sender := &captureSender{failErr: errors.New("smtp unavailable")}
	svc := newOTPService(repo, sender)
	ctx := context.Background()

	if err := svc.Issue(ctx, "alice@example.com", domain.PurposeRegistration); err != nil {
		t.Fatalf("issue must not fail on dispatch error, got %v", err)
	}

	ch, err := repo.FindActive(ctx, "alice@example.com", domain.PurposeRegistration)
	if err != nil {
		t.Fatalf("challenge was rolled back: %v", err)
	}
	if _, err := svc.Verify(ctx, "alice@example.com", ch.Code); err != nil {
		t.Errorf("code should still verify, got %v", err)
	}
}

func TestVerify_NoChallenge_ReturnsNotFound(t *testing.T) {
	svc := newOTPService(newMemChallengeRepo(), &captureSender{})

	_, err := svc.Verify(context.Background(), "nobody@example.com", "123456")
	if !errors.Is(err, domain.ErrOTPNotFound) {
		t.Errorf("got %v, want ErrOTPNotFound", err)
	}
}

func TestVerify_Expired_PurgesChallenge(t *testing.T) {
	repo := newMemChallengeRepo()
	sender := &captureSender{}
	svc := newOTPService(repo, sender)
	ctx := context.Background()

	if err := svc.Issue(ctx, "alice@example.com", domain.PurposeRegistration); err != nil {
		t.Fatalf("issue: %v", err)
	}
	mail, _ := sender.last()
	code := extractCode(t, mail.body)

	repo.expireActive("alice@example.com", time.Second)

	// Correctness of the code is irrelevant once expired.
	if _, err := svc.Verify(ctx, "alice@example.com", code); !errors.Is(err, domain.ErrOTPExpired) {
		t.Fatalf("got %v, want ErrOTPExpired", err)
	}

	if repo.count() != 0 {
		t.Errorf("expired challenge was not purged")
	}
	if _, err := svc.Verify(ctx, "alice@example.com", code); !errors.Is(err, domain.ErrOTPNotFound) {
		t.Errorf("second attempt: got %v, want ErrOTPNotFound", err)
	}
}

func TestVerify_Mismatch_LeavesChallengeActive(t *testing.T) {
	repo := newMemChallengeRepo()
	sender := &captureSender{}
	svc := newOTPService(repo, sender)
	ctx := context.Background()

	if err := svc.Issue(ctx, "alice@example.com", domain.PurposeRegistration); err != nil {
		t.Fatalf("issue: %v", err)
	}
	mail, _ := sender.last()
	code := extractCode(t, mail.body)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	if _, err := svc.Verify(ctx, "alice@example.com", wrong); !errors.Is(err, domain.ErrOTPMismatch) {
		t.Fatalf("got %v, want ErrOTPMismatch", err)
	}

	// The real code still works after a failed guess.
	ch, err := svc.Verify(ctx, "alice@example.com", code)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ch.Consumed {
		t.Error("challenge not marked consumed")
	}
}

func TestVerify_CoexistingPurposes_VerifyIndependently(t *testing.T) {
	repo := newMemChallengeRepo()
	sender := &captureSender{}
	svc := newOTPService(repo, sender)
	ctx := context.Background()

	// A registration and an email change can both be pending for one
	// address: someone registers it while an existing account stages a
	// change to it.
	if err := svc.Issue(ctx, "carol@example.com", domain.PurposeRegistration); err != nil {
		t.Fatalf("issue registration: %v", err)
	}
	if err := svc.Issue(ctx, "carol@example.com", domain.PurposeEmailChange); err != nil {
		t.Fatalf("issue email change: %v", err)
	}
	if repo.count() != 2 {
		t.Fatalf("expected two stored challenges, got %d", repo.count())
	}

	regCode := extractCode(t, sender.sent[0].body)
	changeCode := extractCode(t, sender.sent[1].body)
	if regCode == changeCode {
		t.Skip("codes collided; nothing to assert")
	}

	// The older registration code must not be shadowed by the newer
	// email-change challenge.
	ch, err := svc.Verify(ctx, "carol@example.com", regCode)
	if err != nil {
		t.Fatalf("registration code: %v", err)
	}
	if ch.Purpose != domain.PurposeRegistration {
		t.Errorf("purpose = %q, want registration", ch.Purpose)
	}

	ch, err = svc.Verify(ctx, "carol@example.com", changeCode)
	if err != nil {
		t.Fatalf("email change code: %v", err)
	}
	if ch.Purpose != domain.PurposeEmailChange {
		t.Errorf("purpose = %q, want email_change", ch.Purpose)
	}
}

func TestVerify_ConsumedCodeCannotBeReplayed(t *testing.T) {
	repo := newMemChallengeRepo()
	sender := &captureSender{}
	svc := newOTPService(repo, sender)
	ctx := context.Background()

	if err := svc.Issue(ctx, "alice@example.com", domain.PurposeRegistration); err != nil {
		t.Fatalf("issue: %v", err)
	}
	mail, _ := sender.last()
	code := extractCode(t, mail.body)

	if _, err := svc.Verify(ctx, "alice@example.com", code); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if _, err := svc.Verify(ctx, "alice@example.com", code); !errors.Is(err, domain.ErrOTPNotFound) {
		t.Errorf("replay: got %v, want ErrOTPNotFound", err)
	}
}
