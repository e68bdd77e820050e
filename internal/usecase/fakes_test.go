package usecase_test

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/topspeed/backend/internal/domain"
)

// memUserRepo is an in-memory repository.UserRepository.
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User // keyed by ID
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*domain.User)}
}

func (r *memUserRepo) CreateUnverified(_ context.Context, user *domain.User) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, existing := range r.users {
		if strings.EqualFold(existing.Email, user.Email) {
			if existing.Verified {
				return nil, domain.ErrDuplicateEmail
			}
			delete(r.users, id)
		}
	}

	u := *user
	u.ID = uuid.NewString()
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	r.users[u.ID] = &u
	copied := u
	return &copied, nil
}

func (r *memUserRepo) FindByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *memUserRepo) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *memUserRepo) FindByPendingEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.PendingEmail != nil && strings.EqualFold(*u.PendingEmail, email) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *memUserRepo) MarkVerified(_ context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			u.Verified = true
			return nil
		}
	}
	return domain.ErrUserNotFound
}

func (r *memUserRepo) SetPendingEmail(_ context.Context, userID, newEmail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	for _, other := range r.users {
		if other.ID != userID && other.Verified && strings.EqualFold(other.Email, newEmail) {
			return domain.ErrDuplicateEmail
		}
	}
	u.PendingEmail = &newEmail
	return nil
}

func (r *memUserRepo) CommitPendingEmail(_ context.Context, userID string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	if u.PendingEmail == nil {
		return nil, domain.ErrNoPendingChange
	}
	// Mirrors the unique email index: the target may have become
	// verified-owned while the change was pending.
	for _, other := range r.users {
		if other.ID != userID && other.Verified && strings.EqualFold(other.Email, *u.PendingEmail) {
			return nil, domain.ErrDuplicateEmail
		}
	}
	u.Email = *u.PendingEmail
	u.PendingEmail = nil
	copied := *u
	return &copied, nil
}

func (r *memUserRepo) DeleteUnverifiedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, u := range r.users {
		if !u.Verified && u.CreatedAt.Before(cutoff) {
			delete(r.users, id)
			n++
		}
	}
	return n, nil
}

// memChallengeRepo is an in-memory repository.ChallengeRepository.
// Tests reach into challenges directly to simulate time passing.
type memChallengeRepo struct {
	mu         sync.Mutex
	challenges map[string]*domain.OTPChallenge // keyed by ID
}

func newMemChallengeRepo() *memChallengeRepo {
	return &memChallengeRepo{challenges: make(map[string]*domain.OTPChallenge)}
}

func (r *memChallengeRepo) Replace(_ context.Context, ch *domain.OTPChallenge) (*domain.OTPChallenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, existing := range r.challenges {
		if strings.EqualFold(existing.SubjectEmail, ch.SubjectEmail) &&
			existing.Purpose == ch.Purpose && !existing.Consumed {
			delete(r.challenges, id)
		}
	}

	c := *ch
	c.ID = uuid.NewString()
	r.challenges[c.ID] = &c
	copied := c
	return &copied, nil
}

func (r *memChallengeRepo) FindActive(_ context.Context, email string, purpose domain.OTPPurpose) (*domain.OTPChallenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var newest *domain.OTPChallenge
	for _, ch := range r.challenges {
		if strings.EqualFold(ch.SubjectEmail, email) && ch.Purpose == purpose && !ch.Consumed {
			if newest == nil || ch.IssuedAt.After(newest.IssuedAt) {
				newest = ch
			}
		}
	}
	if newest == nil {
		return nil, domain.ErrOTPNotFound
	}
	copied := *newest
	return &copied, nil
}

func (r *memChallengeRepo) Consume(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.challenges[id]
	if !ok || ch.Consumed {
		return domain.ErrOTPNotFound
	}
	ch.Consumed = true
	return nil
}

func (r *memChallengeRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.challenges, id)
	return nil
}

func (r *memChallengeRepo) DeleteTerminalBefore(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, ch := range r.challenges {
		if ch.Consumed || ch.ExpiresAt.Before(now) {
			delete(r.challenges, id)
			n++
		}
	}
	return n, nil
}

// expireActive backdates the active challenge for an email, so a test
// can cross the expiry window without sleeping.
func (r *memChallengeRepo) expireActive(email string, by time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.challenges {
		if strings.EqualFold(ch.SubjectEmail, email) && !ch.Consumed {
			ch.ExpiresAt = time.Now().Add(-by)
		}
	}
}

func (r *memChallengeRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.challenges)
}

// captureSender records every dispatched email and can be told to fail.
type captureSender struct {
	mu      sync.Mutex
	sent    []capturedMail
	failErr error
}

type capturedMail struct {
	to      string
	subject string
	body    string
}

func (s *captureSender) Send(_ context.Context, to, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.sent = append(s.sent, capturedMail{to: to, subject: subject, body: body})
	return nil
}

func (s *captureSender) last() (capturedMail, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return capturedMail{}, false
	}
	return s.sent[len(s.sent)-1], true
}

func (s *captureSender) countTo(email string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.sent {
		if strings.EqualFold(m.to, email) {
			n++
		}
	}
	return n
}
