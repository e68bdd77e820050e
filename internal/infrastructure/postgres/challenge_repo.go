package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/topspeed/backend/internal/domain"
)

const challengeColumns = `id, subject_email, code, purpose, issued_at, expires_at, consumed`

type ChallengeRepository struct {
	pool *pgxpool.Pool
}

func NewChallengeRepository(pool *pgxpool.Pool) *ChallengeRepository {
	return &ChallengeRepository{pool: pool}
}

// Replace supersedes the prior unconsumed challenge for the same
// (email, purpose) pair and inserts the new one. The partial unique
// index on (lower(subject_email), purpose) WHERE NOT consumed rejects
// a second active row when two issues race; the loser redoes the
// supersede once.
func (r *ChallengeRepository) Replace(ctx context.Context, ch *domain.OTPChallenge) (*domain.OTPChallenge, error) {
	created, err := r.replace(ctx, ch)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return r.replace(ctx, ch)
		}
		return nil, err
	}
	return created, nil
}

func (r *ChallengeRepository) replace(ctx context.Context, ch *domain.OTPChallenge) (*domain.OTPChallenge, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`DELETE FROM otp_challenges
		 WHERE lower(subject_email) = lower($1) AND purpose = $2 AND NOT consumed`,
		ch.SubjectEmail, ch.Purpose,
	)
	if err != nil {
		return nil, fmt.Errorf("supersede challenge: %w", err)
	}

	query := `
		INSERT INTO otp_challenges (id, subject_email, code, purpose, issued_at, expires_at, consumed)
		VALUES ($1, $2, $3, $4, $5, $6, false)
		RETURNING ` + challengeColumns

	row := tx.QueryRow(ctx, query,
		uuid.NewString(),
		ch.SubjectEmail,
		ch.Code,
		ch.Purpose,
		ch.IssuedAt,
		ch.ExpiresAt,
	)

	created, err := scanChallenge(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return created, nil
}

func (r *ChallengeRepository) FindActive(ctx context.Context, email string, purpose domain.OTPPurpose) (*domain.OTPChallenge, error) {
	query := `
		SELECT ` + challengeColumns + `
		FROM otp_challenges
		WHERE lower(subject_email) = lower($1) AND purpose = $2 AND NOT consumed
		ORDER BY issued_at DESC
		LIMIT 1`

	return scanChallenge(r.pool.QueryRow(ctx, query, email, purpose))
}

func (r *ChallengeRepository) Consume(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE otp_challenges SET consumed = true WHERE id = $1 AND NOT consumed`,
		id,
	)
	if err != nil {
		return fmt.Errorf("consume challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOTPNotFound
	}
	return nil
}

func (r *ChallengeRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM otp_challenges WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete challenge: %w", err)
	}
	return nil
}

func (r *ChallengeRepository) DeleteTerminalBefore(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM otp_challenges WHERE consumed OR expires_at < $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("delete terminal challenges: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanChallenge(row pgx.Row) (*domain.OTPChallenge, error) {
	var ch domain.OTPChallenge
	err := row.Scan(
		&ch.ID, &ch.SubjectEmail, &ch.Code, &ch.Purpose,
		&ch.IssuedAt, &ch.ExpiresAt, &ch.Consumed,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOTPNotFound
		}
		return nil, fmt.Errorf("scan challenge: %w", err)
	}
	return &ch, nil
}
