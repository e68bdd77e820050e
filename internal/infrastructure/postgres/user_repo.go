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

const userColumns = `id, name, email, password_hash, role, verified, pending_email, created_at, updated_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// CreateUnverified replaces any earlier unverified signup for the same
// email, then inserts. The unique index on lower(email) rejects the
// insert when a verified user owns the address.
func (r *UserRepository) CreateUnverified(ctx context.Context, user *domain.User) (*domain.User, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`DELETE FROM users WHERE lower(email) = lower($1) AND NOT verified`,
		user.Email,
	)
	if err != nil {
		return nil, fmt.Errorf("delete stale signup: %w", err)
	}

	query := `
		INSERT INTO users (id, name, email, password_hash, role, verified)
		VALUES ($1, $2, $3, $4, $5, false)
		RETURNING ` + userColumns

	row := tx.QueryRow(ctx, query,
		uuid.NewString(),
		user.Name,
		user.Email,
		user.PasswordHash,
		user.Role,
	)

	created, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrDuplicateEmail
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return created, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

func (r *UserRepository) FindByPendingEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(pending_email) = lower($1)`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

func (r *UserRepository) MarkVerified(ctx context.Context, email string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET verified = true, updated_at = NOW() WHERE lower(email) = lower($1)`,
		email,
	)
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// SetPendingEmail stages the change only when no other verified user
// owns the target address; the uniqueness check and the update are a
// single statement so concurrent requests cannot both succeed.
func (r *UserRepository) SetPendingEmail(ctx context.Context, userID, newEmail string) error {
	query := `
		UPDATE users
		SET    pending_email = $2, updated_at = NOW()
		WHERE  id = $1
		  AND  NOT EXISTS (
			SELECT 1 FROM users owner
			WHERE  lower(owner.email) = lower($2)
			  AND  owner.verified
			  AND  owner.id <> $1
		  )`

	tag, err := r.pool.Exec(ctx, query, userID, newEmail)
	if err != nil {
		return fmt.Errorf("set pending email: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.FindByID(ctx, userID); err != nil {
			return err
		}
		return domain.ErrDuplicateEmail
	}
	return nil
}

func (r *UserRepository) CommitPendingEmail(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		UPDATE users
		SET    email = pending_email, pending_email = NULL, updated_at = NOW()
		WHERE  id = $1 AND pending_email IS NOT NULL
		RETURNING ` + userColumns

	row := r.pool.QueryRow(ctx, query, userID)
	u, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrDuplicateEmail
		}
		if errors.Is(err, domain.ErrUserNotFound) {
			if _, findErr := r.FindByID(ctx, userID); findErr != nil {
				return nil, findErr
			}
			return nil, domain.ErrNoPendingChange
		}
		return nil, err
	}
	return u, nil
}

func (r *UserRepository) DeleteUnverifiedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM users WHERE NOT verified AND created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete unverified users: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role,
		&u.Verified, &u.PendingEmail, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}
