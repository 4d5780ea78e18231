package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"roomchat/backend/internal/user/domain"
)

var (
	// ErrNotFound is returned by mutations that matched no row.
	ErrNotFound = errors.New("user not found")
	// ErrEmailTaken is returned by Create and UpdateProfile when a non-deleted user already has the email.
	ErrEmailTaken = errors.New("email already registered")
)

const uniqueViolation = "23505"

const userColumns = `id, name, email, password_hash, role, status, login_failures, created_at, updated_at, deleted_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns the live (not deleted) user with the given email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1) AND status <> 'deleted'`, domain.NormalizeEmail(email))
	return scanUser(row)
}

// FindActiveByEmail returns the active user with the given email, or nil.
func (r *PostgresRepository) FindActiveByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1) AND status = 'active'`, domain.NormalizeEmail(email))
	return scanUser(row)
}

// FindActiveByID returns the active user with the given id, or nil.
func (r *PostgresRepository) FindActiveByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 AND status = 'active'`, id)
	return scanUser(row)
}

// List returns all users ordered by creation time.
func (r *PostgresRepository) List(ctx context.Context) ([]*domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Create persists the user to the database. The user must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, role, status, login_failures, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.Name, domain.NormalizeEmail(u.Email), u.PasswordHash, string(u.Role), string(u.Status),
		u.LoginFailures, u.CreatedAt, u.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrEmailTaken
	}
	return err
}

// IncrementFailureCounter adds one to login_failures in a single statement and returns the new value.
func (r *PostgresRepository) IncrementFailureCounter(ctx context.Context, id string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`UPDATE users SET login_failures = login_failures + 1, updated_at = $2 WHERE id = $1 RETURNING login_failures`,
		id, time.Now().UTC()).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return n, err
}

// UpdateFailureCounter sets login_failures to value.
func (r *PostgresRepository) UpdateFailureCounter(ctx context.Context, id string, value int) error {
	return r.execOne(ctx,
		`UPDATE users SET login_failures = $2, updated_at = $3 WHERE id = $1`,
		id, value, time.Now().UTC())
}

// SetStatus sets the user's status.
func (r *PostgresRepository) SetStatus(ctx context.Context, id string, status domain.UserStatus) error {
	return r.execOne(ctx,
		`UPDATE users SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), time.Now().UTC())
}

// BlockActive blocks the user only while still active, so exactly one caller observes the change.
func (r *PostgresRepository) BlockActive(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET status = 'blocked', updated_at = $2 WHERE id = $1 AND status = 'active'`,
		id, time.Now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateProfile sets name and email on a live user. The partial unique index on lower(email)
// rejects an address held by another live account.
func (r *PostgresRepository) UpdateProfile(ctx context.Context, id, name, email string) error {
	err := r.execOne(ctx,
		`UPDATE users SET name = $2, email = $3, updated_at = $4 WHERE id = $1 AND status <> 'deleted'`,
		id, name, domain.NormalizeEmail(email), time.Now().UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrEmailTaken
	}
	return err
}

// SetPasswordHash replaces the stored password hash.
func (r *PostgresRepository) SetPasswordHash(ctx context.Context, id, passwordHash string) error {
	return r.execOne(ctx,
		`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, passwordHash, time.Now().UTC())
}

// SoftDelete marks the user deleted. Already-deleted users are left untouched.
func (r *PostgresRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET status = 'deleted', deleted_at = $2, updated_at = $2 WHERE id = $1 AND status <> 'deleted'`,
		id, at)
	return err
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u         domain.User
		role      string
		status    string
		deletedAt sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &status,
		&u.LoginFailures, &u.CreatedAt, &u.UpdatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Role = domain.Role(role)
	u.Status = domain.UserStatus(status)
	if deletedAt.Valid {
		t := deletedAt.Time
		u.DeletedAt = &t
	}
	return &u, nil
}
