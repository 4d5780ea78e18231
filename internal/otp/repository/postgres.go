package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"roomchat/backend/internal/db"
	"roomchat/backend/internal/otp/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an OTP challenge repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create serializes issuers for the same contact with a transaction-scoped advisory lock,
// checks the lookback window and inserts.
func (r *PostgresRepository) Create(ctx context.Context, c *domain.Challenge, since time.Time) (int64, error) {
	var id int64
	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, c.Contact); err != nil {
			return err
		}
		var recent bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM otp_challenges WHERE contact = $1 AND voided_at IS NULL AND created_at > $2)`,
			c.Contact, since).Scan(&recent)
		if err != nil {
			return err
		}
		if recent {
			return ErrRecentChallenge
		}
		return tx.QueryRowContext(ctx,
			`INSERT INTO otp_challenges (contact, purpose, code_hash, attempt_count, is_used, decoy, created_at, expires_at)
			 VALUES ($1, $2, $3, 0, false, $4, $5, $6) RETURNING id`,
			c.Contact, string(c.Purpose), c.CodeHash, c.Decoy, c.CreatedAt, c.ExpiresAt).Scan(&id)
	})
	if err != nil {
		return 0, err
	}
	c.ID = id
	return id, nil
}

// GetByID returns the challenge for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*domain.Challenge, error) {
	var (
		c        domain.Challenge
		purpose  string
		usedAt   sql.NullTime
		voidedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, contact, purpose, code_hash, attempt_count, is_used, used_at, voided_at, decoy, created_at, expires_at
		 FROM otp_challenges WHERE id = $1`, id).
		Scan(&c.ID, &c.Contact, &purpose, &c.CodeHash, &c.AttemptCount, &c.IsUsed, &usedAt, &voidedAt, &c.Decoy, &c.CreatedAt, &c.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.Purpose = domain.Purpose(purpose)
	if usedAt.Valid {
		t := usedAt.Time
		c.UsedAt = &t
	}
	if voidedAt.Valid {
		t := voidedAt.Time
		c.VoidedAt = &t
	}
	return &c, nil
}

// IncrementAttempts adds one attempt if the challenge is still open.
func (r *PostgresRepository) IncrementAttempts(ctx context.Context, id int64, max int) (bool, error) {
	return r.conditional(ctx,
		`UPDATE otp_challenges SET attempt_count = attempt_count + 1
		 WHERE id = $1 AND is_used = false AND voided_at IS NULL AND attempt_count < $2`,
		id, max)
}

// MarkUsed consumes the challenge if it is still open.
func (r *PostgresRepository) MarkUsed(ctx context.Context, id int64, at time.Time, max int) (bool, error) {
	return r.conditional(ctx,
		`UPDATE otp_challenges SET is_used = true, used_at = $3
		 WHERE id = $1 AND is_used = false AND voided_at IS NULL AND attempt_count < $2`,
		id, max, at)
}

// Void sets voided_at. Idempotent.
func (r *PostgresRepository) Void(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE otp_challenges SET voided_at = $2 WHERE id = $1 AND voided_at IS NULL`, id, at)
	return err
}

func (r *PostgresRepository) conditional(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
