package repository

import (
	"context"
	"database/sql"

	"roomchat/backend/internal/db"
	"roomchat/backend/internal/refreshtoken/domain"
)

const tokenColumns = `id, token_hash, user_id, expires_at, created_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a refresh token repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertToken(ctx context.Context, ex execer, t *domain.Token) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO refresh_tokens (`+tokenColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.TokenHash, t.UserID, t.ExpiresAt, t.CreatedAt)
	return err
}

// Create persists the token. The token must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, t *domain.Token) error {
	return insertToken(ctx, r.db, t)
}

func (r *PostgresRepository) ListAll(ctx context.Context) ([]*domain.Token, error) {
	return r.list(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens ORDER BY created_at DESC`)
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Token, error) {
	return r.list(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (r *PostgresRepository) DeleteByID(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *PostgresRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Rotate inserts the replacement first, then deletes the old row. A concurrent rotation of the
// same token blocks on the row lock and then sees zero rows, which rolls its insert back.
func (r *PostgresRepository) Rotate(ctx context.Context, oldID string, next *domain.Token) error {
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := insertToken(ctx, tx, next); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE id = $1`, oldID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Token, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Token
	for rows.Next() {
		var t domain.Token
		if err := rows.Scan(&t.ID, &t.TokenHash, &t.UserID, &t.ExpiresAt, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
