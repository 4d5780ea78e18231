package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"roomchat/backend/internal/audit/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the audit log. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	details := []byte("{}")
	if len(a.Details) > 0 {
		b, err := json.Marshal(a.Details)
		if err != nil {
			return err
		}
		details = b
	}
	uid := sql.NullString{String: a.UserID, Valid: a.UserID != ""}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, user_id, ip, details, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.Action, uid, a.IP, details, a.CreatedAt)
	return err
}

// List returns audit logs, optionally for one user, paginated by limit and offset.
func (r *PostgresRepository) List(ctx context.Context, userID string, limit, offset int32) ([]*domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, action, user_id, ip, details, created_at FROM audit_logs
		 WHERE ($1 = '' OR user_id = $1)
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		var (
			a       domain.AuditLog
			uid     sql.NullString
			details []byte
		)
		if err := rows.Scan(&a.ID, &a.Action, &uid, &a.IP, &details, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.UserID = uid.String
		if len(details) > 0 {
			if err := json.Unmarshal(details, &a.Details); err != nil {
				return nil, err
			}
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
