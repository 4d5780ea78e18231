package repository

import (
	"context"

	"roomchat/backend/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	// List returns entries newest first. An empty userID lists every user.
	List(ctx context.Context, userID string, limit, offset int32) ([]*domain.AuditLog, error)
}
