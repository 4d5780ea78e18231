package domain

import "time"

// AuditLog represents an audit event. Details never carry secrets, codes or tokens.
type AuditLog struct {
	ID        string
	Action    string
	UserID    string
	IP        string
	Details   map[string]any
	CreatedAt time.Time
}
