package domain

import "time"

// Token is a stored refresh token. Only the bcrypt hash of the secret is kept.
type Token struct {
	ID        string
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether now is past the expiry.
func (t *Token) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
