package security

import (
	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt cost used when none is configured.
const DefaultCost = 12

// Hasher is the one-way secret hasher for passwords, OTP codes, and refresh-token
// secrets. It uses bcrypt, which salts every hash. Callers must not log or persist
// the plaintext they pass in.
type Hasher struct {
	Cost int
}

// NewHasher returns a Hasher with the given bcrypt cost, clamped to 4–31.
// A non-positive cost selects DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

// Hash returns the bcrypt encoding of plaintext, suitable for storage.
// bcrypt rejects input longer than 72 bytes; every secret this service hashes
// is below that bound.
func (h *Hasher) Hash(plaintext string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify reports whether plaintext matches secret. The comparison is constant
// time in the length of the digest. A malformed secret yields false.
func (h *Hasher) Verify(plaintext, secret string) bool {
	if secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(secret), []byte(plaintext)) == nil
}
