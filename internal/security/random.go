package security

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
)

// opaqueTokenBytes is the entropy of refresh-token secrets (256 bits).
const opaqueTokenBytes = 32

// NewOpaqueToken returns a URL-safe random token carrying 256 bits of entropy.
func NewOpaqueToken() (string, error) {
	b := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
