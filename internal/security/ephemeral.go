package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"time"
)

// GenerateKeyPairPEM returns a fresh P-256 key pair as PKCS#8 private and PKIX public PEM.
func GenerateKeyPairPEM() (privatePEM, publicPEM string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", err
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", "", err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", err
	}
	privatePEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	publicPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
	return privatePEM, publicPEM, nil
}

// NewTestTokenProvider returns an ES256 TokenProvider over a key pair generated per call, so
// tokens from one provider never validate against another. Not for production use.
func NewTestTokenProvider() (*TokenProvider, error) {
	priv, pub, err := GenerateKeyPairPEM()
	if err != nil {
		return nil, err
	}
	signer, publicKey, err := LoadKeyPair(priv, pub)
	if err != nil {
		return nil, err
	}
	return NewTokenProvider(signer, publicKey, "test-issuer", "test-audience", 15*time.Minute), nil
}
