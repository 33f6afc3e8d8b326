package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// GenerateSecret generates a cryptographically secure random hex secret
func GenerateSecret(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateClientCredentials returns a new client secret and the bcrypt hash
// that goes into SERVICE_CLIENTS on the issuing side
func GenerateClientCredentials() (secret, hash string, err error) {
	secret, err = GenerateSecret(32) // 256-bit
	if err != nil {
		return "", "", fmt.Errorf("failed to generate client secret: %w", err)
	}

	hash, err = HashClientSecret(secret)
	if err != nil {
		return "", "", err
	}
	return secret, hash, nil
}

// HashClientSecret bcrypt-hashes a client secret
func HashClientSecret(secret string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return string(hashed), nil
}

// CheckClientSecret reports whether secret matches a bcrypt hash
func CheckClientSecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
