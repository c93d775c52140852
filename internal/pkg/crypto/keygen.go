// Package crypto provides cryptographic utilities for Vidsnag.
package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

// Sizes of generated secrets.
const (
	// SessionTokenBytes is the entropy of a session token (hex-encoded to twice the length).
	SessionTokenBytes = 32

	// DefaultPasswordLength is the length of generated passwords.
	DefaultPasswordLength = 16
)

// passwordChars contains characters used in generated passwords.
// Look-alike characters (0/O, 1/l/I) are left out.
const passwordChars = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

// GenerateSessionToken generates an opaque, unguessable session token.
// Format: 64 lowercase hex characters.
func GenerateSessionToken() (string, error) {
	b := make([]byte, SessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GeneratePassword generates a random password of the given length.
// A length below 8 falls back to DefaultPasswordLength.
func GeneratePassword(length int) (string, error) {
	if length < 8 {
		length = DefaultPasswordLength
	}
	return generateRandomString(length, passwordChars)
}

// generateRandomString generates a random string of the specified length
// using characters from the provided character set.
func generateRandomString(length int, charset string) (string, error) {
	result := make([]byte, length)
	max := big.NewInt(int64(len(charset)))

	for i := range result {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		result[i] = charset[n.Int64()]
	}

	return string(result), nil
}
