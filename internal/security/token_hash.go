package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// opaqueTokenBytes is the entropy of session tokens (256 bits).
const opaqueTokenBytes = 32

// GenerateToken returns a base64url (no padding) opaque token with 256 bits of entropy.
func GenerateToken() (string, error) {
	b := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns the hex-encoded SHA-256 hash of token.
// Only this hash is persisted; the plaintext token is returned to the client once.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// TokenHashEqual performs a constant-time comparison of the provided token's hash
// with storedHash.
func TokenHashEqual(providedToken, storedHash string) bool {
	return ConstantTimeEqual(HashToken(providedToken), storedHash)
}

// ConstantTimeEqual compares a and b in constant time with respect to their contents.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
