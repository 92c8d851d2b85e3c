package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// generateResetToken returns a random hex token (32 bytes) and its SHA256 hash as hex
func generateResetToken() (token string, hashHex string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(b)
	return token, hashResetToken(token), nil
}

// hashResetToken returns SHA256 hex of the token; only the hash is stored
func hashResetToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
