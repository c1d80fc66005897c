package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// opaqueTokenBytes is the entropy of a generated token value (256 bits).
const opaqueTokenBytes = 32

// GenerateTokenValue returns a new opaque token value: 256 bits from
// crypto/rand, base64url-encoded without padding. Used for refresh,
// verification, and reset tokens; the raw value is handed to the client once
// and only its hash is stored.
func GenerateTokenValue() (string, error) {
	b := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashTokenValue returns a SHA-256 hash of the token value, hex-encoded.
// Tokens are stored and looked up by this hash; the raw value never touches
// the database.
func HashTokenValue(value string) string {
	h := sha256.Sum256([]byte(value))
	return hex.EncodeToString(h[:])
}
