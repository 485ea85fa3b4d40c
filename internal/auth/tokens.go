package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

const sessionTokenBytes = 32

// newSessionToken returns a 256-bit base64url token and its storage key.
func newSessionToken(r io.Reader) (token, key string, err error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", "", fmt.Errorf("generate session token: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(buf)
	return token, SessionKey(token), nil
}

// SessionKey derives the keyspace key for a plaintext session token.
func SessionKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
