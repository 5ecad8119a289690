package worker

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// randomToken returns a hex-encoded random token of n random bytes,
// using crypto/rand and hex.EncodeToString.
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// tokensMatch performs a constant-time comparison, avoiding a timing
// side-channel on the completion webhook's token check.
func tokensMatch(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
