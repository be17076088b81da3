package util

import (
	"crypto/rand"
	"encoding/base64"
)

// NewToken returns an unguessable URL-safe token carrying n random bytes.
func NewToken(n int) string {
	if n <= 0 {
		n = 32
	}
	bytes := make([]byte, n)
	_, _ = rand.Read(bytes)
	return base64.RawURLEncoding.EncodeToString(bytes)
}
