// Package internal holds helpers shared by goShield packages that are not
// part of the public API.
package internal

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// CSRFTokenBytes is the entropy of a CSRF token (256 bits).
const CSRFTokenBytes = 32

// RandomToken reads n bytes from src and encodes them base64url without
// padding. src is crypto/rand.Reader in production.
func RandomToken(src io.Reader, n int) (string, error) {
	if src == nil {
		src = rand.Reader
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(src, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewCSRFToken returns a fresh 256-bit token.
func NewCSRFToken() (string, error) {
	return RandomToken(rand.Reader, CSRFTokenBytes)
}
