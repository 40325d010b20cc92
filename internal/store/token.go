// ABOUTME: Random identifier generation for sessions and ceremony ids
// ABOUTME: Uses crypto/rand and URL-safe base64 so ids can travel in cookies and URLs

package store

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// SessionTokenBytes is the entropy of a session id.
const SessionTokenBytes = 32

// NewToken returns n random bytes encoded as unpadded URL-safe base64.
func NewToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
