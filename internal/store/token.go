// internal/store/token.go
package store

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// newResumeToken mints an opaque URL-safe token with 32 bytes of entropy.
func newResumeToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate resume token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
