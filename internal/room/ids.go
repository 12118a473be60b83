// internal/room/ids.go
package room

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// roomIDAlphabet avoids easily confused characters (0/O, 1/I/L).
const roomIDAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

const roomIDLength = 8

// MakeRoomID returns an 8-character code from the confusable-free alphabet.
// The alphabet has 32 entries, so masking a random byte stays uniform.
func MakeRoomID() (string, error) {
	buf := make([]byte, roomIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate room id: %w", err)
	}
	out := make([]byte, roomIDLength)
	for i, b := range buf {
		out[i] = roomIDAlphabet[b&31]
	}
	return string(out), nil
}

// MakeConnID returns an opaque 16-hex-char connection id.
func MakeConnID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate conn id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
