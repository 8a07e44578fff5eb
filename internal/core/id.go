package core

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewRunID returns a random 128-bit identifier for a bootstrap run, encoded as lowercase hex.
// Falls back to a timestamp string if the random source fails.
func NewRunID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}
	return fmt.Sprintf("run-%d", time.Now().UTC().UnixNano())
}
