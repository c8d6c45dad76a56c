package ledgerauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	sessionIDPrefix = "sess_"
	sessionIDDigits = 32

	// SessionIDLength is the fixed length of every session id.
	SessionIDLength = len(sessionIDPrefix) + sessionIDDigits
)

// generateSessionID hashes 32 random bytes together with the current
// microsecond timestamp and keeps a fixed-length hex prefix of the digest.
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Join(ErrTokenGeneration, err)
	}
	b = strconv.AppendInt(b, time.Now().UnixMicro(), 10)

	sum := sha256.Sum256(b)
	return sessionIDPrefix + hex.EncodeToString(sum[:])[:sessionIDDigits], nil
}

// wellFormedSessionID rejects cookie values that could never have been issued.
func wellFormedSessionID(id string) bool {
	if len(id) != SessionIDLength || !strings.HasPrefix(id, sessionIDPrefix) {
		return false
	}
	for _, c := range id[len(sessionIDPrefix):] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
