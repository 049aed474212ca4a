package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// KeyPrefix marks editor keys issued by this service.
const KeyPrefix = "waka_"

// HashKey hashes the raw editor key using the same strategy as key creation.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ValidFormat accepts "waka_<uuid>" and bare uuids, the two shapes editor plugins send.
func ValidFormat(raw string) bool {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, KeyPrefix)
	if len(raw) != 36 {
		return false
	}
	_, err := uuid.Parse(raw)
	return err == nil
}
