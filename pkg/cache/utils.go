package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// GenerateKey joins parts with ':' the way every store namespaces its keys.
func GenerateKey(prefix string, parts ...string) string {
	if len(parts) == 0 {
		return prefix
	}
	return prefix + ":" + strings.Join(parts, ":")
}

// HashKey returns the hex sha256 of the concatenated parts, separated by NUL.
func HashKey(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
