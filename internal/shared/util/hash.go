package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// NamespaceKey returns a path-safe identifier for a submission namespace
// such as a startup or batch ID.
func NamespaceKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}
