// Package identity derives client ids from a transport-supplied remote
// address, the way the connection loop does it before a ClientRecord is
// created.
package identity

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// idLen is the number of hex characters kept from the digest. 32 hex chars
// (128 bits) is far past the point collisions matter for a single process's
// lifetime, while staying short enough to show up in logs.
const idLen = 32

// Derive returns a stable id for addr in production mode (same addr, same
// salts => same id within a process), or a fresh random id otherwise.
func Derive(addr, salt1, salt2 string, production bool) string {
	if !production {
		return uuid.NewString()
	}
	h := sha256.New()
	h.Write([]byte(salt1))
	h.Write([]byte(addr))
	h.Write([]byte(salt2))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:idLen]
}
