// Package fingerprint derives content hashes and entity keys. Both functions
// are pure: the same input always yields the same output, across runs and
// across hosts, so fingerprints can be compared between any two observations.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// EntityKeyLen is the hex length of a derived entity key. 32 hex characters
// carry 128 bits of the SHA-256 digest; by the birthday bound a collision
// among N keys has probability ~N²/2¹²⁹, so even a corpus of 10⁹ entities
// stays below 10⁻²⁰. The truncation buys compact storage and index entries.
const EntityKeyLen = 32

// keySeparator joins identity parts before hashing. Without a separator,
// ("ab","c") and ("a","bc") would collide.
const keySeparator = "|"

// Hash returns the SHA-256 digest of content as lowercase hex. Callers hash
// normalized content only; timestamps and volatile rendering artifacts must
// be stripped before fingerprinting.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// EntityKey derives a stable identity key from ordered identity parts. Empty
// parts are dropped, the rest are joined with "|" and hashed, and the digest
// is truncated to EntityKeyLen hex characters. Part order is significant.
func EntityKey(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return Hash(strings.Join(kept, keySeparator))[:EntityKeyLen]
}
