// Package digest provides the two hash primitives shared by every stage of
// the pipeline: producer, cloud service, and verifier. All digests are
// SHA-256 rendered as lowercase hex, and node combination concatenates the
// hex strings themselves, not the raw digest bytes. Both sides of the
// verification boundary must agree on this encoding, so nothing in this
// package is configurable.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
)

// HexLen is the length of an encoded digest in characters.
const HexLen = sha256.Size * 2

// Sum returns the SHA-256 digest of the UTF-8 bytes of s as lowercase hex.
func Sum(s string) string {
	sum := sha256.Sum256([]byte(s))

	return hex.EncodeToString(sum[:])
}

// Concat combines two hex digests into their parent digest by hashing the
// concatenation of the two hex strings.
func Concat(left, right string) string {
	return Sum(left + right)
}
