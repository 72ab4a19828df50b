package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
)

const (
	fingerprintMessageCap = 500
	fingerprintStackCap   = 1000

	// fingerprintSeparator keeps (message="ab", stack="c") distinct
	// from (message="a", stack="bc")
	fingerprintSeparator = 0x1e
)

// Fingerprint produces a stable short key from an error's identity.
// Identical (name, message, stack) triples hash to identical keys
// across runs and processes, so equivalent errors share one cache
// entry. The result is the zero-padded 8-character lower-case hex form
// of the unsigned 31-bit FNV-1a hash.
func Fingerprint(name, message, stack string) string {
	h := fnv.New32a()
	h.Write([]byte(name))
	h.Write([]byte(capRunes(message, fingerprintMessageCap)))
	h.Write([]byte{fingerprintSeparator})
	h.Write([]byte(capRunes(stack, fingerprintStackCap)))

	return fmt.Sprintf("%08x", h.Sum32()&0x7fffffff)
}

// SecureFingerprint is the cryptographic variant selected by
// USE_SECURE_CACHE_KEYS, for environments that require stronger
// collision resistance. Same inputs and truncation as Fingerprint;
// the output is the hex encoding of the full SHA-256 digest.
func SecureFingerprint(name, message, stack string) string {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte(capRunes(message, fingerprintMessageCap)))
	h.Write([]byte{fingerprintSeparator})
	h.Write([]byte(capRunes(stack, fingerprintStackCap)))

	return hex.EncodeToString(h.Sum(nil))
}

func capRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max])
	}
	return s
}
