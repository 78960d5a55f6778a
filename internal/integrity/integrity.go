// Package integrity provides deterministic content hashing for engine inputs
// and outputs, a hash chain for audit records, and Merkle roots for sealing
// batches of audit records. All functions are pure.
package integrity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
)

// Hash version prefix. Input hashes are SHA-256 over the RFC 8785 canonical
// JSON form of the value, so field order and map iteration never matter.
const hashPrefix = "c1:"

// Canonical returns the RFC 8785 canonical JSON encoding of v.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("integrity: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("integrity: canonicalize: %w", err)
	}
	return out, nil
}

// ContentHash returns the versioned SHA-256 digest of v's canonical form.
func ContentHash(v any) (string, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hashPrefix + hex.EncodeToString(sum[:]), nil
}

// MustContentHash is ContentHash for values whose encoding cannot fail
// (plain structs of strings, numbers, times and decimals).
func MustContentHash(v any) string {
	h, err := ContentHash(v)
	if err != nil {
		panic(err)
	}
	return h
}

// IsContentHash reports whether s looks like a value produced by ContentHash.
func IsContentHash(s string) bool {
	return strings.HasPrefix(s, hashPrefix) && len(s) == len(hashPrefix)+sha256.Size*2
}

// ChainHash links an audit record to its predecessor. Each field is encoded
// with a 4-byte big-endian length prefix so free-form fields cannot collide.
func ChainHash(prev, kind, subjectID, inputHash, payloadHash string, recordedAt time.Time) string {
	h := sha256.New()
	writeField := func(s string) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s))) //nolint:gosec // fields are hashes and identifiers
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}
	writeField(prev)
	writeField(kind)
	writeField(subjectID)
	writeField(inputHash)
	writeField(payloadHash)
	writeField(recordedAt.UTC().Format(time.RFC3339Nano))
	return hex.EncodeToString(h.Sum(nil))
}

// hashPair produces SHA-256(0x01 || a || b) as a hex string.
// The 0x01 prefix separates internal Merkle nodes from leaves (RFC 6962).
func hashPair(a, b string) string {
	h := sha256.New()
	h.Write([]byte{0x01})
	h.Write([]byte(a))
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

// BuildMerkleRoot constructs a Merkle tree from leaf hashes and returns the root.
// Leaves are taken in the order given. Empty input yields "", a single leaf is
// its own root, and odd levels hash the last node with itself.
func BuildMerkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return ""
	}
	if len(leaves) == 1 {
		return leaves[0]
	}

	level := make([]string, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		var next []string
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}

	return level[0]
}
