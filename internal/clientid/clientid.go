// Package clientid derives the per-user client identifier used as a version
// vector key (data-model.md §3). The identifier is a deterministic function
// of the lowercased username, reshaped into a 36-character UUID-form string.
// The same user on any device yields the same identifier — a design choice
// documented in spec.md §3 and §9 that trades multi-device vector
// granularity for simpler conflict detection. The derivation below is fixed
// for wire compatibility; do not change it without a migration plan.
package clientid

import (
	"crypto/sha256"
	"strings"

	"github.com/google/uuid"
)

// namespace is an arbitrary fixed UUID used as the basis for the
// version-5 (SHA-1-based, per RFC 4122) derivation below would vary the
// hash family; we instead hash with SHA-256 directly and reshape the first
// 16 bytes into UUID form, giving a fixed, inspectable derivation that does
// not depend on uuid.NewSHA1's namespace+name concatenation rules.
var namespace = [16]byte{
	0x6b, 0xa7, 0xb8, 0x14, 0x9d, 0xad, 0x11, 0xd1,
	0x80, 0xb4, 0x00, 0xc0, 0x4f, 0xd4, 0x30, 0xc8,
}

// Derive returns the deterministic client identifier for username. The
// username is lowercased before hashing so that "Alice" and "alice" derive
// the same identifier. The result is a canonical 36-character UUID-form
// string (8-4-4-4-12 hex groups with dashes), tagged as version 5 (SHA-1
// namespace derivation) and RFC 4122 variant bits so it is a valid UUID,
// even though the underlying hash is SHA-256 rather than SHA-1.
func Derive(username string) string {
	lowered := []byte(strings.ToLower(username))

	h := sha256.New()
	h.Write(namespace[:])
	h.Write(lowered)
	sum := h.Sum(nil)

	var id [16]byte
	copy(id[:], sum[:16])

	// Set version (5) and variant (RFC 4122) bits, matching uuid.NewSHA1's
	// bit layout so downstream UUID parsers treat the result as a normal
	// version-5 UUID.
	id[6] = (id[6] & 0x0f) | 0x50
	id[8] = (id[8] & 0x3f) | 0x80

	u, err := uuid.FromBytes(id[:])
	if err != nil {
		// uuid.FromBytes only fails on wrong-length input; id is always 16
		// bytes, so this is unreachable and indicates a programmer error.
		panic("clientid: unreachable: " + err.Error())
	}

	return u.String()
}
