// Package identifier implements the 8-bit ring arithmetic shared by every
// other package in this module: the half-open in-range predicate and the
// name/endpoint hashing used to place objects and nodes on the ring.
//
// Grounded on KoordeDHT/internal/domain/identifier.go, whose Space/ID pair
// generalizes identifier-space arithmetic to an arbitrary bit width. This
// ring is fixed at 8 bits (spec.md §3), so ID collapses to a plain uint8
// and the space-configuration ceremony (Space.ByteLen, masking, etc.) is
// dropped — there is only ever one space.
package identifier

import "crypto/sha1"

// ID is a node or object identifier on the 256-point ring [0, 255].
type ID uint8

// DigestLen is the length in bytes of the SHA-1 digest an ID and the three
// Bloom projections are derived from.
const DigestLen = sha1.Size

// Digest returns the SHA-1 digest of data. Object IDs, node IDs (when
// derived from an endpoint) and Bloom projections are all folded from this
// same digest so that a single hash of a name or endpoint drives every
// derived value, per spec.md §4.1.
func Digest(data []byte) [DigestLen]byte {
	return sha1.Sum(data)
}

// FromDigest folds a digest down to a ring ID by taking its leading byte.
// This is the "documented reduction" spec.md §4.1 requires to be applied
// consistently everywhere an ID is derived from a digest.
func FromDigest(md [DigestLen]byte) ID {
	return ID(md[0])
}

// HashName hashes an object name into its owning ID on the ring.
func HashName(name string) ID {
	return FromDigest(Digest([]byte(name)))
}

// HashEndpoint hashes a node's listening endpoint (port, then IPv4 address,
// both as they appear on the wire) into a node ID. This mirrors
// dhtn::setID in the original implementation, which SHA-1s the six raw
// bytes starting at the node descriptor's port field: two bytes of port in
// network byte order immediately followed by the four IPv4 address bytes.
func HashEndpoint(port uint16, ipv4 [4]byte) ID {
	buf := make([]byte, 0, 6)
	buf = append(buf, byte(port>>8), byte(port))
	buf = append(buf, ipv4[:]...)
	return FromDigest(Digest(buf))
}

// InRange reports whether x lies in the half-open, clockwise interval
// (lo, hi] on the ring. When lo == hi the interval is defined to cover the
// whole ring (spec.md §3), which is also the natural single-node steady
// state where pred == self == successor.
func InRange(x, lo, hi ID) bool {
	if lo == hi {
		return true
	}
	if lo < hi {
		return x > lo && x <= hi
	}
	// wraps through 0
	return x > lo || x <= hi
}

// Next returns (base + 2^i) mod 256, the target ID for finger table slot i
// (spec.md §3, fID[i]).
func Next(base ID, i int) ID {
	return base + ID(1<<uint(i))
}
