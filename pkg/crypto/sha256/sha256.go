// Package sha256 provides the hash used for event ids and reconciliation
// fingerprints, backed by the SIMD implementation.
package sha256

import (
	"hash"

	sha256simd "github.com/minio/sha256-simd"
)

// Size of a sha256 digest in bytes.
const Size = sha256simd.Size

// New returns a new digest computer.
func New() hash.Hash { return sha256simd.New() }

// Sum256 computes the digest of b.
func Sum256(b []byte) [Size]byte { return sha256simd.Sum256(b) }
