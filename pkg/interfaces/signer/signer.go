// Package signer defines the key operations the relay client needs for
// authentication and event signing. Implementations hold a secp256k1
// keypair; messages are 32-byte digests.
package signer

// I is a BIP-340 capable signer.
type I interface {
	// Generate creates a fresh keypair.
	Generate() (err error)
	// InitSec initializes from a 32-byte secret key.
	InitSec(sec []byte) (err error)
	// InitPub initializes verify-only from a 32-byte x-only public key.
	InitPub(pub []byte) (err error)
	// Sec returns the secret key bytes.
	Sec() []byte
	// Pub returns the x-only public key bytes.
	Pub() []byte
	// Sign produces a 64-byte schnorr signature over a 32-byte digest.
	Sign(msg []byte) (sig []byte, err error)
	// Verify checks a schnorr signature over a 32-byte digest.
	Verify(msg, sig []byte) (valid bool, err error)
	// Zero wipes the secret key material.
	Zero()
	// ECDH derives a shared secret x-coordinate with the given x-only
	// public key.
	ECDH(pub []byte) (secret []byte, err error)
}
