// Package p256k implements signer.I over secp256k1 with BIP-340 schnorr
// signatures.
package p256k

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"relaypool.dev/pkg/interfaces/signer"
	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/errorf"
)

// Signer is a secp256k1 keypair. The zero value is usable with Generate,
// InitSec or InitPub.
type Signer struct {
	sec *btcec.PrivateKey
	pub *btcec.PublicKey
	skb []byte
	pkb []byte
}

var _ signer.I = (*Signer)(nil)

// Generate creates a new random keypair.
func (s *Signer) Generate() (err error) {
	if s.sec, err = btcec.NewPrivateKey(); chk.E(err) {
		return
	}
	s.pub = s.sec.PubKey()
	s.skb = s.sec.Serialize()
	s.pkb = schnorr.SerializePubKey(s.pub)
	return
}

// InitSec loads a 32-byte secret key.
func (s *Signer) InitSec(sec []byte) (err error) {
	if len(sec) != btcec.PrivKeyBytesLen {
		return errorf.E(
			"secret key must be %d bytes, got %d", btcec.PrivKeyBytesLen,
			len(sec),
		)
	}
	s.sec, s.pub = btcec.PrivKeyFromBytes(sec)
	s.skb = s.sec.Serialize()
	s.pkb = schnorr.SerializePubKey(s.pub)
	return
}

// InitPub loads a 32-byte x-only public key for verification only.
func (s *Signer) InitPub(pub []byte) (err error) {
	if s.pub, err = schnorr.ParsePubKey(pub); chk.D(err) {
		return
	}
	s.pkb = schnorr.SerializePubKey(s.pub)
	return
}

// Sec returns the secret key bytes, nil for a verify-only signer.
func (s *Signer) Sec() []byte { return s.skb }

// Pub returns the x-only public key bytes.
func (s *Signer) Pub() []byte { return s.pkb }

// Sign signs a 32-byte digest.
func (s *Signer) Sign(msg []byte) (sig []byte, err error) {
	if s.sec == nil {
		err = errorf.E("signer has no secret key")
		return
	}
	var ss *schnorr.Signature
	if ss, err = schnorr.Sign(s.sec, msg); chk.E(err) {
		return
	}
	sig = ss.Serialize()
	return
}

// Verify checks a 64-byte schnorr signature over a 32-byte digest.
func (s *Signer) Verify(msg, sig []byte) (valid bool, err error) {
	if s.pub == nil {
		err = errorf.E("signer has no public key")
		return
	}
	var ss *schnorr.Signature
	if ss, err = schnorr.ParseSignature(sig); chk.D(err) {
		return
	}
	valid = ss.Verify(msg, s.pub)
	return
}

// Zero wipes the secret key material.
func (s *Signer) Zero() {
	for i := range s.skb {
		s.skb[i] = 0
	}
	if s.sec != nil {
		s.sec.Zero()
		s.sec = nil
	}
}

// ECDH derives the shared secret x-coordinate with an x-only public key.
func (s *Signer) ECDH(pub []byte) (secret []byte, err error) {
	if s.sec == nil {
		err = errorf.E("signer has no secret key")
		return
	}
	var p *btcec.PublicKey
	if p, err = schnorr.ParsePubKey(pub); chk.D(err) {
		return
	}
	secret = btcec.GenerateSharedSecret(s.sec, p)
	return
}
