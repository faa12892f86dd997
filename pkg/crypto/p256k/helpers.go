package p256k

import (
	"relaypool.dev/pkg/encoders/hex"
	"relaypool.dev/pkg/interfaces/signer"
	"relaypool.dev/pkg/utils/chk"
)

// NewSecFromHex returns a signer initialized from a hex encoded secret key.
func NewSecFromHex[V []byte | string](skh V) (sign signer.I, err error) {
	var sk []byte
	if sk, err = hex.Dec(string(skh)); chk.E(err) {
		return
	}
	sign = &Signer{}
	if err = sign.InitSec(sk); chk.E(err) {
		return
	}
	return
}

// NewPubFromHex returns a verify-only signer initialized from a hex encoded
// x-only public key.
func NewPubFromHex[V []byte | string](pkh V) (sign signer.I, err error) {
	var pk []byte
	if pk, err = hex.Dec(string(pkh)); chk.E(err) {
		return
	}
	sign = &Signer{}
	if err = sign.InitPub(pk); chk.E(err) {
		return
	}
	return
}
