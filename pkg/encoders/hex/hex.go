// Package hex implements the hexadecimal codec used for event ids, pubkeys
// and signatures, backed by the vectorized templexxx/xhex codec. All
// functions treat hex as lower-case ASCII bytes.
package hex

import (
	"github.com/templexxx/xhex"

	"relaypool.dev/pkg/utils/errorf"
)

// Enc encodes the bytes as a lower-case hex string.
func Enc(b []byte) (s string) {
	dst := make([]byte, len(b)*2)
	xhex.Encode(dst, b)
	return string(dst)
}

// EncAppend appends the hex encoding of src to dst.
func EncAppend(dst, src []byte) (b []byte) {
	l := len(dst)
	b = append(dst, make([]byte, len(src)*2)...)
	xhex.Encode(b[l:], src)
	return
}

// Dec decodes a hex string.
func Dec(s string) (b []byte, err error) {
	return DecAppend(nil, []byte(s))
}

// DecAppend appends the decoding of the hex ASCII in src to dst.
func DecAppend(dst, src []byte) (b []byte, err error) {
	if len(src)%2 != 0 {
		err = errorf.D("odd length hex '%s'", src)
		return
	}
	l := len(dst)
	b = append(dst, make([]byte, len(src)/2)...)
	if err = xhex.Decode(b[l:], src); err != nil {
		err = errorf.D("invalid hex '%s': %s", src, err.Error())
		b = dst
		return
	}
	return
}

// DecBytes decodes the hex ASCII in src into dst, which is grown as needed,
// and returns the decoded slice.
func DecBytes(dst, src []byte) (b []byte, err error) {
	if len(src)%2 != 0 {
		err = errorf.D("odd length hex '%s'", src)
		return
	}
	n := len(src) / 2
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	b = dst[:n]
	if err = xhex.Decode(b, src); err != nil {
		err = errorf.D("invalid hex '%s': %s", src, err.Error())
		return
	}
	return
}
