// Package varint implements the big-endian base-128 varint used by the
// negentropy wire format: seven bits per byte, most significant group first,
// high bit set on every byte except the last. Note the byte order is the
// reverse of encoding/binary's little-endian varints.
package varint

import (
	"io"

	"relaypool.dev/pkg/utils/errorf"
)

// MaxLen is the longest encoding of a uint64.
const MaxLen = 10

// Append appends the encoding of n to dst.
func Append(dst []byte, n uint64) []byte {
	if n == 0 {
		return append(dst, 0)
	}
	var tmp [MaxLen]byte
	i := len(tmp)
	for n != 0 {
		i--
		tmp[i] = byte(n) | 0x80
		n >>= 7
	}
	tmp[len(tmp)-1] &^= 0x80
	return append(dst, tmp[i:]...)
}

// Read decodes a varint from the front of b and returns the remainder
// after it.
func Read(b []byte) (n uint64, rem []byte, err error) {
	for i := 0; i < len(b); i++ {
		if i >= MaxLen {
			err = errorf.E("varint exceeds 64 bits")
			return
		}
		n = n<<7 | uint64(b[i]&0x7f)
		if b[i]&0x80 == 0 {
			rem = b[i+1:]
			return
		}
	}
	err = errorf.E("unterminated varint")
	return
}

// Encode writes the encoding of n to w.
func Encode(w io.Writer, n uint64) (err error) {
	_, err = w.Write(Append(nil, n))
	return
}

// Decode reads one varint from r, consuming exactly the bytes of the
// encoding.
func Decode(r io.Reader) (n uint64, err error) {
	var one [1]byte
	for i := 0; ; i++ {
		if i >= MaxLen {
			return 0, errorf.E("varint exceeds 64 bits")
		}
		if _, err = io.ReadFull(r, one[:]); err != nil {
			return 0, err
		}
		n = n<<7 | uint64(one[0]&0x7f)
		if one[0]&0x80 == 0 {
			return n, nil
		}
	}
}
