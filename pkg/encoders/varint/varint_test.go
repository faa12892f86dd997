package varint

import (
	"bytes"
	"math"
	"testing"

	"lukechampine.com/frand"

	"relaypool.dev/pkg/utils/chk"
)

func TestEncode_Decode(t *testing.T) {
	var v uint64
	for range 100000 {
		v = uint64(frand.Intn(math.MaxInt64))
		buf := new(bytes.Buffer)
		if err := Encode(buf, v); chk.E(err) {
			t.Fatal(err)
		}
		u, err := Decode(buf)
		if chk.E(err) {
			t.Fatal(err)
		}
		if u != v {
			t.Fatalf("expected %d got %d", v, u)
		}
	}
}

func TestAppend_Read(t *testing.T) {
	var v uint64
	for range 100000 {
		v = uint64(frand.Intn(math.MaxInt64))
		b := Append(nil, v)
		u, rem, err := Read(b)
		if chk.E(err) {
			t.Fatal(err)
		}
		if u != v {
			t.Fatalf("expected %d got %d", v, u)
		}
		if len(rem) != 0 {
			t.Fatalf("expected no remainder, got %d bytes", len(rem))
		}
	}
}

func TestWireForm(t *testing.T) {
	for _, tc := range []struct {
		n   uint64
		enc []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x81, 0x00}},
		{300, []byte{0x82, 0x2c}},
		{1 << 14, []byte{0x81, 0x80, 0x00}},
		{^uint64(0), []byte{0x81, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f}},
	} {
		enc := Append(nil, tc.n)
		if !bytes.Equal(enc, tc.enc) {
			t.Fatalf("encode %d: got %x want %x", tc.n, enc, tc.enc)
		}
		n, rem, err := Read(append(enc, 0xaa))
		if chk.E(err) {
			t.Fatal(err)
		}
		if n != tc.n {
			t.Fatalf("decode %x: got %d want %d", enc, n, tc.n)
		}
		if len(rem) != 1 || rem[0] != 0xaa {
			t.Fatalf("decode %x: wrong remainder %x", enc, rem)
		}
	}
	if _, _, err := Read([]byte{0x81, 0x80}); err == nil {
		t.Fatal("expected error for unterminated varint")
	}
}

func TestRead_Truncated(t *testing.T) {
	b := Append(nil, math.MaxUint64)
	if _, _, err := Read(b[:len(b)-1]); err == nil {
		t.Fatal("expected error on truncated varint")
	}
}

func TestZero(t *testing.T) {
	b := Append(nil, 0)
	if len(b) != 1 || b[0] != 0 {
		t.Fatalf("expected single zero byte, got %v", b)
	}
	u, rem, err := Read(b)
	if chk.E(err) {
		t.Fatal(err)
	}
	if u != 0 || len(rem) != 0 {
		t.Fatalf("expected 0 with no remainder, got %d/%d", u, len(rem))
	}
}
