package negentropy

import (
	"bytes"
	"encoding/binary"
	"math/bits"

	"relaypool.dev/pkg/crypto/sha256"
	"relaypool.dev/pkg/encoders/varint"
)

const (
	// IdSize is the byte length of the event ids reconciliation ranges
	// over.
	IdSize = 32
	// FingerprintSize is the byte length of a range fingerprint on the
	// wire.
	FingerprintSize = 16
	// infinity marks the open upper end of the full range. It encodes as
	// varint zero on the wire.
	infinity = ^uint64(0)
)

// Item is one (created_at, id) pair in a sealed storage. Stored items carry
// a full 32 byte id; items inside bounds may carry a shorter prefix.
type Item struct {
	Timestamp uint64
	ID        []byte
}

// Cmp orders items by timestamp, then lexically by id. A short id prefix
// sorts before any id it prefixes.
func (it Item) Cmp(other Item) int {
	if it.Timestamp < other.Timestamp {
		return -1
	}
	if it.Timestamp > other.Timestamp {
		return 1
	}
	return bytes.Compare(it.ID, other.ID)
}

// Bound delimits ranges: a range covers the items from its lower bound
// inclusive to its upper bound exclusive. The zero value bounds everything
// below the first possible item.
type Bound struct{ Item }

// infiniteBound is the upper bound of the full range.
func infiniteBound() Bound { return Bound{Item{Timestamp: infinity}} }

// minimalBound returns the shortest bound that sorts prev strictly below it
// and curr at or above it, used to delimit adjacent buckets.
func minimalBound(prev, curr Item) Bound {
	if curr.Timestamp != prev.Timestamp {
		return Bound{Item{Timestamp: curr.Timestamp}}
	}
	shared := 0
	for shared < IdSize && curr.ID[shared] == prev.ID[shared] {
		shared++
	}
	prefix := make([]byte, shared+1)
	copy(prefix, curr.ID[:shared+1])
	return Bound{Item{Timestamp: curr.Timestamp, ID: prefix}}
}

// Fingerprint digests a range of items for equality comparison: the first
// 16 bytes of the sha256 over the ids summed as little-endian 256 bit
// integers, followed by the varint of the item count.
type Fingerprint [FingerprintSize]byte

// Accumulator sums 32 byte ids as little-endian 256 bit integers with
// wraparound.
type Accumulator struct {
	buf [IdSize]byte
}

// Reset clears the running sum.
func (a *Accumulator) Reset() { a.buf = [IdSize]byte{} }

// Add folds a 32 byte id into the running sum.
func (a *Accumulator) Add(id []byte) {
	var carry uint64
	for i := 0; i < IdSize; i += 8 {
		x := binary.LittleEndian.Uint64(a.buf[i:])
		y := binary.LittleEndian.Uint64(id[i:])
		sum, c := bits.Add64(x, y, carry)
		binary.LittleEndian.PutUint64(a.buf[i:], sum)
		carry = c
	}
}

// Fingerprint finalizes the sum over n items into a wire fingerprint.
func (a *Accumulator) Fingerprint(n int) (fp Fingerprint) {
	input := make([]byte, 0, IdSize+10)
	input = append(input, a.buf[:]...)
	input = varint.Append(input, uint64(n))
	h := sha256.Sum256(input)
	copy(fp[:], h[:FingerprintSize])
	return
}
