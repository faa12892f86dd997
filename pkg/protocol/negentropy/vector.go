package negentropy

import (
	"sort"

	"relaypool.dev/pkg/interfaces/store"
	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/errorf"
)

// Storage is the sorted (created_at, id) set a reconciliation session
// ranges over. Items must be presented in ascending (timestamp, id) order
// at indexes 0 through Size()-1.
type Storage interface {
	// Size is the number of items.
	Size() int
	// Item returns the item at index i.
	Item(i int) Item
	// Range calls fn for each item in [begin, end) until fn returns false.
	Range(begin, end int, fn func(i int, it Item) bool)
	// Fingerprint digests the items in [begin, end).
	Fingerprint(begin, end int) (fp Fingerprint, err error)
	// FindLowerBound returns the index of the first item in [begin, end)
	// that does not sort below b, or end when there is none.
	FindLowerBound(begin, end int, b Bound) int
}

// Vector is an in-memory Storage: Insert items, Seal once, then query.
type Vector struct {
	items  []Item
	sealed bool
}

var _ Storage = (*Vector)(nil)

// NewVector returns an empty unsealed vector.
func NewVector() *Vector { return &Vector{} }

// NewVectorFromStore builds a sealed vector from store reconciliation
// items.
func NewVectorFromStore(items []store.IdTs) (v *Vector, err error) {
	v = NewVector()
	for _, it := range items {
		if err = v.Insert(it.Ts, it.Id); chk.E(err) {
			return
		}
	}
	if err = v.Seal(); chk.E(err) {
		return
	}
	return
}

// Insert adds one item. Timestamps are nostr created_at values and must
// not be negative.
func (v *Vector) Insert(ts int64, id []byte) (err error) {
	if v.sealed {
		return errorf.E("insert into sealed vector")
	}
	if len(id) != IdSize {
		return errorf.E("item id must be %d bytes, got %d", IdSize, len(id))
	}
	if ts < 0 {
		return errorf.E("item timestamp is negative: %d", ts)
	}
	idc := make([]byte, IdSize)
	copy(idc, id)
	v.items = append(v.items, Item{Timestamp: uint64(ts), ID: idc})
	return
}

// Seal sorts the items and locks the vector against further inserts.
// Duplicate items are an error.
func (v *Vector) Seal() (err error) {
	if v.sealed {
		return errorf.E("vector already sealed")
	}
	v.sealed = true
	sort.Slice(
		v.items, func(i, j int) bool {
			return v.items[i].Cmp(v.items[j]) < 0
		},
	)
	for i := 1; i < len(v.items); i++ {
		if v.items[i-1].Cmp(v.items[i]) == 0 {
			return errorf.E("duplicate item in vector")
		}
	}
	return
}

// Size implements Storage.
func (v *Vector) Size() int { return len(v.items) }

// Item implements Storage.
func (v *Vector) Item(i int) Item { return v.items[i] }

// Range implements Storage.
func (v *Vector) Range(begin, end int, fn func(i int, it Item) bool) {
	for i := begin; i < end; i++ {
		if !fn(i, v.items[i]) {
			return
		}
	}
}

// Fingerprint implements Storage.
func (v *Vector) Fingerprint(begin, end int) (fp Fingerprint, err error) {
	if !v.sealed {
		err = errorf.E("fingerprint of unsealed vector")
		return
	}
	var acc Accumulator
	for i := begin; i < end; i++ {
		acc.Add(v.items[i].ID)
	}
	fp = acc.Fingerprint(end - begin)
	return
}

// FindLowerBound implements Storage.
func (v *Vector) FindLowerBound(begin, end int, b Bound) int {
	return begin + sort.Search(
		end-begin, func(i int) bool {
			return v.items[begin+i].Cmp(b.Item) >= 0
		},
	)
}
