// Package filter is a codec for nostr filters (queries) and includes tools
// for matching them against events and a canonical form that lets identical
// filters be recognised by a short hash.
package filter

import (
	"bytes"
	"encoding/binary"
	"sort"

	"lukechampine.com/frand"

	"relaypool.dev/pkg/crypto/p256k"
	"relaypool.dev/pkg/crypto/sha256"
	"relaypool.dev/pkg/encoders/event"
	"relaypool.dev/pkg/encoders/hex"
	"relaypool.dev/pkg/encoders/ints"
	"relaypool.dev/pkg/encoders/kind"
	"relaypool.dev/pkg/encoders/kinds"
	"relaypool.dev/pkg/encoders/tag"
	"relaypool.dev/pkg/encoders/tags"
	"relaypool.dev/pkg/encoders/text"
	"relaypool.dev/pkg/encoders/timestamp"
	"relaypool.dev/pkg/utils"
	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/errorf"
)

// F is the query form for requesting events from a nostr relay.
//
// The protocol does not specify an ordering of the fields, but by applying a
// consistent sort this library produces identical JSON from the same *set* of
// fields no matter what order they were provided in. That lets a subscription
// manager deduplicate filters by comparing serial forms or fingerprints.
//
// Ids and Authors values, and the values of e and p tags, are stored in their
// binary form and rendered as hex in the JSON.
type F struct {
	Ids     *tag.T       `json:"ids,omitempty"`
	Kinds   *kinds.T     `json:"kinds,omitempty"`
	Authors *tag.T       `json:"authors,omitempty"`
	Tags    *tags.T      `json:"-,omitempty"`
	Since   *timestamp.T `json:"since,omitempty"`
	Until   *timestamp.T `json:"until,omitempty"`
	Search  []byte       `json:"search,omitempty"`
	Limit   *uint        `json:"limit,omitempty"`
}

// New creates a new, reasonably initialized filter that is ready for most
// uses without further allocations.
func New() (f *F) {
	return &F{
		Ids:     tag.NewWithCap(10),
		Kinds:   kinds.NewWithCap(10),
		Authors: tag.NewWithCap(10),
		Tags:    tags.New(),
	}
}

// Clone creates a deep copy of the filter. Nil fields stay nil.
func (f *F) Clone() (clone *F) {
	if f == nil {
		return
	}
	clone = &F{}
	if f.Ids != nil {
		clone.Ids = f.Ids.Clone()
	}
	if f.Kinds != nil {
		clone.Kinds = f.Kinds.Clone()
	}
	if f.Authors != nil {
		clone.Authors = f.Authors.Clone()
	}
	if f.Tags != nil {
		clone.Tags = f.Tags.Clone()
	}
	if f.Since != nil {
		clone.Since = timestamp.FromUnix(f.Since.V)
	}
	if f.Until != nil {
		clone.Until = timestamp.FromUnix(f.Until.V)
	}
	if len(f.Search) > 0 {
		clone.Search = append([]byte{}, f.Search...)
	}
	if f.Limit != nil {
		lim := *f.Limit
		clone.Limit = &lim
	}
	return
}

var (
	// IDs is the JSON object key for Ids.
	IDs = []byte("ids")
	// Kinds is the JSON object key for Kinds.
	Kinds = []byte("kinds")
	// Authors is the JSON object key for Authors.
	Authors = []byte("authors")
	// Since is the JSON object key for Since.
	Since = []byte("since")
	// Until is the JSON object key for Until.
	Until = []byte("until")
	// Limit is the JSON object key for Limit.
	Limit = []byte("limit")
	// Search is the JSON object key for Search.
	Search = []byte("search")
)

// Marshal a filter into raw JSON bytes, minified. The field ordering and the
// sort of the fields is canonicalized so that a hash can identify the same
// filter.
func (f *F) Marshal(dst []byte) (b []byte) {
	var first bool
	f.Sort()
	dst = append(dst, '{')
	if f.Ids.Len() > 0 {
		first = true
		dst = text.JSONKey(dst, IDs)
		dst = text.MarshalHexArray(dst, f.Ids.ToBytesSlice())
	}
	if f.Kinds.Len() > 0 {
		if first {
			dst = append(dst, ',')
		} else {
			first = true
		}
		dst = text.JSONKey(dst, Kinds)
		dst = f.Kinds.Marshal(dst)
	}
	if f.Authors.Len() > 0 {
		if first {
			dst = append(dst, ',')
		} else {
			first = true
		}
		dst = text.JSONKey(dst, Authors)
		dst = text.MarshalHexArray(dst, f.Authors.ToBytesSlice())
	}
	if f.Tags.Len() > 0 {
		// tags are stored with the "#a" form key in the first element and
		// the match values in the rest, eg:
		//
		//     [["#p","<pubkey1>","<pubkey3>"],["#t","hashtag","stuff"]]
		//
		for _, tg := range f.Tags.T {
			if tg == nil {
				continue
			}
			key := tg.Key()
			if tg.Len() < 2 || len(key) != 2 || key[0] != '#' {
				continue
			}
			if first {
				dst = append(dst, ',')
			} else {
				first = true
			}
			dst = append(dst, '"', key[0], key[1], '"', ':', '[')
			values := tg.ToBytesSlice()[1:]
			for i, value := range values {
				dst = append(dst, '"')
				if key[1] == 'e' || key[1] == 'p' {
					// event and pubkey values are binary 32 bytes
					dst = hex.EncAppend(dst, value)
				} else {
					dst = text.NostrEscape(dst, value)
				}
				dst = append(dst, '"')
				if i < len(values)-1 {
					dst = append(dst, ',')
				}
			}
			dst = append(dst, ']')
		}
	}
	if f.Since.U64() > 0 {
		if first {
			dst = append(dst, ',')
		} else {
			first = true
		}
		dst = text.JSONKey(dst, Since)
		dst = f.Since.Marshal(dst)
	}
	if f.Until.U64() > 0 {
		if first {
			dst = append(dst, ',')
		} else {
			first = true
		}
		dst = text.JSONKey(dst, Until)
		dst = f.Until.Marshal(dst)
	}
	if len(f.Search) > 0 {
		if first {
			dst = append(dst, ',')
		} else {
			first = true
		}
		dst = text.JSONKey(dst, Search)
		dst = text.AppendQuote(dst, f.Search, text.NostrEscape)
	}
	if f.Limit != nil {
		if first {
			dst = append(dst, ',')
		}
		dst = text.JSONKey(dst, Limit)
		dst = ints.New(*f.Limit).Marshal(dst)
	}
	dst = append(dst, '}')
	b = dst
	return
}

// Serialize a filter into raw minified JSON bytes.
func (f *F) Serialize() (b []byte) { return f.Marshal(nil) }

// states of the unmarshaler
const (
	beforeOpen = iota
	openParen
	inKey
	inKV
	inVal
	betweenKV
	afterClose
)

// Unmarshal a filter from raw JSON bytes into the runtime format, leaving
// whatever follows the object in r. Whitespace between tokens is tolerated.
func (f *F) Unmarshal(b []byte) (r []byte, err error) {
	if f.Tags == nil {
		f.Tags = tags.New()
	}
	r = b[:]
	var key []byte
	var state int
	for ; len(r) > 0; r = r[1:] {
		switch state {
		case beforeOpen:
			if r[0] == '{' {
				state = openParen
			}
		case openParen:
			if r[0] == '"' {
				state = inKey
			}
		case inKey:
			if r[0] == '"' {
				state = inKV
			} else {
				key = append(key, r[0])
			}
		case inKV:
			if r[0] == ':' {
				state = inVal
			}
		case inVal:
			if len(key) == 0 {
				goto invalid
			}
			r = text.SkipWS(r)
			if len(r) == 0 {
				goto invalid
			}
			switch key[0] {
			case '#':
				if len(key) != 2 {
					goto invalid
				}
				k := make([]byte, len(key))
				copy(k, key)
				var ff [][]byte
				switch key[1] {
				case 'e', 'p':
					if ff, r, err = text.UnmarshalHexArray(
						r, sha256.Size,
					); chk.E(err) {
						return
					}
				default:
					if ff, r, err = text.UnmarshalStringArray(r); chk.E(err) {
						return
					}
				}
				ff = append([][]byte{k}, ff...)
				f.Tags.Append(tag.FromBytesSlice(ff...))
			case IDs[0]:
				if !bytes.Equal(key, IDs) {
					goto invalid
				}
				var ff [][]byte
				if ff, r, err = text.UnmarshalHexArray(
					r, sha256.Size,
				); chk.E(err) {
					return
				}
				f.Ids = tag.FromBytesSlice(ff...)
			case Kinds[0]:
				if !bytes.Equal(key, Kinds) {
					goto invalid
				}
				f.Kinds = kinds.NewWithCap(0)
				if r, err = f.Kinds.Unmarshal(r); chk.E(err) {
					return
				}
			case Authors[0]:
				if !bytes.Equal(key, Authors) {
					goto invalid
				}
				var ff [][]byte
				if ff, r, err = text.UnmarshalHexArray(
					r, sha256.Size,
				); chk.E(err) {
					return
				}
				f.Authors = tag.FromBytesSlice(ff...)
			case Until[0]:
				if !bytes.Equal(key, Until) {
					goto invalid
				}
				u := ints.New(0)
				if r, err = u.Unmarshal(r); chk.E(err) {
					return
				}
				f.Until = timestamp.FromUnix(u.Int64())
			case Limit[0]:
				if !bytes.Equal(key, Limit) {
					goto invalid
				}
				l := ints.New(0)
				if r, err = l.Unmarshal(r); chk.E(err) {
					return
				}
				u := uint(l.N)
				f.Limit = &u
			case Search[0]:
				switch {
				case bytes.Equal(key, Search):
					var txt []byte
					if txt, r, err = text.UnmarshalQuoted(r); chk.E(err) {
						return
					}
					f.Search = txt
				case bytes.Equal(key, Since):
					s := ints.New(0)
					if r, err = s.Unmarshal(r); chk.E(err) {
						return
					}
					f.Since = timestamp.FromUnix(s.Int64())
				default:
					goto invalid
				}
			default:
				goto invalid
			}
			key = key[:0]
			state = betweenKV
		case betweenKV:
			if r[0] == ',' {
				state = openParen
			} else if r[0] == '"' {
				state = inKey
			}
		}
		if len(r) == 0 {
			return
		}
		if r[0] == '}' && state != inKey && state != inKV {
			r = r[1:]
			return
		}
	}
invalid:
	err = errorf.E(
		"invalid filter key,\n'%s'\n'%s'", string(b), string(r),
	)
	return
}

// Matches checks a filter against an event and reports whether the event
// satisfies every constraint the filter carries. The Limit and Search fields
// play no part in matching.
func (f *F) Matches(ev *event.E) bool {
	return f.matches(ev, true)
}

// MatchesIgnoringTimestamps checks every constraint except Since and Until.
// Relays drift on the time bounds for live events delivered after EOSE, so
// mismatch accounting uses this form.
func (f *F) MatchesIgnoringTimestamps(ev *event.E) bool {
	return f.matches(ev, false)
}

func (f *F) matches(ev *event.E, timeBounds bool) bool {
	if ev == nil {
		return false
	}
	if f.Ids.Len() > 0 && !f.Ids.Contains(ev.ID) {
		return false
	}
	if f.Kinds.Len() > 0 && !f.Kinds.Contains(ev.Kind.Uint16()) {
		return false
	}
	if f.Authors.Len() > 0 && !f.Authors.Contains(ev.Pubkey) {
		return false
	}
	if f.Tags.Len() > 0 {
		for _, tg := range f.Tags.T {
			key := tg.Key()
			if tg.Len() < 2 || len(key) != 2 || key[0] != '#' {
				continue
			}
			if !ev.Tags.ContainsAny(key[1:], matchValues(tg)) {
				return false
			}
		}
	}
	if timeBounds {
		if f.Since.Int() != 0 && ev.CreatedAt.I64() < f.Since.I64() {
			return false
		}
		if f.Until.Int() != 0 && ev.CreatedAt.I64() > f.Until.I64() {
			return false
		}
	}
	return true
}

// matchValues renders the values of a filter tag in the form they appear in
// event tags, which means hex for the binary e and p values.
func matchValues(tg *tag.T) (values [][]byte) {
	key := tg.Key()
	for _, v := range tg.ToBytesSlice()[1:] {
		if (key[1] == 'e' || key[1] == 'p') && len(v) == sha256.Size {
			v = hex.EncAppend(nil, v)
		}
		values = append(values, v)
	}
	return
}

// Fingerprint returns an 8 byte truncated sha256 hash of the filter in the
// canonical form created by Marshal, with the Limit field removed. Two
// filters that request the same set of events fingerprint the same even when
// their limits differ.
func (f *F) Fingerprint() (fp uint64, err error) {
	lim := f.Limit
	f.Limit = nil
	var b []byte
	b = f.Marshal(b)
	h := sha256.Sum256(b)
	fp = binary.LittleEndian.Uint64(h[:])
	f.Limit = lim
	return
}

// Sort the fields of a filter so a fingerprint on a filter that has the same
// set of content produces the same fingerprint. Ids and Authors values sort
// bytewise, kinds numerically and tags by their key.
func (f *F) Sort() {
	if f.Ids != nil {
		sort.Slice(
			f.Ids.Field, func(i, j int) bool {
				return bytes.Compare(f.Ids.Field[i], f.Ids.Field[j]) < 0
			},
		)
	}
	if f.Kinds != nil {
		sort.Slice(
			f.Kinds.K, func(i, j int) bool {
				return f.Kinds.K[i].Uint16() < f.Kinds.K[j].Uint16()
			},
		)
	}
	if f.Authors != nil {
		sort.Slice(
			f.Authors.Field, func(i, j int) bool {
				return bytes.Compare(
					f.Authors.Field[i], f.Authors.Field[j],
				) < 0
			},
		)
	}
	if f.Tags != nil {
		sort.Slice(
			f.Tags.T, func(i, j int) bool {
				return bytes.Compare(f.Tags.T[i].Key(), f.Tags.T[j].Key()) < 0
			},
		)
	}
}

// Equal checks a filter against another filter to see whether they express
// the same query. Both are canonicalized by the comparison, and the Limit
// field plays no part in it.
func (f *F) Equal(other *F) bool {
	if f == nil || other == nil {
		return f == other
	}
	la, lb := f.Limit, other.Limit
	f.Limit, other.Limit = nil, nil
	eq := utils.FastEqual(f.Marshal(nil), other.Marshal(nil))
	f.Limit, other.Limit = la, lb
	return eq
}

// GenFilter is a testing tool to create random arbitrary filters.
func GenFilter() (f *F, err error) {
	f = New()
	n := frand.Intn(16)
	for range n {
		id := make([]byte, sha256.Size)
		frand.Read(id)
		f.Ids.Append(id)
	}
	n = frand.Intn(16)
	for range n {
		f.Kinds.K = append(f.Kinds.K, kind.New(frand.Intn(65535)))
	}
	n = frand.Intn(16)
	for range n {
		s := &p256k.Signer{}
		if err = s.Generate(); chk.E(err) {
			return
		}
		f.Authors.Append(s.Pub())
	}
	for b := 'a'; b <= 'z'; b++ {
		l := frand.Intn(6)
		if l == 0 {
			continue
		}
		var values [][]byte
		if b == 'e' || b == 'p' {
			for range l {
				id := make([]byte, sha256.Size)
				frand.Read(id)
				values = append(values, id)
			}
		} else {
			for range l {
				bb := make([]byte, frand.Intn(31)+1)
				frand.Read(bb)
				values = append(values, hex.EncAppend(nil, bb))
			}
		}
		values = append([][]byte{{'#', byte(b)}}, values...)
		f.Tags.Append(tag.FromBytesSlice(values...))
	}
	tn := timestamp.Now().I64()
	f.Since = timestamp.FromUnix(tn - int64(frand.Intn(10000)))
	f.Until = timestamp.Now()
	f.Search = []byte("token search text")
	return
}
