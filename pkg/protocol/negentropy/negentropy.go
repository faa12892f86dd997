// Package negentropy implements the range-based set reconciliation
// protocol carried inside NEG-OPEN/NEG-MSG envelopes.
//
// Both sides hold a Storage of (created_at, id) items sorted ascending. The
// initiator opens with a message covering the full range; each side then
// answers fingerprint mismatches by splitting the range into buckets or,
// for small ranges, by listing ids outright. The session converges when the
// initiator produces an empty reply, at which point it has accumulated the
// ids only it holds and the ids only the other side holds.
//
// Messages are byte strings: a version byte followed by ranges, each an
// upper bound, a mode varint and a mode-dependent payload. Timestamps are
// delta-coded per message and varint zero stands for infinity.
package negentropy

import (
	"relaypool.dev/pkg/encoders/varint"
	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/errorf"
)

const (
	// Version is the protocol version byte of negentropy v1.
	Version byte = 0x61

	// DefaultFrameSizeLimit caps the size of outgoing messages. Relays
	// commonly refuse oversized frames, so sessions split work across
	// messages beyond this.
	DefaultFrameSizeLimit = 60_000

	// minFrameSizeLimit is the smallest workable cap: below this a single
	// split range may not fit in a frame.
	minFrameSizeLimit = 4096

	// buckets is how many fingerprint sub-ranges a mismatched range is
	// split into.
	buckets = 16

	// frameSlack is headroom kept under the frame limit for the trailing
	// catch-all range.
	frameSlack = 200
)

// Range modes.
const (
	modeSkip        = 0
	modeFingerprint = 1
	modeIdList      = 2
)

// N is one side of a reconciliation session. It is stateful across
// messages and not safe for concurrent use; drive it from one goroutine.
type N struct {
	storage          Storage
	frameSizeLimit   int
	isInitiator      bool
	lastTimestampIn  uint64
	lastTimestampOut uint64
}

// New returns a session over storage. A frameSizeLimit of zero or less
// selects DefaultFrameSizeLimit; positive values are floored at 4096.
func New(storage Storage, frameSizeLimit int) *N {
	if frameSizeLimit <= 0 {
		frameSizeLimit = DefaultFrameSizeLimit
	}
	if frameSizeLimit < minFrameSizeLimit {
		frameSizeLimit = minFrameSizeLimit
	}
	return &N{storage: storage, frameSizeLimit: frameSizeLimit}
}

// Initiate marks this side as the initiator and produces the opening
// message covering the full range.
func (n *N) Initiate() (msg []byte, err error) {
	if n.isInitiator {
		err = errorf.E("session already initiated")
		return
	}
	n.isInitiator = true
	msg = append(msg, Version)
	if msg, err = n.splitRange(
		msg, 0, n.storage.Size(), infiniteBound(),
	); chk.E(err) {
		return
	}
	return
}

// Reconcile consumes a message on the non-initiator side and produces the
// reply.
func (n *N) Reconcile(query []byte) (response []byte, err error) {
	if n.isInitiator {
		err = errorf.E("reconcile called on initiator side")
		return
	}
	return n.reconcile(query, nil, nil)
}

// ReconcileWithIDs consumes a message on the initiator side. It returns
// the next message to send, or nil when the session is complete, along
// with the ids found in this round that only we hold (have) and that only
// the other side holds (need).
func (n *N) ReconcileWithIDs(query []byte) (
	response []byte, have, need [][]byte, err error,
) {
	if !n.isInitiator {
		err = errorf.E("reconcile with ids called before initiate")
		return
	}
	if response, err = n.reconcile(query, &have, &need); chk.E(err) {
		return
	}
	if len(response) == 1 {
		// Just the version byte: nothing left to reconcile.
		response = nil
	}
	return
}

func (n *N) reconcile(query []byte, have, need *[][]byte) (
	out []byte, err error,
) {
	// Timestamp deltas reset at each message boundary.
	n.lastTimestampIn, n.lastTimestampOut = 0, 0
	out = append(out, Version)

	if len(query) == 0 {
		err = errorf.E("empty message")
		return
	}
	version := query[0]
	query = query[1:]
	if version < 0x60 || version > 0x6f {
		err = errorf.E("invalid negentropy protocol version byte %x", version)
		return
	}
	if version != Version {
		if n.isInitiator {
			err = errorf.E(
				"unsupported negentropy protocol version %d", version-0x60,
			)
		}
		// A bare version byte tells the initiator we do not speak theirs.
		return
	}

	size := n.storage.Size()
	var prevBound Bound
	prevIndex := 0
	skip := false

	for len(query) > 0 {
		var o []byte

		// Consecutive skips coalesce: emit the pending one only when a
		// substantive range follows it.
		doSkip := func() {
			if skip {
				skip = false
				o = n.appendBound(o, prevBound)
				o = varint.Append(o, modeSkip)
			}
		}

		var currBound Bound
		if currBound, query, err = n.readBound(query); chk.E(err) {
			return
		}
		mode := uint64(modeSkip)
		if len(query) > 0 {
			if mode, query, err = varint.Read(query); chk.E(err) {
				return
			}
		}

		lower := prevIndex
		upper := n.storage.FindLowerBound(prevIndex, size, currBound)

		switch mode {
		case modeSkip:
			skip = true

		case modeFingerprint:
			if len(query) < FingerprintSize {
				err = errorf.E("fingerprint truncated")
				return
			}
			var theirs Fingerprint
			copy(theirs[:], query[:FingerprintSize])
			query = query[FingerprintSize:]
			var ours Fingerprint
			if ours, err = n.storage.Fingerprint(lower, upper); chk.E(err) {
				return
			}
			if ours == theirs {
				skip = true
			} else {
				doSkip()
				if o, err = n.splitRange(o, lower, upper, currBound); chk.E(err) {
					return
				}
			}

		case modeIdList:
			var count uint64
			if count, query, err = varint.Read(query); chk.E(err) {
				return
			}
			if count > uint64(len(query))/IdSize {
				err = errorf.E("id list truncated")
				return
			}
			theirs := make(map[string]struct{}, count)
			for i := uint64(0); i < count; i++ {
				theirs[string(query[:IdSize])] = struct{}{}
				query = query[IdSize:]
			}

			if n.isInitiator {
				skip = true
				n.storage.Range(
					lower, upper, func(_ int, it Item) bool {
						k := string(it.ID)
						if _, both := theirs[k]; !both {
							*have = append(*have, it.ID)
						} else {
							delete(theirs, k)
						}
						return true
					},
				)
				for k := range theirs {
					*need = append(*need, []byte(k))
				}
			} else {
				doSkip()
				var ids []byte
				idCount := 0
				endBound := currBound
				n.storage.Range(
					lower, upper, func(i int, it Item) bool {
						if n.overLimit(len(out) + len(ids)) {
							// Cut the list here; the shrunk upper leaves
							// the tail for the catch-all range below.
							endBound = Bound{it}
							upper = i
							return false
						}
						ids = append(ids, it.ID...)
						idCount++
						return true
					},
				)
				o = n.appendBound(o, endBound)
				o = varint.Append(o, modeIdList)
				o = varint.Append(o, uint64(idCount))
				o = append(o, ids...)
				out = append(out, o...)
				o = nil
			}

		default:
			err = errorf.E("unexpected reconciliation mode %d", mode)
			return
		}

		if n.overLimit(len(out) + len(o)) {
			// Frame full: answer everything past upper with a single
			// fingerprint and let the next round carry on from there.
			var rest Fingerprint
			if rest, err = n.storage.Fingerprint(upper, size); chk.E(err) {
				return
			}
			out = n.appendBound(out, infiniteBound())
			out = varint.Append(out, modeFingerprint)
			out = append(out, rest[:]...)
			return
		}
		out = append(out, o...)
		prevIndex = upper
		prevBound = currBound
	}
	return
}

// splitRange appends ranges covering the items in [lower, upper) with
// upperBound as the final bound: an id list when the range is small, 16
// fingerprint buckets otherwise.
func (n *N) splitRange(
	dst []byte, lower, upper int, upperBound Bound,
) (o []byte, err error) {
	o = dst
	numElems := upper - lower

	if numElems < buckets*2 {
		o = n.appendBound(o, upperBound)
		o = varint.Append(o, modeIdList)
		o = varint.Append(o, uint64(numElems))
		n.storage.Range(
			lower, upper, func(_ int, it Item) bool {
				o = append(o, it.ID...)
				return true
			},
		)
		return
	}

	perBucket := numElems / buckets
	withExtra := numElems % buckets
	curr := lower
	for i := 0; i < buckets; i++ {
		bucketSize := perBucket
		if i < withExtra {
			bucketSize++
		}
		var fp Fingerprint
		if fp, err = n.storage.Fingerprint(curr, curr+bucketSize); chk.E(err) {
			return
		}
		curr += bucketSize

		var nextBound Bound
		if curr == upper {
			nextBound = upperBound
		} else {
			nextBound = minimalBound(
				n.storage.Item(curr-1), n.storage.Item(curr),
			)
		}

		o = n.appendBound(o, nextBound)
		o = varint.Append(o, modeFingerprint)
		o = append(o, fp[:]...)
	}
	return
}

func (n *N) overLimit(size int) bool {
	return size > n.frameSizeLimit-frameSlack
}

// appendBound writes a bound as a delta-coded timestamp, an id prefix
// length varint and the prefix bytes.
func (n *N) appendBound(dst []byte, b Bound) []byte {
	dst = n.appendTimestamp(dst, b.Timestamp)
	dst = varint.Append(dst, uint64(len(b.ID)))
	return append(dst, b.ID...)
}

func (n *N) appendTimestamp(dst []byte, t uint64) []byte {
	if t == infinity {
		n.lastTimestampOut = infinity
		return varint.Append(dst, 0)
	}
	d := t - n.lastTimestampOut
	n.lastTimestampOut = t
	return varint.Append(dst, d+1)
}

func (n *N) readBound(b []byte) (bound Bound, rem []byte, err error) {
	var t uint64
	if t, b, err = n.readTimestamp(b); chk.E(err) {
		return
	}
	var prefixLen uint64
	if prefixLen, b, err = varint.Read(b); chk.E(err) {
		return
	}
	if prefixLen > IdSize {
		err = errorf.E("bound id prefix too long: %d", prefixLen)
		return
	}
	if uint64(len(b)) < prefixLen {
		err = errorf.E("bound id prefix truncated")
		return
	}
	prefix := make([]byte, prefixLen)
	copy(prefix, b[:prefixLen])
	bound = Bound{Item{Timestamp: t, ID: prefix}}
	rem = b[prefixLen:]
	return
}

func (n *N) readTimestamp(b []byte) (t uint64, rem []byte, err error) {
	if t, rem, err = varint.Read(b); chk.E(err) {
		return
	}
	if t == 0 {
		t = infinity
	} else {
		t--
	}
	t += n.lastTimestampIn
	if t < n.lastTimestampIn {
		// Overflow saturates at infinity.
		t = infinity
	}
	n.lastTimestampIn = t
	return
}
