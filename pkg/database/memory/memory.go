// Package memory is an in-memory event store implementing the store.I
// contract. It applies NIP-01 storage semantics: exact duplicates are
// reported, ephemeral kinds are accepted but never stored, and replaceable
// kinds keep only the newest event per address.
//
// The store backs reconciliation sessions and the in-process test relay. It
// can snapshot itself to a msgpack stream and restore from one.
package memory

import (
	"bytes"
	"io"
	"sort"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"relaypool.dev/pkg/encoders/event"
	"relaypool.dev/pkg/encoders/filter"
	"relaypool.dev/pkg/encoders/hex"
	"relaypool.dev/pkg/interfaces/store"
	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/context"
	"relaypool.dev/pkg/utils/errorf"
)

// D is the in-memory store. The zero value is not usable, call New.
type D struct {
	mx sync.RWMutex
	// ids maps hex event id to the stored event.
	ids map[string]*event.E
	// addrs maps the replaceable address of an event to the hex id of the
	// event currently occupying it.
	addrs map[string]string
}

var _ store.I = (*D)(nil)

// New creates an empty store.
func New() *D {
	return &D{
		ids:   make(map[string]*event.E),
		addrs: make(map[string]string),
	}
}

// addrKey builds the replacement address of an event: pubkey and kind, plus
// the d tag value for parameterized replaceable kinds.
func addrKey(ev *event.E) string {
	k := make([]byte, 0, 64+1+5+1+8)
	k = hex.EncAppend(k, ev.Pubkey)
	k = append(k, ':')
	k = ev.Kind.Marshal(k)
	if ev.Kind.IsParameterizedReplaceable() {
		k = append(k, ':')
		if d := ev.Tags.GetFirst([]byte("d")); d != nil {
			k = append(k, d.Value()...)
		}
	}
	return string(k)
}

// supersedes reports whether the stored event wins against the candidate:
// newer created_at wins, and on a tie the lexically smaller id wins.
func supersedes(stored, candidate *event.E) bool {
	st, ct := stored.CreatedAt.I64(), candidate.CreatedAt.I64()
	if st != ct {
		return st > ct
	}
	return bytes.Compare(stored.ID, candidate.ID) <= 0
}

// SaveEvent stores an event. Ephemeral kinds are accepted without being
// stored. For replaceable kinds the newest event per address is kept and an
// out-of-date candidate is reported as Older.
func (d *D) SaveEvent(c context.T, ev *event.E) (
	status store.SaveStatus, err error,
) {
	if ev == nil || len(ev.ID) == 0 {
		err = errorf.E("save of nil or unidentified event")
		status = store.Rejected
		return
	}
	if ev.Kind.IsEphemeral() {
		status = store.Saved
		return
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	idh := hex.Enc(ev.ID)
	if _, have := d.ids[idh]; have {
		status = store.Duplicate
		return
	}
	if ev.Kind.IsReplaceable() || ev.Kind.IsParameterizedReplaceable() {
		ak := addrKey(ev)
		if curId, have := d.addrs[ak]; have {
			if cur, ok := d.ids[curId]; ok {
				if supersedes(cur, ev) {
					status = store.Older
					return
				}
				delete(d.ids, curId)
			}
		}
		d.addrs[ak] = idh
	}
	d.ids[idh] = ev
	status = store.Saved
	return
}

// HasEvent reports whether the store holds an event with the given id.
func (d *D) HasEvent(c context.T, id []byte) (has bool, err error) {
	d.mx.RLock()
	defer d.mx.RUnlock()
	_, has = d.ids[hex.Enc(id)]
	return
}

// QueryEvents returns the events matching the filter in reverse
// chronological order, honouring the filter's limit.
func (d *D) QueryEvents(c context.T, f *filter.F) (
	evs event.S, err error,
) {
	d.mx.RLock()
	for _, ev := range d.ids {
		if f == nil || f.Matches(ev) {
			evs = append(evs, ev)
		}
	}
	d.mx.RUnlock()
	sort.Sort(evs)
	if f != nil && f.Limit != nil && len(evs) > int(*f.Limit) {
		evs = evs[:*f.Limit]
	}
	return
}

// NegentropyItems returns the (id, created_at) pairs matching the filter in
// ascending (created_at, id) order, the order reconciliation ranges over.
// The filter's limit does not apply.
func (d *D) NegentropyItems(c context.T, f *filter.F) (
	items []store.IdTs, err error,
) {
	d.mx.RLock()
	for _, ev := range d.ids {
		if f == nil || f.Matches(ev) {
			items = append(
				items, store.IdTs{Id: ev.ID, Ts: ev.CreatedAt.I64()},
			)
		}
	}
	d.mx.RUnlock()
	sort.Slice(
		items, func(i, j int) bool {
			if items[i].Ts != items[j].Ts {
				return items[i].Ts < items[j].Ts
			}
			return bytes.Compare(items[i].Id, items[j].Id) < 0
		},
	)
	return
}

// Wipe deletes everything in the store.
func (d *D) Wipe() (err error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.ids = make(map[string]*event.E)
	d.addrs = make(map[string]string)
	return
}

// Close releases the store. The store must not be used afterwards.
func (d *D) Close() (err error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.ids = nil
	d.addrs = nil
	return
}

// Len returns the number of stored events.
func (d *D) Len() (n int) {
	d.mx.RLock()
	defer d.mx.RUnlock()
	return len(d.ids)
}

// Export writes every stored event to w as a msgpack stream of JSON encoded
// events, newest last.
func (d *D) Export(w io.Writer) (err error) {
	var evs event.S
	if evs, err = d.QueryEvents(context.Bg(), nil); chk.E(err) {
		return
	}
	// oldest first so Import replays in arrival order
	for i, j := 0, len(evs)-1; i < j; i, j = i+1, j-1 {
		evs[i], evs[j] = evs[j], evs[i]
	}
	enc := msgpack.NewEncoder(w)
	for _, ev := range evs {
		if err = enc.Encode(ev.Serialize()); chk.E(err) {
			return
		}
	}
	return
}

// Import reads a msgpack stream of JSON encoded events from r and saves each
// one, stopping at the first malformed record.
func (d *D) Import(r io.Reader) (err error) {
	dec := msgpack.NewDecoder(r)
	for {
		var b []byte
		if err = dec.Decode(&b); err != nil {
			if err == io.EOF {
				err = nil
			}
			return
		}
		ev := event.New()
		var rem []byte
		if rem, err = ev.Unmarshal(b); chk.E(err) {
			return
		}
		if len(rem) > 0 {
			err = errorf.E("trailing data in snapshot record: '%s'", rem)
			return
		}
		if _, err = d.SaveEvent(context.Bg(), ev); chk.E(err) {
			return
		}
	}
}
