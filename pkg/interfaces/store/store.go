// Package store is the contract between the connection machinery and an
// event store. It is composed of single-concern interfaces so partial
// implementations can be assembled where the full surface is not needed.
//
// The pool uses a store for reconciliation and as the backing of the test
// relay; nothing in the connection core requires persistence across
// restarts.
package store

import (
	"io"

	"relaypool.dev/pkg/encoders/event"
	"relaypool.dev/pkg/encoders/filter"
	"relaypool.dev/pkg/utils/context"
)

// SaveStatus reports what saving an event did to the store.
type SaveStatus int

const (
	// Saved means the event was stored and was not present before.
	Saved SaveStatus = iota
	// Duplicate means the exact event was already stored.
	Duplicate
	// Older means the event is a replaceable event superseded by a newer
	// stored one, so it was not stored.
	Older
	// Rejected means the store refused the event.
	Rejected
)

// String returns the lower-case name of the status.
func (s SaveStatus) String() string {
	switch s {
	case Saved:
		return "saved"
	case Duplicate:
		return "duplicate"
	case Older:
		return "older"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// IdTs is the (id, created_at) pair that set reconciliation ranges over.
type IdTs struct {
	Id []byte
	Ts int64
}

// I is the full store surface.
type I interface {
	Saver
	Haser
	Querent
	Reconciler
	Wiper
	io.Closer
}

// Saver stores events.
type Saver interface {
	// SaveEvent stores an event, applying replaceable and ephemeral
	// semantics by kind. The returned status says whether anything changed.
	SaveEvent(c context.T, ev *event.E) (status SaveStatus, err error)
}

// Haser answers point lookups by id.
type Haser interface {
	HasEvent(c context.T, id []byte) (has bool, err error)
}

// Querent runs filters against the store.
type Querent interface {
	// QueryEvents returns the matching events in reverse chronological
	// order, applying the filter's limit if one is set.
	QueryEvents(c context.T, f *filter.F) (evs event.S, err error)
}

// Reconciler exposes the (id, created_at) pairs a reconciliation session
// ranges over.
type Reconciler interface {
	// NegentropyItems returns the pairs matching the filter in ascending
	// (created_at, id) order, the order reconciliation requires.
	NegentropyItems(c context.T, f *filter.F) (items []IdTs, err error)
}

// Wiper deletes everything in the store.
type Wiper interface {
	Wipe() (err error)
}
