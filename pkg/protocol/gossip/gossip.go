// Package gossip routes operations to the relays an author actually uses,
// derived from their published relay list events.
//
// The router only reads: it consults a store of previously observed kind
// 10002 (relay list metadata) and kind 10050 (DM relay list) events and
// never fetches on its own. When a list is missing or stale the owner of
// the router asks for a refresh, which the router rate-limits per author
// and coalesces across concurrent callers.
package gossip

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/singleflight"

	"relaypool.dev/pkg/encoders/event"
	"relaypool.dev/pkg/encoders/filter"
	"relaypool.dev/pkg/encoders/hex"
	"relaypool.dev/pkg/encoders/kind"
	"relaypool.dev/pkg/encoders/kinds"
	"relaypool.dev/pkg/encoders/tag"
	"relaypool.dev/pkg/interfaces/store"
	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/context"
	"relaypool.dev/pkg/utils/errorf"
	"relaypool.dev/pkg/utils/normalize"
	"relaypool.dev/pkg/utils/values"
)

const (
	// DefaultMaxRelaysPerMarker caps how many relays one marker of one
	// author's list contributes to a publish target set.
	DefaultMaxRelaysPerMarker = 3

	// DefaultMaxFetchRelays caps the ranked union of read relays a fetch
	// across authors targets.
	DefaultMaxFetchRelays = 10

	// DefaultRefreshInterval rate-limits per-author relay list refreshes.
	DefaultRefreshInterval = time.Hour
)

// RankFunc orders candidate relay urls best first. The pool injects one
// backed by its per-relay success rates.
type RankFunc func(urls []string) []string

// RefreshFunc fetches fresh relay list events for an author and stores
// them; the router calls it through RequestRefresh.
type RefreshFunc func(c context.T, author []byte) error

// Options configures a Router. Zero values select the defaults above.
type Options struct {
	MaxRelaysPerMarker int
	MaxFetchRelays     int
	RefreshInterval    time.Duration
	Rank               RankFunc
}

func (o Options) maxPerMarker() int {
	if o.MaxRelaysPerMarker > 0 {
		return o.MaxRelaysPerMarker
	}
	return DefaultMaxRelaysPerMarker
}

func (o Options) maxFetch() int {
	if o.MaxFetchRelays > 0 {
		return o.MaxFetchRelays
	}
	return DefaultMaxFetchRelays
}

func (o Options) refreshInterval() time.Duration {
	if o.RefreshInterval > 0 {
		return o.RefreshInterval
	}
	return DefaultRefreshInterval
}

// Router chooses target relays per author. Safe for concurrent use.
type Router struct {
	store       store.Querent
	opt         Options
	group       singleflight.Group
	lastRefresh *xsync.MapOf[string, time.Time]
}

// New returns a router reading relay lists from st.
func New(st store.Querent, opt Options) *Router {
	return &Router{
		store:       st,
		opt:         opt,
		lastRefresh: xsync.NewMapOf[string, time.Time](),
	}
}

// List is the parsed NIP-65 relay list of one author. A relay may appear
// in both halves when its entry carries no marker.
type List struct {
	Read  []string
	Write []string
}

// ParseRelayList extracts the read and write relays from a kind 10002
// event. Entries that do not normalize to a relay url are dropped.
func ParseRelayList(ev *event.E) (l List) {
	if ev == nil || ev.Kind == nil ||
		ev.Kind.K != kind.RelayListMetadata.K {
		return
	}
	seenRead := map[string]bool{}
	seenWrite := map[string]bool{}
	for _, t := range ev.Tags.GetAll([]byte("r")) {
		url, err := normalize.Canonical(string(t.Value()))
		if err != nil {
			continue
		}
		marker := ""
		if t.Len() > 2 {
			marker = t.S(2)
		}
		if (marker == "" || marker == "read") && !seenRead[url] {
			seenRead[url] = true
			l.Read = append(l.Read, url)
		}
		if (marker == "" || marker == "write") && !seenWrite[url] {
			seenWrite[url] = true
			l.Write = append(l.Write, url)
		}
	}
	return
}

// ParseDMRelayList extracts the relays from a kind 10050 event.
func ParseDMRelayList(ev *event.E) (urls []string) {
	if ev == nil || ev.Kind == nil || ev.Kind.K != kind.DMRelaysList.K {
		return
	}
	seen := map[string]bool{}
	for _, t := range ev.Tags.GetAll([]byte("relay")) {
		url, err := normalize.Canonical(string(t.Value()))
		if err != nil || seen[url] {
			continue
		}
		seen[url] = true
		urls = append(urls, url)
	}
	return
}

// relayListEvent returns the newest stored event of the given kind for the
// author, nil when none is stored.
func (r *Router) relayListEvent(
	c context.T, author []byte, k *kind.T,
) (ev *event.E, err error) {
	var evs event.S
	if evs, err = r.store.QueryEvents(
		c, &filter.F{
			Authors: tag.FromBytesSlice(author),
			Kinds:   kinds.New(k),
			Limit:   values.ToUintPointer(1),
		},
	); chk.E(err) {
		return
	}
	if len(evs) == 0 {
		return
	}
	ev = evs[0]
	return
}

// RelayList returns the author's parsed NIP-65 list, empty when none is
// known.
func (r *Router) RelayList(c context.T, author []byte) (l List, err error) {
	var ev *event.E
	if ev, err = r.relayListEvent(
		c, author, kind.RelayListMetadata,
	); chk.E(err) {
		return
	}
	l = ParseRelayList(ev)
	return
}

// DMRelays returns the author's NIP-17 DM relays, empty when none are
// known.
func (r *Router) DMRelays(c context.T, author []byte) (
	urls []string, err error,
) {
	var ev *event.E
	if ev, err = r.relayListEvent(c, author, kind.DMRelaysList); chk.E(err) {
		return
	}
	urls = ParseDMRelayList(ev)
	return
}

// PublishRelays selects the relays an outbound event should go to:
//
//   - direct message kinds consult the DM relay lists of the author and
//     every p-tagged participant
//   - everything else takes up to MaxRelaysPerMarker from each half of the
//     author's relay list, except contact lists, which skip the read half
//
// An event whose author has no stored list yields no relays; the caller
// falls back to its own write-capable relays.
func (r *Router) PublishRelays(c context.T, ev *event.E) (
	urls []string, err error,
) {
	if ev == nil {
		err = errorf.E("nil event")
		return
	}
	if ev.Kind.IsDirectMessage() {
		return r.dmPublishRelays(c, ev)
	}
	var l List
	if l, err = r.RelayList(c, ev.Pubkey); chk.E(err) {
		return
	}
	perMarker := r.opt.maxPerMarker()
	seen := map[string]bool{}
	add := func(candidates []string) {
		for i, url := range candidates {
			if i >= perMarker {
				return
			}
			if !seen[url] {
				seen[url] = true
				urls = append(urls, url)
			}
		}
	}
	add(l.Write)
	if ev.Kind.K != kind.FollowList.K {
		add(l.Read)
	}
	return
}

// dmPublishRelays unions the DM relay lists of the author and the p-tagged
// recipients.
func (r *Router) dmPublishRelays(c context.T, ev *event.E) (
	urls []string, err error,
) {
	seen := map[string]bool{}
	participants := [][]byte{ev.Pubkey}
	for _, t := range ev.Tags.GetAll([]byte("p")) {
		var pk []byte
		if pk, err = hex.Dec(string(t.Value())); err != nil {
			err = nil
			continue
		}
		participants = append(participants, pk)
	}
	for _, pk := range participants {
		var dm []string
		if dm, err = r.DMRelays(c, pk); chk.E(err) {
			return
		}
		for _, url := range dm {
			if !seen[url] {
				seen[url] = true
				urls = append(urls, url)
			}
		}
	}
	return
}

// FetchRelays unions the read relays of the given authors, ranks them and
// caps the result at MaxFetchRelays.
func (r *Router) FetchRelays(c context.T, authors [][]byte) (
	urls []string, err error,
) {
	seen := map[string]bool{}
	for _, author := range authors {
		var l List
		if l, err = r.RelayList(c, author); chk.E(err) {
			return
		}
		for _, url := range l.Read {
			if !seen[url] {
				seen[url] = true
				urls = append(urls, url)
			}
		}
	}
	if r.opt.Rank != nil {
		urls = r.opt.Rank(urls)
	}
	if most := r.opt.maxFetch(); len(urls) > most {
		urls = urls[:most]
	}
	return
}

// RequestRefresh asks for the author's relay lists to be fetched again.
// Calls inside the refresh interval return immediately with refreshed
// false; concurrent calls for the same author share one fetch.
func (r *Router) RequestRefresh(
	c context.T, author []byte, fetch RefreshFunc,
) (refreshed bool, err error) {
	if fetch == nil {
		err = errorf.E("nil refresh fetch function")
		return
	}
	key := hex.Enc(author)
	if at, ok := r.lastRefresh.Load(key); ok &&
		time.Since(at) < r.opt.refreshInterval() {
		return
	}
	var ran any
	ran, err, _ = r.group.Do(
		key, func() (any, error) {
			// Recheck under the flight: a caller that lost the race arrives
			// here after the winner already refreshed.
			if at, ok := r.lastRefresh.Load(key); ok &&
				time.Since(at) < r.opt.refreshInterval() {
				return false, nil
			}
			if ferr := fetch(c, author); ferr != nil {
				return false, ferr
			}
			r.lastRefresh.Store(key, time.Now())
			return true, nil
		},
	)
	if b, ok := ran.(bool); ok {
		refreshed = b
	}
	return
}
