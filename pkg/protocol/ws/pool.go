package ws

import (
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"relaypool.dev/pkg/encoders/event"
	"relaypool.dev/pkg/encoders/eventid"
	"relaypool.dev/pkg/encoders/filter"
	"relaypool.dev/pkg/encoders/kind"
	"relaypool.dev/pkg/encoders/kinds"
	"relaypool.dev/pkg/encoders/tag"
	"relaypool.dev/pkg/protocol/gossip"
	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/context"
	"relaypool.dev/pkg/utils/errorf"
	"relaypool.dev/pkg/utils/log"
	"relaypool.dev/pkg/utils/normalize"
)

// connectChunk is how many relays Connect dials at once.
const connectChunk = 10

// dedupCacheSize is the window of recent event ids a pool subscription
// remembers for cross-relay deduplication.
const dedupCacheSize = 4096

// refreshAuthorCap bounds how many authors one operation refreshes relay
// lists for.
const refreshAuthorCap = 16

// Pool is a set of relays driven as one: operations fan out to the relays
// whose capabilities admit them and the answers are merged, with per-relay
// outcomes reported in an Output.
type Pool struct {
	opt *PoolOptions
	sh  *shared
	db  SyncStore

	runCtx    context.T
	runCancel context.C

	relays *xsync.MapOf[string, *Relay]
	router *gossip.Router

	subsMx sync.Mutex
	subs   map[string]*PoolSubscription
	serial atomic.Int64

	down atomic.Bool
}

// NewPool creates a pool with no relays. c bounds the lifetime of the pool
// and everything in it.
func NewPool(c context.T, opt *PoolOptions) (p *Pool, err error) {
	if opt == nil {
		opt = &PoolOptions{}
	}
	if opt.Gossip && opt.Database == nil {
		err = errorf.E("gossip routing requires a database")
		return
	}
	buf := opt.NotificationBuffer
	if buf <= 0 {
		buf = DefaultNotificationBuffer
	}
	p = &Pool{
		opt: opt,
		sh: &shared{
			bus:           newBus(buf),
			verify:        newVerifyCache(opt.Verifier, opt.VerifyCacheSize),
			sign:          opt.Signer,
			admit:         opt.Admission,
			noAutoAuth:    opt.NoAutoAuth,
			noVerify:      opt.NoVerify,
			banOnMismatch: opt.BanOnMismatch,
			sleepWhenIdle: opt.SleepWhenIdle,
			idleTimeout:   opt.idleTimeout(),
		},
		relays: xsync.NewMapOf[string, *Relay](),
		subs:   make(map[string]*PoolSubscription),
	}
	p.runCtx, p.runCancel = context.Cause(c)
	if opt.Database != nil {
		p.db = opt.Database
	}
	if opt.Gossip {
		gopt := opt.GossipOptions
		if gopt.Rank == nil {
			gopt.Rank = p.rankBySuccess
		}
		p.router = gossip.New(opt.Database, gopt)
	}
	return
}

// Notifications subscribes to the pool's activity stream. Close the
// receiver when done with it.
func (p *Pool) Notifications() *Receiver { return p.sh.bus.subscribe() }

func (p *Pool) usable() (err error) {
	if p.down.Load() {
		err = errOf(KindShutdown, "", "pool is shut down")
	}
	return
}

// AddRelay registers a relay without dialing it. Adding a url that is
// already present returns the existing handle.
func (p *Pool) AddRelay(c context.T, url string, opt *RelayOptions) (
	r *Relay, err error,
) {
	if err = p.usable(); err != nil {
		return
	}
	var canon string
	if canon, err = normalize.Canonical(url); err != nil {
		err = errWrap(KindInvalidURL, url, err)
		return
	}
	if existing, ok := p.relays.Load(canon); ok {
		return existing, nil
	}
	if p.opt.MaxRelays > 0 && p.relays.Size() >= p.opt.MaxRelays {
		err = errOf(KindBusy, canon, "relay cap %d reached", p.opt.MaxRelays)
		return
	}
	if opt == nil {
		defaults := p.opt.RelayDefaults
		opt = &defaults
	}
	if r, err = newRelay(p.runCtx, canon, opt, p.sh); err != nil {
		return
	}
	if existing, loaded := p.relays.LoadOrStore(canon, r); loaded {
		return existing, nil
	}
	log.T.F("ws: pool added %s", canon)
	return
}

// RemoveRelay unsubscribes, lets queued frames go out, then terminates and
// forgets the relay.
func (p *Pool) RemoveRelay(url string) (err error) {
	return p.removeRelay(url, true)
}

// ForceRemoveRelay terminates and forgets the relay immediately; queued
// frames fail.
func (p *Pool) ForceRemoveRelay(url string) (err error) {
	return p.removeRelay(url, false)
}

func (p *Pool) removeRelay(url string, graceful bool) (err error) {
	var canon string
	if canon, err = normalize.Canonical(url); err != nil {
		return errWrap(KindInvalidURL, url, err)
	}
	r, ok := p.relays.LoadAndDelete(canon)
	if !ok {
		return errOf(KindNotFound, canon, "relay not in pool")
	}
	if graceful {
		r.UnsubscribeAll()
		// give the close frames a moment on the wire
		for wait := 0; wait < 20 && r.queue.length() > 0; wait++ {
			time.Sleep(50 * time.Millisecond)
		}
	}
	r.Terminate()
	log.T.F("ws: pool removed %s", canon)
	return
}

// Relay returns the handle for url if the pool has it.
func (p *Pool) Relay(url string) (r *Relay, ok bool) {
	canon, err := normalize.Canonical(url)
	if err != nil {
		return
	}
	return p.relays.Load(canon)
}

// Relays snapshots the pool's relays.
func (p *Pool) Relays() (relays []*Relay) {
	p.relays.Range(func(url string, r *Relay) bool {
		relays = append(relays, r)
		return true
	})
	return
}

// Connect dials every registered relay, at most connectChunk handshakes in
// flight at once, and reports the partition. A relay refused by admission
// control is recorded as failed and left undialed.
func (p *Pool) Connect(c context.T) (out *Output[int], err error) {
	if err = p.usable(); err != nil {
		return
	}
	cl := newCollector()
	relays := p.Relays()
	sem := semaphore.NewWeighted(connectChunk)
	for i, r := range relays {
		if aerr := sem.Acquire(c, 1); aerr != nil {
			for _, rest := range relays[i:] {
				cl.fail(rest.URL, aerr.Error())
			}
			break
		}
		go func(r *Relay) {
			defer sem.Release(1)
			if p.sh.admit != nil {
				accept, reason := p.sh.admit.AcceptConnection(c, r.URL)
				if !accept {
					cl.fail(r.URL, string(reason))
					return
				}
			}
			if cerr := r.Connect(c); cerr != nil {
				cl.fail(r.URL, reasonOf(cerr))
				return
			}
			cl.ok(r.URL)
		}(r)
	}
	// drain the in-flight handshakes before reporting
	_ = sem.Acquire(context.Bg(), connectChunk)
	out = output(cl, 0)
	out.Val = len(out.Success)
	return
}

// Shutdown permanently stops the pool: every subscription ends, every relay
// terminates and the notification bus closes with a Shutdown note.
func (p *Pool) Shutdown() {
	if !p.down.CompareAndSwap(false, true) {
		return
	}
	log.D.F("ws: pool shutting down")
	p.subsMx.Lock()
	subs := make([]*PoolSubscription, 0, len(p.subs))
	for _, ps := range p.subs {
		subs = append(subs, ps)
	}
	p.subsMx.Unlock()
	for _, ps := range subs {
		ps.Unsub()
	}
	p.relays.Range(func(url string, r *Relay) bool {
		r.Terminate()
		return true
	})
	p.runCancel(errOf(KindShutdown, "", "pool shutdown"))
	p.sh.bus.close()
}

// rankBySuccess orders gossip candidate urls by the success rate of the
// relays the pool already knows; unknown urls rank in the middle.
func (p *Pool) rankBySuccess(urls []string) []string {
	rate := func(u string) float64 {
		if canon, err := normalize.Canonical(u); err == nil {
			if r, ok := p.relays.Load(canon); ok {
				return r.stats.SuccessRate()
			}
		}
		return 0.5
	}
	sort.SliceStable(urls, func(i, j int) bool {
		return rate(urls[i]) > rate(urls[j])
	})
	return urls
}

// ensure returns handles for urls, adding and dialing missing relays with
// the given capabilities. Admission rejections and broken urls are recorded
// on cl and skipped.
func (p *Pool) ensure(
	c context.T, urls []string, caps Capability, cl *collector,
) (relays []*Relay) {
	for _, u := range urls {
		canon, err := normalize.Canonical(u)
		if err != nil {
			continue
		}
		r, ok := p.relays.Load(canon)
		if !ok {
			if p.sh.admit != nil {
				accept, reason := p.sh.admit.AcceptConnection(c, canon)
				if !accept {
					cl.fail(canon, string(reason))
					continue
				}
			}
			ropt := p.opt.RelayDefaults
			ropt.Capabilities = caps
			if r, err = p.AddRelay(c, canon, &ropt); err != nil {
				cl.fail(canon, reasonOf(err))
				continue
			}
		}
		if r.Status() == StatusInitialized {
			go func(r *Relay) {
				cc, cancel := context.Timeout(
					p.runCtx, r.opt.publishTimeout(),
				)
				defer cancel()
				chk.T(r.Connect(cc))
			}(r)
		}
		relays = append(relays, r)
	}
	return
}

// refreshRelayLists tops up the stored relay list events for authors that
// have none or stale ones, fetching from the pool's read relays.
func (p *Pool) refreshRelayLists(c context.T, authors [][]byte) {
	if p.router == nil || p.db == nil {
		return
	}
	if len(authors) > refreshAuthorCap {
		authors = authors[:refreshAuthorCap]
	}
	for _, author := range authors {
		refreshed, err := p.router.RequestRefresh(
			c, author, p.fetchRelayList,
		)
		if chk.T(err) {
			continue
		}
		if refreshed {
			log.T.F("ws: refreshed relay lists for %0x", author)
		}
	}
}

// fetchRelayList pulls an author's relay list events from the read relays
// into the database, where the gossip router finds them.
func (p *Pool) fetchRelayList(c context.T, author []byte) (err error) {
	lim := uint(4)
	f := &filter.F{
		Authors: tag.FromBytesSlice(author),
		Kinds:   kinds.New(kind.RelayListMetadata, kind.DMRelaysList),
		Limit:   &lim,
	}
	targets := p.capable(Read)
	if len(targets) == 0 {
		return errorf.E("no read relay to fetch relay lists from")
	}
	var evs event.S
	for _, r := range targets {
		var got event.S
		if got, err = r.FetchEvents(c, f, nil); err != nil {
			continue
		}
		evs = append(evs, got...)
	}
	err = nil
	for _, ev := range evs {
		if _, serr := p.db.SaveEvent(c, ev); serr != nil {
			err = serr
		}
	}
	return
}

// capable returns the relays whose capabilities include caps.
func (p *Pool) capable(caps Capability) (relays []*Relay) {
	p.relays.Range(func(url string, r *Relay) bool {
		if r.opt.capabilities().Has(caps) {
			relays = append(relays, r)
		}
		return true
	})
	return
}

// writeTargets resolves where an event should go: the authors' declared
// relays under gossip routing, the write-capable relays otherwise.
func (p *Pool) writeTargets(
	c context.T, ev *event.E, cl *collector,
) (targets []*Relay) {
	if p.router != nil {
		p.refreshRelayLists(c, [][]byte{ev.Pubkey})
		urls, err := p.router.PublishRelays(c, ev)
		if !chk.T(err) && len(urls) > 0 {
			return p.ensure(c, urls, Write|Gossip, cl)
		}
	}
	return p.capable(Write)
}

// readTargets resolves where a filter should be asked: the read relays,
// extended under gossip routing with the filter authors' declared relays.
func (p *Pool) readTargets(
	c context.T, f *filter.F, cl *collector,
) (targets []*Relay) {
	targets = p.capable(Read)
	if p.router == nil || f == nil || f.Authors == nil ||
		len(f.Authors.Field) == 0 {
		return
	}
	p.refreshRelayLists(c, f.Authors.Field)
	urls, err := p.router.FetchRelays(c, f.Authors.Field)
	if chk.T(err) || len(urls) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(targets))
	for _, r := range targets {
		seen[r.URL] = struct{}{}
	}
	for _, r := range p.ensure(c, urls, Read|Gossip, cl) {
		if _, dup := seen[r.URL]; dup {
			continue
		}
		seen[r.URL] = struct{}{}
		targets = append(targets, r)
	}
	return
}

// SendEvent publishes ev to the write targets and reports which relays
// accepted it. The output value is the event id.
func (p *Pool) SendEvent(c context.T, ev *event.E) (
	out *Output[*eventid.T], err error,
) {
	if err = p.usable(); err != nil {
		return
	}
	cl := newCollector()
	targets := p.writeTargets(c, ev, cl)
	if len(targets) == 0 {
		err = errOf(KindNotFound, "", "no writable relay")
		return
	}
	var g errgroup.Group
	for _, r := range targets {
		g.Go(func() error {
			if perr := r.Publish(c, ev); perr != nil {
				cl.fail(r.URL, reasonOf(perr))
				return nil
			}
			cl.ok(r.URL)
			return nil
		})
	}
	_ = g.Wait()
	out = output(cl, ev.EventID())
	return
}

// PoolSubscription is one filter held open across many relays, with events
// merged onto a single channel and duplicates dropped.
type PoolSubscription struct {
	// ID is the subscription id shared by every relay leg.
	ID string

	// Events emits the merged, deduplicated stream. It closes when the
	// subscription ends on every relay.
	Events event.C

	// AllEOSE closes once every surviving relay leg has reported the end
	// of its stored events.
	AllEOSE chan struct{}

	// Context is done when the pool subscription ends.
	Context context.T
	cancel  context.C

	pool  *Pool
	legs  []*Subscription
	wg    sync.WaitGroup
	seen  *lru.Cache[string, struct{}]
	eose  atomic.Int64
	total int64
}

// Unsub ends the subscription on every relay.
func (ps *PoolSubscription) Unsub() {
	ps.cancel(errOf(KindShutdown, "", "unsubscribed"))
	ps.pool.dropSub(ps.ID)
}

func (ps *PoolSubscription) dup(ev *event.E) bool {
	key := string(ev.ID)
	if _, ok := ps.seen.Get(key); ok {
		return true
	}
	ps.seen.Add(key, struct{}{})
	return false
}

func (ps *PoolSubscription) noteEose() {
	if ps.eose.Inc() == ps.total {
		close(ps.AllEOSE)
	}
}

// forward moves one relay leg's events onto the merged channel. A leg whose
// Events channel closes before EOSE still counts toward AllEOSE so a dead
// relay cannot hold the gate shut.
func (ps *PoolSubscription) forward(sub *Subscription) {
	defer ps.wg.Done()
	eosed := false
	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				if !eosed {
					ps.noteEose()
				}
				return
			}
			if ps.dup(ev) {
				continue
			}
			select {
			case ps.Events <- ev:
			case <-ps.Context.Done():
				return
			}
		case <-sub.EndOfStoredEvents:
			if !eosed {
				eosed = true
				ps.noteEose()
			}
		case <-ps.Context.Done():
			return
		}
	}
}

func (p *Pool) dropSub(id string) {
	p.subsMx.Lock()
	delete(p.subs, id)
	p.subsMx.Unlock()
}

// Subscribe opens the filter on every read target and merges the streams.
// The output value is the pool subscription; relays that refused the REQ
// are in the failed set, and the subscription lives as long as at least one
// leg does.
func (p *Pool) Subscribe(
	c context.T, f *filter.F, opt *SubscribeOptions,
) (out *Output[*PoolSubscription], err error) {
	if err = p.usable(); err != nil {
		return
	}
	if opt == nil {
		opt = &SubscribeOptions{}
	}
	cl := newCollector()
	targets := p.readTargets(c, f, cl)
	if len(targets) == 0 {
		err = errOf(KindNotFound, "", "no readable relay")
		return
	}
	id := opt.ID
	if id == "" {
		id = fmt.Sprintf("pool:%d", p.serial.Inc())
	}
	ps := &PoolSubscription{
		ID:      id,
		Events:  make(event.C, subscriptionBuffer),
		AllEOSE: make(chan struct{}),
		pool:    p,
	}
	ps.Context, ps.cancel = context.Cause(c)
	if ps.seen, err = lru.New[string, struct{}](dedupCacheSize); chk.E(err) {
		return
	}
	for _, r := range targets {
		sub, serr := r.Subscribe(ps.Context, f, &SubscribeOptions{
			ID:        id,
			AutoClose: opt.AutoClose,
			WakeUp:    opt.WakeUp,
		})
		if serr != nil {
			cl.fail(r.URL, reasonOf(serr))
			continue
		}
		ps.legs = append(ps.legs, sub)
		cl.ok(r.URL)
	}
	if len(ps.legs) == 0 {
		ps.cancel(errOf(KindNotFound, "", "no relay accepted the REQ"))
		err = errOf(KindNotFound, "", "no relay accepted the REQ")
		return
	}
	ps.total = int64(len(ps.legs))
	for _, sub := range ps.legs {
		ps.wg.Add(1)
		go ps.forward(sub)
	}
	go func() {
		ps.wg.Wait()
		ps.pool.dropSub(ps.ID)
		close(ps.Events)
	}()
	p.subsMx.Lock()
	p.subs[id] = ps
	p.subsMx.Unlock()
	out = output(cl, ps)
	return
}

// StreamEvents opens a merged live stream that closes itself under the
// given exit rules.
func (p *Pool) StreamEvents(
	c context.T, f *filter.F, exit *ExitRules,
) (out *Output[*PoolSubscription], err error) {
	return p.Subscribe(c, f, &SubscribeOptions{AutoClose: exit})
}

// Unsubscribe ends the pool subscription with the given id.
func (p *Pool) Unsubscribe(id string) (err error) {
	p.subsMx.Lock()
	ps, ok := p.subs[id]
	p.subsMx.Unlock()
	if !ok {
		return errOf(KindNotFound, "", "no subscription %q", id)
	}
	ps.Unsub()
	return
}

// UnsubscribeAll ends every pool subscription.
func (p *Pool) UnsubscribeAll() {
	p.subsMx.Lock()
	subs := make([]*PoolSubscription, 0, len(p.subs))
	for _, ps := range p.subs {
		subs = append(subs, ps)
	}
	p.subsMx.Unlock()
	for _, ps := range subs {
		ps.Unsub()
	}
}

// FetchEvents collects the events matching f from every read target and
// merges them newest first with duplicates dropped. Relays that failed are
// reported alongside whatever the rest produced.
func (p *Pool) FetchEvents(
	c context.T, f *filter.F, exit *ExitRules,
) (out *Output[event.S], err error) {
	if err = p.usable(); err != nil {
		return
	}
	cl := newCollector()
	targets := p.readTargets(c, f, cl)
	if len(targets) == 0 {
		err = errOf(KindNotFound, "", "no readable relay")
		return
	}
	var mx sync.Mutex
	var merged event.S
	seen := make(map[string]struct{})
	var g errgroup.Group
	for _, r := range targets {
		g.Go(func() error {
			evs, ferr := r.FetchEvents(c, f, exit)
			if ferr != nil {
				cl.fail(r.URL, reasonOf(ferr))
				return nil
			}
			mx.Lock()
			for _, ev := range evs {
				if _, dup := seen[string(ev.ID)]; dup {
					continue
				}
				seen[string(ev.ID)] = struct{}{}
				merged = append(merged, ev)
			}
			mx.Unlock()
			cl.ok(r.URL)
			return nil
		})
	}
	_ = g.Wait()
	SortEvents(merged)
	out = output(cl, merged)
	return
}

// Count asks every read target for its matching event count and returns
// the largest answer, counts being estimates that vary by relay.
func (p *Pool) Count(c context.T, f *filter.F) (
	out *Output[int64], err error,
) {
	if err = p.usable(); err != nil {
		return
	}
	cl := newCollector()
	targets := p.readTargets(c, f, cl)
	if len(targets) == 0 {
		err = errOf(KindNotFound, "", "no readable relay")
		return
	}
	var best atomic.Int64
	var g errgroup.Group
	for _, r := range targets {
		g.Go(func() error {
			n, cerr := r.Count(c, f)
			if cerr != nil {
				cl.fail(r.URL, reasonOf(cerr))
				return nil
			}
			for {
				old := best.Load()
				if n <= old || best.CompareAndSwap(old, n) {
					break
				}
			}
			cl.ok(r.URL)
			return nil
		})
	}
	_ = g.Wait()
	out = output(cl, best.Load())
	return
}

// Sync reconciles the events matching f against the pool database on every
// read target and moves the difference per the options. The output value
// aggregates the per-relay summaries.
func (p *Pool) Sync(c context.T, f *filter.F, opt *SyncOptions) (
	out *Output[*SyncSummary], err error,
) {
	if err = p.usable(); err != nil {
		return
	}
	if p.db == nil {
		err = errorf.E("sync requires a database")
		return
	}
	cl := newCollector()
	targets := p.capable(Read)
	if len(targets) == 0 {
		err = errOf(KindNotFound, "", "no readable relay")
		return
	}
	start := time.Now()
	total := &SyncSummary{ExitReason: "complete"}
	var mx sync.Mutex
	var g errgroup.Group
	for _, r := range targets {
		g.Go(func() error {
			sum, serr := r.Sync(c, f, p.db, opt)
			mx.Lock()
			defer mx.Unlock()
			if sum != nil {
				total.Sent += sum.Sent
				total.Received += sum.Received
				if sum.LocalCount > total.LocalCount {
					total.LocalCount = sum.LocalCount
				}
				if sum.RemoteCount > total.RemoteCount {
					total.RemoteCount = sum.RemoteCount
				}
			}
			if serr != nil {
				cl.fail(r.URL, reasonOf(serr))
				return nil
			}
			cl.ok(r.URL)
			return nil
		})
	}
	_ = g.Wait()
	total.Duration = time.Since(start)
	out = output(cl, total)
	if !out.Ok() {
		total.ExitReason = "failed on every relay"
	}
	return
}
