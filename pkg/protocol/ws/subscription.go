package ws

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"relaypool.dev/pkg/encoders/bytesbuf"
	"relaypool.dev/pkg/encoders/envelopes/closeenvelope"
	"relaypool.dev/pkg/encoders/envelopes/reqenvelope"
	"relaypool.dev/pkg/encoders/event"
	"relaypool.dev/pkg/encoders/filter"
	"relaypool.dev/pkg/encoders/subscription"
	"relaypool.dev/pkg/utils/context"
)

// ExitRules describes when a subscription closes itself. The zero value
// never closes automatically; any combination of rules may be set, and the
// first one that trips ends the subscription.
type ExitRules struct {
	// OnEOSE closes the subscription when the relay signals the end of
	// stored events.
	OnEOSE bool

	// AfterEvents closes the subscription once this many events have been
	// delivered. Zero means no limit.
	AfterEvents int

	// Idle closes the subscription when no event has arrived for this
	// long. Zero means no idle limit.
	Idle time.Duration

	// Deadline closes the subscription at a fixed time. The zero time
	// means no deadline.
	Deadline time.Time
}

// timed reports whether any clock-driven rule is set.
func (x *ExitRules) timed() bool {
	return x != nil && (x.Idle > 0 || !x.Deadline.IsZero())
}

// SubscribeOptions adjusts how a subscription is opened. The zero value asks
// for a generated id and no automatic close.
type SubscribeOptions struct {
	// ID is the subscription id sent to the relay. When empty an id is
	// generated from a per-relay serial.
	ID string

	// Label is appended to generated ids so log lines can be told apart.
	// It is ignored when ID is set.
	Label string

	// AutoClose ends the subscription when one of its rules trips. Nil
	// falls back to the relay option of the same name.
	AutoClose *ExitRules

	// WakeUp re-arms reconnection when the subscription lands on a relay
	// that was explicitly disconnected. Without it the REQ stays queued
	// until the caller connects the relay again.
	WakeUp bool
}

// Subscription is a single REQ held open against one relay. Events arrive on
// the Events channel in the order the relay sent them; the channel closes
// when the subscription ends for any reason.
type Subscription struct {
	id     string
	relay  *Relay
	Filter *filter.F

	// Events emits every event the relay sends for this subscription. It
	// is closed when the subscription ends.
	Events event.C
	mu     sync.Mutex

	// EndOfStoredEvents receives one signal when the relay sends EOSE.
	EndOfStoredEvents chan struct{}

	// ClosedReason receives the reason when the relay sends CLOSED.
	ClosedReason chan string

	// Context is done when the subscription ends.
	Context context.T
	cancel  context.C

	exit      *ExitRules
	live      atomic.Bool
	eosed     atomic.Bool
	received  atomic.Int64
	lastEvent atomic.Int64
}

// ID returns the subscription id as sent to the relay.
func (sub *Subscription) ID() string { return sub.id }

// Received returns how many events have been delivered so far.
func (sub *Subscription) Received() int64 { return sub.received.Load() }

// start closes the Events channel once the subscription context ends. The
// mutex handoff with dispatchEvent keeps the close from racing a send.
func (sub *Subscription) start() {
	<-sub.Context.Done()
	sub.unsub(errOf(KindShutdown, sub.relay.URL, "subscription context done"))
	sub.mu.Lock()
	close(sub.Events)
	sub.mu.Unlock()
}

// watch enforces the clock-driven exit rules. It runs only when the
// subscription has an idle or deadline rule.
func (sub *Subscription) watch() {
	var deadlineC <-chan time.Time
	if !sub.exit.Deadline.IsZero() {
		t := time.NewTimer(time.Until(sub.exit.Deadline))
		defer t.Stop()
		deadlineC = t.C
	}
	var idle *time.Timer
	var idleC <-chan time.Time
	if sub.exit.Idle > 0 {
		idle = time.NewTimer(sub.exit.Idle)
		defer idle.Stop()
		idleC = idle.C
	}
	for {
		select {
		case <-sub.Context.Done():
			return
		case <-deadlineC:
			sub.unsub(errOf(KindTimeout, sub.relay.URL, "subscription deadline passed"))
			return
		case <-idleC:
			quiet := time.Duration(time.Now().UnixNano() - sub.lastEvent.Load())
			if quiet >= sub.exit.Idle {
				sub.unsub(errOf(KindTimeout, sub.relay.URL, "subscription idle"))
				return
			}
			idle.Reset(sub.exit.Idle - quiet)
		}
	}
}

// dispatchEvent hands an event to the consumer. It is called from the relay
// read loop so delivery keeps the relay's ordering; a consumer that stops
// reading stalls only its own relay connection, and ending the subscription
// releases the stall.
func (sub *Subscription) dispatchEvent(ev *event.E) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.live.Load() {
		return
	}
	sub.lastEvent.Store(time.Now().UnixNano())
	select {
	case sub.Events <- ev:
	case <-sub.Context.Done():
		return
	}
	n := sub.received.Inc()
	if sub.exit != nil && sub.exit.AfterEvents > 0 && n >= int64(sub.exit.AfterEvents) {
		sub.unsub(errOf(KindShutdown, sub.relay.URL, "event budget reached"))
	}
}

// matches applies the subscription filter, strictly before EOSE and ignoring
// timestamp bounds afterwards, since relays keep serving events that have
// aged past a since/until window.
func (sub *Subscription) matches(ev *event.E) bool {
	if sub.eosed.Load() {
		return sub.Filter.MatchesIgnoringTimestamps(ev)
	}
	return sub.Filter.Matches(ev)
}

// dispatchEose signals the end of stored events, once.
func (sub *Subscription) dispatchEose() {
	if !sub.eosed.CompareAndSwap(false, true) {
		return
	}
	select {
	case sub.EndOfStoredEvents <- struct{}{}:
	default:
	}
	if sub.exit != nil && sub.exit.OnEOSE {
		sub.unsub(errOf(KindShutdown, sub.relay.URL, "end of stored events"))
	}
}

// handleClosed records a CLOSED from the relay and ends the subscription
// without sending a CLOSE back.
func (sub *Subscription) handleClosed(reason string) {
	select {
	case sub.ClosedReason <- reason:
	default:
	}
	sub.live.Store(false)
	sub.unsub(errOf(KindRejected, sub.relay.URL, "%s", reason))
}

// Unsub ends the subscription and tells the relay to stop serving it.
func (sub *Subscription) Unsub() {
	sub.unsub(errOf(KindShutdown, sub.relay.URL, "unsubscribed"))
}

// unsub ends the subscription: the table entry goes first so the read loop
// stops routing events, then a CLOSE is queued if the relay still expects
// one.
func (sub *Subscription) unsub(err error) {
	sub.cancel(err)
	sub.relay.subs.Delete(sub.id)
	sub.relay.pendingAuth.Delete(sub.id)
	if sub.live.CompareAndSwap(true, false) {
		sub.close()
	}
}

// close queues a CLOSE frame for this subscription. Close frames ride the
// priority lane so a full queue cannot strand the relay-side subscription.
func (sub *Subscription) close() {
	id, err := subscription.NewId(sub.id)
	if err != nil {
		return
	}
	_ = sub.relay.push(laneClose, closeenvelope.NewFrom(id).Marshal(bytesbuf.Get()), nil)
}

// Fire queues the REQ for this subscription. The frame is written when the
// send loop reaches it; a dead connection holds it until reconnect.
func (sub *Subscription) Fire() (err error) {
	req := reqenvelope.NewWithIdString(sub.id, sub.Filter)
	if req == nil {
		return errOf(KindProtocol, sub.relay.URL, "invalid subscription id %q", sub.id)
	}
	sub.live.Store(true)
	if err = sub.relay.push(laneNormal, req.Marshal(bytesbuf.Get()), nil); err != nil {
		sub.cancel(err)
		return
	}
	return
}
