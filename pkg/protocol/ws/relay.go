// Package ws is a nostr relay client: single connections with automatic
// reconnection, and a pool that fans operations out across many relays.
//
// A Relay owns one websocket at a time. All outgoing frames pass through a
// bounded priority queue drained by a single send loop, a read loop routes
// incoming frames to subscriptions and waiters, and a driver goroutine
// redials with exponential backoff when the connection drops. A Pool shares
// one notification bus, verify cache and signer across its relays and merges
// their answers.
package ws

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"

	"relaypool.dev/pkg/encoders/bytesbuf"
	"relaypool.dev/pkg/encoders/envelopes"
	"relaypool.dev/pkg/encoders/envelopes/authenvelope"
	"relaypool.dev/pkg/encoders/envelopes/closedenvelope"
	"relaypool.dev/pkg/encoders/envelopes/countenvelope"
	"relaypool.dev/pkg/encoders/envelopes/eoseenvelope"
	"relaypool.dev/pkg/encoders/envelopes/eventenvelope"
	"relaypool.dev/pkg/encoders/envelopes/negenvelope"
	"relaypool.dev/pkg/encoders/envelopes/noticeenvelope"
	"relaypool.dev/pkg/encoders/envelopes/okenvelope"
	"relaypool.dev/pkg/encoders/event"
	"relaypool.dev/pkg/encoders/filter"
	"relaypool.dev/pkg/encoders/hex"
	"relaypool.dev/pkg/encoders/subscription"
	"relaypool.dev/pkg/interfaces/admission"
	"relaypool.dev/pkg/interfaces/signer"
	"relaypool.dev/pkg/protocol/auth"
	"relaypool.dev/pkg/protocol/relayinfo"
	"relaypool.dev/pkg/protocol/transport"
	atomicb "relaypool.dev/pkg/utils/atomic"
	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/context"
	"relaypool.dev/pkg/utils/log"
	"relaypool.dev/pkg/utils/normalize"
)

// subscriptionBuffer is the Events channel depth. Delivery happens on the
// read loop, so the buffer absorbs stored-event bursts without stalling the
// connection on a slow consumer.
const subscriptionBuffer = 128

// banMismatchThreshold is how many filter or signature mismatches a relay
// may serve before BanOnMismatch bans it.
const banMismatchThreshold = 3

// shared is the state a pool spreads across its relays. A standalone relay
// owns a private one.
type shared struct {
	bus    *bus
	verify *verifyCache
	sign   signer.I
	admit  admission.I

	noAutoAuth    bool
	noVerify      bool
	banOnMismatch bool
	sleepWhenIdle bool
	idleTimeout   time.Duration

	// owned is set when the relay built this itself and must close the
	// bus on terminate.
	owned bool
}

type okResult struct {
	ok     bool
	reason []byte
}

type countResult struct {
	count  int64
	approx bool
}

type negFrame struct {
	msg []byte
	err string
}

// Relay is a client connection to one relay, holding its subscriptions, its
// outgoing queue and its reconnection state. Operations may be called in any
// state short of Terminated or Banned; frames queue up while the connection
// is down and flow once it is back.
type Relay struct {
	// URL is the canonical form of the relay url.
	URL string

	opt   *RelayOptions
	sh    *shared
	stats *Stats
	queue *queue

	topt   transport.Options
	dialer transport.Dialer

	status atomic.Int32

	runCtx    context.T
	runCancel context.C

	connMx      sync.Mutex
	conn        transport.Conn
	connCtx     context.T
	connCancel  context.C
	connectedCh chan struct{}

	connectReq chan struct{}
	armed      atomic.Bool
	driver     sync.Once

	subs         *xsync.MapOf[string, *Subscription]
	pendingAuth  *xsync.MapOf[string, *Subscription]
	okWaiters    *xsync.MapOf[string, chan okResult]
	countWaiters *xsync.MapOf[string, chan countResult]
	negWaiters   *xsync.MapOf[string, chan negFrame]
	serial       atomic.Int64

	challenge   *atomicb.Bytes
	challengeCh chan struct{}
	authMx      sync.Mutex
	authed      atomic.Bool

	mismatches  atomic.Int64
	lastTraffic atomic.Int64
	pingSent    atomic.Int64

	infoMx sync.Mutex
	info   *relayinfo.T
	infoAt time.Time
}

// NewRelay creates a standalone relay client for url. The relay does not
// dial until Connect; c bounds the relay's whole lifetime.
func NewRelay(c context.T, url string, opt *RelayOptions) (r *Relay, err error) {
	return newRelay(c, url, opt, nil)
}

func newRelay(c context.T, url string, opt *RelayOptions, sh *shared) (
	r *Relay, err error,
) {
	var canon string
	if canon, err = normalize.Canonical(url); err != nil {
		err = errWrap(KindInvalidURL, url, err)
		return
	}
	if opt == nil {
		opt = &RelayOptions{}
	}
	if sh == nil {
		sh = &shared{
			bus:         newBus(DefaultNotificationBuffer),
			verify:      newVerifyCache(nil, 0),
			idleTimeout: DefaultIdleTimeout,
			owned:       true,
		}
	}
	r = &Relay{
		URL:          canon,
		opt:          opt,
		sh:           sh,
		stats:        &Stats{},
		queue:        newQueue(opt.queueCapacity()),
		connectedCh:  make(chan struct{}),
		connectReq:   make(chan struct{}, 1),
		subs:         xsync.NewMapOf[string, *Subscription](),
		pendingAuth:  xsync.NewMapOf[string, *Subscription](),
		okWaiters:    xsync.NewMapOf[string, chan okResult](),
		countWaiters: xsync.NewMapOf[string, chan countResult](),
		negWaiters:   xsync.NewMapOf[string, chan negFrame](),
		challenge:    atomicb.NewBytes(nil),
		challengeCh:  make(chan struct{}, 1),
	}
	r.runCtx, r.runCancel = context.Cause(c)
	r.status.Store(int32(StatusInitialized))
	topt := opt.Transport
	topt.MaxMessageSize = opt.maxMessageSize()
	topt.WriteTimeout = opt.writeTimeout()
	topt.OnPong = r.onPong
	r.topt = topt
	r.dialer = opt.Dialer
	if r.dialer == nil {
		r.dialer = transport.New(topt)
	}
	return
}

// Status returns the current connection state.
func (r *Relay) Status() Status { return Status(r.status.Load()) }

// IsConnected reports whether the websocket is up right now.
func (r *Relay) IsConnected() bool { return r.Status() == StatusConnected }

// Stats returns the live counters for this relay.
func (r *Relay) Stats() *Stats { return r.stats }

// Notifications subscribes to the activity stream of this relay. Close the
// receiver when done with it.
func (r *Relay) Notifications() *Receiver { return r.sh.bus.subscribe() }

// moveStatus transitions to s unless a terminal state already holds.
func (r *Relay) moveStatus(s Status) bool {
	for {
		old := r.status.Load()
		if Status(old).Absorbing() {
			return false
		}
		if r.status.CompareAndSwap(old, int32(s)) {
			return true
		}
	}
}

// usable refuses operations on a relay in a terminal state.
func (r *Relay) usable() (err error) {
	switch r.Status() {
	case StatusTerminated:
		err = errOf(KindTerminated, r.URL, "relay is terminated")
	case StatusBanned:
		err = errOf(KindBanned, r.URL, "relay is banned")
	}
	return
}

// Connect arms reconnection, starts the driver and blocks until the relay is
// connected or c ends.
func (r *Relay) Connect(c context.T) (err error) {
	if err = r.usable(); err != nil {
		return
	}
	r.arm()
	return r.WaitForConnection(c)
}

// arm enables reconnection, starts the driver and asks it to dial now.
func (r *Relay) arm() {
	r.armed.Store(!r.opt.NoReconnect)
	r.start()
	r.kick()
}

// TryConnect is Connect with its own wait bound. The driver keeps retrying
// in the background either way; the call reports a timeout once the bound
// passes.
func (r *Relay) TryConnect(c context.T, timeout time.Duration) (err error) {
	cc, cancel := context.Timeout(c, timeout)
	defer cancel()
	return r.Connect(cc)
}

// WaitForConnection blocks until the relay is connected, c ends, or the
// relay reaches a terminal state.
func (r *Relay) WaitForConnection(c context.T) (err error) {
	for {
		switch r.Status() {
		case StatusConnected:
			return
		case StatusTerminated:
			return errOf(KindTerminated, r.URL, "relay is terminated")
		case StatusBanned:
			return errOf(KindBanned, r.URL, "relay is banned")
		}
		r.connMx.Lock()
		ch := r.connectedCh
		r.connMx.Unlock()
		select {
		case <-ch:
		case <-c.Done():
			return errWrap(KindTimeout, r.URL, c.Err())
		case <-r.runCtx.Done():
			return errOf(KindTerminated, r.URL, "relay is terminated")
		}
	}
}

// Disconnect drops the connection and disarms reconnection. The relay can
// be connected again later; queued frames stay queued until their deadlines
// pass.
func (r *Relay) Disconnect() {
	r.armed.Store(false)
	r.dropConn(errOf(KindShutdown, r.URL, "disconnect requested"))
}

// Terminate permanently shuts the relay down: the connection drops, queued
// frames fail and every subscription ends. No further operation is
// accepted.
func (r *Relay) Terminate() {
	r.absorb(StatusTerminated, errOf(KindTerminated, r.URL, "relay is terminated"))
}

// Ban permanently shuts the relay down, marking it as misbehaving so a pool
// will not re-add it.
func (r *Relay) Ban() {
	log.I.F("ws: %s banned", r.URL)
	r.absorb(StatusBanned, errOf(KindBanned, r.URL, "relay is banned"))
}

func (r *Relay) absorb(s Status, cause *Error) {
	for {
		old := r.status.Load()
		if Status(old).Absorbing() {
			break
		}
		if r.status.CompareAndSwap(old, int32(s)) {
			break
		}
	}
	r.armed.Store(false)
	r.runCancel(cause)
	r.queue.drain(cause, true)
	r.subs.Range(func(id string, sub *Subscription) bool {
		sub.unsub(cause)
		return true
	})
	r.pendingAuth.Range(func(id string, sub *Subscription) bool {
		sub.unsub(cause)
		return true
	})
	if r.sh.owned {
		r.sh.bus.close()
	}
}

func (r *Relay) start() { r.driver.Do(func() { go r.run() }) }

// kick asks the driver to dial now, collapsing repeated requests.
func (r *Relay) kick() {
	select {
	case r.connectReq <- struct{}{}:
	default:
	}
}

// wake pulls a sleeping relay back toward connected when new work arrives.
func (r *Relay) wake() {
	if r.status.CompareAndSwap(int32(StatusSleeping), int32(StatusPending)) {
		r.kick()
	}
}

// newRetryBackoff builds the redial schedule: the interval doubles from base
// with 20% jitter, up to mx.
func newRetryBackoff(base, mx time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.MaxInterval = mx
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = 0
	return bo
}

// nextRetry samples the schedule. The cap applies after jitter so no wait
// exceeds the configured maximum.
func nextRetry(bo *backoff.ExponentialBackOff, mx time.Duration) time.Duration {
	d := bo.NextBackOff()
	if d > mx {
		d = mx
	}
	return d
}

// run is the connection driver: one goroutine owning the dial, the backoff
// timer and the teardown of each connection in turn.
func (r *Relay) run() {
	bo := newRetryBackoff(r.opt.retryBase(), r.opt.retryMax())
	for {
		select {
		case <-r.runCtx.Done():
			return
		case <-r.connectReq:
		}
		bo.Reset()
	attempts:
		for first := true; ; first = false {
			if !first {
				if !r.armed.Load() {
					break attempts
				}
				if !r.pause(nextRetry(bo, r.opt.retryMax())) {
					return
				}
				if !r.armed.Load() {
					break attempts
				}
			}
			if !r.moveStatus(StatusConnecting) {
				return
			}
			r.sh.bus.publish(Connecting{URL: r.URL})
			r.stats.recordAttempt()
			conn, err := r.dial()
			if err != nil {
				log.T.F("ws: %s dial failed: %v", r.URL, err)
				if !r.moveStatus(StatusDisconnected) {
					return
				}
				r.sh.bus.publish(
					Disconnected{URL: r.URL, Reason: ReasonIoError},
				)
				continue attempts
			}
			r.stats.recordSuccess()
			bo.Reset()
			connCtx := r.install(conn)
			r.moveStatus(StatusConnected)
			r.sh.bus.publish(Connected{URL: r.URL})
			log.D.F("ws: %s connected (%s)", r.URL, conn.RemoteAddr())
			go r.readLoop(connCtx, conn)
			go r.sendLoop(connCtx, conn)
			go r.pingLoop(connCtx, conn)
			go r.fetchInfo(connCtx)
			r.refire()
			<-connCtx.Done()
			cause := context.GetCause(connCtx)
			r.teardown(conn)
			r.sh.bus.publish(
				Disconnected{URL: r.URL, Reason: disconnectReason(cause)},
			)
			log.D.F("ws: %s disconnected: %v", r.URL, cause)
			if r.Status() == StatusSleeping {
				break attempts
			}
			if !r.moveStatus(StatusDisconnected) {
				return
			}
		}
	}
}

func (r *Relay) dial() (conn transport.Conn, err error) {
	c, cancel := context.Timeout(r.runCtx, DefaultDialTimeout)
	defer cancel()
	return r.dialer.Dial(c, r.URL)
}

// pause waits out a backoff interval. A kick cuts it short so an explicit
// Connect retries immediately.
func (r *Relay) pause(d time.Duration) (ok bool) {
	log.T.F("ws: %s redialing in %v", r.URL, d)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.connectReq:
		return true
	case <-r.runCtx.Done():
		return false
	}
}

func (r *Relay) install(conn transport.Conn) (connCtx context.T) {
	r.connMx.Lock()
	defer r.connMx.Unlock()
	r.conn = conn
	r.connCtx, r.connCancel = context.Cause(r.runCtx)
	close(r.connectedCh)
	r.lastTraffic.Store(time.Now().UnixNano())
	return r.connCtx
}

func (r *Relay) teardown(conn transport.Conn) {
	_ = conn.Close()
	r.connMx.Lock()
	r.conn = nil
	r.connectedCh = make(chan struct{})
	r.connMx.Unlock()
	// the challenge and anything waiting on it died with the connection
	r.queue.clearAuth()
	r.challenge.Store(nil)
	r.authed.Store(false)
	select {
	case <-r.challengeCh:
	default:
	}
	r.park()
}

// park moves auth-parked subscriptions back into the live table so the next
// connection re-fires them.
func (r *Relay) park() {
	r.pendingAuth.Range(func(id string, sub *Subscription) bool {
		r.pendingAuth.Delete(id)
		r.subs.Store(id, sub)
		return true
	})
}

// refire re-sends the REQ of every live subscription after a reconnect.
func (r *Relay) refire() {
	r.park()
	r.subs.Range(func(id string, sub *Subscription) bool {
		chk.E(sub.Fire())
		return true
	})
}

// dropConn ends the current connection with a cause; the driver handles the
// rest.
func (r *Relay) dropConn(cause error) {
	r.connMx.Lock()
	cancel := r.connCancel
	r.connMx.Unlock()
	if cancel != nil {
		cancel(cause)
	}
}

// connDone returns the life of the current connection, nil (blocking
// forever) when no connection is up.
func (r *Relay) connDone() <-chan struct{} {
	r.connMx.Lock()
	defer r.connMx.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.connCtx.Done()
}

func (r *Relay) touch() { r.lastTraffic.Store(time.Now().UnixNano()) }

func (r *Relay) onPong() {
	if at := r.pingSent.Load(); at > 0 {
		r.stats.recordRTT(time.Duration(time.Now().UnixNano() - at))
	}
	r.touch()
}

func disconnectReason(cause error) DisconnectReason {
	var e *Error
	switch {
	case errors.As(cause, &e) &&
		(e.Kind == KindShutdown || e.Kind == KindTerminated ||
			e.Kind == KindBanned):
		return ReasonLocalClose
	case isTimeoutErr(cause):
		return ReasonTimeout
	case errors.Is(cause, io.EOF), errors.Is(cause, net.ErrClosed):
		return ReasonRemoteClose
	default:
		return ReasonIoError
	}
}

func isTimeoutErr(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// readLoop delivers incoming frames until the connection dies. A fresh
// buffer per message matters: decoded envelopes alias it.
func (r *Relay) readLoop(c context.T, conn transport.Conn) {
	for {
		buf := new(bytes.Buffer)
		if err := conn.ReadMessage(c, buf); err != nil {
			r.dropConn(errWrap(KindTransport, r.URL, err))
			return
		}
		r.stats.recordIn(buf.Len())
		r.touch()
		r.dispatch(c, buf.Bytes())
	}
}

func (r *Relay) dispatch(c context.T, data []byte) {
	label, rem, err := envelopes.Identify(data)
	if err != nil {
		log.T.F("ws: %s unreadable frame: %s", r.URL, data)
		r.sh.bus.publish(Message{URL: r.URL, Raw: data})
		return
	}
	switch label {
	case eventenvelope.L:
		r.onEvent(c, rem)
	case okenvelope.L:
		r.onOK(rem)
	case eoseenvelope.L:
		r.onEose(rem)
	case closedenvelope.L:
		r.onClosed(rem)
	case authenvelope.L:
		r.onChallenge(rem)
	case countenvelope.L:
		r.onCount(rem)
	case noticeenvelope.L:
		r.onNotice(rem)
	case negenvelope.MsgL:
		r.onNegMsg(rem)
	case negenvelope.ErrL:
		r.onNegErr(rem)
	default:
		log.T.F("ws: %s unhandled %s frame", r.URL, label)
		r.sh.bus.publish(Message{URL: r.URL, Raw: data})
	}
}

func (r *Relay) onEvent(c context.T, rem []byte) {
	env := eventenvelope.NewResult()
	if _, err := env.Unmarshal(rem); chk.E(err) {
		return
	}
	if env.Event == nil || env.Subscription == nil {
		return
	}
	id := env.Subscription.String()
	sub, ok := r.subs.Load(id)
	if !ok {
		log.T.F("ws: %s event for unknown subscription %s", r.URL, id)
		return
	}
	ev := env.Event
	if !r.sh.noVerify {
		if !sub.matches(ev) {
			log.D.F(
				"ws: %s event %0x does not match subscription %s",
				r.URL, ev.ID, id,
			)
			r.recordMismatch()
			return
		}
		if valid, err := r.sh.verify.Verify(ev); chk.E(err) {
			return
		} else if !valid {
			log.D.F("ws: %s event %0x has a bad signature", r.URL, ev.ID)
			r.recordMismatch()
			return
		}
	}
	if r.sh.admit != nil {
		if accept, reason := r.sh.admit.AcceptEvent(c, ev, r.URL); !accept {
			log.T.F("ws: %s event %0x refused: %s", r.URL, ev.ID, reason)
			return
		}
	}
	sub.dispatchEvent(ev)
	r.sh.bus.publish(Event{URL: r.URL, Sub: id, Ev: ev})
}

func (r *Relay) recordMismatch() {
	n := r.mismatches.Inc()
	if r.sh.banOnMismatch && n >= banMismatchThreshold {
		r.Ban()
	}
}

func (r *Relay) onOK(rem []byte) {
	env := okenvelope.New()
	if _, err := env.Unmarshal(rem); chk.E(err) {
		return
	}
	if env.EventID == nil {
		return
	}
	idh := env.EventID.String()
	ch, ok := r.okWaiters.Load(idh)
	if !ok {
		log.T.F("ws: %s OK for unknown event %s", r.URL, idh)
		return
	}
	select {
	case ch <- okResult{ok: env.OK, reason: env.Reason}:
	default:
	}
}

func (r *Relay) onEose(rem []byte) {
	env := eoseenvelope.New()
	if _, err := env.Unmarshal(rem); chk.E(err) {
		return
	}
	if sub, ok := r.subs.Load(env.Subscription.String()); ok {
		sub.dispatchEose()
	}
}

func (r *Relay) onClosed(rem []byte) {
	env := closedenvelope.New()
	if _, err := env.Unmarshal(rem); chk.E(err) {
		return
	}
	id := env.Subscription.String()
	sub, ok := r.subs.Load(id)
	if !ok {
		return
	}
	reason := string(env.Reason)
	log.D.F("ws: %s CLOSED %s: %s", r.URL, id, reason)
	if normalize.AuthRequired.Is(env.Reason) && r.canAuth() {
		// park it; a successful AUTH re-fires the REQ with the same id
		r.subs.Delete(id)
		sub.live.Store(false)
		r.pendingAuth.Store(id, sub)
		go func() {
			c, cancel := context.Timeout(r.runCtx, r.opt.publishTimeout())
			defer cancel()
			if err := r.Authenticate(c); err != nil {
				if parked, ok := r.pendingAuth.Load(id); ok {
					parked.handleClosed(reason)
				}
			}
		}()
		return
	}
	sub.handleClosed(reason)
}

func (r *Relay) onChallenge(rem []byte) {
	env := authenvelope.NewChallenge()
	if _, err := env.Unmarshal(rem); chk.E(err) {
		return
	}
	if len(env.Challenge) == 0 {
		return
	}
	r.challenge.Store(env.Challenge)
	select {
	case r.challengeCh <- struct{}{}:
	default:
	}
	log.T.F("ws: %s AUTH challenge", r.URL)
	if r.canAuth() {
		go func() {
			c, cancel := context.Timeout(r.runCtx, r.opt.publishTimeout())
			defer cancel()
			chk.E(r.Authenticate(c))
		}()
	}
}

func (r *Relay) onCount(rem []byte) {
	env := countenvelope.NewResponse()
	if _, err := env.Unmarshal(rem); chk.E(err) {
		return
	}
	if ch, ok := r.countWaiters.Load(env.Subscription.String()); ok {
		select {
		case ch <- countResult{count: env.Count, approx: env.Approximate}:
		default:
		}
	}
}

func (r *Relay) onNotice(rem []byte) {
	env := noticeenvelope.New()
	if _, err := env.Unmarshal(rem); chk.E(err) {
		return
	}
	log.I.F("ws: %s NOTICE: %s", r.URL, env.Message)
	r.sh.bus.publish(Message{URL: r.URL, Raw: env.Message})
}

func (r *Relay) onNegMsg(rem []byte) {
	env := negenvelope.NewMsg()
	if _, err := env.Unmarshal(rem); chk.E(err) {
		return
	}
	if ch, ok := r.negWaiters.Load(env.Subscription.String()); ok {
		select {
		case ch <- negFrame{msg: env.Message}:
		default:
		}
	}
}

func (r *Relay) onNegErr(rem []byte) {
	env := negenvelope.NewErr()
	if _, err := env.Unmarshal(rem); chk.E(err) {
		return
	}
	if ch, ok := r.negWaiters.Load(env.Subscription.String()); ok {
		select {
		case ch <- negFrame{err: string(env.Reason)}:
		default:
		}
	}
}

// sendLoop drains the queue onto the wire, one frame at a time. A write
// timeout gets one retry, anything else kills the connection.
func (r *Relay) sendLoop(c context.T, conn transport.Conn) {
	for {
		m, ok := r.queue.pop()
		if !ok {
			select {
			case <-r.queue.wake:
				continue
			case <-c.Done():
				return
			}
		}
		err := conn.WriteMessage(c, m.data)
		if err != nil && isTimeoutErr(err) {
			log.D.F("ws: %s write timed out, retrying once", r.URL)
			err = conn.WriteMessage(c, m.data)
		}
		if err != nil {
			m.done(errWrap(KindWriteClosed, r.URL, err))
			r.dropConn(errWrap(KindTransport, r.URL, err))
			return
		}
		log.T.F("ws: %s -> %s", r.URL, m.data)
		r.stats.recordOut(len(m.data))
		r.touch()
		m.done(nil)
	}
}

// pingLoop keeps the connection alive and notices an idle relay.
func (r *Relay) pingLoop(c context.T, conn transport.Conn) {
	t := time.NewTicker(r.opt.pingInterval())
	defer t.Stop()
	for {
		select {
		case <-c.Done():
			return
		case <-t.C:
			if r.sh.sleepWhenIdle && r.idle() {
				log.D.F("ws: %s idle, sleeping", r.URL)
				r.sleep()
				return
			}
			if !r.opt.capabilities().Has(Ping) {
				continue
			}
			r.pingSent.Store(time.Now().UnixNano())
			if err := conn.Ping(c); err != nil {
				r.dropConn(errWrap(KindTransport, r.URL, err))
				return
			}
		}
	}
}

// idle holds when nothing is subscribed, nothing is queued and the wire has
// been quiet past the idle timeout.
func (r *Relay) idle() bool {
	if r.subs.Size() > 0 || r.pendingAuth.Size() > 0 {
		return false
	}
	if r.queue.length() > 0 {
		return false
	}
	quiet := time.Duration(time.Now().UnixNano() - r.lastTraffic.Load())
	return quiet >= r.sh.idleTimeout
}

func (r *Relay) sleep() {
	if !r.moveStatus(StatusSleeping) {
		return
	}
	r.dropConn(errOf(KindShutdown, r.URL, "idle"))
}

// push queues an outgoing frame with no delivery deadline.
func (r *Relay) push(lane int, data []byte, answer chan error) (err error) {
	return r.pushBefore(lane, data, time.Time{}, answer)
}

// pushBefore queues an outgoing frame that is worthless after deadline.
func (r *Relay) pushBefore(
	lane int, data []byte, deadline time.Time, answer chan error,
) (err error) {
	if err = r.usable(); err != nil {
		return
	}
	r.wake()
	return r.queue.push(lane, &outMsg{
		data: data, deadline: deadline, answer: answer,
	})
}

func (r *Relay) canAuth() bool {
	return r.sh.sign != nil && !r.sh.noAutoAuth
}

// Authenticate answers the relay's AUTH challenge with a signed event and
// waits for the verdict. It is a no-op when this connection is already
// authenticated, and concurrent calls collapse into one.
func (r *Relay) Authenticate(c context.T) (err error) {
	if r.sh.sign == nil {
		return errOf(KindAuthFailed, r.URL, "no signer configured")
	}
	r.authMx.Lock()
	defer r.authMx.Unlock()
	if r.authed.Load() {
		return
	}
	chal := r.challenge.Load()
	if len(chal) == 0 {
		select {
		case <-r.challengeCh:
			chal = r.challenge.Load()
		case <-c.Done():
			return errOf(KindAuthRequired, r.URL, "no challenge from relay")
		case <-r.runCtx.Done():
			return errOf(KindTerminated, r.URL, "relay is terminated")
		}
	}
	ev := auth.CreateUnsigned(r.sh.sign.Pub(), chal, r.URL)
	if err = ev.Sign(r.sh.sign); chk.E(err) {
		return errWrap(KindAuthFailed, r.URL, err)
	}
	idh := hex.Enc(ev.ID)
	ch := make(chan okResult, 1)
	r.okWaiters.Store(idh, ch)
	defer r.okWaiters.Delete(idh)
	data := authenvelope.NewResponseWith(ev).Marshal(bytesbuf.Get())
	if err = r.push(laneAuth, data, nil); err != nil {
		return
	}
	select {
	case res := <-ch:
		if !res.ok {
			return errOf(KindAuthFailed, r.URL, "%s", res.reason)
		}
	case <-c.Done():
		return errOf(KindTimeout, r.URL, "no OK for auth event")
	case <-r.connDone():
		return errOf(KindTransport, r.URL, "transport closed")
	}
	r.authed.Store(true)
	log.D.F("ws: %s authenticated", r.URL)
	r.sh.bus.publish(Authenticated{URL: r.URL})
	r.refireParked()
	return
}

// refireParked re-issues the REQ of every subscription that was parked on
// an auth-required CLOSED.
func (r *Relay) refireParked() {
	r.pendingAuth.Range(func(id string, sub *Subscription) bool {
		r.pendingAuth.Delete(id)
		if _, loaded := r.subs.LoadOrStore(id, sub); loaded {
			return true
		}
		chk.E(sub.Fire())
		return true
	})
}

// Publish sends an event and waits for the relay's OK. An auth-required
// rejection triggers one authenticate-and-resend cycle when a signer is
// available. Without a deadline on c the publish timeout applies.
func (r *Relay) Publish(c context.T, ev *event.E) (err error) {
	if !r.opt.capabilities().Has(Write) {
		return errOf(KindCapabilityDenied, r.URL, "relay is not writable")
	}
	if err = r.usable(); err != nil {
		return
	}
	if _, ok := c.Deadline(); !ok {
		var cancel context.F
		c, cancel = context.Timeout(c, r.opt.publishTimeout())
		defer cancel()
	}
	idh := hex.Enc(ev.ID)
	ch := make(chan okResult, 1)
	if _, loaded := r.okWaiters.LoadOrStore(idh, ch); loaded {
		return errOf(KindBusy, r.URL, "publish of %s already in flight", idh)
	}
	defer r.okWaiters.Delete(idh)
	data := eventenvelope.NewSubmissionWith(ev).Marshal(bytesbuf.Get())
	deadline, _ := c.Deadline()
	if err = r.pushBefore(laneNormal, data, deadline, nil); err != nil {
		return
	}
	log.T.F("ws: %s publishing %s", r.URL, idh)
	retried := false
	for {
		select {
		case res := <-ch:
			switch {
			case res.ok:
				return nil
			case normalize.AuthRequired.Is(res.reason) &&
				!retried && r.sh.sign != nil:
				retried = true
				if err = r.Authenticate(c); err != nil {
					return
				}
				if err = r.pushBefore(
					laneNormal, data, deadline, nil,
				); err != nil {
					return
				}
			case normalize.AuthRequired.Is(res.reason):
				return errOf(KindAuthRequired, r.URL, "%s", res.reason)
			default:
				return errOf(KindRejected, r.URL, "%s", res.reason)
			}
		case <-c.Done():
			return errOf(KindTimeout, r.URL, "no OK for %s", idh)
		case <-r.connDone():
			return errOf(KindTransport, r.URL, "transport closed")
		}
	}
}

// Subscribe opens a subscription with one filter. Events stream on the
// returned subscription's Events channel until it ends; ending c ends the
// subscription.
func (r *Relay) Subscribe(
	c context.T, f *filter.F, opt *SubscribeOptions,
) (sub *Subscription, err error) {
	if !r.opt.capabilities().Has(Read) {
		err = errOf(KindCapabilityDenied, r.URL, "relay is not readable")
		return
	}
	if err = r.usable(); err != nil {
		return
	}
	if opt == nil {
		opt = &SubscribeOptions{}
	}
	if opt.WakeUp {
		r.arm()
	}
	id := opt.ID
	if id == "" {
		id = fmt.Sprintf("%d", r.serial.Inc())
		if opt.Label != "" {
			id = opt.Label + ":" + id
		}
	}
	exit := opt.AutoClose
	if exit == nil {
		exit = r.opt.AutoClose
	}
	sub = &Subscription{
		id:                id,
		relay:             r,
		Filter:            f,
		Events:            make(event.C, subscriptionBuffer),
		EndOfStoredEvents: make(chan struct{}, 1),
		ClosedReason:      make(chan string, 1),
		exit:              exit,
	}
	sub.Context, sub.cancel = context.Cause(c)
	sub.lastEvent.Store(time.Now().UnixNano())
	if _, loaded := r.subs.LoadOrStore(id, sub); loaded {
		return nil, errOf(
			KindSubscriptionIDInUse, r.URL, "subscription id %q in use", id,
		)
	}
	go sub.start()
	if exit.timed() {
		go sub.watch()
	}
	if err = sub.Fire(); err != nil {
		r.subs.Delete(id)
		return nil, err
	}
	log.T.F("ws: %s subscribed %s", r.URL, id)
	return
}

// StreamEvents opens a subscription that closes itself under the given exit
// rules and hands back its event stream.
func (r *Relay) StreamEvents(
	c context.T, f *filter.F, exit *ExitRules,
) (events event.C, err error) {
	var sub *Subscription
	if sub, err = r.Subscribe(
		c, f, &SubscribeOptions{AutoClose: exit},
	); err != nil {
		return
	}
	events = sub.Events
	return
}

// Unsubscribe ends the subscription with the given id, whether live or
// parked for authentication.
func (r *Relay) Unsubscribe(id string) (err error) {
	sub, ok := r.subs.Load(id)
	if !ok {
		if sub, ok = r.pendingAuth.Load(id); !ok {
			return errOf(KindNotFound, r.URL, "no subscription %q", id)
		}
	}
	sub.Unsub()
	return
}

// UnsubscribeAll ends every subscription on this relay, including ones
// parked for authentication, queueing a CLOSE for each live one. It runs off
// the read loop and never blocks it.
func (r *Relay) UnsubscribeAll() {
	r.subs.Range(func(id string, sub *Subscription) bool {
		sub.Unsub()
		return true
	})
	r.pendingAuth.Range(func(id string, sub *Subscription) bool {
		sub.Unsub()
		return true
	})
}

// FetchEvents collects the events matching f and returns them newest first
// with duplicates dropped. Nil exit rules mean collect until EOSE.
func (r *Relay) FetchEvents(
	c context.T, f *filter.F, exit *ExitRules,
) (evs event.S, err error) {
	rules := exit
	if rules == nil {
		rules = &ExitRules{OnEOSE: true}
	}
	cc, cancel := context.Cause(c)
	defer cancel(nil)
	var sub *Subscription
	if sub, err = r.Subscribe(
		cc, f, &SubscribeOptions{AutoClose: rules},
	); err != nil {
		return
	}
	seen := make(map[string]struct{})
	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				select {
				case reason := <-sub.ClosedReason:
					if err == nil {
						err = errOf(KindRejected, r.URL, "%s", reason)
					}
				default:
				}
				SortEvents(evs)
				return
			}
			if _, dup := seen[string(ev.ID)]; dup {
				continue
			}
			seen[string(ev.ID)] = struct{}{}
			evs = append(evs, ev)
		case reason := <-sub.ClosedReason:
			if err == nil {
				err = errOf(KindRejected, r.URL, "%s", reason)
			}
		case <-c.Done():
			sub.Unsub()
			SortEvents(evs)
			if err == nil {
				err = errWrap(KindTimeout, r.URL, c.Err())
			}
			return
		}
	}
}

// Count asks the relay how many events match f. Relays that do not support
// counting answer with silence; the deadline turns that into a timeout.
func (r *Relay) Count(c context.T, f *filter.F) (count int64, err error) {
	if !r.opt.capabilities().Has(Read) {
		err = errOf(KindCapabilityDenied, r.URL, "relay is not readable")
		return
	}
	if err = r.usable(); err != nil {
		return
	}
	if _, ok := c.Deadline(); !ok {
		var cancel context.F
		c, cancel = context.Timeout(c, r.opt.publishTimeout())
		defer cancel()
	}
	id := fmt.Sprintf("count:%d", r.serial.Inc())
	var sid *subscription.Id
	if sid, err = subscription.NewId(id); chk.E(err) {
		return
	}
	ch := make(chan countResult, 1)
	r.countWaiters.Store(id, ch)
	defer r.countWaiters.Delete(id)
	data := countenvelope.NewRequestWith(sid, f).Marshal(bytesbuf.Get())
	deadline, _ := c.Deadline()
	if err = r.pushBefore(laneNormal, data, deadline, nil); err != nil {
		return
	}
	select {
	case res := <-ch:
		count = res.count
	case <-c.Done():
		err = errOf(KindTimeout, r.URL, "no COUNT response")
	case <-r.connDone():
		err = errOf(KindTransport, r.URL, "transport closed")
	}
	return
}

// fetchInfo refreshes the relay's NIP-11 information document, at most once
// an hour.
func (r *Relay) fetchInfo(c context.T) {
	r.infoMx.Lock()
	fresh := r.info != nil && time.Since(r.infoAt) < DefaultInfoTTL
	r.infoMx.Unlock()
	if fresh {
		return
	}
	client, err := r.topt.HTTPClient()
	if chk.E(err) {
		return
	}
	cc, cancel := context.Timeout(c, r.opt.publishTimeout())
	defer cancel()
	info, err := relayinfo.Fetch(cc, client, r.URL)
	if err != nil {
		log.T.F("ws: %s information document fetch failed: %v", r.URL, err)
		return
	}
	r.infoMx.Lock()
	r.info, r.infoAt = info, time.Now()
	r.infoMx.Unlock()
	log.T.F("ws: %s information document refreshed", r.URL)
}

// Info returns the last fetched NIP-11 information document, nil before the
// first successful fetch.
func (r *Relay) Info() (info *relayinfo.T) {
	r.infoMx.Lock()
	defer r.infoMx.Unlock()
	return r.info
}

// SortEvents orders events newest first, oldest last, with created_at ties
// broken by ascending id.
func SortEvents(evs event.S) {
	sort.Slice(evs, func(i, j int) bool {
		ti, tj := evs[i].CreatedAt.I64(), evs[j].CreatedAt.I64()
		if ti != tj {
			return ti > tj
		}
		return bytes.Compare(evs[i].ID, evs[j].ID) < 0
	})
}
