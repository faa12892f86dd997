package ws

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"relaypool.dev/pkg/database/memory"
	"relaypool.dev/pkg/encoders/event"
	"relaypool.dev/pkg/encoders/filter"
	"relaypool.dev/pkg/encoders/hex"
	"relaypool.dev/pkg/encoders/kind"
	"relaypool.dev/pkg/encoders/kinds"
	"relaypool.dev/pkg/encoders/tag"
	"relaypool.dev/pkg/protocol/relayinfo"
	"relaypool.dev/pkg/utils"
	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/context"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	end := time.Now().Add(d)
	for time.Now().Before(end) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// mustRelayConnect dials the test relay or fails the test.
func mustRelayConnect(t *testing.T, url string, opt *RelayOptions) *Relay {
	t.Helper()
	c, cancel := context.Timeout(context.Bg(), 5*time.Second)
	defer cancel()
	r, err := NewRelay(context.Bg(), url, opt)
	if chk.E(err) {
		t.Fatalf("NewRelay: %v", err)
	}
	if err = r.Connect(c); chk.E(err) {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(r.Terminate)
	return r
}

func kindFilter(k ...uint16) *filter.F {
	f := &filter.F{Kinds: kinds.NewWithCap(len(k))}
	for _, kk := range k {
		f.Kinds.K = append(f.Kinds.K, kind.New(kk))
	}
	return f
}

// subCount reports how many subscriptions the relay has registered.
func subCount(r *Relay) (n int) {
	r.subs.Range(func(string, *Subscription) bool {
		n++
		return true
	})
	return
}

func TestRelayConnect(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{})
	rl := mustRelayConnect(t, tr.URL, nil)
	if !rl.IsConnected() {
		t.Fatal("relay should be connected")
	}
	if got := rl.Status(); got != StatusConnected {
		t.Fatalf("status %v, want %v", got, StatusConnected)
	}
	if rl.Stats().Attempts() != 1 || rl.Stats().Successes() != 1 {
		t.Fatalf(
			"attempts %d successes %d, want 1 and 1",
			rl.Stats().Attempts(), rl.Stats().Successes(),
		)
	}
	rl.Disconnect()
	waitFor(t, 2*time.Second, "disconnect", func() bool {
		return !rl.IsConnected()
	})
}

func TestRelayConnectBadURL(t *testing.T) {
	_, err := NewRelay(context.Bg(), "://not-a-relay", nil)
	if !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("got %v, want an invalid url error", err)
	}
}

func TestTryConnect(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{})
	rl, err := NewRelay(context.Bg(), tr.URL, nil)
	if chk.E(err) {
		t.Fatalf("NewRelay: %v", err)
	}
	t.Cleanup(rl.Terminate)
	if err = rl.TryConnect(context.Bg(), 5*time.Second); chk.E(err) {
		t.Fatalf("TryConnect: %v", err)
	}
	if !rl.IsConnected() {
		t.Fatal("relay not connected after TryConnect")
	}
}

func TestTryConnectTimeout(t *testing.T) {
	// nothing listens on port 1, so the dial fails and the driver backs off
	rl, err := NewRelay(context.Bg(), "ws://127.0.0.1:1", nil)
	if chk.E(err) {
		t.Fatalf("NewRelay: %v", err)
	}
	t.Cleanup(rl.Terminate)
	err = rl.TryConnect(context.Bg(), 300*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want a timeout", err)
	}
}

func TestPublish(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{})
	rl := mustRelayConnect(t, tr.URL, nil)
	sign := testSigner(t)
	note := signedNote(t, sign, "hello", time.Now().Unix())
	c, cancel := context.Timeout(context.Bg(), 5*time.Second)
	defer cancel()
	if err := rl.Publish(c, note); chk.E(err) {
		t.Fatalf("Publish: %v", err)
	}
	has, err := tr.db.HasEvent(context.Bg(), note.ID)
	if chk.E(err) {
		t.Fatal(err)
	}
	if !has {
		t.Error("relay did not store the published event")
	}
}

func TestPublishRejected(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{
		AcceptEvent: func(ev *event.E) (bool, string) {
			return false, "not on this relay"
		},
	})
	rl := mustRelayConnect(t, tr.URL, nil)
	sign := testSigner(t)
	note := signedNote(t, sign, "hello", time.Now().Unix())
	c, cancel := context.Timeout(context.Bg(), 5*time.Second)
	defer cancel()
	err := rl.Publish(c, note)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("got %v, want a rejection", err)
	}
	if !strings.Contains(err.Error(), "blocked: not on this relay") {
		t.Errorf("rejection lost the relay's reason: %v", err)
	}
}

func TestPublishBadSignature(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{})
	rl := mustRelayConnect(t, tr.URL, nil)
	sign := testSigner(t)
	note := signedNote(t, sign, "hello", time.Now().Unix())
	note.Sig[0] ^= 0xff
	c, cancel := context.Timeout(context.Bg(), 5*time.Second)
	defer cancel()
	err := rl.Publish(c, note)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("got %v, want a rejection", err)
	}
	if !strings.Contains(err.Error(), "invalid:") {
		t.Errorf("rejection reason should carry the invalid prefix: %v", err)
	}
}

func TestPublishDuplicate(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{})
	rl := mustRelayConnect(t, tr.URL, nil)
	sign := testSigner(t)
	note := signedNote(t, sign, "hello", time.Now().Unix())
	c, cancel := context.Timeout(context.Bg(), 5*time.Second)
	defer cancel()
	if err := rl.Publish(c, note); chk.E(err) {
		t.Fatalf("first publish: %v", err)
	}
	// a relay that already has the event still acknowledges it
	if err := rl.Publish(c, note); chk.E(err) {
		t.Fatalf("second publish: %v", err)
	}
}

func TestPublishWriteFailed(t *testing.T) {
	// a server that kills the socket as soon as it opens
	srv := newWebsocketServer(func(conn *websocket.Conn) {
		conn.Close()
	})
	defer srv.Close()
	c, cancel := context.Timeout(context.Bg(), 2*time.Second)
	defer cancel()
	rl, err := NewRelay(context.Bg(), srv.URL, &RelayOptions{NoReconnect: true})
	if chk.E(err) {
		t.Fatal(err)
	}
	defer rl.Terminate()
	_ = rl.Connect(c)
	sign := testSigner(t)
	note := signedNote(t, sign, "hello", time.Now().Unix())
	if err = rl.Publish(c, note); err == nil {
		t.Error("publish into a dead socket should fail")
	}
}

func TestFetchEvents(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{})
	sign := testSigner(t)
	tr.seed(
		signedNote(t, sign, "first", 1000),
		signedNote(t, sign, "second", 2000),
		signedNote(t, sign, "third", 3000),
	)
	rl := mustRelayConnect(t, tr.URL, nil)
	c, cancel := context.Timeout(context.Bg(), 5*time.Second)
	defer cancel()
	evs, err := rl.FetchEvents(c, kindFilter(1), nil)
	if chk.E(err) {
		t.Fatalf("FetchEvents: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("got %d events, want 3", len(evs))
	}
	for i := 1; i < len(evs); i++ {
		if evs[i-1].CreatedAt.I64() < evs[i].CreatedAt.I64() {
			t.Fatal("events are not newest first")
		}
	}
	if string(evs[0].Content) != "third" {
		t.Errorf("newest event is %q, want %q", evs[0].Content, "third")
	}
}

func TestFetchEventsLimit(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{})
	sign := testSigner(t)
	tr.seed(
		signedNote(t, sign, "first", 1000),
		signedNote(t, sign, "second", 2000),
		signedNote(t, sign, "third", 3000),
	)
	rl := mustRelayConnect(t, tr.URL, nil)
	c, cancel := context.Timeout(context.Bg(), 5*time.Second)
	defer cancel()
	f := kindFilter(1)
	lim := uint(2)
	f.Limit = &lim
	evs, err := rl.FetchEvents(c, f, nil)
	if chk.E(err) {
		t.Fatalf("FetchEvents: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2", len(evs))
	}
	if string(evs[0].Content) != "third" || string(evs[1].Content) != "second" {
		t.Errorf(
			"limit kept %q and %q, want the two newest",
			evs[0].Content, evs[1].Content,
		)
	}
}

func TestPublishThenFetchSingleton(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{})
	rl := mustRelayConnect(t, tr.URL, nil)
	sign := testSigner(t)
	note := signedNote(t, sign, "round trip", time.Now().Unix())
	c, cancel := context.Timeout(context.Bg(), 5*time.Second)
	defer cancel()
	if err := rl.Publish(c, note); chk.E(err) {
		t.Fatalf("Publish: %v", err)
	}
	evs, err := rl.FetchEvents(
		c, &filter.F{Ids: tag.FromBytesSlice(note.ID)}, nil,
	)
	if chk.E(err) {
		t.Fatalf("FetchEvents: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("got %d events for the published id, want 1", len(evs))
	}
	if !utils.FastEqual(evs[0].ID, note.ID) {
		t.Errorf("fetched a different event: %x", evs[0].ID)
	}
}

func TestSubscribeLiveEvents(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{})
	rl := mustRelayConnect(t, tr.URL, nil)
	c, cancel := context.Timeout(context.Bg(), 5*time.Second)
	defer cancel()
	sub, err := rl.Subscribe(c, kindFilter(1), nil)
	if chk.E(err) {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsub()
	sign := testSigner(t)
	note := signedNote(t, sign, "live", time.Now().Unix())
	if err = rl.Publish(c, note); chk.E(err) {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case got := <-sub.Events:
		if hex.Enc(got.ID) != hex.Enc(note.ID) {
			t.Errorf("got event %0x, want %0x", got.ID, note.ID)
		}
	case <-c.Done():
		t.Fatal("no live event arrived")
	}
	if sub.Received() != 1 {
		t.Errorf("received count %d, want 1", sub.Received())
	}
}

func TestSubscribeEOSE(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{})
	sign := testSigner(t)
	tr.seed(
		signedNote(t, sign, "one", 1000),
		signedNote(t, sign, "two", 2000),
	)
	rl := mustRelayConnect(t, tr.URL, nil)
	c, cancel := context.Timeout(context.Bg(), 5*time.Second)
	defer cancel()
	sub, err := rl.Subscribe(c, kindFilter(1), nil)
	if chk.E(err) {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsub()
	var got int
	for got < 2 {
		select {
		case <-sub.Events:
			got++
		case <-c.Done():
			t.Fatalf("only %d stored events arrived", got)
		}
	}
	select {
	case <-sub.EndOfStoredEvents:
	case <-c.Done():
		t.Fatal("no EOSE after the stored events")
	}
	// without auto-close rules the subscription stays registered
	if n := subCount(rl); n != 1 {
		t.Errorf("registered subscriptions after EOSE = %d, want 1", n)
	}
}

func TestSubscribeAutoCloseOnEOSE(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{})
	sign := testSigner(t)
	tr.seed(signedNote(t, sign, "only", 1000))
	rl := mustRelayConnect(t, tr.URL, nil)
	c, cancel := context.Timeout(context.Bg(), 5*time.Second)
	defer cancel()
	sub, err := rl.Subscribe(
		c, kindFilter(1), &SubscribeOptions{AutoClose: &ExitRules{OnEOSE: true}},
	)
	if chk.E(err) {
		t.Fatalf("Subscribe: %v", err)
	}
	var got int
	for range sub.Events {
		got++
	}
	// the channel closed by itself after the stored events
	if got != 1 {
		t.Errorf("got %d events before close, want 1", got)
	}
}

func TestStreamEvents(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{})
	sign := testSigner(t)
	tr.seed(
		signedNote(t, sign, "one", 1000),
		signedNote(t, sign, "two", 2000),
	)
	rl := mustRelayConnect(t, tr.URL, nil)
	c, cancel := context.Timeout(context.Bg(), 5*time.Second)
	defer cancel()
	events, err := rl.StreamEvents(c, kindFilter(1), &ExitRules{OnEOSE: true})
	if chk.E(err) {
		t.Fatalf("StreamEvents: %v", err)
	}
	var got int
	for range events {
		got++
	}
	if got != 2 {
		t.Errorf("stream delivered %d events, want 2", got)
	}
}

func TestSubscribeAfterEvents(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{})
	sign := testSigner(t)
	tr.seed(
		signedNote(t, sign, "one", 1000),
		signedNote(t, sign, "two", 2000),
		signedNote(t, sign, "three", 3000),
	)
	rl := mustRelayConnect(t, tr.URL, nil)
	c, cancel := context.Timeout(context.Bg(), 5*time.Second)
	defer cancel()
	sub, err := rl.Subscribe(
		c, kindFilter(1),
		&SubscribeOptions{AutoClose: &ExitRules{AfterEvents: 2}},
	)
	if chk.E(err) {
		t.Fatalf("Subscribe: %v", err)
	}
	var got int
	for range sub.Events {
		got++
	}
	if got != 2 {
		t.Errorf("event budget delivered %d, want 2", got)
	}
}

func TestSubscribeIdleTimeout(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{})
	rl := mustRelayConnect(t, tr.URL, nil)
	c, cancel := context.Timeout(context.Bg(), 5*time.Second)
	defer cancel()
	sub, err := rl.Subscribe(
		c, kindFilter(1),
		&SubscribeOptions{AutoClose: &ExitRules{Idle: 200 * time.Millisecond}},
	)
	if chk.E(err) {
		t.Fatalf("Subscribe: %v", err)
	}
	start := time.Now()
	for range sub.Events {
	}
	if waited := time.Since(start); waited > 3*time.Second {
		t.Errorf("idle close took %v", waited)
	}
}

func TestSubscribeClosedWithoutSigner(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{AuthRequired: true})
	rl := mustRelayConnect(t, tr.URL, nil)
	c, cancel := context.Timeout(context.Bg(), 5*time.Second)
	defer cancel()
	sub, err := rl.Subscribe(c, kindFilter(1), nil)
	if chk.E(err) {
		t.Fatalf("Subscribe: %v", err)
	}
	select {
	case reason := <-sub.ClosedReason:
		if !strings.HasPrefix(reason, "auth-required:") {
			t.Errorf("closed reason %q, want an auth-required one", reason)
		}
	case <-c.Done():
		t.Fatal("no CLOSED for the unauthenticated REQ")
	}
	// the subscription ends, it cannot recover without a signer
	select {
	case _, open := <-sub.Events:
		if open {
			t.Error("events flowed on a closed subscription")
		}
	case <-c.Done():
		t.Fatal("events channel did not close")
	}
}

func TestFetchEventsClosedReason(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{AuthRequired: true})
	rl := mustRelayConnect(t, tr.URL, nil)
	c, cancel := context.Timeout(context.Bg(), 5*time.Second)
	defer cancel()
	evs, err := rl.FetchEvents(c, kindFilter(1), nil)
	if err == nil {
		t.Fatal("fetch on an auth-walled relay succeeded")
	}
	if !errors.Is(err, ErrRejected) {
		t.Errorf("error %v, want a rejection", err)
	}
	if !strings.Contains(err.Error(), "auth-required:") {
		t.Errorf("error %q does not carry the relay's reason", err)
	}
	if len(evs) != 0 {
		t.Errorf("got %d events, want none", len(evs))
	}
}

func TestUnsubscribeByID(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{})
	rl := mustRelayConnect(t, tr.URL, nil)
	c, cancel := context.Timeout(context.Bg(), 5*time.Second)
	defer cancel()
	sub, err := rl.Subscribe(c, kindFilter(1), &SubscribeOptions{ID: "byid"})
	if chk.E(err) {
		t.Fatalf("Subscribe: %v", err)
	}
	<-sub.EndOfStoredEvents
	if err = rl.Unsubscribe("byid"); chk.E(err) {
		t.Fatalf("Unsubscribe: %v", err)
	}
	select {
	case _, ok := <-sub.Events:
		if ok {
			t.Fatal("got an event after unsubscribe")
		}
	case <-c.Done():
		t.Fatal("events channel still open after unsubscribe")
	}
	if n := subCount(rl); n != 0 {
		t.Fatalf("%d subscriptions left in the table", n)
	}
	if err = rl.Unsubscribe("byid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want not-found for an unknown id", err)
	}
}

func TestUnsubscribeAll(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{})
	rl := mustRelayConnect(t, tr.URL, nil)
	c, cancel := context.Timeout(context.Bg(), 5*time.Second)
	defer cancel()
	first, err := rl.Subscribe(c, kindFilter(1), nil)
	if chk.E(err) {
		t.Fatalf("Subscribe: %v", err)
	}
	second, err := rl.Subscribe(c, kindFilter(7), nil)
	if chk.E(err) {
		t.Fatalf("Subscribe: %v", err)
	}
	select {
	case <-first.EndOfStoredEvents:
	case <-c.Done():
		t.Fatal("no EOSE on the first subscription")
	}
	rl.UnsubscribeAll()
	for _, sub := range []*Subscription{first, second} {
		select {
		case _, open := <-sub.Events:
			if open {
				t.Error("event delivered after UnsubscribeAll")
			}
		case <-c.Done():
			t.Fatal("events channel did not close")
		}
	}
	if n := subCount(rl); n != 0 {
		t.Errorf("registered subscriptions = %d, want 0", n)
	}
}

func TestCount(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{})
	sign := testSigner(t)
	tr.seed(
		signedNote(t, sign, "one", 1000),
		signedNote(t, sign, "two", 2000),
		signedNote(t, sign, "three", 3000),
	)
	rl := mustRelayConnect(t, tr.URL, nil)
	c, cancel := context.Timeout(context.Bg(), 5*time.Second)
	defer cancel()
	n, err := rl.Count(c, kindFilter(1))
	if chk.E(err) {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("count %d, want 3", n)
	}
}

func TestInfo(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{})
	rl := mustRelayConnect(t, tr.URL, nil)
	waitFor(t, 3*time.Second, "information document", func() bool {
		return rl.Info() != nil
	})
	info := rl.Info()
	if info.Name != "testrelay" {
		t.Errorf("info name %q, want %q", info.Name, "testrelay")
	}
	if !info.Supports(relayinfo.NegentropySyncing) {
		t.Error("information document should list reconciliation support")
	}
	if info.Limitation.AuthRequired {
		t.Error("relay does not require auth")
	}
}

func TestReconnect(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{})
	rl := mustRelayConnect(t, tr.URL, &RelayOptions{
		RetryBase: 50 * time.Millisecond,
		RetryMax:  200 * time.Millisecond,
	})
	tr.dropConnections()
	waitFor(t, 5*time.Second, "reconnect", func() bool {
		return rl.IsConnected() && rl.Stats().Successes() >= 2
	})
}

func TestRetryScheduleBounds(t *testing.T) {
	base, mx := 10*time.Second, time.Minute
	bo := newRetryBackoff(base, mx)
	interval := base
	for n := 0; n < 8; n++ {
		d := nextRetry(bo, mx)
		lo := time.Duration(float64(interval) * 0.8)
		hi := time.Duration(float64(interval) * 1.2)
		if hi > mx {
			hi = mx
		}
		if d < lo || d > hi {
			t.Fatalf(
				"attempt %d waited %v, want within [%v, %v]", n, d, lo, hi,
			)
		}
		interval *= 2
		if interval > mx {
			interval = mx
		}
	}
	// a successful connection resets the schedule to the base interval
	bo.Reset()
	if d := nextRetry(bo, mx); d > 20*time.Second {
		t.Fatalf("post-reset wait %v, want at most 20s", d)
	}
}

func TestPublishSurvivesReconnect(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{})
	rl := mustRelayConnect(t, tr.URL, &RelayOptions{
		RetryBase: 50 * time.Millisecond,
		RetryMax:  200 * time.Millisecond,
	})
	tr.dropConnections()
	waitFor(t, 2*time.Second, "drop to be noticed", func() bool {
		return !rl.IsConnected()
	})
	// the frame waits in the queue until the driver redials
	sign := testSigner(t)
	note := signedNote(t, sign, "queued", time.Now().Unix())
	c, cancel := context.Timeout(context.Bg(), 5*time.Second)
	defer cancel()
	if err := rl.Publish(c, note); chk.E(err) {
		t.Fatalf("Publish across a reconnect: %v", err)
	}
	has, err := tr.db.HasEvent(context.Bg(), note.ID)
	if chk.E(err) {
		t.Fatal(err)
	}
	if !has {
		t.Error("event did not arrive after the reconnect")
	}
}

func TestPublishQueuedWhileDisconnected(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{})
	rl := mustRelayConnect(t, tr.URL, nil)
	rl.Disconnect()
	waitFor(t, 2*time.Second, "disconnect", func() bool {
		return !rl.IsConnected()
	})
	sign := testSigner(t)
	note := signedNote(t, sign, "held back", time.Now().Unix())
	c, cancel := context.Timeout(context.Bg(), 5*time.Second)
	defer cancel()
	pubErr := make(chan error, 1)
	go func() { pubErr <- rl.Publish(c, note) }()
	// the publish cannot complete while the relay stays down
	select {
	case err := <-pubErr:
		t.Fatalf("publish finished while disconnected: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
	if err := rl.Connect(c); chk.E(err) {
		t.Fatalf("reconnect: %v", err)
	}
	if err := <-pubErr; chk.E(err) {
		t.Fatalf("queued publish: %v", err)
	}
	has, err := tr.db.HasEvent(context.Bg(), note.ID)
	if chk.E(err) {
		t.Fatal(err)
	}
	if !has {
		t.Error("queued event never reached the relay")
	}
}

func TestSubscribeWakeUp(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{})
	sign := testSigner(t)
	tr.seed(signedNote(t, sign, "stored", 1000))
	rl := mustRelayConnect(t, tr.URL, nil)
	rl.Disconnect()
	waitFor(t, 2*time.Second, "disconnect", func() bool {
		return !rl.IsConnected()
	})
	c, cancel := context.Timeout(context.Bg(), 5*time.Second)
	defer cancel()
	sub, err := rl.Subscribe(c, kindFilter(1), &SubscribeOptions{
		WakeUp:    true,
		AutoClose: &ExitRules{OnEOSE: true},
	})
	if chk.E(err) {
		t.Fatalf("Subscribe: %v", err)
	}
	var got int
	for range sub.Events {
		got++
	}
	if got != 1 {
		t.Errorf("wake-up subscription delivered %d events, want 1", got)
	}
	if !rl.IsConnected() {
		t.Error("relay stayed down despite the wake-up")
	}
}

func TestSubscriptionSurvivesReconnect(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{})
	rl := mustRelayConnect(t, tr.URL, &RelayOptions{
		RetryBase: 50 * time.Millisecond,
		RetryMax:  200 * time.Millisecond,
	})
	c, cancel := context.Timeout(context.Bg(), 10*time.Second)
	defer cancel()
	sub, err := rl.Subscribe(c, kindFilter(1), nil)
	if chk.E(err) {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsub()
	select {
	case <-sub.EndOfStoredEvents:
	case <-c.Done():
		t.Fatal("no EOSE on the first connection")
	}
	tr.dropConnections()
	waitFor(t, 5*time.Second, "reconnect", func() bool {
		return rl.IsConnected() && rl.Stats().Successes() >= 2
	})
	// the REQ re-fired; a live publish must reach the old subscription
	sign := testSigner(t)
	note := signedNote(t, sign, "after reconnect", time.Now().Unix())
	if err = rl.Publish(c, note); chk.E(err) {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case got := <-sub.Events:
		if hex.Enc(got.ID) != hex.Enc(note.ID) {
			t.Errorf("got event %0x, want %0x", got.ID, note.ID)
		}
	case <-c.Done():
		t.Fatal("re-fired subscription saw no live event")
	}
}

func TestRelayReconcile(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{})
	sign := testSigner(t)
	shared := []*event.E{
		signedNote(t, sign, "shared one", 1000),
		signedNote(t, sign, "shared two", 2000),
		signedNote(t, sign, "shared three", 3000),
	}
	remoteOnly := []*event.E{
		signedNote(t, sign, "remote one", 4000),
		signedNote(t, sign, "remote two", 5000),
	}
	localOnly := []*event.E{
		signedNote(t, sign, "local one", 6000),
		signedNote(t, sign, "local two", 7000),
	}
	tr.seed(shared...)
	tr.seed(remoteOnly...)
	local := memory.New()
	for _, ev := range append(append(event.S{}, shared...), localOnly...) {
		if _, err := local.SaveEvent(context.Bg(), ev); chk.E(err) {
			t.Fatal(err)
		}
	}
	rl := mustRelayConnect(t, tr.URL, nil)
	c, cancel := context.Timeout(context.Bg(), 10*time.Second)
	defer cancel()
	have, need, err := rl.Reconcile(c, kindFilter(1), local, nil)
	if chk.E(err) {
		t.Fatalf("Reconcile: %v", err)
	}
	wantHave := map[string]bool{
		hex.Enc(localOnly[0].ID): true,
		hex.Enc(localOnly[1].ID): true,
	}
	wantNeed := map[string]bool{
		hex.Enc(remoteOnly[0].ID): true,
		hex.Enc(remoteOnly[1].ID): true,
	}
	if len(have) != len(wantHave) {
		t.Fatalf("have %d ids, want %d", len(have), len(wantHave))
	}
	for _, id := range have {
		if !wantHave[hex.Enc(id)] {
			t.Errorf("unexpected have id %0x", id)
		}
	}
	if len(need) != len(wantNeed) {
		t.Fatalf("need %d ids, want %d", len(need), len(wantNeed))
	}
	for _, id := range need {
		if !wantNeed[hex.Enc(id)] {
			t.Errorf("unexpected need id %0x", id)
		}
	}
}

func TestRelaySyncBoth(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{})
	sign := testSigner(t)
	shared := signedNote(t, sign, "shared", 1000)
	remoteOnly := signedNote(t, sign, "remote", 2000)
	localOnly := signedNote(t, sign, "local", 3000)
	tr.seed(shared, remoteOnly)
	local := memory.New()
	for _, ev := range []*event.E{shared, localOnly} {
		if _, err := local.SaveEvent(context.Bg(), ev); chk.E(err) {
			t.Fatal(err)
		}
	}
	rl := mustRelayConnect(t, tr.URL, nil)
	c, cancel := context.Timeout(context.Bg(), 10*time.Second)
	defer cancel()
	sum, err := rl.Sync(
		c, kindFilter(1), local, &SyncOptions{Direction: DirectionBoth},
	)
	if chk.E(err) {
		t.Fatalf("Sync: %v", err)
	}
	if sum.ExitReason != "complete" {
		t.Errorf("exit reason %q, want complete", sum.ExitReason)
	}
	if sum.LocalCount != 2 || sum.RemoteCount != 2 {
		t.Errorf(
			"local %d remote %d, want 2 and 2",
			sum.LocalCount, sum.RemoteCount,
		)
	}
	if sum.Received != 1 || sum.Sent != 1 {
		t.Errorf("received %d sent %d, want 1 and 1", sum.Received, sum.Sent)
	}
	if local.Len() != 3 {
		t.Errorf("local store holds %d events, want 3", local.Len())
	}
	if tr.db.Len() != 3 {
		t.Errorf("relay store holds %d events, want 3", tr.db.Len())
	}
	// both sides converged, so a second run moves nothing
	again, err := rl.Sync(
		c, kindFilter(1), local, &SyncOptions{Direction: DirectionBoth},
	)
	if chk.E(err) {
		t.Fatalf("second Sync: %v", err)
	}
	if again.Sent != 0 || again.Received != 0 {
		t.Errorf(
			"second sync sent %d received %d, want 0 and 0",
			again.Sent, again.Received,
		)
	}
}

func TestNotificationsConnectCycle(t *testing.T) {
	tr := newTestRelay(t, testRelayOptions{})
	rl, err := NewRelay(context.Bg(), tr.URL, nil)
	if chk.E(err) {
		t.Fatal(err)
	}
	defer rl.Terminate()
	rcv := rl.Notifications()
	defer rcv.Close()
	c, cancel := context.Timeout(context.Bg(), 5*time.Second)
	defer cancel()
	if err = rl.Connect(c); chk.E(err) {
		t.Fatalf("Connect: %v", err)
	}
	var sawConnecting, sawConnected bool
	for !sawConnected {
		select {
		case n := <-rcv.C:
			switch n.(type) {
			case Connecting:
				sawConnecting = true
			case Connected:
				sawConnected = true
			}
		case <-c.Done():
			t.Fatal("no Connected notification")
		}
	}
	if !sawConnecting {
		t.Error("Connected arrived without a Connecting first")
	}
	rl.Disconnect()
	for {
		select {
		case n := <-rcv.C:
			if d, ok := n.(Disconnected); ok {
				if d.Reason != ReasonLocalClose {
					t.Errorf(
						"disconnect reason %v, want %v",
						d.Reason, ReasonLocalClose,
					)
				}
				return
			}
		case <-c.Done():
			t.Fatal("no Disconnected notification")
		}
	}
}

// newWebsocketServer builds a raw fake relay from a handler function, for
// failure modes the full test relay cannot produce.
func newWebsocketServer(handler func(*websocket.Conn)) *httptest.Server {
	return httptest.NewServer(&websocket.Server{
		Handshake: anyOriginHandshake,
		Handler:   handler,
	})
}

// anyOriginHandshake does not require a valid origin header.
var anyOriginHandshake = func(conf *websocket.Config, r *http.Request) error {
	return nil
}

func discardingHandler(conn *websocket.Conn) {
	io.ReadAll(conn) // discard all input
}
