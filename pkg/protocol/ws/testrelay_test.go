package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/fasthttp/websocket"
	"github.com/go-chi/chi/v5"

	"relaypool.dev/pkg/crypto/p256k"
	"relaypool.dev/pkg/database/memory"
	"relaypool.dev/pkg/encoders/envelopes"
	"relaypool.dev/pkg/encoders/envelopes/authenvelope"
	"relaypool.dev/pkg/encoders/envelopes/closedenvelope"
	"relaypool.dev/pkg/encoders/envelopes/closeenvelope"
	"relaypool.dev/pkg/encoders/envelopes/countenvelope"
	"relaypool.dev/pkg/encoders/envelopes/eoseenvelope"
	"relaypool.dev/pkg/encoders/envelopes/eventenvelope"
	"relaypool.dev/pkg/encoders/envelopes/negenvelope"
	"relaypool.dev/pkg/encoders/envelopes/noticeenvelope"
	"relaypool.dev/pkg/encoders/envelopes/okenvelope"
	"relaypool.dev/pkg/encoders/envelopes/reqenvelope"
	"relaypool.dev/pkg/encoders/event"
	"relaypool.dev/pkg/encoders/filter"
	"relaypool.dev/pkg/encoders/kind"
	"relaypool.dev/pkg/encoders/tag"
	"relaypool.dev/pkg/encoders/tags"
	"relaypool.dev/pkg/encoders/timestamp"
	"relaypool.dev/pkg/interfaces/signer"
	"relaypool.dev/pkg/interfaces/store"
	"relaypool.dev/pkg/protocol/auth"
	"relaypool.dev/pkg/protocol/negentropy"
	"relaypool.dev/pkg/protocol/relayinfo"
	"relaypool.dev/pkg/utils/context"
	"relaypool.dev/pkg/utils/normalize"
)

// testUpgrader upgrades test connections, accepting any origin.
var testUpgrader = websocket.Upgrader{
	ReadBufferSize: 1024, WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// testRelayOptions adjusts the behavior of an in-process relay.
type testRelayOptions struct {
	// AuthRequired makes the relay challenge every connection and refuse
	// REQ and EVENT until the client has authenticated.
	AuthRequired bool

	// LazyChallenge withholds the challenge until the first refused REQ or
	// EVENT, the way relays that only auth on demand behave.
	LazyChallenge bool

	// AcceptEvent, when set, gates incoming events after signature
	// verification. A refusal is sent back as a blocked: rejection.
	AcceptEvent func(ev *event.E) (ok bool, reason string)

	// Info overrides the served information document.
	Info *relayinfo.T
}

// testRelay is an in-process relay for exercising the client end to end:
// an HTTP server whose root either serves the information document or
// upgrades to a websocket speaking EVENT, REQ, CLOSE, AUTH, COUNT and the
// reconciliation frames, backed by a memory store.
type testRelay struct {
	t   *testing.T
	db  *memory.D
	opt testRelayOptions
	srv *httptest.Server

	// URL is the ws:// form of the server address.
	URL string

	mx    sync.Mutex
	conns map[*testConn]struct{}
}

// testConn is the relay side of one websocket.
type testConn struct {
	tr *testRelay
	ws *websocket.Conn

	// wmx serializes writes, the websocket allows one writer at a time.
	wmx sync.Mutex

	mx        sync.Mutex
	challenge []byte
	authed    []byte
	subs      map[string]*filter.F
	negs      map[string]*negentropy.N
}

func newTestRelay(t *testing.T, opt testRelayOptions) *testRelay {
	tr := &testRelay{
		t:     t,
		db:    memory.New(),
		opt:   opt,
		conns: make(map[*testConn]struct{}),
	}
	router := chi.NewRouter()
	router.Get("/", tr.root)
	tr.srv = httptest.NewServer(router)
	tr.URL = "ws" + strings.TrimPrefix(tr.srv.URL, "http")
	t.Cleanup(tr.close)
	return tr
}

func (tr *testRelay) close() {
	tr.dropConnections()
	tr.srv.Close()
}

// dropConnections closes every live websocket from the relay side, the way
// a restarting relay would.
func (tr *testRelay) dropConnections() {
	tr.mx.Lock()
	conns := make([]*testConn, 0, len(tr.conns))
	for tc := range tr.conns {
		conns = append(conns, tc)
	}
	tr.mx.Unlock()
	for _, tc := range conns {
		_ = tc.ws.Close()
	}
}

// seed stores events directly, as if other clients had published them.
func (tr *testRelay) seed(evs ...*event.E) {
	tr.t.Helper()
	for _, ev := range evs {
		if _, err := tr.db.SaveEvent(context.Bg(), ev); err != nil {
			tr.t.Fatalf("seeding event: %v", err)
		}
	}
}

func (tr *testRelay) info() *relayinfo.T {
	if tr.opt.Info != nil {
		return tr.opt.Info
	}
	doc := &relayinfo.T{
		Name:     "testrelay",
		Software: "relaypool.dev",
		Nips: relayinfo.GetList(
			relayinfo.BasicProtocol,
			relayinfo.RelayInformationDocument,
			relayinfo.Authentication,
			relayinfo.CountingResults,
			relayinfo.NegentropySyncing,
		),
	}
	doc.Limitation.AuthRequired = tr.opt.AuthRequired
	return doc
}

func (tr *testRelay) root(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.Header.Get("Accept"), "application/nostr+json") {
		w.Header().Set("Content-Type", "application/nostr+json")
		_ = json.NewEncoder(w).Encode(tr.info())
		return
	}
	conn, err := testUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	tc := &testConn{
		tr:   tr,
		ws:   conn,
		subs: make(map[string]*filter.F),
		negs: make(map[string]*negentropy.N),
	}
	tr.mx.Lock()
	tr.conns[tc] = struct{}{}
	tr.mx.Unlock()
	defer func() {
		tr.mx.Lock()
		delete(tr.conns, tc)
		tr.mx.Unlock()
		_ = conn.Close()
	}()
	conn.SetReadLimit(DefaultMaxMessageSize)
	if tr.opt.AuthRequired && !tr.opt.LazyChallenge {
		tc.sendChallenge()
	}
	for {
		_, msg, rerr := conn.ReadMessage()
		if rerr != nil {
			return
		}
		tc.handle(msg)
	}
}

func (tc *testConn) send(data []byte) {
	tc.wmx.Lock()
	defer tc.wmx.Unlock()
	_ = tc.ws.WriteMessage(websocket.TextMessage, data)
}

func (tc *testConn) pubkey() []byte {
	tc.mx.Lock()
	defer tc.mx.Unlock()
	return tc.authed
}

// sendChallenge issues this connection's challenge, once.
func (tc *testConn) sendChallenge() {
	tc.mx.Lock()
	if tc.challenge != nil {
		tc.mx.Unlock()
		return
	}
	tc.challenge = auth.GenerateChallenge()
	chal := tc.challenge
	tc.mx.Unlock()
	tc.send(authenvelope.NewChallengeWith(chal).Marshal(nil))
}

func (tc *testConn) handle(msg []byte) {
	label, rem, err := envelopes.Identify(msg)
	if err != nil {
		tc.send(noticeenvelope.NewFrom("unreadable frame").Marshal(nil))
		return
	}
	switch label {
	case eventenvelope.L:
		tc.onEvent(rem)
	case reqenvelope.L:
		tc.onReq(rem)
	case closeenvelope.L:
		tc.onClose(rem)
	case authenvelope.L:
		tc.onAuth(rem)
	case countenvelope.L:
		tc.onCount(rem)
	case negenvelope.OpenL:
		tc.onNegOpen(rem)
	case negenvelope.MsgL:
		tc.onNegMsg(rem)
	case negenvelope.CloseL:
		tc.onNegClose(rem)
	default:
		tc.send(noticeenvelope.NewFrom("unhandled: " + label).Marshal(nil))
	}
}

func (tc *testConn) onEvent(rem []byte) {
	env, _, err := eventenvelope.ParseSubmission(rem)
	if err != nil || env.E == nil {
		return
	}
	ev := env.E
	verdict := func(ok bool, reason []byte) {
		tc.send(okenvelope.NewFrom(ev.ID, ok, reason).Marshal(nil))
	}
	if valid, verr := ev.Verify(); verr != nil || !valid {
		verdict(false, normalize.Invalid.F("bad signature"))
		return
	}
	if tc.tr.opt.AuthRequired && tc.pubkey() == nil {
		verdict(false, normalize.AuthRequired.F("publishing requires auth"))
		if tc.tr.opt.LazyChallenge {
			tc.sendChallenge()
		}
		return
	}
	if gate := tc.tr.opt.AcceptEvent; gate != nil {
		if ok, reason := gate(ev); !ok {
			verdict(false, normalize.Blocked.F("%s", reason))
			return
		}
	}
	status, serr := tc.tr.db.SaveEvent(context.Bg(), ev)
	if serr != nil {
		verdict(false, normalize.Error.F("%s", serr.Error()))
		return
	}
	switch status {
	case store.Duplicate:
		verdict(true, normalize.Duplicate.F("already have this event"))
	case store.Older:
		verdict(false, normalize.Blocked.F("a newer version is stored"))
	default:
		verdict(true, nil)
	}
	tc.tr.broadcast(ev)
}

// broadcast delivers a freshly accepted event to every connection's
// matching subscriptions.
func (tr *testRelay) broadcast(ev *event.E) {
	tr.mx.Lock()
	conns := make([]*testConn, 0, len(tr.conns))
	for tc := range tr.conns {
		conns = append(conns, tc)
	}
	tr.mx.Unlock()
	for _, tc := range conns {
		tc.deliver(ev)
	}
}

func (tc *testConn) deliver(ev *event.E) {
	tc.mx.Lock()
	var ids []string
	for id, f := range tc.subs {
		if f == nil || f.Matches(ev) {
			ids = append(ids, id)
		}
	}
	tc.mx.Unlock()
	for _, id := range ids {
		res, err := eventenvelope.NewResultWith(id, ev)
		if err != nil {
			continue
		}
		tc.send(res.Marshal(nil))
	}
}

func (tc *testConn) onReq(rem []byte) {
	env, _, err := reqenvelope.Parse(rem)
	if err != nil || env.Subscription == nil {
		return
	}
	if tc.tr.opt.AuthRequired && tc.pubkey() == nil {
		tc.send(closedenvelope.NewFrom(
			env.Subscription,
			normalize.AuthRequired.F("subscriptions require auth"),
		).Marshal(nil))
		if tc.tr.opt.LazyChallenge {
			tc.sendChallenge()
		}
		return
	}
	id := env.Subscription.String()
	evs, qerr := tc.tr.db.QueryEvents(context.Bg(), env.Filter)
	if qerr == nil {
		for _, ev := range evs {
			res, rerr := eventenvelope.NewResultWith(id, ev)
			if rerr != nil {
				continue
			}
			tc.send(res.Marshal(nil))
		}
	}
	tc.send(eoseenvelope.NewFrom(env.Subscription).Marshal(nil))
	tc.mx.Lock()
	tc.subs[id] = env.Filter
	tc.mx.Unlock()
}

func (tc *testConn) onClose(rem []byte) {
	env, _, err := closeenvelope.Parse(rem)
	if err != nil || env.ID == nil {
		return
	}
	tc.mx.Lock()
	delete(tc.subs, env.ID.String())
	tc.mx.Unlock()
}

func (tc *testConn) onAuth(rem []byte) {
	env, _, err := authenvelope.ParseResponse(rem)
	if err != nil || env.Event == nil {
		return
	}
	ev := env.Event
	tc.mx.Lock()
	chal := tc.challenge
	tc.mx.Unlock()
	ok, verr := auth.Validate(ev, chal, tc.tr.URL)
	if verr != nil || !ok {
		reason := "auth event refused"
		if verr != nil {
			reason = verr.Error()
		}
		tc.send(okenvelope.NewFrom(
			ev.ID, false, normalize.Error.F("%s", reason),
		).Marshal(nil))
		return
	}
	tc.mx.Lock()
	tc.authed = ev.Pubkey
	tc.mx.Unlock()
	tc.send(okenvelope.NewFrom(ev.ID, true, nil).Marshal(nil))
}

func (tc *testConn) onCount(rem []byte) {
	env, _, err := countenvelope.ParseRequest(rem)
	if err != nil || env.Subscription == nil {
		return
	}
	evs, qerr := tc.tr.db.QueryEvents(context.Bg(), env.Filter)
	if qerr != nil {
		return
	}
	tc.send(countenvelope.NewResponseWith(
		env.Subscription, int64(len(evs)), false,
	).Marshal(nil))
}

func (tc *testConn) onNegOpen(rem []byte) {
	env, _, err := negenvelope.ParseOpen(rem)
	if err != nil || env.Subscription == nil {
		return
	}
	items, ierr := tc.tr.db.NegentropyItems(context.Bg(), env.Filter)
	if ierr != nil {
		tc.send(negenvelope.NewErrWith(
			env.Subscription, normalize.Error.F("%s", ierr.Error()),
		).Marshal(nil))
		return
	}
	vec, verr := negentropy.NewVectorFromStore(items)
	if verr != nil {
		tc.send(negenvelope.NewErrWith(
			env.Subscription, normalize.Error.F("%s", verr.Error()),
		).Marshal(nil))
		return
	}
	neg := negentropy.New(vec, negentropy.DefaultFrameSizeLimit)
	resp, rerr := neg.Reconcile(env.Message)
	if rerr != nil {
		tc.send(negenvelope.NewErrWith(
			env.Subscription, normalize.Error.F("%s", rerr.Error()),
		).Marshal(nil))
		return
	}
	tc.mx.Lock()
	tc.negs[env.Subscription.String()] = neg
	tc.mx.Unlock()
	tc.send(negenvelope.NewMsgWith(env.Subscription, resp).Marshal(nil))
}

func (tc *testConn) onNegMsg(rem []byte) {
	env, _, err := negenvelope.ParseMsg(rem)
	if err != nil || env.Subscription == nil {
		return
	}
	tc.mx.Lock()
	neg := tc.negs[env.Subscription.String()]
	tc.mx.Unlock()
	if neg == nil {
		tc.send(negenvelope.NewErrWith(
			env.Subscription, normalize.Error.F("no open session"),
		).Marshal(nil))
		return
	}
	resp, rerr := neg.Reconcile(env.Message)
	if rerr != nil {
		tc.send(negenvelope.NewErrWith(
			env.Subscription, normalize.Error.F("%s", rerr.Error()),
		).Marshal(nil))
		return
	}
	tc.send(negenvelope.NewMsgWith(env.Subscription, resp).Marshal(nil))
}

func (tc *testConn) onNegClose(rem []byte) {
	env, _, err := negenvelope.ParseClose(rem)
	if err != nil || env.Subscription == nil {
		return
	}
	tc.mx.Lock()
	delete(tc.negs, env.Subscription.String())
	tc.mx.Unlock()
}

// testSigner generates a fresh keypair or fails the test.
func testSigner(t *testing.T) *p256k.Signer {
	t.Helper()
	s := &p256k.Signer{}
	if err := s.Generate(); err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return s
}

// signedNote builds a signed kind 1 event with the given content and
// created_at.
func signedNote(
	t *testing.T, sign signer.I, content string, at int64,
) *event.E {
	t.Helper()
	ev := &event.E{
		Pubkey:    sign.Pub(),
		CreatedAt: timestamp.FromUnix(at),
		Kind:      kind.TextNote,
		Tags:      tags.New(),
		Content:   []byte(content),
	}
	if err := ev.Sign(sign); err != nil {
		t.Fatalf("signing event: %v", err)
	}
	return ev
}

// relayListNote builds a signed kind 10002 relay list declaring the given
// urls for both reading and writing.
func relayListNote(
	t *testing.T, sign signer.I, at int64, urls ...string,
) *event.E {
	t.Helper()
	tl := tags.New()
	for _, u := range urls {
		tl.Append(tag.New("r", u))
	}
	ev := &event.E{
		Pubkey:    sign.Pub(),
		CreatedAt: timestamp.FromUnix(at),
		Kind:      kind.RelayListMetadata,
		Tags:      tl,
		Content:   nil,
	}
	if err := ev.Sign(sign); err != nil {
		t.Fatalf("signing relay list: %v", err)
	}
	return ev
}
