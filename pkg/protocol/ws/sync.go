package ws

import (
	"errors"
	"fmt"
	"time"

	"relaypool.dev/pkg/encoders/bytesbuf"
	"relaypool.dev/pkg/encoders/envelopes/negenvelope"
	"relaypool.dev/pkg/encoders/event"
	"relaypool.dev/pkg/encoders/filter"
	"relaypool.dev/pkg/encoders/subscription"
	"relaypool.dev/pkg/encoders/tag"
	"relaypool.dev/pkg/interfaces/store"
	"relaypool.dev/pkg/protocol/negentropy"
	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/context"
	"relaypool.dev/pkg/utils/log"
)

// Direction selects which way events move after a reconciliation has worked
// out the difference.
type Direction int

const (
	// DirectionDown fetches events only the relay holds and saves them
	// locally.
	DirectionDown Direction = iota
	// DirectionUp publishes events only we hold to the relay.
	DirectionUp
	// DirectionBoth does both.
	DirectionBoth
)

func (d Direction) String() string {
	switch d {
	case DirectionDown:
		return "down"
	case DirectionUp:
		return "up"
	case DirectionBoth:
		return "both"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// The sync defaults.
const (
	DefaultRoundBudget     = 64
	DefaultSyncChunk       = 100
	DefaultSyncIdleTimeout = 30 * time.Second
)

// SyncOptions adjusts a reconciliation session. The zero value pulls: it
// reconciles and then fetches what the relay has that the local store
// lacks.
type SyncOptions struct {
	// Direction selects down, up or both.
	Direction Direction
	// FrameSizeLimit caps each reconciliation message. Zero means the
	// negentropy default.
	FrameSizeLimit int
	// RoundBudget caps the number of message round trips before the
	// session is abandoned.
	RoundBudget int
	// ChunkSize is how many ids each follow-up fetch or query takes at
	// once.
	ChunkSize int
	// IdleTimeout bounds the wait for each reconciliation reply.
	IdleTimeout time.Duration
}

func (o *SyncOptions) frameSizeLimit() int {
	if o != nil && o.FrameSizeLimit > 0 {
		return o.FrameSizeLimit
	}
	return negentropy.DefaultFrameSizeLimit
}

func (o *SyncOptions) roundBudget() int {
	if o != nil && o.RoundBudget > 0 {
		return o.RoundBudget
	}
	return DefaultRoundBudget
}

func (o *SyncOptions) chunkSize() int {
	if o != nil && o.ChunkSize > 0 {
		return o.ChunkSize
	}
	return DefaultSyncChunk
}

func (o *SyncOptions) idleTimeout() time.Duration {
	if o != nil && o.IdleTimeout > 0 {
		return o.IdleTimeout
	}
	return DefaultSyncIdleTimeout
}

func (o *SyncOptions) direction() Direction {
	if o != nil {
		return o.Direction
	}
	return DirectionDown
}

// SyncStore is the slice of a store a sync session touches.
type SyncStore interface {
	store.Reconciler
	store.Saver
	store.Querent
}

// SyncSummary reports what a sync session did.
type SyncSummary struct {
	// LocalCount is how many local events matched the filter before the
	// session.
	LocalCount int
	// RemoteCount is the relay's matching event count implied by the
	// reconciliation.
	RemoteCount int
	// Sent is how many events were published to the relay.
	Sent int
	// Received is how many events were fetched and newly saved.
	Received int
	// Duration is the wall time of the whole session.
	Duration time.Duration
	// ExitReason is "complete" or the error that ended the session early.
	ExitReason string
}

// Reconcile runs a negentropy session over the events matching f and
// returns the difference: ids only the local store holds (have) and ids
// only the relay holds (need). No events move.
func (r *Relay) Reconcile(
	c context.T, f *filter.F, db store.Reconciler, opt *SyncOptions,
) (have, need [][]byte, err error) {
	have, need, _, err = r.reconcile(c, f, db, opt)
	return
}

func (r *Relay) reconcile(
	c context.T, f *filter.F, db store.Reconciler, opt *SyncOptions,
) (have, need [][]byte, local int, err error) {
	if !r.opt.capabilities().Has(Read) {
		err = errOf(KindCapabilityDenied, r.URL, "relay is not readable")
		return
	}
	if err = r.usable(); err != nil {
		return
	}
	var items []store.IdTs
	if items, err = db.NegentropyItems(c, f); chk.E(err) {
		return
	}
	local = len(items)
	var vec *negentropy.Vector
	if vec, err = negentropy.NewVectorFromStore(items); chk.E(err) {
		return
	}
	neg := negentropy.New(vec, opt.frameSizeLimit())
	var msg []byte
	if msg, err = neg.Initiate(); chk.E(err) {
		return
	}
	id := fmt.Sprintf("neg:%d", r.serial.Inc())
	var sid *subscription.Id
	if sid, err = subscription.NewId(id); chk.E(err) {
		return
	}
	ch := make(chan negFrame, 4)
	r.negWaiters.Store(id, ch)
	defer r.negWaiters.Delete(id)
	open := negenvelope.NewOpenWith(sid, f, msg).Marshal(bytesbuf.Get())
	if err = r.push(laneNormal, open, nil); err != nil {
		return
	}
	defer func() {
		_ = r.push(laneClose, negenvelope.NewCloseWith(sid).Marshal(bytesbuf.Get()), nil)
	}()
	for round := 0; round < opt.roundBudget(); round++ {
		select {
		case fr := <-ch:
			if fr.err != "" {
				err = errOf(KindProtocol, r.URL, "%s", fr.err)
				return
			}
			var resp []byte
			var h, n [][]byte
			if resp, h, n, err = neg.ReconcileWithIDs(fr.msg); err != nil {
				err = errWrap(KindProtocol, r.URL, err)
				return
			}
			have = append(have, h...)
			need = append(need, n...)
			if resp == nil {
				log.D.F(
					"ws: %s reconciled in %d rounds, have %d need %d",
					r.URL, round+1, len(have), len(need),
				)
				return
			}
			reply := negenvelope.NewMsgWith(sid, resp).Marshal(bytesbuf.Get())
			if err = r.push(laneNormal, reply, nil); err != nil {
				return
			}
		case <-time.After(opt.idleTimeout()):
			err = errOf(KindTimeout, r.URL, "reconciliation stalled")
			return
		case <-c.Done():
			err = errWrap(KindTimeout, r.URL, c.Err())
			return
		case <-r.connDone():
			err = errOf(KindTransport, r.URL, "transport closed")
			return
		}
	}
	err = errOf(KindProtocol, r.URL, "reconciliation round budget spent")
	return
}

// Sync reconciles the events matching f against db and then moves the
// difference in the configured direction. The summary is returned even when
// the session ends early; ExitReason says how it ended.
func (r *Relay) Sync(
	c context.T, f *filter.F, db SyncStore, opt *SyncOptions,
) (sum *SyncSummary, err error) {
	start := time.Now()
	sum = &SyncSummary{ExitReason: "complete"}
	defer func() {
		sum.Duration = time.Since(start)
		if err != nil {
			sum.ExitReason = reasonOf(err)
		}
	}()
	var have, need [][]byte
	var local int
	if have, need, local, err = r.reconcile(c, f, db, opt); err != nil {
		return
	}
	sum.LocalCount = local
	sum.RemoteCount = local - len(have) + len(need)
	dir := opt.direction()
	if dir == DirectionDown || dir == DirectionBoth {
		if sum.Received, err = r.syncDown(
			c, db, need, opt.chunkSize(),
		); err != nil {
			return
		}
	}
	if dir == DirectionUp || dir == DirectionBoth {
		if sum.Sent, err = r.syncUp(
			c, db, have, opt.chunkSize(),
		); err != nil {
			return
		}
	}
	log.D.F(
		"ws: %s sync %s: sent %d received %d in %v",
		r.URL, dir, sum.Sent, sum.Received, time.Since(start),
	)
	return
}

// syncDown fetches the given ids from the relay and saves what verifies.
func (r *Relay) syncDown(
	c context.T, db store.Saver, need [][]byte, chunk int,
) (received int, err error) {
	for _, ids := range chunkIDs(need, chunk) {
		var evs event.S
		f := &filter.F{Ids: tag.FromBytesSlice(ids...)}
		if evs, err = r.FetchEvents(c, f, nil); err != nil {
			return
		}
		for _, ev := range evs {
			valid, verr := r.sh.verify.Verify(ev)
			if chk.E(verr) || !valid {
				continue
			}
			status, serr := db.SaveEvent(c, ev)
			if chk.E(serr) {
				continue
			}
			if status == store.Saved {
				received++
			}
		}
	}
	return
}

// syncUp publishes the given local ids to the relay. Per-event rejections
// are skipped, everything else ends the run.
func (r *Relay) syncUp(
	c context.T, db store.Querent, have [][]byte, chunk int,
) (sent int, err error) {
	for _, ids := range chunkIDs(have, chunk) {
		var evs event.S
		f := &filter.F{Ids: tag.FromBytesSlice(ids...)}
		if evs, err = db.QueryEvents(c, f); chk.E(err) {
			return
		}
		for _, ev := range evs {
			perr := r.Publish(c, ev)
			if perr == nil {
				sent++
				continue
			}
			var e *Error
			if errors.As(perr, &e) && e.Kind == KindRejected {
				log.T.F(
					"ws: %s refused %0x during sync: %s",
					r.URL, ev.ID, e.Reason,
				)
				continue
			}
			err = perr
			return
		}
	}
	return
}

func chunkIDs(ids [][]byte, size int) (chunks [][][]byte) {
	for len(ids) > size {
		chunks = append(chunks, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return
}
