package ws

import (
	"sync"
	"time"

	"relaypool.dev/pkg/encoders/bytesbuf"
)

// DefaultQueueCapacity bounds the outgoing queue of one relay.
const DefaultQueueCapacity = 512

// The queue lanes in drain order. Auth responses jump everything so a
// challenged connection can proceed; CLOSE beats ordinary traffic so
// cancelled subscriptions stop producing as soon as possible.
const (
	laneAuth = iota
	laneClose
	laneNormal
	laneCount
)

// outMsg is one queued frame. When answer is non-nil exactly one error (or
// nil) is delivered to it when the frame is written, discarded or failed.
// Frame buffers come from bytesbuf and go back to it on final disposition.
type outMsg struct {
	data     []byte
	deadline time.Time
	answer   chan error
}

func (m *outMsg) done(err error) {
	if m.answer != nil {
		m.answer <- err
	}
	if m.data != nil {
		bytesbuf.Put(m.data)
		m.data = nil
	}
}

// queue is the bounded, prioritized outgoing queue. The capacity applies to
// the normal lane; auth and close frames are few and never refused.
type queue struct {
	mx       sync.Mutex
	lanes    [laneCount][]*outMsg
	capacity int
	closed   bool
	wake     chan struct{}
}

func newQueue(capacity int) *queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &queue{capacity: capacity, wake: make(chan struct{}, 1)}
}

// push appends m to the lane. A full normal lane refuses with Busy rather
// than blocking; a closed queue refuses with Terminated.
func (q *queue) push(lane int, m *outMsg) (err error) {
	q.mx.Lock()
	if q.closed {
		q.mx.Unlock()
		return &Error{Kind: KindTerminated}
	}
	if lane == laneNormal && len(q.lanes[laneNormal]) >= q.capacity {
		q.mx.Unlock()
		return &Error{Kind: KindBusy, Reason: "outgoing queue full"}
	}
	q.lanes[lane] = append(q.lanes[lane], m)
	q.mx.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return
}

// pop removes and returns the next frame in priority order. Frames whose
// delivery deadline has passed are completed with Timeout and skipped.
func (q *queue) pop() (m *outMsg, ok bool) {
	q.mx.Lock()
	defer q.mx.Unlock()
	now := time.Now()
	for lane := range q.lanes {
		for len(q.lanes[lane]) > 0 {
			m = q.lanes[lane][0]
			q.lanes[lane] = q.lanes[lane][1:]
			if !m.deadline.IsZero() && now.After(m.deadline) {
				m.done(&Error{
					Kind: KindTimeout, Reason: "delivery deadline passed",
				})
				continue
			}
			return m, true
		}
	}
	return nil, false
}

// length is the total queued frame count across lanes.
func (q *queue) length() (n int) {
	q.mx.Lock()
	defer q.mx.Unlock()
	for lane := range q.lanes {
		n += len(q.lanes[lane])
	}
	return
}

// clearAuth discards queued auth frames. Challenges die with the
// connection that issued them, so these are stale after a disconnect.
func (q *queue) clearAuth() {
	q.mx.Lock()
	defer q.mx.Unlock()
	for _, m := range q.lanes[laneAuth] {
		m.done(&Error{Kind: KindWriteClosed, Reason: "connection dropped"})
	}
	q.lanes[laneAuth] = nil
}

// drain fails every queued frame with err and marks the queue closed when
// err is terminal.
func (q *queue) drain(err error, close bool) {
	q.mx.Lock()
	defer q.mx.Unlock()
	for lane := range q.lanes {
		for _, m := range q.lanes[lane] {
			m.done(err)
		}
		q.lanes[lane] = nil
	}
	if close {
		q.closed = true
	}
}
