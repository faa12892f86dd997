package ws

import (
	"sync"

	"relaypool.dev/pkg/encoders/event"
)

// Notification is the union of things a pool reports on its broadcast bus.
// The concrete types below are the only implementations.
type Notification interface{ notification() }

// Connecting says a dial has started.
type Connecting struct{ URL string }

// Connected says the handshake completed.
type Connected struct{ URL string }

// Disconnected says the connection ended and how.
type Disconnected struct {
	URL    string
	Reason DisconnectReason
}

// Authenticated says the relay accepted the auth event.
type Authenticated struct{ URL string }

// Event carries an event received on a subscription.
type Event struct {
	URL string
	Sub string
	Ev  *event.E
}

// Message carries a relay frame with no dedicated variant, NOTICE in
// particular. Raw is the payload text.
type Message struct {
	URL string
	Raw []byte
}

// Shutdown says the pool is closing; it is the last notification sent.
type Shutdown struct{}

// Lag says a slow receiver had Dropped old notifications discarded to make
// room for new ones.
type Lag struct{ Dropped int64 }

func (Connecting) notification()    {}
func (Connected) notification()     {}
func (Disconnected) notification()  {}
func (Authenticated) notification() {}
func (Event) notification()         {}
func (Message) notification()       {}
func (Shutdown) notification()      {}
func (Lag) notification()           {}

// DefaultNotificationBuffer is each receiver's channel capacity.
const DefaultNotificationBuffer = 4096

// bus is a broadcast channel over Notification values. Senders never block:
// when a receiver's buffer is full the oldest entries are discarded and the
// loss is surfaced to that receiver as a Lag notification.
type bus struct {
	mx        sync.Mutex
	capacity  int
	next      int64
	receivers map[int64]*Receiver
	closed    bool
}

// Receiver is one attachment to the bus. Read from C; Close detaches.
type Receiver struct {
	C       <-chan Notification
	ch      chan Notification
	id      int64
	bus     *bus
	dropped int64
}

func newBus(capacity int) *bus {
	if capacity <= 0 {
		capacity = DefaultNotificationBuffer
	}
	return &bus{capacity: capacity, receivers: make(map[int64]*Receiver)}
}

func (b *bus) subscribe() (r *Receiver) {
	b.mx.Lock()
	defer b.mx.Unlock()
	ch := make(chan Notification, b.capacity)
	b.next++
	r = &Receiver{C: ch, ch: ch, id: b.next, bus: b}
	if b.closed {
		close(ch)
		return
	}
	b.receivers[r.id] = r
	return
}

// Close detaches the receiver from the bus and closes its channel.
func (r *Receiver) Close() {
	r.bus.mx.Lock()
	defer r.bus.mx.Unlock()
	if _, ok := r.bus.receivers[r.id]; !ok {
		return
	}
	delete(r.bus.receivers, r.id)
	close(r.ch)
}

// publish delivers n to every receiver, dropping each receiver's oldest
// entries when its buffer is full. Accumulated drops are reported with a
// Lag notification as soon as the receiver has room for it.
func (b *bus) publish(n Notification) {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.closed {
		return
	}
	for _, r := range b.receivers {
		if r.dropped > 0 && len(r.ch) < cap(r.ch) {
			r.ch <- Lag{Dropped: r.dropped}
			r.dropped = 0
		}
		for {
			select {
			case r.ch <- n:
			default:
				select {
				case <-r.ch:
					r.dropped++
				default:
				}
				continue
			}
			break
		}
	}
}

// close sends the final Shutdown notification and closes every receiver.
func (b *bus) close() {
	b.publish(Shutdown{})
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, r := range b.receivers {
		close(r.ch)
		delete(b.receivers, id)
	}
}
