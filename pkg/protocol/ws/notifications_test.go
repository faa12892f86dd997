package ws

import "testing"

func TestBusDropsOldestAndReportsLag(t *testing.T) {
	b := newBus(2)
	r := b.subscribe()
	b.publish(Connecting{URL: "a"})
	b.publish(Connected{URL: "a"})
	// a full buffer discards the oldest entry to admit the new one
	b.publish(Message{URL: "a", Raw: []byte("notice")})
	if n := <-r.C; n != (Connected{URL: "a"}) {
		t.Fatalf("first surviving notification is %T %v", n, n)
	}
	if _, ok := (<-r.C).(Message); !ok {
		t.Fatal("second surviving notification is not the message")
	}
	// the loss is reported once there is room again
	b.publish(Authenticated{URL: "a"})
	lag, ok := (<-r.C).(Lag)
	if !ok {
		t.Fatal("no Lag notification before the next delivery")
	}
	if lag.Dropped != 1 {
		t.Errorf("lag reports %d dropped, want 1", lag.Dropped)
	}
	if n := <-r.C; n != (Authenticated{URL: "a"}) {
		t.Errorf("after the lag came %T %v", n, n)
	}
}

func TestBusCloseSendsShutdownLast(t *testing.T) {
	b := newBus(4)
	r := b.subscribe()
	b.publish(Connected{URL: "a"})
	b.close()
	if n := <-r.C; n != (Connected{URL: "a"}) {
		t.Fatalf("first notification is %T %v", n, n)
	}
	if _, ok := (<-r.C).(Shutdown); !ok {
		t.Fatal("Shutdown is not the final notification")
	}
	if _, open := <-r.C; open {
		t.Error("receiver channel still open after close")
	}
	// publishing into a closed bus is a silent no-op
	b.publish(Connected{URL: "b"})
	// a late subscriber gets an already closed channel
	late := b.subscribe()
	if _, open := <-late.C; open {
		t.Error("late subscriber got an open channel")
	}
}

func TestReceiverCloseDetaches(t *testing.T) {
	b := newBus(4)
	r1 := b.subscribe()
	r2 := b.subscribe()
	r1.Close()
	r1.Close()
	b.publish(Connected{URL: "a"})
	if _, open := <-r1.C; open {
		t.Error("closed receiver still receives")
	}
	if n := <-r2.C; n != (Connected{URL: "a"}) {
		t.Errorf("surviving receiver got %T %v", n, n)
	}
}
