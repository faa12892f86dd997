package ws

import (
	"testing"
	"time"

	"relaypool.dev/pkg/encoders/event"
)

type countingVerifier struct {
	calls int
	allow bool
}

func (cv *countingVerifier) Verify(ev *event.E) (bool, error) {
	cv.calls++
	return cv.allow, nil
}

func TestVerifyCacheCollapsesRepeats(t *testing.T) {
	cv := &countingVerifier{allow: true}
	vc := newVerifyCache(cv, 8)
	ev := &event.E{ID: []byte("00000000000000000000000000000001")}
	for i := 0; i < 3; i++ {
		ok, err := vc.Verify(ev)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatal("verifier said yes, cache said no")
		}
	}
	if cv.calls != 1 {
		t.Errorf("verifier ran %d times, want once", cv.calls)
	}
	other := &event.E{ID: []byte("00000000000000000000000000000002")}
	if _, err := vc.Verify(other); err != nil {
		t.Fatal(err)
	}
	if cv.calls != 2 {
		t.Errorf("verifier ran %d times for two ids, want twice", cv.calls)
	}
}

func TestVerifyCacheKeepsRefusals(t *testing.T) {
	cv := &countingVerifier{allow: false}
	vc := newVerifyCache(cv, 8)
	ev := &event.E{ID: []byte("00000000000000000000000000000003")}
	for i := 0; i < 2; i++ {
		ok, err := vc.Verify(ev)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Fatal("refusal not preserved")
		}
	}
	if cv.calls != 1 {
		t.Errorf("refusal re-verified %d times, want cached", cv.calls)
	}
}

func TestVerifyCacheDefaultVerifier(t *testing.T) {
	vc := newVerifyCache(nil, 0)
	sign := testSigner(t)
	good := signedNote(t, sign, "intact", time.Now().Unix())
	ok, err := vc.Verify(good)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("a properly signed event failed verification")
	}
	bad := signedNote(t, sign, "tampered", time.Now().Unix())
	bad.Content = []byte("rewritten after signing")
	ok, err = vc.Verify(bad)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("a tampered event passed verification")
	}
}
