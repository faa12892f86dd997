package ws

import (
	"testing"
	"time"
)

func TestStatsRTTSmoothing(t *testing.T) {
	s := &Stats{}
	if s.Latency() != 0 {
		t.Fatal("latency not zero before the first sample")
	}
	s.recordRTT(100 * time.Millisecond)
	if s.Latency() != 100*time.Millisecond {
		t.Errorf("first sample seeds %v, want 100ms", s.Latency())
	}
	s.recordRTT(200 * time.Millisecond)
	// each new sample moves the average a quarter of the way
	if want := 125 * time.Millisecond; s.Latency() != want {
		t.Errorf("smoothed latency %v, want %v", s.Latency(), want)
	}
	if s.LastRTT() != 200*time.Millisecond {
		t.Errorf("last rtt %v, want the raw sample", s.LastRTT())
	}
}

func TestStatsSuccessRate(t *testing.T) {
	s := &Stats{}
	if s.SuccessRate() != 0 {
		t.Errorf("rate %v before any attempt, want 0", s.SuccessRate())
	}
	s.recordAttempt()
	s.recordAttempt()
	s.recordSuccess()
	if s.SuccessRate() != 0.5 {
		t.Errorf("rate %v, want 0.5", s.SuccessRate())
	}
	if s.ConnectedAt().IsZero() {
		t.Error("connected-at not set by a success")
	}
}

func TestStatsBytes(t *testing.T) {
	s := &Stats{}
	s.recordIn(10)
	s.recordIn(5)
	s.recordOut(7)
	if s.BytesIn() != 15 || s.BytesOut() != 7 {
		t.Errorf(
			"bytes in %d out %d, want 15 and 7", s.BytesIn(), s.BytesOut(),
		)
	}
}
