package ws

import (
	"time"

	"go.uber.org/atomic"
)

// Stats tracks one relay's connection history. Counters are written only by
// the relay's own driver; readers get eventually consistent snapshots.
type Stats struct {
	attempts    atomic.Int64
	successes   atomic.Int64
	bytesIn     atomic.Int64
	bytesOut    atomic.Int64
	connectedAt atomic.Time
	latency     atomic.Duration
	lastRTT     atomic.Duration
}

// Attempts returns the number of connection attempts made.
func (s *Stats) Attempts() int64 { return s.attempts.Load() }

// Successes returns the number of attempts that reached Connected.
func (s *Stats) Successes() int64 { return s.successes.Load() }

// BytesIn returns the total bytes received across all connections.
func (s *Stats) BytesIn() int64 { return s.bytesIn.Load() }

// BytesOut returns the total bytes sent across all connections.
func (s *Stats) BytesOut() int64 { return s.bytesOut.Load() }

// ConnectedAt returns when the current or last connection was established,
// the zero time when there has never been one.
func (s *Stats) ConnectedAt() time.Time { return s.connectedAt.Load() }

// Latency returns the smoothed ping round trip, zero before the first pong.
func (s *Stats) Latency() time.Duration { return s.latency.Load() }

// LastRTT returns the most recent ping round trip.
func (s *Stats) LastRTT() time.Duration { return s.lastRTT.Load() }

// SuccessRate is successes over attempts, counting an attempt-free relay
// as zero.
func (s *Stats) SuccessRate() float64 {
	a := s.attempts.Load()
	if a < 1 {
		a = 1
	}
	return float64(s.successes.Load()) / float64(a)
}

func (s *Stats) recordAttempt() { s.attempts.Inc() }

func (s *Stats) recordSuccess() {
	s.successes.Inc()
	s.connectedAt.Store(time.Now())
}

func (s *Stats) recordIn(n int)  { s.bytesIn.Add(int64(n)) }
func (s *Stats) recordOut(n int) { s.bytesOut.Add(int64(n)) }

// recordRTT folds a ping round trip sample into the smoothed latency with
// a 1/4 weight. The first sample seeds the average.
func (s *Stats) recordRTT(d time.Duration) {
	s.lastRTT.Store(d)
	prev := s.latency.Load()
	if prev == 0 {
		s.latency.Store(d)
		return
	}
	s.latency.Store(prev + (d-prev)/4)
}
