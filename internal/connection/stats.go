package connection

import (
	"sync/atomic"
	"time"
)

// Stats is the per-connection traffic counter set. Counters are relaxed
// atomics: writers never block and readers tolerate slight skew.
type Stats struct {
	BytesSent        atomic.Uint64
	BytesRecv        atomic.Uint64
	PacketsSent      atomic.Uint64
	PacketsRecv      atomic.Uint64
	PacketsLost      atomic.Uint64 // retry budget exhausted
	PacketsCorrupted atomic.Uint64 // structural or auth failure on receive
	PacketsReordered atomic.Uint64 // received with sequence less than prior max

	currentBandwidth atomic.Uint64 // bytes sent in the last 1 s window
	lastRTT          atomic.Int64  // nanoseconds

	window []bwSample // guarded by the owning connection's lock
}

type bwSample struct {
	at    time.Time
	bytes int
}

// AddSent records an outbound packet.
func (s *Stats) AddSent(n int, now time.Time) {
	s.BytesSent.Add(uint64(n))
	s.PacketsSent.Add(1)
	s.window = append(s.window, bwSample{at: now, bytes: n})
}

// AddRecv records an inbound packet.
func (s *Stats) AddRecv(n int) {
	s.BytesRecv.Add(uint64(n))
	s.PacketsRecv.Add(1)
}

// SetRTT publishes the latest smoothed round-trip estimate.
func (s *Stats) SetRTT(rtt time.Duration) {
	s.lastRTT.Store(int64(rtt))
}

// RefreshBandwidth prunes the 1-second window and republishes the current
// bandwidth figure. Called from the connection tick.
func (s *Stats) RefreshBandwidth(now time.Time) {
	cutoff := now.Add(-time.Second)
	i := 0
	for i < len(s.window) && s.window[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.window = append(s.window[:0], s.window[i:]...)
	}
	var total uint64
	for _, w := range s.window {
		total += uint64(w.bytes)
	}
	s.currentBandwidth.Store(total)
}

// Snapshot is a point-in-time copy of the counters for readers.
type Snapshot struct {
	BytesSent        uint64
	BytesRecv        uint64
	PacketsSent      uint64
	PacketsRecv      uint64
	PacketsLost      uint64
	PacketsCorrupted uint64
	PacketsReordered uint64
	CurrentBandwidth uint64        // bytes in the last 1 s window
	RTT              time.Duration // smoothed
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		BytesSent:        s.BytesSent.Load(),
		BytesRecv:        s.BytesRecv.Load(),
		PacketsSent:      s.PacketsSent.Load(),
		PacketsRecv:      s.PacketsRecv.Load(),
		PacketsLost:      s.PacketsLost.Load(),
		PacketsCorrupted: s.PacketsCorrupted.Load(),
		PacketsReordered: s.PacketsReordered.Load(),
		CurrentBandwidth: s.currentBandwidth.Load(),
		RTT:              time.Duration(s.lastRTT.Load()),
	}
}
