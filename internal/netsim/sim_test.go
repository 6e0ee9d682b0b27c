package netsim_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/YuhIcey/Barren-Engine/internal/netsim"
)

// TestDeterministicWithSeed verifies two simulators with the same seed
// make identical decisions.
func TestDeterministicWithSeed(t *testing.T) {
	cond := netsim.Condition{
		Loss:       0.3,
		Corruption: 0.1,
		Latency:    10 * time.Millisecond,
		Jitter:     5 * time.Millisecond,
		Reorder:    0.2,
		Enabled:    true,
	}
	a := netsim.New(cond, 42)
	b := netsim.New(cond, 42)

	now := time.Now()
	for i := 0; i < 200; i++ {
		data := []byte{byte(i), byte(i >> 8), 0xAA, 0xBB}
		a.Offer(data, now)
		b.Offer(data, now)
	}

	deadline := now.Add(time.Second)
	outA := a.Due(deadline)
	outB := b.Due(deadline)

	if a.Stats() != b.Stats() {
		t.Fatalf("stats diverged: %+v vs %+v", a.Stats(), b.Stats())
	}
	if len(outA) != len(outB) {
		t.Fatalf("output counts diverged: %d vs %d", len(outA), len(outB))
	}
	for i := range outA {
		if !bytes.Equal(outA[i], outB[i]) {
			t.Fatalf("packet %d diverged", i)
		}
	}
}

// TestLossRate verifies the drop probability lands near the configured
// value over many packets.
func TestLossRate(t *testing.T) {
	s := netsim.New(netsim.Condition{Loss: 0.3, Enabled: true}, 7)
	now := time.Now()

	const n = 5000
	for i := 0; i < n; i++ {
		s.Offer([]byte{1, 2, 3}, now)
	}
	dropped := float64(s.Stats().Dropped)
	if ratio := dropped / n; ratio < 0.25 || ratio > 0.35 {
		t.Fatalf("drop ratio %.3f outside 0.25..0.35", ratio)
	}
}

// TestLatencyDelaysDelivery verifies packets wait for their effective
// send instant rather than being released immediately.
func TestLatencyDelaysDelivery(t *testing.T) {
	s := netsim.New(netsim.Condition{Latency: 50 * time.Millisecond, Enabled: true}, 1)
	now := time.Now()

	s.Offer([]byte("delayed"), now)
	if out := s.Due(now); len(out) != 0 {
		t.Fatalf("packet released before its latency elapsed: %d", len(out))
	}
	if out := s.Due(now.Add(40 * time.Millisecond)); len(out) != 0 {
		t.Fatalf("packet released early: %d", len(out))
	}
	out := s.Due(now.Add(60 * time.Millisecond))
	if len(out) != 1 || string(out[0]) != "delayed" {
		t.Fatalf("packet not released after its latency: %v", out)
	}
	if s.Pending() != 0 {
		t.Error("queue not drained")
	}
}

// TestCorruptionFlipsOneByte verifies corrupted packets differ from the
// original in exactly one byte.
func TestCorruptionFlipsOneByte(t *testing.T) {
	s := netsim.New(netsim.Condition{Corruption: 1.0, Enabled: true}, 3)
	now := time.Now()
	original := []byte{0x10, 0x20, 0x30, 0x40, 0x50}

	s.Offer(original, now)
	out := s.Due(now)
	if len(out) != 1 {
		t.Fatalf("expected 1 packet, got %d", len(out))
	}
	diff := 0
	for i := range original {
		if out[0][i] != original[i] {
			diff++
		}
	}
	if diff != 1 {
		t.Fatalf("%d bytes differ, want exactly 1", diff)
	}
	if !bytes.Equal(original, []byte{0x10, 0x20, 0x30, 0x40, 0x50}) {
		t.Error("corruption mutated the caller's buffer")
	}
}

// TestReorderSwapsTailPair verifies reordering swaps adjacent queue
// entries.
func TestReorderSwapsTailPair(t *testing.T) {
	s := netsim.New(netsim.Condition{Reorder: 1.0, Enabled: true}, 5)
	now := time.Now()

	s.Offer([]byte{1}, now)
	s.Offer([]byte{2}, now) // always swapped behind the previous packet

	out := s.Due(now)
	if len(out) != 2 {
		t.Fatalf("expected 2 packets, got %d", len(out))
	}
	if out[0][0] != 2 || out[1][0] != 1 {
		t.Fatalf("tail pair not swapped: got %v then %v", out[0], out[1])
	}
	if s.Stats().Reordered == 0 {
		t.Error("reorder not counted")
	}
}

// TestBandwidthCapSpacesPackets verifies the cap delays packets
// proportionally to their size.
func TestBandwidthCapSpacesPackets(t *testing.T) {
	// 1000 B/s: each 500-byte packet occupies 500 ms of line time.
	s := netsim.New(netsim.Condition{Bandwidth: 1000, Enabled: true}, 9)
	now := time.Now()

	s.Offer(make([]byte, 500), now)
	s.Offer(make([]byte, 500), now)
	s.Offer(make([]byte, 500), now)

	if out := s.Due(now); len(out) != 1 {
		t.Fatalf("at t=0: %d packets, want 1", len(out))
	}
	if out := s.Due(now.Add(510 * time.Millisecond)); len(out) != 1 {
		t.Fatalf("at t=510ms: %d packets, want 1", len(out))
	}
	if out := s.Due(now.Add(1010 * time.Millisecond)); len(out) != 1 {
		t.Fatalf("at t=1010ms: %d packets, want 1", len(out))
	}
}
