package schedule_test

import (
	"testing"
	"time"

	"github.com/YuhIcey/Barren-Engine/internal/protocol"
	"github.com/YuhIcey/Barren-Engine/internal/schedule"
)

func pkt(seq uint32, prio protocol.Priority, size int) *protocol.Packet {
	return &protocol.Packet{
		Seq:      seq,
		Priority: prio,
		Payload:  make([]byte, size),
	}
}

func unlimited() *schedule.TokenBucket {
	return schedule.NewTokenBucket(0, 1200)
}

// TestPriorityOrder verifies higher classes always release before lower
// ones, FIFO within a class.
func TestPriorityOrder(t *testing.T) {
	s := schedule.NewScheduler(0, unlimited())
	now := time.Now()
	deadline := now.Add(time.Minute)

	enqueue := func(seq uint32, prio protocol.Priority) {
		t.Helper()
		if err := s.Enqueue(pkt(seq, prio, 10), deadline); err != nil {
			t.Fatalf("Enqueue(%d): %v", seq, err)
		}
	}

	enqueue(1, protocol.PriorityLowest)
	enqueue(2, protocol.PriorityMedium)
	enqueue(3, protocol.PriorityImmediate)
	enqueue(4, protocol.PriorityMedium)
	enqueue(5, protocol.PriorityHigh)

	send, expired := s.Release(now)
	if len(expired) != 0 {
		t.Fatalf("unexpected expiries: %d", len(expired))
	}
	want := []uint32{3, 5, 2, 4, 1}
	if len(send) != len(want) {
		t.Fatalf("released %d packets, want %d", len(send), len(want))
	}
	for i, p := range send {
		if p.Seq != want[i] {
			t.Errorf("release[%d].Seq = %d, want %d", i, p.Seq, want[i])
		}
	}
	if s.Len() != 0 {
		t.Errorf("scheduler still holds %d packets", s.Len())
	}
}

// TestDeadlineDropsAtRelease verifies expired packets are dropped at the
// moment they would be released, without reordering the rest.
func TestDeadlineDropsAtRelease(t *testing.T) {
	s := schedule.NewScheduler(0, unlimited())
	now := time.Now()

	s.Enqueue(pkt(1, protocol.PriorityMedium, 10), now.Add(50*time.Millisecond))
	s.Enqueue(pkt(2, protocol.PriorityMedium, 10), now.Add(time.Minute))

	send, expired := s.Release(now.Add(100 * time.Millisecond))
	if len(expired) != 1 || expired[0].Seq != 1 {
		t.Fatalf("expired = %v, want seq 1", expired)
	}
	if len(send) != 1 || send[0].Seq != 2 {
		t.Fatalf("send = %v, want seq 2", send)
	}
}

// TestQueueFull verifies the per-class capacity bound.
func TestQueueFull(t *testing.T) {
	s := schedule.NewScheduler(2, unlimited())
	deadline := time.Now().Add(time.Minute)

	s.Enqueue(pkt(1, protocol.PriorityLow, 10), deadline)
	s.Enqueue(pkt(2, protocol.PriorityLow, 10), deadline)
	if err := s.Enqueue(pkt(3, protocol.PriorityLow, 10), deadline); err != protocol.ErrQueueFull {
		t.Fatalf("got %v, want ErrQueueFull", err)
	}
	// Other classes are unaffected.
	if err := s.Enqueue(pkt(4, protocol.PriorityHigh, 10), deadline); err != nil {
		t.Fatalf("other class refused: %v", err)
	}
}

// TestTokenBucketPacing verifies the governor denies sends beyond the
// budget and refills with time.
func TestTokenBucketPacing(t *testing.T) {
	// 1000 B/s with a 1200-byte MTU: capacity is 2·MTU = 2400 bytes.
	bucket := schedule.NewTokenBucket(1000, 1200)
	s := schedule.NewScheduler(0, bucket)
	now := time.Now()
	deadline := now.Add(time.Minute)

	// Packets of ~1000 wire bytes each; the full bucket admits two.
	for seq := uint32(1); seq <= 5; seq++ {
		s.Enqueue(pkt(seq, protocol.PriorityMedium, 1000-protocol.HeaderSize), deadline)
	}

	send, _ := s.Release(now)
	if len(send) != 2 {
		t.Fatalf("first release sent %d packets, want 2", len(send))
	}
	if s.Len() != 3 {
		t.Fatalf("queue holds %d packets, want 3", s.Len())
	}

	// No meaningful time has passed: nothing more is admitted.
	send, _ = s.Release(now.Add(10 * time.Millisecond))
	if len(send) != 0 {
		t.Fatalf("starved release sent %d packets", len(send))
	}

	// One second accrues 1000 tokens: exactly one more packet.
	send, _ = s.Release(now.Add(1010 * time.Millisecond))
	if len(send) != 1 {
		t.Fatalf("refilled release sent %d packets, want 1", len(send))
	}
}

// TestImmediatePreemptsUnderBandwidth verifies an Immediate enqueue is the
// very next packet released even with a backlog of Low packets.
func TestImmediatePreemptsUnderBandwidth(t *testing.T) {
	bucket := schedule.NewTokenBucket(1000, 100)
	s := schedule.NewScheduler(0, bucket)
	now := time.Now()
	deadline := now.Add(time.Minute)

	for seq := uint32(1); seq <= 100; seq++ {
		s.Enqueue(pkt(seq, protocol.PriorityLow, 100-protocol.HeaderSize), deadline)
	}

	// Flush a few seconds' worth of Lows.
	var flushed int
	for i := 1; flushed < 50; i++ {
		send, _ := s.Release(now.Add(time.Duration(i) * 100 * time.Millisecond))
		flushed += len(send)
		if i > 200 {
			t.Fatal("low queue never flushed")
		}
	}

	s.Enqueue(pkt(9999, protocol.PriorityImmediate, 100-protocol.HeaderSize), deadline)

	var next *protocol.Packet
	for i := 60; next == nil; i++ {
		send, _ := s.Release(now.Add(time.Duration(i) * 100 * time.Millisecond))
		if len(send) > 0 {
			next = send[0]
		}
		if i > 400 {
			t.Fatal("nothing released after the Immediate enqueue")
		}
	}
	if next.Seq != 9999 {
		t.Fatalf("next released packet is seq %d, want the Immediate one", next.Seq)
	}
}

// TestBandwidthBound verifies total bytes released over one second stay
// within rate + one MTU.
func TestBandwidthBound(t *testing.T) {
	const rate = 5000
	const mtu = 500
	bucket := schedule.NewTokenBucket(rate, mtu)
	s := schedule.NewScheduler(0, bucket)
	start := time.Now()
	deadline := start.Add(time.Minute)

	for seq := uint32(1); seq <= 200; seq++ {
		s.Enqueue(pkt(seq, protocol.PriorityMedium, mtu-protocol.HeaderSize), deadline)
	}

	// Drain the initial burst allowance, then measure a clean window.
	s.Release(start)
	var released int
	for step := 1; step <= 100; step++ {
		now := start.Add(time.Duration(step) * 10 * time.Millisecond)
		send, _ := s.Release(now)
		for _, p := range send {
			released += p.WireSize()
		}
	}
	if released > rate+mtu {
		t.Fatalf("released %d bytes in 1s, budget %d", released, rate+mtu)
	}
}
