package reliability_test

import (
	"testing"
	"time"

	"github.com/YuhIcey/Barren-Engine/internal/protocol"
	"github.com/YuhIcey/Barren-Engine/internal/reliability"
)

func pkt(seq uint32, rel protocol.Reliability) *protocol.Packet {
	return &protocol.Packet{Seq: seq, Reliability: rel, Payload: []byte("x")}
}

// TestSeqGen verifies monotonic allocation starting at 1.
func TestSeqGen(t *testing.T) {
	g := reliability.NewSeqGen()
	for want := uint32(1); want <= 100; want++ {
		if got := g.Next(); got != want {
			t.Fatalf("Next() = %d, want %d", got, want)
		}
	}
}

// TestSeqDiffWrap verifies signed-difference comparison across the 2³²
// boundary.
func TestSeqDiffWrap(t *testing.T) {
	testCases := []struct {
		name string
		a, b uint32
		less bool
	}{
		{"plain less", 1, 2, true},
		{"plain greater", 2, 1, false},
		{"equal", 7, 7, false},
		{"wrap: max before zero", 0xFFFFFFFF, 0, true},
		{"wrap: zero after max", 0, 0xFFFFFFFF, false},
		{"wrap: far side", 0xFFFFFF00, 0x00000100, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := reliability.SeqLess(tc.a, tc.b); got != tc.less {
				t.Errorf("SeqLess(%#x, %#x) = %v, want %v", tc.a, tc.b, got, tc.less)
			}
		})
	}
}

// TestTrackerAckRemoves verifies the unacked table contract: an entry
// leaves exactly when acked, and the ack feeds the RTT estimator.
func TestTrackerAckRemoves(t *testing.T) {
	tr := reliability.NewTracker()
	now := time.Now()

	tr.Track(pkt(1, protocol.Reliable), 5, time.Second, now)
	if !tr.Tracked(1) || tr.PendingCount() != 1 {
		t.Fatal("packet not tracked after Track")
	}

	if !tr.Ack(1, now.Add(40*time.Millisecond)) {
		t.Fatal("Ack returned false for tracked seq")
	}
	if tr.Tracked(1) {
		t.Error("packet still tracked after ack")
	}
	if tr.Ack(1, now) {
		t.Error("second ack of same seq reported tracked")
	}
	if got := tr.RTT(); got != 40*time.Millisecond {
		t.Errorf("first RTT sample = %v, want 40ms", got)
	}

	// Second sample moves the estimate by α=0.125.
	tr.Track(pkt(2, protocol.Reliable), 5, time.Second, now)
	tr.Ack(2, now.Add(120*time.Millisecond))
	want := time.Duration(0.875*float64(40*time.Millisecond) + 0.125*float64(120*time.Millisecond))
	if got := tr.RTT(); got != want {
		t.Errorf("smoothed RTT = %v, want %v", got, want)
	}
}

// TestTrackerSweepResendsAndFails verifies resend eligibility at
// max(100ms, 2·RTT) and removal once the retry budget is exhausted.
func TestTrackerSweepResendsAndFails(t *testing.T) {
	tr := reliability.NewTracker()
	now := time.Now()

	tr.Track(pkt(1, protocol.Reliable), 2, time.Second, now)

	if resend, failed := tr.Sweep(now.Add(50 * time.Millisecond)); len(resend) != 0 || len(failed) != 0 {
		t.Fatal("sweep before the resend interval touched the packet")
	}

	resend, failed := tr.Sweep(now.Add(110 * time.Millisecond))
	if len(resend) != 1 || len(failed) != 0 {
		t.Fatalf("first eligible sweep: resend=%d failed=%d", len(resend), len(failed))
	}
	if resend[0].Pkt.Seq != 1 || resend[0].Timeout != time.Second {
		t.Errorf("resend carries wrong packet or timeout: %+v", resend[0])
	}

	// Exhaust the budget: retries 1 and 2 resend, the next sweep fails it.
	tr.Sweep(now.Add(250 * time.Millisecond))
	_, failed = tr.Sweep(now.Add(400 * time.Millisecond))
	if len(failed) != 1 || failed[0] != 1 {
		t.Fatalf("expected seq 1 to fail, got %v", failed)
	}
	if tr.Tracked(1) {
		t.Error("failed packet still tracked")
	}

	if ratio := tr.LossRatio(now.Add(400 * time.Millisecond)); ratio <= 0 {
		t.Errorf("loss ratio = %v after a failure, want > 0", ratio)
	}
}

// TestTrackerObserveDuplicates verifies bitfield dedupe for in-window,
// out-of-window and wrapped arrivals.
func TestTrackerObserveDuplicates(t *testing.T) {
	tr := reliability.NewTracker()

	if tr.ObserveInbound(10) {
		t.Fatal("first arrival reported duplicate")
	}
	if !tr.ObserveInbound(10) {
		t.Fatal("repeat of highest not reported duplicate")
	}
	if tr.ObserveInbound(12) {
		t.Fatal("newer arrival reported duplicate")
	}
	if tr.ObserveInbound(11) {
		t.Fatal("in-window gap fill reported duplicate")
	}
	if !tr.ObserveInbound(11) {
		t.Fatal("repeat of in-window arrival not reported duplicate")
	}
	// Far older than the 32-wide window: treated as duplicate.
	base := uint32(12)
	stale := base - 40 // wraps; 40 behind the highest
	if !tr.ObserveInbound(stale) {
		t.Fatal("out-of-window stale arrival not dropped")
	}

	if hi, ok := tr.HighestReceived(); !ok || hi != 12 {
		t.Errorf("HighestReceived = %d, want 12", hi)
	}
}

// TestTrackerFailAll verifies teardown cancellation empties the table.
func TestTrackerFailAll(t *testing.T) {
	tr := reliability.NewTracker()
	now := time.Now()
	for seq := uint32(1); seq <= 5; seq++ {
		tr.Track(pkt(seq, protocol.Reliable), 5, time.Second, now)
	}
	failed := tr.FailAll(now)
	if len(failed) != 5 {
		t.Fatalf("FailAll returned %d seqs, want 5", len(failed))
	}
	if tr.PendingCount() != 0 {
		t.Error("table not empty after FailAll")
	}
}

// TestSequencedGate verifies drop-if-older semantics.
func TestSequencedGate(t *testing.T) {
	g := reliability.NewSequencedGate()

	if !g.Feed(pkt(5, protocol.ReliableSequenced)) {
		t.Fatal("first packet rejected")
	}
	if g.Feed(pkt(3, protocol.ReliableSequenced)) {
		t.Error("older packet delivered")
	}
	if g.Feed(pkt(5, protocol.ReliableSequenced)) {
		t.Error("equal packet delivered")
	}
	if !g.Feed(pkt(6, protocol.ReliableSequenced)) {
		t.Error("newer packet rejected")
	}
}

// TestOrderedGateReleasesInOrder verifies gap buffering and contiguous
// release, including duplicates inside the gap.
func TestOrderedGateReleasesInOrder(t *testing.T) {
	g := reliability.NewOrderedGate(1, 0)

	feed := func(seq uint32) []*protocol.Packet {
		t.Helper()
		out, err := g.Feed(pkt(seq, protocol.ReliableOrdered))
		if err != nil {
			t.Fatalf("Feed(%d): %v", seq, err)
		}
		return out
	}

	if out := feed(3); len(out) != 0 {
		t.Fatalf("early packet released: %d", len(out))
	}
	if out := feed(2); len(out) != 0 {
		t.Fatalf("still-gapped packet released: %d", len(out))
	}
	feed(3) // duplicate inside the gap

	out := feed(1)
	want := []uint32{1, 2, 3}
	if len(out) != len(want) {
		t.Fatalf("released %d packets, want %d", len(out), len(want))
	}
	for i, p := range out {
		if p.Seq != want[i] {
			t.Errorf("release[%d].Seq = %d, want %d", i, p.Seq, want[i])
		}
	}

	if out := feed(2); len(out) != 0 {
		t.Error("stale packet released after delivery")
	}
}

// TestOrderedGateSkip verifies sequences consumed by non-ordered traffic
// do not stall the ordered stream.
func TestOrderedGateSkip(t *testing.T) {
	g := reliability.NewOrderedGate(1, 0)

	// Seq 1 went to a keep-alive, seq 3 to an unreliable send.
	g.Skip(1)
	out, err := g.Feed(pkt(2, protocol.ReliableOrdered))
	if err != nil || len(out) != 1 || out[0].Seq != 2 {
		t.Fatalf("ordered packet behind a skipped seq not released: %v %v", out, err)
	}

	if out := g.Skip(3); len(out) != 0 {
		t.Fatal("skip released packets with nothing buffered")
	}
	out, _ = g.Feed(pkt(4, protocol.ReliableOrdered))
	if len(out) != 1 || out[0].Seq != 4 {
		t.Fatalf("ordered packet behind a buffered skip not released: %v", out)
	}

	// Out-of-order skip arrives after the ordered packet waiting on it.
	if out, _ := g.Feed(pkt(7, protocol.ReliableOrdered)); len(out) != 0 {
		t.Fatal("gapped packet released early")
	}
	g.Skip(6)
	out = g.Skip(5)
	if len(out) != 1 || out[0].Seq != 7 {
		t.Fatalf("closing skip did not release the buffered packet: %v", out)
	}
}

// TestOrderedGateCapBreaksFlow verifies the capacity cap surfaces
// ErrFlowBroken.
func TestOrderedGateCapBreaksFlow(t *testing.T) {
	g := reliability.NewOrderedGate(1, 4)

	for seq := uint32(2); seq <= 5; seq++ {
		if _, err := g.Feed(pkt(seq, protocol.ReliableOrdered)); err != nil {
			t.Fatalf("Feed(%d) under cap: %v", seq, err)
		}
	}
	if _, err := g.Feed(pkt(6, protocol.ReliableOrdered)); err != protocol.ErrFlowBroken {
		t.Fatalf("got %v, want ErrFlowBroken", err)
	}
}

// TestOrderedGateWrap verifies release across the sequence wrap.
func TestOrderedGateWrap(t *testing.T) {
	g := reliability.NewOrderedGate(0xFFFFFFFF, 0)

	out, err := g.Feed(pkt(0xFFFFFFFF, protocol.ReliableOrdered))
	if err != nil || len(out) != 1 {
		t.Fatalf("pre-wrap packet not released: %v %v", out, err)
	}
	out, err = g.Feed(pkt(0, protocol.ReliableOrdered))
	if err != nil || len(out) != 1 || out[0].Seq != 0 {
		t.Fatalf("wrapped packet not released: %v %v", out, err)
	}
	out, err = g.Feed(pkt(1, protocol.ReliableOrdered))
	if err != nil || len(out) != 1 || out[0].Seq != 1 {
		t.Fatalf("post-wrap packet not released: %v %v", out, err)
	}
}
