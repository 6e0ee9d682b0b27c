package reliability

import (
	"container/heap"

	"github.com/YuhIcey/Barren-Engine/internal/protocol"
)

// DefaultOrderedCap is the default capacity of the ordered gap buffer.
// Exceeding it breaks the flow and fails the connection.
const DefaultOrderedCap = 1024

// SequencedGate implements the drop-if-older policy shared by
// UnreliableSequenced and ReliableSequenced: a packet is delivered only if
// newer than the last delivered. Like the ordered gate it is owned and
// serialized by the connection.
type SequencedGate struct {
	lastDelivered uint32
	any           bool
}

// NewSequencedGate creates a gate that accepts any first sequence.
func NewSequencedGate() *SequencedGate {
	return &SequencedGate{}
}

// Feed returns true when the packet should be delivered and records it as
// the newest; stale packets return false.
func (g *SequencedGate) Feed(pkt *protocol.Packet) bool {
	if g.any && SeqDiff(pkt.Seq, g.lastDelivered) <= 0 {
		return false
	}
	g.any = true
	g.lastDelivered = pkt.Seq
	return true
}

// OrderedGate implements strict in-sequence delivery for ReliableOrdered:
// packets beyond the next expected sequence are buffered in a min-heap and
// released once the gap closes. The buffer is capacity-capped; overflow
// reports a broken flow.
//
// Because every packet on a connection draws from the same sequence
// counter, inbound traffic of other modes occupies sequences the ordered
// stream must not wait for. The connection reports those via Skip, which
// treats the sequence as filled.
type OrderedGate struct {
	expected uint32
	buffer   packetHeap
	skips    map[uint32]struct{}
	cap      int
}

// NewOrderedGate creates a gate expecting sequence numbers starting at
// first, with the given gap-buffer capacity (DefaultOrderedCap if zero).
func NewOrderedGate(first uint32, capacity int) *OrderedGate {
	if capacity <= 0 {
		capacity = DefaultOrderedCap
	}
	return &OrderedGate{
		expected: first,
		skips:    make(map[uint32]struct{}),
		cap:      capacity,
	}
}

// Feed processes an inbound ordered packet and returns all packets that
// can now be delivered in sequence order, nil if none are ready. It
// returns ErrFlowBroken when the gap buffer would exceed its capacity.
func (g *OrderedGate) Feed(pkt *protocol.Packet) ([]*protocol.Packet, error) {
	d := SeqDiff(pkt.Seq, g.expected)
	if d < 0 {
		// Older than the release point — already delivered.
		return nil, nil
	}

	if d > 0 {
		// Future packet — buffer it.
		if g.buffer.Len() >= g.cap {
			return nil, protocol.ErrFlowBroken
		}
		heap.Push(&g.buffer, pkt)
		return g.drain(nil), nil
	}

	// pkt.Seq == expected — deliver it and drain the closed gap.
	g.expected++
	return g.drain([]*protocol.Packet{pkt}), nil
}

// Skip marks a sequence consumed by a non-ordered packet as filled so the
// ordered stream does not wait for it.
func (g *OrderedGate) Skip(seq uint32) []*protocol.Packet {
	d := SeqDiff(seq, g.expected)
	if d < 0 {
		return nil
	}
	if d == 0 {
		g.expected++
		return g.drain(nil)
	}
	g.skips[seq] = struct{}{}
	return nil
}

// drain releases every contiguous buffered or skipped sequence starting at
// expected, appending released packets to result.
func (g *OrderedGate) drain(result []*protocol.Packet) []*protocol.Packet {
	for {
		if _, ok := g.skips[g.expected]; ok {
			delete(g.skips, g.expected)
			g.expected++
			continue
		}
		if g.buffer.Len() == 0 {
			return result
		}
		d := SeqDiff(g.buffer[0].Seq, g.expected)
		if d > 0 {
			return result
		}
		next := heap.Pop(&g.buffer).(*protocol.Packet)
		if d < 0 {
			// Buffered duplicate of something already released.
			continue
		}
		result = append(result, next)
		g.expected++
	}
}

// Buffered returns the number of packets waiting for a gap to close.
func (g *OrderedGate) Buffered() int {
	return g.buffer.Len()
}

// ---------------------------------------------------------------------------
// packetHeap implements a min-heap sorted by wrap-aware sequence order.
// ---------------------------------------------------------------------------

type packetHeap []*protocol.Packet

func (h packetHeap) Len() int            { return len(h) }
func (h packetHeap) Less(i, j int) bool  { return SeqLess(h[i].Seq, h[j].Seq) }
func (h packetHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *packetHeap) Push(x interface{}) { *h = append(*h, x.(*protocol.Packet)) }

func (h *packetHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	*h = old[:n-1]
	return item
}
