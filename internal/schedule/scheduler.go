package schedule

import (
	"time"

	"github.com/YuhIcey/Barren-Engine/internal/protocol"
)

// DefaultQueueCapacity bounds each priority queue.
const DefaultQueueCapacity = 1024

// entry is one queued packet with its release deadline.
type entry struct {
	pkt      *protocol.Packet
	deadline time.Time
}

// Scheduler holds one FIFO per priority class and releases packets
// highest-class-first under the bandwidth governor. Deadlines never
// reorder within a class; a packet past its deadline at the moment it
// would be released is dropped instead. Owned and serialized by the
// connection.
type Scheduler struct {
	queues   [protocol.NumPriorities][]entry
	capacity int
	bucket   *TokenBucket
}

// NewScheduler creates a scheduler with the given per-queue capacity
// (DefaultQueueCapacity if zero) and bandwidth governor.
func NewScheduler(capacity int, bucket *TokenBucket) *Scheduler {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Scheduler{capacity: capacity, bucket: bucket}
}

// Enqueue appends a packet to its priority queue with the given deadline.
// It returns ErrQueueFull when the class is at capacity.
func (s *Scheduler) Enqueue(pkt *protocol.Packet, deadline time.Time) error {
	q := &s.queues[pkt.Priority]
	if len(*q) >= s.capacity {
		return protocol.ErrQueueFull
	}
	*q = append(*q, entry{pkt: pkt, deadline: deadline})
	return nil
}

// Release drains the queues in priority order: Immediate fully, then High,
// Medium, Low, Lowest, stopping when all queues are empty or the governor
// denies further sends. Expired packets are returned separately so the
// caller can drop matching unacked entries and surface DeadlineMissed.
func (s *Scheduler) Release(now time.Time) (send, expired []*protocol.Packet) {
	for prio := range s.queues {
		q := s.queues[prio]
		i := 0
		for i < len(q) {
			e := q[i]
			if !e.deadline.IsZero() && now.After(e.deadline) {
				expired = append(expired, e.pkt)
				i++
				continue
			}
			if !s.bucket.Allow(e.pkt.WireSize(), now) {
				// Governor denies further sends this tick.
				s.queues[prio] = append(q[:0:0], q[i:]...)
				return send, expired
			}
			send = append(send, e.pkt)
			i++
		}
		s.queues[prio] = q[:0]
	}
	return send, expired
}

// Len returns the total number of queued packets.
func (s *Scheduler) Len() int {
	n := 0
	for i := range s.queues {
		n += len(s.queues[i])
	}
	return n
}

// Clear empties every queue, returning the discarded packets. Used when
// the drain window closes on teardown.
func (s *Scheduler) Clear() []*protocol.Packet {
	var dropped []*protocol.Packet
	for i := range s.queues {
		for _, e := range s.queues[i] {
			dropped = append(dropped, e.pkt)
		}
		s.queues[i] = nil
	}
	return dropped
}
