// Package netsim provides the deterministic network-condition simulator
// used in tests and development builds. It injects loss, corruption,
// latency and jitter, reordering, and bandwidth caps between the scheduler
// and the substrate. Simulator latency shifts a packet's effective send
// instant; it never rewrites wire timestamps.
package netsim

import (
	"math/rand"
	"time"
)

// Condition describes the simulated link.
type Condition struct {
	Loss       float64       // drop probability, 0.0–1.0
	Corruption float64       // single-byte corruption probability, 0.0–1.0
	Latency    time.Duration // base added latency
	Jitter     time.Duration // uniform(−jitter, +jitter) on top of latency
	Reorder    float64       // pairwise tail-swap probability, 0.0–1.0
	Bandwidth  int64         // bytes/sec cap; 0 = uncapped
	Enabled    bool
}

// Stats counts what each simulation step did.
type Stats struct {
	Offered   uint64
	Dropped   uint64
	Corrupted uint64
	Delayed   uint64
	Reordered uint64
	Throttled uint64
}

// timed is one packet waiting for its effective send instant.
type timed struct {
	data []byte
	due  time.Time
}

// Simulator applies a Condition to outbound raw packets. Randomness comes
// from an explicitly seeded PRNG so tests are deterministic. One simulator
// serves one connection and is serialized by it.
type Simulator struct {
	cond     Condition
	rng      *rand.Rand
	queue    []timed
	nextFree time.Time // virtual clock for the bandwidth cap
	stats    Stats
}

// New creates a simulator with the given condition and seed.
func New(cond Condition, seed int64) *Simulator {
	return &Simulator{
		cond: cond,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// Enabled reports whether the simulator intercepts traffic.
func (s *Simulator) Enabled() bool {
	return s.cond.Enabled
}

// SetCondition replaces the simulated link parameters.
func (s *Simulator) SetCondition(cond Condition) {
	s.cond = cond
}

// Stats returns a copy of the step counters.
func (s *Simulator) Stats() Stats {
	return s.stats
}

// Offer runs one outbound packet through the simulation steps in order:
// drop, corruption, latency/jitter, bandwidth cap, then reordering of the
// queue tail. Packets that survive wait in the queue until their effective
// send instant.
func (s *Simulator) Offer(data []byte, now time.Time) {
	s.stats.Offered++

	// (a) random drop
	if s.cond.Loss > 0 && s.rng.Float64() < s.cond.Loss {
		s.stats.Dropped++
		return
	}

	// (b) random single-byte corruption
	if s.cond.Corruption > 0 && s.rng.Float64() < s.cond.Corruption && len(data) > 0 {
		corrupted := make([]byte, len(data))
		copy(corrupted, data)
		corrupted[s.rng.Intn(len(corrupted))] ^= 1 << uint(s.rng.Intn(8))
		data = corrupted
		s.stats.Corrupted++
	}

	// (c) latency = base + uniform(−jitter, +jitter), applied to the
	// effective send instant.
	due := now
	if s.cond.Latency > 0 || s.cond.Jitter > 0 {
		delay := s.cond.Latency
		if j := int64(s.cond.Jitter); j > 0 {
			delay += time.Duration(s.rng.Int63n(2*j+1) - j)
		}
		if delay > 0 {
			due = due.Add(delay)
			s.stats.Delayed++
		}
	}

	// (e) bandwidth cap: delay proportional to overage.
	if s.cond.Bandwidth > 0 {
		if s.nextFree.After(due) {
			due = s.nextFree
			s.stats.Throttled++
		}
		txTime := time.Duration(float64(len(data)) / float64(s.cond.Bandwidth) * float64(time.Second))
		s.nextFree = due.Add(txTime)
	}

	s.queue = append(s.queue, timed{data: data, due: due})

	// (d) pairwise reordering at the tail of the queue.
	if s.cond.Reorder > 0 && len(s.queue) >= 2 && s.rng.Float64() < s.cond.Reorder {
		n := len(s.queue)
		s.queue[n-1], s.queue[n-2] = s.queue[n-2], s.queue[n-1]
		s.queue[n-1].due, s.queue[n-2].due = s.queue[n-2].due, s.queue[n-1].due
		s.stats.Reordered++
	}
}

// Due pops every packet whose effective send instant has arrived, in queue
// order.
func (s *Simulator) Due(now time.Time) [][]byte {
	var out [][]byte
	kept := s.queue[:0]
	for _, t := range s.queue {
		if !t.due.After(now) {
			out = append(out, t.data)
		} else {
			kept = append(kept, t)
		}
	}
	s.queue = kept
	return out
}

// Pending returns the number of packets waiting for their send instant.
func (s *Simulator) Pending() int {
	return len(s.queue)
}
