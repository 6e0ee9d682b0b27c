package reliability

import (
	"time"

	"github.com/YuhIcey/Barren-Engine/internal/protocol"
)

// Retransmission timing constants.
const (
	// MinResendInterval floors the resend backoff regardless of RTT.
	MinResendInterval = 100 * time.Millisecond

	// rttAlpha is the weight of a new sample in the RTT estimator.
	rttAlpha = 0.125

	// lossWindow is the sliding window over which the loss ratio is computed.
	lossWindow = time.Second

	// bitfieldWidth is the size of the recent-sequence dedupe window.
	bitfieldWidth = 32
)

// pending is one reliable packet awaiting acknowledgement.
type pending struct {
	pkt        *protocol.Packet
	maxRetries int
	retries    int
	lastSend   time.Time
	timeout    time.Duration // scheduling deadline window for resends
}

// Resend pairs a packet due for retransmission with its QoS timeout so
// the caller can compute a fresh scheduling deadline.
type Resend struct {
	Pkt     *protocol.Packet
	Timeout time.Duration
}

// lossSample is one bucketed send/loss observation for the sliding window.
type lossSample struct {
	at   time.Time
	sent int
	lost int
}

// Tracker owns the unacked table, the inbound ack bitfield, and the RTT
// and loss estimators for a single connection. It is not internally
// locked: the owning connection serializes access, matching the
// one-logical-lock model.
type Tracker struct {
	unacked map[uint32]*pending

	highestRecv uint32
	recvBits    uint32
	anyRecv     bool
	highestOpen bool // highest seq observed but its frame failed to open

	rtt    time.Duration
	hasRTT bool

	samples []lossSample
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{unacked: make(map[uint32]*pending)}
}

// Track registers a freshly sent reliable packet in the unacked table.
// Unreliable packets must not be tracked.
func (t *Tracker) Track(pkt *protocol.Packet, maxRetries int, timeout time.Duration, now time.Time) {
	t.unacked[pkt.Seq] = &pending{
		pkt:        pkt,
		maxRetries: maxRetries,
		lastSend:   now,
		timeout:    timeout,
	}
	t.recordSent(now, 1)
}

// Tracked reports whether seq is still awaiting acknowledgement.
func (t *Tracker) Tracked(seq uint32) bool {
	_, ok := t.unacked[seq]
	return ok
}

// PendingCount returns the number of packets awaiting acknowledgement.
func (t *Tracker) PendingCount() int {
	return len(t.unacked)
}

// ObserveInbound updates the ack bitfield for an inbound sequence and
// reports whether it was seen before. Arrivals older than the bitfield
// window are treated as duplicates.
func (t *Tracker) ObserveInbound(seq uint32) (duplicate bool) {
	if !t.anyRecv {
		t.anyRecv = true
		t.highestRecv = seq
		return false
	}

	d := SeqDiff(seq, t.highestRecv)
	switch {
	case d > 0:
		// Newer than anything seen: shift the window forward and record
		// the previous highest in it, unless its frame never opened.
		if d >= bitfieldWidth {
			t.recvBits = 0
		} else {
			t.recvBits <<= uint(d)
			if !t.highestOpen {
				t.recvBits |= 1 << uint(d-1)
			}
		}
		t.highestOpen = false
		t.highestRecv = seq
		return false

	case d == 0:
		if t.highestOpen {
			t.highestOpen = false
			return false
		}
		return true

	default:
		idx := uint(-d) - 1
		if idx >= bitfieldWidth {
			return true
		}
		if t.recvBits&(1<<idx) != 0 {
			return true
		}
		t.recvBits |= 1 << idx
		return false
	}
}

// Unobserve clears the duplicate-tracking mark for seq after its frame
// failed authentication or decoding, so a clean retransmission is not
// dropped as already seen.
func (t *Tracker) Unobserve(seq uint32) {
	if !t.anyRecv {
		return
	}
	d := SeqDiff(seq, t.highestRecv)
	switch {
	case d == 0:
		t.highestOpen = true
	case d < 0:
		if idx := uint(-d) - 1; idx < bitfieldWidth {
			t.recvBits &^= 1 << idx
		}
	}
}

// HighestReceived returns the newest inbound sequence observed.
func (t *Tracker) HighestReceived() (uint32, bool) {
	return t.highestRecv, t.anyRecv
}

// Ack removes seq from the unacked table and feeds the RTT estimator with
// now − lastSend. It reports whether the sequence was being tracked.
func (t *Tracker) Ack(seq uint32, now time.Time) bool {
	p, ok := t.unacked[seq]
	if !ok {
		return false
	}
	delete(t.unacked, seq)

	if sample := now.Sub(p.lastSend); sample >= 0 {
		t.addRTTSample(sample)
	}
	return true
}

// Drop removes seq from the unacked table without an RTT sample. Used when
// the scheduler discards a packet past its deadline.
func (t *Tracker) Drop(seq uint32) bool {
	if _, ok := t.unacked[seq]; !ok {
		return false
	}
	delete(t.unacked, seq)
	return true
}

// Sweep visits the unacked table: packets past their resend interval are
// returned for retransmission (with lastSend refreshed and the retry
// counter bumped), and packets whose retry budget is exhausted are removed
// and returned as failures.
func (t *Tracker) Sweep(now time.Time) (resend []Resend, failed []uint32) {
	interval := t.resendInterval()
	for seq, p := range t.unacked {
		if now.Sub(p.lastSend) < interval {
			continue
		}
		if p.retries >= p.maxRetries {
			delete(t.unacked, seq)
			failed = append(failed, seq)
			t.recordLost(now, 1)
			continue
		}
		p.retries++
		p.lastSend = now
		resend = append(resend, Resend{Pkt: p.pkt, Timeout: p.timeout})
	}
	return resend, failed
}

// FailAll empties the unacked table, returning every pending sequence.
// Used on teardown so reliable pending sends report DeliveryFailed.
func (t *Tracker) FailAll(now time.Time) []uint32 {
	if len(t.unacked) == 0 {
		return nil
	}
	seqs := make([]uint32, 0, len(t.unacked))
	for seq := range t.unacked {
		seqs = append(seqs, seq)
	}
	t.recordLost(now, len(seqs))
	t.unacked = make(map[uint32]*pending)
	return seqs
}

// resendInterval is max(100 ms, 2·RTT).
func (t *Tracker) resendInterval() time.Duration {
	if !t.hasRTT {
		return MinResendInterval
	}
	if d := 2 * t.rtt; d > MinResendInterval {
		return d
	}
	return MinResendInterval
}

func (t *Tracker) addRTTSample(sample time.Duration) {
	if !t.hasRTT {
		t.rtt = sample
		t.hasRTT = true
		return
	}
	t.rtt = time.Duration((1-rttAlpha)*float64(t.rtt) + rttAlpha*float64(sample))
}

// RTT returns the smoothed round-trip estimate, zero before any sample.
func (t *Tracker) RTT() time.Duration {
	return t.rtt
}

// LossRatio returns lost / (sent + lost) over the last second.
func (t *Tracker) LossRatio(now time.Time) float64 {
	t.pruneSamples(now)
	var sent, lost int
	for _, s := range t.samples {
		sent += s.sent
		lost += s.lost
	}
	if sent+lost == 0 {
		return 0
	}
	return float64(lost) / float64(sent+lost)
}

func (t *Tracker) recordSent(now time.Time, n int) {
	t.pruneSamples(now)
	t.samples = append(t.samples, lossSample{at: now, sent: n})
}

func (t *Tracker) recordLost(now time.Time, n int) {
	t.pruneSamples(now)
	t.samples = append(t.samples, lossSample{at: now, lost: n})
}

func (t *Tracker) pruneSamples(now time.Time) {
	cutoff := now.Add(-lossWindow)
	i := 0
	for i < len(t.samples) && t.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.samples = append(t.samples[:0], t.samples[i:]...)
	}
}
