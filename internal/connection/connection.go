// Package connection implements the per-peer state machine: handshake,
// keep-alive, timeout and teardown, wired to the reliability tracker,
// fragmenter, scheduler, frame codec and network-condition simulator it
// exclusively owns.
package connection

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/YuhIcey/Barren-Engine/internal/codec"
	"github.com/YuhIcey/Barren-Engine/internal/config"
	"github.com/YuhIcey/Barren-Engine/internal/fragment"
	"github.com/YuhIcey/Barren-Engine/internal/netsim"
	"github.com/YuhIcey/Barren-Engine/internal/protocol"
	"github.com/YuhIcey/Barren-Engine/internal/reliability"
	"github.com/YuhIcey/Barren-Engine/internal/schedule"
	"github.com/YuhIcey/Barren-Engine/internal/util"
)

// State is the connection lifecycle state.
type State uint8

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// DrainWindow bounds how long Disconnecting keeps draining the scheduler
// before discarding what remains.
const DrainWindow = 500 * time.Millisecond

// Params configures a new connection.
type Params struct {
	ID       uint64
	Endpoint string
	Config   config.Config

	// Accepting marks the inbound side of a handshake: it waits for the
	// peer's hello instead of sending one.
	Accepting bool

	// Write delivers one encoded packet to the substrate. It is invoked
	// outside the connection lock and must not be nil.
	Write func([]byte) error

	// OnEvent, when set, receives asynchronous notifications. Invoked
	// outside the connection lock.
	OnEvent func(protocol.Event)

	// Sim, when non-nil, interposes the network-condition simulator on
	// the outbound path, seeded with SimSeed.
	Sim     *netsim.Condition
	SimSeed int64
}

// Connection is one peer-to-peer channel. All mutable engine state is
// guarded by one lock; Write and OnEvent are always invoked outside it.
type Connection struct {
	ID       uint64
	Endpoint string

	cfg config.Config
	cdc *codec.Codec
	key []byte

	write   func([]byte) error
	onEvent func(protocol.Event)

	mu        sync.Mutex
	state     State
	accepting bool
	token     uuid.UUID
	helloSeq  uint32

	seq     *reliability.SeqGen
	mid     *reliability.SeqGen
	tracker *reliability.Tracker
	ordered *reliability.OrderedGate
	useq    *reliability.SequencedGate // UnreliableSequenced
	rseq    *reliability.SequencedGate // ReliableSequenced
	reasm   *fragment.Reassembler
	sched   *schedule.Scheduler
	sim     *netsim.Simulator

	stats *Stats
	inbox [][]byte

	lastOutbound  time.Time
	lastInbound   time.Time
	lastKeepAlive time.Time
	connectStart  time.Time
	drainStart    time.Time

	pendingWrites [][]byte
	pendingEvents []protocol.Event
}

// New builds a connection in the Disconnected state. Configuration errors
// are returned synchronously and prevent the connection from ever entering
// Connecting.
func New(p Params) (*Connection, error) {
	if err := p.Config.Validate(); err != nil {
		return nil, fmt.Errorf("connection config: %w", err)
	}
	if p.Write == nil {
		return nil, fmt.Errorf("connection requires a substrate write")
	}

	c := &Connection{
		ID:       p.ID,
		Endpoint: p.Endpoint,
		cfg:      p.Config,
		cdc:      codec.New(p.Config.Algorithm(), p.Config.Suite()),
		key:      p.Config.Key,
		write:    p.Write,
		onEvent:  p.OnEvent,

		accepting: p.Accepting,
		seq:       reliability.NewSeqGen(),
		mid:       reliability.NewSeqGen(),
		tracker:   reliability.NewTracker(),
		ordered:   reliability.NewOrderedGate(1, p.Config.OrderedBufferCap),
		useq:      reliability.NewSequencedGate(),
		rseq:      reliability.NewSequencedGate(),
		reasm:     fragment.NewReassembler(p.Config.FragmentTimeout()),
		stats:     &Stats{},
	}
	bucket := schedule.NewTokenBucket(p.Config.BandwidthBps, p.Config.MTU)
	c.sched = schedule.NewScheduler(p.Config.QueueCapacity, bucket)
	if p.Sim != nil {
		c.sim = netsim.New(*p.Sim, p.SimSeed)
	}
	return c, nil
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a point-in-time counter snapshot.
func (c *Connection) Stats() Snapshot {
	return c.stats.Snapshot()
}

// RTT returns the smoothed round-trip estimate.
func (c *Connection) RTT() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.RTT()
}

// LossRatio returns lost/(sent+lost) over the last second.
func (c *Connection) LossRatio(now time.Time) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.LossRatio(now)
}

// Simulator exposes the network-condition simulator, nil when not
// configured.
func (c *Connection) Simulator() *netsim.Simulator {
	return c.sim
}

// SetSimCondition swaps the simulated link parameters under the
// connection lock. No-op when no simulator is attached.
func (c *Connection) SetSimCondition(cond netsim.Condition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sim != nil {
		c.sim.SetCondition(cond)
	}
}

// Connect moves Disconnected → Connecting and, on the initiating side,
// schedules the handshake hello.
func (c *Connection) Connect(now time.Time) error {
	c.mu.Lock()
	if c.state != Disconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("connect in state %s", state)
	}
	c.state = Connecting
	c.connectStart = now
	c.lastInbound = now
	c.lastOutbound = now
	if !c.accepting {
		c.token = uuid.New()
		pkt := c.buildPacket(encodeControl(ctlHello, c.token), protocol.Reliable, protocol.PriorityImmediate, 0, now)
		c.helloSeq = pkt.Seq
		if err := c.enqueueLocked(pkt, c.cfg.MaxRetries, c.cfg.ConnectionTimeout(), now); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	c.mu.Unlock()
	c.flush()
	return nil
}

// Send frames, fragments, tracks and enqueues one application payload.
// It never blocks: the payload is queued for the next tick or refused.
func (c *Connection) Send(payload []byte, qos protocol.QoSProfile, now time.Time) error {
	qos = qos.Normalize()
	// Encryption is fixed per connection: the connection setting replaces
	// the per-message flag in either direction. Compression can be forced
	// on for the whole connection or requested per message.
	qos.Encryption = c.cfg.Encryption
	qos.Compression = qos.Compression || c.cfg.Compression

	c.mu.Lock()
	if c.state != Connected && c.state != Connecting {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: state %s", protocol.ErrConnectionClosed, state)
	}

	framed, err := c.cdc.Seal(payload, qos, c.key)
	if err != nil {
		// Sealing can only fail on broken key material or a broken
		// cipher: fatal for the connection.
		c.failLocked(protocol.EventConnectionFailed, err, now)
		c.mu.Unlock()
		c.flush()
		return err
	}

	if len(framed) <= c.cfg.MTU {
		pkt := c.buildPacket(framed, qos.Reliability, qos.Priority, 0, now)
		if err := c.enqueueLocked(pkt, qos.MaxRetries, qos.Timeout, now); err != nil {
			c.mu.Unlock()
			return err
		}
		c.mu.Unlock()
		c.flush()
		return nil
	}

	pieces, err := fragment.Split(framed, c.cfg.FragmentSize)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	msgID := c.mid.Next()
	for _, piece := range pieces {
		pkt := c.buildPacket(piece.Data, qos.Reliability, qos.Priority, msgID, now)
		pkt.IsFragment = true
		pkt.FragIndex = piece.Index
		pkt.FragTotal = piece.Total
		if err := c.enqueueLocked(pkt, qos.MaxRetries, qos.Timeout, now); err != nil {
			c.mu.Unlock()
			c.flush()
			return err
		}
	}
	c.mu.Unlock()
	c.flush()
	return nil
}

// Receive returns the next delivered application payload, or false when
// none is pending. It never blocks.
func (c *Connection) Receive() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inbox) == 0 {
		return nil, false
	}
	msg := c.inbox[0]
	c.inbox = c.inbox[1:]
	return msg, true
}

// DrainInbox pops every delivered payload, for callback fan-out.
func (c *Connection) DrainInbox() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.inbox
	c.inbox = nil
	return msgs
}

// Disconnect begins teardown: new enqueues are refused, the scheduler
// keeps draining for up to DrainWindow, then the state advances to
// Disconnected.
func (c *Connection) Disconnect(now time.Time) {
	c.mu.Lock()
	if c.state != Connected && c.state != Connecting {
		c.mu.Unlock()
		return
	}
	c.state = Disconnecting
	c.drainStart = now
	pkt := c.buildPacket(encodeControl(ctlBye, c.token), protocol.Unreliable, protocol.PriorityImmediate, 0, now)
	if err := c.sched.Enqueue(pkt, now.Add(DrainWindow)); err != nil {
		util.LogDebug("[%016x] bye not queued: %v", c.ID, err)
	}
	c.mu.Unlock()
	c.flush()
}

// Tick advances the engine: connect/keep-alive/teardown timers,
// retransmission sweep, scheduler release through the simulator, fragment
// expiry and bandwidth accounting. It is driven on a deterministic
// cadence by the manager's network loop.
func (c *Connection) Tick(now time.Time) {
	c.mu.Lock()

	switch c.state {
	case Disconnected, Failed:
		c.mu.Unlock()
		return

	case Connecting:
		if now.Sub(c.connectStart) >= c.cfg.ConnectionTimeout() {
			c.failLocked(protocol.EventConnectionFailed, protocol.ErrPeerTimeout, now)
			c.mu.Unlock()
			c.flush()
			return
		}

	case Connected:
		if now.Sub(c.lastInbound) >= c.cfg.ConnectionTimeout() {
			c.failLocked(protocol.EventPeerTimeout, protocol.ErrPeerTimeout, now)
			c.mu.Unlock()
			c.flush()
			return
		}
		interval := c.cfg.KeepAliveInterval()
		if now.Sub(c.lastOutbound) >= interval && now.Sub(c.lastKeepAlive) >= interval {
			c.lastKeepAlive = now
			pkt := c.buildPacket(nil, protocol.Reliable, protocol.PriorityImmediate, 0, now)
			if err := c.enqueueLocked(pkt, c.cfg.MaxRetries, interval, now); err != nil {
				util.LogDebug("[%016x] keep-alive not queued: %v", c.ID, err)
			}
		}

	case Disconnecting:
		if c.sched.Len() == 0 || now.Sub(c.drainStart) >= DrainWindow {
			c.sched.Clear()
			c.finishTeardownLocked(now)
			c.mu.Unlock()
			c.flush()
			return
		}
	}

	// Retransmission sweep.
	resend, failed := c.tracker.Sweep(now)
	for _, seq := range failed {
		c.stats.PacketsLost.Add(1)
		c.emitLocked(protocol.Event{Type: protocol.EventDeliveryFailed, Seq: seq})
		if c.state == Connecting && seq == c.helloSeq {
			c.failLocked(protocol.EventConnectionFailed, protocol.ErrPeerTimeout, now)
			c.mu.Unlock()
			c.flush()
			return
		}
	}
	for _, r := range resend {
		if err := c.sched.Enqueue(r.Pkt, now.Add(r.Timeout)); err != nil {
			// Queue pressure: the packet stays tracked and the next
			// sweep retries.
			util.LogDebug("[%016x] resend of seq %d not queued: %v", c.ID, r.Pkt.Seq, err)
		}
	}

	// Scheduler release, through the simulator when one is attached.
	send, expired := c.sched.Release(now)
	for _, pkt := range expired {
		c.tracker.Drop(pkt.Seq)
		c.emitLocked(protocol.Event{Type: protocol.EventDeadlineMissed, Seq: pkt.Seq})
	}
	for _, pkt := range send {
		raw := protocol.Encode(pkt)
		if c.sim != nil && c.sim.Enabled() {
			c.sim.Offer(raw, now)
		} else {
			c.stageWriteLocked(raw, now)
		}
	}
	if c.sim != nil && c.sim.Enabled() {
		for _, raw := range c.sim.Due(now) {
			c.stageWriteLocked(raw, now)
		}
	}

	c.reasm.Expire(now)
	c.stats.RefreshBandwidth(now)
	c.stats.SetRTT(c.tracker.RTT())

	c.mu.Unlock()
	c.flush()
}

// HandleInbound processes one raw packet from the substrate.
func (c *Connection) HandleInbound(data []byte, now time.Time) {
	c.mu.Lock()
	if c.state == Disconnected || c.state == Failed {
		c.mu.Unlock()
		return
	}
	c.stats.AddRecv(len(data))

	pkt, err := protocol.Decode(data)
	if err != nil {
		c.stats.PacketsCorrupted.Add(1)
		c.mu.Unlock()
		return
	}
	c.lastInbound = now

	// Acks are a distinct path: never sequenced, never observed, never
	// fragmented.
	if pkt.IsAck() {
		seq, err := protocol.DecodeAck(pkt.Payload)
		if err == nil && c.tracker.Ack(seq, now) {
			c.stats.SetRTT(c.tracker.RTT())
		}
		c.mu.Unlock()
		return
	}

	if hi, ok := c.tracker.HighestReceived(); ok && reliability.SeqLess(pkt.Seq, hi) {
		c.stats.PacketsReordered.Add(1)
	}
	duplicate := c.tracker.ObserveInbound(pkt.Seq)

	// Reliable inbound is acked even when duplicate, so a peer whose ack
	// was lost stops retransmitting.
	if pkt.Reliability.IsReliable() {
		c.enqueueAckLocked(pkt.Seq, now)
	}
	if duplicate {
		c.mu.Unlock()
		c.flush()
		return
	}

	if kind, token, ok := decodeControl(pkt.Payload); ok && !pkt.IsFragment {
		c.deliverSkippedLocked(c.ordered.Skip(pkt.Seq), now)
		c.handleControlLocked(kind, token, now)
		c.mu.Unlock()
		c.flush()
		return
	}

	if pkt.IsKeepAlive() {
		c.deliverSkippedLocked(c.ordered.Skip(pkt.Seq), now)
		c.mu.Unlock()
		c.flush()
		return
	}

	switch pkt.Reliability {
	case protocol.ReliableOrdered:
		released, err := c.ordered.Feed(pkt)
		if err != nil {
			c.emitLocked(protocol.Event{Type: protocol.EventFlowBroken, Seq: pkt.Seq, Err: err})
			c.failLocked(protocol.EventConnectionFailed, err, now)
			c.mu.Unlock()
			c.flush()
			return
		}
		for _, p := range released {
			c.deliverLocked(p, now)
		}

	case protocol.UnreliableSequenced:
		if c.useq.Feed(pkt) {
			c.deliverLocked(pkt, now)
		}
		c.deliverSkippedLocked(c.ordered.Skip(pkt.Seq), now)

	case protocol.ReliableSequenced:
		if c.rseq.Feed(pkt) {
			c.deliverLocked(pkt, now)
		}
		c.deliverSkippedLocked(c.ordered.Skip(pkt.Seq), now)

	default: // Unreliable, Reliable
		c.deliverSkippedLocked(c.ordered.Skip(pkt.Seq), now)
		c.deliverLocked(pkt, now)
	}

	c.mu.Unlock()
	c.flush()
}

// ---------------------------------------------------------------------------
// Internals (all _Locked methods require c.mu held)
// ---------------------------------------------------------------------------

func (c *Connection) buildPacket(payload []byte, rel protocol.Reliability, prio protocol.Priority, msgID uint32, now time.Time) *protocol.Packet {
	return &protocol.Packet{
		Seq:         c.seq.Next(),
		Timestamp:   uint32(now.UnixMilli()),
		MessageID:   msgID,
		Reliability: rel,
		Priority:    prio,
		Payload:     payload,
	}
}

func (c *Connection) enqueueLocked(pkt *protocol.Packet, maxRetries int, timeout time.Duration, now time.Time) error {
	if pkt.Reliability.IsReliable() {
		c.tracker.Track(pkt, maxRetries, timeout, now)
	}
	if err := c.sched.Enqueue(pkt, now.Add(timeout)); err != nil {
		c.tracker.Drop(pkt.Seq)
		return err
	}
	return nil
}

// enqueueAckLocked synthesises an acknowledgement: Unreliable, Immediate,
// sequence 0, never retransmitted or fragmented.
func (c *Connection) enqueueAckLocked(seq uint32, now time.Time) {
	ack := &protocol.Packet{
		Timestamp:   uint32(now.UnixMilli()),
		Reliability: protocol.Unreliable,
		Priority:    protocol.PriorityImmediate,
		Payload:     protocol.EncodeAck(seq),
	}
	if err := c.sched.Enqueue(ack, now.Add(protocol.DefaultTimeout)); err != nil {
		util.LogDebug("[%016x] ack for seq %d not queued: %v", c.ID, seq, err)
	}
}

func (c *Connection) handleControlLocked(kind controlKind, token uuid.UUID, now time.Time) {
	switch kind {
	case ctlHello:
		if c.accepting && c.state == Connecting {
			c.token = token
			pkt := c.buildPacket(encodeControl(ctlHelloAck, token), protocol.Reliable, protocol.PriorityImmediate, 0, now)
			if err := c.enqueueLocked(pkt, c.cfg.MaxRetries, c.cfg.ConnectionTimeout(), now); err != nil {
				util.LogDebug("[%016x] hello-ack not queued: %v", c.ID, err)
				return
			}
			c.state = Connected
			c.emitLocked(protocol.Event{Type: protocol.EventConnected})
		}

	case ctlHelloAck:
		if !c.accepting && c.state == Connecting {
			if token != c.token {
				util.LogDebug("[%016x] hello-ack token mismatch", c.ID)
				return
			}
			c.state = Connected
			c.emitLocked(protocol.Event{Type: protocol.EventConnected})
		}

	case ctlBye:
		if c.state == Connected || c.state == Connecting || c.state == Disconnecting {
			c.finishTeardownLocked(now)
		}
	}
}

// deliverLocked runs the inbound tail of the pipeline: reassembly, then
// codec open, then the inbox.
func (c *Connection) deliverLocked(pkt *protocol.Packet, now time.Time) {
	payload := pkt.Payload
	if pkt.IsFragment {
		complete, done := c.reasm.Feed(pkt, now)
		if !done {
			return
		}
		payload = complete
	}

	openQoS := protocol.QoSProfile{Encryption: c.cfg.Encryption}
	msg, err := c.cdc.Open(payload, openQoS, c.key)
	if err != nil {
		// Transient reception failure: counted, no application callback.
		// The sequence is released from the dedupe window so a clean
		// retransmission still gets through.
		c.stats.PacketsCorrupted.Add(1)
		if !pkt.IsFragment {
			c.tracker.Unobserve(pkt.Seq)
		}
		util.LogDebug("[%016x] open failed for seq %d: %v", c.ID, pkt.Seq, err)
		return
	}
	c.inbox = append(c.inbox, msg)
}

func (c *Connection) deliverSkippedLocked(released []*protocol.Packet, now time.Time) {
	for _, p := range released {
		c.deliverLocked(p, now)
	}
}

// failLocked transitions to Failed and drains every owned buffer. Pending
// reliable sends report DeliveryFailed.
func (c *Connection) failLocked(cause protocol.EventType, err error, now time.Time) {
	if c.state == Failed || c.state == Disconnected {
		return
	}
	c.state = Failed
	c.emitLocked(protocol.Event{Type: cause, Err: err})
	for _, seq := range c.tracker.FailAll(now) {
		c.stats.PacketsLost.Add(1)
		c.emitLocked(protocol.Event{Type: protocol.EventDeliveryFailed, Seq: seq})
	}
	c.sched.Clear()
	c.reasm.Clear()
}

// finishTeardownLocked completes a graceful close.
func (c *Connection) finishTeardownLocked(now time.Time) {
	if c.state == Disconnected || c.state == Failed {
		return
	}
	c.state = Disconnected
	for _, seq := range c.tracker.FailAll(now) {
		c.stats.PacketsLost.Add(1)
		c.emitLocked(protocol.Event{Type: protocol.EventDeliveryFailed, Seq: seq})
	}
	c.sched.Clear()
	c.reasm.Clear()
	c.emitLocked(protocol.Event{Type: protocol.EventDisconnected})
}

func (c *Connection) emitLocked(ev protocol.Event) {
	c.pendingEvents = append(c.pendingEvents, ev)
}

func (c *Connection) stageWriteLocked(data []byte, now time.Time) {
	c.pendingWrites = append(c.pendingWrites, data)
	c.stats.AddSent(len(data), now)
	c.lastOutbound = now
}

// flush performs staged substrate writes and event callbacks outside the
// lock. No public operation holds the lock across blocking I/O.
func (c *Connection) flush() {
	c.mu.Lock()
	writes := c.pendingWrites
	events := c.pendingEvents
	c.pendingWrites = nil
	c.pendingEvents = nil
	c.mu.Unlock()

	for _, data := range writes {
		if err := c.write(data); err != nil {
			util.LogDebug("[%016x] substrate write failed: %v", c.ID, err)
		}
	}
	if c.onEvent != nil {
		for _, ev := range events {
			c.onEvent(ev)
		}
	}
}
