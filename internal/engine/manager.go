// Package engine provides the connection manager: an arena of connection
// records addressed by stable 64-bit ids, a cooperative network loop that
// ticks every connection, and the application-facing send/receive surface.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/YuhIcey/Barren-Engine/internal/config"
	"github.com/YuhIcey/Barren-Engine/internal/connection"
	"github.com/YuhIcey/Barren-Engine/internal/netsim"
	"github.com/YuhIcey/Barren-Engine/internal/protocol"
	"github.com/YuhIcey/Barren-Engine/internal/transport"
	"github.com/YuhIcey/Barren-Engine/internal/util"
)

// TickInterval is the cadence of the network loop (1 kHz).
const TickInterval = time.Millisecond

// stopDrainGrace bounds how long Stop waits for teardown drains.
const stopDrainGrace = connection.DrainWindow + 500*time.Millisecond

// MessageCallback receives application payloads as they are delivered.
type MessageCallback func(id uint64, payload []byte)

// EventCallback receives asynchronous connection events.
type EventCallback func(id uint64, ev protocol.Event)

// record is one arena entry: the connection and its substrate dispatcher.
type record struct {
	conn   *connection.Connection
	disp   *transport.Dispatcher
	reaped bool
}

// Manager owns the connection arena and the network loop. Everything
// outside the manager holds connection ids, never connection pointers.
type Manager struct {
	cfg config.Config

	mu    sync.Mutex
	conns map[uint64]*record

	onMessage MessageCallback
	onEvent   EventCallback

	loopOnce sync.Once
	stopOnce sync.Once
	started  bool
	done     chan struct{}
	stopped  chan struct{}
}

// NewManager validates the configuration and creates an empty manager.
// The network loop starts with Start.
func NewManager(cfg config.Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("manager config: %w", err)
	}
	return &Manager{
		cfg:     cfg,
		conns:   make(map[uint64]*record),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}, nil
}

// SetMessageCallback registers the delivery callback. When set, the
// network loop fans delivered payloads into it; otherwise they accumulate
// for Receive.
func (m *Manager) SetMessageCallback(fn MessageCallback) {
	m.mu.Lock()
	m.onMessage = fn
	m.mu.Unlock()
}

// SetEventCallback registers the event callback.
func (m *Manager) SetEventCallback(fn EventCallback) {
	m.mu.Lock()
	m.onEvent = fn
	m.mu.Unlock()
}

// Start launches the network loop.
func (m *Manager) Start() {
	m.loopOnce.Do(func() {
		m.mu.Lock()
		m.started = true
		m.mu.Unlock()
		go m.loop()
	})
}

// Stop transitions every connection to Disconnecting, waits for drains to
// complete (bounded), and halts the network loop.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.DisconnectAll()

		deadline := time.Now().Add(stopDrainGrace)
		for time.Now().Before(deadline) {
			if m.allTerminal() {
				break
			}
			time.Sleep(TickInterval)
		}

		close(m.done)
		m.mu.Lock()
		started := m.started
		m.mu.Unlock()
		if started {
			<-m.stopped
		}

		m.mu.Lock()
		for _, rec := range m.conns {
			rec.disp.Close()
		}
		m.mu.Unlock()
	})
}

func (m *Manager) allTerminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.conns {
		switch rec.conn.State() {
		case connection.Disconnected, connection.Failed:
		default:
			return false
		}
	}
	return true
}

// DialOptions carries per-connection extras.
type DialOptions struct {
	// Sim attaches the network-condition simulator with the given seed.
	Sim     *netsim.Condition
	SimSeed int64
}

// Connect opens an initiating connection over the given substrate and
// returns its id. The handshake proceeds on the network loop.
func (m *Manager) Connect(endpoint string, sub transport.Substrate) (uint64, error) {
	return m.open(endpoint, sub, false, DialOptions{})
}

// ConnectOpts is Connect with simulator options.
func (m *Manager) ConnectOpts(endpoint string, sub transport.Substrate, opts DialOptions) (uint64, error) {
	return m.open(endpoint, sub, false, opts)
}

// Accept registers the receiving side of a handshake over an
// already-established substrate.
func (m *Manager) Accept(endpoint string, sub transport.Substrate) (uint64, error) {
	return m.open(endpoint, sub, true, DialOptions{})
}

// AcceptOpts is Accept with simulator options.
func (m *Manager) AcceptOpts(endpoint string, sub transport.Substrate, opts DialOptions) (uint64, error) {
	return m.open(endpoint, sub, true, opts)
}

func (m *Manager) open(endpoint string, sub transport.Substrate, accepting bool, opts DialOptions) (uint64, error) {
	m.mu.Lock()
	if len(m.conns) >= m.cfg.MaxConnections {
		m.mu.Unlock()
		return 0, fmt.Errorf("connection limit %d reached", m.cfg.MaxConnections)
	}
	id := util.ConnectionID(endpoint)
	for _, taken := m.conns[id]; taken; _, taken = m.conns[id] {
		id++
	}
	m.mu.Unlock()

	conn, err := connection.New(connection.Params{
		ID:        id,
		Endpoint:  endpoint,
		Config:    m.cfg,
		Accepting: accepting,
		Write:     sub.WritePacket,
		OnEvent:   func(ev protocol.Event) { m.emitEvent(id, ev) },
		Sim:       opts.Sim,
		SimSeed:   opts.SimSeed,
	})
	if err != nil {
		sub.Close()
		return 0, err
	}
	disp := transport.NewDispatcher(sub, func(data []byte) {
		conn.HandleInbound(data, time.Now())
	})

	if err := conn.Connect(time.Now()); err != nil {
		disp.Close()
		return 0, err
	}

	m.mu.Lock()
	m.conns[id] = &record{conn: conn, disp: disp}
	m.mu.Unlock()

	util.LogInfo("[%016x] %s %s via %s", id, map[bool]string{false: "connecting to", true: "accepting"}[accepting], endpoint, sub.Kind())
	return id, nil
}

// Send enqueues a payload on one connection. It never blocks.
func (m *Manager) Send(id uint64, payload []byte, qos protocol.QoSProfile) error {
	rec, ok := m.lookup(id)
	if !ok {
		return fmt.Errorf("%w: unknown connection %016x", protocol.ErrConnectionClosed, id)
	}
	return rec.conn.Send(payload, qos, time.Now())
}

// Broadcast sends a payload to every connected peer, returning the first
// error encountered.
func (m *Manager) Broadcast(payload []byte, qos protocol.QoSProfile) error {
	m.mu.Lock()
	recs := make([]*record, 0, len(m.conns))
	for _, rec := range m.conns {
		recs = append(recs, rec)
	}
	m.mu.Unlock()

	var firstErr error
	now := time.Now()
	for _, rec := range recs {
		if rec.conn.State() != connection.Connected {
			continue
		}
		if err := rec.conn.Send(payload, qos, now); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Receive pops the next delivered payload on one connection, returning
// false when none is pending. It never blocks.
func (m *Manager) Receive(id uint64) ([]byte, bool) {
	rec, ok := m.lookup(id)
	if !ok {
		return nil, false
	}
	return rec.conn.Receive()
}

// Disconnect begins graceful teardown of one connection.
func (m *Manager) Disconnect(id uint64) {
	if rec, ok := m.lookup(id); ok {
		rec.conn.Disconnect(time.Now())
	}
}

// DisconnectAll begins teardown of every connection.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	recs := make([]*record, 0, len(m.conns))
	for _, rec := range m.conns {
		recs = append(recs, rec)
	}
	m.mu.Unlock()

	now := time.Now()
	for _, rec := range recs {
		rec.conn.Disconnect(now)
	}
}

// State reports one connection's lifecycle state.
func (m *Manager) State(id uint64) (connection.State, bool) {
	rec, ok := m.lookup(id)
	if !ok {
		return connection.Disconnected, false
	}
	return rec.conn.State(), true
}

// Stats reports one connection's counter snapshot.
func (m *Manager) Stats(id uint64) (connection.Snapshot, bool) {
	rec, ok := m.lookup(id)
	if !ok {
		return connection.Snapshot{}, false
	}
	return rec.conn.Stats(), true
}

// RTT reports one connection's smoothed round-trip estimate.
func (m *Manager) RTT(id uint64) (time.Duration, bool) {
	rec, ok := m.lookup(id)
	if !ok {
		return 0, false
	}
	return rec.conn.RTT(), true
}

// SetSimCondition swaps one connection's simulated link parameters.
func (m *Manager) SetSimCondition(id uint64, cond netsim.Condition) {
	if rec, ok := m.lookup(id); ok {
		rec.conn.SetSimCondition(cond)
	}
}

// Connections lists every arena id.
func (m *Manager) Connections() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint64, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) lookup(id uint64) (*record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.conns[id]
	return rec, ok
}

func (m *Manager) emitEvent(id uint64, ev protocol.Event) {
	m.mu.Lock()
	fn := m.onEvent
	m.mu.Unlock()
	if fn != nil {
		fn(id, ev)
	}
}

// loop is the single network I/O task driving all connections
// cooperatively at the tick cadence.
func (m *Manager) loop() {
	defer close(m.stopped)
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			m.tickAll(now)
		case <-m.done:
			return
		}
	}
}

func (m *Manager) tickAll(now time.Time) {
	m.mu.Lock()
	recs := make([]*record, 0, len(m.conns))
	ids := make([]uint64, 0, len(m.conns))
	fn := m.onMessage
	for id, rec := range m.conns {
		recs = append(recs, rec)
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for i, rec := range recs {
		rec.conn.Tick(now)

		if fn != nil {
			for _, msg := range rec.conn.DrainInbox() {
				fn(ids[i], msg)
			}
		}

		switch rec.conn.State() {
		case connection.Disconnected, connection.Failed:
			m.reap(ids[i])
		}
	}
}

// reap closes the dispatcher of a terminal connection once. The record
// stays in the arena so late state and stats queries still resolve.
func (m *Manager) reap(id uint64) {
	m.mu.Lock()
	rec, ok := m.conns[id]
	if !ok || rec.reaped {
		m.mu.Unlock()
		return
	}
	rec.reaped = true
	m.mu.Unlock()

	rec.disp.Close()
	util.LogDebug("[%016x] reaped (%s)", id, rec.conn.State())
}
