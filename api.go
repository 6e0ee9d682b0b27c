// Package barren is the public surface of the Barren Engine reliable
// messaging transport: a per-connection packet engine (sequencing,
// acknowledgement, selective retransmission, fragmentation, priority
// scheduling with bandwidth pacing) layered over pluggable datagram
// substrates, with optional compression and authenticated encryption.
//
// A Manager owns an arena of connections addressed by 64-bit ids and
// drives them from one cooperative network loop:
//
//	cfg := barren.DefaultConfig()
//	mgr, err := barren.NewManager(cfg)
//	...
//	mgr.Start()
//	sub, err := barren.DialUDP("203.0.113.7:7777")
//	id, err := mgr.Connect("203.0.113.7:7777", sub)
//	mgr.Send(id, payload, barren.QoSBalanced)
package barren

import (
	"github.com/YuhIcey/Barren-Engine/internal/config"
	"github.com/YuhIcey/Barren-Engine/internal/connection"
	"github.com/YuhIcey/Barren-Engine/internal/crypto"
	"github.com/YuhIcey/Barren-Engine/internal/engine"
	"github.com/YuhIcey/Barren-Engine/internal/netsim"
	"github.com/YuhIcey/Barren-Engine/internal/protocol"
	"github.com/YuhIcey/Barren-Engine/internal/transport"
)

// Core types.
type (
	Manager         = engine.Manager
	DialOptions     = engine.DialOptions
	MessageCallback = engine.MessageCallback
	EventCallback   = engine.EventCallback

	Config       = config.Config
	QoSProfile   = protocol.QoSProfile
	Priority     = protocol.Priority
	Reliability  = protocol.Reliability
	Event        = protocol.Event
	EventType    = protocol.EventType
	State        = connection.State
	Stats        = connection.Snapshot
	Substrate    = transport.Substrate
	SimCondition = netsim.Condition
	SimStats     = netsim.Stats
)

// NewManager validates cfg and creates a manager; call Start to launch
// the network loop.
func NewManager(cfg Config) (*Manager, error) {
	return engine.NewManager(cfg)
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return config.Default()
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// GenerateKey draws a fresh 32-byte AEAD key for Config.Key.
func GenerateKey() ([]byte, error) {
	return crypto.GenerateKey()
}

// Substrate constructors.
var (
	DialUDP         = transport.DialUDP
	ListenUDP       = transport.ListenUDP
	DialTCP         = transport.DialTCP
	DialWS          = transport.DialWS
	NewLoopbackPair = transport.NewLoopbackPair
)

// Reliability modes.
const (
	Unreliable          = protocol.Unreliable
	UnreliableSequenced = protocol.UnreliableSequenced
	Reliable            = protocol.Reliable
	ReliableSequenced   = protocol.ReliableSequenced
	ReliableOrdered     = protocol.ReliableOrdered
)

// Priorities.
const (
	PriorityImmediate = protocol.PriorityImmediate
	PriorityHigh      = protocol.PriorityHigh
	PriorityMedium    = protocol.PriorityMedium
	PriorityLow       = protocol.PriorityLow
	PriorityLowest    = protocol.PriorityLowest
)

// Connection states.
const (
	StateDisconnected  = connection.Disconnected
	StateConnecting    = connection.Connecting
	StateConnected     = connection.Connected
	StateDisconnecting = connection.Disconnecting
	StateFailed        = connection.Failed
)

// Event types.
const (
	EventDeliveryFailed   = protocol.EventDeliveryFailed
	EventDeadlineMissed   = protocol.EventDeadlineMissed
	EventFlowBroken       = protocol.EventFlowBroken
	EventPeerTimeout      = protocol.EventPeerTimeout
	EventConnected        = protocol.EventConnected
	EventDisconnected     = protocol.EventDisconnected
	EventConnectionFailed = protocol.EventConnectionFailed
)

// QoS presets.
var (
	QoSRealtime   = protocol.QoSRealtime
	QoSLowLatency = protocol.QoSLowLatency
	QoSBalanced   = protocol.QoSBalanced
	QoSThroughput = protocol.QoSThroughput
	QoSReliable   = protocol.QoSReliable
)

// Error kinds.
var (
	ErrMalformed        = protocol.ErrMalformed
	ErrAuthFailure      = protocol.ErrAuthFailure
	ErrQueueFull        = protocol.ErrQueueFull
	ErrFlowBroken       = protocol.ErrFlowBroken
	ErrPeerTimeout      = protocol.ErrPeerTimeout
	ErrConnectionClosed = protocol.ErrConnectionClosed
)
