package protocol

import "errors"

// Error kinds surfaced at the API.
var (
	// ErrMalformed indicates a received packet failed structural decoding.
	ErrMalformed = errors.New("malformed packet")

	// ErrAuthFailure indicates authenticated decryption failed.
	ErrAuthFailure = errors.New("authentication failure")

	// ErrDecompress indicates the decompressor rejected its input.
	ErrDecompress = errors.New("decompression failure")

	// ErrQueueFull indicates an enqueue was rejected because a scheduler
	// queue is at capacity.
	ErrQueueFull = errors.New("scheduler queue full")

	// ErrFlowBroken indicates the ordered-delivery buffer exceeded its cap.
	ErrFlowBroken = errors.New("ordered flow broken")

	// ErrPeerTimeout indicates no inbound packet within the connection timeout.
	ErrPeerTimeout = errors.New("peer timeout")

	// ErrConnectionClosed indicates a send or receive on a connection that
	// is no longer accepting traffic.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrTooManyFragments indicates a payload would split into more
	// fragments than the 7-bit wire field can carry.
	ErrTooManyFragments = errors.New("too many fragments")
)

// EventType classifies asynchronous notifications surfaced to the
// application.
type EventType uint8

const (
	// EventDeliveryFailed: a reliable packet exhausted its retry budget.
	EventDeliveryFailed EventType = iota
	// EventDeadlineMissed: a scheduled packet passed its deadline before release.
	EventDeadlineMissed
	// EventFlowBroken: the ordered buffer overflowed; the connection fails.
	EventFlowBroken
	// EventPeerTimeout: inbound silence exceeded the connection timeout.
	EventPeerTimeout
	// EventConnected: the handshake completed.
	EventConnected
	// EventDisconnected: teardown finished draining.
	EventDisconnected
	// EventConnectionFailed: the handshake timed out or its retries were
	// exhausted, the ordered flow broke, or a fatal codec failure occurred.
	EventConnectionFailed
)

func (t EventType) String() string {
	switch t {
	case EventDeliveryFailed:
		return "delivery-failed"
	case EventDeadlineMissed:
		return "deadline-missed"
	case EventFlowBroken:
		return "flow-broken"
	case EventPeerTimeout:
		return "peer-timeout"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventConnectionFailed:
		return "connection-failed"
	}
	return "unknown"
}

// Event is one asynchronous notification. Seq is meaningful for the
// per-packet event types and zero otherwise.
type Event struct {
	Type EventType
	Seq  uint32
	Err  error
}
