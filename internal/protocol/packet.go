// Package protocol defines the wire format and QoS vocabulary of the
// Barren packet engine.
package protocol

// Version is the protocol version carried in every packet header.
const Version uint8 = 1

// HeaderSize is the fixed header size:
// Ver(1) + Seq(4) + Timestamp(4) + MessageID(4) + FragIndex(2) + FragTotal/Flag(1) + Rel/Prio(1).
const HeaderSize = 17

// AckPayloadSize identifies an acknowledgement: a packet whose payload is
// exactly 4 bytes carries the big-endian sequence being acknowledged.
const AckPayloadSize = 4

// fragFlag is the top bit of the FragTotal/Flag byte.
const fragFlag = 0x80

// Packet represents one unit that crosses the wire.
//
// Delivery bookkeeping (retry counters, send instants, deadlines) lives
// with the component that owns it — the reliability tracker and the
// scheduler — not on the wire struct.
type Packet struct {
	Seq         uint32      // connection-scoped sequence number
	Timestamp   uint32      // sender-local milliseconds, used only for RTT
	MessageID   uint32      // fragment group id; 0 for non-fragmented packets
	FragIndex   uint16      // fragment index; 0 when not fragmented
	FragTotal   uint8       // total fragments (7 bits); 0 or 1 if not fragmented
	IsFragment  bool        // whether this packet is part of a fragment group
	Reliability Reliability // delivery contract
	Priority    Priority    // scheduling class
	Payload     []byte      // opaque bytes (nonce-prefixed ciphertext when sealed)
}

// IsAck reports whether the packet is an acknowledgement.
func (p *Packet) IsAck() bool {
	return len(p.Payload) == AckPayloadSize
}

// IsKeepAlive reports whether the packet is a zero-payload keep-alive.
func (p *Packet) IsKeepAlive() bool {
	return len(p.Payload) == 0 && !p.IsFragment
}

// WireSize returns the encoded size of the packet in bytes.
func (p *Packet) WireSize() int {
	return HeaderSize + len(p.Payload)
}
