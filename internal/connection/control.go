package connection

import "github.com/google/uuid"

// Control payloads drive the handshake and remote close. Hello and
// hello-ack are sent as Reliable/Immediate packets, bye as an
// Unreliable/Immediate packet; all are intercepted before application
// delivery.
//
// A control payload is exactly controlSize bytes: magic, kind, and the
// 16-byte session token. The length can never collide with self-produced
// traffic: acks are 4 bytes, keep-alives are empty, unencrypted codec
// frames carry a flag byte that is never controlMagic, and encrypted
// frames are at least 29 bytes.
const (
	controlMagic = 0xB7
	controlSize  = 18
)

type controlKind uint8

const (
	ctlHello controlKind = iota + 1
	ctlHelloAck
	ctlBye
)

func encodeControl(kind controlKind, token uuid.UUID) []byte {
	buf := make([]byte, controlSize)
	buf[0] = controlMagic
	buf[1] = uint8(kind)
	copy(buf[2:], token[:])
	return buf
}

// decodeControl parses a control payload, reporting ok=false for anything
// that is not one.
func decodeControl(payload []byte) (controlKind, uuid.UUID, bool) {
	if len(payload) != controlSize || payload[0] != controlMagic {
		return 0, uuid.UUID{}, false
	}
	kind := controlKind(payload[1])
	if kind < ctlHello || kind > ctlBye {
		return 0, uuid.UUID{}, false
	}
	var token uuid.UUID
	copy(token[:], payload[2:])
	return kind, token, true
}
