package protocol

import (
	"encoding/binary"
	"fmt"
)

// Encode serializes a Packet into a byte slice for substrate transmission.
func Encode(pkt *Packet) []byte {
	buf := make([]byte, HeaderSize+len(pkt.Payload))
	buf[0] = Version
	binary.BigEndian.PutUint32(buf[1:5], pkt.Seq)
	binary.BigEndian.PutUint32(buf[5:9], pkt.Timestamp)
	binary.BigEndian.PutUint32(buf[9:13], pkt.MessageID)
	binary.BigEndian.PutUint16(buf[13:15], pkt.FragIndex)

	ft := pkt.FragTotal & 0x7f
	if pkt.IsFragment {
		ft |= fragFlag
	}
	buf[15] = ft

	buf[16] = uint8(pkt.Reliability)&0x07 | (uint8(pkt.Priority)&0x07)<<3

	if len(pkt.Payload) > 0 {
		copy(buf[HeaderSize:], pkt.Payload)
	}
	return buf
}

// Decode deserializes a byte slice into a Packet. It returns ErrMalformed
// (wrapped) when the input is too short, carries an unknown version, or
// encodes an out-of-range reliability or priority.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes (need at least %d)", ErrMalformed, len(data), HeaderSize)
	}
	if data[0] != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, data[0])
	}

	rel := Reliability(data[16] & 0x07)
	prio := Priority((data[16] >> 3) & 0x07)
	if rel > ReliableOrdered {
		return nil, fmt.Errorf("%w: reliability %d out of range", ErrMalformed, rel)
	}
	if prio > PriorityLowest {
		return nil, fmt.Errorf("%w: priority %d out of range", ErrMalformed, prio)
	}

	pkt := &Packet{
		Seq:         binary.BigEndian.Uint32(data[1:5]),
		Timestamp:   binary.BigEndian.Uint32(data[5:9]),
		MessageID:   binary.BigEndian.Uint32(data[9:13]),
		FragIndex:   binary.BigEndian.Uint16(data[13:15]),
		FragTotal:   data[15] & 0x7f,
		IsFragment:  data[15]&fragFlag != 0,
		Reliability: rel,
		Priority:    prio,
	}
	if len(data) > HeaderSize {
		pkt.Payload = make([]byte, len(data)-HeaderSize)
		copy(pkt.Payload, data[HeaderSize:])
	}
	return pkt, nil
}

// EncodeAck builds the 4-byte acknowledgement payload for seq.
func EncodeAck(seq uint32) []byte {
	buf := make([]byte, AckPayloadSize)
	binary.BigEndian.PutUint32(buf, seq)
	return buf
}

// DecodeAck reads the acknowledged sequence out of an ack payload.
func DecodeAck(payload []byte) (uint32, error) {
	if len(payload) != AckPayloadSize {
		return 0, fmt.Errorf("%w: ack payload is %d bytes", ErrMalformed, len(payload))
	}
	return binary.BigEndian.Uint32(payload), nil
}
