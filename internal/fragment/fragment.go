// Package fragment splits oversized framed payloads into MTU-sized pieces
// sharing a message id, and reassembles them on receive with a timeout.
package fragment

import (
	"fmt"
	"time"

	"github.com/YuhIcey/Barren-Engine/internal/protocol"
)

// MaxFragments is the largest fragment count the 7-bit wire field carries.
const MaxFragments = 127

// DefaultTimeout is the lifetime of an incomplete fragment group, measured
// from first-seen.
const DefaultTimeout = 2 * time.Second

// Piece is one fragment of a split payload, before sequence assignment.
type Piece struct {
	Index uint16
	Total uint8
	Data  []byte
}

// Split cuts a payload into ⌈len/fragSize⌉ dense pieces. Payloads that
// would exceed MaxFragments pieces are refused.
func Split(payload []byte, fragSize int) ([]Piece, error) {
	if fragSize <= 0 {
		return nil, fmt.Errorf("fragment size %d out of range", fragSize)
	}
	total := (len(payload) + fragSize - 1) / fragSize
	if total > MaxFragments {
		return nil, fmt.Errorf("%w: %d pieces of %d bytes", protocol.ErrTooManyFragments, total, fragSize)
	}
	if total <= 1 {
		return []Piece{{Index: 0, Total: 1, Data: payload}}, nil
	}

	pieces := make([]Piece, 0, total)
	for i := 0; i < total; i++ {
		start := i * fragSize
		end := start + fragSize
		if end > len(payload) {
			end = len(payload)
		}
		pieces = append(pieces, Piece{
			Index: uint16(i),
			Total: uint8(total),
			Data:  payload[start:end],
		})
	}
	return pieces, nil
}

// group buffers one in-flight fragment set.
type group struct {
	total     int
	received  int
	parts     [][]byte
	firstSeen time.Time
}

// Reassembler reconstructs split payloads. Incomplete groups are reclaimed
// after the configured timeout; reclaim surfaces no error because
// per-fragment reliability has already reported any true loss. Owned and
// serialized by the connection.
type Reassembler struct {
	groups  map[uint32]*group
	timeout time.Duration
}

// NewReassembler creates a reassembler with the given group timeout
// (DefaultTimeout if zero).
func NewReassembler(timeout time.Duration) *Reassembler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Reassembler{
		groups:  make(map[uint32]*group),
		timeout: timeout,
	}
}

// Feed stores one fragment. When the group completes, the reconstructed
// payload is returned and the group's storage reclaimed. Duplicate
// fragments overwrite identically-positioned ones; fragments inconsistent
// with their group are ignored.
func (r *Reassembler) Feed(pkt *protocol.Packet, now time.Time) ([]byte, bool) {
	if !pkt.IsFragment {
		return nil, false
	}
	total := int(pkt.FragTotal)
	idx := int(pkt.FragIndex)
	if total < 1 || idx >= total {
		return nil, false
	}

	g, ok := r.groups[pkt.MessageID]
	if !ok {
		g = &group{
			total:     total,
			parts:     make([][]byte, total),
			firstSeen: now,
		}
		r.groups[pkt.MessageID] = g
	}
	if total != g.total {
		return nil, false
	}

	if g.parts[idx] == nil {
		g.received++
	}
	g.parts[idx] = pkt.Payload

	if g.received < g.total {
		return nil, false
	}

	delete(r.groups, pkt.MessageID)
	var size int
	for _, part := range g.parts {
		size += len(part)
	}
	payload := make([]byte, 0, size)
	for _, part := range g.parts {
		payload = append(payload, part...)
	}
	return payload, true
}

// Expire reclaims groups whose timeout has elapsed, returning how many
// were discarded.
func (r *Reassembler) Expire(now time.Time) int {
	reclaimed := 0
	for mid, g := range r.groups {
		if now.Sub(g.firstSeen) >= r.timeout {
			delete(r.groups, mid)
			reclaimed++
		}
	}
	return reclaimed
}

// Pending returns the number of incomplete fragment groups.
func (r *Reassembler) Pending() int {
	return len(r.groups)
}

// Clear drops every buffered group. Used on teardown.
func (r *Reassembler) Clear() {
	r.groups = make(map[uint32]*group)
}
