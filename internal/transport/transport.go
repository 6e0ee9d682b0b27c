// Package transport abstracts the datagram substrates the packet engine
// rides on and routes frames between them and the engine. The substrate
// variants are selected at connection open; the engine above is
// transport-agnostic.
package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/YuhIcey/Barren-Engine/internal/util"
)

// Kind selects a substrate variant.
type Kind uint8

const (
	// KindDatagram is a connected UDP socket.
	KindDatagram Kind = iota
	// KindStream is a TCP connection with length-prefixed framing.
	KindStream
	// KindStreamFramed is a WebSocket connection (message-framed stream).
	KindStreamFramed
	// KindDataChannel is a WebRTC DataChannel.
	KindDataChannel
	// KindLoopback is an in-memory pair used by tests and the demo CLI.
	KindLoopback
)

func (k Kind) String() string {
	switch k {
	case KindDatagram:
		return "udp"
	case KindStream:
		return "tcp"
	case KindStreamFramed:
		return "websocket"
	case KindDataChannel:
		return "datachannel"
	case KindLoopback:
		return "loopback"
	}
	return "unknown"
}

// ParseKind maps a config string to a substrate kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "udp":
		return KindDatagram, nil
	case "tcp":
		return KindStream, nil
	case "websocket", "ws":
		return KindStreamFramed, nil
	case "datachannel", "webrtc":
		return KindDataChannel, nil
	case "loopback":
		return KindLoopback, nil
	}
	return KindDatagram, fmt.Errorf("unknown transport kind %q", s)
}

// Substrate is one bidirectional packet pipe. WritePacket must accept
// whole packets and ReadPacket must return whole packets; stream variants
// add their own framing to honour that.
type Substrate interface {
	WritePacket(data []byte) error
	ReadPacket() ([]byte, error)
	Close() error
	Kind() Kind
}

// ErrClosed is returned by substrates after Close.
var ErrClosed = errors.New("substrate closed")

// Dispatcher pumps inbound packets from one substrate into the engine and
// carries outbound frames the other way. One dispatcher serves one
// connection.
type Dispatcher struct {
	sub      Substrate
	onPacket func([]byte)

	closeOnce sync.Once
	done      chan struct{}
}

// NewDispatcher binds a substrate to an inbound delivery callback and
// starts the read pump.
func NewDispatcher(sub Substrate, onPacket func([]byte)) *Dispatcher {
	d := &Dispatcher{
		sub:      sub,
		onPacket: onPacket,
		done:     make(chan struct{}),
	}
	go d.readLoop()
	return d
}

func (d *Dispatcher) readLoop() {
	for {
		data, err := d.sub.ReadPacket()
		if err != nil {
			if !errors.Is(err, ErrClosed) {
				util.LogDebug("substrate read ended: %v", err)
			}
			return
		}
		select {
		case <-d.done:
			return
		default:
		}
		d.onPacket(data)
	}
}

// Write sends one encoded packet outbound.
func (d *Dispatcher) Write(data []byte) error {
	return d.sub.WritePacket(data)
}

// Close shuts the pump and the underlying substrate.
func (d *Dispatcher) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.done)
		err = d.sub.Close()
	})
	return err
}

// Done reports dispatcher shutdown.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}
