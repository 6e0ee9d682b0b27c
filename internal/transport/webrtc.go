package transport

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// DataChannel backpressure watermarks.
const (
	highWaterMark  = 256 * 1024 // pause writes when bufferedAmount exceeds this
	lowWaterMark   = 64 * 1024  // resume when bufferedAmount drops below this
	dcInboxSize    = 256        // inbound packet channel capacity
	dcDefaultLabel = "barren"
)

// dcSubstrate carries packets over a WebRTC DataChannel. The engine
// provides its own reliability, so the channel is configured unordered
// and the substrate only adds an open gate and buffered-amount
// backpressure.
type dcSubstrate struct {
	dc *webrtc.DataChannel

	openSignal  chan struct{}
	drainSignal chan struct{}
	inbox       chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// NewDataChannelSubstrate wraps an externally negotiated DataChannel. The
// caller performs signaling (via NewPeerConnection / NewDataChannel or its
// own stack) before or after wrapping; writes block until the channel
// opens.
func NewDataChannelSubstrate(dc *webrtc.DataChannel) Substrate {
	s := &dcSubstrate{
		dc:          dc,
		openSignal:  make(chan struct{}),
		drainSignal: make(chan struct{}, 1),
		inbox:       make(chan []byte, dcInboxSize),
		done:        make(chan struct{}),
	}

	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(s.openSignal) })
	})
	dc.OnClose(func() {
		s.Close()
	})

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case s.drainSignal <- struct{}{}:
		default:
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case s.inbox <- msg.Data:
		case <-s.done:
		default:
			// Inbox full — the packet is dropped, as a datagram would be.
		}
	})

	return s
}

func (s *dcSubstrate) WritePacket(data []byte) error {
	select {
	case <-s.openSignal:
	case <-s.done:
		return ErrClosed
	}

	if s.dc.BufferedAmount() > uint64(highWaterMark) {
		select {
		case <-s.drainSignal:
		case <-s.done:
			return ErrClosed
		}
	}
	return s.dc.Send(data)
}

func (s *dcSubstrate) ReadPacket() ([]byte, error) {
	select {
	case data := <-s.inbox:
		return data, nil
	case <-s.done:
		return nil, ErrClosed
	}
}

func (s *dcSubstrate) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.dc.Close()
	})
	return err
}

func (s *dcSubstrate) Kind() Kind { return KindDataChannel }

// STUN servers for ICE candidate gathering when no configuration is
// supplied by the embedding application.
var stunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// NewPeerConnection creates a PeerConnection configured with public STUN
// servers.
func NewPeerConnection() (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunServers},
		},
	}
	return webrtc.NewPeerConnection(config)
}

// NewDataChannel creates a pre-negotiated, unordered DataChannel on the
// given PeerConnection. Negotiated mode (ID 0) lets both sides create the
// channel independently; unordered mode avoids head-of-line blocking under
// the engine's own ordering layer.
func NewDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := false
	negotiated := true
	id := uint16(0)

	return pc.CreateDataChannel(dcDefaultLabel, &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
}
