package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// maxDatagramSize bounds a single read. Larger than any engine MTU so a
// misconfigured peer surfaces as a decode error, not silent truncation.
const maxDatagramSize = 64 * 1024

// udpSubstrate is a connected UDP socket: one datagram per packet.
type udpSubstrate struct {
	conn *net.UDPConn

	mu     sync.Mutex
	closed bool
}

// DialUDP opens a connected datagram substrate to the given endpoint.
func DialUDP(endpoint string) (Substrate, error) {
	addr, err := net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", endpoint, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp %s: %w", endpoint, err)
	}
	return &udpSubstrate{conn: conn}, nil
}

func (u *udpSubstrate) WritePacket(data []byte) error {
	if u.isClosed() {
		return ErrClosed
	}
	_, err := u.conn.Write(data)
	return err
}

func (u *udpSubstrate) ReadPacket() ([]byte, error) {
	buf := make([]byte, maxDatagramSize)
	n, err := u.conn.Read(buf)
	if err != nil {
		if u.isClosed() || errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return buf[:n], nil
}

func (u *udpSubstrate) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	u.mu.Unlock()
	return u.conn.Close()
}

func (u *udpSubstrate) Kind() Kind { return KindDatagram }

func (u *udpSubstrate) isClosed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.closed
}

// UDPListener demultiplexes one listening socket into per-peer substrates:
// the first datagram from an unknown remote address surfaces a new
// substrate through Accept.
type UDPListener struct {
	conn *net.UDPConn

	mu     sync.Mutex
	peers  map[string]*udpPeerSubstrate
	accept chan *udpPeerSubstrate
	closed bool
}

// ListenUDP binds a demultiplexing listener on addr.
func ListenUDP(addr string) (*UDPListener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	l := &UDPListener{
		conn:   conn,
		peers:  make(map[string]*udpPeerSubstrate),
		accept: make(chan *udpPeerSubstrate, 16),
	}
	go l.readLoop()
	return l, nil
}

// Addr returns the bound local address.
func (l *UDPListener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Accept blocks until a new peer sends its first datagram.
func (l *UDPListener) Accept() (Substrate, string, error) {
	peer, ok := <-l.accept
	if !ok {
		return nil, "", ErrClosed
	}
	return peer, peer.remote.String(), nil
}

// Close shuts the socket and every peer substrate.
func (l *UDPListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	peers := make([]*udpPeerSubstrate, 0, len(l.peers))
	for _, p := range l.peers {
		peers = append(peers, p)
	}
	l.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
	close(l.accept)
	return l.conn.Close()
}

func (l *UDPListener) readLoop() {
	buf := make([]byte, maxDatagramSize)
	for {
		n, remote, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			peers := make([]*udpPeerSubstrate, 0, len(l.peers))
			for _, p := range l.peers {
				peers = append(peers, p)
			}
			l.mu.Unlock()
			for _, p := range peers {
				p.Close()
			}
			if !closed {
				l.Close()
			}
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		key := remote.String()
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return
		}
		peer, ok := l.peers[key]
		if !ok {
			peer = &udpPeerSubstrate{
				listener: l,
				remote:   remote,
				inbox:    make(chan []byte, 256),
				done:     make(chan struct{}),
			}
			l.peers[key] = peer
			select {
			case l.accept <- peer:
			default:
				// Accept backlog full — the peer is dropped.
				delete(l.peers, key)
				l.mu.Unlock()
				continue
			}
		}
		l.mu.Unlock()

		select {
		case peer.inbox <- data:
		default:
			// Peer inbox full — the datagram is dropped, as UDP would.
		}
	}
}

func (l *UDPListener) forget(key string) {
	l.mu.Lock()
	delete(l.peers, key)
	l.mu.Unlock()
}

// udpPeerSubstrate is one accepted peer on a shared listening socket.
type udpPeerSubstrate struct {
	listener *UDPListener
	remote   *net.UDPAddr
	inbox    chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func (p *udpPeerSubstrate) WritePacket(data []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	_, err := p.listener.conn.WriteToUDP(data, p.remote)
	return err
}

func (p *udpPeerSubstrate) ReadPacket() ([]byte, error) {
	select {
	case data, ok := <-p.inbox:
		if !ok {
			return nil, ErrClosed
		}
		return data, nil
	case <-p.done:
		return nil, ErrClosed
	}
}

func (p *udpPeerSubstrate) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.listener.forget(p.remote.String())
	})
	return nil
}

func (p *udpPeerSubstrate) Kind() Kind { return KindDatagram }
