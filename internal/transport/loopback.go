package transport

import "sync"

// loopbackSize is the per-direction buffer of an in-memory pair.
const loopbackSize = 4096

// loopbackSubstrate is one end of an in-memory packet pipe. Used by tests
// and the demo CLI; semantics match a datagram socket, including drops
// when the peer's inbox is full.
type loopbackSubstrate struct {
	out chan<- []byte
	in  <-chan []byte

	closeOnce sync.Once
	done      chan struct{}
	peerDone  chan struct{}
}

// NewLoopbackPair creates two connected in-memory substrates.
func NewLoopbackPair() (Substrate, Substrate) {
	ab := make(chan []byte, loopbackSize)
	ba := make(chan []byte, loopbackSize)
	aDone := make(chan struct{})
	bDone := make(chan struct{})

	a := &loopbackSubstrate{out: ab, in: ba, done: aDone, peerDone: bDone}
	b := &loopbackSubstrate{out: ba, in: ab, done: bDone, peerDone: aDone}
	return a, b
}

func (l *loopbackSubstrate) WritePacket(data []byte) error {
	// Closure is checked first: a select with a free buffer slot ready
	// would otherwise pick between sending and reporting closure at random.
	select {
	case <-l.done:
		return ErrClosed
	case <-l.peerDone:
		return ErrClosed
	default:
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	select {
	case l.out <- cp:
		return nil
	default:
		// Peer inbox full — the packet is dropped, as a datagram would be.
		return nil
	}
}

func (l *loopbackSubstrate) ReadPacket() ([]byte, error) {
	select {
	case data := <-l.in:
		return data, nil
	case <-l.done:
		return nil, ErrClosed
	case <-l.peerDone:
		// Drain anything already in flight before reporting closure.
		select {
		case data := <-l.in:
			return data, nil
		default:
			return nil, ErrClosed
		}
	}
}

func (l *loopbackSubstrate) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

func (l *loopbackSubstrate) Kind() Kind { return KindLoopback }
