// Package codec implements the frame codec: optional compression followed
// by optional authenticated encryption with a fresh per-message nonce
// prepended to the ciphertext. Seal and Open are strict inverses.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/YuhIcey/Barren-Engine/internal/crypto"
	"github.com/YuhIcey/Barren-Engine/internal/protocol"
)

// Frame flag bits. The flag byte is the first byte of the (possibly
// encrypted) frame body.
const (
	flagCompressed = 1 << 0 // body is compressed; algorithm in bits 1-2
	flagPadded     = 1 << 3 // one trailing pad byte was appended
	algoShift      = 1
	algoMask       = 0x03 << algoShift
	flagKnown      = flagCompressed | algoMask | flagPadded
)

// Compression thresholds: payloads at or under MinCompressSize bytes pass
// through unchanged, as do payloads that do not compress to at most
// CompressRatio of their original size.
const (
	MinCompressSize = 64
	CompressRatio   = 0.80
)

// Codec compresses/decompresses and seals/opens payloads. Algorithm and
// cipher suite are fixed for a connection; whether each is applied comes
// from the per-message QoS profile. Keys are supplied per call — the codec
// holds no key material.
type Codec struct {
	algorithm Algorithm
	suite     crypto.Suite
}

// New creates a codec with a fixed compression algorithm and cipher suite.
func New(algorithm Algorithm, suite crypto.Suite) *Codec {
	return &Codec{algorithm: algorithm, suite: suite}
}

// Seal frames a payload: compression first (when enabled and profitable),
// then authenticated encryption with a fresh nonce prepended.
//
// The unencrypted frame is flag || [origLen u32, when compressed] || body.
// When the frame would be exactly protocol.AckPayloadSize bytes — which
// the wire format reserves for acknowledgements — a pad byte is appended
// and noted in the flag.
func (c *Codec) Seal(payload []byte, qos protocol.QoSProfile, key []byte) ([]byte, error) {
	var flag uint8
	body := payload

	if qos.Compression && c.algorithm != None && len(payload) > MinCompressSize {
		compressed, err := compress(c.algorithm, payload)
		if err == nil && float64(len(compressed)) <= CompressRatio*float64(len(payload)) {
			flag |= flagCompressed | uint8(c.algorithm)<<algoShift
			body = compressed
		}
	}

	frame := make([]byte, 0, 5+len(body)+1)
	frame = append(frame, flag)
	if flag&flagCompressed != 0 {
		var origLen [4]byte
		binary.BigEndian.PutUint32(origLen[:], uint32(len(payload)))
		frame = append(frame, origLen[:]...)
	}
	frame = append(frame, body...)

	if !qos.Encryption && len(frame) == protocol.AckPayloadSize {
		frame[0] |= flagPadded
		frame = append(frame, 0)
	}

	if !qos.Encryption {
		return frame, nil
	}

	nonce, err := crypto.NewNonce()
	if err != nil {
		return nil, err
	}
	sealed, err := crypto.Seal(c.suite, key, nonce, frame, nil)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Open is the strict inverse of Seal. It fails with ErrAuthFailure when
// the authentication tag does not verify, ErrMalformed when the frame flag
// set is inconsistent, and ErrDecompress on decoder error.
func (c *Codec) Open(data []byte, qos protocol.QoSProfile, key []byte) ([]byte, error) {
	frame := data

	if qos.Encryption {
		if len(data) < crypto.NonceSize+crypto.TagSize {
			return nil, fmt.Errorf("%w: sealed frame too short (%d bytes)", protocol.ErrMalformed, len(data))
		}
		plain, err := crypto.Open(c.suite, key, data[:crypto.NonceSize], data[crypto.NonceSize:], nil)
		if err != nil {
			return nil, protocol.ErrAuthFailure
		}
		frame = plain
	}

	if len(frame) < 1 {
		return nil, fmt.Errorf("%w: empty frame", protocol.ErrMalformed)
	}
	flag := frame[0]
	body := frame[1:]

	if flag&^uint8(flagKnown) != 0 {
		return nil, fmt.Errorf("%w: unknown frame flags %#02x", protocol.ErrMalformed, flag)
	}
	if flag&flagPadded != 0 {
		if len(body) < 1 {
			return nil, fmt.Errorf("%w: padded frame with no pad byte", protocol.ErrMalformed)
		}
		body = body[:len(body)-1]
	}

	if flag&flagCompressed == 0 {
		if flag&algoMask != 0 {
			return nil, fmt.Errorf("%w: algorithm bits set on uncompressed frame", protocol.ErrMalformed)
		}
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	}

	algo := Algorithm((flag & algoMask) >> algoShift)
	if algo == None {
		return nil, fmt.Errorf("%w: compressed frame without algorithm", protocol.ErrMalformed)
	}
	if len(body) < 4 {
		return nil, fmt.Errorf("%w: compressed frame missing length", protocol.ErrMalformed)
	}
	origLen := binary.BigEndian.Uint32(body[:4])
	if origLen > MaxDecompressedSize {
		return nil, fmt.Errorf("%w: declared size %d exceeds limit", protocol.ErrMalformed, origLen)
	}

	out, err := decompress(algo, body[4:], int(origLen))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrDecompress, err)
	}
	return out, nil
}
