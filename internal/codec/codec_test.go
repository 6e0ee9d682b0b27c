package codec_test

import (
	"bytes"
	"testing"

	"github.com/YuhIcey/Barren-Engine/internal/codec"
	"github.com/YuhIcey/Barren-Engine/internal/crypto"
	"github.com/YuhIcey/Barren-Engine/internal/protocol"
)

func compressible(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i / 32)
	}
	return buf
}

// TestSealOpenRoundTrip drives the framing pipeline through its
// interesting shapes: passthrough, compressed, encrypted, and both.
func TestSealOpenRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	testCases := []struct {
		name    string
		algo    codec.Algorithm
		payload []byte
		qos     protocol.QoSProfile
	}{
		{"plain small", codec.LZ4, []byte("hi"), protocol.QoSProfile{}},
		{"plain empty", codec.LZ4, nil, protocol.QoSProfile{}},
		{"compressed lz4", codec.LZ4, compressible(4096), protocol.QoSProfile{Compression: true}},
		{"compressed zstd", codec.Zstd, compressible(4096), protocol.QoSProfile{Compression: true}},
		{"encrypted", codec.LZ4, []byte("secret payload"), protocol.QoSProfile{Encryption: true}},
		{"compressed and encrypted", codec.Zstd, compressible(8192), protocol.QoSProfile{Compression: true, Encryption: true}},
		{"under compression floor", codec.LZ4, compressible(codec.MinCompressSize), protocol.QoSProfile{Compression: true}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := codec.New(tc.algo, crypto.AES256GCM)

			sealed, err := c.Seal(tc.payload, tc.qos, key)
			if err != nil {
				t.Fatalf("Seal failed: %v", err)
			}

			opened, err := c.Open(sealed, tc.qos, key)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			if !bytes.Equal(opened, tc.payload) {
				t.Errorf("round trip mismatch: got %d bytes, want %d", len(opened), len(tc.payload))
			}
		})
	}
}

// TestCompressionGate verifies the 64-byte floor and the 80% ratio gate.
func TestCompressionGate(t *testing.T) {
	c := codec.New(codec.LZ4, crypto.AES256GCM)
	qos := protocol.QoSProfile{Compression: true}

	// Highly compressible and large: the frame must shrink.
	big := compressible(4096)
	sealed, err := c.Seal(big, qos, nil)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if len(sealed) >= len(big) {
		t.Errorf("compressible frame did not shrink: %d >= %d", len(sealed), len(big))
	}

	// At the floor: passthrough with only the flag byte added.
	small := compressible(codec.MinCompressSize)
	sealed, err = c.Seal(small, qos, nil)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if len(sealed) != len(small)+1 {
		t.Errorf("floor-size frame length %d, want %d", len(sealed), len(small)+1)
	}
}

// TestSealNeverProducesAckShape verifies framed payloads can never be
// mistaken for the 4-byte ack shape.
func TestSealNeverProducesAckShape(t *testing.T) {
	c := codec.New(codec.LZ4, crypto.AES256GCM)
	for n := 0; n <= 8; n++ {
		sealed, err := c.Seal(make([]byte, n), protocol.QoSProfile{}, nil)
		if err != nil {
			t.Fatalf("Seal(%d bytes) failed: %v", n, err)
		}
		if len(sealed) == protocol.AckPayloadSize {
			t.Errorf("a %d-byte payload framed to the ack shape", n)
		}

		opened, err := c.Open(sealed, protocol.QoSProfile{}, nil)
		if err != nil {
			t.Fatalf("Open(%d bytes) failed: %v", n, err)
		}
		if len(opened) != n {
			t.Errorf("pad round trip: got %d bytes, want %d", len(opened), n)
		}
	}
}

// TestOpenFailures verifies the three error classes.
func TestOpenFailures(t *testing.T) {
	key, _ := crypto.GenerateKey()
	c := codec.New(codec.LZ4, crypto.AES256GCM)

	t.Run("auth failure", func(t *testing.T) {
		qos := protocol.QoSProfile{Encryption: true}
		sealed, err := c.Seal([]byte("payload"), qos, key)
		if err != nil {
			t.Fatalf("Seal failed: %v", err)
		}
		sealed[len(sealed)-1] ^= 0x01
		if _, err := c.Open(sealed, qos, key); err != protocol.ErrAuthFailure {
			t.Errorf("got %v, want ErrAuthFailure", err)
		}
	})

	t.Run("inconsistent flags", func(t *testing.T) {
		testCases := []struct {
			name  string
			frame []byte
		}{
			{"unknown flag bits", []byte{0xF0, 1, 2}},
			{"algorithm without compressed bit", []byte{0x02, 1, 2}},
			{"compressed without algorithm", []byte{0x01, 0, 0, 0, 9, 1}},
			{"empty frame", nil},
		}
		for _, tc := range testCases {
			if _, err := c.Open(tc.frame, protocol.QoSProfile{}, nil); err == nil {
				t.Errorf("%s: expected error, got nil", tc.name)
			}
		}
	})

	t.Run("decompress failure", func(t *testing.T) {
		// A compressed frame whose body is garbage.
		frame := []byte{0x03, 0, 0, 0, 100, 0xDE, 0xAD, 0xBE, 0xEF}
		if _, err := c.Open(frame, protocol.QoSProfile{}, nil); err == nil {
			t.Error("expected decompress error, got nil")
		}
	})
}
