package codec

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm selects the compression codec. Fixed per connection.
type Algorithm uint8

const (
	None Algorithm = iota
	LZ4
	Zstd
)

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	}
	return "unknown"
}

// ParseAlgorithm maps a config string to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	}
	return None, fmt.Errorf("unknown compression algorithm %q", s)
}

// MaxDecompressedSize bounds the declared original size accepted by Open.
const MaxDecompressedSize = 16 << 20

var errIncompressible = errors.New("incompressible input")

// Shared zstd coders. EncodeAll/DecodeAll are safe for concurrent use.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedSize))
)

func compress(algo Algorithm, src []byte) ([]byte, error) {
	switch algo {
	case LZ4:
		var c lz4.Compressor
		dst := make([]byte, lz4.CompressBlockBound(len(src)))
		n, err := c.CompressBlock(src, dst)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, errIncompressible
		}
		return dst[:n], nil

	case Zstd:
		return zstdEncoder.EncodeAll(src, nil), nil
	}
	return nil, fmt.Errorf("compress: unknown algorithm %d", algo)
}

func decompress(algo Algorithm, src []byte, origLen int) ([]byte, error) {
	switch algo {
	case LZ4:
		dst := make([]byte, origLen)
		n, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return nil, err
		}
		if n != origLen {
			return nil, fmt.Errorf("lz4: decompressed %d bytes, declared %d", n, origLen)
		}
		return dst, nil

	case Zstd:
		out, err := zstdDecoder.DecodeAll(src, make([]byte, 0, origLen))
		if err != nil {
			return nil, err
		}
		if len(out) != origLen {
			return nil, fmt.Errorf("zstd: decompressed %d bytes, declared %d", len(out), origLen)
		}
		return out, nil
	}
	return nil, fmt.Errorf("decompress: unknown algorithm %d", algo)
}
