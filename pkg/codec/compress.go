package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm selects a compression strength.
type Algorithm string

const (
	AlgorithmNone   Algorithm = "none"
	AlgorithmFast   Algorithm = "fast"
	AlgorithmStrong Algorithm = "strong"
)

// ParseAlgorithm accepts the algorithm names plus the concrete codec names.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "", "none":
		return AlgorithmNone, nil
	case "fast", "lz4":
		return AlgorithmFast, nil
	case "strong", "zstd":
		return AlgorithmStrong, nil
	default:
		return "", fmt.Errorf("unknown compression algorithm: %q", name)
	}
}

// Compression tags prefix every compressed stream. Values are part of the
// token format. Neither can start a JSON document, which is what lets
// Decompress pass raw serialized data through.
const (
	tagLZ4  byte = 0x01
	tagZstd byte = 0x02
)

// maxDecompressedSize bounds the declared length of a compressed stream.
const maxDecompressedSize = 64 << 20

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedBestCompression),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(maxDecompressedSize),
	)
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress compresses data into the self-describing form
//
//	[tag:1][uvarint rawLen][stream]
//
// AlgorithmNone returns data unchanged.
func Compress(data []byte, algorithm Algorithm) ([]byte, error) {
	switch algorithm {
	case AlgorithmNone, "":
		return data, nil
	case AlgorithmFast:
		return compressLZ4(data)
	case AlgorithmStrong:
		return compressZstd(data), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %q", algorithm)
	}
}

// Decompress reverses Compress. Input that does not start with a known
// compression tag is returned unchanged.
func Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	switch data[0] {
	case tagLZ4:
		return decompressLZ4(data)
	case tagZstd:
		return decompressZstd(data)
	default:
		return data, nil
	}
}

func header(tag byte, rawLen int) []byte {
	out := make([]byte, 1, 1+binary.MaxVarintLen64)
	out[0] = tag
	return binary.AppendUvarint(out, uint64(rawLen))
}

func readHeader(data []byte) (int, []byte, error) {
	rawLen, n := binary.Uvarint(data[1:])
	if n <= 0 {
		return 0, nil, fmt.Errorf("invalid length prefix")
	}
	if rawLen > maxDecompressedSize {
		return 0, nil, fmt.Errorf("declared size %d exceeds limit %d", rawLen, maxDecompressedSize)
	}
	return int(rawLen), data[1+n:], nil
}

func compressLZ4(data []byte) ([]byte, error) {
	out := header(tagLZ4, len(data))
	if len(data) == 0 {
		return out, nil
	}

	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}

	// A zero return means the block is incompressible; it is stored
	// as a literal-only block so decoding stays uniform.
	if written == 0 {
		written, err = lz4LiteralBlock(data, destination)
		if err != nil {
			return nil, err
		}
	}

	return append(out, destination[:written]...), nil
}

// lz4LiteralBlock emits a valid LZ4 block holding data as a single
// literal run.
func lz4LiteralBlock(data, destination []byte) (int, error) {
	n := len(data)
	pos := 0
	if n < 15 {
		destination[pos] = byte(n << 4)
		pos++
	} else {
		destination[pos] = 0xF0
		pos++
		rest := n - 15
		for rest >= 255 {
			destination[pos] = 255
			pos++
			rest -= 255
		}
		destination[pos] = byte(rest)
		pos++
	}
	if pos+n > len(destination) {
		return 0, fmt.Errorf("lz4 compress: literal block exceeds bound")
	}
	copy(destination[pos:], data)
	return pos + n, nil
}

func decompressLZ4(data []byte) ([]byte, error) {
	rawLen, stream, err := readHeader(data)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if rawLen == 0 {
		return []byte{}, nil
	}

	destination := make([]byte, rawLen)
	read, err := lz4.UncompressBlock(stream, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != rawLen {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, rawLen)
	}
	return destination, nil
}

func compressZstd(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, header(tagZstd, len(data)))
}

func decompressZstd(data []byte) ([]byte, error) {
	rawLen, stream, err := readHeader(data)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if rawLen == 0 {
		return []byte{}, nil
	}

	result, err := zstdDecoder.DecodeAll(stream, make([]byte, 0, rawLen))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != rawLen {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), rawLen)
	}
	return result, nil
}
