package delta

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the algorithm used for a patch body. The value is
// stored in the patch header (1 byte) and is a format constant — changing
// an existing value breaks compatibility with already-published patches.
type Compression uint8

const (
	// CompressionNone stores the op stream uncompressed. Also the
	// fallback when the configured algorithm cannot shrink the data.
	CompressionNone Compression = 0

	// CompressionLZ4 uses LZ4 block compression: fast with a modest
	// ratio, useful when patch generation time dominates.
	CompressionLZ4 Compression = 1

	// CompressionZstd uses zstd at the default level. Best ratio for
	// typical patch bodies and the default for release builds.
	CompressionZstd Compression = 2
)

// String returns the human-readable name of the compression value.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a compression name from configuration.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

// errIncompressible signals that compressed output would not be smaller
// than the input. Callers fall back to CompressionNone.
var errIncompressible = errors.New("data is incompressible")

// zstdEncoder and zstdDecoder are reused across calls. Encoder concurrency
// is pinned to one so identical input always yields identical bytes, which
// the reproducible-manifest guarantee depends on.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		panic("delta: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("delta: zstd decoder initialization failed: " + err.Error())
	}
}

// compress compresses data with the requested algorithm. When the result
// would not be smaller than the input (or the algorithm is CompressionNone),
// the input is returned unchanged together with CompressionNone.
func compress(data []byte, c Compression) ([]byte, Compression, error) {
	switch c {
	case CompressionNone:
		return data, CompressionNone, nil

	case CompressionLZ4:
		compressed, err := compressLZ4(data)
		if errors.Is(err, errIncompressible) {
			return data, CompressionNone, nil
		}

		if err != nil {
			return nil, 0, err
		}

		return compressed, CompressionLZ4, nil

	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return data, CompressionNone, nil
		}

		return compressed, CompressionZstd, nil

	default:
		return nil, 0, fmt.Errorf("unsupported compression: %d", c)
	}
}

// decompress restores data compressed by compress. The uncompressed size
// must match exactly; a mismatch means the patch is corrupt.
func decompress(data []byte, c Compression, uncompressedSize int) ([]byte, error) {
	switch c {
	case CompressionNone:
		if len(data) != uncompressedSize {
			return nil, fmt.Errorf("uncompressed body: size %d does not match expected %d",
				len(data), uncompressedSize)
		}

		return data, nil

	case CompressionLZ4:
		return decompressLZ4(data, uncompressedSize)

	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(data, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}

		if len(result) != uncompressedSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d",
				len(result), uncompressedSize)
		}

		return result, nil

	default:
		return nil, fmt.Errorf("unsupported compression: %d", c)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))

	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}

	// CompressBlock returns 0 when it deems the data incompressible.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}

	return destination[:written], nil
}

func decompressLZ4(data []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, uncompressedSize)

	read, err := lz4.UncompressBlock(data, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}

	if read != uncompressedSize {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
	}

	return destination, nil
}
