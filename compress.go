package frost

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the compression algorithm applied to a frozen
// payload. Tags are stored in the envelope header (1 byte); changing
// them breaks wire compatibility.
type Compression uint8

const (
	// None stores the payload uncompressed. The automatic mode selects
	// it for small or incompressible payloads.
	None Compression = 0

	// LZ4 applies LZ4 block compression. Fast default with a modest
	// ratio; what the automatic mode selects when compression pays off.
	LZ4 Compression = 1

	// Zstd applies zstd compression at the default level. Better ratios
	// for large, text-like payloads at a higher CPU cost.
	Zstd Compression = 2

	// Auto is not a wire value: at freeze time it resolves to None or
	// LZ4 depending on payload size and compressibility.
	Auto Compression = 0xFF
)

// String returns the human-readable name of a compression tag.
func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	case Auto:
		return "auto"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a compression tag from its string
// representation.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	case "auto":
		return Auto, nil
	default:
		return 0, fmt.Errorf("unknown compression tag: %q", name)
	}
}

// zstdEncoder and zstdDecoder are reused across calls to avoid repeated
// initialization overhead; both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("frost: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("frost: zstd decoder initialization failed: " + err.Error())
	}
}

// compress compresses data with the given algorithm. It returns
// errIncompressible when the output would not be smaller than the
// input; the caller falls back to None.
func compress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case LZ4:
		bound := lz4.CompressBlockBound(len(data))
		destination := make([]byte, bound)
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// CompressBlock returns 0 when it determines the data is
		// incompressible.
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return destination[:written], nil

	case Zstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", c)
	}
}

// decompress reverses compress. The uncompressedSize must match the
// original payload length exactly; a mismatch returns an error rather
// than silently truncated data.
func decompress(compressed []byte, c Compression, uncompressedSize int) ([]byte, error) {
	switch c {
	case LZ4:
		destination := make([]byte, uncompressedSize)
		read, err := lz4.UncompressBlock(compressed, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != uncompressedSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
		}
		return destination, nil

	case Zstd:
		destination := make([]byte, 0, uncompressedSize)
		result, err := zstdDecoder.DecodeAll(compressed, destination)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != uncompressedSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), uncompressedSize)
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", c)
	}
}

// errIncompressible is returned by compress when the compressed output
// is not smaller than the input.
var errIncompressible = fmt.Errorf("data is incompressible")
