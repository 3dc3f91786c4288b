// Package frost freezes Go values into compact binary envelopes and
// thaws them back.
//
// The engine itself handles plain data: numbers, strings, byte slices,
// maps, slices, and structs encode as deterministic CBOR, so freezing
// the same logical value twice produces identical bytes. Everything
// beyond plain data is handled through extensions: a registered hook
// decomposes a value into component values on freeze and rebuilds it on
// thaw, with the wire tag of the group identifying the hook. The fn
// subpackage uses this surface to make function values freezable by
// identity and captured state.
//
// Envelope layout:
//
//	byte 0-1  magic "fZ"
//	byte 2    format version
//	byte 3    compression tag
//	uvarint   uncompressed payload size (only when compressed)
//	...       payload: one CBOR item, possibly compressed
package frost

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	magic0  = 'f'
	magic1  = 'Z'
	version = 1
)

const headerSize = 4

// Payloads below this size are not worth probing for compression.
const autoCompressMin = 512

type config struct {
	compression Compression
}

// Option configures a call to Freeze.
type Option func(*config)

// WithCompression selects the compression applied to the frozen
// payload. The default is Auto: small payloads are stored as-is, larger
// ones are LZ4-compressed when that actually shrinks them.
func WithCompression(c Compression) Option {
	return func(cfg *config) { cfg.compression = c }
}

// Freeze encodes v into a frozen envelope.
func Freeze(v any, opts ...Option) ([]byte, error) {
	cfg := config{compression: Auto}
	for _, opt := range opts {
		opt(&cfg)
	}
	payload, err := encodeValue(v)
	if err != nil {
		return nil, err
	}
	return seal(payload, cfg.compression)
}

// Thaw decodes a frozen envelope back into a value.
//
// Values frozen through an extension come back with the type the
// extension rebuilds. Plain values come back in CBOR's dynamic mapping:
// maps as map[string]any, arrays as []any, integers as int64 or uint64.
func Thaw(data []byte) (any, error) {
	payload, err := unseal(data)
	if err != nil {
		return nil, err
	}
	return decodeValue(payload)
}

// FreezeTo writes the frozen envelope for v to w.
func FreezeTo(w io.Writer, v any, opts ...Option) error {
	data, err := Freeze(v, opts...)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ThawFrom reads r to EOF and thaws the envelope it holds.
func ThawFrom(r io.Reader) (any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Thaw(data)
}

func seal(payload []byte, c Compression) ([]byte, error) {
	tag := c
	data := payload
	switch c {
	case None:
	case Auto:
		tag = None
		if len(payload) >= autoCompressMin {
			compressed, err := compress(payload, LZ4)
			switch {
			case err == nil:
				tag, data = LZ4, compressed
			case err != errIncompressible:
				return nil, err
			}
		}
	default:
		compressed, err := compress(payload, c)
		switch {
		case err == nil:
			data = compressed
		case err == errIncompressible:
			tag = None
		default:
			return nil, err
		}
	}

	out := make([]byte, 0, headerSize+binary.MaxVarintLen64+len(data))
	out = append(out, magic0, magic1, version, byte(tag))
	if tag != None {
		out = binary.AppendUvarint(out, uint64(len(payload)))
	}
	return append(out, data...), nil
}

func unseal(data []byte) ([]byte, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("frost: truncated envelope: %d bytes", len(data))
	}
	if data[0] != magic0 || data[1] != magic1 {
		return nil, fmt.Errorf("frost: bad envelope magic %#02x%02x", data[0], data[1])
	}
	if data[2] != version {
		return nil, fmt.Errorf("frost: unsupported format version %d", data[2])
	}
	tag := Compression(data[3])
	rest := data[headerSize:]
	if tag == None {
		return rest, nil
	}
	size, n := binary.Uvarint(rest)
	if n <= 0 {
		return nil, fmt.Errorf("frost: truncated envelope: missing payload size")
	}
	compressed := rest[n:]
	// The declared size is untrusted input; neither lz4 nor zstd expands
	// beyond this factor, so anything larger is a malformed or hostile
	// envelope and must not drive the allocation below.
	if size > uint64(len(compressed))*maxExpansionFactor {
		return nil, fmt.Errorf("frost: implausible payload size %d for %d compressed bytes", size, len(compressed))
	}
	return decompress(compressed, tag, int(size))
}

const maxExpansionFactor = 1 << 10
