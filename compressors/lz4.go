package compressors

import (
	"errors"
	"fmt"

	"github.com/INLOpen/lender/core"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/parquet-go/parquet-go/format"
	lz4 "github.com/pierrec/lz4/v4"
)

// maxLZ4DecodeSize bounds the buffer growth in Decode.
const maxLZ4DecodeSize = 256 * 1024 * 1024

// LZ4Codec compresses parquet pages with the raw LZ4 block format (LZ4_RAW).
type LZ4Codec struct{}

var _ compress.Codec = (*LZ4Codec)(nil)

func NewLZ4Codec() *LZ4Codec {
	return &LZ4Codec{}
}

func (c *LZ4Codec) String() string { return core.CompressionLZ4.String() }

func (c *LZ4Codec) CompressionCodec() format.CompressionCodec { return format.Lz4Raw }

func (c *LZ4Codec) Encode(dst, src []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(src))
	if cap(dst) < bound {
		dst = make([]byte, bound)
	}
	dst = dst[:bound]
	n, err := lz4.CompressBlock(src, dst, nil)
	if err != nil {
		return dst[:0], fmt.Errorf("lz4 compress error: %w", err)
	}
	if n == 0 && len(src) > 0 {
		// Incompressible input: emit a literal-only block so Decode still works.
		return c.encodeLiterals(dst[:0], src), nil
	}
	return dst[:n], nil
}

// encodeLiterals writes src as a single LZ4 sequence with no match.
func (c *LZ4Codec) encodeLiterals(dst, src []byte) []byte {
	n := len(src)
	if n < 15 {
		dst = append(dst, byte(n<<4))
	} else {
		dst = append(dst, 0xF0)
		rest := n - 15
		for rest >= 255 {
			dst = append(dst, 255)
			rest -= 255
		}
		dst = append(dst, byte(rest))
	}
	return append(dst, src...)
}

func (c *LZ4Codec) Decode(dst, src []byte) ([]byte, error) {
	if len(src) == 0 {
		return dst[:0], nil
	}
	// The block format does not store the decoded size, so grow until it fits.
	size := cap(dst)
	if floor := len(src) * 3; size < floor {
		size = floor
	}
	if size < 1024 {
		size = 1024
	}
	for {
		if cap(dst) < size {
			dst = make([]byte, size)
		}
		dst = dst[:size]
		n, err := lz4.UncompressBlock(src, dst)
		if err == nil {
			return dst[:n], nil
		}
		if !errors.Is(err, lz4.ErrInvalidSourceShortBuffer) {
			return dst[:0], fmt.Errorf("lz4 decompress error: %w", err)
		}
		if size > maxLZ4DecodeSize {
			return dst[:0], fmt.Errorf("lz4 decompression buffer grew too large (>%d bytes)", maxLZ4DecodeSize)
		}
		size *= 2
	}
}
