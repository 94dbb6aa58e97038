package compressors

import (
	"fmt"

	"github.com/INLOpen/lender/core"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/parquet-go/parquet-go/format"
)

// NoCompressionCodec stores pages as is.
type NoCompressionCodec struct{}

var _ compress.Codec = (*NoCompressionCodec)(nil)

func (c *NoCompressionCodec) String() string { return core.CompressionNone.String() }

func (c *NoCompressionCodec) CompressionCodec() format.CompressionCodec {
	return format.Uncompressed
}

func (c *NoCompressionCodec) Encode(dst, src []byte) ([]byte, error) {
	return append(dst[:0], src...), nil
}

func (c *NoCompressionCodec) Decode(dst, src []byte) ([]byte, error) {
	return append(dst[:0], src...), nil
}

// ForType returns the page codec for a compression type.
func ForType(ct core.CompressionType) (compress.Codec, error) {
	switch ct {
	case core.CompressionNone:
		return &NoCompressionCodec{}, nil
	case core.CompressionSnappy:
		return NewSnappyCodec(), nil
	case core.CompressionLZ4:
		return NewLZ4Codec(), nil
	case core.CompressionZSTD:
		return NewZstdCodec(), nil
	default:
		return nil, fmt.Errorf("no codec for compression type %d", ct)
	}
}
