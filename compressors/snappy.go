package compressors

import (
	"fmt"

	"github.com/INLOpen/lender/core"
	"github.com/golang/snappy"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/parquet-go/parquet-go/format"
)

// SnappyCodec compresses parquet pages with raw (block format) Snappy,
// which is what the parquet SNAPPY codec id expects.
type SnappyCodec struct{}

var _ compress.Codec = (*SnappyCodec)(nil)

func NewSnappyCodec() *SnappyCodec {
	return &SnappyCodec{}
}

func (c *SnappyCodec) String() string { return core.CompressionSnappy.String() }

func (c *SnappyCodec) CompressionCodec() format.CompressionCodec { return format.Snappy }

func (c *SnappyCodec) Encode(dst, src []byte) ([]byte, error) {
	// The stream format (snappy.NewBufferedWriter) is not readable by other
	// parquet implementations; only the block format is.
	return snappy.Encode(dst[:cap(dst)], src), nil
}

func (c *SnappyCodec) Decode(dst, src []byte) ([]byte, error) {
	out, err := snappy.Decode(dst[:cap(dst)], src)
	if err != nil {
		return dst[:0], fmt.Errorf("snappy decompress error: %w", err)
	}
	return out, nil
}
