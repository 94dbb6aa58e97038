package compressors

import (
	"fmt"
	"sync"

	"github.com/INLOpen/lender/core"
	"github.com/klauspost/compress/zstd"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/parquet-go/parquet-go/format"
)

// ZstdCodec compresses parquet pages with zstd frames.
// EncodeAll/DecodeAll are safe for concurrent use, so a single encoder and
// decoder are shared and created lazily.
type ZstdCodec struct {
	once    sync.Once
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	initErr error
}

var _ compress.Codec = (*ZstdCodec)(nil)

func NewZstdCodec() *ZstdCodec {
	return &ZstdCodec{}
}

func (c *ZstdCodec) init() error {
	c.once.Do(func() {
		c.encoder, c.initErr = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if c.initErr != nil {
			return
		}
		c.decoder, c.initErr = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(100*1024*1024),
		)
	})
	return c.initErr
}

func (c *ZstdCodec) String() string { return core.CompressionZSTD.String() }

func (c *ZstdCodec) CompressionCodec() format.CompressionCodec { return format.Zstd }

func (c *ZstdCodec) Encode(dst, src []byte) ([]byte, error) {
	if err := c.init(); err != nil {
		return dst[:0], fmt.Errorf("zstd encoder init error: %w", err)
	}
	return c.encoder.EncodeAll(src, dst[:0]), nil
}

func (c *ZstdCodec) Decode(dst, src []byte) ([]byte, error) {
	if err := c.init(); err != nil {
		return dst[:0], fmt.Errorf("zstd decoder init error: %w", err)
	}
	out, err := c.decoder.DecodeAll(src, dst[:0])
	if err != nil {
		return dst[:0], fmt.Errorf("zstd decompress error: %w", err)
	}
	return out, nil
}
