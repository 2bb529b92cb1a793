package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstd() (*zstdCodec, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(MaxDecompressedSize),
	)
	if err != nil {
		_ = enc.Close()
		return nil, err
	}
	return &zstdCodec{enc: enc, dec: dec}, nil
}

func (c *zstdCodec) Name() string { return NameZstd }

// Compress emits a single frame; EncodeAll records the content size in the
// frame header.
func (c *zstdCodec) Compress(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return []byte{}, nil
	}
	return c.enc.EncodeAll(src, make([]byte, 0, len(src)/2+64)), nil
}

func (c *zstdCodec) Decompress(blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return []byte{}, nil
	}
	var h zstd.Header
	if err := h.Decode(blob); err != nil {
		return nil, fmt.Errorf("%w: zstd header: %v", ErrCorrupt, err)
	}
	capHint := 0
	if h.HasFCS {
		if err := checkSize(h.FrameContentSize); err != nil {
			return nil, err
		}
		capHint = int(h.FrameContentSize)
	}
	out, err := c.dec.DecodeAll(blob, make([]byte, 0, capHint))
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
	}
	if h.HasFCS && uint64(len(out)) != h.FrameContentSize {
		return nil, fmt.Errorf("%w: zstd size mismatch got=%d want=%d", ErrCorrupt, len(out), h.FrameContentSize)
	}
	return out, nil
}

func (c *zstdCodec) Close() {
	if c.enc != nil {
		_ = c.enc.Close()
	}
	if c.dec != nil {
		c.dec.Close()
	}
}
