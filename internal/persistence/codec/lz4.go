package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// lz4Codec writes LZ4 frames with the content size option set.
type lz4Codec struct {
	buf bytes.Buffer
}

func (c *lz4Codec) Name() string { return NameLZ4 }

func (c *lz4Codec) Compress(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return []byte{}, nil
	}
	c.buf.Reset()
	w := lz4.NewWriter(&c.buf)
	if err := w.Apply(lz4.SizeOption(uint64(len(src)))); err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	out := make([]byte, c.buf.Len())
	copy(out, c.buf.Bytes())
	return out, nil
}

func (c *lz4Codec) Decompress(blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return []byte{}, nil
	}
	r := lz4.NewReader(bytes.NewReader(blob))
	out, err := io.ReadAll(io.LimitReader(r, MaxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
	}
	if err := checkSize(uint64(len(out))); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *lz4Codec) Close() {}
