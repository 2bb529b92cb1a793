package codec

import (
	"fmt"

	"github.com/golang/snappy"
)

// snappyCodec uses the block format, whose varint preamble is the decoded
// length.
type snappyCodec struct {
	scratch []byte
}

func (c *snappyCodec) Name() string { return NameSnappy }

func (c *snappyCodec) Compress(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return []byte{}, nil
	}
	c.scratch = snappy.Encode(c.scratch[:cap(c.scratch)], src)
	out := make([]byte, len(c.scratch))
	copy(out, c.scratch)
	return out, nil
}

func (c *snappyCodec) Decompress(blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return []byte{}, nil
	}
	n, err := snappy.DecodedLen(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: snappy: %v", ErrCorrupt, err)
	}
	if err := checkSize(uint64(n)); err != nil {
		return nil, err
	}
	out, err := snappy.Decode(make([]byte, n), blob)
	if err != nil {
		return nil, fmt.Errorf("%w: snappy: %v", ErrCorrupt, err)
	}
	return out, nil
}

func (c *snappyCodec) Close() {}
