// Package codec compresses the blobs written to a world file.
//
// Every codec maps an empty input to an empty output in both directions, so a
// zero-length column means "absent" rather than "empty but present".
// A Codec instance is not safe for concurrent use; give each worker its own.
package codec

import (
	"errors"
	"fmt"
	"strings"
)

// MaxDecompressedSize bounds the declared size of any frame we are willing to
// inflate.
const MaxDecompressedSize = 128 << 20

var ErrCorrupt = errors.New("codec: corrupt frame")

const (
	NameZstd   = "zstd"
	NameLZ4    = "lz4"
	NameSnappy = "snappy"
)

type Codec interface {
	Name() string
	Compress(src []byte) ([]byte, error)
	Decompress(blob []byte) ([]byte, error)
	Close()
}

// New returns a codec by name. The empty name selects zstd.
func New(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameZstd:
		return newZstd()
	case NameLZ4:
		return &lz4Codec{}, nil
	case NameSnappy:
		return &snappyCodec{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}

func checkSize(n uint64) error {
	if n > MaxDecompressedSize {
		return fmt.Errorf("%w: declared size %d exceeds %d", ErrCorrupt, n, MaxDecompressedSize)
	}
	return nil
}
