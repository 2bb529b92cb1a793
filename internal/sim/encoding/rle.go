// Package encoding holds the run-length form used for slice cells in world
// snapshots.
package encoding

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrLength = errors.New("encoding: run length does not match buffer")

// EncodeRLE encodes ids as base64 of uvarint (value, run) pairs.
func EncodeRLE(ids []uint16) string {
	return base64.StdEncoding.EncodeToString(AppendRLE(nil, ids))
}

// AppendRLE appends the raw pair stream for ids to dst.
func AppendRLE(dst []byte, ids []uint16) []byte {
	for i := 0; i < len(ids); {
		v := ids[i]
		j := i + 1
		for j < len(ids) && ids[j] == v {
			j++
		}
		dst = binary.AppendUvarint(dst, uint64(v))
		dst = binary.AppendUvarint(dst, uint64(j-i))
		i = j
	}
	return dst
}

// DecodeRLEInto fills dst exactly; a stream that is shorter or longer than
// dst fails with ErrLength.
func DecodeRLEInto(b64 string, dst []uint16) error {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return err
	}
	n := 0
	err = eachRun(raw, func(v uint16, run uint64) error {
		if uint64(n)+run > uint64(len(dst)) {
			return fmt.Errorf("%w: more than %d values", ErrLength, len(dst))
		}
		for k := uint64(0); k < run; k++ {
			dst[n] = v
			n++
		}
		return nil
	})
	if err != nil {
		return err
	}
	if n != len(dst) {
		return fmt.Errorf("%w: %d values, want %d", ErrLength, n, len(dst))
	}
	return nil
}

func eachRun(raw []byte, fn func(v uint16, run uint64) error) error {
	for i := 0; i < len(raw); {
		v, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return fmt.Errorf("encoding: bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return fmt.Errorf("encoding: bad varint at %d", i)
		}
		i += n
		if v > 0xFFFF {
			return fmt.Errorf("encoding: value too large: %d", v)
		}
		if run == 0 {
			return fmt.Errorf("encoding: empty run at %d", i)
		}
		if err := fn(uint16(v), run); err != nil {
			return err
		}
	}
	return nil
}
