package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Header is written as a JSON line ahead of the gob body so tools can read it
// without decoding the whole archive.
type Header struct {
	Version   int    `json:"version"`
	WorldID   string `json:"world_id"`
	Chunks    int    `json:"chunks"`
	CreatedAt string `json:"created_at"`
}

// SnapshotV1 is a store-independent copy of a world: block identifiers go
// through a palette local to the snapshot, so it can be imported into a file
// with a different global code table.
type SnapshotV1 struct {
	Header Header `json:"header"`

	// Palette[0] is always air.
	Palette   []string          `json:"palette"`
	WorldInfo map[string][]byte `json:"world_info,omitempty"`
	Chunks    []ChunkV1         `json:"chunks"`
}

type ChunkV1 struct {
	CX     int       `json:"cx"`
	CZ     int       `json:"cz"`
	Meta   []MetaV1  `json:"meta,omitempty"`
	Slices []SliceV1 `json:"slices"`
}

// SliceV1 holds one Y layer. Blocks is the RLE of palette indices in
// z-major order; it is empty for a layer that only carries block metadata.
type SliceV1 struct {
	Y         int           `json:"y"`
	Blocks    string        `json:"blocks,omitempty"`
	BlockMeta []BlockMetaV1 `json:"block_meta,omitempty"`
}

type BlockMetaV1 struct {
	X     int      `json:"x"`
	Z     int      `json:"z"`
	Props []MetaV1 `json:"props"`
}

type MetaV1 struct {
	Key  string  `json:"key"`
	Kind uint8   `json:"kind"`
	S    string  `json:"s,omitempty"`
	F    float64 `json:"f,omitempty"`
	I    int64   `json:"i,omitempty"`
}

const Version = 1

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version > Version {
		return snap, fmt.Errorf("snapshot version %d is newer than %d", snap.Header.Version, Version)
	}
	return snap, nil
}

// ReadHeader returns only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, err
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	return h, nil
}
