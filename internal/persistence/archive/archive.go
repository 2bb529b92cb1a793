package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"voxelstore.ai/internal/persistence/snapshot"
)

type Meta struct {
	WorldID   string `json:"world_id"`
	Chunks    int    `json:"chunks"`
	Palette   int    `json:"palette"`
	Snapshot  string `json:"snapshot"`
	Exported  string `json:"exported_at"`
	CreatedAt string `json:"created_at"`
}

// ArchiveSnapshot copies an exported snapshot into
// `worldDir/archives/<UTC stamp>/` next to a meta.json describing it, and
// returns the archived path.
func ArchiveSnapshot(worldDir, snapshotPath string, snap snapshot.SnapshotV1) (string, error) {
	return archiveAt(worldDir, snapshotPath, snap, time.Now().UTC())
}

func archiveAt(worldDir, snapshotPath string, snap snapshot.SnapshotV1, now time.Time) (string, error) {
	stamp := now.Format("20060102T150405Z")
	archiveDir := filepath.Join(worldDir, "archives", stamp)
	for i := 1; ; i++ {
		if _, err := os.Stat(archiveDir); os.IsNotExist(err) {
			break
		}
		archiveDir = filepath.Join(worldDir, "archives", fmt.Sprintf("%s_%d", stamp, i))
	}
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", err
	}

	meta := Meta{
		WorldID:   snap.Header.WorldID,
		Chunks:    snap.Header.Chunks,
		Palette:   len(snap.Palette),
		Snapshot:  filepath.Base(dst),
		Exported:  snap.Header.CreatedAt,
		CreatedAt: now.Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644); err != nil {
		return "", err
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
