package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelstore.ai/internal/sim/worldsource"
)

func TestFlushLogger_WritesCompressedJSONL(t *testing.T) {
	dir := t.TempDir()
	l := NewFlushLogger(dir)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.w.now = func() time.Time { return fixed }
	recs := []worldsource.WriteRecord{
		{X: 1, Z: 2, OK: true, Ms: 3},
		{X: -4, Z: 0, Forced: true, Err: "disk full"},
	}
	for _, r := range recs {
		if err := l.WriteFlush(r); err != nil {
			t.Fatalf("WriteFlush: %v", err)
		}
	}
	if n := l.w.Lines(); n != 2 {
		t.Fatalf("Lines=%d", n)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "flushes", "flushes-2026-01-02-03.jsonl.zst"))
	if err != nil || len(files) != 1 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	f, err := os.Open(files[0])
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()

	var got []worldsource.WriteRecord
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var r worldsource.WriteRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		got = append(got, r)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 2 || got[0] != recs[0] || got[1] != recs[1] {
		t.Fatalf("records=%+v", got)
	}
}

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "x")
	now := time.Date(2026, 1, 2, 3, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return now }
	if err := w.Write(map[string]int{"a": 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"a": 2}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, hour := range []string{"2026-01-02-03", "2026-01-02-04"} {
		if _, err := os.Stat(filepath.Join(dir, "x-"+hour+".jsonl.zst")); err != nil {
			t.Fatalf("missing file for %s: %v", hour, err)
		}
	}
}
