package tuning

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoad_RepoConfig(t *testing.T) {
	got, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Source.DebounceFrames != 150 || got.Source.MaxWaitFrames != 1800 {
		t.Fatalf("source=%+v", got.Source)
	}
	if got.Store.Codec != "zstd" {
		t.Fatalf("codec=%q", got.Store.Codec)
	}
}

func TestLoad_PartialKeepsDefaults(t *testing.T) {
	p := writeYAML(t, "source:\n  debounce_frames: 5\nstore:\n  codec: lz4\n")
	got, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Source.DebounceFrames != 5 {
		t.Fatalf("debounce=%d", got.Source.DebounceFrames)
	}
	if got.Source.MaxWaitFrames != 1800 || got.Source.MaxPromotionsPerFrame != 2 {
		t.Fatalf("defaults lost: %+v", got.Source)
	}
	opts := got.StoreOptions(true, nil)
	if opts.Codec != "lz4" || !opts.Create || opts.QueueCapacity != 4096 {
		t.Fatalf("options=%+v", opts)
	}
	cfg := got.SourceConfig(nil, nil)
	if cfg.DebounceFrames != 5 || cfg.WriteQueueCapacity != 256 {
		t.Fatalf("config=%+v", cfg)
	}
}

func TestLoad_RejectsSchemaViolations(t *testing.T) {
	for name, body := range map[string]string{
		"unknown codec":   "store:\n  codec: gzip\n",
		"unknown key":     "source:\n  debounce: 5\n",
		"negative":        "source:\n  max_wait_frames: -1\n",
		"wrong type":      "source:\n  persist_generated: maybe\n",
		"sea level range": "generator:\n  sea_level: 300\n",
	} {
		if _, err := Load(writeYAML(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoad_EmptyFileIsDefaults(t *testing.T) {
	got, err := Load(writeYAML(t, ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != Defaults() {
		t.Fatalf("got %+v", got)
	}
	if got.FrameInterval() != 16*time.Millisecond {
		t.Fatalf("interval=%v", got.FrameInterval())
	}
}
