package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"voxelstore.ai/internal/sim/worldsource"
)

func flushesCmd(args []string) {
	fs := flag.NewFlagSet("flushes", flag.ExitOnError)
	wf := addWorldFlags(fs)
	failedOnly := fs.Bool("failed", false, "only failed writes")
	limit := fs.Int("limit", 0, "print at most the last N records (0 = all)")
	_ = fs.Parse(args)

	recs, err := readFlushes(filepath.Join(wf.worldDir(), "flushes"), *failedOnly)
	if err != nil {
		fatal("read flushes", err)
	}
	if *limit > 0 && len(recs) > *limit {
		recs = recs[len(recs)-*limit:]
	}
	for _, r := range recs {
		printJSON(r)
	}
}

// readFlushes returns journal records in write order.
func readFlushes(dir string, failedOnly bool) ([]worldsource.WriteRecord, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "flushes-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var out []worldsource.WriteRecord
	for _, name := range names {
		recs, err := readFlushFile(filepath.Join(dir, name), failedOnly)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

func readFlushFile(path string, failedOnly bool) ([]worldsource.WriteRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []worldsource.WriteRecord
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var r worldsource.WriteRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if failedOnly && r.OK {
			continue
		}
		out = append(out, r)
	}
	return out, sc.Err()
}
