package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"voxelstore.ai/internal/persistence/worlddb"
	"voxelstore.ai/internal/sim/tuning"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "info":
			infoCmd(os.Args[2:])
			return
		case "chunk":
			chunkCmd(os.Args[2:])
			return
		case "export":
			exportCmd(os.Args[2:])
			return
		case "import":
			importCmd(os.Args[2:])
			return
		case "gen":
			genCmd(os.Args[2:])
			return
		case "archive":
			archiveCmd(os.Args[2:])
			return
		case "flushes":
			flushesCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "worlds"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		if e.IsDir() {
			fmt.Println(e.Name())
		}
	}
}

// worldFlags are shared by every subcommand that opens a world.
type worldFlags struct {
	dataDir *string
	worldID *string
	dbPath  *string
	tuning  *string
}

func addWorldFlags(fs *flag.FlagSet) worldFlags {
	return worldFlags{
		dataDir: fs.String("data", "./data", "runtime data directory"),
		worldID: fs.String("world", "", "world id (required unless -db)"),
		dbPath:  fs.String("db", "", "world database path (optional)"),
		tuning:  fs.String("tuning", "", "tuning yaml (optional)"),
	}
}

func (f worldFlags) worldDir() string {
	if strings.TrimSpace(*f.worldID) == "" {
		if p := strings.TrimSpace(*f.dbPath); p != "" {
			return filepath.Dir(p)
		}
		fmt.Fprintln(os.Stderr, "missing -world or -db")
		os.Exit(2)
	}
	return filepath.Join(*f.dataDir, "worlds", *f.worldID)
}

func (f worldFlags) path() string {
	if p := strings.TrimSpace(*f.dbPath); p != "" {
		return p
	}
	return filepath.Join(f.worldDir(), "world.db")
}

func (f worldFlags) id() string {
	if id := strings.TrimSpace(*f.worldID); id != "" {
		return id
	}
	return strings.TrimSuffix(filepath.Base(f.path()), filepath.Ext(f.path()))
}

func (f worldFlags) loadTuning() tuning.Tuning {
	p := strings.TrimSpace(*f.tuning)
	if p == "" {
		return tuning.Defaults()
	}
	t, err := tuning.Load(p)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tuning:", err)
		os.Exit(2)
	}
	return t
}

func (f worldFlags) open(create bool, logger *log.Logger) *worlddb.Store {
	path := f.path()
	if create {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			fmt.Fprintln(os.Stderr, "mkdir:", err)
			os.Exit(1)
		}
	}
	st, err := worlddb.Open(path, f.loadTuning().StoreOptions(create, logger))
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	return st
}

func newLogger() *log.Logger {
	return log.New(os.Stdout, "[admin] ", log.LstdFlags|log.Lmicroseconds)
}

func fatal(what string, err error) {
	fmt.Fprintln(os.Stderr, what+":", err)
	os.Exit(1)
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
