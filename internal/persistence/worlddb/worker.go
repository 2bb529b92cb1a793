package worlddb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"voxelstore.ai/internal/persistence/codec"
	"voxelstore.ai/internal/persistence/idmap"
)

const formatVersion = 1

// worker is everything only the store goroutine may touch.
type worker struct {
	path  string
	db    *sql.DB
	codec codec.Codec
	ids   *idmap.GlobalMap
	dec   *idmap.RowDecoder

	players map[uuid.UUID]int64

	stmts statements

	grid      []uint16
	gridBytes []byte
}

type statements struct {
	chunkExists *sql.Stmt
	chunkSelect *sql.Stmt
	chunkUpsert *sql.Stmt
	sliceSelect *sql.Stmt
	sliceYs     *sql.Stmt
	sliceUpsert *sql.Stmt
	sliceDelete *sql.Stmt
	typeInsert  *sql.Stmt
}

func openWorker(path string, opts Options) (*worker, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	w := &worker{
		path:      path,
		db:        db,
		players:   map[uuid.UUID]int64{},
		grid:      make([]uint16, gridCells),
		gridBytes: make([]byte, gridCells*2),
	}
	fail := func(err error) (*worker, error) {
		_ = w.close()
		return nil, err
	}

	if err := initPragmas(db); err != nil {
		return fail(fmt.Errorf("worlddb: pragmas: %w", err))
	}
	if err := initSchema(db); err != nil {
		return fail(fmt.Errorf("worlddb: schema: %w", err))
	}
	codecName, err := initMeta(db, opts)
	if err != nil {
		return fail(fmt.Errorf("worlddb: meta: %w", err))
	}
	if w.codec, err = codec.New(codecName); err != nil {
		return fail(err)
	}
	if w.ids, err = loadTypeMap(db); err != nil {
		return fail(err)
	}
	w.dec = idmap.NewRowDecoder(w.ids)
	if err := w.loadPlayers(); err != nil {
		return fail(err)
	}
	if err := w.prepare(); err != nil {
		return fail(fmt.Errorf("worlddb: prepare: %w", err))
	}
	return w, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS world_info (
			name TEXT PRIMARY KEY,
			value BLOB,
			modified INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS type_map (
			blockId INTEGER PRIMARY KEY,
			blockUuid BLOB NOT NULL UNIQUE,
			created INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chunk (
			id INTEGER PRIMARY KEY,
			worldX INTEGER NOT NULL,
			worldZ INTEGER NOT NULL,
			metadata BLOB,
			modified INTEGER NOT NULL,
			UNIQUE (worldX, worldZ)
		);`,
		`CREATE TABLE IF NOT EXISTS chunk_slice (
			id INTEGER PRIMARY KEY,
			chunkId INTEGER NOT NULL REFERENCES chunk(id) ON DELETE CASCADE,
			chunkY INTEGER NOT NULL,
			blocks BLOB,
			blockMeta BLOB,
			modified INTEGER NOT NULL,
			UNIQUE (chunkId, chunkY)
		);`,
		`CREATE TABLE IF NOT EXISTS player (
			id INTEGER PRIMARY KEY,
			uuid BLOB NOT NULL UNIQUE
		);`,
		`CREATE TABLE IF NOT EXISTS player_info (
			playerId INTEGER NOT NULL REFERENCES player(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			value BLOB,
			PRIMARY KEY (playerId, name)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// initMeta records creation metadata on first use and returns the codec the
// file was created with.
func initMeta(db *sql.DB, opts Options) (string, error) {
	var recorded string
	err := db.QueryRow(`SELECT value FROM meta WHERE key='codec'`).Scan(&recorded)
	switch {
	case err == nil:
		if v, err := metaInt(db, "format_version"); err != nil {
			return "", err
		} else if v > formatVersion {
			return "", fmt.Errorf("file format %d is newer than supported %d", v, formatVersion)
		}
		if opts.Codec != "" && opts.Codec != recorded && opts.Logger != nil {
			opts.Logger.Printf("worlddb codec option=%s ignored; file uses codec=%s", opts.Codec, recorded)
		}
		return recorded, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", err
	}

	name := opts.Codec
	if name == "" {
		name = codec.NameZstd
	}
	c, err := codec.New(name)
	if err != nil {
		return "", err
	}
	name = c.Name()
	c.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	tx, err := db.Begin()
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()
	for k, v := range map[string]string{
		"format_version": strconv.Itoa(formatVersion),
		"created_at":     now,
		"codec":          name,
	} {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`, k, v); err != nil {
			return "", err
		}
	}
	return name, tx.Commit()
}

func metaInt(db *sql.DB, key string) (int, error) {
	var s string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key=?`, key).Scan(&s); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return strconv.Atoi(s)
}

func loadTypeMap(db *sql.DB) (*idmap.GlobalMap, error) {
	g := idmap.NewGlobalMap()
	rows, err := db.Query(`SELECT blockId, blockUuid FROM type_map ORDER BY blockId`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			code int64
			raw  []byte
		)
		if err := rows.Scan(&code, &raw); err != nil {
			return nil, err
		}
		id, err := uuid.FromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: type_map %d: %v", ErrCorrupt, code, err)
		}
		if code < 0 || code > 0xFFFF {
			return nil, fmt.Errorf("%w: type_map code %d out of range", ErrCorrupt, code)
		}
		if err := g.Load(uint16(code), id); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	}
	return g, rows.Err()
}

func (w *worker) loadPlayers() error {
	rows, err := w.db.Query(`SELECT id, uuid FROM player`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id  int64
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return err
		}
		p, err := uuid.FromBytes(raw)
		if err != nil {
			return fmt.Errorf("%w: player %d: %v", ErrCorrupt, id, err)
		}
		w.players[p] = id
	}
	return rows.Err()
}

func (w *worker) prepare() error {
	var err error
	prep := func(dst **sql.Stmt, q string) {
		if err != nil {
			return
		}
		*dst, err = w.db.Prepare(q)
	}
	prep(&w.stmts.chunkExists, `SELECT 1 FROM chunk WHERE worldX=? AND worldZ=?`)
	prep(&w.stmts.chunkSelect, `SELECT id, metadata FROM chunk WHERE worldX=? AND worldZ=?`)
	prep(&w.stmts.chunkUpsert, `INSERT INTO chunk(worldX,worldZ,metadata,modified) VALUES(?,?,?,?)
		ON CONFLICT(worldX,worldZ) DO UPDATE SET metadata=excluded.metadata, modified=excluded.modified
		RETURNING id`)
	prep(&w.stmts.sliceSelect, `SELECT chunkY, blocks, blockMeta FROM chunk_slice WHERE chunkId=? ORDER BY chunkY`)
	prep(&w.stmts.sliceYs, `SELECT chunkY FROM chunk_slice WHERE chunkId=?`)
	prep(&w.stmts.sliceUpsert, `INSERT INTO chunk_slice(chunkId,chunkY,blocks,blockMeta,modified) VALUES(?,?,?,?,?)
		ON CONFLICT(chunkId,chunkY) DO UPDATE SET blocks=excluded.blocks, blockMeta=excluded.blockMeta, modified=excluded.modified`)
	prep(&w.stmts.sliceDelete, `DELETE FROM chunk_slice WHERE chunkId=? AND chunkY=?`)
	prep(&w.stmts.typeInsert, `INSERT INTO type_map(blockId,blockUuid,created) VALUES(?,?,?)`)
	return err
}

func (w *worker) close() error {
	for _, st := range []*sql.Stmt{
		w.stmts.chunkExists, w.stmts.chunkSelect, w.stmts.chunkUpsert, w.stmts.sliceSelect,
		w.stmts.sliceYs, w.stmts.sliceUpsert, w.stmts.sliceDelete, w.stmts.typeInsert,
	} {
		if st != nil {
			_ = st.Close()
		}
	}
	if w.codec != nil {
		w.codec.Close()
	}
	return w.db.Close()
}

// handle runs r and completes its future on success; errors are returned to
// the caller, which rejects the future.
func (w *worker) handle(s *Store, r request) error {
	ctx := context.Background()
	switch r.kind {
	case reqChunkExists:
		ok, err := w.chunkExists(ctx, r.x, r.z)
		if err != nil {
			return err
		}
		r.boolP.Resolve(ok)
	case reqExtents:
		ext, err := w.extents(ctx)
		if err != nil {
			return err
		}
		r.extentsP.Resolve(ext)
	case reqGetChunk:
		c, err := w.getChunk(ctx, r.x, r.z)
		if err != nil {
			return err
		}
		s.chunksRead.Add(1)
		r.chunkP.Resolve(c)
	case reqPutChunk:
		if err := w.putChunk(ctx, r.chunk); err != nil {
			s.printf("worlddb put chunk x=%d z=%d err=%v", r.chunk.X(), r.chunk.Z(), err)
			return err
		}
		s.chunksWritten.Add(1)
		s.globalIDs.Store(int64(w.ids.Len()))
		r.boolP.Resolve(true)
	case reqDeleteChunk:
		ok, err := w.deleteChunk(ctx, r.x, r.z)
		if err != nil {
			return err
		}
		r.boolP.Resolve(ok)
	case reqListChunks:
		keys, err := w.listChunks(ctx)
		if err != nil {
			return err
		}
		r.keysP.Resolve(keys)
	case reqGetWorldInfo:
		v, err := w.getWorldInfo(ctx, r.key)
		if err != nil {
			return err
		}
		r.valueP.Resolve(v)
	case reqSetWorldInfo:
		if err := w.setWorldInfo(ctx, r.key, r.value); err != nil {
			return err
		}
		r.boolP.Resolve(true)
	case reqWorldInfoKeys:
		keys, err := w.worldInfoKeys(ctx)
		if err != nil {
			return err
		}
		r.namesP.Resolve(keys)
	case reqRegisterPlayer:
		id, err := w.registerPlayer(ctx, r.player)
		if err != nil {
			return err
		}
		s.players.Store(int64(len(w.players)))
		r.intP.Resolve(id)
	case reqGetPlayerInfo:
		v, err := w.getPlayerInfo(ctx, r.player, r.key)
		if err != nil {
			return err
		}
		r.valueP.Resolve(v)
	case reqSetPlayerInfo:
		if err := w.setPlayerInfo(ctx, r.player, r.key, r.value); err != nil {
			return err
		}
		r.boolP.Resolve(true)
	case reqDBSize:
		n, err := w.dbSize(ctx)
		if err != nil {
			return err
		}
		r.intP.Resolve(n)
	default:
		return fmt.Errorf("worlddb: unknown request kind %d", r.kind)
	}
	return nil
}

func (w *worker) dbSize(ctx context.Context) (int64, error) {
	var pages, size int64
	if err := w.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pages); err != nil {
		return 0, err
	}
	if err := w.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&size); err != nil {
		return 0, err
	}
	// Pages not yet checkpointed live in the -wal file.
	var wal int64
	if fi, err := os.Stat(w.path + "-wal"); err == nil {
		wal = fi.Size()
	} else if !errors.Is(err, fs.ErrNotExist) {
		return 0, err
	}
	return pages*size + wal, nil
}
