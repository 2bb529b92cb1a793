package worlddb

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"voxelstore.ai/internal/async"
	"voxelstore.ai/internal/persistence/codec"
	"voxelstore.ai/internal/sim/world/terrain/chunk"
)

func wait[T any](t *testing.T, f *async.Future[T]) T {
	t.Helper()
	v, err := f.Wait()
	if err != nil {
		t.Fatalf("future: %v", err)
	}
	return v
}

func openTemp(t *testing.T, opts Options) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "world.db")
	opts.Create = true
	s, err := Open(path, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, path
}

func reopen(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	return s
}

func rawDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEndToEnd_FilledSliceSurvivesReopen(t *testing.T) {
	s, path := openTemp(t, Options{})
	b := uuid.New()

	c := chunk.New(0, 0)
	if err := c.Fill(5, b); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	c.SetMeta("k", chunk.StringValue("v"))
	if ok := wait(t, s.PutChunk(c)); !ok {
		t.Fatalf("PutChunk returned false")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s = reopen(t, path)
	defer s.Close()
	got := wait(t, s.GetChunk(0, 0))
	for y := 0; y < chunk.Height; y++ {
		if got.HasSlice(y) != (y == 5) {
			t.Fatalf("slice y=%d present=%v", y, got.HasSlice(y))
		}
	}
	for z := 0; z < chunk.Width; z++ {
		for x := 0; x < chunk.Width; x++ {
			if id := got.Block(x, 5, z); id != b {
				t.Fatalf("block (%d,5,%d)=%v want %v", x, z, id, b)
			}
		}
	}
	meta := got.MetaEntries()
	if v, ok := meta["k"]; len(meta) != 1 || !ok || !v.Equal(chunk.StringValue("v")) {
		t.Fatalf("meta=%v", meta)
	}
}

func mixedChunk(t *testing.T) (*chunk.Chunk, []chunk.BlockID) {
	t.Helper()
	ids := []chunk.BlockID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	c := chunk.New(3, -7)

	// y=10 z=0: sparse, mostly ids[0].
	if err := c.Fill(10, ids[0]); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	for x := 0; x < 40; x++ {
		if err := c.SetBlock(x*6, 10, 0, ids[1]); err != nil {
			t.Fatalf("SetBlock: %v", err)
		}
	}
	// y=10 z=1: dense, three ids in rotation plus air.
	for x := 0; x < chunk.Width; x++ {
		id := ids[x%4]
		if x%4 == 3 {
			id = chunk.Air
		}
		if err := c.SetBlock(x, 10, 1, id); err != nil {
			t.Fatalf("SetBlock: %v", err)
		}
	}
	// A lone block high up.
	if err := c.SetBlock(255, 255, 255, ids[3]); err != nil {
		t.Fatalf("SetBlock: %v", err)
	}

	c.SetMeta("name", chunk.StringValue("spawn"))
	c.SetMeta("temp", chunk.FloatValue(-3.25))
	c.SetMeta("seed", chunk.IntValue(-42))
	c.SetMeta("flag", chunk.NoneValue())
	must(t, c.SetBlockMeta(2, 10, 1, "owner", chunk.StringValue("alice")))
	must(t, c.SetBlockMeta(2, 10, 1, "hp", chunk.IntValue(7)))
	// Metadata on a layer with no blocks.
	must(t, c.SetBlockMeta(9, 200, 4, "note", chunk.FloatValue(0.5)))
	return c, ids
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("%v", err)
	}
}

func TestRoundTrip_MixedRowsAndMetadata(t *testing.T) {
	for _, name := range []string{codec.NameZstd, codec.NameLZ4, codec.NameSnappy} {
		t.Run(name, func(t *testing.T) {
			s, _ := openTemp(t, Options{Codec: name})
			defer s.Close()

			c, _ := mixedChunk(t)
			wait(t, s.PutChunk(c))
			got := wait(t, s.GetChunk(3, -7))
			if !c.Equal(got) {
				t.Fatalf("chunk changed across put/get")
			}
			if k := got.Slice(10).Row(0).Kind(); k != chunk.RowSparse {
				t.Fatalf("row y=10 z=0 kind=%v want sparse", k)
			}
			if k := got.Slice(10).Row(1).Kind(); k != chunk.RowDense {
				t.Fatalf("row y=10 z=1 kind=%v want dense", k)
			}
			if got.HasSlice(200) {
				t.Fatalf("metadata-only layer should have no blocks")
			}
			if v := got.BlockMeta(9, 200, 4)["note"]; !v.Equal(chunk.FloatValue(0.5)) {
				t.Fatalf("block meta note=%v", v)
			}
		})
	}
}

func TestPutChunk_IsIdempotent(t *testing.T) {
	s, _ := openTemp(t, Options{})
	defer s.Close()

	c, _ := mixedChunk(t)
	wait(t, s.PutChunk(c))
	first := wait(t, s.GetChunk(c.X(), c.Z()))
	ids := s.Stats().GlobalIDs

	wait(t, s.PutChunk(c))
	second := wait(t, s.GetChunk(c.X(), c.Z()))
	if !first.Equal(second) {
		t.Fatalf("second write changed the stored chunk")
	}
	if got := s.Stats().GlobalIDs; got != ids {
		t.Fatalf("global ids grew from %d to %d", ids, got)
	}
}

func TestGlobalCodes_AreStableAcrossReopen(t *testing.T) {
	s, path := openTemp(t, Options{})
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	ch := chunk.New(0, 0)
	must(t, ch.Fill(0, a))
	must(t, ch.Fill(1, b))
	wait(t, s.PutChunk(ch))
	must(t, s.Close())

	s = reopen(t, path)
	ch2 := chunk.New(1, 0)
	must(t, ch2.Fill(0, c))
	must(t, ch2.Fill(1, a))
	wait(t, s.PutChunk(ch2))
	if got := s.Stats().GlobalIDs; got != 3 {
		t.Fatalf("GlobalIDs=%d want 3", got)
	}
	must(t, s.Close())

	db := rawDB(t, path)
	want := map[int64]uuid.UUID{1: a, 2: b, 3: c}
	rows, err := db.Query(`SELECT blockId, blockUuid FROM type_map`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var (
			code int64
			raw  []byte
		)
		if err := rows.Scan(&code, &raw); err != nil {
			t.Fatalf("scan: %v", err)
		}
		id, _ := uuid.FromBytes(raw)
		if want[code] != id {
			t.Fatalf("code %d -> %v, want %v", code, id, want[code])
		}
		n++
	}
	if n != 3 {
		t.Fatalf("type_map rows=%d want 3", n)
	}
}

func TestOpen_MissingFileWithoutCreateFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.db")
	if _, err := Open(path, Options{}); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("Open created the file: %v", err)
	}
}

func TestClosedStore_FailsFast(t *testing.T) {
	s, _ := openTemp(t, Options{})
	must(t, s.Close())
	must(t, s.Close())

	f := s.GetChunk(0, 0)
	if !f.Ready() {
		t.Fatalf("future should be completed before return")
	}
	if _, err := f.Wait(); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err=%v want ErrStoreUnavailable", err)
	}
	if _, err := s.PutChunk(chunk.New(0, 0)).Wait(); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("put err=%v want ErrStoreUnavailable", err)
	}
}

func TestGetChunk_NotFound(t *testing.T) {
	s, _ := openTemp(t, Options{})
	defer s.Close()
	if _, err := s.GetChunk(4, 4).Wait(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
	if wait(t, s.ChunkExists(4, 4)) {
		t.Fatalf("ChunkExists on empty store")
	}
}

func TestCorruptBlobIsReportedAndWorkerSurvives(t *testing.T) {
	s, path := openTemp(t, Options{})
	c := chunk.New(0, 0)
	must(t, c.Fill(1, uuid.New()))
	wait(t, s.PutChunk(c))
	must(t, s.Close())

	db := rawDB(t, path)
	if _, err := db.Exec(`UPDATE chunk_slice SET blocks = x'DEADBEEF'`); err != nil {
		t.Fatalf("update: %v", err)
	}
	must(t, db.Close())

	s = reopen(t, path)
	defer s.Close()
	if _, err := s.GetChunk(0, 0).Wait(); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err=%v want ErrCorrupt", err)
	}
	if !wait(t, s.ChunkExists(0, 0)) {
		t.Fatalf("worker stopped serving after a failed request")
	}
	if st := s.Stats(); st.FailuresTotal != 1 {
		t.Fatalf("FailuresTotal=%d want 1", st.FailuresTotal)
	}
}

func TestUnknownGlobalCodeIsCorrupt(t *testing.T) {
	s, path := openTemp(t, Options{})
	c := chunk.New(0, 0)
	must(t, c.Fill(1, uuid.New()))
	wait(t, s.PutChunk(c))
	must(t, s.Close())

	grid := make([]byte, gridBytes)
	for i := 0; i < gridCells; i++ {
		grid[i*2], grid[i*2+1] = 0xFF, 0xFF
	}
	grid[0], grid[1] = 0xF4, 0x01 // code 500 was never issued
	zc, err := codec.New(codec.NameZstd)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	defer zc.Close()
	blob, err := zc.Compress(grid)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	db := rawDB(t, path)
	if _, err := db.Exec(`UPDATE chunk_slice SET blocks = ?`, blob); err != nil {
		t.Fatalf("update: %v", err)
	}
	must(t, db.Close())

	s = reopen(t, path)
	defer s.Close()
	if _, err := s.GetChunk(0, 0).Wait(); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err=%v want ErrCorrupt", err)
	}
}

func TestClearedSliceIsDeleted(t *testing.T) {
	s, path := openTemp(t, Options{})
	c := chunk.New(0, 0)
	must(t, c.Fill(5, uuid.New()))
	must(t, c.Fill(6, uuid.New()))
	wait(t, s.PutChunk(c))

	must(t, c.Fill(5, chunk.Air))
	wait(t, s.PutChunk(c))
	got := wait(t, s.GetChunk(0, 0))
	if got.HasSlice(5) || !got.HasSlice(6) {
		t.Fatalf("slices after clear: y5=%v y6=%v", got.HasSlice(5), got.HasSlice(6))
	}
	must(t, s.Close())

	var n int
	if err := rawDB(t, path).QueryRow(`SELECT COUNT(*) FROM chunk_slice`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("chunk_slice rows=%d want 1", n)
	}
}

func TestWorldInfo(t *testing.T) {
	s, path := openTemp(t, Options{})
	if v := wait(t, s.GetWorldInfo("spawn")); v.Found {
		t.Fatalf("absent key found: %v", v)
	}
	wait(t, s.SetWorldInfo("spawn", []byte("0,64,0")))
	wait(t, s.SetWorldInfo("empty", nil))
	wait(t, s.SetWorldInfo("spawn", []byte("8,70,-3")))
	must(t, s.Close())

	s = reopen(t, path)
	defer s.Close()
	if v := wait(t, s.GetWorldInfo("spawn")); !v.Found || string(v.Data) != "8,70,-3" {
		t.Fatalf("spawn=%+v", v)
	}
	if v := wait(t, s.GetWorldInfo("empty")); !v.Found || len(v.Data) != 0 {
		t.Fatalf("empty=%+v", v)
	}
	keys := wait(t, s.WorldInfoKeys())
	if len(keys) != 2 || keys[0] != "empty" || keys[1] != "spawn" {
		t.Fatalf("keys=%v", keys)
	}
}

func TestPlayerInfo_RequiresRegistration(t *testing.T) {
	s, path := openTemp(t, Options{})
	p := uuid.New()

	if _, err := s.SetPlayerInfo(p, "pos", []byte("1,2,3")).Wait(); !errors.Is(err, ErrUnknownPlayer) {
		t.Fatalf("err=%v want ErrUnknownPlayer", err)
	}
	id := wait(t, s.RegisterPlayer(p))
	if again := wait(t, s.RegisterPlayer(p)); again != id {
		t.Fatalf("RegisterPlayer returned %d then %d", id, again)
	}
	wait(t, s.SetPlayerInfo(p, "pos", []byte("1,2,3")))
	must(t, s.Close())

	s = reopen(t, path)
	defer s.Close()
	if st := s.Stats(); st.Players != 1 {
		t.Fatalf("Players=%d want 1", st.Players)
	}
	if v := wait(t, s.GetPlayerInfo(p, "pos")); !v.Found || string(v.Data) != "1,2,3" {
		t.Fatalf("pos=%+v", v)
	}
	if v := wait(t, s.GetPlayerInfo(p, "inventory")); v.Found {
		t.Fatalf("absent player key found")
	}
}

func TestExtentsListDeleteAndSize(t *testing.T) {
	s, _ := openTemp(t, Options{})
	defer s.Close()

	if ext := wait(t, s.WorldExtents()); !ext.Empty {
		t.Fatalf("extents on empty store=%+v", ext)
	}
	block := uuid.New()
	for _, k := range []chunk.Key{{X: -2, Z: 5}, {X: 3, Z: -1}, {X: 0, Z: 0}} {
		c := chunk.New(k.X, k.Z)
		must(t, c.Fill(0, block))
		wait(t, s.PutChunk(c))
	}
	ext := wait(t, s.WorldExtents())
	if ext.Empty || ext.MinX != -2 || ext.MaxX != 3 || ext.MinZ != -1 || ext.MaxZ != 5 {
		t.Fatalf("extents=%+v", ext)
	}
	keys := wait(t, s.ListChunks())
	if len(keys) != 3 || keys[0] != (chunk.Key{X: -2, Z: 5}) || keys[2] != (chunk.Key{X: 3, Z: -1}) {
		t.Fatalf("keys=%v", keys)
	}
	if !wait(t, s.DeleteChunk(0, 0)) {
		t.Fatalf("DeleteChunk reported nothing deleted")
	}
	if wait(t, s.DeleteChunk(0, 0)) {
		t.Fatalf("second DeleteChunk reported a delete")
	}
	if wait(t, s.ChunkExists(0, 0)) {
		t.Fatalf("chunk still exists")
	}
	if n := wait(t, s.DBSize()); n <= 0 {
		t.Fatalf("DBSize=%d", n)
	}
}

func TestCodecIsFixedAtCreation(t *testing.T) {
	s, path := openTemp(t, Options{Codec: codec.NameLZ4})
	c := chunk.New(0, 0)
	must(t, c.Fill(0, uuid.New()))
	wait(t, s.PutChunk(c))
	must(t, s.Close())

	s, err := Open(path, Options{Codec: codec.NameSnappy})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if got := wait(t, s.GetChunk(0, 0)); !got.Equal(c) {
		t.Fatalf("chunk unreadable after reopen with another codec option")
	}
}

func TestConcurrentClients(t *testing.T) {
	s, _ := openTemp(t, Options{QueueCapacity: 4})
	defer s.Close()

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		i := i
		g.Go(func() error {
			c := chunk.New(i, -i)
			id := uuid.New()
			if err := c.Fill(i, id); err != nil {
				return err
			}
			if _, err := s.PutChunk(c).Wait(); err != nil {
				return err
			}
			got, err := s.GetChunk(i, -i).Wait()
			if err != nil {
				return err
			}
			if !got.Equal(c) {
				return errors.New("chunk mismatch")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent: %v", err)
	}
	if st := s.Stats(); st.ChunksWritten != 8 || st.ChunksRead != 8 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestPutChunk_SnapshotsCallerChunk(t *testing.T) {
	s, _ := openTemp(t, Options{})
	defer s.Close()
	a, b := uuid.New(), uuid.New()
	c := chunk.New(0, 0)
	must(t, c.Fill(0, a))
	f := s.PutChunk(c)
	must(t, c.Fill(0, b))
	wait(t, f)
	if got := wait(t, s.GetChunk(0, 0)); got.Block(0, 0, 0) != a {
		t.Fatalf("write observed a mutation made after PutChunk returned")
	}
}

func TestPutChunk_FailedStepRollsBackEverything(t *testing.T) {
	s, path := openTemp(t, Options{})
	defer s.Close()

	// Code 1 is taken behind the store's back, so the type_map insert at the
	// end of the put transaction collides.
	db := rawDB(t, path)
	squatter := uuid.New()
	if _, err := db.Exec(`INSERT INTO type_map(blockId,blockUuid,created) VALUES(1,?,0)`, squatter[:]); err != nil {
		t.Fatalf("seed type_map: %v", err)
	}

	c := chunk.New(2, 2)
	must(t, c.Fill(3, uuid.New()))
	c.SetMeta("k", chunk.IntValue(1))
	_, err := s.PutChunk(c).Wait()
	if !errors.Is(err, ErrTransaction) {
		t.Fatalf("PutChunk err=%v want ErrTransaction", err)
	}

	if wait(t, s.ChunkExists(2, 2)) {
		t.Fatalf("chunk row survived a failed put")
	}
	var slices, types int
	if err := db.QueryRow(`SELECT COUNT(*) FROM chunk_slice`).Scan(&slices); err != nil {
		t.Fatalf("count slices: %v", err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM type_map`).Scan(&types); err != nil {
		t.Fatalf("count types: %v", err)
	}
	if slices != 0 || types != 1 {
		t.Fatalf("after rollback slices=%d type_map=%d", slices, types)
	}
	if st := s.Stats(); st.FailuresTotal == 0 {
		t.Fatalf("failure not counted: %+v", st)
	}
}

func TestDBSize_IncludesWAL(t *testing.T) {
	s, path := openTemp(t, Options{})
	defer s.Close()

	c := chunk.New(0, 0)
	for y := 0; y < 8; y++ {
		must(t, c.Fill(y, uuid.New()))
	}
	wait(t, s.PutChunk(c))

	fi, err := os.Stat(path + "-wal")
	if err != nil {
		t.Fatalf("stat wal: %v", err)
	}
	if fi.Size() == 0 {
		t.Skip("wal already checkpointed")
	}
	if n := wait(t, s.DBSize()); n < fi.Size() {
		t.Fatalf("DBSize=%d smaller than wal %d", n, fi.Size())
	}
}

func TestRoundTrip_ManyRowSetsSharingOneMap(t *testing.T) {
	s, path := openTemp(t, Options{})

	ids := make([]chunk.BlockID, 40)
	for i := range ids {
		ids[i] = uuid.New()
	}
	c := chunk.New(0, 0)
	// One wide row first, so every narrower row below reuses its map.
	for x, id := range ids {
		must(t, c.SetBlock(x, 255, 0, id))
	}
	n := 0
	for i := 0; i < len(ids) && n < 300; i++ {
		for j := i + 1; j < len(ids) && n < 300; j++ {
			y, z := n/chunk.Width, n%chunk.Width
			must(t, c.SetBlock(0, y, z, ids[i]))
			must(t, c.SetBlock(1, y, z, ids[j]))
			n++
		}
	}
	if c.RowMapCount() >= chunk.MaxRowMaps {
		t.Fatalf("in-memory arena already full: %d", c.RowMapCount())
	}
	if ok := wait(t, s.PutChunk(c)); !ok {
		t.Fatalf("PutChunk returned false")
	}
	got := wait(t, s.GetChunk(0, 0))
	if !got.Equal(c) {
		t.Fatalf("chunk differs after round trip")
	}
	must(t, s.Close())

	s = reopen(t, path)
	defer s.Close()
	if got := wait(t, s.GetChunk(0, 0)); !got.Equal(c) {
		t.Fatalf("chunk differs after reopen")
	}
}
