package worlddb

import (
	"github.com/google/uuid"

	"voxelstore.ai/internal/async"
	"voxelstore.ai/internal/sim/world/terrain/chunk"
)

type reqKind int

const (
	reqChunkExists reqKind = iota + 1
	reqExtents
	reqGetChunk
	reqPutChunk
	reqDeleteChunk
	reqListChunks
	reqGetWorldInfo
	reqSetWorldInfo
	reqWorldInfoKeys
	reqRegisterPlayer
	reqGetPlayerInfo
	reqSetPlayerInfo
	reqDBSize
)

func (k reqKind) String() string {
	switch k {
	case reqChunkExists:
		return "chunk_exists"
	case reqExtents:
		return "extents"
	case reqGetChunk:
		return "get_chunk"
	case reqPutChunk:
		return "put_chunk"
	case reqDeleteChunk:
		return "delete_chunk"
	case reqListChunks:
		return "list_chunks"
	case reqGetWorldInfo:
		return "get_world_info"
	case reqSetWorldInfo:
		return "set_world_info"
	case reqWorldInfoKeys:
		return "world_info_keys"
	case reqRegisterPlayer:
		return "register_player"
	case reqGetPlayerInfo:
		return "get_player_info"
	case reqSetPlayerInfo:
		return "set_player_info"
	case reqDBSize:
		return "db_size"
	default:
		return "unknown"
	}
}

// request is one command for the worker. Exactly one promise field is set,
// matching kind.
type request struct {
	kind reqKind

	x, z   int
	chunk  *chunk.Chunk
	player uuid.UUID
	key    string
	value  []byte

	boolP    async.Promise[bool]
	chunkP   async.Promise[*chunk.Chunk]
	extentsP async.Promise[Extents]
	keysP    async.Promise[[]chunk.Key]
	valueP   async.Promise[Value]
	namesP   async.Promise[[]string]
	intP     async.Promise[int64]
}

func (r request) fail(err error) {
	switch r.kind {
	case reqChunkExists, reqPutChunk, reqDeleteChunk, reqSetWorldInfo, reqSetPlayerInfo:
		r.boolP.Reject(err)
	case reqGetChunk:
		r.chunkP.Reject(err)
	case reqExtents:
		r.extentsP.Reject(err)
	case reqListChunks:
		r.keysP.Reject(err)
	case reqGetWorldInfo, reqGetPlayerInfo:
		r.valueP.Reject(err)
	case reqWorldInfoKeys:
		r.namesP.Reject(err)
	case reqRegisterPlayer, reqDBSize:
		r.intP.Reject(err)
	}
}

// Extents bounds the chunk coordinates present in the file. Empty is set when
// there are no chunks.
type Extents struct {
	MinX, MaxX int
	MinZ, MaxZ int
	Empty      bool
}

// Value is an info lookup result; Found is false when the key is absent.
type Value struct {
	Data  []byte
	Found bool
}

func (s *Store) ChunkExists(x, z int) *async.Future[bool] {
	p, f := async.NewPromise[bool]()
	if !s.submit(request{kind: reqChunkExists, x: x, z: z, boolP: p}) {
		return unavailable[bool]()
	}
	return f
}

func (s *Store) WorldExtents() *async.Future[Extents] {
	p, f := async.NewPromise[Extents]()
	if !s.submit(request{kind: reqExtents, extentsP: p}) {
		return unavailable[Extents]()
	}
	return f
}

// GetChunk loads the chunk at (x, z), failing with ErrNotFound when absent.
func (s *Store) GetChunk(x, z int) *async.Future[*chunk.Chunk] {
	p, f := async.NewPromise[*chunk.Chunk]()
	if !s.submit(request{kind: reqGetChunk, x: x, z: z, chunkP: p}) {
		return unavailable[*chunk.Chunk]()
	}
	return f
}

// PutChunk writes a snapshot of c taken on the calling goroutine; later
// mutations of c are not part of this write.
func (s *Store) PutChunk(c *chunk.Chunk) *async.Future[bool] {
	p, f := async.NewPromise[bool]()
	if !s.submit(request{kind: reqPutChunk, chunk: c.Clone(), boolP: p}) {
		return unavailable[bool]()
	}
	return f
}

// DeleteChunk removes a chunk and its slices. It resolves false when nothing
// was stored.
func (s *Store) DeleteChunk(x, z int) *async.Future[bool] {
	p, f := async.NewPromise[bool]()
	if !s.submit(request{kind: reqDeleteChunk, x: x, z: z, boolP: p}) {
		return unavailable[bool]()
	}
	return f
}

// ListChunks returns every stored chunk key ordered by x then z.
func (s *Store) ListChunks() *async.Future[[]chunk.Key] {
	p, f := async.NewPromise[[]chunk.Key]()
	if !s.submit(request{kind: reqListChunks, keysP: p}) {
		return unavailable[[]chunk.Key]()
	}
	return f
}

func (s *Store) GetWorldInfo(key string) *async.Future[Value] {
	p, f := async.NewPromise[Value]()
	if !s.submit(request{kind: reqGetWorldInfo, key: key, valueP: p}) {
		return unavailable[Value]()
	}
	return f
}

func (s *Store) SetWorldInfo(key string, value []byte) *async.Future[bool] {
	p, f := async.NewPromise[bool]()
	v := append([]byte(nil), value...)
	if !s.submit(request{kind: reqSetWorldInfo, key: key, value: v, boolP: p}) {
		return unavailable[bool]()
	}
	return f
}

func (s *Store) WorldInfoKeys() *async.Future[[]string] {
	p, f := async.NewPromise[[]string]()
	if !s.submit(request{kind: reqWorldInfoKeys, namesP: p}) {
		return unavailable[[]string]()
	}
	return f
}

// RegisterPlayer returns the row id for player, creating it on first use.
func (s *Store) RegisterPlayer(player uuid.UUID) *async.Future[int64] {
	p, f := async.NewPromise[int64]()
	if !s.submit(request{kind: reqRegisterPlayer, player: player, intP: p}) {
		return unavailable[int64]()
	}
	return f
}

func (s *Store) GetPlayerInfo(player uuid.UUID, key string) *async.Future[Value] {
	p, f := async.NewPromise[Value]()
	if !s.submit(request{kind: reqGetPlayerInfo, player: player, key: key, valueP: p}) {
		return unavailable[Value]()
	}
	return f
}

// SetPlayerInfo fails with ErrUnknownPlayer unless the player was registered.
func (s *Store) SetPlayerInfo(player uuid.UUID, key string, value []byte) *async.Future[bool] {
	p, f := async.NewPromise[bool]()
	v := append([]byte(nil), value...)
	if !s.submit(request{kind: reqSetPlayerInfo, player: player, key: key, value: v, boolP: p}) {
		return unavailable[bool]()
	}
	return f
}

// DBSize reports the bytes used by the main database file.
func (s *Store) DBSize() *async.Future[int64] {
	p, f := async.NewPromise[int64]()
	if !s.submit(request{kind: reqDBSize, intP: p}) {
		return unavailable[int64]()
	}
	return f
}
