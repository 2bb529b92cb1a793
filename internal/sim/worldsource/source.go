// Package worldsource is the write-back cache in front of a world store. It
// loads or generates chunks on a bounded reader pool, tracks mutated chunks in
// a dirty map, and promotes them to a single writer goroutine on a
// frame-driven debounce.
package worldsource

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"voxelstore.ai/internal/async"
	"voxelstore.ai/internal/persistence/worlddb"
	"voxelstore.ai/internal/sim/world/terrain/chunk"
)

// ChunkStore is the durable side. *worlddb.Store satisfies it; GetChunk must
// fail with worlddb.ErrNotFound for a missing chunk.
type ChunkStore interface {
	GetChunk(x, z int) *async.Future[*chunk.Chunk]
	PutChunk(c *chunk.Chunk) *async.Future[bool]
}

// Generator produces a chunk that has never been stored. It is called only on
// a store miss and may be called from several reader goroutines at once.
type Generator interface {
	GenerateChunk(x, z int) (*chunk.Chunk, error)
}

// WriteRecord describes one completed write-back.
type WriteRecord struct {
	X      int    `json:"x"`
	Z      int    `json:"z"`
	OK     bool   `json:"ok"`
	Forced bool   `json:"forced,omitempty"`
	Err    string `json:"err,omitempty"`
	Ms     int64  `json:"ms"`
}

// Journal receives a record after every write-back.
type Journal interface {
	WriteFlush(rec WriteRecord) error
}

type Config struct {
	// Readers sizes the load pool. Default: GOMAXPROCS, at least 2.
	Readers int
	// DebounceFrames is how many StartOfFrame calls a chunk must stay
	// unmodified before it is written. Default 150.
	DebounceFrames int
	// MaxWaitFrames caps the total frames a chunk may stay dirty while being
	// re-modified. Default 1800.
	MaxWaitFrames int
	// MaxPromotionsPerFrame bounds writes queued by one StartOfFrame. Default 2.
	MaxPromotionsPerFrame int
	// WriteQueueCapacity bounds queued writes. Default 256.
	WriteQueueCapacity int
	// PersistGenerated marks freshly generated chunks dirty so they are
	// written without a mutation.
	PersistGenerated bool

	Journal Journal
	Logger  *log.Logger
}

func (c Config) withDefaults() Config {
	if c.Readers <= 0 {
		c.Readers = runtime.GOMAXPROCS(0)
		if c.Readers < 2 {
			c.Readers = 2
		}
	}
	if c.DebounceFrames <= 0 {
		c.DebounceFrames = 150
	}
	if c.MaxWaitFrames <= 0 {
		c.MaxWaitFrames = 1800
	}
	if c.MaxPromotionsPerFrame <= 0 {
		c.MaxPromotionsPerFrame = 2
	}
	if c.WriteQueueCapacity <= 0 {
		c.WriteQueueCapacity = 256
	}
	return c
}

var ErrClosed = errors.New("worldsource: closed")

// State is a chunk's durability status.
type State int

const (
	Clean State = iota
	Dirty
	Queued
)

func (s State) String() string {
	switch s {
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	case Queued:
		return "queued"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Stats struct {
	Dirty          int
	Queued         int
	WriteQueue     int
	WriteQueueCap  int
	LoadsTotal     uint64
	MemoryHits     uint64
	StoreHits      uint64
	Generated      uint64
	DirtyResets    uint64
	Promotions     uint64
	WritesTotal    uint64
	WriteFailures  uint64
	ForcedWrites   uint64
	LastWriteUnix  int64
	LastFailedUnix int64
}

type readJob struct {
	key chunk.Key
	p   async.Promise[*chunk.Chunk]
}

type writeJob struct {
	c      *chunk.Chunk
	forced bool
	p      async.Promise[bool]
	done   *async.Future[bool]
}

// dirtyEntry is the bookkeeping for one modified chunk.
type dirtyEntry struct {
	c          *chunk.Chunk
	sinceDirty int
	age        int
	resets     int
	seq        uint64
}

// pendingWrite tracks writes that were queued and not yet confirmed.
type pendingWrite struct {
	n    int
	c    *chunk.Chunk
	last *async.Future[bool]
}

type Source struct {
	store ChunkStore
	gen   Generator
	cfg   Config

	mu      sync.Mutex
	closed  bool
	dirty   map[chunk.Key]*dirtyEntry
	pending map[chunk.Key]*pendingWrite
	loading map[chunk.Key]*async.Future[*chunk.Chunk]
	seq     uint64

	// sendMu orders channel sends against channel close.
	sendMu       sync.RWMutex
	readsClosed  bool
	writesClosed bool
	reads        chan readJob
	writes       chan writeJob

	readers  sync.WaitGroup
	writer   sync.WaitGroup
	once     sync.Once
	closeErr error

	loadsTotal     atomic.Uint64
	memoryHits     atomic.Uint64
	storeHits      atomic.Uint64
	generated      atomic.Uint64
	dirtyResets    atomic.Uint64
	promotions     atomic.Uint64
	writesTotal    atomic.Uint64
	writeFailures  atomic.Uint64
	forcedWrites   atomic.Uint64
	lastWriteUnix  atomic.Int64
	lastFailedUnix atomic.Int64
}

func New(store ChunkStore, gen Generator, cfg Config) *Source {
	cfg = cfg.withDefaults()
	s := &Source{
		store:   store,
		gen:     gen,
		cfg:     cfg,
		dirty:   map[chunk.Key]*dirtyEntry{},
		pending: map[chunk.Key]*pendingWrite{},
		loading: map[chunk.Key]*async.Future[*chunk.Chunk]{},
		reads:   make(chan readJob, cfg.Readers*4),
		writes:  make(chan writeJob, cfg.WriteQueueCapacity),
	}
	for i := 0; i < cfg.Readers; i++ {
		s.readers.Add(1)
		go func() {
			defer s.readers.Done()
			for job := range s.reads {
				s.load(job)
			}
		}()
	}
	s.writer.Add(1)
	go func() {
		defer s.writer.Done()
		for job := range s.writes {
			s.write(job)
		}
	}()
	return s
}

// GetChunk returns the chunk at (x, z). A chunk that is dirty or has a write
// in flight is served from memory; concurrent loads of one key share a single
// store read. On a store miss the generator supplies the chunk.
func (s *Source) GetChunk(x, z int) *async.Future[*chunk.Chunk] {
	key := chunk.Key{X: x, Z: z}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return async.Failed[*chunk.Chunk](ErrClosed)
	}
	if e, ok := s.dirty[key]; ok {
		s.mu.Unlock()
		s.memoryHits.Add(1)
		return async.Resolved(e.c)
	}
	if pw, ok := s.pending[key]; ok {
		s.mu.Unlock()
		s.memoryHits.Add(1)
		return async.Resolved(pw.c)
	}
	if f, ok := s.loading[key]; ok {
		s.mu.Unlock()
		return f
	}
	p, f := async.NewPromise[*chunk.Chunk]()
	s.loading[key] = f
	s.mu.Unlock()

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.readsClosed {
		s.mu.Lock()
		delete(s.loading, key)
		s.mu.Unlock()
		p.Reject(ErrClosed)
		return f
	}
	s.reads <- readJob{key: key, p: p}
	return f
}

func (s *Source) load(job readJob) {
	s.loadsTotal.Add(1)
	c, generated, err := s.fetch(job.key)

	s.mu.Lock()
	delete(s.loading, job.key)
	if err == nil && generated && s.cfg.PersistGenerated {
		if _, ok := s.dirty[job.key]; !ok {
			s.markLocked(c)
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.printf("worldsource load x=%d z=%d err=%v", job.key.X, job.key.Z, err)
	}
	job.p.Complete(c, err)
}

func (s *Source) fetch(key chunk.Key) (*chunk.Chunk, bool, error) {
	c, err := s.store.GetChunk(key.X, key.Z).Wait()
	if err == nil {
		s.storeHits.Add(1)
		return c, false, nil
	}
	if !errors.Is(err, worlddb.ErrNotFound) {
		return nil, false, err
	}
	if s.gen == nil {
		return nil, false, err
	}
	c, err = s.gen.GenerateChunk(key.X, key.Z)
	if err != nil {
		return nil, false, fmt.Errorf("worldsource: generate (%d,%d): %w", key.X, key.Z, err)
	}
	s.generated.Add(1)
	return c, true, nil
}

// Run calls StartOfFrame every interval until ctx ends, for hosts without
// their own frame loop.
func (s *Source) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.StartOfFrame()
		}
	}
}

// Close stops loads, flushes every dirty chunk, waits for the writer to drain
// and returns the flush error, if any. The store is not closed.
func (s *Source) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.sendMu.Lock()
		s.readsClosed = true
		close(s.reads)
		s.sendMu.Unlock()
		s.readers.Wait()

		err := s.flush()
		if err != nil {
			s.printf("worldsource close flush err=%v", err)
		}

		s.sendMu.Lock()
		s.writesClosed = true
		close(s.writes)
		s.sendMu.Unlock()
		s.writer.Wait()
		s.closeErr = err
	})
	return s.closeErr
}

func (s *Source) Stats() Stats {
	s.mu.Lock()
	dirty := len(s.dirty)
	queued := 0
	for _, pw := range s.pending {
		queued += pw.n
	}
	s.mu.Unlock()
	return Stats{
		Dirty:          dirty,
		Queued:         queued,
		WriteQueue:     len(s.writes),
		WriteQueueCap:  cap(s.writes),
		LoadsTotal:     s.loadsTotal.Load(),
		MemoryHits:     s.memoryHits.Load(),
		StoreHits:      s.storeHits.Load(),
		Generated:      s.generated.Load(),
		DirtyResets:    s.dirtyResets.Load(),
		Promotions:     s.promotions.Load(),
		WritesTotal:    s.writesTotal.Load(),
		WriteFailures:  s.writeFailures.Load(),
		ForcedWrites:   s.forcedWrites.Load(),
		LastWriteUnix:  s.lastWriteUnix.Load(),
		LastFailedUnix: s.lastFailedUnix.Load(),
	}
}

func (s *Source) printf(format string, args ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Printf(format, args...)
	}
}
