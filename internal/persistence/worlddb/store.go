// Package worlddb persists chunks, world info and player info in one SQLite
// file per world.
//
// After Open, a single goroutine owns the database handle. Every public call
// enqueues a request and returns an async.Future completed by that goroutine,
// so requests are served strictly in submission order.
package worlddb

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"voxelstore.ai/internal/async"
)

type Options struct {
	// Create allows Open to create a missing file.
	Create bool
	// Codec names the blob compressor for a new file. An existing file keeps
	// the codec recorded at creation.
	Codec string
	// QueueCapacity bounds the request queue; submitters block when full.
	QueueCapacity int
	Logger        *log.Logger
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	RequestsTotal uint64
	FailuresTotal uint64
	ChunksRead    uint64
	ChunksWritten uint64
	GlobalIDs     int64
	Players       int64
}

type Store struct {
	path string
	opts Options

	// mu orders submissions against Close so nothing is sent on a closed
	// channel.
	mu     sync.RWMutex
	closed bool
	ch     chan request

	wg       sync.WaitGroup
	once     sync.Once
	closeErr error

	requestsTotal atomic.Uint64
	failuresTotal atomic.Uint64
	chunksRead    atomic.Uint64
	chunksWritten atomic.Uint64
	globalIDs     atomic.Int64
	players       atomic.Int64
}

// Open opens (or with opts.Create, creates) the world file at path, prepares
// the schema and loads the global block table and player table. The worker
// goroutine is running when Open returns.
func Open(path string, opts Options) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("worlddb: empty db path")
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 4096
	}
	if !opts.Create {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("worlddb: open %s: %w", path, err)
		}
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &Store{
		path: path,
		opts: opts,
		ch:   make(chan request, opts.QueueCapacity),
	}
	ready := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ready)
	}()
	if err := <-ready; err != nil {
		s.wg.Wait()
		return nil, err
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

// Close stops accepting requests, lets the worker drain everything already
// queued, and closes the database on the worker goroutine.
func (s *Store) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
	})
	return s.closeErr
}

func (s *Store) Stats() Stats {
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		RequestsTotal: s.requestsTotal.Load(),
		FailuresTotal: s.failuresTotal.Load(),
		ChunksRead:    s.chunksRead.Load(),
		ChunksWritten: s.chunksWritten.Load(),
		GlobalIDs:     s.globalIDs.Load(),
		Players:       s.players.Load(),
	}
}

func (s *Store) submit(r request) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	s.ch <- r
	s.requestsTotal.Add(1)
	return true
}

func (s *Store) run(ready chan<- error) {
	w, err := openWorker(s.path, s.opts)
	ready <- err
	if err != nil {
		return
	}
	s.globalIDs.Store(int64(w.ids.Len()))
	s.players.Store(int64(len(w.players)))

	for r := range s.ch {
		s.serve(w, r)
	}
	s.closeErr = w.close()
}

// serve runs one request. A failure, including a panic, is delivered to that
// request's future and the loop keeps going.
func (s *Store) serve(w *worker, r request) {
	defer func() {
		if p := recover(); p != nil {
			s.failuresTotal.Add(1)
			err := fmt.Errorf("worlddb: %s panicked: %v", r.kind, p)
			s.printf("%v", err)
			r.fail(err)
		}
	}()
	if err := w.handle(s, r); err != nil {
		s.failuresTotal.Add(1)
		r.fail(err)
	}
}

func (s *Store) printf(format string, args ...any) {
	if s.opts.Logger != nil {
		s.opts.Logger.Printf(format, args...)
	}
}

func unavailable[T any]() *async.Future[T] {
	return async.Failed[T](ErrStoreUnavailable)
}
