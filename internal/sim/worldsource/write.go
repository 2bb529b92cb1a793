package worldsource

import (
	"errors"
	"time"

	"voxelstore.ai/internal/async"
	"voxelstore.ai/internal/sim/world/terrain/chunk"
)

func (s *Source) enqueue(j writeJob) {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.writesClosed {
		s.finish(j, false, ErrClosed, 0)
		return
	}
	s.writes <- j
}

func (s *Source) write(j writeJob) {
	start := time.Now()
	ok, err := s.store.PutChunk(j.c).Wait()
	s.finish(j, ok, err, time.Since(start))
}

// finish settles a write. A failed write puts the chunk back in the dirty map
// unless it was modified again in the meantime.
func (s *Source) finish(j writeJob, ok bool, err error, took time.Duration) {
	key := j.c.Key()
	s.mu.Lock()
	if pw := s.pending[key]; pw != nil {
		pw.n--
		if pw.n <= 0 {
			delete(s.pending, key)
		}
	}
	if err != nil {
		if _, dirty := s.dirty[key]; !dirty {
			s.markLocked(j.c)
		}
	}
	s.mu.Unlock()

	now := time.Now().UTC().Unix()
	rec := WriteRecord{X: key.X, Z: key.Z, OK: err == nil && ok, Forced: j.forced, Ms: took.Milliseconds()}
	if err != nil {
		s.writeFailures.Add(1)
		s.lastFailedUnix.Store(now)
		rec.Err = err.Error()
		s.printf("worldsource write failed x=%d z=%d forced=%v err=%v", key.X, key.Z, j.forced, err)
	} else {
		s.writesTotal.Add(1)
		s.lastWriteUnix.Store(now)
	}
	if s.cfg.Journal != nil {
		if jerr := s.cfg.Journal.WriteFlush(rec); jerr != nil {
			s.printf("worldsource journal err=%v", jerr)
		}
	}
	j.p.Complete(ok, err)
}

// ForceChunkWriteSync writes c now, dropping any dirty entry for it, and
// waits for the store to confirm.
func (s *Source) ForceChunkWriteSync(c *chunk.Chunk) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	delete(s.dirty, c.Key())
	j := s.pendLocked(c, true)
	s.mu.Unlock()

	s.forcedWrites.Add(1)
	s.enqueue(j)
	_, err := j.done.Wait()
	return err
}

// ForceChunkWriteIfDirtySync writes the chunk at c's key if it is dirty, or
// waits for its queued write if one is in flight. A clean chunk returns at
// once.
func (s *Source) ForceChunkWriteIfDirtySync(c *chunk.Chunk) error {
	key := c.Key()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if e, ok := s.dirty[key]; ok {
		j := s.promoteLocked(e, true)
		s.mu.Unlock()
		s.forcedWrites.Add(1)
		s.enqueue(j)
		_, err := j.done.Wait()
		return err
	}
	var last *async.Future[bool]
	if pw, ok := s.pending[key]; ok {
		last = pw.last
	}
	s.mu.Unlock()
	if last == nil {
		return nil
	}
	_, err := last.Wait()
	return err
}

// FlushDirtyChunksSync writes every dirty chunk and waits for those writes and
// any already queued ones. Failures are joined; failed chunks stay dirty.
func (s *Source) FlushDirtyChunksSync() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return s.flush()
}

func (s *Source) flush() error {
	s.mu.Lock()
	var waits []*async.Future[bool]
	for _, pw := range s.pending {
		waits = append(waits, pw.last)
	}
	entries := make([]*dirtyEntry, 0, len(s.dirty))
	for _, e := range s.dirty {
		entries = append(entries, e)
	}
	sortOldestFirst(entries)
	jobs := make([]writeJob, 0, len(entries))
	for _, e := range entries {
		jobs = append(jobs, s.promoteLocked(e, true))
	}
	s.mu.Unlock()

	s.forcedWrites.Add(uint64(len(jobs)))
	for _, j := range jobs {
		s.enqueue(j)
		waits = append(waits, j.done)
	}
	var errs []error
	for _, f := range waits {
		if _, err := f.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
