package worldsource

import (
	"sort"

	"voxelstore.ai/internal/async"
	"voxelstore.ai/internal/sim/world/terrain/chunk"
)

// MarkChunkDirty records that c was modified. Marking an already dirty chunk
// restarts its debounce but not its total age. Marking a chunk whose write is
// in flight starts a new entry; the in-flight write still completes.
func (s *Source) MarkChunkDirty(c *chunk.Chunk) error {
	if c == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.markLocked(c)
	return nil
}

func (s *Source) markLocked(c *chunk.Chunk) {
	key := c.Key()
	if e, ok := s.dirty[key]; ok {
		e.c = c
		e.sinceDirty = 0
		e.resets++
		s.dirtyResets.Add(1)
		return
	}
	s.seq++
	s.dirty[key] = &dirtyEntry{c: c, seq: s.seq}
}

// StartOfFrame ages every dirty entry by one frame and queues writes for the
// entries that reached the debounce or the hard cap, oldest first, at most
// MaxPromotionsPerFrame of them. Promoted entries leave the dirty map.
func (s *Source) StartOfFrame() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	var ready []*dirtyEntry
	for _, e := range s.dirty {
		e.sinceDirty++
		e.age++
		if e.sinceDirty >= s.cfg.DebounceFrames || e.age >= s.cfg.MaxWaitFrames {
			ready = append(ready, e)
		}
	}
	sortOldestFirst(ready)
	if len(ready) > s.cfg.MaxPromotionsPerFrame {
		ready = ready[:s.cfg.MaxPromotionsPerFrame]
	}
	jobs := make([]writeJob, 0, len(ready))
	for _, e := range ready {
		jobs = append(jobs, s.promoteLocked(e, false))
	}
	s.mu.Unlock()

	s.promotions.Add(uint64(len(jobs)))
	for _, j := range jobs {
		s.enqueue(j)
	}
}

func sortOldestFirst(es []*dirtyEntry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].age != es[j].age {
			return es[i].age > es[j].age
		}
		return es[i].seq < es[j].seq
	})
}

// promoteLocked moves e from the dirty map to the pending set and returns the
// write job for it.
func (s *Source) promoteLocked(e *dirtyEntry, forced bool) writeJob {
	key := e.c.Key()
	delete(s.dirty, key)
	return s.pendLocked(e.c, forced)
}

func (s *Source) pendLocked(c *chunk.Chunk, forced bool) writeJob {
	key := c.Key()
	p, f := async.NewPromise[bool]()
	pw := s.pending[key]
	if pw == nil {
		pw = &pendingWrite{}
		s.pending[key] = pw
	}
	pw.n++
	pw.c = c
	pw.last = f
	return writeJob{c: c, forced: forced, p: p, done: f}
}

// Status reports where the chunk at key is in its write-back cycle. A chunk
// that is both queued and modified again reports Dirty.
func (s *Source) Status(key chunk.Key) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dirty[key]; ok {
		return Dirty
	}
	if _, ok := s.pending[key]; ok {
		return Queued
	}
	return Clean
}
