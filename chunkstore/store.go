package chunkstore

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gsplat/gpubuf"
	"github.com/gogpu/gsplat/internal/logbox"
	"github.com/gogpu/gsplat/splat"
)

var logBox = logbox.New()

// SetLogger configures the logger chunkstore uses for publish-boundary
// diagnostics. By default chunkstore produces no log output; gsplat's
// top-level SetLogger forwards here.
func SetLogger(l *slog.Logger) { logBox.Set(l) }

// ChunkID is a stable, opaque, never-reused handle to a loaded chunk.
// The zero value is never issued by Store.AddChunk.
type ChunkID uint64

// maxPublishedChunks bounds the contiguous index space handed to the
// sorter and draw pass: indices and the enabled-chunk count are uint16
// fields in the GPU-visible chunk table, so at most 65535 chunks are
// published.
const maxPublishedChunks = 1<<16 - 1

// pollInterval is the sleep step used while polling for a render slot,
// grounded on the bounded-retry pattern in
// gogpu-gg/internal/parallel/pool.go's work-stealing backoff.
const pollInterval = 2 * time.Millisecond

// ChunkReference is published to the sorter for every enabled chunk:
// its contiguous ChunkIndex plus a handle back to its id, so the sorter
// can read positions without owning the chunk.
type ChunkReference struct {
	Index uint16
	ID    ChunkID
	Chunk *Chunk
}

// SortTarget receives the enabled-chunk set whenever it changes. The
// Sorter type in package sorter implements this.
type SortTarget interface {
	SetChunks(refs []ChunkReference)

	// WithExclusiveAccess runs body while holding exclusive access to
	// the sort target's chunk-reading path. When invalidate is true, it
	// first waits for every in-flight index buffer reference to drain,
	// then marks all of them invalid before body runs — required
	// whenever body changes which ChunkIndex values are live, since an
	// in-flight sorted buffer's ChunkIndex entries only stay meaningful
	// against the enabled-chunk set they were sorted against.
	WithExclusiveAccess(invalidate bool, body func())
}

type entry struct {
	chunk   *Chunk
	enabled bool
}

// accessState is the exclusive-access / render-slot scheduler arbitrating
// between chunk mutation and in-flight rendering. A caller that must
// wait is modeled as an ordinary blocking Go method call: a goroutine
// parked on a channel receive yields its OS thread to the runtime
// scheduler without busy-waiting, which is exactly what "suspends until
// granted" means in Go.
type accessState struct {
	mu                  sync.Mutex
	inFlightRenderCount int
	isRendering         bool
	hasExclusiveAccess  bool
	waiters             []chan struct{}
}

func (a *accessState) tryWakeWaiterLocked() {
	if !a.hasExclusiveAccess && a.inFlightRenderCount == 0 && len(a.waiters) > 0 {
		next := a.waiters[0]
		a.waiters = a.waiters[1:]
		a.hasExclusiveAccess = true
		close(next)
	}
}

// acquireExclusive blocks until the caller holds exclusive access,
// i.e. no render is in flight and no other mutator holds it.
func (a *accessState) acquireExclusive() {
	a.mu.Lock()
	if !a.hasExclusiveAccess && a.inFlightRenderCount == 0 {
		a.hasExclusiveAccess = true
		a.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	a.waiters = append(a.waiters, ch)
	a.mu.Unlock()
	<-ch
}

// releaseExclusive gives up exclusive access. If a waiter is queued and
// no render is in flight, ownership transfers directly to it.
func (a *accessState) releaseExclusive() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hasExclusiveAccess = false
	a.tryWakeWaiterLocked()
}

// acquireRender reserves one render slot, polling up to timeout. Returns
// false ("frame dropped") if no slot became available in time; timeout
// <= 0 drops immediately on contention without sleeping at all.
func (a *accessState) acquireRender(maxSimultaneous int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		a.mu.Lock()
		if !a.hasExclusiveAccess && !a.isRendering && a.inFlightRenderCount < maxSimultaneous {
			a.isRendering = true
			a.inFlightRenderCount++
			a.mu.Unlock()
			return true
		}
		a.mu.Unlock()

		if timeout <= 0 || time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}

// finishEncoding clears isRendering once the CPU-side encode routine
// for the frame returns.
func (a *accessState) finishEncoding() {
	a.mu.Lock()
	a.isRendering = false
	a.mu.Unlock()
}

// completeRender decrements the in-flight render count from the GPU
// command-buffer completion callback, waking a queued exclusive waiter
// if one is now unblocked.
func (a *accessState) completeRender() {
	a.mu.Lock()
	a.inFlightRenderCount--
	a.tryWakeWaiterLocked()
	a.mu.Unlock()
}

// Store owns the set of currently-loaded chunks and arbitrates access
// to them between mutators (AddChunk/RemoveChunk/SetEnabled) and the
// render path (see RenderSlot).
type Store struct {
	access accessState

	mu      sync.Mutex
	chunks  map[ChunkID]*entry
	order   []ChunkID // insertion order, for deterministic publish/iteration
	nextID  atomic.Uint64
	target  SortTarget
}

// NewStore creates an empty chunk store publishing enabled-chunk changes
// to target (typically a *sorter.Sorter). target may be nil in tests
// that only exercise the store itself.
func NewStore(target SortTarget) *Store {
	return &Store{
		chunks: make(map[ChunkID]*entry),
		target: target,
	}
}

// AddChunk builds a chunk from points, applies the locality pre-sort,
// and registers it enabled. It suspends until it holds exclusive access
// against any render in flight.
func (s *Store) AddChunk(device gpubuf.Device, points []splat.ScenePoint, shDegree int) (ChunkID, error) {
	chunk, err := NewChunk(device, points, shDegree)
	if err != nil {
		return 0, err
	}
	chunk.ApplyLocalitySort()

	s.access.acquireExclusive()
	defer s.access.releaseExclusive()

	s.mu.Lock()
	id := ChunkID(s.nextID.Add(1))
	s.chunks[id] = &entry{chunk: chunk, enabled: true}
	s.order = append(s.order, id)
	s.mu.Unlock()

	s.publishLocked()
	return id, nil
}

// RemoveChunk deletes a chunk by id. Removing an unknown id is a no-op.
func (s *Store) RemoveChunk(id ChunkID) {
	s.access.acquireExclusive()
	defer s.access.releaseExclusive()

	s.mu.Lock()
	if _, ok := s.chunks[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.chunks, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.publishLocked()
}

// RemoveAll deletes every chunk.
func (s *Store) RemoveAll() {
	s.access.acquireExclusive()
	defer s.access.releaseExclusive()

	s.mu.Lock()
	s.chunks = make(map[ChunkID]*entry)
	s.order = nil
	s.mu.Unlock()

	s.publishLocked()
}

// SetEnabled toggles whether id participates in sorting and drawing,
// without destroying its data. Returns false if id is unknown.
func (s *Store) SetEnabled(id ChunkID, enabled bool) bool {
	s.access.acquireExclusive()
	defer s.access.releaseExclusive()

	s.mu.Lock()
	e, ok := s.chunks[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	e.enabled = enabled
	s.mu.Unlock()

	s.publishLocked()
	return true
}

// IsEnabled reports whether id is currently enabled. Returns false for
// an unknown id.
func (s *Store) IsEnabled(id ChunkID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.chunks[id]
	return ok && e.enabled
}

// Chunk returns the chunk registered under id, if any. Supplemented
// read accessor (not part of the original mutation surface), with the
// same no-synchronization snapshot guarantee as IsEnabled.
func (s *Store) Chunk(id ChunkID) (*Chunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.chunks[id]
	if !ok {
		return nil, false
	}
	return e.chunk, true
}

// EnabledRefs returns a snapshot of the currently published enabled-chunk
// set, in the same contiguous ChunkIndex order handed to the sort
// target. Used by the draw pass to build the per-frame chunk table
// without needing its own copy of the index bookkeeping.
func (s *Store) EnabledRefs() []ChunkReference {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := make([]ChunkReference, 0, len(s.order))
	var idx uint16
	for _, id := range s.order {
		e := s.chunks[id]
		if !e.enabled {
			continue
		}
		if len(refs) >= maxPublishedChunks {
			break
		}
		refs = append(refs, ChunkReference{Index: idx, ID: id, Chunk: e.chunk})
		idx++
	}
	return refs
}

// SplatCount returns the total splat count across enabled chunks only.
func (s *Store) SplatCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, id := range s.order {
		e := s.chunks[id]
		if e.enabled {
			total += e.chunk.SplatCount()
		}
	}
	return total
}

// RenderSlot is a render slot reserved by AcquireRenderSlot for one
// frame. Its release is split into two halves, each to be called
// exactly once: Encoded when CPU-side encoding is done, and Completed
// when the GPU has finished the frame.
type RenderSlot struct {
	store *Store
}

// Encoded must be called once CPU-side command encoding for the frame
// has finished, clearing is_rendering so the next frame's render slot
// request can proceed.
func (r RenderSlot) Encoded() {
	r.store.access.finishEncoding()
}

// Completed must be called once the GPU has signaled the frame's
// command buffer is done, decrementing the in-flight render count.
func (r RenderSlot) Completed() {
	r.store.access.completeRender()
}

// AcquireRenderSlot attempts to reserve a render slot, polling up to
// timeout. ok is false ("frame dropped") on timeout.
func (s *Store) AcquireRenderSlot(maxSimultaneous int, timeout time.Duration) (slot RenderSlot, ok bool) {
	if s.access.acquireRender(maxSimultaneous, timeout) {
		return RenderSlot{store: s}, true
	}
	return RenderSlot{}, false
}

// publishLocked rebuilds the contiguous enabled-chunk index list and
// hands it to the sort target. Chunks beyond maxPublishedChunks are
// dropped from the published set (still resident, just not drawn),
// matching the uint16 ChunkIndex ceiling.
//
// The new chunk set is published through the sort target's exclusive
// access with invalidation: any chunk mutation can shift which
// ChunkIndex a splat belongs to (a removal renumbers every later
// chunk), so an index buffer sorted against the old set must not be
// handed out as if it still matched the new one.
func (s *Store) publishLocked() {
	if s.target == nil {
		return
	}
	s.mu.Lock()
	refs := make([]ChunkReference, 0, len(s.order))
	var idx uint16
	var firstRejected ChunkID
	rejectedCount := 0
	for _, id := range s.order {
		e := s.chunks[id]
		if !e.enabled {
			continue
		}
		if len(refs) >= maxPublishedChunks {
			if rejectedCount == 0 {
				firstRejected = id
			}
			rejectedCount++
			continue
		}
		refs = append(refs, ChunkReference{Index: idx, ID: id, Chunk: e.chunk})
		idx++
	}
	s.mu.Unlock()

	if rejectedCount > 0 {
		logBox.Get().Warn("chunk accepted but exceeds published-chunk ceiling, excluded from enabled set",
			slog.Uint64("first_rejected_chunk_id", uint64(firstRejected)),
			slog.Int("rejected_count", rejectedCount),
			slog.Int("ceiling", maxPublishedChunks))
	}

	s.target.WithExclusiveAccess(true, func() {
		s.target.SetChunks(refs)
	})
}
