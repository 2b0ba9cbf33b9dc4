package sorter

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gogpu/gsplat/chunkstore"
	"github.com/gogpu/gsplat/gpubuf"
	"github.com/gogpu/gsplat/internal/logbox"
)

var logBox = logbox.New()

// SetLogger configures the logger the sorter uses for loop-iteration and
// buffer-starvation diagnostics. By default the sorter produces no log
// output; gsplat's top-level SetLogger forwards here.
func SetLogger(l *slog.Logger) { logBox.Set(l) }

// DefaultBufferCount is the number of ref-counted index buffers the
// sorter rotates through.
const DefaultBufferCount = 3

// sortPollInterval is the sleep step used by the sort loop when it has
// nothing to do, and by ObtainSortedIndices while polling for a valid
// buffer.
const sortPollInterval = 2 * time.Millisecond

// Sorter asynchronously maintains a depth-sorted index buffer for a set
// of enabled chunks, re-sorting in the background as the camera or the
// chunk set changes. The zero value is not usable; construct with New.
type Sorter struct {
	device gpubuf.Device

	mu                   sync.Mutex
	indexBuffers         []*IndexBuffer
	sortingBufferIndex   int // -1 when none
	mostRecentValidIndex int // -1 when none
	hasExclusiveAccess   bool
	pendingInvalidation  bool
	cameraPose           *CameraPose
	needsSort            bool
	chunks               []chunkstore.ChunkReference
	isReadingChunks      bool
	sortLoopRunning      bool
	everStarted          bool
	stopped              bool
	starvedLogged        bool

	wake   chan struct{} // signals the sort loop there may be work
	stop   chan struct{}
	done   chan struct{}
	stopOnce sync.Once

	sortByDistance bool
}

// New creates a Sorter backed by device, allocating bufferCount index
// buffers (3 by default, left adjustable here for testing).
// sortByDistance selects the depth metric: true for euclidean-squared
// distance from the camera (the default), false for signed dot product
// with the camera's forward vector.
func New(device gpubuf.Device, sortByDistance bool, bufferCount int) (*Sorter, error) {
	if bufferCount <= 0 {
		bufferCount = DefaultBufferCount
	}
	s := &Sorter{
		device:               device,
		indexBuffers:         make([]*IndexBuffer, bufferCount),
		sortingBufferIndex:   -1,
		mostRecentValidIndex: -1,
		wake:                 make(chan struct{}, 1),
		stop:                 make(chan struct{}),
		done:                 make(chan struct{}),
		sortByDistance:       sortByDistance,
	}
	for i := range s.indexBuffers {
		buf, err := newIndexBuffer(device)
		if err != nil {
			return nil, err
		}
		s.indexBuffers[i] = buf
	}
	return s, nil
}

func (s *Sorter) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// SetChunks implements chunkstore.SortTarget: it replaces the chunk
// list and marks the index stale. The caller (chunkstore.Store) already
// holds its own exclusive access while calling this, and satisfies the
// "caller must hold sorter-level exclusive access" contract by calling
// SetChunks from inside WithExclusiveAccess (see chunkstore's
// publishLocked).
func (s *Sorter) SetChunks(refs []chunkstore.ChunkReference) {
	s.mu.Lock()
	s.chunks = refs
	s.needsSort = true
	running := s.sortLoopRunning
	s.mu.Unlock()
	if !running {
		s.startLoop()
	}
	s.signalWake()
}

// UpdateCamera stores pose, marks the index stale, and ensures the sort
// loop is running.
func (s *Sorter) UpdateCamera(pose CameraPose) {
	s.mu.Lock()
	s.cameraPose = &pose
	s.needsSort = true
	running := s.sortLoopRunning
	s.mu.Unlock()
	if !running {
		s.startLoop()
	}
	s.signalWake()
}

// TryObtainSortedIndices returns the most recently published valid
// index buffer with an incremented refcount, or (nil, false) if
// exclusive access is held or no buffer is valid. O(1), non-blocking.
func (s *Sorter) TryObtainSortedIndices() (*IndexBuffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasExclusiveAccess || s.mostRecentValidIndex < 0 {
		return nil, false
	}
	buf := s.indexBuffers[s.mostRecentValidIndex]
	if !buf.valid.Load() {
		return nil, false
	}
	buf.refcount.Add(1)
	return buf, true
}

// ObtainSortedIndices polls TryObtainSortedIndices until it succeeds or
// ctx is done.
func (s *Sorter) ObtainSortedIndices(ctx context.Context) (*IndexBuffer, bool) {
	for {
		if buf, ok := s.TryObtainSortedIndices(); ok {
			return buf, true
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(sortPollInterval):
		}
	}
}

// ReleaseSortedIndices decrements buf's refcount. Calling it with an
// already-zero refcount is a programming error in the caller.
func (s *Sorter) ReleaseSortedIndices(buf *IndexBuffer) {
	if buf == nil {
		return
	}
	if buf.refcount.Add(-1) < 0 {
		panic("sorter: ReleaseSortedIndices refcount underflow")
	}
}

// WithExclusiveAccess runs body while holding exclusive access to the
// sorter's chunk-reading path, coordinating with a chunk mutation that
// must not race the sort loop. If invalidate is true, it first waits for
// every index buffer to reach refcount 0, then marks them all invalid.
func (s *Sorter) WithExclusiveAccess(invalidate bool, body func()) {
	s.mu.Lock()
	for s.isReadingChunks {
		s.mu.Unlock()
		time.Sleep(sortPollInterval)
		s.mu.Lock()
	}
	s.hasExclusiveAccess = true
	if invalidate {
		s.pendingInvalidation = true
	}
	s.mu.Unlock()

	if invalidate {
		for {
			allFree := true
			for _, b := range s.indexBuffers {
				if b.refcount.Load() != 0 {
					allFree = false
					break
				}
			}
			if allFree {
				break
			}
			time.Sleep(sortPollInterval)
		}
		s.mu.Lock()
		for _, b := range s.indexBuffers {
			b.valid.Store(false)
		}
		s.mostRecentValidIndex = -1
		s.mu.Unlock()
	}

	body()

	s.mu.Lock()
	s.hasExclusiveAccess = false
	s.pendingInvalidation = false
	if len(s.chunks) > 0 {
		s.needsSort = true
	}
	running := s.sortLoopRunning
	s.mu.Unlock()
	if !running {
		s.startLoop()
	}
	s.signalWake()
}

// InvalidateAll synchronously clears every buffer's valid flag and
// marks the index stale, for use when chunk contents were reordered in
// place (e.g. a locality re-sort) rather than replaced wholesale.
func (s *Sorter) InvalidateAll() {
	s.mu.Lock()
	for _, b := range s.indexBuffers {
		b.valid.Store(false)
	}
	s.mostRecentValidIndex = -1
	s.needsSort = true
	s.mu.Unlock()
	s.signalWake()
}

// startLoop launches the dedicated sort-loop goroutine if it is not
// already running. It is a no-op once Stop has been called.
func (s *Sorter) startLoop() {
	s.mu.Lock()
	if s.sortLoopRunning || s.stopped {
		s.mu.Unlock()
		return
	}
	s.sortLoopRunning = true
	s.everStarted = true
	s.mu.Unlock()
	go s.runLoop()
}

// Stop terminates the sort loop goroutine, waiting for it to exit. Safe
// to call more than once, and safe to call even if the loop was never
// started (e.g. a renderer closed before any chunk was ever added).
func (s *Sorter) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.mu.Lock()
		started := s.everStarted
		s.stopped = true
		s.mu.Unlock()
		if !started {
			close(s.done)
		}
	})
	<-s.done
}

func (s *Sorter) runLoop() {
	defer func() {
		s.mu.Lock()
		s.sortLoopRunning = false
		s.mu.Unlock()
		close(s.done)
	}()

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		target, ok := s.tryStartSort()
		if !ok {
			if s.shouldExitLoop() {
				return
			}
			select {
			case <-s.stop:
				return
			case <-s.wake:
			case <-time.After(sortPollInterval):
			}
			continue
		}

		s.runSortPhases(target)
	}
}

// tryStartSort implements sort-loop step 1: under lock, pick a free
// buffer and claim it if conditions allow, else report not-ready.
func (s *Sorter) tryStartSort() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasExclusiveAccess || !s.needsSort || len(s.chunks) == 0 || s.cameraPose == nil {
		s.starvedLogged = false
		return 0, false
	}
	// Prefer a free buffer other than the published one, so frames can
	// keep obtaining it while the new sort is written.
	target := -1
	for i, b := range s.indexBuffers {
		if b.refcount.Load() == 0 {
			target = i
			if i != s.mostRecentValidIndex {
				break
			}
		}
	}
	if target >= 0 {
		if target == s.mostRecentValidIndex {
			// Only the published buffer is free: withdraw it first so no
			// reader can obtain it while it is being overwritten.
			s.indexBuffers[target].valid.Store(false)
			s.mostRecentValidIndex = -1
		}
		s.sortingBufferIndex = target
		s.isReadingChunks = true
		s.needsSort = false
		s.starvedLogged = false
		return target, true
	}
	// Work is pending but every index buffer is still referenced by an
	// in-flight render; log once per starvation episode rather than on
	// every poll tick.
	if !s.starvedLogged {
		logBox.Get().Warn("sort buffers starved: all index buffers held by in-flight renders",
			slog.Int("buffer_count", len(s.indexBuffers)))
		s.starvedLogged = true
	}
	return 0, false
}

func (s *Sorter) shouldExitLoop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.needsSort && len(s.chunks) == 0
}

// runSortPhases snapshots the chunk set and camera pose, computes
// per-splat depth, stable-sorts back-to-front, and writes the result
// into the index buffer at target.
func (s *Sorter) runSortPhases(target int) {
	s.mu.Lock()
	chunks := make([]chunkstore.ChunkReference, len(s.chunks))
	copy(chunks, s.chunks)
	pose := *s.cameraPose
	sortByDistance := s.sortByDistance
	s.mu.Unlock()

	start := time.Now()
	entries := computeDepths(chunks, pose, sortByDistance)
	logBox.Get().Debug("sort loop iteration",
		slog.Int("buffer_index", target),
		slog.Int("chunk_count", len(chunks)),
		slog.Int("splat_count", len(entries)),
		slog.Duration("depth_pass_elapsed", time.Since(start)))

	s.mu.Lock()
	s.isReadingChunks = false
	s.mu.Unlock()

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].depth > entries[j].depth // descending: back-to-front
	})

	buf := s.indexBuffers[target]
	if err := buf.buffer.EnsureCapacity(len(entries)); err == nil {
		buf.buffer.Reset()
		for _, e := range entries {
			_ = buf.buffer.Append(ChunkedSplatIndex{ChunkIndex: e.chunkIndex, SplatIndex: e.splatIndex})
		}
	}

	s.mu.Lock()
	s.sortingBufferIndex = -1
	if s.pendingInvalidation {
		buf.valid.Store(false)
	} else {
		buf.valid.Store(true)
		s.mostRecentValidIndex = target
	}
	s.mu.Unlock()
}

// computeDepths is sort-loop phase 1: depth for every splat across
// every enabled chunk, in chunk-iteration order (the tie-break order
// the stable sort in phase 2 then preserves).
func computeDepths(chunks []chunkstore.ChunkReference, pose CameraPose, sortByDistance bool) []depthEntry {
	total := 0
	for _, c := range chunks {
		total += c.Chunk.SplatCount()
	}
	entries := make([]depthEntry, 0, total)

	for _, c := range chunks {
		elems := c.Chunk.Splats().Elements()
		for i, e := range elems {
			dx := e.Position[0] - pose.Position[0]
			dy := e.Position[1] - pose.Position[1]
			dz := e.Position[2] - pose.Position[2]

			var depth float32
			if sortByDistance {
				depth = dx*dx + dy*dy + dz*dz
			} else {
				depth = dx*pose.Forward[0] + dy*pose.Forward[1] + dz*pose.Forward[2]
			}

			entries = append(entries, depthEntry{
				chunkIndex: c.Index,
				splatIndex: uint32(i),
				depth:      depth,
			})
		}
	}
	return entries
}
