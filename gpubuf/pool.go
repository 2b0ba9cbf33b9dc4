package gpubuf

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gsplat/internal/logbox"
)

var logBox = logbox.New()

// SetLogger configures the logger gpubuf uses for pool-hit/miss
// diagnostics. By default gpubuf produces no log output; gsplat's
// top-level SetLogger forwards here.
func SetLogger(l *slog.Logger) { logBox.Set(l) }

// Tag keys a pooled buffer by its purpose (e.g. "chunk-table scratch").
// Grounded on the sharded-cache idiom in gogpu-gg/cache/sharded.go, but a
// plain tag-keyed free list rather than an LRU: pool tags are few and
// low-cardinality (one per scratch-buffer kind), so the whole pool is
// guarded by a single mutex rather than sharded.
type Tag string

// Pool is a thread-safe free list of raw byte buffers keyed by Tag, used
// to recycle the per-frame chunk-table scratch buffer across frames
// without an allocation on the steady-state path.
type Pool struct {
	mu    sync.Mutex
	free  map[Tag][]*Buffer[byte]
	hits  atomic.Uint64
	misses atomic.Uint64
}

// NewPool creates an empty buffer pool.
func NewPool() *Pool {
	return &Pool{free: make(map[Tag][]*Buffer[byte])}
}

// Acquire returns a pooled buffer for tag, or (nil, false) if none is
// available. The caller must check the returned buffer's capacity/count
// before reuse — Acquire does not reset or resize it.
func (p *Pool) Acquire(tag Tag) (*Buffer[byte], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	bufs := p.free[tag]
	if len(bufs) == 0 {
		n := p.misses.Add(1)
		logBox.Get().Debug("gpubuf pool miss", slog.String("tag", string(tag)), slog.Uint64("total_misses", n))
		return nil, false
	}
	last := len(bufs) - 1
	buf := bufs[last]
	p.free[tag] = bufs[:last]
	n := p.hits.Add(1)
	logBox.Get().Debug("gpubuf pool hit", slog.String("tag", string(tag)), slog.Uint64("total_hits", n))
	return buf, true
}

// Release returns a buffer to the pool under tag for future reuse.
func (p *Pool) Release(buf *Buffer[byte], tag Tag) {
	if buf == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free[tag] = append(p.free[tag], buf)
}

// Clear discards all pooled buffers for tag.
func (p *Pool) Clear(tag Tag) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.free, tag)
}

// ClearAll discards every pooled buffer across all tags.
func (p *Pool) ClearAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = make(map[Tag][]*Buffer[byte])
}

// Stats reports cumulative acquire hit/miss counts, used to populate
// gsplat.Stats.
func (p *Pool) Stats() (hits, misses uint64) {
	return p.hits.Load(), p.misses.Load()
}
