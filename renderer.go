package gsplat

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/gsplat/chunkstore"
	"github.com/gogpu/gsplat/drawpass"
	"github.com/gogpu/gsplat/gpubuf"
	"github.com/gogpu/gsplat/sorter"
	"github.com/gogpu/gsplat/splat"
)

// Device is the capability gsplat needs from the host GPU layer: a
// buffer-size ceiling plus whatever GPU-address resolution and pipeline
// caching the backend provides. gsplat never calls a concrete wgpu/Metal
// API itself — these are external collaborators supplied by the host.
type Device interface {
	gpubuf.Device
	drawpass.BufferAddressResolver
	drawpass.PipelineCache
}

// Renderer is the chunked, asynchronously-sorted Gaussian Splatting
// renderer: a chunk store, a background depth sorter, and a frame
// encoder, wired together into a single entry point.
//
// Renderer receives its GPU device from the host application (via
// provider and dev) rather than creating one, mirroring gogpu-gg's
// DeviceHandle pattern: gsplat shares GPU resources with the host
// instead of owning them.
type Renderer struct {
	provider gpucontext.DeviceProvider
	dev      Device
	opts     rendererOptions

	store *chunkstore.Store
	sort  *sorter.Sorter
	enc   *drawpass.Encoder
	pool  *gpubuf.Pool

	counters frameCounters
	closed   atomic.Bool
}

// NewRenderer constructs a Renderer. provider gives access to the
// shared GPU device/queue/adapter (gpucontext.DeviceProvider); dev
// supplies the buffer-size, GPU-address-resolution, and pipeline-cache
// capabilities gsplat's core needs.
func NewRenderer(provider gpucontext.DeviceProvider, dev Device, opts ...Option) (*Renderer, error) {
	if dev == nil {
		return nil, ErrNoDevice
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	s, err := sorter.New(dev, o.sortByDistance, o.indexBufferCount)
	if err != nil {
		return nil, err
	}

	store := chunkstore.NewStore(s)
	pool := gpubuf.NewPool()
	enc := drawpass.NewEncoder(dev, store, s, pool, dev, dev, o.drawConfig())

	r := &Renderer{
		provider: provider,
		dev:      dev,
		opts:     o,
		store:    store,
		sort:     s,
		enc:      enc,
		pool:     pool,
	}

	if provider != nil {
		if adapter := provider.Adapter(); adapter != nil {
			Logger().Info("gsplat renderer created", slog.Any("adapter", adapter))
		}
	}

	return r, nil
}

// AddChunk builds a chunk from points and registers it enabled. See
// chunkstore.Store.AddChunk for the exclusive-access contract.
func (r *Renderer) AddChunk(points []splat.ScenePoint, shDegree int) (chunkstore.ChunkID, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	if shDegree < 0 || shDegree > 3 {
		return 0, ErrInvalidSHDegree
	}
	return r.store.AddChunk(r.dev, points, shDegree)
}

// RemoveChunk deletes a chunk by id.
func (r *Renderer) RemoveChunk(id chunkstore.ChunkID) {
	if r.closed.Load() {
		return
	}
	r.store.RemoveChunk(id)
}

// RemoveAll deletes every chunk.
func (r *Renderer) RemoveAll() {
	if r.closed.Load() {
		return
	}
	r.store.RemoveAll()
}

// SetChunkEnabled toggles whether id participates in sorting and
// drawing.
func (r *Renderer) SetChunkEnabled(id chunkstore.ChunkID, enabled bool) bool {
	if r.closed.Load() {
		return false
	}
	return r.store.SetEnabled(id, enabled)
}

// IsChunkEnabled reports whether id is currently enabled.
func (r *Renderer) IsChunkEnabled(id chunkstore.ChunkID) bool {
	return r.store.IsEnabled(id)
}

// SplatCount returns the total splat count across enabled chunks.
func (r *Renderer) SplatCount() int {
	return r.store.SplatCount()
}

// Render draws one frame. It returns false iff the frame was skipped —
// the caller must not present the target; it must still submit cmd so
// the completion callback registered internally can run (see
// drawpass.Encoder.Render).
func (r *Renderer) Render(ctx context.Context, viewports []drawpass.ViewportDesc, color drawpass.ColorTarget, depth *drawpass.DepthTarget, rateMap any, targetArrayLen uint32, cmd drawpass.CommandRecorder) bool {
	if r.closed.Load() {
		return false
	}
	if len(viewports) > r.opts.maxViewCount {
		viewports = viewports[:r.opts.maxViewCount]
	}
	ok := r.enc.Render(ctx, viewports, color, depth, rateMap, targetArrayLen, cmd)
	if !ok {
		dropped := r.counters.recordDrop()
		Logger().Warn("frame dropped", slog.Uint64("total_dropped", dropped))
	}
	return ok
}

// Stats returns a snapshot of current renderer telemetry.
func (r *Renderer) Stats() Stats {
	hits, misses := r.pool.Stats()
	return Stats{
		EnabledChunkCount: len(r.store.EnabledRefs()),
		TotalSplatCount:   r.store.SplatCount(),
		DroppedFrameCount: r.counters.dropped.Load(),
		PoolHits:          hits,
		PoolMisses:        misses,
	}
}

// Close performs an orderly shutdown: stops the sort loop goroutine and
// releases pooled buffers. Render calls after Close return false
// immediately. Close does not wait for in-flight GPU frames submitted
// before it was called; callers should ensure no Render call is
// in-progress before calling Close.
func (r *Renderer) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	done := make(chan struct{})
	go func() {
		r.sort.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.pool.ClearAll()
	return nil
}
