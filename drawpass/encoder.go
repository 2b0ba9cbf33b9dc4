package drawpass

import (
	"context"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/gsplat/chunkstore"
	"github.com/gogpu/gsplat/gpubuf"
	"github.com/gogpu/gsplat/sorter"
)

// Config carries the frame encoder's tunables.
type Config struct {
	MaxSimultaneousRenders int
	MaxIndexedSplatCount   int
	HighQualityDepth       bool
	ClearColor             [4]float32
	AccessTimeout          time.Duration
	SortTimeout            time.Duration
}

// DefaultConfig returns the baseline tunables: 100ms for both timeouts,
// 1024 for the indexed/instanced split point.
func DefaultConfig() Config {
	return Config{
		MaxSimultaneousRenders: 2,
		MaxIndexedSplatCount:   1024,
		AccessTimeout:          100 * time.Millisecond,
		SortTimeout:            100 * time.Millisecond,
	}
}

// Encoder implements the per-frame render algorithm, wiring together a
// chunk store, a sorter, a buffer pool, and whatever pipeline cache and
// GPU-address resolver the host backend provides.
type Encoder struct {
	device    gpubuf.Device
	store     *chunkstore.Store
	sort      *sorter.Sorter
	pool      *gpubuf.Pool
	resolver  BufferAddressResolver
	pipelines PipelineCache
	cfg       Config

	ringIndex int
	ring      [][]Uniforms
	indexBuf  []uint32
}

// NewEncoder constructs a frame encoder bound to store's chunks and
// s's sorted output.
func NewEncoder(device gpubuf.Device, store *chunkstore.Store, s *sorter.Sorter, pool *gpubuf.Pool, resolver BufferAddressResolver, pipelines PipelineCache, cfg Config) *Encoder {
	if cfg.MaxSimultaneousRenders <= 0 {
		cfg.MaxSimultaneousRenders = 1
	}
	if cfg.MaxIndexedSplatCount <= 0 {
		cfg.MaxIndexedSplatCount = 1024
	}
	return &Encoder{
		device:    device,
		store:     store,
		sort:      s,
		pool:      pool,
		resolver:  resolver,
		pipelines: pipelines,
		cfg:       cfg,
		ringIndex: -1,
		ring:      make([][]Uniforms, cfg.MaxSimultaneousRenders),
	}
}

// Render runs the per-call frame algorithm. It returns false iff the
// frame was skipped — the caller must not present the target. A
// completion callback is always registered on cmd immediately after a
// render slot is acquired, before any of the early-drop checks below;
// callers must submit cmd (even a frame that ends up empty) so that
// callback still fires and releases the slot.
func (e *Encoder) Render(ctx context.Context, viewports []ViewportDesc, color ColorTarget, depth *DepthTarget, rateMap any, targetArrayLen uint32, cmd CommandRecorder) bool {
	slot, ok := e.store.AcquireRenderSlot(e.cfg.MaxSimultaneousRenders, e.cfg.AccessTimeout)
	if !ok {
		return false
	}
	defer slot.Encoded()
	cmd.OnComplete(slot.Completed)

	refs := e.store.EnabledRefs()
	if len(refs) == 0 {
		return false
	}
	totalSplats := 0
	for _, r := range refs {
		totalSplats += r.Chunk.SplatCount()
	}
	if totalSplats == 0 {
		return false
	}
	if len(viewports) == 0 {
		return false
	}

	pose := meanCameraPose(viewports)
	e.sort.UpdateCamera(pose)

	sortCtx := ctx
	var cancel context.CancelFunc
	if e.cfg.SortTimeout > 0 {
		sortCtx, cancel = context.WithTimeout(ctx, e.cfg.SortTimeout)
		defer cancel()
	}
	var sorted *sorter.IndexBuffer
	if e.cfg.SortTimeout > 0 {
		sorted, ok = e.sort.ObtainSortedIndices(sortCtx)
	} else {
		sorted, ok = e.sort.TryObtainSortedIndices()
	}
	if !ok {
		return false
	}
	// The GPU draw call below only records a read of sorted's buffer; it
	// doesn't execute until the command buffer completes. Releasing here
	// instead of on cmd's completion would let the sort loop claim and
	// overwrite the buffer while a submitted draw is still reading it.
	cmd.OnComplete(func() { e.sort.ReleaseSortedIndices(sorted) })

	splatCount := sorted.Buffer().Count()
	indexedCount := splatCount
	if indexedCount > e.cfg.MaxIndexedSplatCount {
		indexedCount = e.cfg.MaxIndexedSplatCount
	}
	var instanceCount int
	if indexedCount > 0 {
		instanceCount = (splatCount + indexedCount - 1) / indexedCount
	}

	e.ringIndex = (e.ringIndex + 1) % e.cfg.MaxSimultaneousRenders
	e.ring[e.ringIndex] = buildUniforms(viewports, splatCount, indexedCount)

	table, err := BuildChunkTable(e.device, e.pool, e.resolver, refs, 0)
	if err != nil {
		return false
	}
	cmd.OnComplete(func() { ReleaseChunkTable(e.pool, table) })

	e.ensureIndexBuffer(indexedCount)

	variant := e.choosePipelineVariant(depth)

	desc := RenderPassDescriptor{
		Color:      color,
		Depth:      depth,
		RateMap:    rateMap,
		ArrayLen:   targetArrayLen,
		ClearColor: e.cfg.ClearColor,
	}

	switch variant {
	case PipelineMultiStage:
		e.recordMultiStage(cmd, desc, viewports, variant, indexedCount, instanceCount)
	default:
		e.recordSingleStage(cmd, desc, viewports, variant, indexedCount, instanceCount)
	}

	return true
}

func (e *Encoder) choosePipelineVariant(depth *DepthTarget) PipelineVariant {
	if depth == nil {
		return PipelineSingleStage
	}
	if !e.cfg.HighQualityDepth {
		return PipelineSingleStage
	}
	if !e.pipelines.SupportsTileMemory() {
		return PipelineSingleStage
	}
	return PipelineMultiStage
}

func (e *Encoder) recordSingleStage(cmd CommandRecorder, desc RenderPassDescriptor, viewports []ViewportDesc, variant PipelineVariant, indexedCount, instanceCount int) {
	pass := cmd.BeginRenderPass(desc)
	pass.SetPipeline(e.pipelines.Pipeline(variant))
	for _, v := range viewports {
		pass.SetViewport(v)
	}
	pass.SetIndexBuffer(e.indexBuf[:6*indexedCount])
	pass.DrawIndexed(uint32(6*indexedCount), uint32(instanceCount))
	pass.End()
}

// recordMultiStage records three ordered sub-passes (initialize, draw
// splats, postprocess), each through the same CommandRecorder, sharing
// the pass's tile config. A portable Go core has no direct equivalent
// to Metal's imageblock memory; the three-sub-pass sequencing and blend
// semantics are preserved exactly, with the actual tile-memory storage
// left to whatever CommandRecorder implementation the host GPU layer
// provides.
func (e *Encoder) recordMultiStage(cmd CommandRecorder, desc RenderPassDescriptor, viewports []ViewportDesc, variant PipelineVariant, indexedCount, instanceCount int) {
	initPass := cmd.BeginRenderPass(desc)
	initPass.SetPipeline(e.pipelines.Pipeline(variant))
	for _, v := range viewports {
		initPass.SetViewport(v)
	}
	initPass.End()

	drawPass := cmd.BeginRenderPass(desc)
	drawPass.SetPipeline(e.pipelines.Pipeline(variant))
	for _, v := range viewports {
		drawPass.SetViewport(v)
	}
	drawPass.SetIndexBuffer(e.indexBuf[:6*indexedCount])
	drawPass.DrawIndexed(uint32(6*indexedCount), uint32(instanceCount))
	drawPass.End()

	postPass := cmd.BeginRenderPass(desc)
	postPass.SetPipeline(e.pipelines.Pipeline(variant))
	postPass.DrawIndexed(3, 1)
	postPass.End()
}

// ensureIndexBuffer grows the triangle-vertex-index buffer to hold
// 6*indexedCount entries of the two-triangles-per-quad pattern.
func (e *Encoder) ensureIndexBuffer(indexedCount int) {
	need := 6 * indexedCount
	if len(e.indexBuf) >= need {
		return
	}
	buf := make([]uint32, need)
	for i := 0; i < indexedCount; i++ {
		base := uint32(4 * i)
		o := i * 6
		buf[o+0] = base + 0
		buf[o+1] = base + 1
		buf[o+2] = base + 2
		buf[o+3] = base + 1
		buf[o+4] = base + 2
		buf[o+5] = base + 3
	}
	e.indexBuf = buf
}

func buildUniforms(viewports []ViewportDesc, splatCount, indexedCount int) []Uniforms {
	out := make([]Uniforms, len(viewports))
	for i, v := range viewports {
		out[i] = Uniforms{
			Projection:        v.Projection,
			View:              v.View,
			ScreenSize:        [2]float32{float32(v.ScreenWidth), float32(v.ScreenHeight)},
			SplatCount:        uint32(splatCount),
			IndexedSplatCount: uint32(indexedCount),
		}
	}
	return out
}

// meanCameraPose computes the mean camera position and mean normalized
// forward across viewports. Camera position and forward are recovered
// from each viewport's view matrix (its inverse is the camera's world
// transform; translation gives position, the negated Z column gives
// forward, matching the view-space look-down--Z convention).
func meanCameraPose(viewports []ViewportDesc) sorter.CameraPose {
	var sumPos, sumFwd mgl32.Vec3
	for _, v := range viewports {
		view := mgl32.Mat4(v.View)
		inv := view.Inv()
		pos := mgl32.Vec3{inv[12], inv[13], inv[14]}
		fwd := mgl32.Vec3{-inv[8], -inv[9], -inv[10]}.Normalize()
		sumPos = sumPos.Add(pos)
		sumFwd = sumFwd.Add(fwd)
	}
	n := float32(len(viewports))
	if n == 0 {
		return sorter.CameraPose{}
	}
	mean := sumPos.Mul(1 / n)
	forward := sumFwd.Mul(1 / n).Normalize()
	return sorter.CameraPose{
		Position: [3]float32{mean.X(), mean.Y(), mean.Z()},
		Forward:  [3]float32{forward.X(), forward.Y(), forward.Z()},
	}
}
