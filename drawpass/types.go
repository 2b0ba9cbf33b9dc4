// Package drawpass implements the frame encoder: the per-call algorithm
// that snapshots enabled chunks, obtains a sorted index buffer, builds
// the GPU-side chunk table, and records a render pass. It never calls a
// concrete GPU backend itself — Device, CommandRecorder,
// RenderPassRecorder, and Pipeline are interfaces the host GPU layer
// satisfies, treating shaders and command submission as external
// collaborators.
package drawpass

// PipelineVariant selects between the two pipeline shapes the encoder
// can drive.
type PipelineVariant uint8

const (
	// PipelineSingleStage writes only the nearest splat's depth from the
	// blended fragment; used when no depth target is attached, or a
	// depth target is attached but high-quality depth was not requested.
	PipelineSingleStage PipelineVariant = iota
	// PipelineMultiStage runs initialize/draw/postprocess sub-passes over
	// tile memory, producing alpha-weighted continuous depth. Selected
	// only when writing depth, high_quality_depth was requested, and the
	// platform supports tile memory.
	PipelineMultiStage
)

// ViewportDesc is one of up to max_view_count per-frame viewports: a
// Metal-style viewport rect, its projection and view matrices, and the
// screen-pixel size used to size the variable-rate-shading map.
type ViewportDesc struct {
	OriginX, OriginY   float32
	Width, Height      float32
	MinDepth, MaxDepth float32
	Projection         [16]float32
	View               [16]float32
	ScreenWidth        uint32
	ScreenHeight       uint32
}

// StoreAction mirrors the Metal/wgpu store-action enum for a color
// attachment.
type StoreAction uint8

const (
	StoreActionStore StoreAction = iota
	StoreActionDiscard
)

// ColorTarget is the frame's color attachment.
type ColorTarget struct {
	Texture     any
	StoreAction StoreAction
}

// DepthTarget is the frame's optional depth attachment.
type DepthTarget struct {
	Texture any
}

// Uniforms is the per-viewport dynamic-uniform payload written into the
// 256-byte-aligned ring slot each frame.
type Uniforms struct {
	Projection        [16]float32
	View              [16]float32
	ScreenSize        [2]float32
	SplatCount        uint32
	IndexedSplatCount uint32
}

// RenderPassDescriptor configures BeginRenderPass.
type RenderPassDescriptor struct {
	Color      ColorTarget
	Depth      *DepthTarget
	RateMap    any
	ArrayLen   uint32
	ClearColor [4]float32
}

// Device is the minimal GPU-layer capability the draw pass needs: the
// same maximum buffer length in bytes that gpubuf.Device reports.
type Device interface {
	MaxBufferLength() int64
}

// CommandRecorder records passes into a command buffer and registers a
// completion callback invoked once the GPU has finished executing it.
type CommandRecorder interface {
	BeginRenderPass(desc RenderPassDescriptor) RenderPassRecorder
	OnComplete(func())
}

// RenderPassRecorder records draw calls within one render pass.
type RenderPassRecorder interface {
	SetPipeline(Pipeline)
	SetVertexBuffer(slot uint32, data any)
	SetIndexBuffer(indices []uint32)
	SetViewport(v ViewportDesc)
	DrawIndexed(indexCount, instanceCount uint32)
	End()
}

// Pipeline is a GPU pipeline object the host backend builds and caches;
// the draw pass only needs to know which variant it implements.
type Pipeline interface {
	Variant() PipelineVariant
}

// PipelineCache lazily builds and caches the two pipeline variants. The
// host GPU layer implements this; drawpass only asks for a variant by
// name.
type PipelineCache interface {
	Pipeline(variant PipelineVariant) Pipeline
	// SupportsTileMemory reports whether the backend can provide the
	// imageblock-style tile memory the multi-stage pipeline needs.
	// Platforms without it (e.g. a simulator target) always fall back
	// to the single-stage pipeline.
	SupportsTileMemory() bool
}
