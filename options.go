package gsplat

import (
	"time"

	"github.com/gogpu/gsplat/drawpass"
)

// Option configures a Renderer during creation, following the
// functional-option pattern gogpu-gg/options.go uses for Context.
type Option func(*rendererOptions)

type rendererOptions struct {
	maxViewCount           int
	maxSimultaneousRenders int
	colorFormat            string
	depthFormat            string
	sampleCount            int
	highQualityDepth       bool
	clearColor             [4]float32
	sortByDistance         bool
	indexBufferCount       int
	maxIndexedSplatCount   int
	accessTimeout          time.Duration
	sortTimeout            time.Duration
}

// maxSupportedViewCount is the implementation's stereo-view cap: at
// most two simultaneous viewports per Render call.
const maxSupportedViewCount = 2

func defaultOptions() rendererOptions {
	return rendererOptions{
		maxViewCount:           1,
		maxSimultaneousRenders: 2,
		colorFormat:            "rgba8unorm",
		sampleCount:            1,
		sortByDistance:         true,
		indexBufferCount:       0, // 0 => sorter.DefaultBufferCount
		maxIndexedSplatCount:   1024,
		accessTimeout:          100 * time.Millisecond,
		sortTimeout:            100 * time.Millisecond,
	}
}

// WithMaxViewCount bounds the number of viewports a single Render call
// may accept; clamped to maxSupportedViewCount.
func WithMaxViewCount(n int) Option {
	return func(o *rendererOptions) {
		if n > maxSupportedViewCount {
			n = maxSupportedViewCount
		}
		if n < 1 {
			n = 1
		}
		o.maxViewCount = n
	}
}

// WithMaxSimultaneousRenders bounds in-flight GPU frames and the
// uniform ring length.
func WithMaxSimultaneousRenders(n int) Option {
	return func(o *rendererOptions) {
		if n < 1 {
			n = 1
		}
		o.maxSimultaneousRenders = n
	}
}

// WithColorFormat sets the render-target color format (backend-defined
// string identifier, e.g. "rgba8unorm", "bgra8unorm-srgb").
func WithColorFormat(format string) Option {
	return func(o *rendererOptions) { o.colorFormat = format }
}

// WithDepthFormat sets the render-target depth format.
func WithDepthFormat(format string) Option {
	return func(o *rendererOptions) { o.depthFormat = format }
}

// WithSampleCount sets the render-target MSAA sample count.
func WithSampleCount(n int) Option {
	return func(o *rendererOptions) {
		if n < 1 {
			n = 1
		}
		o.sampleCount = n
	}
}

// WithHighQualityDepth selects the multi-stage pipeline (continuous
// alpha-weighted depth) when a depth target is attached and the backend
// supports tile memory.
func WithHighQualityDepth(enabled bool) Option {
	return func(o *rendererOptions) { o.highQualityDepth = enabled }
}

// WithClearColor sets the color attachment's load-clear value.
func WithClearColor(r, g, b, a float32) Option {
	return func(o *rendererOptions) { o.clearColor = [4]float32{r, g, b, a} }
}

// WithSortByDistance selects the depth metric: true (the default) for
// euclidean-squared distance from the camera, false for signed dot
// product with the camera's forward vector.
func WithSortByDistance(enabled bool) Option {
	return func(o *rendererOptions) { o.sortByDistance = enabled }
}

// WithIndexBufferCount overrides N, the number of ref-counted index
// buffers the sorter rotates through (3 by default; this is left
// adjustable for testing buffer-contention scenarios).
func WithIndexBufferCount(n int) Option {
	return func(o *rendererOptions) { o.indexBufferCount = n }
}

// WithMaxIndexedSplatCount overrides the indexed/instanced draw split
// point (default 1024).
func WithMaxIndexedSplatCount(n int) Option {
	return func(o *rendererOptions) {
		if n < 1 {
			n = 1
		}
		o.maxIndexedSplatCount = n
	}
}

// WithAccessTimeout overrides the render-slot acquisition timeout
// (default 100ms).
func WithAccessTimeout(d time.Duration) Option {
	return func(o *rendererOptions) { o.accessTimeout = d }
}

// WithSortTimeout overrides the sorted-buffer acquisition timeout
// (default 100ms).
func WithSortTimeout(d time.Duration) Option {
	return func(o *rendererOptions) { o.sortTimeout = d }
}

func (o rendererOptions) drawConfig() drawpass.Config {
	return drawpass.Config{
		MaxSimultaneousRenders: o.maxSimultaneousRenders,
		MaxIndexedSplatCount:   o.maxIndexedSplatCount,
		HighQualityDepth:       o.highQualityDepth,
		ClearColor:             o.clearColor,
		AccessTimeout:          o.accessTimeout,
		SortTimeout:            o.sortTimeout,
	}
}
