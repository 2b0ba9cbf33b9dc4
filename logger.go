// Package gsplat implements a chunked, asynchronously-sorted 3D
// Gaussian Splatting renderer: a chunk store holding encoded splat
// buffers, a background depth sorter, and a frame encoder that draws
// enabled chunks back-to-front against a caller-supplied GPU backend.
package gsplat

import (
	"log/slog"

	"github.com/gogpu/gsplat/chunkstore"
	"github.com/gogpu/gsplat/gpubuf"
	"github.com/gogpu/gsplat/internal/logbox"
	"github.com/gogpu/gsplat/sorter"
)

var logBox = logbox.New()

// SetLogger configures the logger used by gsplat and every subpackage
// that emits diagnostics (chunkstore, sorter, gpubuf). By default gsplat
// produces no log output.
//
// Log levels used across these packages:
//   - [slog.LevelDebug]: sort-loop iterations, buffer-pool hits/misses
//   - [slog.LevelInfo]: renderer creation
//   - [slog.LevelWarn]: dropped frames, a chunk rejected at the
//     published-chunk ceiling, sort buffers starved by in-flight renders
func SetLogger(l *slog.Logger) {
	logBox.Set(l)
	chunkstore.SetLogger(l)
	sorter.SetLogger(l)
	gpubuf.SetLogger(l)
}

// Logger returns the current package-wide logger.
func Logger() *slog.Logger {
	return logBox.Get()
}
