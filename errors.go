package gsplat

import "errors"

// Sentinel errors, grounded on the package-level errors.New + fmt.Errorf
// wrapping style used throughout gogpu-gg's internal/gpu package.
var (
	// ErrNoDevice is returned by NewRenderer when dev is nil.
	ErrNoDevice = errors.New("gsplat: device is nil")

	// ErrClosed is returned by AddChunk and by a repeated Close once the
	// renderer is closed; the other operations report a closed renderer
	// as a no-op or a false result.
	ErrClosed = errors.New("gsplat: renderer is closed")

	// ErrInvalidSHDegree is returned by AddChunk when shDegree is outside
	// [0, 3].
	ErrInvalidSHDegree = errors.New("gsplat: spherical-harmonic degree must be 0-3")
)
