// Package splat defines the per-splat data model: the high-level
// [ScenePoint] a loader produces, the 48-byte [EncodedSplat] a GPU
// consumes, spherical-harmonic coefficient storage, and the locality
// pre-sort applied before a chunk is handed to the renderer.
package splat

import "github.com/go-gl/mathgl/mgl32"

// ColorKind tags the representation carried by a [Color].
type ColorKind uint8

const (
	// ColorSRGB8 stores a gamma-encoded 8-bit-per-channel color with no
	// view-dependent term.
	ColorSRGB8 ColorKind = iota
	// ColorSH stores one or more spherical-harmonic coefficient triplets;
	// the first is the degree-0 (view-independent) term, verbatim.
	ColorSH
)

// Color is the tagged union named in the design notes: either a plain
// sRGB8 base color or a spherical-harmonic coefficient set. SH degree is
// derived from len(SH): 1, 4, 9, or 16 coefficients correspond to degree
// 0-3.
type Color struct {
	Kind  ColorKind
	SRGB8 [3]uint8
	SH    []mgl32.Vec3
}

// NewSRGB8Color builds a view-independent sRGB8 color.
func NewSRGB8Color(r, g, b uint8) Color {
	return Color{Kind: ColorSRGB8, SRGB8: [3]uint8{r, g, b}}
}

// NewSHColor builds a color from raw spherical-harmonic coefficients.
// coeffs[0] is the degree-0 (DC) term; len(coeffs) must be 1, 4, 9, or 16.
func NewSHColor(coeffs []mgl32.Vec3) Color {
	return Color{Kind: ColorSH, SH: coeffs}
}

// Degree returns the spherical-harmonic degree implied by the coefficient
// count, or -1 if the color carries no SH coefficients.
func (c Color) Degree() int {
	switch len(c.SH) {
	case 1:
		return 0
	case 4:
		return 1
	case 9:
		return 2
	case 16:
		return 3
	default:
		return -1
	}
}

// Base0 returns the degree-0 (view-independent) RGB term as linear-space
// floats in [0, 1] (approximately; SH DC terms are not clamped).
func (c Color) Base0() (r, g, b float32) {
	switch c.Kind {
	case ColorSRGB8:
		return SRGBToLinear(float32(c.SRGB8[0]) / 255), SRGBToLinear(float32(c.SRGB8[1]) / 255), SRGBToLinear(float32(c.SRGB8[2]) / 255)
	case ColorSH:
		if len(c.SH) == 0 {
			return 0, 0, 0
		}
		v := c.SH[0]
		return v.X(), v.Y(), v.Z()
	default:
		return 0, 0, 0
	}
}

// OpacityKind tags the representation carried by an [Opacity].
type OpacityKind uint8

const (
	// OpacityLogit stores an un-squashed logit; apply the logistic
	// sigmoid to recover linear opacity.
	OpacityLogit OpacityKind = iota
	// OpacityLinear stores a linear opacity in [0, 1] directly.
	OpacityLinear
	// OpacityLinearU8 stores a linear opacity quantized to a byte.
	OpacityLinearU8
)

// Opacity is the tagged union named in the design notes.
type Opacity struct {
	Kind    OpacityKind
	Logit   float32
	Linear  float32
	LinearU uint8
}

// Resolve converts any Opacity representation to a linear value in [0, 1].
func (o Opacity) Resolve() float32 {
	switch o.Kind {
	case OpacityLogit:
		return sigmoid(o.Logit)
	case OpacityLinear:
		return o.Linear
	case OpacityLinearU8:
		return float32(o.LinearU) / 255
	default:
		return 0
	}
}

// ScaleKind tags the representation carried by a [Scale].
type ScaleKind uint8

const (
	// ScaleExponent stores log-scale values; exponentiate to recover the
	// linear per-axis scale.
	ScaleExponent ScaleKind = iota
	// ScaleLinear stores the linear per-axis scale directly.
	ScaleLinear
)

// Scale is the tagged union named in the design notes.
type Scale struct {
	Kind  ScaleKind
	Value mgl32.Vec3
}

// Resolve converts any Scale representation to a linear per-axis scale.
func (s Scale) Resolve() mgl32.Vec3 {
	switch s.Kind {
	case ScaleExponent:
		return mgl32.Vec3{expf(s.Value.X()), expf(s.Value.Y()), expf(s.Value.Z())}
	case ScaleLinear:
		return s.Value
	default:
		return mgl32.Vec3{}
	}
}

// ScenePoint is the loader-facing description of one Gaussian splat,
// decoupled from any particular wire format. File-format parsers
// (PLY/.splat/SPZ) are external collaborators that produce a stream of
// these; this package only consumes them.
type ScenePoint struct {
	Position mgl32.Vec3
	Color    Color
	Opacity  Opacity
	Scale    Scale
	Rotation mgl32.Quat
}
