package splat

// CoeffsPerDegree returns the number of extra RGB triplets (beyond the
// degree-0 base color) carried by a chunk's parallel SH buffer for the
// given degree: degrees 1-3 carry 3, 8, or 15 extra triplets
// respectively. Degree 0 carries none.
func CoeffsPerDegree(degree int) int {
	switch degree {
	case 0:
		return 0
	case 1:
		return 3
	case 2:
		return 8
	case 3:
		return 15
	default:
		return 0
	}
}

// SHCoefficient is one half-precision RGB triplet stored in a chunk's
// parallel spherical-harmonic buffer.
type SHCoefficient struct {
	R, G, B Half
}

// EncodeSHCoefficient converts a linear RGB triplet to its half-precision
// storage form. Unlike the degree-0 base color, higher-order SH
// coefficients are stored verbatim (no sRGB conversion — they are
// signed residuals, not colors).
func EncodeSHCoefficient(r, g, b float32) SHCoefficient {
	return SHCoefficient{R: F32ToHalf(r), G: F32ToHalf(g), B: F32ToHalf(b)}
}

// Decode converts a stored coefficient back to float32.
func (c SHCoefficient) Decode() (r, g, b float32) {
	return HalfToF32(c.R), HalfToF32(c.G), HalfToF32(c.B)
}
