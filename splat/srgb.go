package splat

import "github.com/chewxy/math32"

// gammaEncode is the gamma used for the sRGB<->linear approximation: a
// plain 2.2 power curve rather than the piecewise sRGB transfer
// function, matching how MetalSplatter-derived viewers encode color
// into [EncodedSplat].
const gammaEncode = 2.2

// SRGBToLinear converts a gamma-encoded channel value in [0, 1] to linear
// light.
func SRGBToLinear(c float32) float32 {
	if c <= 0 {
		return 0
	}
	return math32.Pow(c, gammaEncode)
}

// LinearToSRGB converts a linear channel value in [0, 1] to gamma-encoded
// space.
func LinearToSRGB(c float32) float32 {
	if c <= 0 {
		return 0
	}
	return math32.Pow(c, 1/gammaEncode)
}

// sigmoid is the logistic function used to resolve [OpacityLogit] values.
func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// expf exponentiates a log-scale value, used to resolve [ScaleExponent]
// values.
func expf(x float32) float32 {
	return math32.Exp(x)
}
