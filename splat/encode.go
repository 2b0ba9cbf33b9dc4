package splat

import "github.com/go-gl/mathgl/mgl32"

// EncodedSplat is the 48-byte GPU-consumed per-splat record. Field order
// and sizes must not change: the layout is observed byte-for-byte by
// GPU-side shader code.
type EncodedSplat struct {
	Position [3]float32 // offset 0, 12 bytes
	_pad0    [4]byte     // offset 12, alignment padding
	Color    [4]Half     // offset 16, r g b a
	CovA     [3]Half     // offset 24, xx xy xz
	CovB     [3]Half     // offset 30, yy yz zz
	_tail    [12]byte    // offset 36, reserved
}

// Covariance holds the six independent entries of a symmetric 3x3
// covariance matrix.
type Covariance struct {
	XX, XY, XZ, YY, YZ, ZZ float32
}

// RotationMatrix builds the 3x3 rotation matrix for a unit quaternion,
// using the standard quaternion-to-matrix formula (not mgl32.Quat.Mat4,
// to avoid carrying a Mat4 when only the 3x3 part is needed).
func RotationMatrix(q mgl32.Quat) (r [3][3]float32) {
	w, x, y, z := q.W, q.V.X(), q.V.Y(), q.V.Z()
	r[0][0] = 1 - 2*(y*y+z*z)
	r[0][1] = 2 * (x*y - w*z)
	r[0][2] = 2 * (x*z + w*y)
	r[1][0] = 2 * (x*y + w*z)
	r[1][1] = 1 - 2*(x*x+z*z)
	r[1][2] = 2 * (y*z - w*x)
	r[2][0] = 2 * (x*z - w*y)
	r[2][1] = 2 * (y*z + w*x)
	r[2][2] = 1 - 2*(x*x+y*y)
	return r
}

// BuildCovariance computes covariance = R * diag(scale) * diag(scale) * Rt,
// returning the six independent upper-triangle entries.
func BuildCovariance(rot mgl32.Quat, scale mgl32.Vec3) Covariance {
	r := RotationMatrix(rot)
	s := [3]float32{scale.X(), scale.Y(), scale.Z()}

	// M = R * diag(s); M[i][j] = R[i][j] * s[j].
	var m [3][3]float32
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i][j] = r[i][j] * s[j]
		}
	}

	// Sigma = M * Mt; Sigma[i][k] = sum_j M[i][j] * M[k][j].
	sigma := func(i, k int) float32 {
		var sum float32
		for j := 0; j < 3; j++ {
			sum += m[i][j] * m[k][j]
		}
		return sum
	}

	return Covariance{
		XX: sigma(0, 0),
		XY: sigma(0, 1),
		XZ: sigma(0, 2),
		YY: sigma(1, 1),
		YZ: sigma(1, 2),
		ZZ: sigma(2, 2),
	}
}

// Encode converts a ScenePoint to its 48-byte GPU record. The base color
// (degree-0 SH / sRGB8) is converted to linear space unless it was
// supplied as raw SH0, which is stored verbatim.
func Encode(p ScenePoint) EncodedSplat {
	r, g, b := p.Color.Base0()
	a := p.Opacity.Resolve()
	cov := BuildCovariance(p.Rotation, p.Scale.Resolve())

	return EncodedSplat{
		Position: [3]float32{p.Position.X(), p.Position.Y(), p.Position.Z()},
		Color:    [4]Half{F32ToHalf(r), F32ToHalf(g), F32ToHalf(b), F32ToHalf(a)},
		CovA:     [3]Half{F32ToHalf(cov.XX), F32ToHalf(cov.XY), F32ToHalf(cov.XZ)},
		CovB:     [3]Half{F32ToHalf(cov.YY), F32ToHalf(cov.YZ), F32ToHalf(cov.ZZ)},
	}
}

// DecodePosition returns the splat's position unchanged.
func (e EncodedSplat) DecodePosition() mgl32.Vec3 {
	return mgl32.Vec3{e.Position[0], e.Position[1], e.Position[2]}
}

// DecodeColor returns the stored color and opacity as linear float32s.
func (e EncodedSplat) DecodeColor() (r, g, b, a float32) {
	return HalfToF32(e.Color[0]), HalfToF32(e.Color[1]), HalfToF32(e.Color[2]), HalfToF32(e.Color[3])
}

// DecodeCovariance returns the stored upper-triangle covariance entries as
// float32.
func (e EncodedSplat) DecodeCovariance() Covariance {
	return Covariance{
		XX: HalfToF32(e.CovA[0]),
		XY: HalfToF32(e.CovA[1]),
		XZ: HalfToF32(e.CovA[2]),
		YY: HalfToF32(e.CovB[0]),
		YZ: HalfToF32(e.CovB[1]),
		ZZ: HalfToF32(e.CovB[2]),
	}
}

// DecodeScale returns the diagonal (xx, yy, zz) of the decoded covariance.
// For an identity rotation this is the per-axis scale², up to
// half-precision rounding; for other rotations the diagonal mixes the
// axes and is not scale².
func (e EncodedSplat) DecodeScale() mgl32.Vec3 {
	cov := e.DecodeCovariance()
	return mgl32.Vec3{cov.XX, cov.YY, cov.ZZ}
}
