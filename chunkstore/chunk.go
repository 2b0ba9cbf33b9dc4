// Package chunkstore implements the chunk store and access scheduler:
// the set of currently-loaded splat chunks, each with a stable opaque
// id, an enabled flag, and an ephemeral contiguous index, plus the
// exclusive-access/render-slot state machine that arbitrates between
// chunk mutation and frame encoding.
package chunkstore

import (
	"fmt"

	"github.com/gogpu/gsplat/gpubuf"
	"github.com/gogpu/gsplat/splat"
)

// Chunk exclusively owns one encoded-splat array and, for SH degree > 0,
// one parallel half-precision SH-coefficient buffer. A chunk's SH degree
// is immutable once built.
type Chunk struct {
	splats   *gpubuf.Buffer[splat.EncodedSplat]
	sh       *gpubuf.Buffer[splat.SHCoefficient]
	shDegree int
}

// NewChunk encodes points into a new Chunk. shDegree must be 0-3 and
// match the SH coefficient count carried by each point's Color (points
// with fewer coefficients than shDegree requires are padded with zeros;
// points with Kind == ColorSRGB8 contribute no higher-order terms).
func NewChunk(device gpubuf.Device, points []splat.ScenePoint, shDegree int) (*Chunk, error) {
	if shDegree < 0 || shDegree > 3 {
		return nil, fmt.Errorf("chunkstore: invalid SH degree %d", shDegree)
	}

	splats, err := gpubuf.New[splat.EncodedSplat](device, len(points))
	if err != nil {
		return nil, err
	}
	for _, p := range points {
		if err := splats.Append(splat.Encode(p)); err != nil {
			return nil, err
		}
	}

	c := &Chunk{splats: splats, shDegree: shDegree}

	coeffsPerSplat := splat.CoeffsPerDegree(shDegree)
	if coeffsPerSplat > 0 {
		sh, err := gpubuf.New[splat.SHCoefficient](device, len(points)*coeffsPerSplat)
		if err != nil {
			return nil, err
		}
		for _, p := range points {
			for k := 0; k < coeffsPerSplat; k++ {
				var coeff splat.SHCoefficient
				if idx := k + 1; idx < len(p.Color.SH) {
					v := p.Color.SH[idx]
					coeff = splat.EncodeSHCoefficient(v.X(), v.Y(), v.Z())
				}
				if err := sh.Append(coeff); err != nil {
					return nil, err
				}
			}
		}
		c.sh = sh
	}

	return c, nil
}

// SplatCount returns the number of splats owned by this chunk.
func (c *Chunk) SplatCount() int {
	return c.splats.Count()
}

// SHDegree returns the chunk's immutable spherical-harmonic degree.
func (c *Chunk) SHDegree() int {
	return c.shDegree
}

// Splats returns the chunk's encoded-splat buffer.
func (c *Chunk) Splats() *gpubuf.Buffer[splat.EncodedSplat] {
	return c.splats
}

// SH returns the chunk's parallel SH-coefficient buffer, or nil for
// degree-0 chunks.
func (c *Chunk) SH() *gpubuf.Buffer[splat.SHCoefficient] {
	return c.sh
}

// ApplyLocalitySort reorders the chunk's splats (and SH coefficients, if
// any) for cache locality. Returns false if the chunk was too small or
// had zero extent on an axis and was left untouched.
func (c *Chunk) ApplyLocalitySort() bool {
	n := c.splats.Count()
	if n <= 3 {
		return false
	}

	positions := make([]float32, n*3)
	elems := c.splats.Elements()
	for i, e := range elems {
		positions[i*3+0] = e.Position[0]
		positions[i*3+1] = e.Position[1]
		positions[i*3+2] = e.Position[2]
	}

	coeffsPerSplat := splat.CoeffsPerDegree(c.shDegree)
	swap := func(i, j int) {
		raw := c.splats.Elements()
		raw[i], raw[j] = raw[j], raw[i]
		if c.sh == nil || coeffsPerSplat == 0 {
			return
		}
		shRaw := c.sh.Elements()
		base := i * coeffsPerSplat
		other := j * coeffsPerSplat
		for k := 0; k < coeffsPerSplat; k++ {
			shRaw[base+k], shRaw[other+k] = shRaw[other+k], shRaw[base+k]
		}
	}

	return splat.MortonSort(positions, 3, swap)
}
