package splat

import "math"

// mortonBits is the per-axis quantization width used by the locality
// pre-sort (10 bits per axis, interleaved into a 30-bit code).
const mortonBits = 10
const mortonMax = (1 << mortonBits) - 1

// boundsExtent is the number of standard deviations on either side of
// the mean used to bound the quantization range.
const boundsExtent = 2.5

// MortonSort reorders positions in place for cache locality. Chunks
// with 3 or fewer splats, or whose positions have zero extent on any
// axis, are left untouched. swap is called to permute any parallel
// per-splat arrays (color buffers, SH coefficients) the caller owns; it
// may be nil.
//
// The permutation is applied in place via cycle-following with a visited
// bitmap: O(n) moves, O(n) bits of auxiliary storage.
func MortonSort(positions []float32, stride int, swap func(i, j int)) bool {
	n := len(positions) / stride
	if n <= 3 {
		return false
	}

	var mean, m2 [3]float64
	for i := 0; i < n; i++ {
		for a := 0; a < 3; a++ {
			v := float64(positions[i*stride+a])
			delta := v - mean[a]
			mean[a] += delta / float64(i+1)
			m2[a] += delta * (v - mean[a])
		}
	}

	var lo, hi [3]float32
	for a := 0; a < 3; a++ {
		sd := math.Sqrt(m2[a] / float64(n))
		lo[a] = float32(mean[a] - boundsExtent*sd)
		hi[a] = float32(mean[a] + boundsExtent*sd)
		if hi[a] <= lo[a] {
			return false
		}
	}

	codes := make([]uint32, n)
	for i := 0; i < n; i++ {
		var q [3]uint32
		for a := 0; a < 3; a++ {
			v := positions[i*stride+a]
			t := (v - lo[a]) / (hi[a] - lo[a])
			if t < 0 {
				t = 0
			} else if t > 1 {
				t = 1
			}
			q[a] = uint32(t * mortonMax)
			if q[a] > mortonMax {
				q[a] = mortonMax
			}
		}
		codes[i] = interleave3(q[0], q[1], q[2])
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	stableSortByCode(order, codes)

	permuteInPlace(order, func(i, j int) {
		swapPositions(positions, stride, i, j)
		if swap != nil {
			swap(i, j)
		}
	})
	return true
}

func swapPositions(positions []float32, stride, i, j int) {
	for a := 0; a < stride; a++ {
		positions[i*stride+a], positions[j*stride+a] = positions[j*stride+a], positions[i*stride+a]
	}
}

// interleave3 bit-interleaves three 10-bit values into a 30-bit Morton
// code, x in the lowest bit of each triple.
func interleave3(x, y, z uint32) uint32 {
	return spread3(x) | (spread3(y) << 1) | (spread3(z) << 2)
}

// spread3 spreads the low 10 bits of v so that each occupies every third
// bit position, per the standard fixed-point Morton spreading trick.
func spread3(v uint32) uint32 {
	v &= 0x3ff
	v = (v | (v << 16)) & 0xff0000ff
	v = (v | (v << 8)) & 0x0300f00f
	v = (v | (v << 4)) & 0x030c30c3
	v = (v | (v << 2)) & 0x09249249
	return v
}

// stableSortByCode stable-sorts order (a permutation of indices) by
// ascending codes[order[i]], resolving ties by keeping the original
// relative order.
func stableSortByCode(order []int, codes []uint32) {
	// Insertion sort would be O(n^2); use a stable merge sort since order
	// can hold 10^7 entries for large chunks.
	n := len(order)
	if n < 2 {
		return
	}
	buf := make([]int, n)
	for width := 1; width < n; width *= 2 {
		for i := 0; i < n; i += 2 * width {
			mid := min(i+width, n)
			end := min(i+2*width, n)
			mergeByCode(order[i:end], buf[i:end], mid-i, codes)
		}
	}
}

func mergeByCode(s []int, buf []int, mid int, codes []uint32) {
	copy(buf, s)
	left, right, k := 0, mid, 0
	for left < mid && right < len(s) {
		if codes[buf[left]] <= codes[buf[right]] {
			s[k] = buf[left]
			left++
		} else {
			s[k] = buf[right]
			right++
		}
		k++
	}
	for left < mid {
		s[k] = buf[left]
		left++
		k++
	}
	for right < len(s) {
		s[k] = buf[right]
		right++
		k++
	}
}

// permuteInPlace applies the permutation described by order (order[i] is
// the source index that should end up at position i) via cycle-following,
// calling swap for each transposition actually performed. Uses a visited
// flag per position so each cycle is followed once, for at most
// len(order)-1 swaps in total.
func permuteInPlace(order []int, swap func(i, j int)) {
	n := len(order)
	visited := make([]bool, n)
	for start := 0; start < n; start++ {
		if visited[start] || order[start] == start {
			visited[start] = true
			continue
		}
		cur := start
		for !visited[cur] {
			visited[cur] = true
			next := order[cur]
			if next == start {
				break
			}
			swap(cur, next)
			cur = next
		}
	}
}
