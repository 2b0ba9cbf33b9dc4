package gpubuf

import (
	"unsafe"

	"golang.org/x/exp/constraints"
)

// sizeOf reports the in-memory size of v's type. Used only to compare a
// requested capacity against a device's byte budget; it never inspects
// or copies v's contents beyond what unsafe.Sizeof needs.
func sizeOf[T any](v T) uintptr {
	return unsafe.Sizeof(v)
}

// nonNegative floors a capacity value of any integer type to zero,
// letting callers pass a capacity computed as int, int64, or an
// unsigned width without a separate bounds check at each call site.
func nonNegative[N constraints.Integer](n N) int {
	if n < 0 {
		return 0
	}
	return int(n)
}

// byteSize computes count*stride as an int64, accepting any integer
// type for count so capacity arithmetic against a device's byte budget
// isn't pinned to a single width.
func byteSize[N constraints.Integer](count N, stride int64) int64 {
	return int64(count) * stride
}
