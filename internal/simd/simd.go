// Package simd holds portable lane-width integer primitives. A lanes value
// models the vector width of an acceleration tier: each lane keeps its own
// accumulator and lanes are summed horizontally at the end.
package simd

// MaxLanes is the widest supported lane count.
const MaxLanes = 32

// Integer is any element type the kernels read.
type Integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32
}

func clampLanes(lanes int) int {
	if lanes < 1 {
		return 1
	}
	if lanes > MaxLanes {
		return MaxLanes
	}
	return lanes
}

// Dot computes sum(a[i]*b[i]) over the shorter of a and b.
func Dot[A, B Integer](a []A, b []B, lanes int) int64 {
	n := min(len(a), len(b))
	lanes = clampLanes(lanes)
	i := 0
	var sum int64
	if lanes == 1 {
		// Unrolled loop for better pipelining
		for ; i <= n-4; i += 4 {
			sum += int64(a[i]) * int64(b[i])
			sum += int64(a[i+1]) * int64(b[i+1])
			sum += int64(a[i+2]) * int64(b[i+2])
			sum += int64(a[i+3]) * int64(b[i+3])
		}
	} else {
		var acc [MaxLanes]int64
		for ; i <= n-lanes; i += lanes {
			for l := 0; l < lanes; l++ {
				acc[l] += int64(a[i+l]) * int64(b[i+l])
			}
		}
		for l := 0; l < lanes; l++ {
			sum += acc[l]
		}
	}
	// Handle remainder
	for ; i < n; i++ {
		sum += int64(a[i]) * int64(b[i])
	}
	return sum
}

// Gather copies column col of a row-major matrix with the given row stride
// into dst. It returns the number of elements written.
func Gather[T Integer](dst []int32, src []T, col, stride int) int {
	n := 0
	for i := col; i < len(src) && n < len(dst); i += stride {
		dst[n] = int32(src[i])
		n++
	}
	return n
}

// MulAdd computes dst[i] = a[i]*b[i] + dst[i] over len(dst).
func MulAdd[A, B Integer](dst []int64, a []A, b []B, lanes int) {
	n := min(len(dst), len(a), len(b))
	lanes = clampLanes(lanes)
	i := 0
	for ; i <= n-lanes; i += lanes {
		for l := 0; l < lanes; l++ {
			dst[i+l] += int64(a[i+l]) * int64(b[i+l])
		}
	}
	for ; i < n; i++ {
		dst[i] += int64(a[i]) * int64(b[i])
	}
}

// WeightedSquaredDistance computes sum((x[i]-m[i])^2 * v[i]).
func WeightedSquaredDistance[X, M, V Integer](x []X, m []M, v []V, lanes int) uint64 {
	n := min(len(x), len(m), len(v))
	lanes = clampLanes(lanes)
	var acc [MaxLanes]uint64
	i := 0
	for ; i <= n-lanes; i += lanes {
		for l := 0; l < lanes; l++ {
			d := int64(x[i+l]) - int64(m[i+l])
			acc[l] += uint64(d*d) * uint64(v[i+l])
		}
	}
	var sum uint64
	for l := 0; l < lanes; l++ {
		sum += acc[l]
	}
	for ; i < n; i++ {
		d := int64(x[i]) - int64(m[i])
		sum += uint64(d*d) * uint64(v[i])
	}
	return sum
}

// Saturate clamps v to [lo, hi] and reports whether it had to.
func Saturate(v, lo, hi int64) (int64, bool) {
	if v < lo {
		return lo, true
	}
	if v > hi {
		return hi, true
	}
	return v, false
}

// Max returns the largest element of a, or 0 for an empty slice.
func Max[T Integer](a []T) T {
	if len(a) == 0 {
		return 0
	}
	m := a[0]
	for _, v := range a[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// Sum returns the sum of a.
func Sum[T Integer](a []T) int64 {
	var sum int64
	i := 0
	for ; i <= len(a)-4; i += 4 {
		sum += int64(a[i]) + int64(a[i+1]) + int64(a[i+2]) + int64(a[i+3])
	}
	for ; i < len(a); i++ {
		sum += int64(a[i])
	}
	return sum
}
