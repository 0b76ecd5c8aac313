package simd

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDot(t *testing.T) {
	a := []int16{1, 2, 3, 4, 5}
	b := []int8{2, 3, 4, 5, 6}
	// 2 + 6 + 12 + 20 + 30 = 70
	for _, lanes := range []int{0, 1, 2, 4, 8, 16, 32, 64} {
		assert.Equal(t, int64(70), Dot(a, b, lanes), "lanes=%d", lanes)
	}
}

func TestDotMismatchedLengths(t *testing.T) {
	a := []int32{1, 1, 1, 1, 1, 1, 1, 1, 1}
	b := []int16{2, 2, 2}
	assert.Equal(t, int64(6), Dot(a, b, 8))
}

func TestDotLarge(t *testing.T) {
	a := make([]int16, 100)
	b := make([]int16, 100)
	var want int64
	for i := range a {
		a[i] = int16(i - 50)
		b[i] = math.MaxInt16
		want += int64(a[i]) * math.MaxInt16
	}
	for _, lanes := range []int{1, 8, 16, 32} {
		assert.Equal(t, want, Dot(a, b, lanes))
	}
}

func TestGather(t *testing.T) {
	// 3 rows x 2 columns, row major
	src := []int16{1, 10, 2, 20, 3, 30}
	dst := make([]int32, 3)
	n := Gather(dst, src, 1, 2)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int32{10, 20, 30}, dst)
}

func TestMulAdd(t *testing.T) {
	dst := []int64{1, 1, 1, 1, 1}
	MulAdd(dst, []int8{1, 2, 3, 4, 5}, []int16{2, 2, 2, 2, 2}, 4)
	assert.Equal(t, []int64{3, 5, 7, 9, 11}, dst)
}

func TestWeightedSquaredDistance(t *testing.T) {
	x := []uint8{10, 20, 30}
	m := []uint8{12, 20, 27}
	v := []uint16{1, 5, 2}
	// 4*1 + 0 + 9*2 = 22
	for _, lanes := range []int{1, 2, 8} {
		assert.Equal(t, uint64(22), WeightedSquaredDistance(x, m, v, lanes))
	}
}

func TestSaturate(t *testing.T) {
	tests := []struct {
		v, want int64
		sat     bool
	}{
		{5, 5, false},
		{-200, math.MinInt8, true},
		{300, math.MaxInt8, true},
	}
	for _, tt := range tests {
		got, sat := Saturate(tt.v, math.MinInt8, math.MaxInt8)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.sat, sat)
	}
}

func TestMaxSum(t *testing.T) {
	assert.Equal(t, int32(9), Max([]int32{-1, 9, 3}))
	assert.Equal(t, int32(0), Max([]int32{}))
	assert.Equal(t, int64(15), Sum([]int16{1, 2, 3, 4, 5}))
}

func BenchmarkDot(b *testing.B) {
	v1 := make([]int16, 1024)
	v2 := make([]int8, 1024)
	for i := range v1 {
		v1[i] = int16(i)
		v2[i] = int8(i)
	}
	for _, lanes := range []int{1, 8, 16} {
		b.Run("lanes", func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				Dot(v1, v2, lanes)
			}
		})
	}
}
