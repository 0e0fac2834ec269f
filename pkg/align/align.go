// Package align computes achievable element counts for unrolled kernels.
// The result of Align is always a multiple of lcm(unrolls) * granularity so
// that every unrolled partition is a whole number of vectors (or pages).
package align

import (
	"math"

	"github.com/raymyers/multistride/pkg/skip"
)

// Request describes one size computation.
// StrideUnrolls and PortionUnrolls hold one entry per unroll phase of a kernel;
// a kernel with a single main loop passes one value in each.
type Request struct {
	Size              int     // requested element count
	StrideUnrolls     []int   // stride unroll factor per phase
	PortionUnrolls    []int   // portion unroll factor per phase
	UnalignmentFactor float64 // scales Size before rounding; 0 means 1.0
	Granularity       int     // alignment unit in elements (vector or page)
}

// Single builds a Request for a kernel with one stride and one portion unroll.
func Single(size, strideUnrolls, portionUnrolls, granularity int) Request {
	return Request{
		Size:           size,
		StrideUnrolls:  []int{strideUnrolls},
		PortionUnrolls: []int{portionUnrolls},
		Granularity:    granularity,
	}
}

// Factors returns the flattened unroll factors, strides first.
func (r Request) Factors() []int {
	factors := make([]int, 0, len(r.StrideUnrolls)+len(r.PortionUnrolls))
	factors = append(factors, r.StrideUnrolls...)
	return append(factors, r.PortionUnrolls...)
}

// Align rounds r.Size down to the largest multiple of lcm(factors)*granularity
// that does not exceed floor(Size*UnalignmentFactor).
// A zero result is reported as skip.Unrepresentable.
func Align(r Request) (int, error) {
	if len(r.StrideUnrolls) != len(r.PortionUnrolls) {
		return 0, skip.New(skip.ListLengthMismatch,
			"%d stride unroll configurations but %d portion unroll configurations",
			len(r.StrideUnrolls), len(r.PortionUnrolls))
	}
	if len(r.StrideUnrolls) == 0 {
		return 0, skip.New(skip.Unrepresentable, "no unroll factors given")
	}
	if r.Granularity <= 0 {
		return 0, skip.New(skip.Unrepresentable, "granularity %d is not positive", r.Granularity)
	}
	for _, f := range r.Factors() {
		if f <= 0 {
			return 0, skip.New(skip.Unrepresentable, "unroll factor %d is not positive", f)
		}
	}

	factor := r.UnalignmentFactor
	if factor == 0 {
		factor = 1.0
	}

	l := LCM(r.Factors()...)

	n := int(math.Floor(float64(r.Size) * factor))
	n /= r.Granularity
	n /= l
	n *= l
	n *= r.Granularity

	if n <= 0 {
		return 0, skip.New(skip.Unrepresentable,
			"no size for N=%d with unrolls %v (lcm %d, granularity %d)",
			r.Size, r.Factors(), l, r.Granularity)
	}
	return n, nil
}

// GCD returns the greatest common divisor of a and b.
func GCD(a, b int) int {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// LCM returns the least common multiple of values; LCM() is 1.
func LCM(values ...int) int {
	l := 1
	for _, v := range values {
		if v == 0 {
			return 0
		}
		l = l / GCD(l, v) * v
	}
	if l < 0 {
		return -l
	}
	return l
}

// VectorElements returns how many dtype elements fit in one vector register.
func VectorElements(vectorBits, dtypeBytes int) int {
	if dtypeBytes <= 0 {
		return 0
	}
	return vectorBits / 8 / dtypeBytes
}

// PageElements returns how many dtype elements fit in one page.
func PageElements(pageBytes, dtypeBytes int) int {
	if dtypeBytes <= 0 {
		return 0
	}
	return pageBytes / dtypeBytes
}
