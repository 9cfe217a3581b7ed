package blas

import (
	"math"

	lapack "gonum.org/v1/gonum/lapack/gonum"
)

// getrfReal factors the column-major n×n matrix a with gonum's Dgetrf,
// which works on row-major data, by transposing through a float64 work
// matrix. Pivots are written one-based; the return value is the info code.
func getrfReal[T float32 | float64](impl lapack.Implementation, n int, a []T, lda int, ipiv []int32) int32 {
	w := make([]float64, n*n)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			w[i*n+j] = float64(a[i+j*lda])
		}
	}
	p := make([]int, n)
	ok := impl.Dgetrf(n, n, w, n, p)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			a[i+j*lda] = T(w[i*n+j])
		}
	}
	for i, v := range p {
		ipiv[i] = int32(v + 1)
	}
	if ok {
		return 0
	}
	for k := 0; k < n; k++ {
		if w[k*n+k] == 0 {
			return int32(k + 1)
		}
	}
	return 0
}

// getrfComplex is an unblocked right-looking LU with partial pivoting on a
// column-major complex matrix. Gonum's LAPACK has no complex routines.
func getrfComplex[T complex64 | complex128](n int, a []T, lda int, ipiv []int32) int32 {
	w := make([]complex128, n*n)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			w[i+j*n] = complex128(a[i+j*lda])
		}
	}
	var info int32
	for j := 0; j < n; j++ {
		p, best := j, cabs1(w[j+j*n])
		for i := j + 1; i < n; i++ {
			if v := cabs1(w[i+j*n]); v > best {
				p, best = i, v
			}
		}
		ipiv[j] = int32(p + 1)
		if w[p+j*n] != 0 {
			if p != j {
				for c := 0; c < n; c++ {
					w[j+c*n], w[p+c*n] = w[p+c*n], w[j+c*n]
				}
			}
			inv := 1 / w[j+j*n]
			for i := j + 1; i < n; i++ {
				w[i+j*n] *= inv
			}
		} else if info == 0 {
			info = int32(j + 1)
		}
		for c := j + 1; c < n; c++ {
			f := w[j+c*n]
			if f == 0 {
				continue
			}
			for i := j + 1; i < n; i++ {
				w[i+c*n] -= w[i+j*n] * f
			}
		}
	}
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			a[i+j*lda] = T(w[i+j*n])
		}
	}
	return info
}

func cabs1(v complex128) float64 {
	return math.Abs(real(v)) + math.Abs(imag(v))
}
