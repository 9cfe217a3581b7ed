package solver

import (
	"math"

	"github.com/fxnlabs/linalg-kernels/internal/blas"
	gblas "gonum.org/v1/gonum/blas"
	lapack "gonum.org/v1/gonum/lapack/gonum"
)

// potrfReal factors a column-major symmetric matrix with gonum's row-major
// Dpotrf. The same memory read row-major is the transpose, so the other
// triangle is requested.
func potrfReal[T float32 | float64](impl lapack.Implementation, uplo blas.Fill, n int, a []T, lda int) int32 {
	size := lda*(n-1) + n
	w := make([]float64, size)
	for i := 0; i < size; i++ {
		w[i] = float64(a[i])
	}
	ul := gblas.Upper
	if uplo == blas.Upper {
		ul = gblas.Lower
	}
	ok := impl.Dpotrf(ul, n, w, lda)
	for i := 0; i < size; i++ {
		a[i] = T(w[i])
	}
	if ok {
		return 0
	}
	// Dpotrf stores the failing pivot in place; all earlier pivots are
	// positive square roots.
	for k := 0; k < n; k++ {
		if d := w[k*lda+k]; !(d > 0) {
			return int32(k + 1)
		}
	}
	return int32(n)
}

// potrfComplex is an unblocked column-major Cholesky factorization.
// Gonum's LAPACK has no complex routines.
func potrfComplex[T complex64 | complex128](uplo blas.Fill, n int, a []T, lda int) int32 {
	size := lda*(n-1) + n
	w := make([]complex128, size)
	for i := 0; i < size; i++ {
		w[i] = complex128(a[i])
	}
	info := int32(0)
	// at returns the index of the element on row r, column c of the
	// factor, which is (r, c) for lower and (c, r) for upper storage.
	at := func(r, c int) int {
		if uplo == blas.Lower {
			return r + c*lda
		}
		return c + r*lda
	}
	for j := 0; j < n; j++ {
		d := real(w[j+j*lda])
		for k := 0; k < j; k++ {
			v := w[at(j, k)]
			d -= real(v)*real(v) + imag(v)*imag(v)
		}
		if !(d > 0) {
			w[j+j*lda] = complex(d, 0)
			info = int32(j + 1)
			break
		}
		ljj := math.Sqrt(d)
		w[j+j*lda] = complex(ljj, 0)
		for i := j + 1; i < n; i++ {
			s := w[at(i, j)]
			if uplo == blas.Upper {
				// The stored upper element is the conjugate of the lower one.
				s = conj(s)
			}
			for k := 0; k < j; k++ {
				s -= lowerAt(w, at, uplo, i, k) * conj(lowerAt(w, at, uplo, j, k))
			}
			s /= complex(ljj, 0)
			if uplo == blas.Upper {
				s = conj(s)
			}
			w[at(i, j)] = s
		}
	}
	for i := 0; i < size; i++ {
		a[i] = T(w[i])
	}
	return info
}

// lowerAt reads element (r, c), r >= c, of the lower factor L where the
// upper storage holds U = L^H.
func lowerAt(w []complex128, at func(r, c int) int, uplo blas.Fill, r, c int) complex128 {
	v := w[at(r, c)]
	if uplo == blas.Upper {
		return conj(v)
	}
	return v
}

func conj(v complex128) complex128 {
	return complex(real(v), -imag(v))
}
